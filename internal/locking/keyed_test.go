package locking

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyed_TryLock(t *testing.T) {
	k := NewKeyed()

	assert.True(t, k.TryLock("v1"))
	assert.False(t, k.TryLock("v1"), "held lock must not be re-acquired")

	k.Unlock("v1")
	assert.True(t, k.TryLock("v1"))
	k.Unlock("v1")
}

func TestKeyed_KeysAreIndependent(t *testing.T) {
	k := NewKeyed()

	assert.True(t, k.TryLock("v1"))
	assert.True(t, k.TryLock("v2"), "other keys stay free")
	k.Unlock("v1")
	k.Unlock("v2")
}

func TestKeyed_SerializesSameKey(t *testing.T) {
	k := NewKeyed()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k.Lock("v1")
			counter++
			k.Unlock("v1")
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}
