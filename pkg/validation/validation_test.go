package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateName(t *testing.T) {
	assert.True(t, ValidateName("Shuttle 7"))
	assert.False(t, ValidateName(""))
	assert.False(t, ValidateName("   "))
	assert.False(t, ValidateName(strings.Repeat("x", 201)))
}

func TestValidatePassword(t *testing.T) {
	assert.True(t, ValidatePassword("secret1"))
	assert.False(t, ValidatePassword("short"))
	assert.False(t, ValidatePassword(strings.Repeat("x", 101)))
}

func TestValidateCoordinates(t *testing.T) {
	assert.True(t, ValidateCoordinates(35.7, 139.73))
	assert.True(t, ValidateCoordinates(-90, 180))
	assert.False(t, ValidateCoordinates(90.1, 0))
	assert.False(t, ValidateCoordinates(0, -180.1))
}

func TestValidateTimeWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	grace := 5 * time.Minute

	assert.True(t, ValidateTimeWindow(now.Add(time.Hour), now.Add(2*time.Hour), now, grace))
	// Within the grace period counts as "now".
	assert.True(t, ValidateTimeWindow(now.Add(-4*time.Minute), now.Add(time.Hour), now, grace))
	assert.False(t, ValidateTimeWindow(now.Add(-6*time.Minute), now.Add(time.Hour), now, grace))
	// Zero-length and inverted windows.
	assert.False(t, ValidateTimeWindow(now, now, now, grace))
	assert.False(t, ValidateTimeWindow(now.Add(time.Hour), now, now, grace))
}

func TestValidatePlate(t *testing.T) {
	assert.True(t, ValidatePlate("ABC-1234"))
	assert.False(t, ValidatePlate("A"))
	assert.False(t, ValidatePlate(strings.Repeat("X", 21)))
}
