package routing

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingComputer struct {
	calls int
	err   error
}

func (c *countingComputer) ComputeRoute(_ context.Context, origin, _ LatLng, _ []LatLng) (*Route, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &Route{DurationSec: c.calls * 100, DistanceMeters: 1000}, nil
}

func TestOracle_CacheHit(t *testing.T) {
	comp := &countingComputer{}
	o := NewOracle(comp, 20)
	ctx := context.Background()

	origin := LatLng{Lat: 35.7000, Lng: 139.7300}
	dest := LatLng{Lat: 35.7100, Lng: 139.7400}

	first, err := o.Route(ctx, origin, dest, nil, "en_route")
	require.NoError(t, err)
	second, err := o.Route(ctx, origin, dest, nil, "en_route")
	require.NoError(t, err)

	assert.Equal(t, 1, comp.calls, "second call must come from cache")
	assert.Equal(t, first.DurationSec, second.DurationSec)
}

func TestOracle_CoordinateRounding(t *testing.T) {
	comp := &countingComputer{}
	o := NewOracle(comp, 20)
	ctx := context.Background()

	dest := LatLng{Lat: 35.7100, Lng: 139.7400}
	_, err := o.Route(ctx, LatLng{Lat: 35.70001, Lng: 139.73001}, dest, nil, "")
	require.NoError(t, err)
	_, err = o.Route(ctx, LatLng{Lat: 35.70004, Lng: 139.73004}, dest, nil, "")
	require.NoError(t, err)

	// Both origins round to the same ~11m cell.
	assert.Equal(t, 1, comp.calls)
}

func TestOracle_StatusTagSeparatesEntries(t *testing.T) {
	comp := &countingComputer{}
	o := NewOracle(comp, 20)
	ctx := context.Background()

	origin := LatLng{Lat: 35.70, Lng: 139.73}
	dest := LatLng{Lat: 35.71, Lng: 139.74}

	_, err := o.Route(ctx, origin, dest, nil, "accepted")
	require.NoError(t, err)
	_, err = o.Route(ctx, origin, dest, nil, "en_route")
	require.NoError(t, err)

	assert.Equal(t, 2, comp.calls, "different status tags are distinct keys")
	assert.Equal(t, 2, o.Len())
}

func TestOracle_EvictsOldestAtCapacity(t *testing.T) {
	comp := &countingComputer{}
	o := NewOracle(comp, 3)
	ctx := context.Background()

	dest := LatLng{Lat: 35.71, Lng: 139.74}
	for i := 0; i < 3; i++ {
		_, err := o.Route(ctx, LatLng{Lat: 35.70 + float64(i)*0.01, Lng: 139.73}, dest, nil, "")
		require.NoError(t, err)
	}
	require.Equal(t, 3, o.Len())

	// A fourth route evicts the first.
	_, err := o.Route(ctx, LatLng{Lat: 35.74, Lng: 139.73}, dest, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 3, o.Len())

	// The evicted route has to be computed again; the third is still cached.
	callsBefore := comp.calls
	_, err = o.Route(ctx, LatLng{Lat: 35.70, Lng: 139.73}, dest, nil, "")
	require.NoError(t, err)
	assert.Equal(t, callsBefore+1, comp.calls)

	_, err = o.Route(ctx, LatLng{Lat: 35.72, Lng: 139.73}, dest, nil, "")
	require.NoError(t, err)
	assert.Equal(t, callsBefore+2, comp.calls, "recent entries survive eviction")
}

func TestOracle_ErrorsAreNotCached(t *testing.T) {
	comp := &countingComputer{err: fmt.Errorf("%w: provider down", ErrRouteUnavailable)}
	o := NewOracle(comp, 20)
	ctx := context.Background()

	origin := LatLng{Lat: 35.70, Lng: 139.73}
	dest := LatLng{Lat: 35.71, Lng: 139.74}

	_, err := o.Route(ctx, origin, dest, nil, "")
	assert.ErrorIs(t, err, ErrRouteUnavailable)
	assert.Equal(t, 0, o.Len())

	// Provider recovers; next call computes fresh.
	comp.err = nil
	r, err := o.Route(ctx, origin, dest, nil, "")
	require.NoError(t, err)
	assert.NotNil(t, r)
	assert.Equal(t, 1, o.Len())
}

func TestOracle_DefaultCapacity(t *testing.T) {
	o := NewOracle(&countingComputer{}, 0)
	assert.Equal(t, 20, o.capacity)
}
