package routing

import (
	"context"
	"fmt"
	"sync"
)

// RouteComputer is the slice of Client the oracle needs.
type RouteComputer interface {
	ComputeRoute(ctx context.Context, origin, destination LatLng, intermediates []LatLng) (*Route, error)
}

// Oracle fronts the routing provider with a small bounded cache. Polling
// clients re-request the same route every few seconds while a trip status
// stays put, so the key combines both endpoints (rounded to ~11m) and the
// caller's status tag. When the cache is full the oldest entry by insertion
// order is evicted.
type Oracle struct {
	client   RouteComputer
	capacity int

	mu      sync.Mutex
	entries map[string]*Route
	order   []string
}

// NewOracle wraps a client with a cache of the given capacity.
func NewOracle(client RouteComputer, capacity int) *Oracle {
	if capacity <= 0 {
		capacity = 20
	}
	return &Oracle{
		client:   client,
		capacity: capacity,
		entries:  make(map[string]*Route, capacity),
	}
}

// Route returns a cached or freshly computed route. statusTag invalidates
// the cache across trip status changes without any explicit eviction.
func (o *Oracle) Route(ctx context.Context, origin, destination LatLng, intermediates []LatLng, statusTag string) (*Route, error) {
	key := cacheKey(origin, destination, statusTag)

	o.mu.Lock()
	if r, ok := o.entries[key]; ok {
		o.mu.Unlock()
		return r, nil
	}
	o.mu.Unlock()

	r, err := o.client.ComputeRoute(ctx, origin, destination, intermediates)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if _, ok := o.entries[key]; !ok {
		if len(o.order) >= o.capacity {
			oldest := o.order[0]
			o.order = o.order[1:]
			delete(o.entries, oldest)
		}
		o.entries[key] = r
		o.order = append(o.order, key)
	}
	o.mu.Unlock()
	return r, nil
}

// Len reports the number of cached routes.
func (o *Oracle) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

func cacheKey(origin, destination LatLng, statusTag string) string {
	return fmt.Sprintf("%.4f,%.4f|%.4f,%.4f|%s",
		origin.Lat, origin.Lng, destination.Lat, destination.Lng, statusTag)
}
