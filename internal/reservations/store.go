package reservations

import (
	"context"
	"time"
)

// Store is the persistence boundary for reservations and their conflicts.
// WithTx runs fn against a transactional view of the store: either every
// write inside fn commits, or none do. The engine composes multi-row status
// changes (new reservation + demoted losers + conflict rows) inside one
// WithTx call.
type Store interface {
	WithTx(ctx context.Context, fn func(Store) error) error

	Insert(ctx context.Context, r *Reservation) error
	Get(ctx context.Context, id string) (*Reservation, error)
	List(ctx context.Context, f ListFilter) ([]Reservation, error)
	FindConfirmedOverlapping(ctx context.Context, vehicleID string, start, end time.Time, excludeID string) ([]Reservation, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	UpdateVehicle(ctx context.Context, id, vehicleID string) error
	UpdateWindow(ctx context.Context, id string, start, end time.Time) error
	UpdateDetails(ctx context.Context, r *Reservation) error
	Cancel(ctx context.Context, id, cancelledBy, reason string) error
	AddDeclinedVehicle(ctx context.Context, id, vehicleID string) error
	FindVehicleForSlot(ctx context.Context, start, end time.Time, exclude []string) (string, error)
	FindPendingForVehicle(ctx context.Context, vehicleID string) ([]Reservation, error)
	CompleteExpired(ctx context.Context, now time.Time) (int64, error)

	InsertConflict(ctx context.Context, c *Conflict) error
	GetConflict(ctx context.Context, id string) (*Conflict, error)
	ListPendingConflicts(ctx context.Context) ([]Conflict, error)
	ResolveConflict(ctx context.Context, id, resolvedBy, reason string, status ConflictStatus) error
}
