package dispatch

import (
	"context"
	"time"
)

// Store is the persistence boundary for dispatches. WithTx runs fn against a
// transactional view so assignment (status + vehicle + snapshot) commits as
// one unit.
type Store interface {
	WithTx(ctx context.Context, fn func(Store) error) error

	Insert(ctx context.Context, d *Dispatch) error
	Get(ctx context.Context, id string) (*Dispatch, error)
	List(ctx context.Context, status Status, limit, offset int) ([]Dispatch, error)
	Update(ctx context.Context, d *Dispatch) error
	ActiveByVehicle(ctx context.Context, vehicleID string) (*Dispatch, error)
	ActiveByDriver(ctx context.Context, driverID string) (*Dispatch, error)

	InsertSnapshot(ctx context.Context, s *ETASnapshot) error
	Snapshots(ctx context.Context, dispatchID string) ([]ETASnapshot, error)

	VehicleFacts(ctx context.Context, vehicleID string, now time.Time) (*VehicleFacts, error)
	DriverVehicle(ctx context.Context, driverID string) (string, error)
}

// VehicleFacts feeds availability re-checks at assignment time.
type VehicleFacts struct {
	Name            string
	Plate           string
	IsActive        bool
	IsMaintenance   bool
	DriverClockedIn bool
	InTrip          bool
	HasPendingTrip  bool
	ReservedNow     bool
}

// Available reports whether the vehicle can take a new dispatch right now.
// An assigned-but-not-yet-accepted dispatch counts as occupying the vehicle,
// so back-to-back assignments cannot land on the same one. Location staleness
// is deliberately not checked here: it degrades the ETA, not the assignment.
func (f *VehicleFacts) Available() bool {
	return f.IsActive && !f.IsMaintenance && f.DriverClockedIn &&
		!f.InTrip && !f.HasPendingTrip && !f.ReservedNow
}
