package reservations

import (
	"errors"
	"time"
)

// Status enumerates reservation lifecycle states.
type Status string

const (
	StatusConfirmed       Status = "confirmed"
	StatusPendingConflict Status = "pending_conflict"
	StatusPendingDriver   Status = "pending_driver"
	StatusDriverDeclined  Status = "driver_declined"
	StatusCancelled       Status = "cancelled"
	StatusCompleted       Status = "completed"
)

// ConflictStatus enumerates conflict record states. Everything except
// pending is terminal.
type ConflictStatus string

const (
	ConflictPending           ConflictStatus = "pending"
	ConflictResolvedReassign  ConflictStatus = "resolved_reassign"
	ConflictResolvedChanged   ConflictStatus = "resolved_changed"
	ConflictResolvedCancelled ConflictStatus = "resolved_cancelled"
	ConflictForceAssigned     ConflictStatus = "force_assigned"
)

var (
	ErrInvalidTimeWindow       = errors.New("end_time must be after start_time")
	ErrStartInPast             = errors.New("start_time is in the past")
	ErrNotFound                = errors.New("reservation not found")
	ErrConflictNotFound        = errors.New("conflict not found")
	ErrConflictAlreadyResolved = errors.New("conflict is already resolved")
	ErrNoVehicleAvailable      = errors.New("no vehicles available for this time slot")
	ErrBusy                    = errors.New("vehicle schedule is busy, retry")
	ErrReasonRequired          = errors.New("reason is required")
	ErrNotPendingDriver        = errors.New("reservation is not pending driver acceptance")
	ErrNotYourVehicle          = errors.New("reservation is not assigned to your vehicle")
)

// Reservation is a scheduled, time-boxed claim on a vehicle. The window is
// half-open: [StartTime, EndTime). PriorityLevel is snapshotted from the
// requester at creation and never changes afterwards.
type Reservation struct {
	ID                 string    `json:"id"`
	VehicleID          string    `json:"vehicle_id"`
	RequesterID        string    `json:"requester_id"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	Purpose            string    `json:"purpose"`
	Destinations       []string  `json:"destinations,omitempty"`
	Notes              *string   `json:"notes,omitempty"`
	PassengerName      *string   `json:"passenger_name,omitempty"`
	PickupAddress      *string   `json:"pickup_address,omitempty"`
	PickupLat          *float64  `json:"pickup_lat,omitempty"`
	PickupLng          *float64  `json:"pickup_lng,omitempty"`
	PriorityLevel      int       `json:"priority_level"`
	Status             Status    `json:"status"`
	CancelReason       *string   `json:"cancel_reason,omitempty"`
	CancelledBy        *string   `json:"cancelled_by,omitempty"`
	DeclinedVehicleIDs []string  `json:"declined_vehicle_ids,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Overlaps reports whether the reservation's half-open window intersects
// [start, end).
func (r *Reservation) Overlaps(start, end time.Time) bool {
	return r.StartTime.Before(end) && start.Before(r.EndTime)
}

// Conflict is a pairwise overlap between two reservations on the same
// vehicle. Resolved conflicts are immutable.
type Conflict struct {
	ID                   string         `json:"id"`
	WinningReservationID string         `json:"winning_reservation_id"`
	LosingReservationID  string         `json:"losing_reservation_id"`
	Status               ConflictStatus `json:"status"`
	ResolvedBy           *string        `json:"resolved_by,omitempty"`
	ResolutionReason     *string        `json:"resolution_reason,omitempty"`
	ResolvedAt           *time.Time     `json:"resolved_at,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
}

// Resolved reports whether the conflict reached a terminal status.
func (c *Conflict) Resolved() bool { return c.Status != ConflictPending }

// AdmitRequest is the input to reservation admission.
type AdmitRequest struct {
	VehicleID     string    `json:"vehicle_id"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Purpose       string    `json:"purpose"`
	Destinations  []string  `json:"destinations,omitempty"`
	Notes         *string   `json:"notes,omitempty"`
	PassengerName *string   `json:"passenger_name,omitempty"`
	PickupAddress *string   `json:"pickup_address,omitempty"`
	PickupLat     *float64  `json:"pickup_lat,omitempty"`
	PickupLng     *float64  `json:"pickup_lng,omitempty"`
}

// ListFilter narrows reservation listings.
type ListFilter struct {
	VehicleID string
	From      time.Time
	To        time.Time
	Status    Status
	Limit     int
	Offset    int
}
