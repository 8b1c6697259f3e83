package dispatch

import (
	"errors"
	"fmt"
	"time"
)

// Status enumerates dispatch lifecycle states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAssigned  Status = "assigned"
	StatusAccepted  Status = "accepted"
	StatusEnRoute   Status = "en_route"
	StatusArrived   Status = "arrived"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var (
	ErrNotFound            = errors.New("dispatch not found")
	ErrVehicleNotFound     = errors.New("vehicle not found")
	ErrVehicleNotAvailable = errors.New("vehicle is not available")
	ErrNotPending          = errors.New("dispatch is not in pending status")
	ErrReasonRequired      = errors.New("cancel reason is required")
	ErrNotYourTrip         = errors.New("trip is not assigned to your vehicle")
	ErrBusy                = errors.New("vehicle is busy, retry")
	ErrMissingPickup       = errors.New("pickup coordinates are required")
)

// InvalidTransitionError reports a state machine violation. Both sides are
// included so the caller sees exactly what was refused.
type InvalidTransitionError struct {
	Current   Status
	Requested Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid dispatch transition: %s -> %s", e.Current, e.Requested)
}

// Dispatch is an on-demand, non-scheduled trip. VehicleID stays nil until
// assignment; ownership of the vehicle is transient and released on
// completion or cancellation.
type Dispatch struct {
	ID                   string     `json:"id"`
	VehicleID            *string    `json:"vehicle_id,omitempty"`
	RequesterID          string     `json:"requester_id"`
	DispatcherID         *string    `json:"dispatcher_id,omitempty"`
	Purpose              string     `json:"purpose"`
	PassengerName        *string    `json:"passenger_name,omitempty"`
	PassengerCount       int        `json:"passenger_count"`
	Notes                *string    `json:"notes,omitempty"`
	PickupAddress        string     `json:"pickup_address"`
	PickupLat            *float64   `json:"pickup_lat,omitempty"`
	PickupLng            *float64   `json:"pickup_lng,omitempty"`
	DropoffAddress       *string    `json:"dropoff_address,omitempty"`
	DropoffLat           *float64   `json:"dropoff_lat,omitempty"`
	DropoffLng           *float64   `json:"dropoff_lng,omitempty"`
	Status               Status     `json:"status"`
	EstimatedDurationSec *int       `json:"estimated_duration_sec,omitempty"`
	EstimatedDistanceM   *int       `json:"estimated_distance_m,omitempty"`
	EstimatedEndAt       *time.Time `json:"estimated_end_at,omitempty"`
	AssignedAt           *time.Time `json:"assigned_at,omitempty"`
	AcceptedAt           *time.Time `json:"accepted_at,omitempty"`
	EnRouteAt            *time.Time `json:"en_route_at,omitempty"`
	ArrivedAt            *time.Time `json:"arrived_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	CancelledAt          *time.Time `json:"cancelled_at,omitempty"`
	CancelReason         *string    `json:"cancel_reason,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// ETASnapshot records the estimate shown at assignment time, kept for later
// comparison against the actual trip.
type ETASnapshot struct {
	ID           string    `json:"id"`
	DispatchID   string    `json:"dispatch_id"`
	VehicleID    string    `json:"vehicle_id"`
	DurationSec  int       `json:"duration_sec"`
	DistanceM    int       `json:"distance_m"`
	CalculatedAt time.Time `json:"calculated_at"`
}

// VehicleETA is one row of a calculate-eta response, sorted by duration.
type VehicleETA struct {
	VehicleID   string  `json:"vehicle_id"`
	VehicleName string  `json:"vehicle_name"`
	Plate       string  `json:"plate"`
	Status      string  `json:"status"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	DistanceM   int     `json:"distance_m"`
	DurationSec int     `json:"duration_sec"`
	IsAvailable bool    `json:"is_available"`
	Degraded    bool    `json:"degraded,omitempty"`
}

// CreateRequest is the body for POST /dispatches.
type CreateRequest struct {
	Purpose        string   `json:"purpose"`
	PassengerName  *string  `json:"passenger_name,omitempty"`
	PassengerCount int      `json:"passenger_count"`
	Notes          *string  `json:"notes,omitempty"`
	PickupAddress  string   `json:"pickup_address"`
	PickupLat      *float64 `json:"pickup_lat,omitempty"`
	PickupLng      *float64 `json:"pickup_lng,omitempty"`
	DropoffAddress *string  `json:"dropoff_address,omitempty"`
	DropoffLat     *float64 `json:"dropoff_lat,omitempty"`
	DropoffLng     *float64 `json:"dropoff_lng,omitempty"`
}

// QuickBoardRequest is a dispatcher-side walk-up boarding: the passenger is
// already in the vehicle, so the dispatch enters the lifecycle at accepted.
type QuickBoardRequest struct {
	VehicleID        string  `json:"vehicle_id"`
	Purpose          string  `json:"purpose"`
	PassengerName    string  `json:"passenger_name"`
	PassengerCount   int     `json:"passenger_count"`
	Notes            *string `json:"notes,omitempty"`
	EstimatedMinutes int     `json:"estimated_minutes"`
}

// BoardRequest is the driver-side walk-up variant.
type BoardRequest struct {
	Purpose          string `json:"purpose"`
	PassengerCount   int    `json:"passenger_count"`
	EstimatedMinutes int    `json:"estimated_minutes"`
}
