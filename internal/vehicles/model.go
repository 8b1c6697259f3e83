package vehicles

import (
	"errors"
	"time"
)

// DerivedStatus is never stored: it is computed from vehicle facts at read
// time, so a vehicle's status can change without any write to the vehicle row.
type DerivedStatus string

const (
	StatusMaintenance   DerivedStatus = "maintenance"
	StatusDriverAbsent  DerivedStatus = "driver_absent"
	StatusInTrip        DerivedStatus = "in_trip"
	StatusReserved      DerivedStatus = "reserved"
	StatusStaleLocation DerivedStatus = "stale_location"
	StatusWaiting       DerivedStatus = "waiting"
	StatusAvailable     DerivedStatus = "available"
)

var (
	ErrNotFound     = errors.New("vehicle not found")
	ErrPlateExists  = errors.New("license plate already registered")
	ErrInvalidName  = errors.New("name must be 1-200 characters")
	ErrInvalidPlate = errors.New("license plate must be 2-20 characters")
)

// Vehicle is a fleet unit. DriverID links the regular driver account;
// IsActive=false soft-disables the vehicle without deleting its history.
type Vehicle struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	LicensePlate  string    `json:"license_plate"`
	Model         string    `json:"model"`
	Capacity      int       `json:"capacity"`
	DriverID      *string   `json:"driver_id,omitempty"`
	IsActive      bool      `json:"is_active"`
	IsMaintenance bool      `json:"is_maintenance"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// VehicleView is a vehicle with its derived status and last known position.
type VehicleView struct {
	Vehicle
	Status     DerivedStatus `json:"status"`
	Lat        *float64      `json:"lat,omitempty"`
	Lng        *float64      `json:"lng,omitempty"`
	Heading    *float64      `json:"heading,omitempty"`
	Speed      *float64      `json:"speed,omitempty"`
	LocationAt *time.Time    `json:"location_at,omitempty"`
}

// CreateRequest is the body for POST /vehicles.
type CreateRequest struct {
	Name         string  `json:"name"`
	LicensePlate string  `json:"license_plate"`
	Model        string  `json:"model"`
	Capacity     int     `json:"capacity"`
	DriverID     *string `json:"driver_id,omitempty"`
}

// UpdateRequest is the body for PATCH /vehicles/:id. Nil fields are left
// unchanged.
type UpdateRequest struct {
	Name     *string `json:"name,omitempty"`
	Model    *string `json:"model,omitempty"`
	Capacity *int    `json:"capacity,omitempty"`
	DriverID *string `json:"driver_id,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// Attendance is a driver's clock-in record for a working day.
type Attendance struct {
	ID         string     `json:"id"`
	DriverID   string     `json:"driver_id"`
	VehicleID  string     `json:"vehicle_id"`
	ClockInAt  time.Time  `json:"clock_in_at"`
	ClockOutAt *time.Time `json:"clock_out_at,omitempty"`
}
