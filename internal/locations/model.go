package locations

import (
	"errors"
	"time"
)

var (
	ErrNoPoints     = errors.New("at least one location point is required")
	ErrBadCoords    = errors.New("invalid coordinates")
	ErrNotYourRig   = errors.New("vehicle is not assigned to you")
	ErrNeverTracked = errors.New("vehicle has never reported a position")
)

// Point is one GPS fix from a vehicle's tracker or driver app.
type Point struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Heading    float64   `json:"heading"`
	Speed      float64   `json:"speed"`
	Accuracy   float64   `json:"accuracy"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ReportRequest is a batched upload: mobile clients buffer fixes while
// offline and flush them in order.
type ReportRequest struct {
	VehicleID string  `json:"vehicle_id"`
	Points    []Point `json:"points"`
}

// HistoryEntry is a stored fix, used for trip playback.
type HistoryEntry struct {
	VehicleID  string    `json:"vehicle_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Heading    float64   `json:"heading"`
	Speed      float64   `json:"speed"`
	Accuracy   float64   `json:"accuracy"`
	RecordedAt time.Time `json:"recorded_at"`
}
