package events

// LatLng is a coordinate pair used in event payloads.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DispatchRequestedEvent is published to dispatch.requested.
type DispatchRequestedEvent struct {
	DispatchID  string `json:"dispatch_id"`
	RequesterID string `json:"requester_id"`
	Pickup      LatLng `json:"pickup"`
	RequestedAt string `json:"requested_at"`
}

// DispatchAssignedEvent is published to dispatch.assigned.
type DispatchAssignedEvent struct {
	DispatchID   string `json:"dispatch_id"`
	VehicleID    string `json:"vehicle_id"`
	DispatcherID string `json:"dispatcher_id,omitempty"`
}

// TripCompletedEvent is published to trip.completed.
type TripCompletedEvent struct {
	DispatchID      string `json:"dispatch_id"`
	VehicleID       string `json:"vehicle_id"`
	RequesterID     string `json:"requester_id"`
	CompletedAt     string `json:"completed_at"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// ReservationConflictEvent is published to reservation.conflict when the
// detector demotes a reservation.
type ReservationConflictEvent struct {
	ConflictID           string `json:"conflict_id"`
	VehicleID            string `json:"vehicle_id"`
	WinningReservationID string `json:"winning_reservation_id"`
	LosingReservationID  string `json:"losing_reservation_id"`
}
