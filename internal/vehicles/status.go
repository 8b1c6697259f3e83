package vehicles

import "time"

// Facts are the inputs to status derivation, gathered by the service from
// the vehicle row, the attendance table, active dispatches, reservations and
// the position cache.
type Facts struct {
	IsMaintenance   bool
	DriverClockedIn bool
	InTrip          bool
	ReservedNow     bool
	HasPosition     bool
	PositionAt      time.Time
	HasPendingTrip  bool
}

// Derive computes the vehicle's status from facts. Checks run in strict
// precedence order; the first match wins, so a vehicle in maintenance shows
// maintenance even while mid-trip.
func Derive(f Facts, now time.Time, staleAfter time.Duration) DerivedStatus {
	switch {
	case f.IsMaintenance:
		return StatusMaintenance
	case !f.DriverClockedIn:
		return StatusDriverAbsent
	case f.InTrip:
		return StatusInTrip
	case f.ReservedNow:
		return StatusReserved
	case !f.HasPosition || now.Sub(f.PositionAt) > staleAfter:
		return StatusStaleLocation
	case f.HasPendingTrip:
		return StatusWaiting
	default:
		return StatusAvailable
	}
}
