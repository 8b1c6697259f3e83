package vehicles

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const staleAfter = 5 * time.Minute

func TestDerivePrecedence(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-time.Minute)

	tests := []struct {
		name  string
		facts Facts
		want  DerivedStatus
	}{
		{
			// Maintenance wins even mid-trip with a fresh position.
			name:  "maintenance beats everything",
			facts: Facts{IsMaintenance: true, DriverClockedIn: true, InTrip: true, HasPosition: true, PositionAt: fresh},
			want:  StatusMaintenance,
		},
		{
			name:  "no driver clocked in",
			facts: Facts{InTrip: true, HasPosition: true, PositionAt: fresh},
			want:  StatusDriverAbsent,
		},
		{
			name:  "in trip beats reserved",
			facts: Facts{DriverClockedIn: true, InTrip: true, ReservedNow: true, HasPosition: true, PositionAt: fresh},
			want:  StatusInTrip,
		},
		{
			name:  "reserved window covers now",
			facts: Facts{DriverClockedIn: true, ReservedNow: true, HasPosition: true, PositionAt: fresh},
			want:  StatusReserved,
		},
		{
			name:  "never reported a position",
			facts: Facts{DriverClockedIn: true},
			want:  StatusStaleLocation,
		},
		{
			name:  "position older than threshold",
			facts: Facts{DriverClockedIn: true, HasPosition: true, PositionAt: now.Add(-6 * time.Minute)},
			want:  StatusStaleLocation,
		},
		{
			name:  "pending trip queued",
			facts: Facts{DriverClockedIn: true, HasPosition: true, PositionAt: fresh, HasPendingTrip: true},
			want:  StatusWaiting,
		},
		{
			name:  "fully available",
			facts: Facts{DriverClockedIn: true, HasPosition: true, PositionAt: fresh},
			want:  StatusAvailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Derive(tt.facts, now, staleAfter))
		})
	}
}

func TestDeriveStaleBoundary(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Exactly at the threshold is still fresh; one second past is stale.
	atLimit := Facts{DriverClockedIn: true, HasPosition: true, PositionAt: now.Add(-staleAfter)}
	assert.Equal(t, StatusAvailable, Derive(atLimit, now, staleAfter))

	past := Facts{DriverClockedIn: true, HasPosition: true, PositionAt: now.Add(-staleAfter - time.Second)}
	assert.Equal(t, StatusStaleLocation, Derive(past, now, staleAfter))
}
