package validation

import (
	"strings"
	"time"
)

func ValidateName(name string) bool {
	name = strings.TrimSpace(name)
	return len(name) >= 1 && len(name) <= 200
}

func ValidatePassword(password string) bool {
	return len(password) >= 6 && len(password) <= 100
}

func ValidateCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// ValidateTimeWindow checks a half-open [start, end) booking window. The
// start may sit up to grace in the past to absorb clock skew and slow forms.
func ValidateTimeWindow(start, end, now time.Time, grace time.Duration) bool {
	if !start.Before(end) {
		return false
	}
	return !start.Before(now.Add(-grace))
}

func ValidatePlate(plate string) bool {
	plate = strings.TrimSpace(plate)
	return len(plate) >= 2 && len(plate) <= 20
}
