package dispatch

import "time"

// allowTransition is the dispatch lifecycle as a directed graph. Terminal
// states have no outgoing edges. Walk-up boarding creates a dispatch already
// in accepted, so pending and assigned can be skipped at creation but never
// re-entered.
var allowTransition = map[Status][]Status{
	StatusPending:   {StatusAssigned, StatusCancelled},
	StatusAssigned:  {StatusAccepted, StatusCancelled},
	StatusAccepted:  {StatusEnRoute, StatusCancelled},
	StatusEnRoute:   {StatusArrived, StatusCancelled},
	StatusArrived:   {StatusCompleted, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
}

// driverTransitions are the targets a driver may request on their own trip.
// assign and cancel stay with dispatchers and admins.
var driverTransitions = map[Status]bool{
	StatusAccepted:  true,
	StatusEnRoute:   true,
	StatusArrived:   true,
	StatusCompleted: true,
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, s := range allowTransition[from] {
		if s == to {
			return true
		}
	}
	return false
}

// DriverMayRequest reports whether a driver may request the target state.
func DriverMayRequest(to Status) bool { return driverTransitions[to] }

// Terminal reports whether the status has no outgoing edges.
func Terminal(s Status) bool { return len(allowTransition[s]) == 0 }

// ApplyTransition moves the dispatch to the target state and stamps the
// matching timestamp field, refusing illegal edges with an
// InvalidTransitionError. Timestamps are write-once.
func ApplyTransition(d *Dispatch, to Status, now time.Time) error {
	if !CanTransition(d.Status, to) {
		return &InvalidTransitionError{Current: d.Status, Requested: to}
	}

	d.Status = to
	d.UpdatedAt = now

	switch to {
	case StatusAssigned:
		if d.AssignedAt == nil {
			t := now
			d.AssignedAt = &t
		}
	case StatusAccepted:
		if d.AcceptedAt == nil {
			t := now
			d.AcceptedAt = &t
		}
	case StatusEnRoute:
		if d.EnRouteAt == nil {
			t := now
			d.EnRouteAt = &t
		}
	case StatusArrived:
		if d.ArrivedAt == nil {
			t := now
			d.ArrivedAt = &t
		}
	case StatusCompleted:
		if d.CompletedAt == nil {
			t := now
			d.CompletedAt = &t
		}
	case StatusCancelled:
		if d.CancelledAt == nil {
			t := now
			d.CancelledAt = &t
		}
	}
	return nil
}
