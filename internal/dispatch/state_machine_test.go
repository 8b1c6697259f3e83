package dispatch

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionHappyPath(t *testing.T) {
	steps := []Status{StatusAssigned, StatusAccepted, StatusEnRoute, StatusArrived, StatusCompleted}
	from := StatusPending
	for _, to := range steps {
		assert.True(t, CanTransition(from, to), "%s -> %s", from, to)
		from = to
	}
}

func TestCanTransitionCancelFromAnyNonTerminal(t *testing.T) {
	for _, from := range []Status{StatusPending, StatusAssigned, StatusAccepted, StatusEnRoute, StatusArrived} {
		assert.True(t, CanTransition(from, StatusCancelled), "cancel from %s", from)
	}
	assert.False(t, CanTransition(StatusCompleted, StatusCancelled))
	assert.False(t, CanTransition(StatusCancelled, StatusCancelled))
}

func TestCanTransitionRejectsSkipsAndReversals(t *testing.T) {
	// No skipping ahead.
	assert.False(t, CanTransition(StatusPending, StatusAccepted))
	assert.False(t, CanTransition(StatusAssigned, StatusEnRoute))
	assert.False(t, CanTransition(StatusAccepted, StatusArrived))
	// En-route is only reachable through accepted.
	assert.False(t, CanTransition(StatusPending, StatusEnRoute))
	assert.False(t, CanTransition(StatusArrived, StatusEnRoute))
	// No going backwards.
	assert.False(t, CanTransition(StatusAccepted, StatusAssigned))
	assert.False(t, CanTransition(StatusCompleted, StatusArrived))
}

func TestTerminal(t *testing.T) {
	assert.True(t, Terminal(StatusCompleted))
	assert.True(t, Terminal(StatusCancelled))
	assert.False(t, Terminal(StatusPending))
	assert.False(t, Terminal(StatusArrived))
}

func TestDriverMayRequest(t *testing.T) {
	assert.True(t, DriverMayRequest(StatusAccepted))
	assert.True(t, DriverMayRequest(StatusEnRoute))
	assert.True(t, DriverMayRequest(StatusArrived))
	assert.True(t, DriverMayRequest(StatusCompleted))
	// Assignment and cancellation stay with dispatch staff.
	assert.False(t, DriverMayRequest(StatusAssigned))
	assert.False(t, DriverMayRequest(StatusCancelled))
}

func TestApplyTransitionStampsTimestamps(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	d := &Dispatch{Status: StatusPending}

	require.NoError(t, ApplyTransition(d, StatusAssigned, now))
	require.NotNil(t, d.AssignedAt)
	assert.True(t, d.AssignedAt.Equal(now))

	later := now.Add(5 * time.Minute)
	require.NoError(t, ApplyTransition(d, StatusAccepted, later))
	require.NotNil(t, d.AcceptedAt)
	assert.True(t, d.AcceptedAt.Equal(later))
	assert.Nil(t, d.EnRouteAt)
	assert.True(t, d.UpdatedAt.Equal(later))
}

func TestApplyTransitionTimestampsWriteOnce(t *testing.T) {
	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	d := &Dispatch{Status: StatusAssigned, AcceptedAt: &first}

	require.NoError(t, ApplyTransition(d, StatusAccepted, first.Add(time.Hour)))
	assert.True(t, d.AcceptedAt.Equal(first), "existing stamp must not be overwritten")
}

func TestApplyTransitionRejectsIllegalEdge(t *testing.T) {
	d := &Dispatch{Status: StatusPending}
	err := ApplyTransition(d, StatusEnRoute, time.Now())

	var ite *InvalidTransitionError
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, StatusPending, ite.Current)
	assert.Equal(t, StatusEnRoute, ite.Requested)
	// Failed transition leaves the dispatch untouched.
	assert.Equal(t, StatusPending, d.Status)
	assert.Nil(t, d.EnRouteAt)
}
