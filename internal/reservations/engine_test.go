package reservations

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch-service/internal/locking"
)

// memStore is an in-memory Store for engine tests. WithTx is not actually
// transactional; engine tests only exercise commit paths.
type memStore struct {
	mu        sync.Mutex
	res       map[string]*Reservation
	conflicts map[string]*Conflict
	vehicles  []string
}

func newMemStore(vehicleIDs ...string) *memStore {
	return &memStore{
		res:       make(map[string]*Reservation),
		conflicts: make(map[string]*Conflict),
		vehicles:  vehicleIDs,
	}
}

func (m *memStore) WithTx(ctx context.Context, fn func(Store) error) error { return fn(m) }

func (m *memStore) Insert(_ context.Context, r *Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.res[r.ID] = &cp
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.res[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) List(_ context.Context, f ListFilter) ([]Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reservation
	for _, r := range m.res {
		if f.VehicleID != "" && r.VehicleID != f.VehicleID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *memStore) FindConfirmedOverlapping(_ context.Context, vehicleID string, start, end time.Time, excludeID string) ([]Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reservation
	for _, r := range m.res {
		if r.VehicleID != vehicleID || r.Status != StatusConfirmed || r.ID == excludeID {
			continue
		}
		if r.Overlaps(start, end) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *memStore) UpdateStatus(_ context.Context, id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.res[id]; ok {
		r.Status = status
	}
	return nil
}

func (m *memStore) UpdateVehicle(_ context.Context, id, vehicleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.res[id]; ok {
		r.VehicleID = vehicleID
	}
	return nil
}

func (m *memStore) UpdateWindow(_ context.Context, id string, start, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.res[id]; ok {
		r.StartTime, r.EndTime = start, end
	}
	return nil
}

func (m *memStore) UpdateDetails(_ context.Context, r *Reservation) error { return nil }

func (m *memStore) Cancel(_ context.Context, id, cancelledBy, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.res[id]; ok {
		r.Status = StatusCancelled
		r.CancelledBy = &cancelledBy
		r.CancelReason = &reason
	}
	return nil
}

func (m *memStore) AddDeclinedVehicle(_ context.Context, id, vehicleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.res[id]; ok {
		r.DeclinedVehicleIDs = append(r.DeclinedVehicleIDs, vehicleID)
	}
	return nil
}

func (m *memStore) FindVehicleForSlot(_ context.Context, start, end time.Time, exclude []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	for _, v := range m.vehicles {
		if skip[v] {
			continue
		}
		free := true
		for _, r := range m.res {
			if r.VehicleID == v && r.Status == StatusConfirmed && r.Overlaps(start, end) {
				free = false
				break
			}
		}
		if free {
			return v, nil
		}
	}
	return "", nil
}

func (m *memStore) FindPendingForVehicle(_ context.Context, vehicleID string) ([]Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reservation
	for _, r := range m.res {
		if r.VehicleID == vehicleID && r.Status == StatusPendingDriver {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) CompleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.res {
		if r.Status == StatusConfirmed && !r.EndTime.After(now) {
			r.Status = StatusCompleted
			n++
		}
	}
	return n, nil
}

func (m *memStore) InsertConflict(_ context.Context, c *Conflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.conflicts[c.ID] = &cp
	return nil
}

func (m *memStore) GetConflict(_ context.Context, id string) (*Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conflicts[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) ListPendingConflicts(_ context.Context) ([]Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Conflict
	for _, c := range m.conflicts {
		if c.Status == ConflictPending {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) ResolveConflict(_ context.Context, id, resolvedBy, reason string, status ConflictStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conflicts[id]
	if !ok || c.Status != ConflictPending {
		return nil
	}
	now := time.Now()
	c.Status = status
	c.ResolvedBy = &resolvedBy
	c.ResolutionReason = &reason
	c.ResolvedAt = &now
	return nil
}

func testEngine(store Store) *Engine {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewEngine(store, locking.NewKeyed(), nil, log, 5*time.Minute, 3)
}

func window(baseHours, lenHours int) (time.Time, time.Time) {
	start := time.Now().Add(time.Duration(baseHours) * time.Hour).Truncate(time.Second)
	return start, start.Add(time.Duration(lenHours) * time.Hour)
}

func TestAdmitNoOverlap(t *testing.T) {
	store := newMemStore("v1")
	e := testEngine(store)

	start, end := window(1, 2)
	res, conflicts, err := e.Admit(context.Background(), AdmitRequest{
		VehicleID: "v1", StartTime: start, EndTime: end, Purpose: "airport run",
	}, "u1", 1)

	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, res.Status)
	assert.Empty(t, conflicts)
}

func TestAdmitRejectsBadWindow(t *testing.T) {
	e := testEngine(newMemStore("v1"))
	start, _ := window(1, 2)

	_, _, err := e.Admit(context.Background(), AdmitRequest{
		VehicleID: "v1", StartTime: start, EndTime: start,
	}, "u1", 1)
	assert.ErrorIs(t, err, ErrInvalidTimeWindow)

	_, _, err = e.Admit(context.Background(), AdmitRequest{
		VehicleID: "v1", StartTime: start.Add(-24 * time.Hour), EndTime: start,
	}, "u1", 1)
	assert.ErrorIs(t, err, ErrStartInPast)
}

// Lower-priority newcomer overlapping a confirmed reservation enters
// pending_conflict; the holder stays confirmed.
func TestAdmitLowerPriorityLoses(t *testing.T) {
	store := newMemStore("v1")
	e := testEngine(store)
	ctx := context.Background()

	start, end := window(1, 2)
	holder, _, err := e.Admit(ctx, AdmitRequest{VehicleID: "v1", StartTime: start, EndTime: end}, "u1", 3)
	require.NoError(t, err)

	newcomer, conflicts, err := e.Admit(ctx, AdmitRequest{
		VehicleID: "v1", StartTime: start.Add(30 * time.Minute), EndTime: end.Add(30 * time.Minute),
	}, "u2", 1)
	require.NoError(t, err)

	assert.Equal(t, StatusPendingConflict, newcomer.Status)
	require.Len(t, conflicts, 1)
	assert.Equal(t, holder.ID, conflicts[0].WinningReservationID)
	assert.Equal(t, newcomer.ID, conflicts[0].LosingReservationID)

	stored, err := e.Get(ctx, holder.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, stored.Status)
}

// Higher-priority newcomer demotes the confirmed holder.
func TestAdmitHigherPriorityWins(t *testing.T) {
	store := newMemStore("v1")
	e := testEngine(store)
	ctx := context.Background()

	start, end := window(1, 2)
	holder, _, err := e.Admit(ctx, AdmitRequest{VehicleID: "v1", StartTime: start, EndTime: end}, "u1", 1)
	require.NoError(t, err)

	newcomer, conflicts, err := e.Admit(ctx, AdmitRequest{
		VehicleID: "v1", StartTime: start, EndTime: end,
	}, "u2", 5)
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, newcomer.Status)
	require.Len(t, conflicts, 1)
	assert.Equal(t, newcomer.ID, conflicts[0].WinningReservationID)
	assert.Equal(t, holder.ID, conflicts[0].LosingReservationID)

	demoted, err := e.Get(ctx, holder.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingConflict, demoted.Status)
}

// Equal priority ties break toward the earlier creation.
func TestAdmitEqualPriorityFirstComerWins(t *testing.T) {
	store := newMemStore("v1")
	e := testEngine(store)
	base := time.Now()
	calls := 0
	e.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}
	ctx := context.Background()

	start := base.Add(time.Hour)
	end := start.Add(2 * time.Hour)
	first, _, err := e.Admit(ctx, AdmitRequest{VehicleID: "v1", StartTime: start, EndTime: end}, "u1", 2)
	require.NoError(t, err)

	second, conflicts, err := e.Admit(ctx, AdmitRequest{VehicleID: "v1", StartTime: start, EndTime: end}, "u2", 2)
	require.NoError(t, err)

	assert.Equal(t, StatusPendingConflict, second.Status)
	require.Len(t, conflicts, 1)
	assert.Equal(t, first.ID, conflicts[0].WinningReservationID)
}

// A newcomer straddling two holders from different priority tiers wins one
// comparison and loses the other: the weaker holder is demoted, but the
// newcomer still lands in pending_conflict under the stronger one.
func TestAdmitStraddlingMixedPriorities(t *testing.T) {
	store := newMemStore("v1")
	e := testEngine(store)
	ctx := context.Background()

	s1, e1 := window(1, 2)
	strong, _, err := e.Admit(ctx, AdmitRequest{VehicleID: "v1", StartTime: s1, EndTime: e1}, "exec", 5)
	require.NoError(t, err)

	s2, e2 := window(3, 2)
	weak, _, err := e.Admit(ctx, AdmitRequest{VehicleID: "v1", StartTime: s2, EndTime: e2}, "staff", 1)
	require.NoError(t, err)

	s3, e3 := window(2, 2)
	mid, conflicts, err := e.Admit(ctx, AdmitRequest{VehicleID: "v1", StartTime: s3, EndTime: e3}, "manager", 3)
	require.NoError(t, err)

	assert.Equal(t, StatusPendingConflict, mid.Status)
	require.Len(t, conflicts, 2)

	demoted, err := e.Get(ctx, weak.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingConflict, demoted.Status)

	kept, err := e.Get(ctx, strong.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, kept.Status)

	var wonByMid, lostByMid int
	for _, c := range conflicts {
		switch {
		case c.WinningReservationID == mid.ID && c.LosingReservationID == weak.ID:
			wonByMid++
		case c.WinningReservationID == strong.ID && c.LosingReservationID == mid.ID:
			lostByMid++
		}
	}
	assert.Equal(t, 1, wonByMid, "demotion conflict against the weaker holder")
	assert.Equal(t, 1, lostByMid, "loss conflict under the stronger holder")
}

// Back-to-back windows share a boundary instant and must not conflict.
func TestAdmitHalfOpenBoundary(t *testing.T) {
	store := newMemStore("v1")
	e := testEngine(store)
	ctx := context.Background()

	start, end := window(1, 2)
	_, _, err := e.Admit(ctx, AdmitRequest{VehicleID: "v1", StartTime: start, EndTime: end}, "u1", 1)
	require.NoError(t, err)

	second, conflicts, err := e.Admit(ctx, AdmitRequest{
		VehicleID: "v1", StartTime: end, EndTime: end.Add(time.Hour),
	}, "u2", 1)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, second.Status)
	assert.Empty(t, conflicts)
}

// At no point do two confirmed reservations on the same vehicle overlap,
// even under concurrent admissions for the same slot.
func TestConcurrentAdmissionsNeverDoubleBook(t *testing.T) {
	store := newMemStore("v1")
	e := testEngine(store)
	ctx := context.Background()

	start, end := window(1, 2)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := e.Admit(ctx, AdmitRequest{VehicleID: "v1", StartTime: start, EndTime: end}, "u", 1)
			if err != nil {
				assert.ErrorIs(t, err, ErrBusy)
			}
		}()
	}
	wg.Wait()

	confirmed, err := store.List(ctx, ListFilter{VehicleID: "v1", Status: StatusConfirmed})
	require.NoError(t, err)
	assert.Len(t, confirmed, 1)
}

func TestReassignMovesLoserAndResolves(t *testing.T) {
	store := newMemStore("v1", "v2")
	e := testEngine(store)
	ctx := context.Background()

	start, end := window(1, 2)
	_, _, err := e.Admit(ctx, AdmitRequest{VehicleID: "v1", StartTime: start, EndTime: end}, "u1", 3)
	require.NoError(t, err)
	loser, conflicts, err := e.Admit(ctx, AdmitRequest{VehicleID: "v1", StartTime: start, EndTime: end}, "u2", 1)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	raised, err := e.Reassign(ctx, conflicts[0].ID, "v2", "dispatcher-1", "moved to free vehicle")
	require.NoError(t, err)
	assert.Empty(t, raised)

	moved, err := e.Get(ctx, loser.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", moved.VehicleID)
	assert.Equal(t, StatusConfirmed, moved.Status)

	c, err := e.GetConflict(ctx, conflicts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, ConflictResolvedReassign, c.Status)
}

// Reassigning onto another occupied vehicle resolves the original conflict
// and raises a fresh one on the target vehicle.
func TestReassignRaisesFreshConflict(t *testing.T) {
	store := newMemStore("v1", "v2")
	e := testEngine(store)
	ctx := context.Background()

	start, end := window(1, 2)
	_, _, err := e.Admit(ctx, AdmitRequest{VehicleID: "v1", StartTime: start, EndTime: end}, "u1", 3)
	require.NoError(t, err)
	_, _, err = e.Admit(ctx, AdmitRequest{VehicleID: "v2", StartTime: start, EndTime: end}, "u3", 3)
	require.NoError(t, err)
	loser, conflicts, err := e.Admit(ctx, AdmitRequest{VehicleID: "v1", StartTime: start, EndTime: end}, "u2", 1)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	raised, err := e.Reassign(ctx, conflicts[0].ID, "v2", "dispatcher-1", "try v2")
	require.NoError(t, err)
	require.Len(t, raised, 1)
	assert.Equal(t, loser.ID, raised[0].LosingReservationID)

	orig, err := e.GetConflict(ctx, conflicts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, ConflictResolvedReassign, orig.Status)
}

func TestChangeTimeResolvesConflict(t *testing.T) {
	store := newMemStore("v1")
	e := testEngine(store)
	ctx := context.Background()

	start, end := window(1, 2)
	_, _, err := e.Admit(ctx, AdmitRequest{VehicleID: "v1", StartTime: start, EndTime: end}, "u1", 3)
	require.NoError(t, err)
	loser, conflicts, err := e.Admit(ctx, AdmitRequest{VehicleID: "v1", StartTime: start, EndTime: end}, "u2", 1)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	newStart, newEnd := end, end.Add(2*time.Hour)
	raised, err := e.ChangeTime(ctx, conflicts[0].ID, newStart, newEnd, "dispatcher-1", "shifted after")
	require.NoError(t, err)
	assert.Empty(t, raised)

	moved, err := e.Get(ctx, loser.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, moved.Status)
	assert.True(t, moved.StartTime.Equal(newStart))
}

func TestCancelLoserResolvesConflict(t *testing.T) {
	store := newMemStore("v1")
	e := testEngine(store)
	ctx := context.Background()

	start, end := window(1, 2)
	_, _, err := e.Admit(ctx, AdmitRequest{VehicleID: "v1", StartTime: start, EndTime: end}, "u1", 3)
	require.NoError(t, err)
	loser, conflicts, err := e.Admit(ctx, AdmitRequest{VehicleID: "v1", StartTime: start, EndTime: end}, "u2", 1)
	require.NoError(t, err)

	require.NoError(t, e.CancelLoser(ctx, conflicts[0].ID, "dispatcher-1", "no alternative"))

	cancelled, err := e.Get(ctx, loser.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
}

// Resolving the same conflict twice must fail the second time, regardless
// of the action.
func TestConflictResolutionIsIdempotentGuarded(t *testing.T) {
	store := newMemStore("v1", "v2")
	e := testEngine(store)
	ctx := context.Background()

	start, end := window(1, 2)
	_, _, err := e.Admit(ctx, AdmitRequest{VehicleID: "v1", StartTime: start, EndTime: end}, "u1", 3)
	require.NoError(t, err)
	_, conflicts, err := e.Admit(ctx, AdmitRequest{VehicleID: "v1", StartTime: start, EndTime: end}, "u2", 1)
	require.NoError(t, err)

	require.NoError(t, e.CancelLoser(ctx, conflicts[0].ID, "d1", "first"))

	err = e.CancelLoser(ctx, conflicts[0].ID, "d2", "second")
	assert.ErrorIs(t, err, ErrConflictAlreadyResolved)

	_, err = e.Reassign(ctx, conflicts[0].ID, "v2", "d2", "late reassign")
	assert.ErrorIs(t, err, ErrConflictAlreadyResolved)
}

// Force-assign flips the outcome: loser confirmed, winner demoted, no
// recursive conflict, and the swap leaves exactly one confirmed holder.
func TestForceAssignSwapsWithoutRecursion(t *testing.T) {
	store := newMemStore("v1")
	e := testEngine(store)
	ctx := context.Background()

	start, end := window(1, 2)
	winner, _, err := e.Admit(ctx, AdmitRequest{VehicleID: "v1", StartTime: start, EndTime: end}, "u1", 3)
	require.NoError(t, err)
	loser, conflicts, err := e.Admit(ctx, AdmitRequest{VehicleID: "v1", StartTime: start, EndTime: end}, "u2", 1)
	require.NoError(t, err)

	require.NoError(t, e.ForceAssign(ctx, conflicts[0].ID, "admin-1", "VIP override", false))

	forced, err := e.Get(ctx, loser.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, forced.Status)

	demoted, err := e.Get(ctx, winner.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingConflict, demoted.Status)

	pending, err := e.PendingConflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "force-assign must not open a recursive conflict")
}

func TestForceAssignRequiresReason(t *testing.T) {
	store := newMemStore("v1")
	e := testEngine(store)
	ctx := context.Background()

	start, end := window(1, 2)
	_, _, err := e.Admit(ctx, AdmitRequest{VehicleID: "v1", StartTime: start, EndTime: end}, "u1", 3)
	require.NoError(t, err)
	_, conflicts, err := e.Admit(ctx, AdmitRequest{VehicleID: "v1", StartTime: start, EndTime: end}, "u2", 1)
	require.NoError(t, err)

	err = e.ForceAssign(ctx, conflicts[0].ID, "admin-1", "", false)
	assert.ErrorIs(t, err, ErrReasonRequired)
}

func TestDriverAcceptConfirms(t *testing.T) {
	store := newMemStore("v1")
	e := testEngine(store)
	ctx := context.Background()

	start, end := window(1, 2)
	res, err := e.CreatePendingDriver(ctx, AdmitRequest{VehicleID: "v1", StartTime: start, EndTime: end}, "u1", 1)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingDriver, res.Status)

	accepted, conflicts, err := e.DriverAccept(ctx, res.ID, "v1")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, accepted.Status)
	assert.Empty(t, conflicts)
}

func TestDriverAcceptWrongVehicle(t *testing.T) {
	store := newMemStore("v1")
	e := testEngine(store)
	ctx := context.Background()

	start, end := window(1, 2)
	res, err := e.CreatePendingDriver(ctx, AdmitRequest{VehicleID: "v1", StartTime: start, EndTime: end}, "u1", 1)
	require.NoError(t, err)

	_, _, err = e.DriverAccept(ctx, res.ID, "v2")
	assert.ErrorIs(t, err, ErrNotYourVehicle)
}

// Declining moves the booking to the next free vehicle, excluding every
// vehicle that already declined it; with none left it parks as
// driver_declined.
func TestDriverDeclineFallsBack(t *testing.T) {
	store := newMemStore("v1", "v2")
	e := testEngine(store)
	ctx := context.Background()

	start, end := window(1, 2)
	res, err := e.CreatePendingDriver(ctx, AdmitRequest{VehicleID: "v1", StartTime: start, EndTime: end}, "u1", 1)
	require.NoError(t, err)

	require.NoError(t, e.DriverDecline(ctx, res.ID, "v1"))
	moved, err := e.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", moved.VehicleID)
	assert.Equal(t, StatusPendingDriver, moved.Status)

	require.NoError(t, e.DriverDecline(ctx, res.ID, "v2"))
	parked, err := e.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDriverDeclined, parked.Status)
}

func TestCompleteExpired(t *testing.T) {
	store := newMemStore("v1")
	e := testEngine(store)
	ctx := context.Background()

	past := time.Now().Add(-3 * time.Hour)
	store.Insert(ctx, &Reservation{
		ID: "old", VehicleID: "v1", Status: StatusConfirmed,
		StartTime: past, EndTime: past.Add(time.Hour), CreatedAt: past,
	})

	n, err := e.CompleteExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	done, err := e.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
}
