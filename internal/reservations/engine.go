package reservations

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dispatch-service/internal/events"
	"dispatch-service/internal/locking"
	"dispatch-service/pkg/kafka"
)

// Publisher is the slice of the kafka client the engine needs.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value any) error
}

// Engine owns reservation admission and conflict resolution. All writes for
// a given vehicle run under that vehicle's lock; cross-vehicle traffic is
// fully parallel.
type Engine struct {
	store   Store
	locks   *locking.Keyed
	pub     Publisher
	log     *logrus.Logger
	grace   time.Duration
	retries int
	now     func() time.Time
}

func NewEngine(store Store, locks *locking.Keyed, pub Publisher, log *logrus.Logger, grace time.Duration, retries int) *Engine {
	if retries <= 0 {
		retries = 3
	}
	return &Engine{
		store:   store,
		locks:   locks,
		pub:     pub,
		log:     log,
		grace:   grace,
		retries: retries,
		now:     time.Now,
	}
}

// beats reports whether a outranks b: higher priority wins; on tie the
// earlier created_at wins; on exact tie the lower id wins. This is a total
// order, so admission is deterministic under replay.
func beats(a, b *Reservation) bool {
	if a.PriorityLevel != b.PriorityLevel {
		return a.PriorityLevel > b.PriorityLevel
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Admit validates and admits a new reservation. If the window overlaps
// confirmed reservations on the same vehicle, the priority policy decides:
// the new reservation enters confirmed iff it beats every overlapping one;
// each overlapped loser is demoted to pending_conflict with a pairwise
// conflict record. The whole set of changes commits atomically.
func (e *Engine) Admit(ctx context.Context, req AdmitRequest, requesterID string, priorityLevel int) (*Reservation, []*Conflict, error) {
	now := e.now()
	if !req.StartTime.Before(req.EndTime) {
		return nil, nil, ErrInvalidTimeWindow
	}
	if req.StartTime.Before(now.Add(-e.grace)) {
		return nil, nil, ErrStartInPast
	}

	res := &Reservation{
		ID:            uuid.NewString(),
		VehicleID:     req.VehicleID,
		RequesterID:   requesterID,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		Purpose:       req.Purpose,
		Destinations:  req.Destinations,
		Notes:         req.Notes,
		PassengerName: req.PassengerName,
		PickupAddress: req.PickupAddress,
		PickupLat:     req.PickupLat,
		PickupLng:     req.PickupLng,
		PriorityLevel: priorityLevel,
		Status:        StatusConfirmed,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var conflicts []*Conflict
	err := e.withVehicleLock(req.VehicleID, func() error {
		return e.store.WithTx(ctx, func(tx Store) error {
			var err error
			conflicts, err = e.rankAgainstOverlaps(ctx, tx, res)
			if err != nil {
				return err
			}
			return tx.Insert(ctx, res)
		})
	})
	if err != nil {
		return nil, nil, err
	}

	e.publishConflicts(res.VehicleID, conflicts)
	e.log.WithFields(logrus.Fields{
		"reservation": res.ID,
		"vehicle":     res.VehicleID,
		"status":      res.Status,
		"conflicts":   len(conflicts),
	}).Info("reservation admitted")
	return res, conflicts, nil
}

// rankAgainstOverlaps scans confirmed reservations overlapping res's window
// and applies the policy pairwise. Losers among the existing reservations
// are demoted in place; res's Status field is set to its final value. Must
// run inside the vehicle lock and a transaction.
func (e *Engine) rankAgainstOverlaps(ctx context.Context, tx Store, res *Reservation) ([]*Conflict, error) {
	overlaps, err := tx.FindConfirmedOverlapping(ctx, res.VehicleID, res.StartTime, res.EndTime, res.ID)
	if err != nil {
		return nil, err
	}

	var conflicts []*Conflict
	var winners []*Reservation
	now := e.now()

	for i := range overlaps {
		existing := &overlaps[i]
		if beats(res, existing) {
			if err := tx.UpdateStatus(ctx, existing.ID, StatusPendingConflict); err != nil {
				return nil, err
			}
			c := &Conflict{
				ID:                   uuid.NewString(),
				WinningReservationID: res.ID,
				LosingReservationID:  existing.ID,
				Status:               ConflictPending,
				CreatedAt:            now,
			}
			if err := tx.InsertConflict(ctx, c); err != nil {
				return nil, err
			}
			conflicts = append(conflicts, c)
		} else {
			winners = append(winners, existing)
		}
	}

	if len(winners) == 0 {
		res.Status = StatusConfirmed
		return conflicts, nil
	}

	// The reservation lost at least one pairwise comparison: it enters
	// pending_conflict with a single open conflict against the top-ranked
	// winner (one open conflict per losing reservation).
	sort.Slice(winners, func(i, j int) bool { return beats(winners[i], winners[j]) })
	res.Status = StatusPendingConflict
	c := &Conflict{
		ID:                   uuid.NewString(),
		WinningReservationID: winners[0].ID,
		LosingReservationID:  res.ID,
		Status:               ConflictPending,
		CreatedAt:            now,
	}
	if err := tx.InsertConflict(ctx, c); err != nil {
		return nil, err
	}
	return append(conflicts, c), nil
}

// Cancel cancels a reservation.
func (e *Engine) Cancel(ctx context.Context, id, cancelledBy, reason string) error {
	res, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if res == nil {
		return ErrNotFound
	}
	return e.store.Cancel(ctx, id, cancelledBy, reason)
}

// Get returns a reservation by id.
func (e *Engine) Get(ctx context.Context, id string) (*Reservation, error) {
	res, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrNotFound
	}
	return res, nil
}

// List returns reservations matching the filter.
func (e *Engine) List(ctx context.Context, f ListFilter) ([]Reservation, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	return e.store.List(ctx, f)
}

// CheckAvailability returns confirmed reservations overlapping the window.
func (e *Engine) CheckAvailability(ctx context.Context, vehicleID string, start, end time.Time) ([]Reservation, error) {
	return e.store.FindConfirmedOverlapping(ctx, vehicleID, start, end, "")
}

// CompleteExpired marks confirmed reservations whose window has passed as
// completed. Called from the background sweep.
func (e *Engine) CompleteExpired(ctx context.Context) (int64, error) {
	return e.store.CompleteExpired(ctx, e.now())
}

// ---- Conflict resolution ----

// PendingConflicts lists open conflicts for the console.
func (e *Engine) PendingConflicts(ctx context.Context) ([]Conflict, error) {
	return e.store.ListPendingConflicts(ctx)
}

// GetConflict returns a conflict by id.
func (e *Engine) GetConflict(ctx context.Context, id string) (*Conflict, error) {
	c, err := e.store.GetConflict(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrConflictNotFound
	}
	return c, nil
}

// Reassign moves the losing reservation to another vehicle and re-runs
// admission there. The original conflict resolves as resolved_reassign even
// when the new vehicle raises a fresh conflict.
func (e *Engine) Reassign(ctx context.Context, conflictID, newVehicleID, resolvedBy, reason string) ([]*Conflict, error) {
	var raised []*Conflict
	err := e.withVehicleLock(newVehicleID, func() error {
		return e.store.WithTx(ctx, func(tx Store) error {
			_, loser, err := e.openConflictLoser(ctx, tx, conflictID)
			if err != nil {
				return err
			}

			if err := tx.UpdateVehicle(ctx, loser.ID, newVehicleID); err != nil {
				return err
			}
			loser.VehicleID = newVehicleID
			raised, err = e.rankAgainstOverlaps(ctx, tx, loser)
			if err != nil {
				return err
			}
			if err := tx.UpdateStatus(ctx, loser.ID, loser.Status); err != nil {
				return err
			}
			return tx.ResolveConflict(ctx, conflictID, resolvedBy, reason, ConflictResolvedReassign)
		})
	})
	if err != nil {
		return nil, err
	}
	e.publishConflicts(newVehicleID, raised)
	return raised, nil
}

// ChangeTime moves the losing reservation to a new window and re-runs
// admission on the same vehicle.
func (e *Engine) ChangeTime(ctx context.Context, conflictID string, newStart, newEnd time.Time, resolvedBy, reason string) ([]*Conflict, error) {
	if !newStart.Before(newEnd) {
		return nil, ErrInvalidTimeWindow
	}

	conflict, err := e.store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if conflict == nil {
		return nil, ErrConflictNotFound
	}
	loserPeek, err := e.store.Get(ctx, conflict.LosingReservationID)
	if err != nil {
		return nil, err
	}
	if loserPeek == nil {
		return nil, ErrNotFound
	}

	var raised []*Conflict
	vehicleID := loserPeek.VehicleID
	err = e.withVehicleLock(vehicleID, func() error {
		return e.store.WithTx(ctx, func(tx Store) error {
			_, loser, err := e.openConflictLoser(ctx, tx, conflictID)
			if err != nil {
				return err
			}

			if err := tx.UpdateWindow(ctx, loser.ID, newStart, newEnd); err != nil {
				return err
			}
			loser.StartTime, loser.EndTime = newStart, newEnd
			raised, err = e.rankAgainstOverlaps(ctx, tx, loser)
			if err != nil {
				return err
			}
			if err := tx.UpdateStatus(ctx, loser.ID, loser.Status); err != nil {
				return err
			}
			return tx.ResolveConflict(ctx, conflictID, resolvedBy, reason, ConflictResolvedChanged)
		})
	})
	if err != nil {
		return nil, err
	}
	e.publishConflicts(vehicleID, raised)
	return raised, nil
}

// CancelLoser cancels the losing reservation and closes the conflict.
func (e *Engine) CancelLoser(ctx context.Context, conflictID, resolvedBy, reason string) error {
	return e.store.WithTx(ctx, func(tx Store) error {
		_, loser, err := e.openConflictLoser(ctx, tx, conflictID)
		if err != nil {
			return err
		}
		if err := tx.Cancel(ctx, loser.ID, resolvedBy, reason); err != nil {
			return err
		}
		return tx.ResolveConflict(ctx, conflictID, resolvedBy, reason, ConflictResolvedCancelled)
	})
}

// ForceAssign overrides the policy outcome: the loser becomes confirmed and
// the previous winner is demoted (or cancelled when cancelWinner is set).
// No recursive conflict is generated; the swap commits atomically so no
// reader observes a double-booked confirmed state.
func (e *Engine) ForceAssign(ctx context.Context, conflictID, resolvedBy, reason string, cancelWinner bool) error {
	if reason == "" {
		return ErrReasonRequired
	}

	conflict, err := e.store.GetConflict(ctx, conflictID)
	if err != nil {
		return err
	}
	if conflict == nil {
		return ErrConflictNotFound
	}
	loserPeek, err := e.store.Get(ctx, conflict.LosingReservationID)
	if err != nil {
		return err
	}
	if loserPeek == nil {
		return ErrNotFound
	}

	return e.withVehicleLock(loserPeek.VehicleID, func() error {
		return e.store.WithTx(ctx, func(tx Store) error {
			conflict, loser, err := e.openConflictLoser(ctx, tx, conflictID)
			if err != nil {
				return err
			}

			if err := tx.UpdateStatus(ctx, loser.ID, StatusConfirmed); err != nil {
				return err
			}
			if cancelWinner {
				if err := tx.Cancel(ctx, conflict.WinningReservationID, resolvedBy, "force assigned: "+reason); err != nil {
					return err
				}
			} else {
				if err := tx.UpdateStatus(ctx, conflict.WinningReservationID, StatusPendingConflict); err != nil {
					return err
				}
			}
			return tx.ResolveConflict(ctx, conflictID, resolvedBy, reason, ConflictForceAssigned)
		})
	})
}

// ---- Driver acceptance flow ----

// DriverAccept confirms a pending_driver reservation through admission, so
// any conflict introduced since booking is still detected.
func (e *Engine) DriverAccept(ctx context.Context, reservationID, driverVehicleID string) (*Reservation, []*Conflict, error) {
	res, err := e.store.Get(ctx, reservationID)
	if err != nil {
		return nil, nil, err
	}
	if res == nil {
		return nil, nil, ErrNotFound
	}
	if res.Status != StatusPendingDriver {
		return nil, nil, ErrNotPendingDriver
	}
	if res.VehicleID != driverVehicleID {
		return nil, nil, ErrNotYourVehicle
	}

	var raised []*Conflict
	err = e.withVehicleLock(res.VehicleID, func() error {
		return e.store.WithTx(ctx, func(tx Store) error {
			var err error
			raised, err = e.rankAgainstOverlaps(ctx, tx, res)
			if err != nil {
				return err
			}
			return tx.UpdateStatus(ctx, res.ID, res.Status)
		})
	})
	if err != nil {
		return nil, nil, err
	}
	e.publishConflicts(res.VehicleID, raised)
	return res, raised, nil
}

// DriverDecline records the declined vehicle and reassigns the reservation
// to the next free vehicle for its slot, or marks it driver_declined when
// none remains.
func (e *Engine) DriverDecline(ctx context.Context, reservationID, driverVehicleID string) error {
	res, err := e.store.Get(ctx, reservationID)
	if err != nil {
		return err
	}
	if res == nil {
		return ErrNotFound
	}
	if res.Status != StatusPendingDriver {
		return ErrNotPendingDriver
	}
	if res.VehicleID != driverVehicleID {
		return ErrNotYourVehicle
	}

	if err := e.store.AddDeclinedVehicle(ctx, res.ID, res.VehicleID); err != nil {
		return err
	}

	exclude := append([]string{res.VehicleID}, res.DeclinedVehicleIDs...)
	next, err := e.store.FindVehicleForSlot(ctx, res.StartTime, res.EndTime, exclude)
	if err != nil {
		return err
	}
	if next == "" {
		return e.store.UpdateStatus(ctx, res.ID, StatusDriverDeclined)
	}
	return e.store.UpdateVehicle(ctx, res.ID, next)
}

// PendingForVehicle lists reservations awaiting a driver's acceptance.
func (e *Engine) PendingForVehicle(ctx context.Context, vehicleID string) ([]Reservation, error) {
	return e.store.FindPendingForVehicle(ctx, vehicleID)
}

// FindVehicleForSlot exposes free-slot search for mode=any bookings.
func (e *Engine) FindVehicleForSlot(ctx context.Context, start, end time.Time) (string, error) {
	id, err := e.store.FindVehicleForSlot(ctx, start, end, nil)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", ErrNoVehicleAvailable
	}
	return id, nil
}

// CreatePendingDriver inserts a reservation awaiting driver acceptance
// (unified booking future path). It does not run admission; acceptance does.
func (e *Engine) CreatePendingDriver(ctx context.Context, req AdmitRequest, requesterID string, priorityLevel int) (*Reservation, error) {
	now := e.now()
	if !req.StartTime.Before(req.EndTime) {
		return nil, ErrInvalidTimeWindow
	}
	if req.StartTime.Before(now.Add(-e.grace)) {
		return nil, ErrStartInPast
	}

	res := &Reservation{
		ID:            uuid.NewString(),
		VehicleID:     req.VehicleID,
		RequesterID:   requesterID,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		Purpose:       req.Purpose,
		Destinations:  req.Destinations,
		Notes:         req.Notes,
		PassengerName: req.PassengerName,
		PickupAddress: req.PickupAddress,
		PickupLat:     req.PickupLat,
		PickupLng:     req.PickupLng,
		PriorityLevel: priorityLevel,
		Status:        StatusPendingDriver,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.Insert(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// ---- internals ----

// openConflictLoser loads a conflict plus its losing reservation, guarding
// against replayed resolution of an already-terminal conflict.
func (e *Engine) openConflictLoser(ctx context.Context, tx Store, conflictID string) (*Conflict, *Reservation, error) {
	conflict, err := tx.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, nil, err
	}
	if conflict == nil {
		return nil, nil, ErrConflictNotFound
	}
	if conflict.Resolved() {
		return nil, nil, ErrConflictAlreadyResolved
	}
	loser, err := tx.Get(ctx, conflict.LosingReservationID)
	if err != nil {
		return nil, nil, err
	}
	if loser == nil {
		return nil, nil, ErrNotFound
	}
	return conflict, loser, nil
}

// withVehicleLock serializes fn against other admissions on the same
// vehicle, retrying briefly with jitter before giving up with ErrBusy.
func (e *Engine) withVehicleLock(vehicleID string, fn func() error) error {
	for attempt := 0; attempt <= e.retries; attempt++ {
		if e.locks.TryLock(vehicleID) {
			defer e.locks.Unlock(vehicleID)
			return fn()
		}
		time.Sleep(time.Duration(10+rand.Intn(40)) * time.Millisecond)
	}
	return ErrBusy
}

func (e *Engine) publishConflicts(vehicleID string, conflicts []*Conflict) {
	if e.pub == nil || len(conflicts) == 0 {
		return
	}
	go func() {
		for _, c := range conflicts {
			ev := events.ReservationConflictEvent{
				ConflictID:           c.ID,
				VehicleID:            vehicleID,
				WinningReservationID: c.WinningReservationID,
				LosingReservationID:  c.LosingReservationID,
			}
			if err := e.pub.Publish(context.Background(), kafka.TopicReservationConflict, c.ID, ev); err != nil {
				e.log.WithError(err).Warn("failed to publish reservation.conflict")
			}
		}
	}()
}
