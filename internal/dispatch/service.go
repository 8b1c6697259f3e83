package dispatch

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dispatch-service/internal/events"
	"dispatch-service/internal/locking"
	"dispatch-service/internal/routing"
	"dispatch-service/internal/vehicles"
	"dispatch-service/pkg/kafka"
)

// Publisher is the slice of the kafka client the allocator needs.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value any) error
}

// RouteOracle is the slice of the routing oracle the allocator needs.
type RouteOracle interface {
	Route(ctx context.Context, origin, destination routing.LatLng, intermediates []routing.LatLng, statusTag string) (*routing.Route, error)
}

// VehicleLister provides vehicles with derived status for ETA fan-out.
type VehicleLister interface {
	List(ctx context.Context, includeInactive bool) ([]vehicles.VehicleView, error)
}

// Service is the dispatch allocator plus state machine driver.
type Service struct {
	store   Store
	locks   *locking.Keyed
	oracle  RouteOracle
	fleet   VehicleLister
	pub     Publisher
	log     *logrus.Logger
	retries int
	now     func() time.Time
}

func NewService(store Store, locks *locking.Keyed, oracle RouteOracle, fleet VehicleLister, pub Publisher, log *logrus.Logger, retries int) *Service {
	if retries <= 0 {
		retries = 3
	}
	return &Service{
		store:   store,
		locks:   locks,
		oracle:  oracle,
		fleet:   fleet,
		pub:     pub,
		log:     log,
		retries: retries,
		now:     time.Now,
	}
}

// Create opens a pending dispatch with no vehicle and announces it on the
// bus so the matcher can pre-compute candidate ETAs.
func (s *Service) Create(ctx context.Context, req CreateRequest, requesterID string) (*Dispatch, error) {
	now := s.now()
	count := req.PassengerCount
	if count <= 0 {
		count = 1
	}

	d := &Dispatch{
		ID:             uuid.NewString(),
		RequesterID:    requesterID,
		Purpose:        req.Purpose,
		PassengerName:  req.PassengerName,
		PassengerCount: count,
		Notes:          req.Notes,
		PickupAddress:  req.PickupAddress,
		PickupLat:      req.PickupLat,
		PickupLng:      req.PickupLng,
		DropoffAddress: req.DropoffAddress,
		DropoffLat:     req.DropoffLat,
		DropoffLng:     req.DropoffLng,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Insert(ctx, d); err != nil {
		return nil, err
	}

	if s.pub != nil && d.PickupLat != nil && d.PickupLng != nil {
		ev := events.DispatchRequestedEvent{
			DispatchID:  d.ID,
			RequesterID: d.RequesterID,
			Pickup:      events.LatLng{Lat: *d.PickupLat, Lng: *d.PickupLng},
			RequestedAt: now.UTC().Format(time.RFC3339),
		}
		go func() {
			if err := s.pub.Publish(context.Background(), kafka.TopicDispatchRequested, d.ID, ev); err != nil {
				s.log.WithError(err).Warn("failed to publish dispatch.requested")
			}
		}()
	}

	s.log.WithFields(logrus.Fields{"dispatch": d.ID, "requester": requesterID}).Info("dispatch created")
	return d, nil
}

// CalculateETAs fans the pickup point out to every available vehicle. Oracle
// calls are retried once and then degraded to a haversine estimate, so one
// provider outage never blanks the dispatch screen.
func (s *Service) CalculateETAs(ctx context.Context, pickupLat, pickupLng float64) ([]VehicleETA, error) {
	fleet, err := s.fleet.List(ctx, false)
	if err != nil {
		return nil, err
	}

	pickup := routing.LatLng{Lat: pickupLat, Lng: pickupLng}
	var results []VehicleETA
	for _, v := range fleet {
		if v.Lat == nil || v.Lng == nil {
			continue
		}
		if v.Status != vehicles.StatusAvailable && v.Status != vehicles.StatusWaiting {
			continue
		}

		origin := routing.LatLng{Lat: *v.Lat, Lng: *v.Lng}
		eta := VehicleETA{
			VehicleID:   v.ID,
			VehicleName: v.Name,
			Plate:       v.LicensePlate,
			Status:      string(v.Status),
			Lat:         *v.Lat,
			Lng:         *v.Lng,
			IsAvailable: v.Status == vehicles.StatusAvailable,
		}

		route, err := s.routeWithRetry(ctx, origin, pickup, string(v.Status))
		if err != nil {
			dist := int(math.Round(haversine(origin.Lat, origin.Lng, pickup.Lat, pickup.Lng)))
			eta.DistanceM = dist
			eta.DurationSec = estimateDuration(dist)
			eta.Degraded = true
		} else {
			eta.DistanceM = route.DistanceMeters
			eta.DurationSec = route.DurationSec
		}
		results = append(results, eta)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].DurationSec < results[j].DurationSec })
	return results, nil
}

// Assign puts a pending dispatch on a vehicle. The ETA is computed before
// the lock is taken; availability is re-checked inside the critical section,
// so a stale ETA is possible but a double-assignment is not. An empty
// dispatcherID marks an automatic assignment.
func (s *Service) Assign(ctx context.Context, dispatchID, vehicleID, dispatcherID string) (*Dispatch, error) {
	peek, err := s.store.Get(ctx, dispatchID)
	if err != nil {
		return nil, err
	}
	if peek == nil {
		return nil, ErrNotFound
	}
	if peek.Status != StatusPending {
		return nil, ErrNotPending
	}

	snap := s.snapshotETA(ctx, vehicleID, peek)

	var out *Dispatch
	err = s.withVehicleLock(vehicleID, func() error {
		return s.store.WithTx(ctx, func(tx Store) error {
			d, err := tx.Get(ctx, dispatchID)
			if err != nil {
				return err
			}
			if d == nil {
				return ErrNotFound
			}

			now := s.now()
			facts, err := tx.VehicleFacts(ctx, vehicleID, now)
			if err != nil {
				return err
			}
			if facts == nil {
				return ErrVehicleNotFound
			}
			if !facts.Available() {
				return ErrVehicleNotAvailable
			}

			if err := ApplyTransition(d, StatusAssigned, now); err != nil {
				return err
			}
			d.VehicleID = &vehicleID
			if dispatcherID != "" {
				d.DispatcherID = &dispatcherID
			}
			if snap != nil {
				d.EstimatedDurationSec = &snap.DurationSec
				d.EstimatedDistanceM = &snap.DistanceM
				endAt := now.Add(time.Duration(snap.DurationSec) * time.Second)
				d.EstimatedEndAt = &endAt
			}
			if err := tx.Update(ctx, d); err != nil {
				return err
			}
			if snap != nil {
				snap.DispatchID = d.ID
				if err := tx.InsertSnapshot(ctx, snap); err != nil {
					return err
				}
			}
			out = d
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.publishAssigned(out, dispatcherID)
	return out, nil
}

// QuickBoard is a dispatcher recording a walk-up passenger: the dispatch is
// created directly in accepted, skipping pending and assigned.
func (s *Service) QuickBoard(ctx context.Context, req QuickBoardRequest, dispatcherID string) (*Dispatch, error) {
	return s.board(ctx, req.VehicleID, &Dispatch{
		RequesterID:    dispatcherID,
		DispatcherID:   &dispatcherID,
		Purpose:        orDefault(req.Purpose, "walk-up boarding"),
		PassengerName:  &req.PassengerName,
		PassengerCount: maxInt(req.PassengerCount, 1),
		Notes:          req.Notes,
		PickupAddress:  "(walk-up)",
	}, req.EstimatedMinutes)
}

// DriverBoard is the driver-side walk-up entry on their own vehicle.
func (s *Service) DriverBoard(ctx context.Context, req BoardRequest, driverID string) (*Dispatch, error) {
	vehicleID, err := s.store.DriverVehicle(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if vehicleID == "" {
		return nil, ErrVehicleNotFound
	}
	return s.board(ctx, vehicleID, &Dispatch{
		RequesterID:    driverID,
		Purpose:        orDefault(req.Purpose, "walk-up boarding"),
		PassengerCount: maxInt(req.PassengerCount, 1),
		PickupAddress:  "(walk-up)",
	}, req.EstimatedMinutes)
}

func (s *Service) board(ctx context.Context, vehicleID string, d *Dispatch, estimatedMinutes int) (*Dispatch, error) {
	err := s.withVehicleLock(vehicleID, func() error {
		return s.store.WithTx(ctx, func(tx Store) error {
			now := s.now()
			facts, err := tx.VehicleFacts(ctx, vehicleID, now)
			if err != nil {
				return err
			}
			if facts == nil {
				return ErrVehicleNotFound
			}
			if !facts.IsActive || facts.IsMaintenance || facts.InTrip {
				return ErrVehicleNotAvailable
			}

			d.ID = uuid.NewString()
			d.VehicleID = &vehicleID
			d.Status = StatusAccepted
			d.CreatedAt = now
			d.UpdatedAt = now
			d.AcceptedAt = &now
			if estimatedMinutes > 0 {
				endAt := now.Add(time.Duration(estimatedMinutes) * time.Minute)
				d.EstimatedEndAt = &endAt
			}
			return tx.Insert(ctx, d)
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"dispatch": d.ID, "vehicle": vehicleID}).Info("walk-up boarded")
	return d, nil
}

// Advance moves a dispatch along the lifecycle on behalf of a driver. The
// trip must be on the driver's own vehicle and the target must be a
// driver-legal transition.
func (s *Service) Advance(ctx context.Context, dispatchID, driverID string, to Status) (*Dispatch, error) {
	if !DriverMayRequest(to) {
		return nil, &InvalidTransitionError{Requested: to}
	}
	vehicleID, err := s.store.DriverVehicle(ctx, driverID)
	if err != nil {
		return nil, err
	}

	var out *Dispatch
	err = s.store.WithTx(ctx, func(tx Store) error {
		d, err := tx.Get(ctx, dispatchID)
		if err != nil {
			return err
		}
		if d == nil {
			return ErrNotFound
		}
		if d.VehicleID == nil || vehicleID == "" || *d.VehicleID != vehicleID {
			return ErrNotYourTrip
		}
		if err := ApplyTransition(d, to, s.now()); err != nil {
			return err
		}
		if err := tx.Update(ctx, d); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	if to == StatusCompleted {
		s.publishCompleted(out)
	}
	return out, nil
}

// Cancel aborts a non-terminal dispatch. A reason is always required.
func (s *Service) Cancel(ctx context.Context, dispatchID, reason, actorID string) (*Dispatch, error) {
	if reason == "" {
		return nil, ErrReasonRequired
	}

	var out *Dispatch
	err := s.store.WithTx(ctx, func(tx Store) error {
		d, err := tx.Get(ctx, dispatchID)
		if err != nil {
			return err
		}
		if d == nil {
			return ErrNotFound
		}
		if err := ApplyTransition(d, StatusCancelled, s.now()); err != nil {
			return err
		}
		d.CancelReason = &reason
		if err := tx.Update(ctx, d); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"dispatch": dispatchID, "actor": actorID}).Info("dispatch cancelled")
	return out, nil
}

// Get returns a dispatch by id.
func (s *Service) Get(ctx context.Context, id string) (*Dispatch, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrNotFound
	}
	return d, nil
}

// List returns dispatches, optionally filtered by status.
func (s *Service) List(ctx context.Context, status Status, limit, offset int) ([]Dispatch, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.List(ctx, status, limit, offset)
}

// CurrentTrip returns the driver's active dispatch, or nil.
func (s *Service) CurrentTrip(ctx context.Context, driverID string) (*Dispatch, error) {
	return s.store.ActiveByDriver(ctx, driverID)
}

// DriverVehicle resolves the vehicle linked to a driver account.
func (s *Service) DriverVehicle(ctx context.Context, driverID string) (string, error) {
	return s.store.DriverVehicle(ctx, driverID)
}

// Snapshots returns the ETA history recorded for a dispatch.
func (s *Service) Snapshots(ctx context.Context, dispatchID string) ([]ETASnapshot, error) {
	return s.store.Snapshots(ctx, dispatchID)
}

// RecordSnapshot stores a candidate ETA computed by the matcher.
func (s *Service) RecordSnapshot(ctx context.Context, snap *ETASnapshot) error {
	return s.store.InsertSnapshot(ctx, snap)
}

// ---- internals ----

// snapshotETA computes the assignment-time estimate outside any lock. A nil
// return means the route could not be computed; assignment proceeds without
// an estimate.
func (s *Service) snapshotETA(ctx context.Context, vehicleID string, d *Dispatch) *ETASnapshot {
	if d.PickupLat == nil || d.PickupLng == nil {
		return nil
	}
	fleet, err := s.fleet.List(ctx, false)
	if err != nil {
		return nil
	}
	var origin *routing.LatLng
	for _, v := range fleet {
		if v.ID == vehicleID && v.Lat != nil && v.Lng != nil {
			origin = &routing.LatLng{Lat: *v.Lat, Lng: *v.Lng}
			break
		}
	}
	if origin == nil {
		return nil
	}

	pickup := routing.LatLng{Lat: *d.PickupLat, Lng: *d.PickupLng}
	snap := &ETASnapshot{
		ID:           uuid.NewString(),
		VehicleID:    vehicleID,
		CalculatedAt: s.now(),
	}
	route, err := s.routeWithRetry(ctx, *origin, pickup, string(d.Status))
	if err != nil {
		dist := int(math.Round(haversine(origin.Lat, origin.Lng, pickup.Lat, pickup.Lng)))
		snap.DistanceM = dist
		snap.DurationSec = estimateDuration(dist)
		return snap
	}
	snap.DistanceM = route.DistanceMeters
	snap.DurationSec = route.DurationSec
	return snap
}

// routeWithRetry asks the oracle, retrying once after a short backoff.
func (s *Service) routeWithRetry(ctx context.Context, origin, dest routing.LatLng, statusTag string) (*routing.Route, error) {
	route, err := s.oracle.Route(ctx, origin, dest, nil, statusTag)
	if err == nil {
		return route, nil
	}
	time.Sleep(time.Duration(100+rand.Intn(200)) * time.Millisecond)
	return s.oracle.Route(ctx, origin, dest, nil, statusTag)
}

func (s *Service) withVehicleLock(vehicleID string, fn func() error) error {
	for attempt := 0; attempt <= s.retries; attempt++ {
		if s.locks.TryLock(vehicleID) {
			defer s.locks.Unlock(vehicleID)
			return fn()
		}
		time.Sleep(time.Duration(10+rand.Intn(40)) * time.Millisecond)
	}
	return ErrBusy
}

func (s *Service) publishAssigned(d *Dispatch, dispatcherID string) {
	if s.pub == nil || d == nil || d.VehicleID == nil {
		return
	}
	ev := events.DispatchAssignedEvent{
		DispatchID:   d.ID,
		VehicleID:    *d.VehicleID,
		DispatcherID: dispatcherID,
	}
	go func() {
		if err := s.pub.Publish(context.Background(), kafka.TopicDispatchAssigned, d.ID, ev); err != nil {
			s.log.WithError(err).Warn("failed to publish dispatch.assigned")
		}
	}()
}

func (s *Service) publishCompleted(d *Dispatch) {
	if s.pub == nil || d == nil || d.VehicleID == nil || d.CompletedAt == nil {
		return
	}
	var duration int64
	if d.AcceptedAt != nil {
		duration = int64(d.CompletedAt.Sub(*d.AcceptedAt).Seconds())
	}
	ev := events.TripCompletedEvent{
		DispatchID:      d.ID,
		VehicleID:       *d.VehicleID,
		RequesterID:     d.RequesterID,
		CompletedAt:     d.CompletedAt.UTC().Format(time.RFC3339),
		DurationSeconds: duration,
	}
	go func() {
		if err := s.pub.Publish(context.Background(), kafka.TopicTripCompleted, d.ID, ev); err != nil {
			s.log.WithError(err).Warn("failed to publish trip.completed")
		}
	}()
}

// haversine returns the great-circle distance in meters.
func haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadius = 6371000
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadius * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// estimateDuration converts a straight-line distance into a rough urban
// driving time at ~18 km/h, floored at one minute.
func estimateDuration(distM int) int {
	secs := int(math.Round(float64(distM) / (18.0 * 1000 / 3600)))
	if secs < 60 {
		secs = 60
	}
	return secs
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
