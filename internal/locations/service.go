package locations

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	rredis "dispatch-service/pkg/redis"
	"dispatch-service/pkg/validation"
)

// Broadcaster pushes live positions to websocket subscribers.
type Broadcaster interface {
	BroadcastPosition(vehicleID string, lat, lng, heading, speed float64, recordedAt time.Time)
}

// Service ingests vehicle positions: history rows go to Postgres, the
// current position goes to the Redis GEO cache, and live subscribers get a
// push. The Redis write only moves forward in time, so out-of-order batches
// cannot rewind the map.
type Service struct {
	db    *pgxpool.Pool
	redis *rredis.Client
	hub   Broadcaster
	log   *logrus.Logger
}

func NewService(db *pgxpool.Pool, redis *rredis.Client, hub Broadcaster, log *logrus.Logger) *Service {
	return &Service{db: db, redis: redis, hub: hub, log: log}
}

// Report ingests a batch of fixes for one vehicle.
func (s *Service) Report(ctx context.Context, vehicleID string, points []Point) error {
	if len(points) == 0 {
		return ErrNoPoints
	}
	for _, p := range points {
		if !validation.ValidateCoordinates(p.Lat, p.Lng) {
			return ErrBadCoords
		}
	}

	sort.Slice(points, func(i, j int) bool { return points[i].RecordedAt.Before(points[j].RecordedAt) })

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, p := range points {
		_, err := tx.Exec(ctx, `
			INSERT INTO vehicle_locations (vehicle_id, lat, lng, heading, speed, accuracy, recorded_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			vehicleID, p.Lat, p.Lng, p.Heading, p.Speed, p.Accuracy, p.RecordedAt)
		if err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	latest := points[len(points)-1]
	if err := s.updateCurrent(ctx, vehicleID, latest); err != nil {
		s.log.WithError(err).Warn("failed to update current position")
	}
	return nil
}

// updateCurrent writes the cache and broadcasts, skipping fixes older than
// the cached one.
func (s *Service) updateCurrent(ctx context.Context, vehicleID string, p Point) error {
	existing, err := s.redis.GetVehiclePosition(ctx, vehicleID)
	if err != nil {
		return err
	}
	if existing != nil && existing.RecordedAt.After(p.RecordedAt) {
		return nil
	}

	if err := s.redis.SetVehiclePosition(ctx, vehicleID, rredis.Position{
		Lat:        p.Lat,
		Lng:        p.Lng,
		Heading:    p.Heading,
		Speed:      p.Speed,
		RecordedAt: p.RecordedAt,
	}); err != nil {
		return err
	}

	if s.hub != nil {
		s.hub.BroadcastPosition(vehicleID, p.Lat, p.Lng, p.Heading, p.Speed, p.RecordedAt)
	}
	return nil
}

// Current returns the cached position, or ErrNeverTracked.
func (s *Service) Current(ctx context.Context, vehicleID string) (*rredis.Position, error) {
	p, err := s.redis.GetVehiclePosition(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNeverTracked
	}
	return p, nil
}

// History returns stored fixes for playback, oldest first.
func (s *Service) History(ctx context.Context, vehicleID string, from, to time.Time) ([]HistoryEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT vehicle_id, lat, lng, heading, speed, accuracy, recorded_at
		FROM vehicle_locations
		WHERE vehicle_id=$1 AND recorded_at >= $2 AND recorded_at <= $3
		ORDER BY recorded_at ASC`, vehicleID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.VehicleID, &e.Lat, &e.Lng, &e.Heading, &e.Speed, &e.Accuracy, &e.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// OwnsVehicle reports whether the driver is linked to the vehicle.
func (s *Service) OwnsVehicle(ctx context.Context, driverID, vehicleID string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM vehicles WHERE id=$1 AND driver_id=$2)`,
		vehicleID, driverID).Scan(&ok)
	return ok, err
}
