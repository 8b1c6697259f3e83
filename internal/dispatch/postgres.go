package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	q    querier
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if _, inTx := s.q.(pgx.Tx); inTx {
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PostgresStore{pool: s.pool, q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const dispatchCols = `id, vehicle_id, requester_id, dispatcher_id, purpose, passenger_name,
	passenger_count, notes, pickup_address, pickup_lat, pickup_lng,
	dropoff_address, dropoff_lat, dropoff_lng, status,
	estimated_duration_sec, estimated_distance_m, estimated_end_at,
	assigned_at, accepted_at, en_route_at, arrived_at, completed_at, cancelled_at,
	cancel_reason, created_at, updated_at`

func scanDispatch(row pgx.Row) (*Dispatch, error) {
	var d Dispatch
	err := row.Scan(&d.ID, &d.VehicleID, &d.RequesterID, &d.DispatcherID, &d.Purpose,
		&d.PassengerName, &d.PassengerCount, &d.Notes, &d.PickupAddress, &d.PickupLat, &d.PickupLng,
		&d.DropoffAddress, &d.DropoffLat, &d.DropoffLng, &d.Status,
		&d.EstimatedDurationSec, &d.EstimatedDistanceM, &d.EstimatedEndAt,
		&d.AssignedAt, &d.AcceptedAt, &d.EnRouteAt, &d.ArrivedAt, &d.CompletedAt, &d.CancelledAt,
		&d.CancelReason, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) Insert(ctx context.Context, d *Dispatch) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO dispatches (id, vehicle_id, requester_id, dispatcher_id, purpose, passenger_name,
			passenger_count, notes, pickup_address, pickup_lat, pickup_lng,
			dropoff_address, dropoff_lat, dropoff_lng, status,
			estimated_duration_sec, estimated_distance_m, estimated_end_at,
			assigned_at, accepted_at, en_route_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$22)`,
		d.ID, d.VehicleID, d.RequesterID, d.DispatcherID, d.Purpose, d.PassengerName,
		d.PassengerCount, d.Notes, d.PickupAddress, d.PickupLat, d.PickupLng,
		d.DropoffAddress, d.DropoffLat, d.DropoffLng, d.Status,
		d.EstimatedDurationSec, d.EstimatedDistanceM, d.EstimatedEndAt,
		d.AssignedAt, d.AcceptedAt, d.EnRouteAt, d.CreatedAt)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Dispatch, error) {
	d, err := scanDispatch(s.q.QueryRow(ctx,
		`SELECT `+dispatchCols+` FROM dispatches WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func (s *PostgresStore) List(ctx context.Context, status Status, limit, offset int) ([]Dispatch, error) {
	query := `SELECT ` + dispatchCols + ` FROM dispatches`
	args := []any{}
	if status != "" {
		args = append(args, status)
		query += ` WHERE status=$1`
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Dispatch
	for rows.Next() {
		d, err := scanDispatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, d *Dispatch) error {
	_, err := s.q.Exec(ctx, `
		UPDATE dispatches SET vehicle_id=$1, dispatcher_id=$2, status=$3,
			estimated_duration_sec=$4, estimated_distance_m=$5, estimated_end_at=$6,
			assigned_at=$7, accepted_at=$8, en_route_at=$9, arrived_at=$10,
			completed_at=$11, cancelled_at=$12, cancel_reason=$13, updated_at=$14
		WHERE id=$15`,
		d.VehicleID, d.DispatcherID, d.Status,
		d.EstimatedDurationSec, d.EstimatedDistanceM, d.EstimatedEndAt,
		d.AssignedAt, d.AcceptedAt, d.EnRouteAt, d.ArrivedAt,
		d.CompletedAt, d.CancelledAt, d.CancelReason, d.UpdatedAt, d.ID)
	return err
}

func (s *PostgresStore) ActiveByVehicle(ctx context.Context, vehicleID string) (*Dispatch, error) {
	d, err := scanDispatch(s.q.QueryRow(ctx, `
		SELECT `+dispatchCols+` FROM dispatches
		WHERE vehicle_id=$1 AND status IN ('assigned','accepted','en_route','arrived')
		ORDER BY created_at DESC LIMIT 1`, vehicleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func (s *PostgresStore) ActiveByDriver(ctx context.Context, driverID string) (*Dispatch, error) {
	d, err := scanDispatch(s.q.QueryRow(ctx, `
		SELECT `+dispatchCols+` FROM dispatches d
		WHERE d.vehicle_id = (SELECT id FROM vehicles WHERE driver_id=$1 LIMIT 1)
			AND d.status IN ('assigned','accepted','en_route','arrived')
		ORDER BY d.created_at DESC LIMIT 1`, driverID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func (s *PostgresStore) InsertSnapshot(ctx context.Context, snap *ETASnapshot) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO dispatch_eta_snapshots (id, dispatch_id, vehicle_id, duration_sec, distance_m, calculated_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		snap.ID, snap.DispatchID, snap.VehicleID, snap.DurationSec, snap.DistanceM, snap.CalculatedAt)
	return err
}

func (s *PostgresStore) Snapshots(ctx context.Context, dispatchID string) ([]ETASnapshot, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, dispatch_id, vehicle_id, duration_sec, distance_m, calculated_at
		FROM dispatch_eta_snapshots WHERE dispatch_id=$1 ORDER BY calculated_at ASC`, dispatchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ETASnapshot
	for rows.Next() {
		var snap ETASnapshot
		if err := rows.Scan(&snap.ID, &snap.DispatchID, &snap.VehicleID,
			&snap.DurationSec, &snap.DistanceM, &snap.CalculatedAt); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *PostgresStore) VehicleFacts(ctx context.Context, vehicleID string, now time.Time) (*VehicleFacts, error) {
	var f VehicleFacts
	err := s.q.QueryRow(ctx, `
		SELECT v.name, v.license_plate, v.is_active, v.is_maintenance,
			EXISTS(SELECT 1 FROM attendance a
				WHERE a.vehicle_id=v.id AND a.clock_out_at IS NULL),
			EXISTS(SELECT 1 FROM dispatches d
				WHERE d.vehicle_id=v.id AND d.status IN ('accepted','en_route','arrived')),
			EXISTS(SELECT 1 FROM dispatches d
				WHERE d.vehicle_id=v.id AND d.status IN ('pending','assigned')),
			EXISTS(SELECT 1 FROM reservations r
				WHERE r.vehicle_id=v.id AND r.status='confirmed'
					AND r.start_time <= $2 AND r.end_time > $2)
		FROM vehicles v WHERE v.id=$1`, vehicleID, now).
		Scan(&f.Name, &f.Plate, &f.IsActive, &f.IsMaintenance,
			&f.DriverClockedIn, &f.InTrip, &f.HasPendingTrip, &f.ReservedNow)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *PostgresStore) DriverVehicle(ctx context.Context, driverID string) (string, error) {
	var id string
	err := s.q.QueryRow(ctx,
		`SELECT id FROM vehicles WHERE driver_id=$1 LIMIT 1`, driverID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, err
}
