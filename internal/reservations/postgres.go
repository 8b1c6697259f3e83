package reservations

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

// PostgresStore implements Store on a pgx pool. Inside WithTx the same
// struct runs against the transaction instead of the pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	q    querier
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if _, inTx := s.q.(pgx.Tx); inTx {
		return fn(s) // already transactional
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

const reservationCols = `id, vehicle_id, requester_id, start_time, end_time, purpose, destinations,
	notes, passenger_name, pickup_address, pickup_lat, pickup_lng, priority_level, status,
	cancel_reason, cancelled_by, declined_vehicle_ids, created_at, updated_at`

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation
	err := row.Scan(&r.ID, &r.VehicleID, &r.RequesterID, &r.StartTime, &r.EndTime,
		&r.Purpose, &r.Destinations, &r.Notes, &r.PassengerName, &r.PickupAddress,
		&r.PickupLat, &r.PickupLng, &r.PriorityLevel, &r.Status,
		&r.CancelReason, &r.CancelledBy, &r.DeclinedVehicleIDs, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) Insert(ctx context.Context, r *Reservation) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO reservations (id, vehicle_id, requester_id, start_time, end_time, purpose,
			destinations, notes, passenger_name, pickup_address, pickup_lat, pickup_lng,
			priority_level, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)`,
		r.ID, r.VehicleID, r.RequesterID, r.StartTime, r.EndTime, r.Purpose,
		r.Destinations, r.Notes, r.PassengerName, r.PickupAddress, r.PickupLat, r.PickupLng,
		r.PriorityLevel, r.Status, r.CreatedAt)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Reservation, error) {
	r, err := scanReservation(s.q.QueryRow(ctx,
		`SELECT `+reservationCols+` FROM reservations WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (s *PostgresStore) List(ctx context.Context, f ListFilter) ([]Reservation, error) {
	query := `SELECT ` + reservationCols + ` FROM reservations WHERE 1=1`
	args := []any{}

	if f.VehicleID != "" {
		args = append(args, f.VehicleID)
		query += fmt.Sprintf(" AND vehicle_id=$%d", len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		query += fmt.Sprintf(" AND end_time >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		query += fmt.Sprintf(" AND start_time <= $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status=$%d", len(args))
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY start_time ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReservations(rows)
}

func (s *PostgresStore) FindConfirmedOverlapping(ctx context.Context, vehicleID string, start, end time.Time, excludeID string) ([]Reservation, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+reservationCols+` FROM reservations
		WHERE vehicle_id=$1 AND status='confirmed'
			AND start_time < $3 AND end_time > $2
			AND ($4 = '' OR id <> $4)
		ORDER BY start_time ASC`,
		vehicleID, start, end, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReservations(rows)
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	_, err := s.q.Exec(ctx,
		`UPDATE reservations SET status=$1, updated_at=NOW() WHERE id=$2`, status, id)
	return err
}

func (s *PostgresStore) UpdateVehicle(ctx context.Context, id, vehicleID string) error {
	_, err := s.q.Exec(ctx,
		`UPDATE reservations SET vehicle_id=$1, updated_at=NOW() WHERE id=$2`, vehicleID, id)
	return err
}

func (s *PostgresStore) UpdateWindow(ctx context.Context, id string, start, end time.Time) error {
	_, err := s.q.Exec(ctx,
		`UPDATE reservations SET start_time=$1, end_time=$2, updated_at=NOW() WHERE id=$3`,
		start, end, id)
	return err
}

func (s *PostgresStore) UpdateDetails(ctx context.Context, r *Reservation) error {
	_, err := s.q.Exec(ctx, `
		UPDATE reservations SET purpose=$1, destinations=$2, notes=$3, updated_at=NOW()
		WHERE id=$4`,
		r.Purpose, r.Destinations, r.Notes, r.ID)
	return err
}

func (s *PostgresStore) Cancel(ctx context.Context, id, cancelledBy, reason string) error {
	_, err := s.q.Exec(ctx, `
		UPDATE reservations SET status='cancelled', cancelled_by=$1, cancel_reason=$2, updated_at=NOW()
		WHERE id=$3`, cancelledBy, reason, id)
	return err
}

func (s *PostgresStore) AddDeclinedVehicle(ctx context.Context, id, vehicleID string) error {
	_, err := s.q.Exec(ctx, `
		UPDATE reservations
		SET declined_vehicle_ids = array_append(declined_vehicle_ids, $1), updated_at=NOW()
		WHERE id=$2`, vehicleID, id)
	return err
}

func (s *PostgresStore) FindVehicleForSlot(ctx context.Context, start, end time.Time, exclude []string) (string, error) {
	if exclude == nil {
		exclude = []string{}
	}
	var id string
	err := s.q.QueryRow(ctx, `
		SELECT v.id FROM vehicles v
		WHERE v.is_active AND NOT v.is_maintenance
			AND v.id <> ALL($3::text[])
			AND NOT EXISTS (
				SELECT 1 FROM reservations r
				WHERE r.vehicle_id = v.id AND r.status = 'confirmed'
					AND r.start_time < $2 AND r.end_time > $1
			)
		ORDER BY v.name LIMIT 1`, start, end, exclude).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, err
}

func (s *PostgresStore) FindPendingForVehicle(ctx context.Context, vehicleID string) ([]Reservation, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+reservationCols+` FROM reservations
		WHERE vehicle_id=$1 AND status='pending_driver'
		ORDER BY start_time ASC`, vehicleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReservations(rows)
}

func (s *PostgresStore) CompleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE reservations SET status='completed', updated_at=NOW()
		WHERE status='confirmed' AND end_time <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ---- conflicts ----

const conflictCols = `id, winning_reservation_id, losing_reservation_id, status,
	resolved_by, resolution_reason, resolved_at, created_at`

func scanConflict(row pgx.Row) (*Conflict, error) {
	var c Conflict
	err := row.Scan(&c.ID, &c.WinningReservationID, &c.LosingReservationID, &c.Status,
		&c.ResolvedBy, &c.ResolutionReason, &c.ResolvedAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) InsertConflict(ctx context.Context, c *Conflict) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO reservation_conflicts (id, winning_reservation_id, losing_reservation_id, status, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		c.ID, c.WinningReservationID, c.LosingReservationID, c.Status, c.CreatedAt)
	return err
}

func (s *PostgresStore) GetConflict(ctx context.Context, id string) (*Conflict, error) {
	c, err := scanConflict(s.q.QueryRow(ctx,
		`SELECT `+conflictCols+` FROM reservation_conflicts WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *PostgresStore) ListPendingConflicts(ctx context.Context) ([]Conflict, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+conflictCols+` FROM reservation_conflicts
		WHERE status='pending' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ResolveConflict(ctx context.Context, id, resolvedBy, reason string, status ConflictStatus) error {
	_, err := s.q.Exec(ctx, `
		UPDATE reservation_conflicts
		SET status=$1, resolved_by=$2, resolution_reason=$3, resolved_at=NOW()
		WHERE id=$4 AND status='pending'`,
		status, resolvedBy, reason, id)
	return err
}

func collectReservations(rows pgx.Rows) ([]Reservation, error) {
	var out []Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
