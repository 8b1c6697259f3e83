package vehicles

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	rredis "dispatch-service/pkg/redis"
	"dispatch-service/pkg/validation"
)

// Service contains vehicle business logic.
type Service struct {
	db         *pgxpool.Pool
	redis      *rredis.Client
	log        *logrus.Logger
	staleAfter time.Duration
}

// NewService creates a vehicle service.
func NewService(db *pgxpool.Pool, redis *rredis.Client, log *logrus.Logger, staleAfter time.Duration) *Service {
	return &Service{db: db, redis: redis, log: log, staleAfter: staleAfter}
}

// Create registers a new vehicle.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Vehicle, error) {
	if !validation.ValidateName(req.Name) {
		return nil, ErrInvalidName
	}
	if !validation.ValidatePlate(req.LicensePlate) {
		return nil, ErrInvalidPlate
	}

	var exists bool
	_ = s.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM vehicles WHERE license_plate=$1)", req.LicensePlate).Scan(&exists)
	if exists {
		return nil, ErrPlateExists
	}

	capacity := req.Capacity
	if capacity <= 0 {
		capacity = 4
	}

	v := &Vehicle{
		ID:           uuid.NewString(),
		Name:         req.Name,
		LicensePlate: req.LicensePlate,
		Model:        req.Model,
		Capacity:     capacity,
		DriverID:     req.DriverID,
		IsActive:     true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO vehicles (id, name, license_plate, model, capacity, driver_id, is_active, is_maintenance, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,true,false,$7,$7)`,
		v.ID, v.Name, v.LicensePlate, v.Model, v.Capacity, v.DriverID, v.CreatedAt)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"vehicle": v.ID, "plate": v.LicensePlate}).Info("vehicle registered")
	return v, nil
}

// Get returns one vehicle with derived status and position.
func (s *Service) Get(ctx context.Context, id string) (*VehicleView, error) {
	v, err := s.getRow(ctx, id)
	if err != nil {
		return nil, err
	}
	view, err := s.buildView(ctx, v)
	if err != nil {
		return nil, err
	}
	return view, nil
}

// List returns all vehicles with derived status, active ones first.
func (s *Service) List(ctx context.Context, includeInactive bool) ([]VehicleView, error) {
	query := `SELECT id, name, license_plate, model, capacity, driver_id, is_active, is_maintenance, created_at, updated_at
		FROM vehicles`
	if !includeInactive {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY is_active DESC, name ASC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VehicleView
	for rows.Next() {
		var v Vehicle
		if err := rows.Scan(&v.ID, &v.Name, &v.LicensePlate, &v.Model, &v.Capacity,
			&v.DriverID, &v.IsActive, &v.IsMaintenance, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		view, err := s.buildView(ctx, &v)
		if err != nil {
			return nil, err
		}
		out = append(out, *view)
	}
	return out, rows.Err()
}

// Update applies partial changes to a vehicle.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*Vehicle, error) {
	v, err := s.getRow(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		if !validation.ValidateName(*req.Name) {
			return nil, ErrInvalidName
		}
		v.Name = *req.Name
	}
	if req.Model != nil {
		v.Model = *req.Model
	}
	if req.Capacity != nil && *req.Capacity > 0 {
		v.Capacity = *req.Capacity
	}
	if req.DriverID != nil {
		v.DriverID = req.DriverID
	}
	if req.IsActive != nil {
		v.IsActive = *req.IsActive
	}

	_, err = s.db.Exec(ctx, `
		UPDATE vehicles SET name=$1, model=$2, capacity=$3, driver_id=$4, is_active=$5, updated_at=NOW()
		WHERE id=$6`,
		v.Name, v.Model, v.Capacity, v.DriverID, v.IsActive, id)
	if err != nil {
		return nil, err
	}

	if req.IsActive != nil && !v.IsActive {
		if err := s.redis.RemoveVehiclePosition(ctx, id); err != nil {
			s.log.WithError(err).Warn("failed to drop position of disabled vehicle")
		}
	}
	return v, nil
}

// SetMaintenance toggles the maintenance flag.
func (s *Service) SetMaintenance(ctx context.Context, id string, on bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE vehicles SET is_maintenance=$1, updated_at=NOW() WHERE id=$2`, on, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.log.WithFields(logrus.Fields{"vehicle": id, "maintenance": on}).Info("maintenance toggled")
	return nil
}

// ClockIn opens an attendance record for the driver on their vehicle.
// A still-open record for the same driver is closed first.
func (s *Service) ClockIn(ctx context.Context, driverID, vehicleID string) (*Attendance, error) {
	if _, err := s.getRow(ctx, vehicleID); err != nil {
		return nil, err
	}
	_, err := s.db.Exec(ctx,
		`UPDATE attendance SET clock_out_at=NOW() WHERE driver_id=$1 AND clock_out_at IS NULL`, driverID)
	if err != nil {
		return nil, err
	}

	a := &Attendance{
		ID:        uuid.NewString(),
		DriverID:  driverID,
		VehicleID: vehicleID,
		ClockInAt: time.Now(),
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO attendance (id, driver_id, vehicle_id, clock_in_at) VALUES ($1,$2,$3,$4)`,
		a.ID, a.DriverID, a.VehicleID, a.ClockInAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ClockOut closes the driver's open attendance record.
func (s *Service) ClockOut(ctx context.Context, driverID string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE attendance SET clock_out_at=NOW() WHERE driver_id=$1 AND clock_out_at IS NULL`, driverID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("no open attendance record")
	}
	return nil
}

// ---- internals ----

func (s *Service) getRow(ctx context.Context, id string) (*Vehicle, error) {
	var v Vehicle
	err := s.db.QueryRow(ctx, `
		SELECT id, name, license_plate, model, capacity, driver_id, is_active, is_maintenance, created_at, updated_at
		FROM vehicles WHERE id=$1`, id).
		Scan(&v.ID, &v.Name, &v.LicensePlate, &v.Model, &v.Capacity,
			&v.DriverID, &v.IsActive, &v.IsMaintenance, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// buildView gathers derivation facts and attaches the cached position.
func (s *Service) buildView(ctx context.Context, v *Vehicle) (*VehicleView, error) {
	now := time.Now()
	f := Facts{IsMaintenance: v.IsMaintenance}

	err := s.db.QueryRow(ctx, `
		SELECT
			EXISTS(SELECT 1 FROM attendance a
				WHERE a.vehicle_id=$1 AND a.clock_out_at IS NULL),
			EXISTS(SELECT 1 FROM dispatches d
				WHERE d.vehicle_id=$1 AND d.status IN ('accepted','en_route','arrived')),
			EXISTS(SELECT 1 FROM reservations r
				WHERE r.vehicle_id=$1 AND r.status='confirmed'
					AND r.start_time <= $2 AND r.end_time > $2),
			EXISTS(SELECT 1 FROM dispatches d
				WHERE d.vehicle_id=$1 AND d.status IN ('pending','assigned'))`,
		v.ID, now).
		Scan(&f.DriverClockedIn, &f.InTrip, &f.ReservedNow, &f.HasPendingTrip)
	if err != nil {
		return nil, err
	}

	view := &VehicleView{Vehicle: *v}
	pos, err := s.redis.GetVehiclePosition(ctx, v.ID)
	if err != nil {
		s.log.WithError(err).Warn("position lookup failed")
	}
	if pos != nil {
		f.HasPosition = true
		f.PositionAt = pos.RecordedAt
		view.Lat, view.Lng = &pos.Lat, &pos.Lng
		view.Heading, view.Speed = &pos.Heading, &pos.Speed
		view.LocationAt = &pos.RecordedAt
	}

	view.Status = Derive(f, now, s.staleAfter)
	return view, nil
}
