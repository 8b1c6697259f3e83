package bookings

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"dispatch-service/internal/dispatch"
	"dispatch-service/internal/reservations"
)

var (
	ErrMissingTime     = errors.New("start_time and end_time are required for future bookings")
	ErrMissingVehicle  = errors.New("vehicle_id is required when mode is specific")
	ErrInvalidMode     = errors.New("mode must be specific or any")
	ErrNoVehicleLinked = errors.New("no vehicle is linked to this driver")
)

// Request is the unified booking body: ride now or reserve later, on a
// specific vehicle or any free one.
type Request struct {
	IsNow         bool       `json:"is_now"`
	Mode          string     `json:"mode"` // specific | any
	VehicleID     *string    `json:"vehicle_id,omitempty"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	Purpose       string     `json:"purpose"`
	Destinations  []string   `json:"destinations,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	PassengerName *string    `json:"passenger_name,omitempty"`
	PickupAddress string     `json:"pickup_address"`
	PickupLat     *float64   `json:"pickup_lat,omitempty"`
	PickupLng     *float64   `json:"pickup_lng,omitempty"`
}

// Response reports which path the booking took.
type Response struct {
	Type        string                    `json:"type"` // dispatch | reservation
	Dispatch    *dispatch.Dispatch        `json:"dispatch,omitempty"`
	Reservation *reservations.Reservation `json:"reservation,omitempty"`
	Conflicts   []*reservations.Conflict  `json:"conflicts,omitempty"`
}

// Service routes unified bookings to the allocator or the reservation
// engine.
type Service struct {
	dispatchSvc *dispatch.Service
	engine      *reservations.Engine
	log         *logrus.Logger
}

func NewService(dispatchSvc *dispatch.Service, engine *reservations.Engine, log *logrus.Logger) *Service {
	return &Service{dispatchSvc: dispatchSvc, engine: engine, log: log}
}

// Create handles one unified booking. Immediate requests become dispatches
// (optionally assigned straight away); future requests become reservations
// awaiting driver acceptance.
func (s *Service) Create(ctx context.Context, req Request, requesterID string, priorityLevel int) (*Response, error) {
	if req.Mode != "specific" && req.Mode != "any" {
		return nil, ErrInvalidMode
	}
	if req.IsNow {
		return s.createNow(ctx, req, requesterID)
	}
	return s.createFuture(ctx, req, requesterID, priorityLevel)
}

func (s *Service) createNow(ctx context.Context, req Request, requesterID string) (*Response, error) {
	var dropoff *string
	if len(req.Destinations) > 0 {
		dropoff = &req.Destinations[0]
	}

	d, err := s.dispatchSvc.Create(ctx, dispatch.CreateRequest{
		Purpose:        req.Purpose,
		PassengerName:  req.PassengerName,
		PassengerCount: 1,
		Notes:          req.Notes,
		PickupAddress:  req.PickupAddress,
		PickupLat:      req.PickupLat,
		PickupLng:      req.PickupLng,
		DropoffAddress: dropoff,
	}, requesterID)
	if err != nil {
		return nil, err
	}

	if req.Mode == "specific" {
		if req.VehicleID == nil || *req.VehicleID == "" {
			return nil, ErrMissingVehicle
		}
		assigned, err := s.dispatchSvc.Assign(ctx, d.ID, *req.VehicleID, requesterID)
		if err != nil {
			return nil, err
		}
		d = assigned
	}

	return &Response{Type: "dispatch", Dispatch: d}, nil
}

func (s *Service) createFuture(ctx context.Context, req Request, requesterID string, priorityLevel int) (*Response, error) {
	if req.StartTime == nil || req.EndTime == nil {
		return nil, ErrMissingTime
	}

	var vehicleID string
	switch req.Mode {
	case "specific":
		if req.VehicleID == nil || *req.VehicleID == "" {
			return nil, ErrMissingVehicle
		}
		vehicleID = *req.VehicleID
	case "any":
		id, err := s.engine.FindVehicleForSlot(ctx, *req.StartTime, *req.EndTime)
		if err != nil {
			return nil, err
		}
		vehicleID = id
	}

	pickup := req.PickupAddress
	res, err := s.engine.CreatePendingDriver(ctx, reservations.AdmitRequest{
		VehicleID:     vehicleID,
		StartTime:     *req.StartTime,
		EndTime:       *req.EndTime,
		Purpose:       req.Purpose,
		Destinations:  req.Destinations,
		Notes:         req.Notes,
		PassengerName: req.PassengerName,
		PickupAddress: &pickup,
		PickupLat:     req.PickupLat,
		PickupLng:     req.PickupLng,
	}, requesterID, priorityLevel)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"reservation": res.ID,
		"vehicle":     vehicleID,
		"mode":        req.Mode,
	}).Info("future booking created")
	return &Response{Type: "reservation", Reservation: res}, nil
}
