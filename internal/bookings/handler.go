package bookings

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dispatch-service/internal/auth"
	"dispatch-service/internal/dispatch"
	"dispatch-service/internal/reservations"
	"dispatch-service/pkg/jwt"
)

// Handler exposes the unified booking endpoint plus the driver acceptance
// surface for future bookings.
type Handler struct {
	svc    *Service
	engine *reservations.Engine
}

func NewHandler(svc *Service, engine *reservations.Engine) *Handler {
	return &Handler{svc: svc, engine: engine}
}

// Routes returns a chi.Router for /bookings.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(jwt.RequireAuth)
	r.With(auth.RequirePermission(auth.PermCreateReservation)).Post("/", h.Create)
	return r
}

// DriverRoutes returns the driver-side pending booking surface.
func (h *Handler) DriverRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(jwt.RequireAuth)
	r.Use(auth.RequireRole(auth.RoleDriver))

	r.Get("/pending", h.Pending)
	r.Post("/{id}/accept", h.Accept)
	r.Post("/{id}/decline", h.Decline)

	return r
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	claims := jwt.GetClaims(r.Context())

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	resp, err := h.svc.Create(r.Context(), req, claims.UserID, claims.PriorityLevel)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Pending lists bookings awaiting this driver's acceptance.
func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	claims := jwt.GetClaims(r.Context())
	vehicleID, err := h.driverVehicle(r, claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	list, err := h.engine.PendingForVehicle(r.Context(), vehicleID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": list, "count": len(list)})
}

func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	claims := jwt.GetClaims(r.Context())
	vehicleID, err := h.driverVehicle(r, claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	res, conflicts, err := h.engine.DriverAccept(r.Context(), chi.URLParam(r, "id"), vehicleID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservation": res, "conflicts": conflicts})
}

func (h *Handler) Decline(w http.ResponseWriter, r *http.Request) {
	claims := jwt.GetClaims(r.Context())
	vehicleID, err := h.driverVehicle(r, claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.engine.DriverDecline(r.Context(), chi.URLParam(r, "id"), vehicleID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "declined"})
}

func (h *Handler) driverVehicle(r *http.Request, driverID string) (string, error) {
	vehicleID, err := h.svc.dispatchSvc.DriverVehicle(r.Context(), driverID)
	if err != nil {
		return "", err
	}
	if vehicleID == "" {
		return "", ErrNoVehicleLinked
	}
	return vehicleID, nil
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrMissingTime), errors.Is(err, ErrMissingVehicle), errors.Is(err, ErrInvalidMode),
		errors.Is(err, reservations.ErrInvalidTimeWindow), errors.Is(err, reservations.ErrStartInPast):
		status = http.StatusBadRequest
	case errors.Is(err, reservations.ErrNotFound), errors.Is(err, ErrNoVehicleLinked),
		errors.Is(err, dispatch.ErrVehicleNotFound):
		status = http.StatusNotFound
	case errors.Is(err, reservations.ErrNoVehicleAvailable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, reservations.ErrNotPendingDriver), errors.Is(err, reservations.ErrNotYourVehicle),
		errors.Is(err, dispatch.ErrVehicleNotAvailable), errors.Is(err, dispatch.ErrNotPending):
		status = http.StatusConflict
	case errors.Is(err, reservations.ErrBusy), errors.Is(err, dispatch.ErrBusy):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
