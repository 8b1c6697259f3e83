package dispatch

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"dispatch-service/internal/auth"
	"dispatch-service/pkg/jwt"
	"dispatch-service/pkg/validation"
)

// Handler exposes dispatch HTTP endpoints.
type Handler struct{ svc *Service }

// NewHandler wires a handler to the dispatch service.
func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

// Routes returns a chi.Router with dispatcher-facing dispatch routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(jwt.RequireAuth)

	r.Get("/", h.List)
	r.Get("/{id}", h.GetByID)
	r.Get("/{id}/eta-snapshots", h.Snapshots)
	r.With(auth.RequirePermission(auth.PermCreateDispatch)).Post("/", h.Create)
	r.With(auth.RequirePermission(auth.PermAssignDispatch)).Post("/calculate-eta", h.CalculateETAs)
	r.With(auth.RequirePermission(auth.PermAssignDispatch)).Post("/{id}/assign", h.Assign)
	r.With(auth.RequirePermission(auth.PermAssignDispatch)).Post("/quick-board", h.QuickBoard)
	r.With(auth.RequirePermission(auth.PermCancelDispatch)).Post("/{id}/cancel", h.Cancel)

	return r
}

// DriverRoutes returns a chi.Router with driver-facing trip routes.
func (h *Handler) DriverRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(jwt.RequireAuth)
	r.Use(auth.RequireRole(auth.RoleDriver))

	r.Get("/trips/current", h.CurrentTrip)
	r.Post("/board", h.Board)
	r.Post("/trips/{id}/accept", h.advanceTo(StatusAccepted))
	r.Post("/trips/{id}/en-route", h.advanceTo(StatusEnRoute))
	r.Post("/trips/{id}/arrived", h.advanceTo(StatusArrived))
	r.Post("/trips/{id}/alight", h.advanceTo(StatusCompleted))

	return r
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	claims := jwt.GetClaims(r.Context())

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if req.PickupAddress == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "pickup_address is required"})
		return
	}
	if req.PickupLat != nil && req.PickupLng != nil &&
		!validation.ValidateCoordinates(*req.PickupLat, *req.PickupLng) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid pickup coordinates"})
		return
	}

	d, err := h.svc.Create(r.Context(), req, claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	list, err := h.svc.List(r.Context(), Status(r.URL.Query().Get("status")), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dispatches": list, "count": len(list)})
}

func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) CalculateETAs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PickupLat float64 `json:"pickup_lat"`
		PickupLng float64 `json:"pickup_lng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		!validation.ValidateCoordinates(req.PickupLat, req.PickupLng) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "valid pickup_lat and pickup_lng are required"})
		return
	}

	etas, err := h.svc.CalculateETAs(r.Context(), req.PickupLat, req.PickupLng)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"etas": etas, "count": len(etas)})
}

func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	claims := jwt.GetClaims(r.Context())

	var req struct {
		VehicleID string `json:"vehicle_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VehicleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "vehicle_id is required"})
		return
	}

	d, err := h.svc.Assign(r.Context(), chi.URLParam(r, "id"), req.VehicleID, claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) QuickBoard(w http.ResponseWriter, r *http.Request) {
	claims := jwt.GetClaims(r.Context())

	var req QuickBoardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VehicleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "vehicle_id is required"})
		return
	}

	d, err := h.svc.QuickBoard(r.Context(), req, claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	claims := jwt.GetClaims(r.Context())

	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	d, err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason, claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) Snapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.svc.Snapshots(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps, "count": len(snaps)})
}

func (h *Handler) CurrentTrip(w http.ResponseWriter, r *http.Request) {
	claims := jwt.GetClaims(r.Context())
	d, err := h.svc.CurrentTrip(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	if d == nil {
		writeJSON(w, http.StatusOK, map[string]any{"trip": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trip": d})
}

func (h *Handler) Board(w http.ResponseWriter, r *http.Request) {
	claims := jwt.GetClaims(r.Context())

	var req BoardRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	d, err := h.svc.DriverBoard(r.Context(), req, claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *Handler) advanceTo(to Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := jwt.GetClaims(r.Context())
		d, err := h.svc.Advance(r.Context(), chi.URLParam(r, "id"), claims.UserID, to)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var invalid *InvalidTransitionError
	switch {
	case errors.As(err, &invalid):
		status = http.StatusConflict
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrVehicleNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrReasonRequired), errors.Is(err, ErrMissingPickup):
		status = http.StatusBadRequest
	case errors.Is(err, ErrVehicleNotAvailable), errors.Is(err, ErrNotPending), errors.Is(err, ErrNotYourTrip):
		status = http.StatusConflict
	case errors.Is(err, ErrBusy):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
