package reservations

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dispatch-service/internal/auth"
	"dispatch-service/pkg/jwt"
)

// Handler exposes reservation and conflict HTTP endpoints.
type Handler struct{ engine *Engine }

// NewHandler wires a handler to the reservation engine.
func NewHandler(engine *Engine) *Handler { return &Handler{engine: engine} }

// Routes returns a chi.Router with all reservation routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(jwt.RequireAuth)

	r.Get("/", h.List)
	r.Get("/availability", h.Availability)
	r.Get("/{id}", h.GetByID)
	r.With(auth.RequirePermission(auth.PermCreateReservation)).Post("/", h.Create)
	r.With(auth.RequirePermission(auth.PermEditReservation)).Post("/{id}/cancel", h.Cancel)

	return r
}

// ConflictRoutes returns a chi.Router for the conflict resolution console.
func (h *Handler) ConflictRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(jwt.RequireAuth)
	r.Use(auth.RequirePermission(auth.PermResolveConflict))

	r.Get("/", h.ListConflicts)
	r.Get("/{id}", h.GetConflict)
	r.Post("/{id}/reassign", h.Reassign)
	r.Post("/{id}/change-time", h.ChangeTime)
	r.Post("/{id}/cancel", h.CancelLoser)
	r.With(auth.RequirePermission(auth.PermForceAssign)).Post("/{id}/force-assign", h.ForceAssign)

	return r
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	claims := jwt.GetClaims(r.Context())

	var req AdmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if req.VehicleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "vehicle_id is required"})
		return
	}

	res, conflicts, err := h.engine.Admit(r.Context(), req, claims.UserID, claims.PriorityLevel)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"reservation": res,
		"conflicts":   conflicts,
	})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	f := ListFilter{
		VehicleID: r.URL.Query().Get("vehicle_id"),
		Status:    Status(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid from"})
			return
		}
		f.From = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid to"})
			return
		}
		f.To = t
	}

	list, err := h.engine.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": list, "count": len(list)})
}

func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Availability answers "is this vehicle free for [start, end)" with the
// overlapping confirmed reservations when it is not.
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	vehicleID := r.URL.Query().Get("vehicle_id")
	start, err1 := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	end, err2 := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if vehicleID == "" || err1 != nil || err2 != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "vehicle_id, start and end are required"})
		return
	}

	overlapping, err := h.engine.CheckAvailability(r.Context(), vehicleID, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"available":   len(overlapping) == 0,
		"overlapping": overlapping,
	})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	claims := jwt.GetClaims(r.Context())

	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.engine.Cancel(r.Context(), chi.URLParam(r, "id"), claims.UserID, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// ---- conflict console ----

func (h *Handler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := h.engine.PendingConflicts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts, "count": len(conflicts)})
}

func (h *Handler) GetConflict(w http.ResponseWriter, r *http.Request) {
	c, err := h.engine.GetConflict(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) Reassign(w http.ResponseWriter, r *http.Request) {
	claims := jwt.GetClaims(r.Context())

	var req struct {
		NewVehicleID string `json:"new_vehicle_id"`
		Reason       string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NewVehicleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "new_vehicle_id is required"})
		return
	}

	raised, err := h.engine.Reassign(r.Context(), chi.URLParam(r, "id"), req.NewVehicleID, claims.UserID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "resolved_reassign", "new_conflicts": raised})
}

func (h *Handler) ChangeTime(w http.ResponseWriter, r *http.Request) {
	claims := jwt.GetClaims(r.Context())

	var req struct {
		StartTime time.Time `json:"start_time"`
		EndTime   time.Time `json:"end_time"`
		Reason    string    `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	raised, err := h.engine.ChangeTime(r.Context(), chi.URLParam(r, "id"), req.StartTime, req.EndTime, claims.UserID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "resolved_changed", "new_conflicts": raised})
}

func (h *Handler) CancelLoser(w http.ResponseWriter, r *http.Request) {
	claims := jwt.GetClaims(r.Context())

	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.engine.CancelLoser(r.Context(), chi.URLParam(r, "id"), claims.UserID, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved_cancelled"})
}

func (h *Handler) ForceAssign(w http.ResponseWriter, r *http.Request) {
	claims := jwt.GetClaims(r.Context())

	var req struct {
		Reason       string `json:"reason"`
		CancelWinner bool   `json:"cancel_winner"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	if err := h.engine.ForceAssign(r.Context(), chi.URLParam(r, "id"), claims.UserID, req.Reason, req.CancelWinner); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "force_assigned"})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidTimeWindow), errors.Is(err, ErrStartInPast), errors.Is(err, ErrReasonRequired):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflictNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrConflictAlreadyResolved), errors.Is(err, ErrNotPendingDriver), errors.Is(err, ErrNotYourVehicle):
		status = http.StatusConflict
	case errors.Is(err, ErrNoVehicleAvailable):
		status = http.StatusUnprocessableEntity
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
