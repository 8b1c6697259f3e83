package locations

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dispatch-service/internal/auth"
	"dispatch-service/pkg/jwt"
)

// Handler exposes location HTTP endpoints.
type Handler struct{ svc *Service }

// NewHandler wires a handler to the location service.
func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

// Routes returns a chi.Router with all location routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(jwt.RequireAuth)

	r.With(auth.RequireRole(auth.RoleDriver)).Post("/report", h.Report)
	r.Get("/{vehicleID}/current", h.Current)
	r.Get("/{vehicleID}/history", h.History)

	return r
}

func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	claims := jwt.GetClaims(r.Context())

	var req ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VehicleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "vehicle_id and points are required"})
		return
	}

	owns, err := h.svc.OwnsVehicle(r.Context(), claims.UserID, req.VehicleID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !owns {
		writeError(w, ErrNotYourRig)
		return
	}

	if err := h.svc.Report(r.Context(), req.VehicleID, req.Points); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ingested": len(req.Points)})
}

func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Current(r.Context(), chi.URLParam(r, "vehicleID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lat":         p.Lat,
		"lng":         p.Lng,
		"heading":     p.Heading,
		"speed":       p.Speed,
		"recorded_at": p.RecordedAt,
	})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	from, to := now.Add(-time.Hour), now
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid from"})
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid to"})
			return
		}
		to = t
	}

	history, err := h.svc.History(r.Context(), chi.URLParam(r, "vehicleID"), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": history, "count": len(history)})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNoPoints), errors.Is(err, ErrBadCoords):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotYourRig):
		status = http.StatusForbidden
	case errors.Is(err, ErrNeverTracked):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
