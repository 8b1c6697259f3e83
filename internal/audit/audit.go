package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"dispatch-service/internal/auth"
	"dispatch-service/pkg/jwt"
)

// Entry is one recorded action. Before and After hold JSON snapshots of the
// touched entity so resolutions can be reviewed later.
type Entry struct {
	ID         string          `json:"id"`
	ActorID    string          `json:"actor_id"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Service writes and reads the audit trail.
type Service struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

func NewService(db *pgxpool.Pool, log *logrus.Logger) *Service {
	return &Service{db: db, log: log}
}

// Log records an action. Failures are logged and swallowed: an audit miss
// must never fail the action it describes.
func (s *Service) Log(ctx context.Context, actorID, action, entityType, entityID string, before, after any, reason string) {
	beforeJSON, _ := json.Marshal(before)
	afterJSON, _ := json.Marshal(after)

	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_log (id, actor_id, action, entity_type, entity_id, before, after, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())`,
		uuid.NewString(), actorID, action, entityType, entityID, beforeJSON, afterJSON, reason)
	if err != nil {
		s.log.WithError(err).WithField("action", action).Warn("audit write failed")
	}
}

// List returns recent entries, newest first, optionally filtered by entity.
func (s *Service) List(ctx context.Context, entityType, entityID string, limit, offset int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, actor_id, action, entity_type, entity_id, before, after, reason, created_at FROM audit_log`
	args := []any{}
	if entityType != "" {
		args = append(args, entityType)
		query += ` WHERE entity_type=$1`
		if entityID != "" {
			args = append(args, entityID)
			query += ` AND entity_id=$2`
		}
	}
	args = append(args, limit, offset)
	query += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID,
			&e.Before, &e.After, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Middleware records every authenticated mutating request as a coarse audit
// entry. Services add finer-grained entries with before/after snapshots
// where a resolution needs review.
func Middleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)

			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				return
			}
			claims := jwt.GetClaims(r.Context())
			if claims == nil {
				return
			}
			// The request context may already be cancelled once the
			// response is written.
			svc.Log(context.Background(), claims.UserID,
				r.Method+" "+r.URL.Path, "http", r.URL.Path, nil, nil, "")
		})
	}
}

// Handler exposes the audit trail read endpoint.
type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

// Routes returns a chi.Router for /audit.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(jwt.RequireAuth)
	r.Use(auth.RequirePermission(auth.PermViewAudit))
	r.Get("/", h.List)
	return r
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := h.svc.List(r.Context(),
		r.URL.Query().Get("entity_type"), r.URL.Query().Get("entity_id"), limit, offset)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"entries": entries, "count": len(entries)})
}
