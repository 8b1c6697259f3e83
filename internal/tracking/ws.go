package tracking

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// safeConn wraps a websocket.Conn with a write mutex.
// gorilla/websocket allows one concurrent writer; this enforces that.
type safeConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *safeConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *safeConn) readMessage() (int, []byte, error) {
	return c.ws.ReadMessage()
}

func (c *safeConn) close() { c.ws.Close() }

// Hub manages WebSocket subscriptions per vehicle, plus a fleet-wide feed
// the dispatch map uses. Vehicle id "*" subscribes to everything.
type Hub struct {
	log   *logrus.Logger
	mu    sync.RWMutex
	conns map[string][]*safeConn
}

// NewHub creates a tracking hub.
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{log: log, conns: make(map[string][]*safeConn)}
}

// Routes returns a chi.Router for the /ws mount point.
func (h *Hub) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/fleet", h.handleFleet)
	r.Get("/vehicles/{id}", h.HandleWS)
	return r
}

func (h *Hub) handleFleet(w http.ResponseWriter, r *http.Request) {
	h.subscribe(w, r, "*")
}

// HandleWS upgrades the connection and subscribes it to one vehicle.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	h.subscribe(w, r, chi.URLParam(r, "id"))
}

func (h *Hub) subscribe(w http.ResponseWriter, r *http.Request, key string) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}

	conn := &safeConn{ws: ws}

	h.mu.Lock()
	h.conns[key] = append(h.conns[key], conn)
	h.mu.Unlock()

	h.log.WithField("stream", key).Debug("ws client connected")

	// Block until the client disconnects
	for {
		if _, _, err := conn.readMessage(); err != nil {
			break
		}
	}

	h.removeConn(key, conn)
	conn.close()
	h.log.WithField("stream", key).Debug("ws client disconnected")
}

// BroadcastPosition pushes a vehicle position to its subscribers and the
// fleet feed. Safe for concurrent calls.
func (h *Hub) BroadcastPosition(vehicleID string, lat, lng, heading, speed float64, recordedAt time.Time) {
	h.mu.RLock()
	conns := append(h.conns[vehicleID][:len(h.conns[vehicleID]):len(h.conns[vehicleID])], h.conns["*"]...)
	h.mu.RUnlock()

	if len(conns) == 0 {
		return
	}

	msg := map[string]any{
		"vehicle_id":  vehicleID,
		"lat":         lat,
		"lng":         lng,
		"heading":     heading,
		"speed":       speed,
		"recorded_at": recordedAt.UTC().Format(time.RFC3339),
	}

	for _, c := range conns {
		if err := c.writeJSON(msg); err != nil {
			h.log.WithError(err).Debug("ws write error")
		}
	}
}

func (h *Hub) removeConn(key string, conn *safeConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.conns[key]
	for i, c := range conns {
		if c == conn {
			h.conns[key] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.conns[key]) == 0 {
		delete(h.conns, key)
	}
}
