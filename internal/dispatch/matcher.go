package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dispatch-service/internal/events"
	rredis "dispatch-service/pkg/redis"
)

// Matcher consumes dispatch.requested events and pre-computes candidate ETAs
// for the nearest vehicles, so the dispatcher's assignment screen opens with
// estimates already on file.
type Matcher struct {
	svc    *Service
	geo    *rredis.Client
	log    *logrus.Logger
	radius float64
	count  int
}

// NewMatcher builds a matcher searching radiusKm around each pickup.
func NewMatcher(svc *Service, geo *rredis.Client, log *logrus.Logger, radiusKm float64, count int) *Matcher {
	if radiusKm <= 0 {
		radiusKm = 10
	}
	if count <= 0 {
		count = 5
	}
	return &Matcher{svc: svc, geo: geo, log: log, radius: radiusKm, count: count}
}

// Handle processes one dispatch.requested message. Errors are logged, not
// returned: a bad message must not stall the consumer.
func (m *Matcher) Handle(raw []byte) {
	var ev events.DispatchRequestedEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		m.log.WithError(err).Warn("matcher: malformed dispatch.requested event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	nearby, err := m.geo.GetNearbyVehicles(ctx, ev.Pickup.Lat, ev.Pickup.Lng, m.radius, m.count)
	if err != nil {
		m.log.WithError(err).Warn("matcher: geo search failed")
		return
	}
	if len(nearby) == 0 {
		m.log.WithField("dispatch", ev.DispatchID).Info("matcher: no vehicles near pickup")
		return
	}

	etas, err := m.svc.CalculateETAs(ctx, ev.Pickup.Lat, ev.Pickup.Lng)
	if err != nil {
		m.log.WithError(err).Warn("matcher: eta fan-out failed")
		return
	}

	near := make(map[string]bool, len(nearby))
	for _, id := range nearby {
		near[id] = true
	}

	recorded := 0
	best := ""
	for _, eta := range etas {
		if !near[eta.VehicleID] || !eta.IsAvailable {
			continue
		}
		if best == "" {
			best = eta.VehicleID // etas are sorted by duration ascending
		}
		snap := &ETASnapshot{
			ID:           uuid.NewString(),
			DispatchID:   ev.DispatchID,
			VehicleID:    eta.VehicleID,
			DurationSec:  eta.DurationSec,
			DistanceM:    eta.DistanceM,
			CalculatedAt: time.Now(),
		}
		if err := m.svc.RecordSnapshot(ctx, snap); err != nil {
			m.log.WithError(err).Warn("matcher: snapshot insert failed")
			continue
		}
		recorded++
	}

	m.log.WithFields(logrus.Fields{
		"dispatch":   ev.DispatchID,
		"candidates": recorded,
	}).Info("matcher: candidate ETAs recorded")

	if best == "" {
		return
	}
	// Auto-assign the closest candidate. A dispatcher may have assigned
	// manually in the meantime; losing that race is fine.
	if _, err := m.svc.Assign(ctx, ev.DispatchID, best, ""); err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{
			"dispatch": ev.DispatchID,
			"vehicle":  best,
		}).Info("matcher: auto-assign skipped")
		return
	}
	m.log.WithFields(logrus.Fields{"dispatch": ev.DispatchID, "vehicle": best}).Info("matcher: auto-assigned")
}
