// Package proximity computes the set of active events and collectibles
// near a point. Read-only; results are materialized, distance-ordered,
// and capped.
package proximity

import (
	"context"
	"time"

	"citypulse.live/internal/store"
)

type EventHit struct {
	store.Event
	DistanceM float64
}

type CollectibleHit struct {
	store.Collectible
	DistanceM float64
}

type Matcher struct {
	st store.Store
}

func NewMatcher(st store.Store) *Matcher {
	return &Matcher{st: st}
}

// NearbyEvents returns active events within radiusMeters of center,
// ascending by distance with id tie-break, at most limit.
func (m *Matcher) NearbyEvents(ctx context.Context, center store.Point, radiusMeters float64, limit int) ([]EventHit, error) {
	evs, err := m.st.EventsNear(ctx, center, radiusMeters, store.EventActive, limit)
	if err != nil {
		return nil, err
	}
	out := make([]EventHit, 0, len(evs))
	for _, ev := range evs {
		out = append(out, EventHit{Event: ev, DistanceM: store.DistanceMeters(center, ev.Location)})
	}
	return out, nil
}

// NearbyCollectibles returns active, unexpired collectibles within
// radiusMeters of center.
func (m *Matcher) NearbyCollectibles(ctx context.Context, center store.Point, radiusMeters float64, now time.Time, limit int) ([]CollectibleHit, error) {
	cs, err := m.st.CollectiblesNear(ctx, center, radiusMeters, now, limit)
	if err != nil {
		return nil, err
	}
	out := make([]CollectibleHit, 0, len(cs))
	for _, c := range cs {
		out = append(out, CollectibleHit{Collectible: c, DistanceM: store.DistanceMeters(center, c.Location)})
	}
	return out, nil
}
