package proximity

import (
	"context"
	"testing"
	"time"

	"citypulse.live/internal/store"
	"citypulse.live/internal/store/memstore"
)

var plaza = store.Point{Lng: -74.0721, Lat: 4.7110}

func TestNearbyEventsActiveOnlyWithDistance(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	m := NewMatcher(st)

	mk := func(eastM float64, status string) string {
		id, err := st.InsertEvent(ctx, store.Event{
			Title: "ev", CreatorID: "c",
			Location: store.OffsetMeters(plaza, eastM, 0), Status: status,
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		return id
	}
	near := mk(400, store.EventActive)
	mk(600, store.EventEnded)
	far := mk(2000, store.EventActive)
	mk(9000, store.EventActive)

	hits, err := m.NearbyEvents(ctx, plaza, 5000, 0)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(hits) != 2 || hits[0].ID != near || hits[1].ID != far {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].DistanceM < 350 || hits[0].DistanceM > 450 {
		t.Fatalf("distance = %.1f, want ~400", hits[0].DistanceM)
	}
}

func TestNearbyCollectiblesSkipsClaimedAndExpired(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	m := NewMatcher(st)

	now := time.Now()
	mk := func(c store.Collectible) string {
		id, err := st.InsertCollectible(ctx, c)
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		return id
	}
	live := mk(store.Collectible{EventID: "ev1", Location: plaza, ExpiresAt: now.Add(time.Minute), Active: true})
	mk(store.Collectible{EventID: "ev1", Location: plaza, ExpiresAt: now.Add(-time.Second), Active: true})
	mk(store.Collectible{EventID: "ev1", Location: plaza, ExpiresAt: now.Add(time.Minute), ClaimedBy: "alice", Active: false})

	hits, err := m.NearbyCollectibles(ctx, plaza, 5000, now, 0)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != live {
		t.Fatalf("hits = %+v", hits)
	}
}
