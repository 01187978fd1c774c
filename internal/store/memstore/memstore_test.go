package memstore

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"citypulse.live/internal/store"
)

var bogota = store.Point{Lng: -74.0721, Lat: 4.7110}

func newCollectible(t *testing.T, s *Store, expiresIn time.Duration) string {
	t.Helper()
	id, err := s.InsertCollectible(context.Background(), store.Collectible{
		EventID:   "ev1",
		Name:      "Citizen",
		Rarity:    "common",
		Score:     10,
		Location:  bogota,
		DroppedAt: time.Now(),
		ExpiresAt: time.Now().Add(expiresIn),
		Active:    true,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return id
}

func claimCond(now time.Time) (store.CollectibleCond, store.CollectibleSet, *string) {
	active := true
	inactive := false
	claimant := "user-a"
	return store.CollectibleCond{Unclaimed: true, Active: &active, ExpiresAfter: &now},
		store.CollectibleSet{ClaimedBy: &claimant, ClaimedAt: &now, Active: &inactive},
		&claimant
}

func TestUpdateCollectible_WinnerThenNoMatch(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := newCollectible(t, s, time.Minute)

	now := time.Now()
	cond, set, claimant := claimCond(now)

	got, err := s.UpdateCollectible(ctx, id, cond, set)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got == nil || got.ClaimedBy != *claimant || got.Active {
		t.Fatalf("first update should match and claim, got %+v", got)
	}

	// Re-issuing the identical, already-succeeded condition must change
	// nothing and report no match.
	again, err := s.UpdateCollectible(ctx, id, cond, set)
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if again != nil {
		t.Fatalf("second identical conditional update matched: %+v", again)
	}
	final, err := s.GetCollectible(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.ClaimedBy != *claimant {
		t.Fatalf("claimed_by changed after no-match update: %q", final.ClaimedBy)
	}
}

func TestUpdateCollectible_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := newCollectible(t, s, time.Minute)

	const attempts = 300
	now := time.Now()
	active := true
	inactive := false

	var wg sync.WaitGroup
	wins := make(chan string, attempts)
	for i := 0; i < attempts; i++ {
		claimant := "user-" + strconv.Itoa(i)
		wg.Add(1)
		go func(who string) {
			defer wg.Done()
			got, err := s.UpdateCollectible(ctx, id,
				store.CollectibleCond{Unclaimed: true, Active: &active, ExpiresAfter: &now},
				store.CollectibleSet{ClaimedBy: &who, ClaimedAt: &now, Active: &inactive})
			if err != nil {
				t.Errorf("update: %v", err)
				return
			}
			if got != nil {
				wins <- who
			}
		}(claimant)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("want exactly one winner, got %d: %v", len(winners), winners)
	}
	final, _ := s.GetCollectible(ctx, id)
	if final.ClaimedBy != winners[0] {
		t.Fatalf("recorded claimant %q != winner %q", final.ClaimedBy, winners[0])
	}
}

func TestUpdateCollectible_ExpiredNeverClaimable(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := newCollectible(t, s, -time.Second)

	now := time.Now()
	cond, set, _ := claimCond(now)
	got, err := s.UpdateCollectible(ctx, id, cond, set)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got != nil {
		t.Fatalf("claimed an expired collectible: %+v", got)
	}
}

func TestCollectiblesNear_RadiusMonotonic(t *testing.T) {
	ctx := context.Background()
	s := New()

	offsets := []float64{100, 900, 2500, 4800}
	for _, m := range offsets {
		_, err := s.InsertCollectible(ctx, store.Collectible{
			EventID:   "ev1",
			Name:      "Citizen",
			Rarity:    "common",
			Location:  store.OffsetMeters(bogota, m, 0),
			ExpiresAt: time.Now().Add(time.Hour),
			Active:    true,
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	now := time.Now()
	var prev []store.Collectible
	for _, radius := range []float64{50, 500, 1000, 3000, 5000, 10000} {
		got, err := s.CollectiblesNear(ctx, bogota, radius, now, 0)
		if err != nil {
			t.Fatalf("near(%v): %v", radius, err)
		}
		// Growing the radius never removes a previously included result.
		seen := make(map[string]bool, len(got))
		for _, c := range got {
			seen[c.ID] = true
		}
		for _, c := range prev {
			if !seen[c.ID] {
				t.Fatalf("radius %v dropped %s returned at smaller radius", radius, c.ID)
			}
		}
		// Ascending by distance.
		for i := 1; i < len(got); i++ {
			di := store.DistanceMeters(bogota, got[i-1].Location)
			dj := store.DistanceMeters(bogota, got[i].Location)
			if di > dj {
				t.Fatalf("radius %v: results not distance-ordered", radius)
			}
		}
		prev = got
	}
	if len(prev) != len(offsets) {
		t.Fatalf("largest radius returned %d, want %d", len(prev), len(offsets))
	}
}

func TestEventsNear_StatusFilterAndLimit(t *testing.T) {
	ctx := context.Background()
	s := New()

	mk := func(m float64, status string) string {
		id, err := s.InsertEvent(ctx, store.Event{
			Title:     "ev",
			CreatorID: "c",
			Location:  store.OffsetMeters(bogota, m, 0),
			Status:    status,
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		return id
	}
	near := mk(100, store.EventActive)
	mk(200, store.EventEnded)
	mk(300, store.EventActive)

	got, err := s.EventsNear(ctx, bogota, 5000, store.EventActive, 1)
	if err != nil {
		t.Fatalf("near: %v", err)
	}
	if len(got) != 1 || got[0].ID != near {
		t.Fatalf("want nearest active event %s, got %+v", near, got)
	}
}

func TestEndEvent_TransitionsOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	id, _ := s.InsertEvent(ctx, store.Event{Title: "t", CreatorID: "c", Location: bogota, Status: store.EventActive})

	ended, err := s.EndEvent(ctx, id)
	if err != nil || ended == nil || ended.Status != store.EventEnded {
		t.Fatalf("first end: %+v, %v", ended, err)
	}
	again, err := s.EndEvent(ctx, id)
	if err != nil {
		t.Fatalf("second end: %v", err)
	}
	if again != nil {
		t.Fatalf("ended -> ended matched: %+v", again)
	}
}
