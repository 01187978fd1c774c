package sqlitestore

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"citypulse.live/internal/store"
)

var plaza = store.Point{Lng: -74.0721, Lat: 4.7110}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "pulse.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insertCollectible(t *testing.T, s *Store, expiresIn time.Duration) string {
	t.Helper()
	id, err := s.InsertCollectible(context.Background(), store.Collectible{
		EventID:   "ev1",
		Name:      "Citizen",
		Rarity:    "common",
		Score:     10,
		Location:  plaza,
		DroppedAt: time.Now(),
		ExpiresAt: time.Now().Add(expiresIn),
		Active:    true,
	})
	if err != nil {
		t.Fatalf("insert collectible: %v", err)
	}
	return id
}

func TestClaimConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id := insertCollectible(t, s, time.Minute)

	const attempts = 50
	now := time.Now()
	active := true
	inactive := false

	var wg sync.WaitGroup
	wins := make(chan string, attempts)
	for i := 0; i < attempts; i++ {
		who := "user-" + strconv.Itoa(i)
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
		}(who)
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
	final, err := s.GetCollectible(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.ClaimedBy != winners[0] || final.Active || final.ClaimedAt == nil {
		t.Fatalf("post-claim row inconsistent: %+v", final)
	}
}

func TestSweepNeverTouchesClaimed(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id := insertCollectible(t, s, time.Minute)

	now := time.Now()
	active := true
	inactive := false
	who := "winner"
	got, err := s.UpdateCollectible(ctx, id,
		store.CollectibleCond{Unclaimed: true, Active: &active, ExpiresAfter: &now},
		store.CollectibleSet{ClaimedBy: &who, ClaimedAt: &now, Active: &inactive})
	if err != nil || got == nil {
		t.Fatalf("claim: %+v, %v", got, err)
	}

	// Sweep requires is_active; the claim already cleared it, so even a
	// sweep running after expiry must not match.
	later := time.Now().Add(2 * time.Minute)
	swept, err := s.UpdateCollectible(ctx, id,
		store.CollectibleCond{Active: &active, ExpiredBy: &later},
		store.CollectibleSet{Active: &inactive})
	if err != nil {
		t.Fatalf("sweep update: %v", err)
	}
	if swept != nil {
		t.Fatalf("sweep matched a claimed collectible: %+v", swept)
	}
	final, _ := s.GetCollectible(ctx, id)
	if final.ClaimedBy != who {
		t.Fatalf("claimed_by lost: %q", final.ClaimedBy)
	}
}

func TestExpiredActiveCollectibles(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	expired := insertCollectible(t, s, -time.Second)
	insertCollectible(t, s, time.Minute)

	got, err := s.ExpiredActiveCollectibles(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("expired: %v", err)
	}
	if len(got) != 1 || got[0].ID != expired {
		t.Fatalf("want [%s], got %+v", expired, got)
	}
}

func TestEventsNearOrderingAndExactRadius(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	mk := func(eastM float64) string {
		id, err := s.InsertEvent(ctx, store.Event{
			Title:     "ev",
			CreatorID: "c",
			Location:  store.OffsetMeters(plaza, eastM, 0),
			Status:    store.EventActive,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("insert event: %v", err)
		}
		return id
	}
	far := mk(1800)
	near := mk(300)
	mk(9000) // outside the radius

	got, err := s.EventsNear(ctx, plaza, 5000, store.EventActive, 0)
	if err != nil {
		t.Fatalf("near: %v", err)
	}
	if len(got) != 2 || got[0].ID != near || got[1].ID != far {
		t.Fatalf("want [%s %s], got %+v", near, far, got)
	}
}

func TestEndEventAndParticipants(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id, err := s.InsertEvent(ctx, store.Event{
		Title: "t", CreatorID: "c", Location: plaza, Status: store.EventActive,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s.AddParticipants(ctx, id, 2); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Floor at zero.
	if err := s.AddParticipants(ctx, id, -5); err != nil {
		t.Fatalf("add negative: %v", err)
	}
	ev, _ := s.GetEvent(ctx, id)
	if ev.Participants != 0 {
		t.Fatalf("participants = %d, want 0", ev.Participants)
	}
	if err := s.AddParticipants(ctx, "missing", 1); err != store.ErrNotFound {
		t.Fatalf("missing event: %v, want ErrNotFound", err)
	}

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

func TestInventoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Now().Truncate(time.Microsecond)
	for i := 0; i < 3; i++ {
		err := s.AddInventory(ctx, store.InventoryItem{
			UserID:        "u1",
			CollectibleID: "c" + strconv.Itoa(i),
			EventID:       "ev1",
			ClaimedAt:     base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("add inventory: %v", err)
		}
	}
	got, err := s.Inventory(ctx, "u1")
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	if len(got) != 3 || got[0].CollectibleID != "c2" || got[2].CollectibleID != "c0" {
		t.Fatalf("want most-recent-first, got %+v", got)
	}
	other, err := s.Inventory(ctx, "u2")
	if err != nil {
		t.Fatalf("inventory u2: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("u2 inventory not empty: %+v", other)
	}
}

func TestGetCollectibleNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetCollectible(context.Background(), "nope"); err != store.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetEvent(context.Background(), "nope"); err != store.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
