// Package memstore is an in-process Store with the same conditional
// update semantics as the durable backends. It backs tests and the
// -db "" dev mode; a single mutex makes every operation indivisible,
// which is exactly the guarantee the claim path relies on.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"citypulse.live/internal/store"
)

type Store struct {
	mu sync.Mutex

	events       map[string]store.Event
	collectibles map[string]store.Collectible
	locations    map[string]store.UserLocation
	inventory    []store.InventoryItem
}

func New() *Store {
	return &Store{
		events:       make(map[string]store.Event),
		collectibles: make(map[string]store.Collectible),
		locations:    make(map[string]store.UserLocation),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) InsertEvent(_ context.Context, ev store.Event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	s.events[ev.ID] = ev
	return ev.ID, nil
}

func (s *Store) GetEvent(_ context.Context, id string) (store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return store.Event{}, store.ErrNotFound
	}
	return ev, nil
}

func (s *Store) EventsNear(_ context.Context, center store.Point, radiusMeters float64, status string, limit int) ([]store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type cand struct {
		ev   store.Event
		dist float64
	}
	var cands []cand
	for _, ev := range s.events {
		if status != "" && ev.Status != status {
			continue
		}
		d := store.DistanceMeters(center, ev.Location)
		if d <= radiusMeters {
			cands = append(cands, cand{ev, d})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].ev.ID < cands[j].ev.ID
	})
	out := make([]store.Event, 0, len(cands))
	for _, c := range cands {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, c.ev)
	}
	return out, nil
}

func (s *Store) ActiveEvents(_ context.Context, minParticipants int) ([]store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Event
	for _, ev := range s.events {
		if ev.Status == store.EventActive && ev.Participants >= minParticipants {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) EndEvent(_ context.Context, id string) (*store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok || ev.Status != store.EventActive {
		return nil, nil
	}
	ev.Status = store.EventEnded
	ev.UpdatedAt = time.Now()
	s.events[id] = ev
	return &ev, nil
}

func (s *Store) AddParticipants(_ context.Context, eventID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return store.ErrNotFound
	}
	ev.Participants += delta
	if ev.Participants < 0 {
		ev.Participants = 0
	}
	s.events[eventID] = ev
	return nil
}

func (s *Store) InsertCollectible(_ context.Context, c store.Collectible) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.collectibles[c.ID] = c
	return c.ID, nil
}

func (s *Store) GetCollectible(_ context.Context, id string) (store.Collectible, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collectibles[id]
	if !ok {
		return store.Collectible{}, store.ErrNotFound
	}
	return c, nil
}

func (s *Store) CollectiblesNear(_ context.Context, center store.Point, radiusMeters float64, now time.Time, limit int) ([]store.Collectible, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type cand struct {
		c    store.Collectible
		dist float64
	}
	var cands []cand
	for _, c := range s.collectibles {
		if !c.Active || !c.ExpiresAt.After(now) {
			continue
		}
		d := store.DistanceMeters(center, c.Location)
		if d <= radiusMeters {
			cands = append(cands, cand{c, d})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].c.ID < cands[j].c.ID
	})
	out := make([]store.Collectible, 0, len(cands))
	for _, c := range cands {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, c.c)
	}
	return out, nil
}

func (s *Store) ExpiredActiveCollectibles(_ context.Context, now time.Time, limit int) ([]store.Collectible, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Collectible
	for _, c := range s.collectibles {
		if c.Active && !c.ExpiresAt.After(now) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateCollectible(_ context.Context, id string, cond store.CollectibleCond, set store.CollectibleSet) (*store.Collectible, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collectibles[id]
	if !ok {
		return nil, nil
	}
	if cond.Unclaimed && c.ClaimedBy != "" {
		return nil, nil
	}
	if cond.Active != nil && c.Active != *cond.Active {
		return nil, nil
	}
	if cond.ExpiresAfter != nil && !c.ExpiresAt.After(*cond.ExpiresAfter) {
		return nil, nil
	}
	if cond.ExpiredBy != nil && c.ExpiresAt.After(*cond.ExpiredBy) {
		return nil, nil
	}

	if set.ClaimedBy != nil {
		c.ClaimedBy = *set.ClaimedBy
	}
	if set.ClaimedAt != nil {
		at := *set.ClaimedAt
		c.ClaimedAt = &at
	}
	if set.Active != nil {
		c.Active = *set.Active
	}
	s.collectibles[id] = c
	return &c, nil
}

func (s *Store) UpsertUserLocation(_ context.Context, userID string, p store.Point, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations[userID] = store.UserLocation{UserID: userID, Location: p, UpdatedAt: at}
	return nil
}

func (s *Store) AddInventory(_ context.Context, item store.InventoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inventory = append(s.inventory, item)
	return nil
}

func (s *Store) Inventory(_ context.Context, userID string) ([]store.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.InventoryItem
	for _, it := range s.inventory {
		if it.UserID == userID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClaimedAt.After(out[j].ClaimedAt) })
	return out, nil
}
