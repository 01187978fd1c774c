// Package registry tracks live client connections, their last known
// locations, and event-room membership. It is the only in-process
// mutable shared structure; everything here must be safe under
// arbitrary concurrent registration, lookup, and removal.
package registry

import (
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"citypulse.live/internal/metrics"
	"citypulse.live/internal/store"
)

// Conn is one client's transport handle. Send must be non-blocking or
// cheap (the ws layer enqueues onto a buffered writer channel); a Send
// error means the transport is dead and triggers an implicit unregister.
type Conn interface {
	Send(b []byte) error
	Close()
}

type locEntry struct {
	p  store.Point
	at time.Time
}

type Registry struct {
	log *log.Logger
	met *metrics.Metrics

	mu        sync.RWMutex
	conns     map[string]Conn
	rooms     map[string]map[string]struct{}
	roomOf    map[string]string
	locations map[string]locEntry
}

func New(logger *log.Logger, met *metrics.Metrics) *Registry {
	return &Registry{
		log:       logger,
		met:       met,
		conns:     make(map[string]Conn),
		rooms:     make(map[string]map[string]struct{}),
		roomOf:    make(map[string]string),
		locations: make(map[string]locEntry),
	}
}

// Register installs the handle for clientID, releasing any prior one.
// At most one live handle per client.
func (r *Registry) Register(clientID string, c Conn) {
	r.mu.Lock()
	prev := r.conns[clientID]
	r.conns[clientID] = c
	n := len(r.conns)
	r.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	r.met.Connections.Set(float64(n))
	r.log.Printf("client %s connected (total=%d)", clientID, n)
}

// Unregister removes the client entirely: handle, room, location.
// No-op if absent; idempotent.
func (r *Registry) Unregister(clientID string) {
	r.mu.Lock()
	c, ok := r.conns[clientID]
	delete(r.conns, clientID)
	delete(r.locations, clientID)
	r.leaveLocked(clientID)
	n := len(r.conns)
	r.mu.Unlock()

	if c != nil {
		c.Close()
	}
	if ok {
		r.met.Connections.Set(float64(n))
		r.log.Printf("client %s disconnected (total=%d)", clientID, n)
	}
}

// UnregisterConn removes the client only if c is still the registered
// handle, and reports whether it was. A stale session tearing down
// after a reconnect replaced its handle must not evict the fresh
// registration; same identity check as dropConn.
func (r *Registry) UnregisterConn(clientID string, c Conn) bool {
	r.mu.Lock()
	cur, ok := r.conns[clientID]
	if !ok || cur != c {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, clientID)
	delete(r.locations, clientID)
	r.leaveLocked(clientID)
	n := len(r.conns)
	r.mu.Unlock()

	c.Close()
	r.met.Connections.Set(float64(n))
	r.log.Printf("client %s disconnected (total=%d)", clientID, n)
	return true
}

// Send is best-effort delivery to one client. Unknown clients are a
// silent no-op; a dead transport is dropped as an implicit unregister.
func (r *Registry) Send(clientID string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		r.log.Printf("marshal for %s: %v", clientID, err)
		return
	}
	r.sendRaw(clientID, b)
}

func (r *Registry) sendRaw(clientID string, b []byte) {
	r.mu.RLock()
	c := r.conns[clientID]
	r.mu.RUnlock()
	if c == nil {
		return
	}
	if err := c.Send(b); err != nil {
		r.met.SendFailures.Inc()
		r.dropConn(clientID, c)
	}
}

// dropConn removes clientID only if the registered handle is still the
// one that failed, so a racing re-register is never clobbered.
func (r *Registry) dropConn(clientID string, failed Conn) {
	r.mu.Lock()
	cur, ok := r.conns[clientID]
	if !ok || cur != failed {
		r.mu.Unlock()
		return
	}
	delete(r.conns, clientID)
	delete(r.locations, clientID)
	r.leaveLocked(clientID)
	n := len(r.conns)
	r.mu.Unlock()

	failed.Close()
	r.met.Connections.Set(float64(n))
	r.log.Printf("client %s dropped on send failure (total=%d)", clientID, n)
}

// BroadcastTo delivers to every currently registered id in the set;
// partial delivery is normal.
func (r *Registry) BroadcastTo(clientIDs []string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		r.log.Printf("marshal broadcast: %v", err)
		return
	}
	for _, id := range clientIDs {
		r.sendRaw(id, b)
	}
}

// BroadcastRoom delivers to every subscriber of eventID except exclude.
func (r *Registry) BroadcastRoom(eventID string, v any, exclude ...string) {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	var ids []string
	r.mu.RLock()
	for id := range r.rooms[eventID] {
		if _, ok := skip[id]; !ok {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()
	r.BroadcastTo(ids, v)
}

// Subscribe moves clientID into eventID's room. A client is in at most
// one room; subscribing again switches rooms.
func (r *Registry) Subscribe(clientID, eventID string) {
	r.mu.Lock()
	r.leaveLocked(clientID)
	room, ok := r.rooms[eventID]
	if !ok {
		room = make(map[string]struct{})
		r.rooms[eventID] = room
	}
	room[clientID] = struct{}{}
	r.roomOf[clientID] = eventID
	r.mu.Unlock()
}

// Unsubscribe removes clientID from its room, if any.
func (r *Registry) Unsubscribe(clientID string) {
	r.mu.Lock()
	r.leaveLocked(clientID)
	r.mu.Unlock()
}

func (r *Registry) leaveLocked(clientID string) {
	eventID, ok := r.roomOf[clientID]
	if !ok {
		return
	}
	delete(r.roomOf, clientID)
	if room := r.rooms[eventID]; room != nil {
		delete(room, clientID)
		if len(room) == 0 {
			delete(r.rooms, eventID)
		}
	}
}

// RoomOf returns the event the client is subscribed to, if any.
func (r *Registry) RoomOf(clientID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.roomOf[clientID]
	return id, ok
}

// Members lists the subscribers of eventID.
func (r *Registry) Members(eventID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.rooms[eventID]))
	for id := range r.rooms[eventID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// UpdateLocation records the client's last known location.
func (r *Registry) UpdateLocation(clientID string, p store.Point, at time.Time) {
	r.mu.Lock()
	r.locations[clientID] = locEntry{p: p, at: at}
	r.mu.Unlock()
}

// Locations snapshots all known client locations.
func (r *Registry) Locations() []store.UserLocation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]store.UserLocation, 0, len(r.locations))
	for id, e := range r.locations {
		out = append(out, store.UserLocation{UserID: id, Location: e.p, UpdatedAt: e.at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// UserDistance is a nearby-user hit.
type UserDistance struct {
	UserID    string
	Location  store.Point
	DistanceM float64
}

// NearbyUsers returns connected clients within radiusMeters of center,
// ascending by distance (ties by id).
func (r *Registry) NearbyUsers(center store.Point, radiusMeters float64) []UserDistance {
	r.mu.RLock()
	var out []UserDistance
	for id, e := range r.locations {
		if d := store.DistanceMeters(center, e.p); d <= radiusMeters {
			out = append(out, UserDistance{UserID: id, Location: e.p, DistanceM: d})
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceM != out[j].DistanceM {
			return out[i].DistanceM < out[j].DistanceM
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Stats for the health endpoint.
type Stats struct {
	Connections      int `json:"connections"`
	ActiveRooms      int `json:"active_rooms"`
	RoomParticipants int `json:"room_participants"`
	KnownLocations   int `json:"known_locations"`
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Stats{
		Connections:    len(r.conns),
		ActiveRooms:    len(r.rooms),
		KnownLocations: len(r.locations),
	}
	for _, room := range r.rooms {
		s.RoomParticipants += len(room)
	}
	return s
}
