package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"citypulse.live/internal/claims"
	"citypulse.live/internal/metrics"
	"citypulse.live/internal/protocol"
	"citypulse.live/internal/proximity"
	"citypulse.live/internal/registry"
	"citypulse.live/internal/store"
)

type sessionState int32

const (
	stateConnecting sessionState = iota
	stateActive
	stateClosing
	stateClosed
)

// session is the per-connection protocol state machine. One session is
// driven by exactly one reader goroutine, so handler methods never run
// concurrently with each other; close may race the reader and is
// guarded by closeOnce.
type session struct {
	userID string

	reg      *registry.Registry
	st       store.Store
	matcher  *proximity.Matcher
	resolver *claims.Resolver
	met      *metrics.Metrics
	log      *log.Logger
	cfg      Config

	mu    sync.Mutex
	state sessionState
	conn  registry.Conn

	// lastNearby is the event-id set of the last nearby_events push,
	// used to suppress unchanged notices.
	lastNearby []string

	closeOnce sync.Once

	now func() time.Time
}

func newSession(userID string, reg *registry.Registry, st store.Store, matcher *proximity.Matcher,
	resolver *claims.Resolver, met *metrics.Metrics, logger *log.Logger, cfg Config) *session {
	return &session{
		userID:   userID,
		reg:      reg,
		st:       st,
		matcher:  matcher,
		resolver: resolver,
		met:      met,
		log:      logger,
		cfg:      cfg,
		state:    stateConnecting,
		now:      time.Now,
	}
}

// activate registers the transport handle and enters the active state.
func (s *session) activate(conn registry.Conn) {
	s.mu.Lock()
	s.state = stateActive
	s.conn = conn
	s.mu.Unlock()
	s.reg.Register(s.userID, conn)
}

// close tears the session down: unregister, release the event
// subscription, notify the room. Idempotent if called twice. The
// unregister is identity-guarded: if a reconnect already replaced this
// session's handle, the registration, room, and participant count
// belong to the new session and are left alone.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = stateClosing
		conn := s.conn
		s.mu.Unlock()

		eventID, inRoom := s.reg.RoomOf(s.userID)
		if !s.reg.UnregisterConn(s.userID, conn) {
			s.mu.Lock()
			s.state = stateClosed
			s.mu.Unlock()
			return
		}

		if inRoom {
			if err := s.st.AddParticipants(context.Background(), eventID, -1); err != nil {
				s.log.Printf("participant decrement for %s: %v", eventID, err)
			}
			s.reg.BroadcastRoom(eventID, protocol.UserDisconnectedMsg{
				Type:      protocol.TypeUserDisconnected,
				UserID:    s.userID,
				EventID:   eventID,
				Timestamp: s.now(),
			})
		}

		s.mu.Lock()
		s.state = stateClosed
		s.mu.Unlock()
	})
}

// handle dispatches one inbound frame. A malformed message gets a
// structured error reply; the connection stays open.
func (s *session) handle(ctx context.Context, raw []byte) {
	s.mu.Lock()
	active := s.state == stateActive
	s.mu.Unlock()
	if !active {
		return
	}

	base, err := protocol.DecodeBase(raw)
	if err != nil {
		s.reject(protocol.ErrProtoBadRequest, "malformed JSON")
		return
	}

	switch base.Type {
	case protocol.TypeLocationUpdate:
		s.handleLocationUpdate(ctx, raw)
	case protocol.TypeJoinEvent:
		s.handleJoinEvent(ctx, raw)
	case protocol.TypeLeaveEvent:
		s.handleLeaveEvent(ctx, raw)
	case protocol.TypeChatMessage:
		s.handleChat(raw)
	case protocol.TypeClaimCollectible:
		s.handleClaim(raw)
	default:
		s.reject(protocol.ErrProtoBadRequest, fmt.Sprintf("unknown message type %q", base.Type))
	}
}

func (s *session) handleLocationUpdate(ctx context.Context, raw []byte) {
	var msg protocol.LocationUpdateMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.reject(protocol.ErrBadRequest, "bad location_update")
		return
	}
	p := store.Point{Lng: msg.Coordinates[0], Lat: msg.Coordinates[1]}
	if !p.Valid() {
		s.reject(protocol.ErrBadCoordinates,
			fmt.Sprintf("coordinates out of range: [%v, %v]", p.Lng, p.Lat))
		return
	}

	now := s.now()
	s.reg.UpdateLocation(s.userID, p, now)
	if err := s.st.UpsertUserLocation(ctx, s.userID, p, now); err != nil {
		// The registry copy is updated; durable location is best-effort.
		s.log.Printf("location upsert for %s: %v", s.userID, err)
	}

	hits, err := s.matcher.NearbyEvents(ctx, p, s.cfg.ProximityRadiusM, s.cfg.MaxNearby)
	if err != nil {
		s.reject(protocol.ErrInternal, "failed to query nearby events")
		return
	}
	if s.nearbyChanged(hits) {
		events := make([]protocol.EventInfo, 0, len(hits))
		for _, h := range hits {
			events = append(events, protocol.EventInfo{
				ID:           h.ID,
				Title:        h.Title,
				Category:     h.Category,
				Coordinates:  [2]float64{h.Location.Lng, h.Location.Lat},
				Participants: h.Participants,
				DistanceM:    h.DistanceM,
			})
		}
		s.reg.Send(s.userID, protocol.NearbyEventsMsg{
			Type:      protocol.TypeNearbyEvents,
			Events:    events,
			Timestamp: now,
		})
	}

	users := make([]protocol.NearbyUser, 0)
	for _, u := range s.reg.NearbyUsers(p, s.cfg.ProximityRadiusM) {
		if u.UserID == s.userID {
			continue
		}
		users = append(users, protocol.NearbyUser{
			UserID:      u.UserID,
			Coordinates: [2]float64{u.Location.Lng, u.Location.Lat},
			DistanceM:   u.DistanceM,
		})
	}
	s.reg.Send(s.userID, protocol.NearbyUsersMsg{
		Type:      protocol.TypeNearbyUsers,
		Users:     users,
		Timestamp: now,
	})
}

// nearbyChanged updates lastNearby and reports whether the event-id set
// differs from the previous push.
func (s *session) nearbyChanged(hits []proximity.EventHit) bool {
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	sort.Strings(ids)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastNearby != nil && equalIDs(s.lastNearby, ids) {
		return false
	}
	s.lastNearby = ids
	return true
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *session) handleJoinEvent(ctx context.Context, raw []byte) {
	var msg protocol.JoinEventMsg
	if err := json.Unmarshal(raw, &msg); err != nil || strings.TrimSpace(msg.EventID) == "" {
		s.reject(protocol.ErrBadRequest, "bad join_event")
		return
	}

	ev, err := s.st.GetEvent(ctx, msg.EventID)
	if errors.Is(err, store.ErrNotFound) {
		s.reject(protocol.ErrEventNotFound, "event not found")
		return
	}
	if err != nil {
		s.reject(protocol.ErrInternal, "failed to load event")
		return
	}
	if ev.Status != store.EventActive {
		s.reject(protocol.ErrEventEnded, "event has ended")
		return
	}

	// Switching rooms releases the old membership first.
	if prev, ok := s.reg.RoomOf(s.userID); ok && prev != msg.EventID {
		s.leaveRoom(ctx, prev)
	}

	s.reg.Subscribe(s.userID, msg.EventID)
	if err := s.st.AddParticipants(ctx, msg.EventID, 1); err != nil {
		s.log.Printf("participant increment for %s: %v", msg.EventID, err)
	}

	s.reg.BroadcastRoom(msg.EventID, protocol.UserJoinedMsg{
		Type:      protocol.TypeUserJoined,
		UserID:    s.userID,
		EventID:   msg.EventID,
		Timestamp: s.now(),
	}, s.userID)
}

func (s *session) handleLeaveEvent(ctx context.Context, raw []byte) {
	var msg protocol.LeaveEventMsg
	if err := json.Unmarshal(raw, &msg); err != nil || strings.TrimSpace(msg.EventID) == "" {
		s.reject(protocol.ErrBadRequest, "bad leave_event")
		return
	}
	cur, ok := s.reg.RoomOf(s.userID)
	if !ok || cur != msg.EventID {
		s.reject(protocol.ErrNotMember, "not a participant of this event")
		return
	}
	s.leaveRoom(ctx, msg.EventID)
}

func (s *session) leaveRoom(ctx context.Context, eventID string) {
	s.reg.Unsubscribe(s.userID)
	if err := s.st.AddParticipants(ctx, eventID, -1); err != nil {
		s.log.Printf("participant decrement for %s: %v", eventID, err)
	}
	s.reg.BroadcastRoom(eventID, protocol.UserLeftMsg{
		Type:      protocol.TypeUserLeft,
		UserID:    s.userID,
		EventID:   eventID,
		Timestamp: s.now(),
	})
}

func (s *session) handleChat(raw []byte) {
	var msg protocol.ChatMsg
	if err := json.Unmarshal(raw, &msg); err != nil || strings.TrimSpace(msg.Message) == "" {
		s.reject(protocol.ErrBadRequest, "bad chat_message")
		return
	}
	cur, ok := s.reg.RoomOf(s.userID)
	if !ok || cur != msg.EventID {
		s.reject(protocol.ErrNotMember, "join the event before chatting")
		return
	}
	// Sender excluded to avoid echo.
	s.reg.BroadcastRoom(msg.EventID, protocol.ChatMsg{
		Type:      protocol.TypeChatMessage,
		EventID:   msg.EventID,
		UserID:    s.userID,
		Message:   msg.Message,
		Timestamp: s.now(),
	}, s.userID)
}

func (s *session) handleClaim(raw []byte) {
	var msg protocol.ClaimCollectibleMsg
	if err := json.Unmarshal(raw, &msg); err != nil || strings.TrimSpace(msg.CollectibleID) == "" {
		s.reject(protocol.ErrBadRequest, "bad claim_collectible")
		return
	}

	// Detached from the connection context: once issued, the attempt
	// runs to completion so a transport failure cannot strand a
	// committed grant without its inventory row and room broadcast.
	res, err := s.resolver.Attempt(context.Background(), msg.CollectibleID, s.userID)
	if err != nil {
		// Transient store failure; a lost claim never lands here.
		s.reject(protocol.ErrInternal, "claim could not be processed, try again")
		return
	}

	reply := protocol.ClaimResultMsg{
		Type:      protocol.TypeClaimResult,
		Success:   res.Granted,
		Reason:    res.Reason,
		Timestamp: s.now(),
	}
	switch {
	case res.Granted:
		reply.Message = "Collectible claimed successfully!"
		reply.Collectible = &protocol.CollectibleInfo{
			ID:          res.Collectible.ID,
			EventID:     res.Collectible.EventID,
			Name:        res.Collectible.Name,
			Rarity:      res.Collectible.Rarity,
			Score:       res.Collectible.Score,
			Coordinates: [2]float64{res.Collectible.Location.Lng, res.Collectible.Location.Lat},
			ExpiresAt:   res.Collectible.ExpiresAt,
		}
	case res.Reason == claims.ReasonExpired:
		reply.Message = "Collectible expired"
	case res.Reason == claims.ReasonNotFound:
		reply.Message = "Collectible not available"
	default:
		reply.Message = "Someone else claimed it first!"
	}
	s.reg.Send(s.userID, reply)

	if res.Granted {
		s.reg.BroadcastRoom(res.Collectible.EventID, protocol.CollectibleClaimedMsg{
			Type:          protocol.TypeCollectibleClaimed,
			CollectibleID: res.Collectible.ID,
			EventID:       res.Collectible.EventID,
			WinnerID:      s.userID,
			Timestamp:     s.now(),
		}, s.userID)
	}
}

func (s *session) reject(code, message string) {
	if code != protocol.ErrInternal {
		s.met.BadMessages.Inc()
	}
	s.reg.Send(s.userID, protocol.ErrorMsg{
		Type:      protocol.TypeError,
		Code:      code,
		Message:   message,
		Timestamp: s.now(),
	})
}
