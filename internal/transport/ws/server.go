// Package ws provides the websocket session transport: upgrade,
// hello/welcome handshake, a reader loop plus writer goroutine per
// connection, and the per-session protocol state machine.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"citypulse.live/internal/claims"
	"citypulse.live/internal/metrics"
	"citypulse.live/internal/protocol"
	"citypulse.live/internal/proximity"
	"citypulse.live/internal/registry"
	"citypulse.live/internal/store"
)

const (
	handshakeTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second
	readTimeout      = 60 * time.Second
	outQueueSize     = 32
)

// Config bounds the session's proximity pushes.
type Config struct {
	ProximityRadiusM float64
	MaxNearby        int
}

type Server struct {
	reg      *registry.Registry
	st       store.Store
	matcher  *proximity.Matcher
	resolver *claims.Resolver
	met      *metrics.Metrics
	log      *log.Logger
	cfg      Config

	upgrader websocket.Upgrader
}

func NewServer(reg *registry.Registry, st store.Store, matcher *proximity.Matcher, resolver *claims.Resolver,
	met *metrics.Metrics, logger *log.Logger, cfg Config) *Server {
	return &Server{
		reg:      reg,
		st:       st,
		matcher:  matcher,
		resolver: resolver,
		met:      met,
		log:      logger,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		userID, out := s.handshake(conn)
		if userID == "" {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine: sole writer after the handshake.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out.ch:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		sess := newSession(userID, s.reg, s.st, s.matcher, s.resolver, s.met, s.log, s.cfg)
		sess.activate(out)
		defer sess.close()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			sess.handle(ctx, msg)
		}
	}
}

// handshake reads the hello frame and replies with welcome. It returns
// the authenticated user id and the session's outbound queue, or ""
// when the handshake failed.
func (s *Server) handshake(conn *websocket.Conn) (string, *outConn) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		s.closePolicy(conn, "expected hello")
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		s.closePolicy(conn, "bad protocol_version")
		return "", nil
	}
	userID := strings.TrimSpace(hello.UserID)
	if userID == "" {
		s.closePolicy(conn, "missing user_id")
		return "", nil
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		UserID:          userID,
		ServerTime:      time.Now().UTC(),
	}
	b, err := json.Marshal(welcome)
	if err != nil {
		return "", nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return "", nil
	}

	return userID, newOutConn(outQueueSize)
}

func (s *Server) closePolicy(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
}

// outConn is the registry-facing transport handle: an owned, buffered
// outbound queue. Send never blocks; a full queue or closed connection
// reports an error, which the registry treats as an implicit unregister.
type outConn struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

var errConnGone = errors.New("ws: connection gone")

func newOutConn(size int) *outConn {
	return &outConn{ch: make(chan []byte, size), done: make(chan struct{})}
}

func (c *outConn) Send(b []byte) error {
	select {
	case <-c.done:
		return errConnGone
	default:
	}
	select {
	case c.ch <- b:
		return nil
	case <-c.done:
		return errConnGone
	default:
		return errConnGone
	}
}

func (c *outConn) Close() {
	c.once.Do(func() { close(c.done) })
}
