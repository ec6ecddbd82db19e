package signaling

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/meshconf/conference-relay/internal/metrics"
	"github.com/meshconf/conference-relay/internal/origin"
	"github.com/meshconf/conference-relay/internal/ratelimit"
	"github.com/meshconf/conference-relay/internal/room"
)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	Registry *room.Registry
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// AllowedOrigins restricts websocket upgrades by Origin header. Empty
	// means same-host only, matching the HTTP API's policy; use "*" to allow
	// any origin (dev).
	AllowedOrigins []string

	// Idle/keepalive management for the persistent connection.
	IdleTimeout  time.Duration
	PingInterval time.Duration

	// Inbound hardening.
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
}

// Server implements the relay's WebSocket signaling surface.
//
// One connection is one participant for its lifetime: the server assigns an
// opaque handle at upgrade time and announces it in a welcome frame. All
// room-coordination state lives in the room.Registry; the server translates
// between wire frames and registry operations and fans deliveries out
// through the roster.
type Server struct {
	registry *room.Registry
	metrics  *metrics.Metrics
	log      *slog.Logger

	// deliverMu serializes every registry mutation with its delivery fan-out,
	// so send queues observe room events in the order the registry applied
	// them. Without it two joins could fan out their peer-joined frames in
	// the opposite order to their registry commits, and a chat racing a join
	// could reach the joiner through both history replay and the live
	// broadcast. Enqueues never block, so the critical section is short.
	deliverMu sync.Mutex

	idle            time.Duration
	ping            time.Duration
	maxFrameBytes   int64
	framesPerSecond int

	roster   *roster
	upgrader websocket.Upgrader
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}

	s := &Server{
		registry: cfg.Registry,
		metrics:  m,
		log:      logger,

		idle:            cfg.IdleTimeout,
		ping:            cfg.PingInterval,
		maxFrameBytes:   cfg.MaxMessageBytes,
		framesPerSecond: cfg.MaxMessagesPerSecond,

		roster: newRoster(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 4 * 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// Close terminates every open signaling connection. The read pumps observe
// the closed sockets and run their normal disconnect paths.
func (s *Server) Close() {
	deadline := time.Now().Add(time.Second)
	for _, c := range s.roster.all() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		_ = c.conn.Close()
	}
}

// Participants returns the number of live connections.
func (s *Server) Participants() int {
	return s.roster.size()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	handle := uuid.NewString()
	c := &client{
		srv:    s,
		conn:   conn,
		handle: handle,
		log:    s.log.With("handle", handle),
		send:   make(chan []byte, sendQueueLen),
		limiter: ratelimit.NewTokenBucket(
			ratelimit.RealClock{},
			int64(s.maxMessagesPerSecond()),
			int64(s.maxMessagesPerSecond()),
		),
	}

	s.roster.add(c)
	c.log.Debug("participant connected", "remote_addr", conn.RemoteAddr().String())

	go c.writePump()
	c.enqueue(wireMessage{Type: messageTypeWelcome, Handle: handle})
	c.readPump()
}

// dispatch routes one parsed inbound frame. It runs on the connection's read
// goroutine; all shared state is behind the registry and roster locks.
func (s *Server) dispatch(c *client, msg wireMessage) {
	switch msg.Type {
	case messageTypeJoin:
		s.handleJoin(c, msg)
	case messageTypeSignal:
		s.handleSignal(c, msg)
	case messageTypeChat:
		s.handleChat(c, msg)
	case messageTypeEnd:
		s.handleEnd(c, msg)
	}
}

func (s *Server) handleJoin(c *client, msg wireMessage) {
	s.deliverMu.Lock()
	res := s.registry.Join(msg.Room, c.handle, msg.Host)
	s.metrics.Inc(metrics.EventRoomJoin)

	// Switching rooms implicitly leaves the previous one; tell its members.
	if res.PrevRoom != "" && len(res.PrevMembers) > 0 {
		s.roster.broadcast(res.PrevMembers, wireMessage{
			Type:   messageTypePeerLeft,
			Handle: c.handle,
		})
	}

	// Replay the history snapshot taken inside Join to the joiner before
	// anything else, so a late joiner sees a consistent prefix: all history,
	// then membership, then live traffic.
	for _, rec := range res.History {
		c.enqueue(wireMessage{
			Type:        messageTypeChat,
			From:        rec.Sender,
			DisplayName: rec.DisplayName,
			Text:        rec.Text,
		})
	}

	s.roster.broadcast(res.Members, wireMessage{
		Type:    messageTypePeerJoined,
		Handle:  c.handle,
		Members: res.Members,
	})
	s.deliverMu.Unlock()

	c.log.Info("joined room",
		"room", msg.Room,
		"members", len(res.Members),
		"creator_assigned", res.CreatorAssigned,
	)
}

// handleSignal forwards an opaque negotiation payload to one handle. The
// payload is neither parsed nor validated; only the sender's handle is
// attached so the recipient can distinguish sources.
//
// No room-membership check is performed before relaying: any connected
// client may target any handle. This mirrors the trust model of the
// original protocol; tightening it would break legitimate cross-room
// negotiation if rooms ever become non-exclusive.
func (s *Server) handleSignal(c *client, msg wireMessage) {
	delivered := s.roster.unicast(msg.Target, wireMessage{
		Type:    messageTypeSignal,
		From:    c.handle,
		Payload: msg.Payload,
	})
	if delivered {
		s.metrics.Inc(metrics.EventSignalRelayed)
	} else {
		// Routing misses are expected when signaling races a disconnect.
		s.metrics.Inc(metrics.EventSignalMiss)
	}
}

func (s *Server) handleChat(c *client, msg wireMessage) {
	roomKey, ok := s.registry.RoomOf(c.handle)
	if !ok {
		// Sender is not in any room; drop silently.
		s.metrics.Inc(metrics.EventChatDropped)
		return
	}

	rec := room.ChatMessage{
		Sender:      c.handle,
		DisplayName: msg.DisplayName,
		Text:        msg.Text,
	}

	s.deliverMu.Lock()
	members := s.registry.AppendChat(roomKey, rec)
	s.metrics.Inc(metrics.EventChatMessage)

	// Everyone in the room gets the message, the sender included; clients
	// deduplicate their own echoes by handle.
	s.roster.broadcast(members, wireMessage{
		Type:        messageTypeChat,
		From:        rec.Sender,
		DisplayName: rec.DisplayName,
		Text:        rec.Text,
	})
	s.deliverMu.Unlock()
}

func (s *Server) handleEnd(c *client, msg wireMessage) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	members, err := s.registry.Terminate(msg.Room, c.handle)
	if err != nil {
		if errors.Is(err, room.ErrNotCreator) {
			s.metrics.Inc(metrics.DropReasonNotCreator)
			c.enqueue(wireMessage{
				Type:    messageTypeError,
				Code:    "not_creator",
				Message: "only the meeting creator may end it",
			})
		}
		// An unknown room is a routing miss; drop silently.
		return
	}

	s.metrics.Inc(metrics.EventRoomTerminated)
	s.roster.broadcast(members, wireMessage{
		Type: messageTypeMeetingEnded,
		Room: msg.Room,
	})
	c.log.Info("meeting ended by creator", "room", msg.Room, "members", len(members))
}

// disconnect performs the full cleanup for a departed connection. It runs
// exactly once per connection (readPump exit) and is safe against racing
// joins: the registry's Disconnect is idempotent.
func (s *Server) disconnect(c *client) {
	s.roster.remove(c.handle)

	s.deliverMu.Lock()
	res := s.registry.Disconnect(c.handle)
	if res.Room != "" {
		s.metrics.Inc(metrics.EventRoomLeave)
		// Remaining members learn of the departure while the room record
		// still reflects everyone else.
		s.roster.broadcast(res.Remaining, wireMessage{
			Type:   messageTypePeerLeft,
			Handle: c.handle,
		})
	}
	s.deliverMu.Unlock()

	c.closeSend()
	_ = c.conn.Close()

	c.log.Info("participant disconnected",
		"room", res.Room,
		"online_for", res.OnlineFor.Round(time.Second).String(),
	)
}

// rejectFrame reports a malformed frame without dropping the connection.
func (s *Server) rejectFrame(c *client, err error) {
	s.metrics.Inc(metrics.DropReasonBadMessage)
	c.enqueue(wireMessage{
		Type:    messageTypeError,
		Code:    "bad_message",
		Message: err.Error(),
	})
}

// rejectAndClose reports a protocol violation and tears the connection down.
func (s *Server) rejectAndClose(c *client, code, message string, closeCode int) {
	if code == "rate_limited" {
		s.metrics.Inc(metrics.DropReasonRateLimited)
	} else {
		s.metrics.Inc(metrics.DropReasonBadMessage)
	}
	c.enqueue(wireMessage{
		Type:    messageTypeError,
		Code:    code,
		Message: message,
	})
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, message), time.Now().Add(time.Second))
}

// originChecker applies the same policy as the HTTP API's CORS layer: an
// explicit allow list when configured, same-host only otherwise.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		header := r.Header.Get("Origin")
		if header == "" {
			// Non-browser clients send no Origin; they are not subject to
			// cross-origin protections.
			return true
		}
		return origin.Allowed(header, r.Host, allowed)
	}
}

func (s *Server) idleTimeout() time.Duration {
	if s.idle <= 0 {
		return 60 * time.Second
	}
	return s.idle
}

func (s *Server) pingInterval() time.Duration {
	if s.ping <= 0 {
		return 54 * time.Second
	}
	return s.ping
}

func (s *Server) maxMessageBytes() int64 {
	if s.maxFrameBytes <= 0 {
		return 64 * 1024
	}
	return s.maxFrameBytes
}

func (s *Server) maxMessagesPerSecond() int {
	if s.framesPerSecond <= 0 {
		return 50
	}
	return s.framesPerSecond
}
