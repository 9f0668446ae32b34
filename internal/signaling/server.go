package signaling

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quietwire/wormhole/internal/ratelimit"
	"github.com/quietwire/wormhole/internal/room"
	"github.com/quietwire/wormhole/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the signaling relay described by spec C5. One Server instance
// serves every room for the lifetime of the process; CheckOrigin is
// deliberately permissive, mirroring the teacher's upgrader, since the
// protocol's only authorization is the shared room id.
type Server struct {
	registry *room.Registry
	pending  *room.PendingJoins
	limiter  *ratelimit.Limiter
	guard    ratelimit.PayloadGuard

	ttl           time.Duration
	sweepInterval time.Duration

	mu    sync.Mutex
	conns map[room.PeerHandle]*connection
}

// Config collects the tunable limits from spec §3/§4.3/§4.4.
type Config struct {
	RateWindow    time.Duration
	RateMax       uint32
	MaxPayload    int
	RoomTTL       time.Duration
	SweepInterval time.Duration
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		RateWindow:    ratelimit.DefaultWindow,
		RateMax:       ratelimit.DefaultMax,
		MaxPayload:    ratelimit.DefaultMaxSignalPayload,
		RoomTTL:       room.DefaultTTL,
		SweepInterval: room.DefaultSweepInterval,
	}
}

// NewServer creates a Server ready to have its Handler mounted.
func NewServer(cfg Config) *Server {
	return &Server{
		registry:      room.NewRegistry(),
		pending:       room.NewPendingJoins(),
		limiter:       ratelimit.New(cfg.RateWindow, cfg.RateMax),
		guard:         ratelimit.NewPayloadGuard(cfg.MaxPayload),
		ttl:           cfg.RoomTTL,
		sweepInterval: cfg.SweepInterval,
		conns:         make(map[room.PeerHandle]*connection),
	}
}

// StartSweeper launches the periodic TTL eviction timer (spec §4.3 sweep).
// It runs until stop is closed.
func (s *Server) StartSweeper(stop <-chan struct{}) {
	ticker := time.NewTicker(s.sweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				s.registry.Sweep(now, s.ttl)
			case <-stop:
				return
			}
		}
	}()
}

// connection is the per-WebSocket session state: a peer handle, the raw
// socket, and a single-writer outbox — the same "one goroutine owns the
// writes" shape as the teacher's internal/transport.sender.
type connection struct {
	peer room.PeerHandle
	ws   *websocket.Conn

	outbox    chan Envelope
	closeOnce sync.Once
	done      chan struct{}
}

func newConnection(peer room.PeerHandle, ws *websocket.Conn) *connection {
	return &connection{
		peer:   peer,
		ws:     ws,
		outbox: make(chan Envelope, 32),
		done:   make(chan struct{}),
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *connection) writePump() {
	for {
		select {
		case env := <-c.outbox:
			if err := c.ws.WriteJSON(env); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Handler returns the http.HandlerFunc to mount at the signaling endpoint
// (conventionally "/ws").
func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		peer := room.PeerHandle(util.RandomHexID(16))
		conn := newConnection(peer, ws)

		s.mu.Lock()
		s.conns[peer] = conn
		s.mu.Unlock()

		go conn.writePump()
		s.readPump(conn)
	}
}

func (s *Server) readPump(conn *connection) {
	defer func() {
		s.disconnect(conn.peer)
		conn.close()
		s.mu.Lock()
		delete(s.conns, conn.peer)
		s.mu.Unlock()
	}()

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			util.LogWarning("signaling: malformed envelope from %s: %v", conn.peer, err)
			continue
		}

		if !s.guard.Allow(len(data)) {
			s.sendError(conn, "payload too large")
			continue
		}

		if s.rateLimited(conn, env) {
			continue
		}

		s.dispatch(conn, env)
	}
}

// rateLimited applies the sliding-window limiter to every event except
// offer/answer, whose size is already bounded by the payload guard (spec
// §3 RateState, §4.5). It reports whether the event was rejected.
func (s *Server) rateLimited(conn *connection, env Envelope) bool {
	if env.Type == EventOffer || env.Type == EventAnswer {
		return false
	}
	if s.limiter.Allow(string(conn.peer), time.Now()) {
		return false
	}
	s.sendError(conn, "rate limit exceeded")
	return true
}

func (s *Server) dispatch(conn *connection, env Envelope) {
	switch env.Type {
	case EventCreateRoom:
		s.handleCreateRoom(conn, env)
	case EventJoinRoom:
		s.handleJoinRoom(conn, env)
	case EventRequestJoin:
		s.handleRequestJoin(conn, env)
	case EventPeerAccepted:
		s.handlePeerAccepted(conn, env)
	case EventPeerRejected:
		s.handlePeerRejected(conn, env)
	case EventOffer, EventAnswer, EventCandidate:
		s.handleRelay(conn, env)
	default:
		s.sendError(conn, "unknown event type")
	}
}

func (s *Server) handleCreateRoom(conn *connection, env Envelope) {
	if !room.ValidID(env.RoomID) {
		s.sendError(conn, "invalid room id")
		return
	}
	switch s.registry.Create(env.RoomID, conn.peer, time.Now()) {
	case room.Created:
		s.send(conn, Envelope{Type: EventRoomCreated, RoomID: env.RoomID})
	case room.AlreadyExists:
		s.sendError(conn, "room already exists")
	}
}

func (s *Server) handleJoinRoom(conn *connection, env Envelope) {
	if !room.ValidID(env.RoomID) {
		s.sendError(conn, "invalid room id")
		return
	}

	result := s.registry.Join(env.RoomID, conn.peer)
	switch result {
	case room.RoomNotFound:
		s.send(conn, Envelope{Type: EventRoomNotFound, RoomID: env.RoomID})
		return
	case room.RoomFull:
		s.sendError(conn, "room is full")
		return
	}

	s.pending.Clear(conn.peer)
	s.notifyOthers(env.RoomID, conn.peer, Envelope{
		Type: EventPeerJoined, PeerID: string(conn.peer), RoomID: env.RoomID,
	})
	s.send(conn, Envelope{Type: EventRoomJoined, RoomID: env.RoomID})
}

func (s *Server) handleRequestJoin(conn *connection, env Envelope) {
	if !room.ValidID(env.RoomID) {
		s.sendError(conn, "invalid room id")
		return
	}
	if !s.registry.Exists(env.RoomID) {
		s.send(conn, Envelope{Type: EventRoomNotFound, RoomID: env.RoomID})
		return
	}
	if s.registry.IsMember(env.RoomID, conn.peer) {
		// I8: idempotent — already a member, no side effects.
		s.send(conn, Envelope{Type: EventRoomJoined, RoomID: env.RoomID})
		return
	}

	s.pending.Add(conn.peer, env.RoomID)
	s.notifyOthers(env.RoomID, conn.peer, Envelope{
		Type: EventPeerJoinReq, PeerID: string(conn.peer), RoomID: env.RoomID,
	})
	s.send(conn, Envelope{Type: EventJoinRequested, RoomID: env.RoomID})
}

func (s *Server) handlePeerAccepted(conn *connection, env Envelope) {
	target := room.PeerHandle(env.PeerID)

	if !s.registry.IsMember(env.RoomID, conn.peer) {
		s.sendError(conn, "not a member of room")
		return
	}
	if !s.pending.Match(target, env.RoomID) {
		s.sendError(conn, "no matching pending join")
		return
	}

	switch s.registry.Join(env.RoomID, target) {
	case room.RoomFull:
		s.sendError(conn, "room is full")
		s.sendToPeer(target, Envelope{Type: EventAppError, Message: "room is full"})
		return
	}

	s.pending.Clear(target)
	s.notifyOthers(env.RoomID, target, Envelope{
		Type: EventPeerJoined, PeerID: string(target), RoomID: env.RoomID,
	})
	s.sendToPeer(target, Envelope{Type: EventRoomJoined, RoomID: env.RoomID})
}

func (s *Server) handlePeerRejected(conn *connection, env Envelope) {
	target := room.PeerHandle(env.PeerID)

	if !s.registry.IsMember(env.RoomID, conn.peer) {
		s.sendError(conn, "not a member of room")
		return
	}
	s.pending.Clear(target)
	s.sendToPeer(target, Envelope{Type: EventPeerRejected, PeerID: string(target), RoomID: env.RoomID})
}

// handleRelay implements offer/answer/candidate forwarding: the sender must
// already be a room member, and the envelope is stamped with "from" before
// fan-out to every other member (spec I5: never delivered outside the room).
func (s *Server) handleRelay(conn *connection, env Envelope) {
	if !s.registry.IsMember(env.RoomID, conn.peer) {
		s.sendError(conn, "not a member of room")
		return
	}
	env.From = string(conn.peer)
	s.notifyOthers(env.RoomID, conn.peer, env)
}

func (s *Server) disconnect(peer room.PeerHandle) {
	s.registry.Leave(peer)
	s.pending.Clear(peer)
	s.limiter.Drop(string(peer))
}

func (s *Server) notifyOthers(roomID string, from room.PeerHandle, env Envelope) {
	for _, peer := range s.registry.OtherMembers(roomID, from) {
		s.sendToPeer(peer, env)
	}
}

func (s *Server) send(conn *connection, env Envelope) {
	select {
	case conn.outbox <- env:
	case <-conn.done:
	}
}

func (s *Server) sendToPeer(peer room.PeerHandle, env Envelope) {
	s.mu.Lock()
	conn, ok := s.conns[peer]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.send(conn, env)
}

func (s *Server) sendError(conn *connection, message string) {
	util.LogWarning("signaling: %s -> %s", conn.peer, message)
	s.send(conn, Envelope{Type: EventAppError, Message: message})
}
