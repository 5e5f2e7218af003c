package game

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 25 * time.Second
	// A session that produces no pong (or other read) for two ping
	// intervals is considered dead.
	PongWait = 2 * pingInterval

	sessionQueueSize = 64
	broadcastBuffer  = 256
)

// Conn is the transport a session writes to. *websocket.Conn satisfies
// it; tests substitute a recorder.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session is one live connection. The player identity is bound lazily
// from the first inbound message that declares one.
type Session struct {
	ID   string
	hub  *Hub
	conn Conn
	send chan []byte

	mu       sync.Mutex
	playerID string
	closed   bool
}

// BindPlayer attaches a player identity to the session. Idempotent;
// later messages may rebind.
func (s *Session) BindPlayer(playerID string) {
	s.mu.Lock()
	s.playerID = playerID
	s.mu.Unlock()
}

func (s *Session) PlayerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playerID
}

// Send marshals and enqueues a unicast message. A session whose queue
// is full is evicted rather than allowed to block anyone.
func (s *Session) Send(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[WS] Send marshal error: %v", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- data:
	default:
		s.hub.Unregister(s)
	}
}

// writePump drains the session queue in FIFO order, so every session
// sees messages exactly once in emission order. It also owns the
// heartbeat: a ping every pingInterval keeps the peer's read deadline
// honest.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			if !ok {
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("[WS] Write error for session %s: %v", s.ID, err)
				s.hub.Unregister(s)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.hub.Unregister(s)
				return
			}
		}
	}
}

// Hub is the connection registry and broadcast fan-out. Sessions are
// keyed by a generated id; registry mutations and fan-out run on the
// Run loop, so iteration never races an insert or remove.
type Hub struct {
	sessions   map[string]*Session
	register   chan *Session
	unregister chan *Session
	broadcast  chan []byte
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		sessions:   make(map[string]*Session),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		broadcast:  make(chan []byte, broadcastBuffer),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case s := <-h.register:
			h.mu.Lock()
			h.sessions[s.ID] = s
			total := len(h.sessions)
			h.mu.Unlock()
			log.Printf("[WS] Session %s connected (total: %d)", s.ID, total)

		case s := <-h.unregister:
			h.drop(s)

		case data := <-h.broadcast:
			h.mu.RLock()
			var stalled []*Session
			for _, s := range h.sessions {
				select {
				case s.send <- data:
				default:
					stalled = append(stalled, s)
				}
			}
			h.mu.RUnlock()
			// A full queue means the peer stopped reading; evict it
			// without delaying delivery to the rest.
			for _, s := range stalled {
				h.drop(s)
			}
		}
	}
}

func (h *Hub) drop(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s.ID]; !ok {
		return
	}
	delete(h.sessions, s.ID)
	s.mu.Lock()
	s.closed = true
	close(s.send)
	s.mu.Unlock()
	log.Printf("[WS] Session %s disconnected (total: %d)", s.ID, len(h.sessions))
}

// Register creates a session for a connection and starts its writer.
func (h *Hub) Register(conn Conn) *Session {
	s := &Session{
		ID:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sessionQueueSize),
	}
	go s.writePump()
	h.register <- s
	return s
}

// Unregister is safe to call more than once for the same session.
func (h *Hub) Unregister(s *Session) {
	select {
	case h.unregister <- s:
	default:
		go func() { h.unregister <- s }()
	}
}

// Broadcast fans a message out to every open session. The payload is
// marshaled once so all sessions see identical bytes.
func (h *Hub) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[WS] Marshal error: %v", err)
		return
	}
	h.broadcast <- data
}

func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
