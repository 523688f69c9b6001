package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 4096                // Maximum frame size allowed from peer.
)

// Session mediates between one WebSocket connection and the chat core. It
// is bound to a single conversation for its whole lifetime; a dropped
// connection is a fresh session with no memory of the old one.
type Session struct {
	ID             string
	ConversationID int

	registry *Registry
	store    Store
	conn     *websocket.Conn
	send     chan []byte
	closed   chan struct{}
	once     sync.Once
}

func NewSession(conversationID int, registry *Registry, store Store, conn *websocket.Conn) *Session {
	return &Session{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		registry:       registry,
		store:          store,
		conn:           conn,
		send:           make(chan []byte, 256),
		closed:         make(chan struct{}),
	}
}

// Send enqueues payload for delivery to this session's socket. It never
// blocks: a session whose buffer is full is reported as failed and the
// caller treats it like a disconnect.
func (s *Session) Send(payload []byte) error {
	select {
	case <-s.closed:
		return errors.New("session closed")
	default:
	}

	select {
	case s.send <- payload:
		return nil
	default:
		return errors.New("session send buffer full")
	}
}

// Close is safe to call from any goroutine and any number of times.
// Closing the underlying conn unblocks ReadPump, whose deferred cleanup
// deregisters the session.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.closed)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

// ReadPump consumes inbound frames until the peer disconnects or the
// transport errors. Deregistration runs on every exit path, exactly once.
func (s *Session) ReadPump() {
	defer func() {
		s.registry.Leave(s.ConversationID, s)
		s.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("chat: read error: %v", err)
			}
			return
		}
		s.handleFrame(raw)
	}
}

// handleFrame runs the persist-then-broadcast pipeline for one inbound
// frame. Bad frames and unresolved ids are dropped without a reply; the
// client sees nothing, which matches the transport's fire-and-forget
// contract.
func (s *Session) handleFrame(raw []byte) {
	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Printf("chat: dropping malformed frame: %v", err)
		return
	}
	if frame.SenderID == 0 {
		log.Printf("chat: dropping frame without sender_id (conversation %d)", s.ConversationID)
		return
	}
	kind := frame.Type
	if kind == "" {
		kind = KindText
	}

	// Deliberately not the connection's context: a disconnect mid-write
	// must not cancel a persist that other members' deliveries depend on.
	ctx := context.Background()

	conv, err := s.store.GetConversation(ctx, s.ConversationID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("chat: conversation lookup %d: %v", s.ConversationID, err)
		}
		return
	}
	sender, err := s.store.GetUser(ctx, frame.SenderID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("chat: sender lookup %d: %v", frame.SenderID, err)
		}
		return
	}

	msg, err := s.store.CreateMessage(ctx, conv.ID, sender.ID, kind, frame.Content, "")
	if err != nil {
		log.Printf("chat: persist message (conversation %d): %v", conv.ID, err)
		return
	}
	msg.SenderUsername = sender.Username

	// Fire-and-forget: a failed touch never rolls back the message.
	if err := s.store.TouchConversation(ctx, conv.ID); err != nil {
		log.Printf("chat: touch conversation %d: %v", conv.ID, err)
	}

	payload, err := json.Marshal(newEnvelope(msg))
	if err != nil {
		log.Printf("chat: encode envelope: %v", err)
		return
	}
	s.registry.Broadcast(s.ConversationID, payload)
}

// WritePump drains the send buffer onto the socket and keeps the
// connection alive with pings.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case <-s.closed:
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
