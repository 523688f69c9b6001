package chat

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by the store when a conversation or user id does
// not resolve.
var ErrNotFound = errors.New("not found")

// Message kinds carried over both the REST and WebSocket paths.
const (
	KindText  = "text"
	KindImage = "image"
	KindVideo = "video"
	KindFile  = "file"
)

func validKind(kind string) bool {
	switch kind {
	case KindText, KindImage, KindVideo, KindFile:
		return true
	}
	return false
}

type Participant struct {
	ID          int    `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

type Conversation struct {
	ID           int           `json:"id"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

type Message struct {
	ID             int       `json:"id"`
	ConversationID int       `json:"conversation_id"`
	SenderID       int       `json:"sender_id"`
	SenderUsername string    `json:"sender_username"`
	MessageType    string    `json:"message_type"`
	Content        string    `json:"content"`
	Attachment     string    `json:"attachment,omitempty"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationSummary is the list-endpoint view: the conversation plus its
// most recent message and the caller's unread count.
type ConversationSummary struct {
	Conversation
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count"`
}

// InboundFrame is what a client sends over the socket. Type defaults to
// "text" and content to "" when absent.
type InboundFrame struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	SenderID int    `json:"sender_id"`
}

// Envelope is the one canonical push schema. Everything delivered to a live
// socket goes through it.
type Envelope struct {
	Type    string          `json:"type"`
	Message EnvelopeMessage `json:"message"`
}

type EnvelopeMessage struct {
	ID             int    `json:"id"`
	SenderID       int    `json:"sender_id"`
	SenderUsername string `json:"sender_username"`
	MessageType    string `json:"message_type"`
	Content        string `json:"content"`
	CreatedAt      string `json:"created_at"`
}

func newEnvelope(m *Message) Envelope {
	return Envelope{
		Type: "message",
		Message: EnvelopeMessage{
			ID:             m.ID,
			SenderID:       m.SenderID,
			SenderUsername: m.SenderUsername,
			MessageType:    m.MessageType,
			Content:        m.Content,
			CreatedAt:      m.CreatedAt.UTC().Format(time.RFC3339),
		},
	}
}

// Store is the persistence/identity gateway the chat core talks to. The
// pg-backed Repository implements it; tests substitute an in-memory fake.
type Store interface {
	GetConversation(ctx context.Context, id int) (*Conversation, error)
	GetUser(ctx context.Context, id int) (*Participant, error)
	CreateMessage(ctx context.Context, conversationID, senderID int, kind, content, attachment string) (*Message, error)
	TouchConversation(ctx context.Context, id int) error
	IsParticipant(ctx context.Context, conversationID, userID int) (bool, error)
	ListConversations(ctx context.Context, userID int) ([]ConversationSummary, error)
	StartConversation(ctx context.Context, userID, otherID int) (*Conversation, bool, error)
	ListMessagesMarkRead(ctx context.Context, conversationID, readerID int) ([]Message, error)
}
