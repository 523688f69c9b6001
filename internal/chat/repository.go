package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Repository implements Store on PostgreSQL.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

func (r *Repository) GetConversation(ctx context.Context, id int) (*Conversation, error) {
	c := &Conversation{}
	err := r.db.QueryRowContext(ctx,
		"SELECT id, created_at, updated_at FROM conversations WHERE id = $1", id).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	participants, err := r.participantsOf(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Participants = participants
	return c, nil
}

func (r *Repository) GetUser(ctx context.Context, id int) (*Participant, error) {
	p := &Participant{}
	err := r.db.QueryRowContext(ctx,
		"SELECT id, username, display_name FROM users WHERE id = $1", id).
		Scan(&p.ID, &p.Username, &p.DisplayName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// CreateMessage persists one message and returns it with the sender's
// username resolved, all in a single statement so no partial row is ever
// visible.
func (r *Repository) CreateMessage(ctx context.Context, conversationID, senderID int, kind, content, attachment string) (*Message, error) {
	query := `
		WITH m AS (
			INSERT INTO messages (conversation_id, sender_id, message_type, content, attachment)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, conversation_id, sender_id, message_type, content, attachment, is_read, created_at
		)
		SELECT m.id, m.conversation_id, m.sender_id, u.username,
		       m.message_type, m.content, m.attachment, m.is_read, m.created_at
		FROM m JOIN users u ON u.id = m.sender_id
	`
	msg := &Message{}
	err := r.db.QueryRowContext(ctx, query, conversationID, senderID, kind, content, attachment).Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.SenderUsername,
		&msg.MessageType, &msg.Content, &msg.Attachment, &msg.IsRead, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *Repository) TouchConversation(ctx context.Context, id int) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE conversations SET updated_at = CURRENT_TIMESTAMP WHERE id = $1", id)
	return err
}

func (r *Repository) IsParticipant(ctx context.Context, conversationID, userID int) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM participants WHERE conversation_id = $1 AND user_id = $2)",
		conversationID, userID).Scan(&exists)
	return exists, err
}

// StartConversation finds or creates the direct conversation between two
// users. The unique index on pair_key makes this race-free: two initiators
// racing converge on the same row. The second return value reports whether
// the conversation already existed.
func (r *Repository) StartConversation(ctx context.Context, userID, otherID int) (*Conversation, bool, error) {
	lo, hi := userID, otherID
	if lo > hi {
		lo, hi = hi, lo
	}
	pairKey := fmt.Sprintf("%d:%d", lo, hi)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	var id int
	existing := false
	err = tx.QueryRowContext(ctx,
		"INSERT INTO conversations (pair_key) VALUES ($1) ON CONFLICT (pair_key) DO NOTHING RETURNING id",
		pairKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		existing = true
		if err := tx.QueryRowContext(ctx,
			"SELECT id FROM conversations WHERE pair_key = $1", pairKey).Scan(&id); err != nil {
			return nil, false, err
		}
	} else if err != nil {
		return nil, false, err
	}

	if !existing {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO participants (conversation_id, user_id) VALUES ($1, $2), ($1, $3)",
			id, userID, otherID); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	conv, err := r.GetConversation(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return conv, existing, nil
}

// ListConversations returns the user's conversations, most recent activity
// first, each with its last message and the user's unread count.
func (r *Repository) ListConversations(ctx context.Context, userID int) ([]ConversationSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.created_at, c.updated_at
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.id
		WHERE p.user_id = $1
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []ConversationSummary
	for rows.Next() {
		var s ConversationSummary
		if err := rows.Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range summaries {
		s := &summaries[i]
		if s.Participants, err = r.participantsOf(ctx, s.ID); err != nil {
			return nil, err
		}
		if s.LastMessage, err = r.lastMessageOf(ctx, s.ID); err != nil {
			return nil, err
		}
		if err := r.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM messages
			WHERE conversation_id = $1 AND sender_id <> $2 AND NOT is_read
		`, s.ID, userID).Scan(&s.UnreadCount); err != nil {
			return nil, err
		}
	}
	return summaries, nil
}

// ListMessagesMarkRead returns the conversation's messages oldest-first and
// marks everyone else's messages as read for the caller. The read-marking
// is a side effect of retrieval; the live chat path never touches is_read.
func (r *Repository) ListMessagesMarkRead(ctx context.Context, conversationID, readerID int) ([]Message, error) {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE conversation_id = $1 AND sender_id <> $2 AND NOT is_read
	`, conversationID, readerID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, u.username,
		       m.message_type, m.content, m.attachment, m.is_read, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = $1
		ORDER BY m.created_at ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderUsername,
			&m.MessageType, &m.Content, &m.Attachment, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *Repository) participantsOf(ctx context.Context, conversationID int) ([]Participant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.display_name
		FROM participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = $1
		ORDER BY u.id
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ID, &p.Username, &p.DisplayName); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func (r *Repository) lastMessageOf(ctx context.Context, conversationID int) (*Message, error) {
	m := &Message{}
	err := r.db.QueryRowContext(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, u.username,
		       m.message_type, m.content, m.attachment, m.is_read, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = $1
		ORDER BY m.created_at DESC
		LIMIT 1
	`, conversationID).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderUsername,
		&m.MessageType, &m.Content, &m.Attachment, &m.IsRead, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}
