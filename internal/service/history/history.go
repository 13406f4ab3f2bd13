package history

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"chatkeeper/internal/apperr"
	"chatkeeper/internal/models"
	"chatkeeper/internal/storage"
)

// DefaultLimit is how many messages Recent returns when no limit is given.
const DefaultLimit = 10

// Store appends and reads chat messages. Whitelist checks happen in the caller.
type Store struct {
	q   storage.Querier
	now func() time.Time
}

type Option func(*Store)

// WithClock replaces time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(q storage.Querier, opts ...Option) *Store {
	s := &Store{q: q, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save inserts one message stamped with the current time.
func (s *Store) Save(ctx context.Context, chatID string, role models.Role, content string) (*models.ChatMessage, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, apperr.Validation("save message", "chat_id is required")
	}
	now := s.now().UTC()
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO chat_history (chat_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
		chatID, role, content, now,
	)
	if err != nil {
		return nil, apperr.Storage("save message", fmt.Errorf("insert message: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apperr.Storage("save message", fmt.Errorf("message id: %w", err))
	}
	return &models.ChatMessage{ID: id, ChatID: chatID, Role: role, Content: content, Timestamp: now}, nil
}

// Recent returns the newest limit messages of a chat, oldest first.
func (s *Store) Recent(ctx context.Context, chatID string, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, chat_id, role, content, timestamp FROM chat_history
		 WHERE chat_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		chatID, limit,
	)
	if err != nil {
		return nil, apperr.Storage("list messages", fmt.Errorf("list messages: %w", err))
	}
	defer rows.Close()

	messages := make([]models.ChatMessage, 0, limit)
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, apperr.Storage("list messages", fmt.Errorf("scan message: %w", err))
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list messages", err)
	}
	// fetched newest first
	slices.Reverse(messages)
	return messages, nil
}
