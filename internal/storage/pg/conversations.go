package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatfabric/chatfabric/internal/domain"
)

// ConversationStore persists full transcripts, partition-scoped by user_id.
type ConversationStore struct {
	pool *pgxpool.Pool
}

func NewConversationStore(pool *pgxpool.Pool) *ConversationStore {
	return &ConversationStore{pool: pool}
}

// ConversationMeta is the listing projection: no messages.
type ConversationMeta struct {
	SessionID    string    `json:"sessionId"`
	Title        string    `json:"title"`
	LastActivity time.Time `json:"lastActivity"`
	MessageCount int       `json:"messageCount"`
}

// Upsert writes the conversation document. Idempotent: repeated upserts for
// the same session converge to the same state modulo the monotonic
// last_activity and persisted_at columns.
func (s *ConversationStore) Upsert(ctx context.Context, conv *domain.Conversation) error {
	messages, err := json.Marshal(conv.Messages)
	if err != nil {
		return fmt.Errorf("encode messages for %s: %w", conv.SessionID, err)
	}

	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO conversations (session_id, user_id, title, messages, message_count, created_at, last_activity, persisted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (session_id) DO UPDATE SET
				title         = EXCLUDED.title,
				messages      = EXCLUDED.messages,
				message_count = EXCLUDED.message_count,
				last_activity = GREATEST(conversations.last_activity, EXCLUDED.last_activity),
				persisted_at  = now()`,
			conv.SessionID, conv.UserID, conv.Title, messages, len(conv.Messages), conv.CreatedAt, conv.LastActivity)
		if err != nil {
			return fmt.Errorf("upsert conversation %s: %w: %w", conv.SessionID, domain.ErrTransient, err)
		}
		return nil
	})
}

// ListByUser returns conversation metadata ordered by last activity,
// newest first.
func (s *ConversationStore) ListByUser(ctx context.Context, userID string) ([]ConversationMeta, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, title, last_activity, message_count
		FROM conversations
		WHERE user_id = $1
		ORDER BY last_activity DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations for %s: %w", userID, err)
	}
	defer rows.Close()

	metas := []ConversationMeta{}
	for rows.Next() {
		var m ConversationMeta
		if err := rows.Scan(&m.SessionID, &m.Title, &m.LastActivity, &m.MessageCount); err != nil {
			return nil, fmt.Errorf("scan conversation meta: %w", err)
		}
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// Get loads the full transcript. The user_id predicate makes cross-partition
// reads indistinguishable from missing sessions.
func (s *ConversationStore) Get(ctx context.Context, userID, sessionID string) (*domain.Conversation, error) {
	conv := domain.Conversation{SessionID: sessionID, UserID: userID}
	var messages []byte

	err := s.pool.QueryRow(ctx, `
		SELECT title, messages, created_at, last_activity
		FROM conversations
		WHERE user_id = $1 AND session_id = $2`, userID, sessionID).
		Scan(&conv.Title, &messages, &conv.CreatedAt, &conv.LastActivity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", sessionID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", sessionID, err)
	}

	if err := json.Unmarshal(messages, &conv.Messages); err != nil {
		return nil, fmt.Errorf("decode messages for %s: %w", sessionID, err)
	}
	return &conv, nil
}

// UpdateTitle renames a conversation. Returns domain.ErrNotFound for
// cross-partition or missing sessions.
func (s *ConversationStore) UpdateTitle(ctx context.Context, userID, sessionID, title string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET title = $3
		WHERE user_id = $1 AND session_id = $2`, userID, sessionID, title)
	if err != nil {
		return fmt.Errorf("update title for %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", sessionID, domain.ErrNotFound)
	}
	return nil
}
