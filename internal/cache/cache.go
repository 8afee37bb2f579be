package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chatfabric/chatfabric/internal/domain"
)

// Cache is the hot store for in-flight conversations plus the short token
// replay buffer. The generator is the only writer of conversation keys.
type Cache struct {
	rdb        *redis.Client
	sessionTTL time.Duration
	replayTTL  time.Duration
}

// Options configures the cache client.
type Options struct {
	Addr       string
	Password   string
	DB         int
	SessionTTL time.Duration
	ReplayTTL  time.Duration
}

// New creates a cache client. Call Ping to verify connectivity.
func New(opts Options) *Cache {
	return &Cache{
		rdb: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		sessionTTL: opts.SessionTTL,
		replayTTL:  opts.ReplayTTL,
	}
}

// Ping verifies the connection.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close releases the client.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}

func replayKey(sessionID, chatMessageID string) string {
	return fmt.Sprintf("replay:%s:%s", sessionID, chatMessageID)
}

// GetConversation loads a conversation and slides its TTL forward, so an
// active session stays hot even on paths that never write (idempotent
// redelivery, egress fallbacks). Returns domain.ErrNotFound when the session
// has no cached state.
func (c *Cache) GetConversation(ctx context.Context, sessionID string) (*domain.Conversation, error) {
	key := sessionKey(sessionID)
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("conversation %s: %w", sessionID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w: %w", sessionID, domain.ErrTransient, err)
	}

	var conv domain.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", sessionID, err)
	}

	// Best effort; a failed refresh costs nothing until the TTL runs out.
	c.rdb.Expire(ctx, key, c.sessionTTL)

	return &conv, nil
}

// SaveConversation writes the full conversation and refreshes its TTL.
func (c *Cache) SaveConversation(ctx context.Context, conv *domain.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", conv.SessionID, err)
	}
	if err := c.rdb.Set(ctx, sessionKey(conv.SessionID), data, c.sessionTTL).Err(); err != nil {
		return fmt.Errorf("save conversation %s: %w: %w", conv.SessionID, domain.ErrTransient, err)
	}
	return nil
}

// AppendReplay records a token fragment in the per-turn replay buffer so a
// late-connecting SSE client can still drain the turn. Best effort.
func (c *Cache) AppendReplay(ctx context.Context, frag domain.TokenFragment) error {
	data, err := json.Marshal(frag)
	if err != nil {
		return fmt.Errorf("encode replay fragment: %w", err)
	}
	key := replayKey(frag.SessionID, frag.ChatMessageID)

	pipe := c.rdb.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, c.replayTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append replay fragment: %w", err)
	}
	return nil
}

// GetReplay returns the buffered fragments for a turn in emission order, or
// an empty slice when the buffer expired.
func (c *Cache) GetReplay(ctx context.Context, sessionID, chatMessageID string) ([]domain.TokenFragment, error) {
	raw, err := c.rdb.LRange(ctx, replayKey(sessionID, chatMessageID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read replay buffer: %w", err)
	}

	frags := make([]domain.TokenFragment, 0, len(raw))
	for _, item := range raw {
		var frag domain.TokenFragment
		if err := json.Unmarshal([]byte(item), &frag); err != nil {
			continue
		}
		frags = append(frags, frag)
	}
	return frags, nil
}
