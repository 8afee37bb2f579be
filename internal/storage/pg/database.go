package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Database bundles the connection pool with the three stores.
type Database struct {
	Pool          *pgxpool.Pool
	Conversations *ConversationStore
	Summaries     *SummaryStore
	Profiles      *ProfileStore
}

// InitDatabase opens the pool, verifies connectivity, and runs migrations.
func InitDatabase(ctx context.Context, databaseURL string, maxConns int) (*Database, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolCfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := RunMigrations(databaseURL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Database{
		Pool:          pool,
		Conversations: NewConversationStore(pool),
		Summaries:     NewSummaryStore(pool),
		Profiles:      NewProfileStore(pool),
	}, nil
}

// Close releases the pool.
func (d *Database) Close() {
	d.Pool.Close()
}

const (
	upsertRetries = 3
	retryBaseWait = 500 * time.Millisecond
)

// withRetry runs fn up to upsertRetries times with linear backoff. Store
// writes hit transient pool and serialization errors under load.
func withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= upsertRetries; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt == upsertRetries {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * retryBaseWait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
