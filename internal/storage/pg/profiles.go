package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatfabric/chatfabric/internal/domain"
)

// ProfileStore persists one UserProfile document per user.
type ProfileStore struct {
	pool *pgxpool.Pool
}

func NewProfileStore(pool *pgxpool.Pool) *ProfileStore {
	return &ProfileStore{pool: pool}
}

// Get loads the profile. Returns domain.ErrNotFound for users with no
// profile yet.
func (s *ProfileStore) Get(ctx context.Context, userID string) (*domain.UserProfile, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT profile FROM user_profiles WHERE user_id = $1`, userID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}

	var profile domain.UserProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", userID, err)
	}
	profile.UserID = userID
	return &profile, nil
}

// Upsert writes the profile document.
func (s *ProfileStore) Upsert(ctx context.Context, profile *domain.UserProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", profile.UserID, err)
	}

	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO user_profiles (user_id, profile, last_updated)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO UPDATE SET
				profile      = EXCLUDED.profile,
				last_updated = EXCLUDED.last_updated`,
			profile.UserID, data, profile.LastUpdated)
		if err != nil {
			return fmt.Errorf("upsert profile %s: %w: %w", profile.UserID, domain.ErrTransient, err)
		}
		return nil
	})
}

// Delete removes the profile. Summaries stay: conversation history is
// deleted through the history surface separately. Idempotent.
func (s *ProfileStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM user_profiles WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete profile %s: %w", userID, err)
	}
	return nil
}
