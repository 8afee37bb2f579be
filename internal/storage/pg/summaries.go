package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/chatfabric/chatfabric/internal/domain"
)

// SummaryStore persists conversation summaries with their embedding vectors
// and serves vector search, partition-scoped by user_id.
type SummaryStore struct {
	pool *pgxpool.Pool
}

func NewSummaryStore(pool *pgxpool.Pool) *SummaryStore {
	return &SummaryStore{pool: pool}
}

// Upsert writes the summary for a session. A nil embedding stores NULL; the
// record still exists for text search.
func (s *SummaryStore) Upsert(ctx context.Context, sum *domain.ConversationSummary, embedding []float32) error {
	var vec interface{}
	if len(embedding) > 0 {
		vec = pgvector.NewVector(embedding)
	}

	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO conversation_summaries (session_id, user_id, summary, themes, persons, places, user_sentiment, embedding, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
			ON CONFLICT (session_id) DO UPDATE SET
				summary        = EXCLUDED.summary,
				themes         = EXCLUDED.themes,
				persons        = EXCLUDED.persons,
				places         = EXCLUDED.places,
				user_sentiment = EXCLUDED.user_sentiment,
				embedding      = COALESCE(EXCLUDED.embedding, conversation_summaries.embedding),
				updated_at     = now()`,
			sum.SessionID, sum.UserID, sum.Summary, sum.Themes, sum.Persons, sum.Places, string(sum.UserSentiment), vec)
		if err != nil {
			return fmt.Errorf("upsert summary %s: %w: %w", sum.SessionID, domain.ErrTransient, err)
		}
		return nil
	})
}

// Search runs a cosine-distance query against the user's summaries and maps
// similarity to a [0,1] relevance score.
func (s *SummaryStore) Search(ctx context.Context, userID string, embedding []float32, limit int) ([]domain.SummarySearchResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, summary, themes, persons, places, user_sentiment, updated_at,
		       GREATEST(0, LEAST(1, 1 - (embedding <=> $2))) AS relevance
		FROM conversation_summaries
		WHERE user_id = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2
		LIMIT $3`, userID, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("vector search for %s: %w", userID, err)
	}
	defer rows.Close()

	return scanSearchResults(rows, userID)
}

// SearchText is the fallback when query embedding fails: recency-ordered,
// with a heuristic relevance of 0.8 for substring matches and 0.5 otherwise.
func (s *SummaryStore) SearchText(ctx context.Context, userID, query string, limit int) ([]domain.SummarySearchResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, summary, themes, persons, places, user_sentiment, updated_at,
		       CASE WHEN summary ILIKE '%' || $2 || '%' THEN 0.8 ELSE 0.5 END AS relevance
		FROM conversation_summaries
		WHERE user_id = $1
		ORDER BY relevance DESC, updated_at DESC
		LIMIT $3`, userID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("text search for %s: %w", userID, err)
	}
	defer rows.Close()

	return scanSearchResults(rows, userID)
}

func scanSearchResults(rows pgx.Rows, userID string) ([]domain.SummarySearchResult, error) {
	results := []domain.SummarySearchResult{}
	for rows.Next() {
		var r domain.SummarySearchResult
		var sentiment string
		if err := rows.Scan(&r.SessionID, &r.Summary, &r.Themes, &r.Persons, &r.Places,
			&sentiment, &r.Timestamp, &r.RelevanceScore); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		r.UserID = userID
		r.UserSentiment = domain.Sentiment(sentiment)
		results = append(results, r)
	}
	return results, rows.Err()
}
