package memorywriter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/chatfabric/chatfabric/internal/domain"
	"github.com/chatfabric/chatfabric/internal/logger"
	"github.com/chatfabric/chatfabric/internal/metrics"
	"github.com/chatfabric/chatfabric/internal/prompts"
)

// CacheReader reads finalized conversations from the hot cache.
type CacheReader interface {
	GetConversation(ctx context.Context, sessionID string) (*domain.Conversation, error)
}

// SummaryStore persists per-conversation summary records.
type SummaryStore interface {
	Upsert(ctx context.Context, sum *domain.ConversationSummary, embedding []float32) error
}

// ProfileStore persists the per-user memory profile.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (*domain.UserProfile, error)
	Upsert(ctx context.Context, profile *domain.UserProfile) error
}

// Extractor runs structured extraction and embeds summary text.
type Extractor interface {
	CompleteJSON(ctx context.Context, model, name string, messages []openai.ChatCompletionMessage, out interface{}) error
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Writer consumes completion events, extracts a conversation summary and
// profile updates from the finished conversation, and persists both.
type Writer struct {
	cache     CacheReader
	summaries SummaryStore
	profiles  ProfileStore
	extractor Extractor
	prompts   *prompts.Library
	model     string
	logger    *logger.Logger
}

func NewWriter(cache CacheReader, summaries SummaryStore, profiles ProfileStore, extractor Extractor, lib *prompts.Library, model string, log *logger.Logger) *Writer {
	return &Writer{
		cache:     cache,
		summaries: summaries,
		profiles:  profiles,
		extractor: extractor,
		prompts:   lib,
		model:     model,
		logger:    log.WithComponent("memory_writer"),
	}
}

// HandleCompletion is the bus handler for one completion event.
func (w *Writer) HandleCompletion(ctx context.Context, data []byte) error {
	var ev domain.CompletionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		w.logger.Warn("dropping malformed completion event", "error", err)
		return nil
	}

	log := w.logger.WithTurn(ev.SessionID, ev.UserID, ev.ChatMessageID)

	conv, err := w.cache.GetConversation(ctx, ev.SessionID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn("conversation expired from cache, dropping event")
		metrics.CompletionsProcessed.WithLabelValues("memory-writer", metrics.OutcomeIdempotentSkip).Inc()
		return nil
	}
	if err != nil {
		metrics.CompletionsProcessed.WithLabelValues("memory-writer", metrics.OutcomeFailed).Inc()
		return fmt.Errorf("load conversation: %w", err)
	}

	existing, err := w.profiles.Get(ctx, ev.UserID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		metrics.CompletionsProcessed.WithLabelValues("memory-writer", metrics.OutcomeFailed).Inc()
		return fmt.Errorf("load profile: %w", err)
	}

	extraction, extractErr := w.extract(ctx, conv, existing)
	if extractErr != nil {
		// The summary row still gets written so later turns keep updating it
		// and text search has something to find.
		log.Warn("extraction failed, writing defaults", "error", extractErr)
		extraction = &domain.Extraction{UserSentiment: string(domain.SentimentNeutral)}
	}

	summary := &domain.ConversationSummary{
		UserID:        ev.UserID,
		SessionID:     ev.SessionID,
		Summary:       extraction.Summary,
		Themes:        extraction.Themes,
		Persons:       extraction.Persons,
		Places:        extraction.Places,
		UserSentiment: domain.ParseSentiment(extraction.UserSentiment),
		Timestamp:     time.Now().UTC(),
	}

	var embedding []float32
	if extractErr == nil {
		embedding, err = w.extractor.Embed(ctx, summary.EmbeddingText())
		if err != nil {
			// Row is written without a vector; text search still covers it.
			log.Warn("embedding failed, storing summary without vector", "error", err)
			embedding = nil
		}
	}

	if err := w.summaries.Upsert(ctx, summary, embedding); err != nil {
		metrics.CompletionsProcessed.WithLabelValues("memory-writer", metrics.OutcomeFailed).Inc()
		return fmt.Errorf("persist summary: %w", err)
	}

	if err := w.updateProfile(ctx, ev.UserID, existing, extraction.ProfileUpdates); err != nil {
		metrics.CompletionsProcessed.WithLabelValues("memory-writer", metrics.OutcomeFailed).Inc()
		return fmt.Errorf("persist profile: %w", err)
	}

	metrics.CompletionsProcessed.WithLabelValues("memory-writer", metrics.OutcomeCompleted).Inc()
	log.Info("memory updated",
		"themes", len(summary.Themes),
		"sentiment", summary.UserSentiment,
		"embedded", embedding != nil)
	return nil
}

// extract runs the single structured extraction call covering both the
// conversation summary and the profile deltas.
func (w *Writer) extract(ctx context.Context, conv *domain.Conversation, existing *domain.UserProfile) (*domain.Extraction, error) {
	system := w.prompts.Summary() + "\n\n" + w.prompts.RenderProfile(existing)

	var out domain.Extraction
	err := w.extractor.CompleteJSON(ctx, w.model, "conversation_extraction", []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
		{Role: openai.ChatMessageRoleUser, Content: renderTranscript(conv)},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (w *Writer) updateProfile(ctx context.Context, userID string, existing *domain.UserProfile, updates domain.ProfileUpdates) error {
	base := domain.UserProfile{UserID: userID}
	if existing != nil {
		base = *existing
	}
	merged := Merge(base, updates)
	return w.profiles.Upsert(ctx, &merged)
}

// renderTranscript flattens the conversation for the extraction prompt.
// System messages stay in as context; the prompt instructs the model to
// extract from user messages only.
func renderTranscript(conv *domain.Conversation) string {
	var b strings.Builder
	b.WriteString("Analyze this conversation:\n\n")
	for _, msg := range conv.Messages {
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return b.String()
}
