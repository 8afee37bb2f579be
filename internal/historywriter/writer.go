package historywriter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

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

// Store persists conversation documents.
type Store interface {
	Get(ctx context.Context, userID, sessionID string) (*domain.Conversation, error)
	Upsert(ctx context.Context, conv *domain.Conversation) error
}

// Titler produces a conversation title.
type Titler interface {
	Complete(ctx context.Context, model string, messages []openai.ChatCompletionMessage) (string, error)
}

// Writer consumes completion events and persists the conversation, titling
// it on first persist.
type Writer struct {
	cache   CacheReader
	store   Store
	titler  Titler
	prompts *prompts.Library
	model   string
	logger  *logger.Logger
}

func NewWriter(cache CacheReader, store Store, titler Titler, lib *prompts.Library, model string, log *logger.Logger) *Writer {
	return &Writer{
		cache:   cache,
		store:   store,
		titler:  titler,
		prompts: lib,
		model:   model,
		logger:  log.WithComponent("history_writer"),
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
		metrics.CompletionsProcessed.WithLabelValues("history-writer", metrics.OutcomeIdempotentSkip).Inc()
		return nil
	}
	if err != nil {
		metrics.CompletionsProcessed.WithLabelValues("history-writer", metrics.OutcomeFailed).Inc()
		return fmt.Errorf("load conversation: %w", err)
	}

	conv.Title = w.resolveTitle(ctx, conv, log)

	if err := w.store.Upsert(ctx, conv); err != nil {
		metrics.CompletionsProcessed.WithLabelValues("history-writer", metrics.OutcomeFailed).Inc()
		return fmt.Errorf("persist conversation: %w", err)
	}

	metrics.CompletionsProcessed.WithLabelValues("history-writer", metrics.OutcomeCompleted).Inc()
	log.Info("conversation persisted", "title", conv.Title, "messages", len(conv.Messages))
	return nil
}

// resolveTitle reuses an already-assigned title, otherwise generates one.
// Titles are assigned exactly once per conversation; regeneration on later
// events would make repeated persists diverge.
func (w *Writer) resolveTitle(ctx context.Context, conv *domain.Conversation, log *logger.Logger) string {
	if conv.Title != "" {
		return conv.Title
	}

	if stored, err := w.store.Get(ctx, conv.UserID, conv.SessionID); err == nil && stored.Title != "" {
		return stored.Title
	}

	raw, err := w.titler.Complete(ctx, w.model, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: w.prompts.Title()},
		{Role: openai.ChatMessageRoleUser, Content: "Generate a descriptive title for this conversation:\n\n" + BuildTitleContext(conv)},
	})
	if err != nil {
		log.Warn("title generation failed, using default", "error", err)
		return DefaultTitle
	}
	return CleanTitle(raw)
}
