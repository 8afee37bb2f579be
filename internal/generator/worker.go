package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/chatfabric/chatfabric/internal/domain"
	"github.com/chatfabric/chatfabric/internal/llm"
	"github.com/chatfabric/chatfabric/internal/logger"
	"github.com/chatfabric/chatfabric/internal/memoryclient"
	"github.com/chatfabric/chatfabric/internal/metrics"
	"github.com/chatfabric/chatfabric/internal/prompts"
)

// Publisher is the bus surface the worker writes to.
type Publisher interface {
	PublishToken(frag domain.TokenFragment) error
	PublishEndOfStream(sessionID, chatMessageID string) error
	PublishCompletion(ctx context.Context, ev domain.CompletionEvent) error
}

// Cache is the hot-store surface the worker reads and writes.
type Cache interface {
	GetConversation(ctx context.Context, sessionID string) (*domain.Conversation, error)
	SaveConversation(ctx context.Context, conv *domain.Conversation) error
	AppendReplay(ctx context.Context, frag domain.TokenFragment) error
}

// Store is the durable transcript fallback for sessions the cache evicted.
type Store interface {
	Get(ctx context.Context, userID, sessionID string) (*domain.Conversation, error)
}

// MemoryAPI is the personalization and search surface.
type MemoryAPI interface {
	FetchProfile(ctx context.Context, userID string) (*domain.UserProfile, error)
	SearchConversations(ctx context.Context, userID, query string, limit int) (*memoryclient.SearchResponse, error)
}

// ChatModel is the streaming LLM surface.
type ChatModel interface {
	StreamChat(ctx context.Context, model string, messages []openai.ChatCompletionMessage, tools []openai.Tool, onToken func(string)) (*llm.StreamResult, error)
}

// Options tunes the worker.
type Options struct {
	Model              string
	MemoryAPITimeout   time.Duration
	MaxToolRounds      int
	SearchLimitDefault int
	SearchLimitMax     int
}

// Worker turns one user-message delivery into a streamed assistant turn.
// Instances are stateless; all conversation state lives in the hot cache.
type Worker struct {
	opts    Options
	pub     Publisher
	cache   Cache
	store   Store
	memory  MemoryAPI
	model   ChatModel
	prompts *prompts.Library
	logger  *logger.Logger
}

func NewWorker(opts Options, pub Publisher, cache Cache, store Store, memory MemoryAPI, model ChatModel, lib *prompts.Library, log *logger.Logger) *Worker {
	return &Worker{
		opts:    opts,
		pub:     pub,
		cache:   cache,
		store:   store,
		memory:  memory,
		model:   model,
		prompts: lib,
		logger:  log.WithComponent("generator"),
	}
}

// HandleUserMessage is the bus handler. A nil return acks the delivery; an
// error abandons it for redelivery.
func (w *Worker) HandleUserMessage(ctx context.Context, data []byte) error {
	var ev domain.UserMessageEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		// Malformed envelopes never become valid; ack and drop.
		w.logger.Warn("dropping malformed user message event", "error", err)
		return nil
	}

	log := w.logger.WithTurn(ev.SessionID, ev.UserID, ev.ChatMessageID)
	log.Info("processing user message")

	conv, isNew, err := w.loadConversation(ctx, ev)
	if err != nil {
		metrics.GeneratorTurns.WithLabelValues(metrics.OutcomeFailed).Inc()
		return err
	}

	// Redelivery of an already-finalized turn: the client may only have
	// missed the sentinel.
	if conv.HasAssistantMessage(ev.ChatMessageID) {
		log.Info("turn already finalized, republishing end of stream")
		metrics.GeneratorTurns.WithLabelValues(metrics.OutcomeIdempotentSkip).Inc()
		w.emitEndOfStream(ctx, ev.SessionID, ev.ChatMessageID)
		return nil
	}

	var systemPrompt string
	if isNew {
		systemPrompt = w.personalizedSystemPrompt(ctx, ev.UserID)
	}

	assistantText, err := w.generate(ctx, ev, conv, systemPrompt)
	if err != nil {
		metrics.GeneratorTurns.WithLabelValues(metrics.OutcomeFailed).Inc()
		w.emitError(ctx, ev.SessionID, ev.ChatMessageID, "generation failed")
		return err
	}

	// Finalize: hot cache first, then sentinel and fan-out. The cache write
	// must land before the ack so redelivery sees the assistant message.
	if isNew && systemPrompt != "" {
		conv.Append(ev.ChatMessageID, domain.RoleSystem, systemPrompt)
	}
	conv.Append(ev.ChatMessageID, domain.RoleUser, ev.Text)
	conv.Append(ev.ChatMessageID, domain.RoleAssistant, assistantText)

	if err := w.cache.SaveConversation(ctx, conv); err != nil {
		metrics.GeneratorTurns.WithLabelValues(metrics.OutcomeFailed).Inc()
		return fmt.Errorf("save conversation: %w", err)
	}

	w.emitEndOfStream(ctx, ev.SessionID, ev.ChatMessageID)

	if err := w.pub.PublishCompletion(ctx, domain.NewCompletionEvent(ev.SessionID, ev.UserID, ev.ChatMessageID)); err != nil {
		// Redelivery re-runs the handler; the idempotency check replays the
		// sentinel and retries this publish.
		metrics.GeneratorTurns.WithLabelValues(metrics.OutcomeFailed).Inc()
		return fmt.Errorf("publish completion: %w", err)
	}

	metrics.GeneratorTurns.WithLabelValues(metrics.OutcomeCompleted).Inc()
	log.Info("turn completed", "assistant_chars", len(assistantText))
	return nil
}

// loadConversation reads the session from the hot cache, falling back to the
// durable store for sessions the cache evicted. Only a session absent from
// both is new.
func (w *Worker) loadConversation(ctx context.Context, ev domain.UserMessageEvent) (*domain.Conversation, bool, error) {
	conv, err := w.cache.GetConversation(ctx, ev.SessionID)
	if err == nil {
		return conv, len(conv.Messages) == 0, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("load conversation: %w", err)
	}

	stored, err := w.store.Get(ctx, ev.UserID, ev.SessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewConversation(ev.SessionID, ev.UserID), true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load stored conversation: %w", err)
	}

	// Re-seed the cache so the writers observe the full history when this
	// turn completes, not just the resumed tail.
	if err := w.cache.SaveConversation(ctx, stored); err != nil {
		return nil, false, fmt.Errorf("reseed conversation cache: %w", err)
	}
	w.logger.Info("session restored from store",
		"session_id", ev.SessionID, "messages", len(stored.Messages))
	return stored, false, nil
}

// personalizedSystemPrompt fetches the profile under the hard timeout and
// renders the system prompt. Any failure degrades to the base prompt.
func (w *Worker) personalizedSystemPrompt(ctx context.Context, userID string) string {
	fetchCtx, cancel := context.WithTimeout(ctx, w.opts.MemoryAPITimeout)
	defer cancel()

	profile, err := w.memory.FetchProfile(fetchCtx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			w.logger.Warn("memory fetch degraded, using base prompt", "user_id", userID, "error", err)
		}
		return w.prompts.RenderSystem(nil)
	}
	return w.prompts.RenderSystem(profile)
}

// generate runs the streaming tool loop and returns the final assistant
// text.
func (w *Worker) generate(ctx context.Context, ev domain.UserMessageEvent, conv *domain.Conversation, systemPrompt string) (string, error) {
	messages := buildChatMessages(conv, systemPrompt, ev.Text)
	tool := searchTool(w.prompts.SearchToolDescription(), w.opts.SearchLimitDefault, w.opts.SearchLimitMax)

	onToken := func(token string) {
		frag := domain.TokenFragment{
			SessionID:     ev.SessionID,
			ChatMessageID: ev.ChatMessageID,
			Token:         token,
		}
		if err := w.pub.PublishToken(frag); err != nil {
			w.logger.Warn("token publish failed", "error", err)
		}
		if err := w.cache.AppendReplay(ctx, frag); err != nil {
			w.logger.Warn("replay append failed", "error", err)
		}
		metrics.TokensPublished.Inc()
	}

	var assistant []byte
	for round := 0; ; round++ {
		tools := []openai.Tool{tool}
		if round >= w.opts.MaxToolRounds {
			// Tool budget spent: force a text answer.
			tools = nil
		}

		result, err := w.model.StreamChat(ctx, w.opts.Model, messages, tools, onToken)
		if err != nil {
			return "", err
		}
		assistant = append(assistant, result.Content...)

		if !result.HasToolCalls() {
			break
		}

		messages = append(messages, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})
		for _, call := range result.ToolCalls {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: call.ID,
				Content:    w.executeToolCall(ctx, ev.UserID, call),
			})
		}
	}

	return string(assistant), nil
}

// executeToolCall runs one search tool call and returns the tool message
// content. Failures produce an explanatory payload rather than an error so
// the model can still answer.
func (w *Worker) executeToolCall(ctx context.Context, userID string, call openai.ToolCall) string {
	log := w.logger.With("tool", call.Function.Name, "user_id", userID)

	if call.Function.Name != SearchToolName {
		log.Warn("model requested unknown tool")
		return `{"error": "unknown tool"}`
	}

	args, err := parseSearchArgs(call.Function.Arguments, w.opts.SearchLimitDefault, w.opts.SearchLimitMax)
	if err != nil {
		log.Warn("bad tool arguments", "error", err)
		return `{"error": "invalid arguments"}`
	}

	resp, err := w.memory.SearchConversations(ctx, userID, args.SearchQuery, args.Limit)
	if err != nil {
		log.Warn("conversation search failed", "error", err)
		return `{"conversations": [], "error": "search unavailable"}`
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return `{"conversations": [], "error": "search unavailable"}`
	}
	log.Info("conversation search served", "query", args.SearchQuery, "results", len(resp.Conversations))
	return string(data)
}

// buildChatMessages assembles the provider message list: system prompt
// first, then stored history, then the new user message.
func buildChatMessages(conv *domain.Conversation, systemPrompt, userText string) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(conv.Messages)+2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, m := range conv.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userText,
	})
	return messages
}

// emitEndOfStream publishes the sentinel on the live stream and into the
// replay buffer.
func (w *Worker) emitEndOfStream(ctx context.Context, sessionID, chatMessageID string) {
	if err := w.pub.PublishEndOfStream(sessionID, chatMessageID); err != nil {
		w.logger.Warn("end-of-stream publish failed", "error", err)
	}
	frag := domain.TokenFragment{SessionID: sessionID, ChatMessageID: chatMessageID, EndOfStream: true}
	if err := w.cache.AppendReplay(ctx, frag); err != nil {
		w.logger.Warn("end-of-stream replay append failed", "error", err)
	}
}

// emitError surfaces an upstream failure to the SSE client.
func (w *Worker) emitError(ctx context.Context, sessionID, chatMessageID, msg string) {
	frag := domain.TokenFragment{
		SessionID:     sessionID,
		ChatMessageID: chatMessageID,
		Error:         msg,
	}
	if err := w.pub.PublishToken(frag); err != nil {
		w.logger.Warn("error publish failed", "error", err)
	}
	if err := w.cache.AppendReplay(ctx, frag); err != nil {
		w.logger.Warn("error replay append failed", "error", err)
	}
}
