package front

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatfabric/chatfabric/internal/domain"
	"github.com/chatfabric/chatfabric/internal/logger"
	"github.com/chatfabric/chatfabric/internal/metrics"
)

// TokenSubscription is one live token feed for a session.
type TokenSubscription interface {
	Tokens() <-chan domain.TokenFragment
	Close()
}

// TokenSource opens live token feeds.
type TokenSource interface {
	SubscribeTokens(sessionID string, buffer int) (TokenSubscription, error)
}

// TurnReader serves the fallback paths for clients that connect after the
// live stream is gone.
type TurnReader interface {
	GetReplay(ctx context.Context, sessionID, chatMessageID string) ([]domain.TokenFragment, error)
	GetConversation(ctx context.Context, sessionID string) (*domain.Conversation, error)
}

// EgressOptions tunes the SSE handler.
type EgressOptions struct {
	// FirstTokenTimeout closes streams where no fragment ever arrives.
	FirstTokenTimeout time.Duration
	// IdleTimeout is the hard ceiling on a silent open stream.
	IdleTimeout time.Duration
	// KeepAliveInterval paces SSE comment lines that hold proxies open.
	KeepAliveInterval time.Duration
	// Buffer is the per-connection fragment buffer.
	Buffer int
}

// EgressHandler streams one turn's tokens to an SSE client.
type EgressHandler struct {
	source TokenSource
	turns  TurnReader
	opts   EgressOptions
	logger *logger.Logger
}

func NewEgressHandler(source TokenSource, turns TurnReader, opts EgressOptions, log *logger.Logger) *EgressHandler {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 5 * time.Minute
	}
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = 15 * time.Second
	}
	return &EgressHandler{
		source: source,
		turns:  turns,
		opts:   opts,
		logger: log.WithComponent("egress"),
	}
}

// Stream handles GET /stream/:sessionId/:chatMessageId.
func (h *EgressHandler) Stream(c *gin.Context) {
	sessionID := c.Param("sessionId")
	chatMessageID := c.Param("chatMessageId")
	log := h.logger.With("session_id", sessionID, "chat_message_id", chatMessageID)

	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "SSE not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	metrics.SSEConnectionsActive.Inc()
	defer metrics.SSEConnectionsActive.Dec()

	// Subscribe before probing the fallback paths so an in-flight stream
	// can't slip past between the probe and the subscription.
	sub, err := h.source.SubscribeTokens(sessionID, h.opts.Buffer)
	if err != nil {
		log.Error("token subscribe failed", "error", err)
		c.String(http.StatusServiceUnavailable, "stream unavailable")
		metrics.SSEConnectionsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		return
	}
	defer sub.Close()

	sse := &sseWriter{w: w, flusher: flusher}
	sse.comment("connected")

	// Connect-after-complete: the turn may already be finished, with the
	// sentinel long consumed. Serve it from the replay buffer or the stored
	// conversation instead of blocking on a stream that will never speak.
	if h.serveCompletedTurn(c.Request.Context(), sse, sessionID, chatMessageID) {
		metrics.SSEConnectionsTotal.WithLabelValues(metrics.OutcomeCompleted).Inc()
		return
	}

	h.streamLive(c.Request.Context(), sse, sub, sessionID, chatMessageID, log)
}

// serveCompletedTurn replays an already-finished turn. Returns false when
// the turn is still pending and the live stream should be used.
func (h *EgressHandler) serveCompletedTurn(ctx context.Context, sse *sseWriter, sessionID, chatMessageID string) bool {
	frags, err := h.turns.GetReplay(ctx, sessionID, chatMessageID)
	if err == nil && replayIsComplete(frags) {
		for _, frag := range frags {
			if frag.EndOfStream {
				break
			}
			if frag.Error != "" {
				sse.errorEvent(frag.Error)
				return true
			}
			sse.token(frag.Token)
			metrics.TokensDelivered.Inc()
		}
		sse.end()
		return true
	}

	// Replay expired: fall back to the assistant message stored in the hot
	// cache, delivered as one fragment.
	conv, err := h.turns.GetConversation(ctx, sessionID)
	if err != nil {
		return false
	}
	if msg, ok := conv.AssistantMessage(chatMessageID); ok {
		sse.token(msg.Content)
		metrics.TokensDelivered.Inc()
		sse.end()
		return true
	}
	return false
}

func replayIsComplete(frags []domain.TokenFragment) bool {
	for _, f := range frags {
		if f.EndOfStream || f.Error != "" {
			return true
		}
	}
	return false
}

// streamLive pumps fragments from the subscription to the client until the
// sentinel, an error, a timeout, or client disconnect.
func (h *EgressHandler) streamLive(ctx context.Context, sse *sseWriter, sub TokenSubscription, sessionID, chatMessageID string, log *logger.Logger) {
	keepAlive := time.NewTicker(h.opts.KeepAliveInterval)
	defer keepAlive.Stop()

	idle := time.NewTimer(h.firstDeadline())
	defer idle.Stop()

	gotFirst := false
	for {
		select {
		case <-ctx.Done():
			log.Info("client disconnected")
			metrics.SSEConnectionsTotal.WithLabelValues(metrics.OutcomeDisconnected).Inc()
			return

		case <-idle.C:
			if !gotFirst {
				// One last chance: the turn may have completed while we
				// were waiting and the sentinel raced past the buffer.
				if h.serveCompletedTurn(ctx, sse, sessionID, chatMessageID) {
					metrics.SSEConnectionsTotal.WithLabelValues(metrics.OutcomeCompleted).Inc()
					return
				}
			}
			log.Warn("stream idle timeout")
			sse.errorEvent("stream timed out")
			metrics.SSEConnectionsTotal.WithLabelValues(metrics.OutcomeTimeout).Inc()
			return

		case <-keepAlive.C:
			sse.comment("keepalive")

		case frag := <-sub.Tokens():
			if frag.ChatMessageID != chatMessageID {
				// One SSE stream per turn; fragments for other turns on
				// this session are not ours to deliver.
				continue
			}
			gotFirst = true
			idle.Reset(h.opts.IdleTimeout)

			switch {
			case frag.Error != "":
				sse.errorEvent(frag.Error)
				metrics.SSEConnectionsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
				return
			case frag.EndOfStream:
				sse.end()
				metrics.SSEConnectionsTotal.WithLabelValues(metrics.OutcomeCompleted).Inc()
				return
			default:
				sse.token(frag.Token)
				metrics.TokensDelivered.Inc()
			}
		}
	}
}

func (h *EgressHandler) firstDeadline() time.Duration {
	if h.opts.FirstTokenTimeout > 0 {
		return h.opts.FirstTokenTimeout
	}
	return h.opts.IdleTimeout
}

// sseWriter formats SSE frames.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseWriter) token(token string) {
	payload, _ := json.Marshal(gin.H{"token": token})
	fmt.Fprintf(s.w, "data: %s\n\n", payload)
	s.flusher.Flush()
}

func (s *sseWriter) end() {
	fmt.Fprintf(s.w, "data: %s\n\n", domain.EndOfStreamSentinel)
	s.flusher.Flush()
}

func (s *sseWriter) errorEvent(msg string) {
	payload, _ := json.Marshal(gin.H{"error": msg})
	fmt.Fprintf(s.w, "event: error\ndata: %s\n\n", payload)
	s.flusher.Flush()
}

func (s *sseWriter) comment(msg string) {
	fmt.Fprintf(s.w, ": %s\n\n", msg)
	s.flusher.Flush()
}
