package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SSEConnectionsActive tracks currently open SSE streams on this
	// instance.
	SSEConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_sse_connections_active",
		Help: "Number of currently open SSE token streams.",
	})

	// SSEConnectionsTotal counts SSE streams by how they ended.
	SSEConnectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_sse_connections_total",
		Help: "SSE streams opened, labeled by outcome.",
	}, []string{"outcome"})

	// TokensPublished counts token fragments published by the generator.
	TokensPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_tokens_published_total",
		Help: "Token fragments published to the token stream.",
	})

	// TokensDelivered counts token fragments written to SSE clients.
	TokensDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_tokens_delivered_total",
		Help: "Token fragments delivered to SSE clients.",
	})

	// MessagesSubmitted counts user messages accepted by ingress.
	MessagesSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_submitted_total",
		Help: "User messages accepted and enqueued by ingress.",
	})

	// GeneratorTurns counts generator deliveries by outcome.
	GeneratorTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_generator_turns_total",
		Help: "Generator deliveries processed, labeled by outcome.",
	}, []string{"outcome"})

	// CompletionsProcessed counts completion events handled per writer.
	CompletionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_completions_processed_total",
		Help: "Completion events processed, labeled by consumer and outcome.",
	}, []string{"consumer", "outcome"})
)

// Outcome label values.
const (
	OutcomeCompleted      = "completed"
	OutcomeFailed         = "failed"
	OutcomeIdempotentSkip = "idempotent_skip"
	OutcomeDisconnected   = "disconnected"
	OutcomeTimeout        = "timeout"
)

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
