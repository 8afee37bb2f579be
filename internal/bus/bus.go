package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/chatfabric/chatfabric/internal/logger"
)

const (
	// MessagesStream holds submitted user messages until a generator picks
	// them up. Work-queue: one competing consumer group.
	MessagesStream = "CHAT_MESSAGES"
	// CompletedStream fans completion events out to the writer fleets.
	CompletedStream = "CHAT_COMPLETED"

	GeneratorDurable     = "generator"
	HistoryWriterDurable = "history-writer"
	MemoryWriterDurable  = "memory-writer"

	messagesSubjectPrefix  = "chat.messages."
	tokensSubjectPrefix    = "chat.tokens."
	completedSubjectPrefix = "chat.completed."
)

// MessagesSubject returns the user-messages subject for a session. The
// session token acts as the partition key.
func MessagesSubject(sessionID string) string {
	return messagesSubjectPrefix + sessionID
}

// TokensSubject returns the per-session token stream subject. Token
// fragments ride core NATS: a single publisher per turn preserves order, and
// lost fragments are recovered from the replay buffer or the stored turn.
func TokensSubject(sessionID string) string {
	return tokensSubjectPrefix + sessionID
}

// CompletedSubject returns the completion event subject for a session.
func CompletedSubject(sessionID string) string {
	return completedSubjectPrefix + sessionID
}

// Bus wraps one NATS connection plus its JetStream context. All services
// share a single Bus per process.
type Bus struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *logger.Logger
}

// Connect dials NATS with unlimited reconnects and returns a Bus.
func Connect(url, name string, log *logger.Logger) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Bus{nc: nc, js: js, logger: log.WithComponent("bus")}, nil
}

// Conn exposes the underlying connection for core NATS subscriptions.
func (b *Bus) Conn() *nats.Conn {
	return b.nc
}

// EnsureStreams creates or updates the two JetStream streams. Safe to call
// from every service at startup.
func (b *Bus) EnsureStreams(ctx context.Context) error {
	_, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      MessagesStream,
		Subjects:  []string{messagesSubjectPrefix + "*"},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", MessagesStream, err)
	}

	// Completion events are read by two independent durables, so retention
	// is age-based rather than work-queue.
	_, err = b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      CompletedStream,
		Subjects:  []string{completedSubjectPrefix + "*"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", CompletedStream, err)
	}

	return nil
}

// Close drains the connection, letting in-flight handlers finish.
func (b *Bus) Close() {
	if err := b.nc.Drain(); err != nil {
		b.logger.Warn("nats drain failed", "error", err)
		b.nc.Close()
	}
}
