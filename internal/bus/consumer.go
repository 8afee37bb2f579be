package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Handler processes one delivered message. A nil return acks the delivery; an
// error abandons it for broker redelivery.
type Handler func(ctx context.Context, data []byte) error

// ConsumerConfig describes one durable pull consumer.
type ConsumerConfig struct {
	Stream         string
	Durable        string
	MaxConcurrency int
	// AckWait must exceed the longest expected handler run (the generator's
	// LLM call has no wall-clock timeout).
	AckWait    time.Duration
	MaxDeliver int
	// DrainTimeout bounds how long in-flight handlers may keep running after
	// shutdown begins. Zero waits indefinitely.
	DrainTimeout time.Duration
}

// consumerConfig maps to the broker-side durable settings. MaxAckPending is
// left at the server default: it is a per-durable limit shared by every
// instance on the durable, so tying it to one instance's concurrency would
// throttle the whole fleet. The semaphore in Consume bounds this instance.
func (cfg ConsumerConfig) consumerConfig() jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:    cfg.Durable,
		AckPolicy:  jetstream.AckExplicitPolicy,
		AckWait:    cfg.AckWait,
		MaxDeliver: cfg.MaxDeliver,
	}
}

// Consume runs a semaphore-bounded pull-consume loop until ctx is cancelled,
// then waits for in-flight handlers to finish. Messages that exceed
// MaxDeliver stop being redelivered and surface in stream advisories for
// operator inspection.
func (b *Bus) Consume(ctx context.Context, cfg ConsumerConfig, handler Handler) error {
	stream, err := b.js.Stream(ctx, cfg.Stream)
	if err != nil {
		return err
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, cfg.consumerConfig())
	if err != nil {
		return err
	}

	it, err := cons.Messages(jetstream.PullMaxMessages(cfg.MaxConcurrency))
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		it.Stop()
	}()

	// In-flight handlers keep running past ctx cancellation so started turns
	// can finish inside the drain window.
	handlerCtx, cancelHandlers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelHandlers()

	log := b.logger.With("stream", cfg.Stream, "durable", cfg.Durable)
	sem := make(chan struct{}, cfg.MaxConcurrency)
	var wg sync.WaitGroup

	for {
		msg, err := it.Next()
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
				break
			}
			log.Warn("consume iterator error", "error", err)
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(m jetstream.Msg) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := handler(handlerCtx, m.Data()); err != nil {
				log.Warn("handler failed, abandoning delivery", "subject", m.Subject(), "error", err)
				if nakErr := m.Nak(); nakErr != nil {
					log.Warn("nak failed", "error", nakErr)
				}
				return
			}
			if ackErr := m.Ack(); ackErr != nil {
				log.Warn("ack failed", "error", ackErr)
			}
		}(msg)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	if cfg.DrainTimeout <= 0 {
		<-done
		return nil
	}

	select {
	case <-done:
	case <-time.After(cfg.DrainTimeout):
		log.Warn("drain timeout exceeded, cancelling in-flight handlers")
		cancelHandlers()
		<-done
	}
	return nil
}
