package bus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/chatfabric/chatfabric/internal/domain"
)

// TokenSubscription delivers token fragments for one session to an egress
// handler. Fragments are buffered; if the consumer falls behind the buffer,
// fragments are dropped (the client recovers from the stored turn).
type TokenSubscription struct {
	ch  chan domain.TokenFragment
	sub *nats.Subscription
}

// Tokens returns the fragment channel.
func (s *TokenSubscription) Tokens() <-chan domain.TokenFragment {
	return s.ch
}

// Close unsubscribes. Pending buffered fragments remain readable.
func (s *TokenSubscription) Close() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
}

// SubscribeTokens opens a buffered subscription on the session's token
// subject.
func (b *Bus) SubscribeTokens(sessionID string, buffer int) (*TokenSubscription, error) {
	ch := make(chan domain.TokenFragment, buffer)
	log := b.logger.With("session_id", sessionID)

	sub, err := b.nc.Subscribe(TokensSubject(sessionID), func(msg *nats.Msg) {
		var frag domain.TokenFragment
		if err := json.Unmarshal(msg.Data, &frag); err != nil {
			log.Warn("dropping malformed token fragment", "error", err)
			return
		}
		select {
		case ch <- frag:
		default:
			log.Warn("token buffer full, dropping fragment", "chat_message_id", frag.ChatMessageID)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe tokens for session %s: %w", sessionID, err)
	}

	return &TokenSubscription{ch: ch, sub: sub}, nil
}
