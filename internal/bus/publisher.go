package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chatfabric/chatfabric/internal/domain"
)

// PublishUserMessage enqueues a submitted chat message for the generator
// fleet. Returns once the broker has acknowledged the write.
func (b *Bus) PublishUserMessage(ctx context.Context, ev domain.UserMessageEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal user message event: %w", err)
	}
	if _, err := b.js.Publish(ctx, MessagesSubject(ev.SessionID), data); err != nil {
		return fmt.Errorf("publish user message: %w: %w", domain.ErrTransient, err)
	}
	return nil
}

// PublishToken emits one token fragment on the session's token subject.
// Fire-and-forget: egress recovers missed fragments via the replay buffer.
func (b *Bus) PublishToken(frag domain.TokenFragment) error {
	data, err := json.Marshal(frag)
	if err != nil {
		return fmt.Errorf("marshal token fragment: %w", err)
	}
	if err := b.nc.Publish(TokensSubject(frag.SessionID), data); err != nil {
		return fmt.Errorf("publish token: %w", err)
	}
	return nil
}

// PublishEndOfStream emits the end-of-stream sentinel for a turn.
func (b *Bus) PublishEndOfStream(sessionID, chatMessageID string) error {
	return b.PublishToken(domain.TokenFragment{
		SessionID:     sessionID,
		ChatMessageID: chatMessageID,
		EndOfStream:   true,
	})
}

// PublishCompletion fans a finalized turn out to the writer fleets.
func (b *Bus) PublishCompletion(ctx context.Context, ev domain.CompletionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal completion event: %w", err)
	}
	if _, err := b.js.Publish(ctx, CompletedSubject(ev.SessionID), data); err != nil {
		return fmt.Errorf("publish completion event: %w: %w", domain.ErrTransient, err)
	}
	return nil
}
