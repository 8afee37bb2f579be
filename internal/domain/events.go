package domain

import "time"

// EndOfStreamSentinel terminates an SSE stream on the client side.
const EndOfStreamSentinel = "__END__"

// EventTypeMessageCompleted is the eventType carried by every CompletionEvent.
const EventTypeMessageCompleted = "message_completed"

// UserMessageEvent is the envelope published by ingress for each submitted
// chat message and consumed by the generator fleet.
type UserMessageEvent struct {
	SessionID     string    `json:"sessionId"`
	UserID        string    `json:"userId"`
	ChatMessageID string    `json:"chatMessageId"`
	Text          string    `json:"text"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// TokenFragment is one streamed delta on its way from the generator to an
// SSE client. EndOfStream marks the final fragment of a turn; Error carries
// an upstream failure surfaced as an SSE error event.
type TokenFragment struct {
	SessionID     string `json:"sessionId"`
	ChatMessageID string `json:"chatMessageId"`
	Token         string `json:"token,omitempty"`
	EndOfStream   bool   `json:"end_of_stream,omitempty"`
	Error         string `json:"error,omitempty"`
}

// CompletionEvent fans out to the history and memory writers once a turn is
// finalized in the hot cache.
type CompletionEvent struct {
	SessionID     string    `json:"sessionId"`
	UserID        string    `json:"userId"`
	ChatMessageID string    `json:"chatMessageId"`
	CompletedAt   time.Time `json:"completedAt"`
	EventType     string    `json:"eventType"`
}

// NewCompletionEvent builds a CompletionEvent for a finalized turn.
func NewCompletionEvent(sessionID, userID, chatMessageID string) CompletionEvent {
	return CompletionEvent{
		SessionID:     sessionID,
		UserID:        userID,
		ChatMessageID: chatMessageID,
		CompletedAt:   time.Now().UTC(),
		EventType:     EventTypeMessageCompleted,
	}
}
