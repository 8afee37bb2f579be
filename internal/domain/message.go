package domain

import (
	"fmt"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageID derives the stored message id from the turn correlator and role,
// so the user and assistant halves of a turn share a prefix.
func MessageID(chatMessageID string, role Role) string {
	return fmt.Sprintf("%s_%s", chatMessageID, role)
}

// Message is a single append-only entry in a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the full transcript for one session, owned by one user.
type Conversation struct {
	SessionID    string    `json:"sessionId"`
	UserID       string    `json:"userId"`
	Title        string    `json:"title,omitempty"`
	Messages     []Message `json:"messages"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// NewConversation creates an empty conversation for the given session and user.
func NewConversation(sessionID, userID string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		SessionID:    sessionID,
		UserID:       userID,
		Messages:     []Message{},
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Append adds a message for the given turn and role and bumps LastActivity.
func (c *Conversation) Append(chatMessageID string, role Role, content string) {
	now := time.Now().UTC()
	c.Messages = append(c.Messages, Message{
		ID:        MessageID(chatMessageID, role),
		Role:      role,
		Content:   content,
		Timestamp: now,
	})
	c.LastActivity = now
}

// HasAssistantMessage reports whether the assistant half of the given turn
// already exists. Used for idempotency on bus redelivery.
func (c *Conversation) HasAssistantMessage(chatMessageID string) bool {
	id := MessageID(chatMessageID, RoleAssistant)
	for _, m := range c.Messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

// AssistantMessage returns the assistant message for the given turn, if any.
func (c *Conversation) AssistantMessage(chatMessageID string) (Message, bool) {
	id := MessageID(chatMessageID, RoleAssistant)
	for _, m := range c.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}
