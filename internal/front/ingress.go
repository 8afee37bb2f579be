package front

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chatfabric/chatfabric/internal/apierrors"
	"github.com/chatfabric/chatfabric/internal/domain"
	"github.com/chatfabric/chatfabric/internal/logger"
	"github.com/chatfabric/chatfabric/internal/metrics"
)

// UserChecker validates submitted user IDs.
type UserChecker interface {
	IsKnownUser(userID string) bool
}

// MessagePublisher enqueues user messages on the bus.
type MessagePublisher interface {
	PublishUserMessage(ctx context.Context, ev domain.UserMessageEvent) error
}

// SessionReader looks up live session state for the ownership check.
type SessionReader interface {
	GetConversation(ctx context.Context, sessionID string) (*domain.Conversation, error)
}

// IngressHandler accepts chat submissions and hands them to the bus. It is
// stateless: scale-to-zero safe, no in-memory session tables.
type IngressHandler struct {
	users    UserChecker
	pub      MessagePublisher
	sessions SessionReader
	logger   *logger.Logger
}

func NewIngressHandler(users UserChecker, pub MessagePublisher, sessions SessionReader, log *logger.Logger) *IngressHandler {
	return &IngressHandler{
		users:    users,
		pub:      pub,
		sessions: sessions,
		logger:   log.WithComponent("ingress"),
	}
}

type startSessionRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// StartSession mints a session ID for a known user.
func (h *IngressHandler) StartSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "userId is required", nil)
		return
	}

	if !h.users.IsKnownUser(req.UserID) {
		apierrors.AbortWithForbidden(c, apierrors.UserNotKnown(req.UserID))
		return
	}

	sessionID := uuid.NewString()
	h.logger.Info("session started", "session_id", sessionID, "user_id", req.UserID)
	c.JSON(http.StatusOK, gin.H{"sessionId": sessionID})
}

type chatRequest struct {
	SessionID     string `json:"sessionId" binding:"required"`
	ChatMessageID string `json:"chatMessageId" binding:"required"`
	UserID        string `json:"userId" binding:"required"`
	Message       string `json:"message" binding:"required"`
}

// Chat enqueues one user message and returns as soon as the broker has
// acknowledged it.
func (h *IngressHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "sessionId, chatMessageId, userId and message are required", nil)
		return
	}

	if !h.users.IsKnownUser(req.UserID) {
		apierrors.AbortWithForbidden(c, apierrors.UserNotKnown(req.UserID))
		return
	}

	// A live session belongs to the user who started it. Cache misses pass:
	// the session either never spoke or expired, and the generator will key
	// the conversation to this submitter.
	if conv, err := h.sessions.GetConversation(c.Request.Context(), req.SessionID); err == nil && conv.UserID != req.UserID {
		apierrors.AbortWithForbidden(c, apierrors.SessionNotOwned(req.SessionID))
		return
	}

	ev := domain.UserMessageEvent{
		SessionID:     req.SessionID,
		UserID:        req.UserID,
		ChatMessageID: req.ChatMessageID,
		Text:          req.Message,
		SubmittedAt:   time.Now().UTC(),
	}

	if err := h.pub.PublishUserMessage(c.Request.Context(), ev); err != nil {
		h.logger.LogError(c.Request.Context(), err, "enqueue failed",
			"session_id", req.SessionID, "chat_message_id", req.ChatMessageID)
		apierrors.AbortWithUnavailable(c, "message queue unavailable", nil)
		return
	}

	metrics.MessagesSubmitted.Inc()
	c.JSON(http.StatusAccepted, gin.H{
		"sessionId":     req.SessionID,
		"chatMessageId": req.ChatMessageID,
	})
}
