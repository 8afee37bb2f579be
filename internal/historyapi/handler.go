package historyapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chatfabric/chatfabric/internal/apierrors"
	"github.com/chatfabric/chatfabric/internal/domain"
	"github.com/chatfabric/chatfabric/internal/logger"
	"github.com/chatfabric/chatfabric/internal/storage/pg"
)

// Store is the conversation read/rename surface this API exposes.
type Store interface {
	ListByUser(ctx context.Context, userID string) ([]pg.ConversationMeta, error)
	Get(ctx context.Context, userID, sessionID string) (*domain.Conversation, error)
	UpdateTitle(ctx context.Context, userID, sessionID, title string) error
}

// Handler serves the conversation history read API. All routes are
// partition-scoped by userId; a session belonging to another user reads as
// not found.
type Handler struct {
	store  Store
	logger *logger.Logger
}

func NewHandler(store Store, log *logger.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: log.WithComponent("history_api"),
	}
}

// ListConversations returns conversation metadata for a user, newest
// activity first. An unknown user is an empty list, not an error.
func (h *Handler) ListConversations(c *gin.Context) {
	userID := c.Param("userId")

	metas, err := h.store.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.LogError(c.Request.Context(), err, "list conversations failed", "user_id", userID)
		apierrors.AbortWithInternal(c, "failed to list conversations", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversations": metas,
		"total":         len(metas),
	})
}

type conversationDetail struct {
	SessionID string           `json:"sessionId"`
	Title     string           `json:"title"`
	Messages  []domain.Message `json:"messages"`
}

// GetMessages returns the full transcript of one conversation.
func (h *Handler) GetMessages(c *gin.Context) {
	userID := c.Param("userId")
	sessionID := c.Param("sessionId")

	conv, err := h.store.Get(c.Request.Context(), userID, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		apierrors.AbortWithNotFound(c, "conversation not found", map[string]interface{}{"sessionId": sessionID})
		return
	}
	if err != nil {
		h.logger.LogError(c.Request.Context(), err, "get conversation failed",
			"user_id", userID, "session_id", sessionID)
		apierrors.AbortWithInternal(c, "failed to load conversation", nil)
		return
	}

	c.JSON(http.StatusOK, conversationDetail{
		SessionID: conv.SessionID,
		Title:     conv.Title,
		Messages:  conv.Messages,
	})
}

type updateTitleRequest struct {
	Title string `json:"title" binding:"required"`
}

// UpdateTitle renames a conversation.
func (h *Handler) UpdateTitle(c *gin.Context) {
	userID := c.Param("userId")
	sessionID := c.Param("sessionId")

	var req updateTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "title is required", nil)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		apierrors.AbortWithBadRequest(c, "title must not be blank", nil)
		return
	}

	err := h.store.UpdateTitle(c.Request.Context(), userID, sessionID, title)
	if errors.Is(err, domain.ErrNotFound) {
		apierrors.AbortWithNotFound(c, "conversation not found", map[string]interface{}{"sessionId": sessionID})
		return
	}
	if err != nil {
		h.logger.LogError(c.Request.Context(), err, "update title failed",
			"user_id", userID, "session_id", sessionID)
		apierrors.AbortWithInternal(c, "failed to update title", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessionId": sessionID, "title": title})
}
