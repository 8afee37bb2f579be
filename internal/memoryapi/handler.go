package memoryapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chatfabric/chatfabric/internal/apierrors"
	"github.com/chatfabric/chatfabric/internal/domain"
	"github.com/chatfabric/chatfabric/internal/logger"
)

// ProfileStore is the user-profile surface this API exposes.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (*domain.UserProfile, error)
	Delete(ctx context.Context, userID string) error
}

// SummarySearcher runs semantic and text search over conversation summaries.
type SummarySearcher interface {
	Search(ctx context.Context, userID string, embedding []float32, limit int) ([]domain.SummarySearchResult, error)
	SearchText(ctx context.Context, userID, query string, limit int) ([]domain.SummarySearchResult, error)
}

// Embedder turns a search query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options bound search behavior.
type Options struct {
	// SearchLimitDefault applies when the request omits a limit.
	SearchLimitDefault int
	// SearchResultCap is the hard ceiling on requested limits.
	SearchResultCap int
}

// Handler serves the memory API: profile reads and deletes, and semantic
// search over conversation summaries.
type Handler struct {
	profiles  ProfileStore
	summaries SummarySearcher
	embedder  Embedder
	opts      Options
	logger    *logger.Logger
}

func NewHandler(profiles ProfileStore, summaries SummarySearcher, embedder Embedder, opts Options, log *logger.Logger) *Handler {
	if opts.SearchLimitDefault <= 0 {
		opts.SearchLimitDefault = 5
	}
	if opts.SearchResultCap <= 0 {
		opts.SearchResultCap = 50
	}
	return &Handler{
		profiles:  profiles,
		summaries: summaries,
		embedder:  embedder,
		opts:      opts,
		logger:    log.WithComponent("memory_api"),
	}
}

// GetProfile returns the stored profile for a user.
func (h *Handler) GetProfile(c *gin.Context) {
	userID := c.Param("userId")

	profile, err := h.profiles.Get(c.Request.Context(), userID)
	if errors.Is(err, domain.ErrNotFound) {
		apierrors.AbortWithNotFound(c, "no memories for user", map[string]interface{}{"userId": userID})
		return
	}
	if err != nil {
		h.logger.LogError(c.Request.Context(), err, "profile load failed", "user_id", userID)
		apierrors.AbortWithInternal(c, "failed to load memories", nil)
		return
	}

	c.JSON(http.StatusOK, profile)
}

// DeleteProfile forgets the user's profile. Conversation summaries stay; they
// belong to the history, not the profile. Idempotent: deleting a missing
// profile succeeds.
func (h *Handler) DeleteProfile(c *gin.Context) {
	userID := c.Param("userId")

	if err := h.profiles.Delete(c.Request.Context(), userID); err != nil {
		h.logger.LogError(c.Request.Context(), err, "profile delete failed", "user_id", userID)
		apierrors.AbortWithInternal(c, "failed to delete memories", nil)
		return
	}

	c.Status(http.StatusNoContent)
}

type searchRequest struct {
	Query string `json:"query" binding:"required"`
	Limit int    `json:"limit"`
}

type searchResponse struct {
	Conversations []domain.SummarySearchResult `json:"conversations"`
	TotalFound    int                          `json:"total_found"`
	SearchQuery   string                       `json:"search_query"`
}

// SearchConversations runs semantic search over the user's conversation
// summaries, degrading to text search when the query can't be embedded.
func (h *Handler) SearchConversations(c *gin.Context) {
	userID := c.Param("userId")

	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "query is required", nil)
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = h.opts.SearchLimitDefault
	}
	if limit > h.opts.SearchResultCap {
		limit = h.opts.SearchResultCap
	}

	results, err := h.search(c.Request.Context(), userID, req.Query, limit)
	if err != nil {
		h.logger.LogError(c.Request.Context(), err, "conversation search failed",
			"user_id", userID, "query", req.Query)
		apierrors.AbortWithInternal(c, "search failed", nil)
		return
	}
	if results == nil {
		results = []domain.SummarySearchResult{}
	}

	c.JSON(http.StatusOK, searchResponse{
		Conversations: results,
		TotalFound:    len(results),
		SearchQuery:   req.Query,
	})
}

func (h *Handler) search(ctx context.Context, userID, query string, limit int) ([]domain.SummarySearchResult, error) {
	embedding, err := h.embedder.Embed(ctx, query)
	if err != nil {
		h.logger.Warn("query embedding failed, falling back to text search",
			"user_id", userID, "error", err)
		return h.summaries.SearchText(ctx, userID, query, limit)
	}
	return h.summaries.Search(ctx, userID, embedding, limit)
}
