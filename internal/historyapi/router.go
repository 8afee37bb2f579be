package historyapi

import (
	"github.com/gin-gonic/gin"

	"github.com/chatfabric/chatfabric/internal/httpserver"
	"github.com/chatfabric/chatfabric/internal/metrics"
)

// NewRouter assembles the conversation history read API.
func NewRouter(h *Handler, corsOrigins string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), httpserver.CORS(corsOrigins))

	r.GET("/health", httpserver.Health("history-api"))
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.GET("/users/:userId/conversations", h.ListConversations)
	r.GET("/users/:userId/conversations/:sessionId/messages", h.GetMessages)
	r.PUT("/users/:userId/conversations/:sessionId/title", h.UpdateTitle)

	return r
}
