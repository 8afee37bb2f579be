package memoryapi

import (
	"github.com/gin-gonic/gin"

	"github.com/chatfabric/chatfabric/internal/httpserver"
	"github.com/chatfabric/chatfabric/internal/metrics"
)

// NewRouter assembles the memory API.
func NewRouter(h *Handler, corsOrigins string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), httpserver.CORS(corsOrigins))

	r.GET("/health", httpserver.Health("memory-api"))
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.GET("/users/:userId/memories", h.GetProfile)
	r.DELETE("/users/:userId/memories", h.DeleteProfile)
	r.POST("/users/:userId/conversations/search", h.SearchConversations)

	return r
}
