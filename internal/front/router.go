package front

import (
	"github.com/gin-gonic/gin"

	"github.com/chatfabric/chatfabric/internal/httpserver"
	"github.com/chatfabric/chatfabric/internal/metrics"
)

// NewRouter assembles the front service: ingress submission plus egress
// streaming.
func NewRouter(ingress *IngressHandler, egress *EgressHandler, corsOrigins string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), httpserver.CORS(corsOrigins))

	r.GET("/health", httpserver.Health("front"))
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.POST("/session/start", ingress.StartSession)
	r.POST("/chat", ingress.Chat)
	r.GET("/stream/:sessionId/:chatMessageId", egress.Stream)

	return r
}
