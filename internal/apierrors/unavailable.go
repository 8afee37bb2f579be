package apierrors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AbortWithUnavailable sends a 503 Service Unavailable response and aborts the request.
// Used when a downstream dependency (bus, cache, store) is unreachable.
func AbortWithUnavailable(c *gin.Context, message string, details map[string]interface{}) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, NewAPIError(message, details))
}

// Unavailable sends a 503 Service Unavailable response without aborting.
func Unavailable(c *gin.Context, message string, details map[string]interface{}) {
	c.JSON(http.StatusServiceUnavailable, NewAPIError(message, details))
}
