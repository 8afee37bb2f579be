package apierrors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ForbiddenReason represents machine-readable reason codes for 403 errors.
type ForbiddenReason string

const (
	ReasonSessionNotOwned ForbiddenReason = "session_not_owned"
	ReasonUserNotKnown    ForbiddenReason = "user_not_known"
)

// ForbiddenError represents a standardized 403 Forbidden response.
type ForbiddenError struct {
	Error   string                 `json:"error"`
	Reason  ForbiddenReason        `json:"reason"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// AbortWithForbidden sends a 403 response with the ForbiddenError and aborts the request.
func AbortWithForbidden(c *gin.Context, err *ForbiddenError) {
	c.AbortWithStatusJSON(http.StatusForbidden, err)
}

// SessionNotOwned creates a ForbiddenError for unauthorized session access.
func SessionNotOwned(sessionID string) *ForbiddenError {
	return &ForbiddenError{
		Error:  "Forbidden: You don't own this session",
		Reason: ReasonSessionNotOwned,
		Details: map[string]interface{}{
			"session_id": sessionID,
		},
	}
}

// UserNotKnown creates a ForbiddenError for requests from an unrecognized userId.
func UserNotKnown(userID string) *ForbiddenError {
	return &ForbiddenError{
		Error:  "Unknown user",
		Reason: ReasonUserNotKnown,
		Details: map[string]interface{}{
			"user_id": userID,
		},
	}
}
