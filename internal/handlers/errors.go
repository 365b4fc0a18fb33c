package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"pixbin/internal/middleware"
	"pixbin/internal/service"
)

// writeError renders err as {"error": message}. Service errors carry
// their own status and message; anything else is a 500 with fallback.
func writeError(c *gin.Context, log zerolog.Logger, err error, fallback string) {
	_ = c.Error(err)

	serviceErr, ok := service.AsServiceError(err)
	if !ok {
		logFailure(c, log, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
		return
	}

	if serviceErr.Code == service.ErrorCodeInternal {
		logFailure(c, log, err)
	}
	c.JSON(statusFor(serviceErr.Code), gin.H{"error": serviceErr.Message})
}

func logFailure(c *gin.Context, log zerolog.Logger, err error) {
	event := log.Error().
		Err(err).
		Str("path", c.Request.URL.Path).
		Str("request_id", middleware.RequestIDFrom(c))
	if identity := middleware.CurrentIdentity(c); identity != nil {
		event = event.Str("user_id", identity.UserID)
	}
	event.Msg("request failed")
}

func statusFor(code service.ErrorCode) int {
	switch code {
	case service.ErrorCodeValidation:
		return http.StatusBadRequest
	case service.ErrorCodeUnauthorized:
		return http.StatusUnauthorized
	case service.ErrorCodeForbidden:
		return http.StatusForbidden
	case service.ErrorCodeConflict:
		return http.StatusConflict
	case service.ErrorCodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
