package handlers

import (
	"errors"
	"net/http"

	"expertpanel-backend/service"

	"github.com/gin-gonic/gin"
)

// respondOK writes the success envelope
func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError writes the error envelope
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// respondServiceError maps a service error to its status and envelope
func respondServiceError(c *gin.Context, err error) {
	respondError(c, statusFor(err), service.ErrorCode(err), err.Error())
}

// statusClientClosedRequest is the nginx convention for a request the
// caller abandoned
const statusClientClosedRequest = 499

// statusFor returns the HTTP status for a service error
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrPluginNotFound), errors.Is(err, service.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, service.ErrCanceled):
		return statusClientClosedRequest
	case errors.Is(err, service.ErrRetrievalFailed), errors.Is(err, service.ErrGenerationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
