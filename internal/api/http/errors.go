package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/GriffinCanCode/AppRegistry/internal/shared/errors"
)

// StatusClientClosedRequest is reported when the caller cancelled.
const StatusClientClosedRequest = 499

// StatusCode maps a registry error to its HTTP status.
func StatusCode(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeConflict, apperrors.CodeInvalidTransition:
		return http.StatusConflict
	case apperrors.CodeInvalidInput:
		return http.StatusBadRequest
	case apperrors.CodeCancelled:
		return StatusClientClosedRequest
	case apperrors.CodePartialCleanup:
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	if code == "" {
		code = apperrors.CodeInternal
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(StatusCode(err), gin.H{
		"success": false,
		"error":   err.Error(),
		"code":    code,
	})
}

func badRequest(c *gin.Context, message string) {
	respondError(c, apperrors.New(apperrors.CodeInvalidInput, message))
}
