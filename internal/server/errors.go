package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	obscontext "github.com/scanpoint/verity/internal/observability/context"
	"go.uber.org/zap"
)

type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *apiError) Error() string { return e.Message }

var (
	ErrNotFound = &apiError{
		Status:  http.StatusNotFound,
		Code:    "not_found",
		Message: "resource not found",
	}
	ErrRateLimited = &apiError{
		Status:  http.StatusTooManyRequests,
		Code:    "rate_limited",
		Message: "too many requests",
	}
)

func invalidRequestError() *apiError {
	return &apiError{
		Status:  http.StatusBadRequest,
		Code:    "invalid_request",
		Message: "invalid request body",
	}
}

func newValidationError(field, code, message string) *apiError {
	return &apiError{
		Status:  http.StatusBadRequest,
		Code:    code,
		Field:   field,
		Message: message,
	}
}

// AbortWithError renders an error response. Unrecognized errors become an
// opaque 500 so internal detail never leaks to the caller.
func AbortWithError(c *gin.Context, err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		c.AbortWithStatusJSON(apiErr.Status, gin.H{"error": apiErr})
		return
	}
	zap.L().Error("request failed",
		zap.String("path", c.FullPath()),
		zap.String("request_id", obscontext.RequestIDFromGin(c)),
		zap.Error(err),
	)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": &apiError{
		Code:    "internal_error",
		Message: "internal error",
	}})
}
