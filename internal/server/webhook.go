package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// maxWebhookBody bounds how much of an upstream delivery is read.
const maxWebhookBody = 1 << 20

// ReceiveWebhook persists one upstream delivery. Signature failures are
// recorded, not rejected; the only hard failures are an unreadable body or
// a database error.
func (s *Server) ReceiveWebhook(c *gin.Context) {
	topic := strings.TrimSpace(c.Param("topic"))
	if topic == "" {
		AbortWithError(c, newValidationError("topic", "required", "topic is required"))
		return
	}
	if !s.scanLimiter.Allow("webhook:" + c.ClientIP()) {
		AbortWithError(c, ErrRateLimited)
		return
	}

	rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.webhooks.Ingest(c.Request.Context(), topic, rawBody, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}
