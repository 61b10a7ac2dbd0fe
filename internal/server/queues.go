package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/scanpoint/verity/internal/reconcile"
	"github.com/scanpoint/verity/internal/webhook"
)

// defaultRunBudget bounds one scheduled queue invocation when the trigger
// does not pass its own budget.
const defaultRunBudget = 30 * time.Second

type queueRunRequest struct {
	Limit         int `json:"limit"`
	MaxDurationMs int `json:"maxDurationMs"`
}

func (r queueRunRequest) budget() time.Duration {
	if r.MaxDurationMs <= 0 {
		return defaultRunBudget
	}
	return time.Duration(r.MaxDurationMs) * time.Millisecond
}

// RunReconciliationQueue is the scheduler-facing trigger for the
// reconciliation queue. Overlapping invocations are safe: claims are
// coordinated through the database.
func (s *Server) RunReconciliationQueue(c *gin.Context) {
	var req queueRunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	result, err := s.reconciler.ProcessDue(c.Request.Context(), req.Limit, req.budget())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.auditSvc.RecordQueueFailures(c.Request.Context(), reconcile.TableName, result.Failed)
	c.JSON(http.StatusOK, gin.H{"data": result})
}

// RunWebhookQueue is the scheduler-facing trigger for the webhook queue.
func (s *Server) RunWebhookQueue(c *gin.Context) {
	var req queueRunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	result, err := s.webhooks.ProcessPending(c.Request.Context(), req.Limit, req.budget())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.auditSvc.RecordQueueFailures(c.Request.Context(), webhook.TableName, result.Failed)
	c.JSON(http.StatusOK, gin.H{"data": result})
}

// CleanupQueues applies the retention windows to both queue tables.
func (s *Server) CleanupQueues(c *gin.Context) {
	ctx := c.Request.Context()
	reconciliationDeleted, err := s.reconciler.Cleanup(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	webhooksDeleted, err := s.webhooks.Cleanup(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"reconciliationDeleted": reconciliationDeleted,
		"webhooksDeleted":       webhooksDeleted,
	}})
}

// QueueHealth reports per-status counts for both queues plus the live
// session count. This is the only place terminally failed jobs surface.
func (s *Server) QueueHealth(c *gin.Context) {
	ctx := c.Request.Context()
	reconciliationHealth, err := s.reconciler.Health(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	webhookHealth, err := s.webhooks.Health(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	active := s.sessions.Len()
	s.sessionMetrics.SetActive(active)
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"reconciliation": reconciliationHealth,
		"webhooks":       webhookHealth,
		"activeSessions": active,
	}})
}
