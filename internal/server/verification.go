package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/scanpoint/verity/internal/document"
	obscontext "github.com/scanpoint/verity/internal/observability/context"
	"github.com/scanpoint/verity/internal/session"
	"go.uber.org/zap"
)

type scanRequest struct {
	TransactionID string `json:"transactionId"`
	DeviceID      string `json:"deviceId"`
	Scan          string `json:"scan"`
}

type scanResponse struct {
	Approved bool             `json:"approved"`
	Reason   string           `json:"reason,omitempty"`
	Session  *session.Session `json:"session"`
}

// Scan ingests one barcode scan: decode, decide, update the live session,
// and queue the reconciliation that pushes verified fields to the POS later.
func (s *Server) Scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.TransactionID = strings.TrimSpace(req.TransactionID)
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if req.TransactionID == "" {
		AbortWithError(c, newValidationError("transactionId", "required", "transactionId is required"))
		return
	}
	if strings.TrimSpace(req.Scan) == "" {
		AbortWithError(c, newValidationError("scan", "required", "scan payload is required"))
		return
	}

	limitKey := req.DeviceID
	if limitKey == "" {
		limitKey = c.ClientIP()
	}
	if !s.scanLimiter.Allow(limitKey) {
		AbortWithError(c, ErrRateLimited)
		return
	}

	ctx := obscontext.WithTransactionID(c.Request.Context(), req.TransactionID)
	ctx = obscontext.WithDeviceID(ctx, req.DeviceID)
	doc := document.Decode(req.Scan)
	verdict := s.decider.Decide(ctx, doc, s.denyList)

	s.sessions.Create(req.TransactionID, session.Meta{CustomerName: doc.FullName()})
	status := session.StatusRejected
	if verdict.Approved {
		status = session.StatusApproved
	}
	sess := s.sessions.Update(req.TransactionID, session.Result{
		Status:       status,
		CustomerName: doc.FullName(),
		Age:          doc.Age,
		Reason:       verdict.Reason,
	})

	if verdict.Approved {
		payload := map[string]any{
			"firstName": doc.FirstName,
			"lastName":  doc.LastName,
			"deviceId":  req.DeviceID,
		}
		if doc.DateOfBirth != nil {
			payload["dateOfBirth"] = doc.DateOfBirth.Format("2006-01-02")
		}
		if _, err := s.reconciler.Enqueue(ctx, req.TransactionID, payload, 0); err != nil {
			// The decision stands; reconciliation just loses this attempt.
			s.log.Error("reconciliation enqueue failed",
				zap.String("transaction_id", req.TransactionID),
				zap.Error(err),
			)
		}
	}

	s.auditSvc.RecordDecision(ctx, req.TransactionID, req.DeviceID, verdict.Approved, verdict.Reason)
	outcome := "rejected"
	if verdict.Approved {
		outcome = "approved"
	}
	s.sessionMetrics.IncDecision(outcome)
	s.sessionMetrics.SetActive(s.sessions.Len())

	c.JSON(http.StatusOK, gin.H{"data": scanResponse{
		Approved: verdict.Approved,
		Reason:   verdict.Reason,
		Session:  sess,
	}})
}

// GetSession returns a snapshot of the live session, re-evaluating device
// liveness on read.
func (s *Server) GetSession(c *gin.Context) {
	id := obscontext.TransactionIDFromGin(c)
	sess := s.sessions.Get(id)
	if sess == nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sess})
}

// SessionHeartbeat marks the scanning device as connected.
func (s *Server) SessionHeartbeat(c *gin.Context) {
	id := obscontext.TransactionIDFromGin(c)
	sess := s.sessions.Heartbeat(id)
	if sess == nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"deviceLinked": sess.DeviceLinked,
		"expiresAt":    sess.ExpiresAt.Format(time.RFC3339),
	}})
}

// CompleteSession ends the verification flow and drops the session.
func (s *Server) CompleteSession(c *gin.Context) {
	id := obscontext.TransactionIDFromGin(c)
	if !s.sessions.Complete(id) {
		AbortWithError(c, ErrNotFound)
		return
	}
	s.sessionMetrics.SetActive(s.sessions.Len())
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
