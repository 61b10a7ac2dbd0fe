package audit

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/scanpoint/verity/internal/audit/domain"
	"github.com/scanpoint/verity/internal/clock"
	obscontext "github.com/scanpoint/verity/internal/observability/context"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service writes the audit trail. Recording never fails the calling
// operation: an audit insert error is logged and swallowed.
type Service struct {
	db    *gorm.DB
	repo  domain.Repository
	genID *snowflake.Node
	clock clock.Clock
	log   *zap.Logger
}

func NewService(db *gorm.DB, repo domain.Repository, genID *snowflake.Node, clk clock.Clock, log *zap.Logger) *Service {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, repo: repo, genID: genID, clock: clk, log: log.Named("audit")}
}

// RecordDecision stores one verification decision against its transaction.
func (s *Service) RecordDecision(ctx context.Context, transactionID, deviceID string, approved bool, reason string) {
	metadata := datatypes.JSONMap{
		"approved": approved,
		"reason":   reason,
	}
	entry := &domain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  string(domain.ActorTypeDevice),
		Action:     domain.ActionDecision,
		TargetType: "transaction",
		TargetID:   &transactionID,
		Metadata:   metadata,
		CreatedAt:  s.clock.Now(),
	}
	if deviceID != "" {
		entry.ActorID = &deviceID
	}
	s.insert(ctx, entry)
}

// RecordQueueFailures notes that a processing run left jobs terminally
// failed, so queue-health reports have an audit anchor.
func (s *Service) RecordQueueFailures(ctx context.Context, queueName string, failed int) {
	if failed <= 0 {
		return
	}
	entry := &domain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  string(domain.ActorTypeScheduler),
		Action:     domain.ActionQueueFailure,
		TargetType: "queue",
		TargetID:   &queueName,
		Metadata:   datatypes.JSONMap{"failed": failed},
		CreatedAt:  s.clock.Now(),
	}
	s.insert(ctx, entry)
}

// List reads the trail for operator review.
func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	return s.repo.List(ctx, s.db, filter)
}

func (s *Service) insert(ctx context.Context, entry *domain.AuditLog) {
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		entry.Metadata["request_id"] = requestID
	}
	if err := s.repo.Insert(ctx, s.db, entry); err != nil {
		s.log.Error("audit insert failed",
			zap.String("action", entry.Action),
			zap.Error(err),
		)
	}
}
