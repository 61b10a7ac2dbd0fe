package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/scanpoint/verity/internal/clock"
	"github.com/scanpoint/verity/internal/config"
	"github.com/scanpoint/verity/internal/pos"
	"github.com/scanpoint/verity/internal/queue"
	"github.com/scanpoint/verity/internal/session"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TableName is the physical queue table for reconciliation jobs.
const TableName = "reconciliation_jobs"

// MaxAgeReason records why a job that outlived its age budget failed: the
// customer was never linked to the transaction upstream.
const MaxAgeReason = "timeout_waiting_for_customer"

// profileFields are the payload keys pushed onto the POS customer profile.
// Everything else in the payload is reconciliation bookkeeping.
var profileFields = []string{"firstName", "lastName", "dateOfBirth"}

// Service reconciles verified identity data back onto the POS customer
// linked to a transaction. A scan happens before the sale closes, so the
// customer link usually appears on the transaction only later; the durable
// queue retries until it does or the age budget runs out.
type Service struct {
	store    *queue.Store
	runner   *queue.Runner
	pos      pos.Client
	sessions *session.Store
	outletID string
	cfg      config.Config
	log      *zap.Logger
}

func NewService(db *gorm.DB, node *snowflake.Node, posClient pos.Client, sessions *session.Store, cfg config.Config, clk clock.Clock, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	store := queue.NewStore(db, node, queue.Table{
		Name:          TableName,
		KeyColumn:     "subject_key",
		CreatedColumn: "created_at",
		DoneColumn:    "completed_at",
	}, clk, log)

	s := &Service{
		store:    store,
		pos:      posClient,
		sessions: sessions,
		outletID: cfg.POS.OutletID,
		cfg:      cfg,
		log:      log.Named("reconcile"),
	}
	s.runner = queue.NewRunner(store, s.process, queue.RunnerConfig{
		MaxAttempts:  cfg.Queue.MaxAttempts,
		MaxJobAge:    cfg.Queue.MaxJobAge,
		MaxAgeReason: MaxAgeReason,
	}, log)
	return s
}

// Enqueue schedules a reconciliation job for a transaction. Re-enqueueing a
// live job merges payload fields fill-blanks and keeps the earlier schedule.
func (s *Service) Enqueue(ctx context.Context, transactionID string, payload map[string]any, delay time.Duration) (bool, error) {
	queued, err := s.store.Enqueue(ctx, transactionID, payload, delay)
	if err != nil {
		return false, err
	}
	if queued {
		s.log.Info("reconciliation queued", zap.String("transaction_id", transactionID))
	}
	return queued, nil
}

// ProcessDue claims and processes due jobs within the time budget.
func (s *Service) ProcessDue(ctx context.Context, limit int, budget time.Duration) (queue.RunResult, error) {
	if limit <= 0 {
		limit = s.cfg.Queue.BatchSize
	}
	result, err := s.runner.Run(ctx, limit, budget)
	s.runner.PublishHealthMetrics(ctx)
	return result, err
}

// Cleanup removes terminal jobs past the configured retention windows.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	return s.store.Cleanup(ctx,
		time.Duration(s.cfg.Queue.DoneRetentionDays)*24*time.Hour,
		time.Duration(s.cfg.Queue.PendingRetentionDays)*24*time.Hour,
	)
}

// Health reports per-status queue counts.
func (s *Service) Health(ctx context.Context) (queue.Health, error) {
	return s.store.QueueHealth(ctx)
}

// process handles one claimed job: resolve the transaction, find its linked
// customer, and push the verified fields onto the profile fill-blanks.
func (s *Service) process(ctx context.Context, job queue.Job) error {
	tx, err := s.resolveTransaction(ctx, job)
	if err != nil {
		return err
	}
	if tx.LinkedCustomerID == "" {
		// The sale has no customer attached yet. Transient: retry until the
		// age budget gives up with MaxAgeReason.
		return fmt.Errorf("transaction %s has no linked customer yet", tx.ID)
	}

	fields := make(map[string]any, len(profileFields))
	for _, key := range profileFields {
		if value, ok := job.Payload[key]; ok && !queue.IsBlank(value) {
			fields[key] = value
		}
	}
	if len(fields) == 0 {
		s.log.Warn("reconciliation job carried no profile fields",
			zap.String("transaction_id", job.SubjectKey),
		)
		return nil
	}

	result, err := s.pos.UpdateCustomerByID(ctx, tx.LinkedCustomerID, fields, true)
	if err != nil {
		return err
	}

	s.log.Info("customer profile reconciled",
		zap.String("transaction_id", job.SubjectKey),
		zap.String("customer_id", tx.LinkedCustomerID),
		zap.Strings("fields", result.Fields),
		zap.Strings("skipped", result.Skipped),
	)
	s.sessions.AppendLog(job.SubjectKey,
		fmt.Sprintf("customer profile updated (%d fields, %d already set)", len(result.Fields), len(result.Skipped)),
		"info",
	)
	return nil
}

// resolveTransaction looks the transaction up by id, falling back to the
// open-transaction list for the scanning device when the id is not directly
// resolvable (the POS assigns the final id when the sale closes).
func (s *Service) resolveTransaction(ctx context.Context, job queue.Job) (*pos.Transaction, error) {
	tx, err := s.pos.GetTransactionByID(ctx, job.SubjectKey)
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, pos.ErrNotFound) {
		return nil, err
	}

	deviceID, _ := job.Payload["deviceId"].(string)
	open, listErr := s.pos.ListOpenTransactions(ctx, deviceID, s.outletID)
	if listErr != nil {
		return nil, listErr
	}
	if len(open) == 1 {
		s.log.Debug("transaction resolved via open list",
			zap.String("subject_key", job.SubjectKey),
			zap.String("transaction_id", open[0].ID),
		)
		return &open[0], nil
	}
	// Not visible yet, or ambiguous. Transient either way.
	return nil, fmt.Errorf("transaction %s not resolvable (%d open candidates)", job.SubjectKey, len(open))
}
