package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/scanpoint/verity/internal/clock"
	"github.com/scanpoint/verity/internal/config"
	"github.com/scanpoint/verity/internal/observability/logger"
	"github.com/scanpoint/verity/internal/queue"
	"github.com/scanpoint/verity/internal/reconcile"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TableName is the physical queue table for webhook events.
const TableName = "webhook_events"

// IngestResult reports what happened to one delivery.
type IngestResult struct {
	EventKey       string          `json:"eventKey"`
	Duplicate      bool            `json:"duplicate"`
	DuplicateCount int             `json:"duplicateCount"`
	Signature      SignatureResult `json:"signature"`
}

// Service ingests upstream POS webhooks into a durable queue and processes
// them asynchronously. Ingestion never blocks on processing: the HTTP
// handler persists the event and returns, and a scheduled trigger drains
// the queue later.
type Service struct {
	store     *queue.Store
	runner    *queue.Runner
	reconcile *reconcile.Service
	secret    string
	cfg       config.Config
	log       *zap.Logger
}

func NewService(db *gorm.DB, node *snowflake.Node, reconciler *reconcile.Service, cfg config.Config, clk clock.Clock, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	store := queue.NewStore(db, node, queue.Table{
		Name:          TableName,
		KeyColumn:     "event_key",
		CreatedColumn: "received_at",
		DoneColumn:    "processed_at",
	}, clk, log)

	s := &Service{
		store:     store,
		reconcile: reconciler,
		secret:    cfg.Webhook.SigningSecret,
		cfg:       cfg,
		log:       log.Named("webhook"),
	}
	s.runner = queue.NewRunner(store, s.process, queue.RunnerConfig{
		MaxAttempts: cfg.Queue.MaxAttempts,
		MaxJobAge:   cfg.Queue.MaxJobAge,
	}, log)
	return s
}

// EventKey derives the dedup key for a delivery: byte-identical content on
// the same topic always maps to the same key.
func EventKey(topic string, rawBody []byte) string {
	sum := sha256.New()
	sum.Write([]byte(topic))
	sum.Write(rawBody)
	return hex.EncodeToString(sum.Sum(nil))
}

// Ingest verifies and persists one delivery. A failed signature check is
// recorded but does not reject the request: upstream delivery retries are
// costly and the secret may legitimately be unconfigured. A retransmission
// of byte-identical content bumps a duplicate counter instead of creating a
// second event.
func (s *Service) Ingest(ctx context.Context, topic string, rawBody []byte, headers http.Header) (IngestResult, error) {
	result := IngestResult{
		EventKey:  EventKey(topic, rawBody),
		Signature: VerifySignature(s.secret, rawBody, headers.Get(SignatureHeader)),
	}
	if !result.Signature.Verified {
		s.log.Warn("webhook accepted without verified signature",
			zap.String("topic", topic),
			zap.String("reason", result.Signature.Reason),
		)
	}

	payload := map[string]any{}
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		payload = map[string]any{"raw": string(rawBody)}
	}
	headersJSON, err := json.Marshal(logger.StripAuthHeaders(headers))
	if err != nil {
		headersJSON = []byte("{}")
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return result, fmt.Errorf("encode payload: %w", err)
	}

	now := s.store.Now()
	err = s.store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		markDuplicate := func() error {
			var rows []struct {
				ID             snowflake.ID
				DuplicateCount int
			}
			if err := tx.WithContext(ctx).Raw(
				`SELECT id, duplicate_count FROM webhook_events WHERE event_key = ?`+s.rowLockClause(),
				result.EventKey,
			).Scan(&rows).Error; err != nil {
				return err
			}
			if len(rows) == 0 {
				return fmt.Errorf("event %s missing after conflicting insert", result.EventKey)
			}
			result.Duplicate = true
			result.DuplicateCount = rows[0].DuplicateCount + 1
			return tx.WithContext(ctx).Exec(
				`UPDATE webhook_events SET duplicate_count = duplicate_count + 1, updated_at = ? WHERE id = ?`,
				now, rows[0].ID,
			).Error
		}

		// Insert first. Identical deliveries can race each other, and a
		// lookup-then-insert would hand the loser a unique violation; with
		// ON CONFLICT DO NOTHING the loser is counted as a duplicate
		// instead of failing the request.
		insert := tx.WithContext(ctx).Exec(
			`INSERT INTO webhook_events
			   (id, event_key, topic, signature_verified, signature_reason, status,
			    attempts, next_attempt_at, payload, headers, duplicate_count, received_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, 0, ?, ?)
			 ON CONFLICT (event_key) DO NOTHING`,
			s.store.GenerateID(), result.EventKey, topic,
			result.Signature.Verified, result.Signature.Reason, queue.StatusPending,
			now, string(payloadJSON), string(headersJSON), now, now,
		)
		if insert.Error != nil {
			return insert.Error
		}
		if insert.RowsAffected == 0 {
			return markDuplicate()
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	s.log.Info("webhook ingested",
		zap.String("topic", topic),
		zap.String("event_key", result.EventKey),
		zap.Bool("duplicate", result.Duplicate),
		zap.Bool("signature_verified", result.Signature.Verified),
	)
	return result, nil
}

// ProcessPending claims and processes due events within the time budget.
func (s *Service) ProcessPending(ctx context.Context, limit int, budget time.Duration) (queue.RunResult, error) {
	if limit <= 0 {
		limit = s.cfg.Queue.BatchSize
	}
	result, err := s.runner.Run(ctx, limit, budget)
	s.runner.PublishHealthMetrics(ctx)
	return result, err
}

// Cleanup removes terminal events past the configured retention windows.
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

// process handles one claimed event. Transaction events carrying a
// transaction id feed the reconciliation queue; anything else is recorded
// and dropped.
func (s *Service) process(ctx context.Context, job queue.Job) error {
	topic, err := s.eventTopic(ctx, job)
	if err != nil {
		s.log.Debug("event topic lookup failed",
			zap.String("event_key", job.SubjectKey),
			zap.Error(err),
		)
	}

	transactionID := payloadString(job.Payload, "transactionId", "transaction_id", "id")
	if transactionID == "" {
		s.log.Debug("webhook event carried no transaction id",
			zap.String("event_key", job.SubjectKey),
			zap.String("topic", topic),
		)
		return nil
	}

	fields := map[string]any{}
	for _, key := range []string{"firstName", "lastName", "dateOfBirth", "deviceId"} {
		if value, ok := job.Payload[key]; ok {
			fields[key] = value
		}
	}
	if _, err := s.reconcile.Enqueue(ctx, transactionID, fields, 0); err != nil {
		return err
	}
	return nil
}

func (s *Service) eventTopic(ctx context.Context, job queue.Job) (string, error) {
	var row struct{ Topic string }
	err := s.store.DB().WithContext(ctx).Raw(
		`SELECT topic FROM webhook_events WHERE id = ?`, job.ID,
	).Scan(&row).Error
	return row.Topic, err
}

func (s *Service) rowLockClause() string {
	if s.store.DB().Dialector.Name() == "postgres" {
		return " FOR UPDATE"
	}
	return ""
}

func payloadString(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := payload[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}
