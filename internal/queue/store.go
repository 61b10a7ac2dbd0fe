package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/scanpoint/verity/internal/clock"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Table describes the physical layout of one queue instance. The
// reconciliation and webhook tables share the queue columns but name their
// key and timestamp columns differently.
type Table struct {
	Name          string
	KeyColumn     string // subject_key / event_key
	CreatedColumn string // created_at / received_at
	DoneColumn    string // completed_at / processed_at
}

// Job is one claimed or inspected queue row.
type Job struct {
	ID            snowflake.ID
	SubjectKey    string
	Status        Status
	Attempts      int
	NextAttemptAt time.Time
	LastError     *string
	Payload       datatypes.JSONMap
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// Health is a per-status summary used by queue-health reporting.
type Health struct {
	Pending           int64 `json:"pending"`
	Processing        int64 `json:"processing"`
	Done              int64 `json:"done"`
	Failed            int64 `json:"failed"`
	OldestPendingSecs int64 `json:"oldestPendingSeconds"`
}

// Store is a Postgres-backed durable job queue. All coordination between
// concurrent invocations happens through the table: the store keeps no
// in-memory job state, so any number of scheduled triggers can share it.
type Store struct {
	db    *gorm.DB
	genID *snowflake.Node
	table Table
	clock clock.Clock
	log   *zap.Logger
}

func NewStore(db *gorm.DB, genID *snowflake.Node, table Table, clk clock.Clock, log *zap.Logger) *Store {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		db:    db,
		genID: genID,
		table: table,
		clock: clk,
		log:   log.Named("queue." + table.Name),
	}
}

// TableInfo returns the queue's table descriptor.
func (s *Store) TableInfo() Table { return s.table }

// DB exposes the underlying handle for instance-specific upserts (the
// webhook ingestion gate writes its own dedup columns).
func (s *Store) DB() *gorm.DB { return s.db }

// GenerateID mints a new row id.
func (s *Store) GenerateID() snowflake.ID { return s.genID.Generate() }

// Now reads the store clock.
func (s *Store) Now() time.Time { return s.clock.Now() }

// Enqueue upserts a job by subject key.
//
// A terminal row (done/failed) is reset to pending with attempts back at
// zero. A live row keeps the earlier of its scheduled attempt and the new
// one, and its payload is merged fill-blanks. Returns true when the row was
// created or reset, false when an existing live job absorbed the enqueue.
func (s *Store) Enqueue(ctx context.Context, subjectKey string, payload map[string]any, delay time.Duration) (bool, error) {
	subjectKey = strings.TrimSpace(subjectKey)
	if subjectKey == "" {
		return false, errors.New("missing_subject_key")
	}

	now := s.clock.Now()
	nextAt := now.Add(delay)
	queued := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Insert first: a SELECT FOR UPDATE on an absent row locks nothing,
		// so two concurrent first-time enqueues would both reach the insert.
		// ON CONFLICT DO NOTHING sends the loser down the merge path
		// instead of surfacing a unique violation.
		insert := tx.WithContext(ctx).Exec(
			fmt.Sprintf(
				`INSERT INTO %s (id, %s, status, attempts, next_attempt_at, payload, %s, updated_at)
				 VALUES (?, ?, ?, 0, ?, ?, ?, ?)
				 ON CONFLICT (%s) DO NOTHING`,
				s.table.Name, s.table.KeyColumn, s.table.CreatedColumn, s.table.KeyColumn,
			),
			s.genID.Generate(), subjectKey, StatusPending, nextAt, toJSON(payload), now, now,
		)
		if insert.Error != nil {
			return insert.Error
		}
		if insert.RowsAffected > 0 {
			queued = true
			return nil
		}

		row, err := s.lockByKey(ctx, tx, subjectKey)
		if err != nil {
			return err
		}
		if row == nil {
			return fmt.Errorf("row for %q missing after conflicting insert", subjectKey)
		}

		if row.Status.Terminal() {
			queued = true
			return tx.WithContext(ctx).Exec(
				fmt.Sprintf(
					`UPDATE %s
					 SET status = ?, attempts = 0, next_attempt_at = ?, payload = ?,
					     last_error = NULL, %s = NULL, updated_at = ?
					 WHERE id = ?`,
					s.table.Name, s.table.DoneColumn,
				),
				StatusPending, nextAt, toJSON(payload), now, row.ID,
			).Error
		}

		merged := MergeFillBlanks(row.toJob().Payload, payload)
		keepAt := row.NextAttemptAt
		if nextAt.Before(keepAt) {
			keepAt = nextAt
		}
		return tx.WithContext(ctx).Exec(
			fmt.Sprintf(
				`UPDATE %s SET next_attempt_at = ?, payload = ?, updated_at = ? WHERE id = ?`,
				s.table.Name,
			),
			keepAt, toJSON(merged), now, row.ID,
		).Error
	})
	if err != nil {
		return false, err
	}
	return queued, nil
}

// ClaimDue atomically claims up to limit due pending jobs. The select locks
// the rows and skips any already locked by a concurrent claimer, and the
// flip to processing commits in the same transaction, so a job is never in
// flight in two invocations at once. Claimed jobs are returned with
// attempts already incremented.
func (s *Store) ClaimDue(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := s.clock.Now()

	var claimed []Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []jobRow
		if err := tx.WithContext(ctx).Raw(
			fmt.Sprintf(
				`SELECT id, %s AS subject_key, status, attempts, next_attempt_at, last_error,
				        payload, %s AS created_at, updated_at, %s AS completed_at
				 FROM %s
				 WHERE status = ? AND next_attempt_at <= ?
				 ORDER BY next_attempt_at ASC, id ASC
				 %s
				 LIMIT ?`,
				s.table.KeyColumn, s.table.CreatedColumn, s.table.DoneColumn, s.table.Name,
				s.lockingClause(),
			),
			StatusPending, now, limit,
		).Scan(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]snowflake.ID, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		if err := tx.WithContext(ctx).Exec(
			fmt.Sprintf(
				`UPDATE %s SET status = ?, attempts = attempts + 1, updated_at = ? WHERE id IN ?`,
				s.table.Name,
			),
			StatusProcessing, now, ids,
		).Error; err != nil {
			return err
		}

		claimed = make([]Job, 0, len(rows))
		for _, row := range rows {
			job := row.toJob()
			job.Status = StatusProcessing
			job.Attempts++
			claimed = append(claimed, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Reschedule returns a processing job to pending with backoff computed from
// its attempt count.
func (s *Store) Reschedule(ctx context.Context, id snowflake.ID, attempts int, cause string) error {
	now := s.clock.Now()
	return s.transition(ctx, id, StatusProcessing, StatusPending,
		`next_attempt_at = ?, last_error = ?, updated_at = ?`,
		now.Add(Backoff(attempts)), truncateError(cause), now,
	)
}

// Release hands an unprocessed claim back to the queue, undoing the
// attempt increment from ClaimDue and leaving last_error alone. Used when
// an invocation runs out of budget before the handler gets to the job.
func (s *Store) Release(ctx context.Context, id snowflake.ID) error {
	now := s.clock.Now()
	return s.transition(ctx, id, StatusProcessing, StatusPending,
		`attempts = CASE WHEN attempts > 0 THEN attempts - 1 ELSE 0 END,
		 next_attempt_at = ?, updated_at = ?`,
		now, now,
	)
}

// MarkDone finishes a job. The payload is cleared: once the profile fields
// are applied upstream there is no reason to keep PII in the queue table.
func (s *Store) MarkDone(ctx context.Context, id snowflake.ID) error {
	now := s.clock.Now()
	return s.transition(ctx, id, StatusProcessing, StatusDone,
		fmt.Sprintf(`payload = '{}', last_error = NULL, %s = ?, updated_at = ?`, s.table.DoneColumn),
		now, now,
	)
}

// MarkFailed finishes a job as failed with a terminal reason.
func (s *Store) MarkFailed(ctx context.Context, id snowflake.ID, cause string) error {
	now := s.clock.Now()
	return s.transition(ctx, id, StatusProcessing, StatusFailed,
		fmt.Sprintf(`last_error = ?, %s = ?, updated_at = ?`, s.table.DoneColumn),
		truncateError(cause), now, now,
	)
}

// Cleanup deletes terminal rows past retention: done rows by completion
// time, pending/failed rows by last update. Bounds table growth and limits
// how long resolved personal data lingers.
func (s *Store) Cleanup(ctx context.Context, doneRetention, pendingRetention time.Duration) (int64, error) {
	now := s.clock.Now()
	var total int64

	result := s.db.WithContext(ctx).Exec(
		fmt.Sprintf(`DELETE FROM %s WHERE status = ? AND %s < ?`, s.table.Name, s.table.DoneColumn),
		StatusDone, now.Add(-doneRetention),
	)
	if result.Error != nil {
		return total, result.Error
	}
	total += result.RowsAffected

	result = s.db.WithContext(ctx).Exec(
		fmt.Sprintf(`DELETE FROM %s WHERE status IN ? AND updated_at < ?`, s.table.Name),
		[]Status{StatusPending, StatusFailed}, now.Add(-pendingRetention),
	)
	if result.Error != nil {
		return total, result.Error
	}
	total += result.RowsAffected

	if total > 0 {
		s.log.Info("queue cleanup", zap.Int64("deleted", total))
	}
	return total, nil
}

// QueueHealth reports per-status counts and the age of the oldest pending job.
func (s *Store) QueueHealth(ctx context.Context) (Health, error) {
	var rows []struct {
		Status Status
		Count  int64
	}
	if err := s.db.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT status, COUNT(1) AS count FROM %s GROUP BY status`, s.table.Name),
	).Scan(&rows).Error; err != nil {
		return Health{}, err
	}

	var health Health
	for _, row := range rows {
		switch row.Status {
		case StatusPending:
			health.Pending = row.Count
		case StatusProcessing:
			health.Processing = row.Count
		case StatusDone:
			health.Done = row.Count
		case StatusFailed:
			health.Failed = row.Count
		}
	}

	if health.Pending > 0 {
		var row struct{ Oldest *time.Time }
		if err := s.db.WithContext(ctx).Raw(
			fmt.Sprintf(`SELECT MIN(next_attempt_at) AS oldest FROM %s WHERE status = ?`, s.table.Name),
			StatusPending,
		).Scan(&row).Error; err == nil && row.Oldest != nil {
			if age := s.clock.Now().Sub(*row.Oldest); age > 0 {
				health.OldestPendingSecs = int64(age.Seconds())
			}
		}
	}
	return health, nil
}

// transition applies a guarded status flip. The WHERE clause enforces the
// state machine at the database level: a row that moved on concurrently is
// simply not updated.
func (s *Store) transition(ctx context.Context, id snowflake.ID, from, to Status, setClause string, args ...any) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	query := fmt.Sprintf(`UPDATE %s SET status = ?, %s WHERE id = ? AND status = ?`, s.table.Name, setClause)
	queryArgs := append([]any{to}, args...)
	queryArgs = append(queryArgs, id, from)

	result := s.db.WithContext(ctx).Exec(query, queryArgs...)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		s.log.Warn("queue transition missed",
			zap.String("id", id.String()),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
	}
	return nil
}

// lockByKey reads one row by subject key under a row lock.
func (s *Store) lockByKey(ctx context.Context, tx *gorm.DB, subjectKey string) (*jobRow, error) {
	var rows []jobRow
	err := tx.WithContext(ctx).Raw(
		fmt.Sprintf(
			`SELECT id, %s AS subject_key, status, attempts, next_attempt_at, last_error,
			        payload, %s AS created_at, updated_at, %s AS completed_at
			 FROM %s
			 WHERE %s = ?
			 %s`,
			s.table.KeyColumn, s.table.CreatedColumn, s.table.DoneColumn, s.table.Name,
			s.table.KeyColumn, s.rowLockClause(),
		),
		subjectKey,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Postgres enforces claim exclusivity with SKIP LOCKED; sqlite (tests)
// serializes writers on its own and rejects the clause.
func (s *Store) lockingClause() string {
	if s.db.Dialector.Name() == "postgres" {
		return "FOR UPDATE SKIP LOCKED"
	}
	return ""
}

func (s *Store) rowLockClause() string {
	if s.db.Dialector.Name() == "postgres" {
		return "FOR UPDATE"
	}
	return ""
}

type jobRow struct {
	ID            snowflake.ID
	SubjectKey    string
	Status        Status
	Attempts      int
	NextAttemptAt time.Time
	LastError     *string
	Payload       datatypes.JSON
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

func (r jobRow) toJob() Job {
	payload := datatypes.JSONMap{}
	if len(r.Payload) > 0 {
		_ = json.Unmarshal(r.Payload, &payload)
	}
	return Job{
		ID:            r.ID,
		SubjectKey:    r.SubjectKey,
		Status:        r.Status,
		Attempts:      r.Attempts,
		NextAttemptAt: r.NextAttemptAt,
		LastError:     r.LastError,
		Payload:       payload,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		CompletedAt:   r.CompletedAt,
	}
}

func toJSON(payload map[string]any) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for key, value := range payload {
		if strings.TrimSpace(key) == "" {
			continue
		}
		out[key] = value
	}
	return out
}

func truncateError(cause string) string {
	const max = 1024
	if len(cause) > max {
		return cause[:max]
	}
	return cause
}
