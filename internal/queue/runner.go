package queue

import (
	"context"
	"sync"
	"time"

	"github.com/scanpoint/verity/internal/observability/metrics"
	"go.uber.org/zap"
)

// Handler processes one claimed job. A nil return marks the job done; an
// error is classified transient or permanent by Classify.
type Handler func(ctx context.Context, job Job) error

// RunnerConfig bounds one processing invocation.
type RunnerConfig struct {
	// MaxInFlight caps concurrent handler calls within one invocation.
	MaxInFlight int
	// MaxAttempts fails a job once its attempt count exceeds this budget.
	MaxAttempts int
	// MaxJobAge fails a job whose row is older than this, regardless of
	// attempts.
	MaxJobAge time.Duration
	// MaxAgeReason is the terminal last_error recorded on age expiry.
	MaxAgeReason string
	// UnitReserve is the minimum remaining budget needed to start one more
	// handler call.
	UnitReserve time.Duration
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.MaxInFlight <= 0 || c.MaxInFlight > 3 {
		c.MaxInFlight = 3
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 12
	}
	if c.MaxJobAge <= 0 {
		c.MaxJobAge = 48 * time.Hour
	}
	if c.MaxAgeReason == "" {
		c.MaxAgeReason = "max_age_reached"
	}
	if c.UnitReserve <= 0 {
		c.UnitReserve = 2 * time.Second
	}
	return c
}

// RunResult summarizes one invocation.
type RunResult struct {
	Claimed     int `json:"claimed"`
	Done        int `json:"done"`
	Rescheduled int `json:"rescheduled"`
	Failed      int `json:"failed"`
	Skipped     int `json:"skipped"`
}

// Runner drains due jobs within a caller-supplied time budget. It owns no
// schedule: an external cron collaborator invokes Run, possibly while
// another invocation is still in flight, and the store's claim transaction
// keeps them from colliding.
type Runner struct {
	store   *Store
	handler Handler
	cfg     RunnerConfig
	log     *zap.Logger
	metrics *metrics.QueueMetrics
}

func NewRunner(store *Store, handler Handler, cfg RunnerConfig, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		store:   store,
		handler: handler,
		cfg:     cfg.withDefaults(),
		log:     log.Named("queue.runner." + store.TableInfo().Name),
		metrics: metrics.Queue(),
	}
}

// Run claims up to limit due jobs and processes them with at most
// MaxInFlight handlers running at once. Jobs whose turn comes after the
// budget runs out are released back to pending for the next invocation.
func (r *Runner) Run(ctx context.Context, limit int, budget time.Duration) (RunResult, error) {
	start := r.store.Now()
	deadline := start.Add(budget)
	queueName := r.store.TableInfo().Name

	var result RunResult
	if budget <= r.cfg.UnitReserve {
		return result, nil
	}

	jobs, err := r.store.ClaimDue(ctx, limit)
	if err != nil {
		return result, err
	}
	result.Claimed = len(jobs)
	if len(jobs) == 0 {
		return result, nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, r.cfg.MaxInFlight)
	)

	for _, job := range jobs {
		sem <- struct{}{}
		// The budget check waits for a free slot so it sees the time the
		// handler would actually start, not the time its turn was queued.
		if ctx.Err() != nil || r.store.Now().Add(r.cfg.UnitReserve).After(deadline) {
			<-sem
			if err := r.store.Release(ctx, job.ID); err != nil {
				r.log.Warn("failed to release unprocessed job", zap.String("id", job.ID.String()), zap.Error(err))
			}
			mu.Lock()
			result.Skipped++
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := r.processOne(ctx, job)
			mu.Lock()
			switch outcome {
			case "done":
				result.Done++
			case "rescheduled":
				result.Rescheduled++
			case "failed":
				result.Failed++
			}
			mu.Unlock()
			r.metrics.IncProcessed(queueName, outcome)
		}(job)
	}
	wg.Wait()

	r.metrics.ObserveRunDuration(queueName, r.store.Now().Sub(start))
	return result, nil
}

func (r *Runner) processOne(ctx context.Context, job Job) string {
	err := r.handler(ctx, job)
	if err == nil {
		if markErr := r.store.MarkDone(ctx, job.ID); markErr != nil {
			r.log.Error("mark done failed", zap.String("id", job.ID.String()), zap.Error(markErr))
		}
		return "done"
	}

	if Classify(err) == OutcomePermanent {
		r.failJob(ctx, job, err.Error())
		return "failed"
	}

	if job.Attempts >= r.cfg.MaxAttempts {
		r.failJob(ctx, job, "max_attempts_reached")
		return "failed"
	}
	if age := r.store.Now().Sub(job.CreatedAt); age > r.cfg.MaxJobAge {
		r.failJob(ctx, job, r.cfg.MaxAgeReason)
		return "failed"
	}

	if schedErr := r.store.Reschedule(ctx, job.ID, job.Attempts, err.Error()); schedErr != nil {
		r.log.Error("reschedule failed", zap.String("id", job.ID.String()), zap.Error(schedErr))
	}
	r.log.Debug("job rescheduled",
		zap.String("id", job.ID.String()),
		zap.Int("attempts", job.Attempts),
		zap.String("cause", err.Error()),
	)
	return "rescheduled"
}

func (r *Runner) failJob(ctx context.Context, job Job, cause string) {
	if err := r.store.MarkFailed(ctx, job.ID, cause); err != nil {
		r.log.Error("mark failed failed", zap.String("id", job.ID.String()), zap.Error(err))
	}
	r.log.Warn("job failed terminally",
		zap.String("id", job.ID.String()),
		zap.String("subject_key", job.SubjectKey),
		zap.String("cause", cause),
	)
}

// PublishHealthMetrics pushes current per-status counts to prometheus.
func (r *Runner) PublishHealthMetrics(ctx context.Context) {
	health, err := r.store.QueueHealth(ctx)
	if err != nil {
		r.log.Warn("queue health read failed", zap.Error(err))
		return
	}
	name := r.store.TableInfo().Name
	r.metrics.SetBacklog(name, string(StatusPending), health.Pending)
	r.metrics.SetBacklog(name, string(StatusProcessing), health.Processing)
	r.metrics.SetBacklog(name, string(StatusDone), health.Done)
	r.metrics.SetBacklog(name, string(StatusFailed), health.Failed)
	r.metrics.SetOldestPending(name, time.Duration(health.OldestPendingSecs)*time.Second)
}
