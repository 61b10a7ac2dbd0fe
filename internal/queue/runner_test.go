package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRunnerMarksSuccessDone(t *testing.T) {
	store, clk, _ := setupStore(t)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, "tx-1", nil, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	clk.Advance(time.Second)

	runner := NewRunner(store, func(ctx context.Context, job Job) error {
		return nil
	}, RunnerConfig{}, zap.NewNop())

	result, err := runner.Run(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Claimed != 1 || result.Done != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if job := loadJob(t, store, "tx-1"); job.Status != StatusDone {
		t.Fatalf("expected done, got %s", job.Status)
	}
}

func TestRunnerReschedulesTransientFailure(t *testing.T) {
	store, clk, _ := setupStore(t)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, "tx-1", nil, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	clk.Advance(time.Second)

	runner := NewRunner(store, func(ctx context.Context, job Job) error {
		return &upstreamError{code: 503}
	}, RunnerConfig{}, zap.NewNop())

	result, err := runner.Run(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Rescheduled != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	job := loadJob(t, store, "tx-1")
	if job.Status != StatusPending || job.Attempts != 1 {
		t.Fatalf("unexpected job state %+v", job)
	}
	if !job.NextAttemptAt.Equal(store.Now().Add(Backoff(1))) {
		t.Fatalf("expected first backoff step, got %v", job.NextAttemptAt)
	}
}

func TestRunnerFailsPermanentError(t *testing.T) {
	store, clk, _ := setupStore(t)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, "tx-1", nil, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	clk.Advance(time.Second)

	runner := NewRunner(store, func(ctx context.Context, job Job) error {
		return &upstreamError{code: 403}
	}, RunnerConfig{}, zap.NewNop())

	result, err := runner.Run(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if job := loadJob(t, store, "tx-1"); job.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
}

func TestRunnerFailsAfterMaxAttempts(t *testing.T) {
	store, clk, db := setupStore(t)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, "tx-1", nil, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := db.Exec(`UPDATE reconciliation_jobs SET attempts = 11 WHERE subject_key = ?`, "tx-1").Error; err != nil {
		t.Fatalf("seed attempts: %v", err)
	}
	clk.Advance(time.Second)

	runner := NewRunner(store, func(ctx context.Context, job Job) error {
		return errors.New("still unavailable")
	}, RunnerConfig{MaxAttempts: 12}, zap.NewNop())

	result, err := runner.Run(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	job := loadJob(t, store, "tx-1")
	if job.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.LastError == nil || *job.LastError != "max_attempts_reached" {
		t.Fatalf("unexpected cause %v", job.LastError)
	}
}

func TestRunnerFailsStaleJobWithConfiguredReason(t *testing.T) {
	store, clk, _ := setupStore(t)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, "tx-1", nil, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	clk.Advance(72 * time.Hour)

	runner := NewRunner(store, func(ctx context.Context, job Job) error {
		return errors.New("customer still missing")
	}, RunnerConfig{MaxJobAge: 48 * time.Hour, MaxAgeReason: "timeout_waiting_for_customer"}, zap.NewNop())

	result, err := runner.Run(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	job := loadJob(t, store, "tx-1")
	if job.LastError == nil || *job.LastError != "timeout_waiting_for_customer" {
		t.Fatalf("unexpected cause %v", job.LastError)
	}
}

func TestRunnerExhaustedBudgetClaimsNothing(t *testing.T) {
	store, clk, _ := setupStore(t)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, "tx-1", nil, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	clk.Advance(time.Second)

	called := false
	runner := NewRunner(store, func(ctx context.Context, job Job) error {
		called = true
		return nil
	}, RunnerConfig{UnitReserve: 2 * time.Second}, zap.NewNop())

	result, err := runner.Run(ctx, 10, time.Second)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if called {
		t.Fatalf("handler must not run without budget")
	}
	if result.Claimed != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if job := loadJob(t, store, "tx-1"); job.Status != StatusPending {
		t.Fatalf("job should stay pending, got %s", job.Status)
	}
}

func TestRunnerCapsInFlight(t *testing.T) {
	store, clk, _ := setupStore(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c", "d", "e", "f"} {
		if _, err := store.Enqueue(ctx, key, nil, 0); err != nil {
			t.Fatalf("enqueue %s: %v", key, err)
		}
	}
	clk.Advance(time.Second)

	var (
		gauge   = make(chan int, 64)
		current = make(chan struct{}, 16)
	)
	runner := NewRunner(store, func(ctx context.Context, job Job) error {
		current <- struct{}{}
		gauge <- len(current)
		time.Sleep(5 * time.Millisecond)
		<-current
		return nil
	}, RunnerConfig{MaxInFlight: 2}, zap.NewNop())

	result, err := runner.Run(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Done != 6 {
		t.Fatalf("unexpected result %+v", result)
	}
	close(gauge)
	for sample := range gauge {
		if sample > 2 {
			t.Fatalf("observed %d concurrent handlers, cap is 2", sample)
		}
	}
}

func TestRunnerReleasesJobsBeyondBudget(t *testing.T) {
	store, clk, _ := setupStore(t)
	ctx := context.Background()

	for _, key := range []string{"tx-1", "tx-2", "tx-3"} {
		if _, err := store.Enqueue(ctx, key, nil, 0); err != nil {
			t.Fatalf("enqueue %s: %v", key, err)
		}
	}
	clk.Advance(time.Second)

	// The first handler call eats the whole budget; the remaining claims
	// must go back untouched.
	runner := NewRunner(store, func(ctx context.Context, job Job) error {
		clk.Advance(time.Hour)
		return nil
	}, RunnerConfig{MaxInFlight: 1}, zap.NewNop())

	result, err := runner.Run(ctx, 10, 30*time.Second)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Claimed != 3 || result.Done != 1 || result.Skipped != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	for _, key := range []string{"tx-2", "tx-3"} {
		job := loadJob(t, store, key)
		if job.Status != StatusPending {
			t.Fatalf("%s: expected pending, got %s", key, job.Status)
		}
		if job.Attempts != 0 {
			t.Fatalf("%s: deferred claim must not burn an attempt, attempts=%d", key, job.Attempts)
		}
		if job.LastError != nil {
			t.Fatalf("%s: deferred claim must not record an error, got %q", key, *job.LastError)
		}
	}
}
