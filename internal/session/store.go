package session

import (
	"context"
	"sync"
	"time"

	"github.com/scanpoint/verity/internal/clock"
	"github.com/scanpoint/verity/internal/observability/metrics"
	"go.uber.org/zap"
)

// Store holds live verification sessions keyed by transaction id. One mutex
// guards the whole map: every operation takes it for its full duration, so
// no caller can observe a half-updated session regardless of how requests
// interleave.
type Store struct {
	mu    sync.Mutex
	items map[string]*Session

	cfg     Config
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.SessionMetrics
}

func NewStore(cfg Config, clk clock.Clock, log *zap.Logger) *Store {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		items:   make(map[string]*Session),
		cfg:     cfg.withDefaults(),
		clock:   clk,
		log:     log.Named("session.store"),
		metrics: metrics.Session(),
	}
}

// Create returns the existing session for the transaction if one is live,
// otherwise starts a fresh pending session with a full TTL.
func (s *Store) Create(transactionID string, meta Meta) Session {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.liveLocked(transactionID, now); existing != nil {
		return *snapshot(existing)
	}

	sess := &Session{
		TransactionID: transactionID,
		Status:        StatusPending,
		CustomerName:  meta.CustomerName,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.TTL),
	}
	s.items[transactionID] = sess
	s.appendLogLocked(sess, now, "verification session started", "info")
	s.metrics.SetActive(len(s.items))
	return *snapshot(sess)
}

// Update applies a decision result. Returns nil when the session is missing
// or already expired; detecting expiry removes the session.
func (s *Store) Update(transactionID string, result Result) *Session {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.liveLocked(transactionID, now)
	if sess == nil {
		return nil
	}

	sess.Status = result.Status
	sess.Reason = result.Reason
	if result.CustomerID != "" {
		sess.CustomerID = result.CustomerID
	}
	if result.CustomerName != "" {
		sess.CustomerName = result.CustomerName
	}
	if result.Age != nil {
		sess.Age = result.Age
	}
	s.appendLogLocked(sess, now, "status set to "+string(result.Status), "info")
	return snapshot(sess)
}

// Heartbeat records a ping from the scanning device. The first ping after a
// gap logs a reconnect so operators can see flapping hardware.
func (s *Store) Heartbeat(transactionID string) *Session {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.liveLocked(transactionID, now)
	if sess == nil {
		return nil
	}

	gap := sess.LastHeartbeat == nil || now.Sub(*sess.LastHeartbeat) > s.cfg.DeviceIdleMax
	sess.DeviceLinked = true
	hb := now
	sess.LastHeartbeat = &hb
	if gap {
		s.appendLogLocked(sess, now, "scanning device connected", "info")
	}
	return snapshot(sess)
}

// Get returns the session, expiring it lazily. Device liveness is evaluated
// here rather than by a timer: when the device was linked but the last
// heartbeat is older than the idle window, the link is dropped and one
// disconnect line is logged.
func (s *Store) Get(transactionID string) *Session {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.liveLocked(transactionID, now)
	if sess == nil {
		return nil
	}

	if sess.DeviceLinked && sess.LastHeartbeat != nil && now.Sub(*sess.LastHeartbeat) > s.cfg.DeviceIdleMax {
		sess.DeviceLinked = false
		s.appendLogLocked(sess, now, "scanning device disconnected", "warn")
	}
	return snapshot(sess)
}

// AppendLog adds a line to the session's activity log.
func (s *Store) AppendLog(transactionID, message, level string) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.liveLocked(transactionID, now)
	if sess == nil {
		return
	}
	s.appendLogLocked(sess, now, message, level)
}

// Complete removes the session once the transaction is settled.
func (s *Store) Complete(transactionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[transactionID]; !ok {
		return false
	}
	delete(s.items, transactionID)
	s.metrics.SetActive(len(s.items))
	return true
}

// Sweep removes every expired session and reports how many were dropped.
// Runs periodically so memory stays bounded even when nobody polls.
func (s *Store) Sweep() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for id, sess := range s.items {
		if now.After(sess.ExpiresAt) {
			delete(s.items, id)
			dropped++
			s.metrics.IncExpired()
		}
	}
	if dropped > 0 {
		s.metrics.SetActive(len(s.items))
		s.log.Info("swept expired sessions", zap.Int("count", dropped))
	}
	return dropped
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// RunSweeper drives Sweep on the configured interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// liveLocked returns the session when present and unexpired; an expired
// session is deleted as a side effect. Callers hold s.mu.
func (s *Store) liveLocked(transactionID string, now time.Time) *Session {
	sess, ok := s.items[transactionID]
	if !ok {
		return nil
	}
	if now.After(sess.ExpiresAt) {
		delete(s.items, transactionID)
		s.metrics.IncExpired()
		s.metrics.SetActive(len(s.items))
		return nil
	}
	return sess
}

func (s *Store) appendLogLocked(sess *Session, now time.Time, message, level string) {
	if level == "" {
		level = "info"
	}
	sess.ActivityLog = append(sess.ActivityLog, LogEntry{Time: now, Message: message, Level: level})
	if overflow := len(sess.ActivityLog) - s.cfg.ActivityLogCap; overflow > 0 {
		sess.ActivityLog = append([]LogEntry(nil), sess.ActivityLog[overflow:]...)
	}
}

// snapshot copies a session so callers can't mutate store state.
func snapshot(sess *Session) *Session {
	out := *sess
	if sess.Age != nil {
		age := *sess.Age
		out.Age = &age
	}
	if sess.LastHeartbeat != nil {
		hb := *sess.LastHeartbeat
		out.LastHeartbeat = &hb
	}
	out.ActivityLog = append([]LogEntry(nil), sess.ActivityLog...)
	return &out
}
