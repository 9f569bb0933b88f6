// Package progress provides the process-local progress cache for ingestion
// jobs. State here is ephemeral: it is lost on restart and entries expire a
// fixed interval after their last update.
package progress

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// Status is the lifecycle state reported for a job.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusNotFound   Status = "not_found"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Snapshot is the progress state for a job at a point in time.
type Snapshot struct {
	Status      Status  `json:"status"`
	Total       int     `json:"total"`
	Processed   int     `json:"processed"`
	Percent     float64 `json:"progress"`
	ErrorDetail string  `json:"error,omitempty"`
}

// Percent computes processed/total as a percentage rounded to one decimal and
// clamped to 100. A zero total reports 100: there is nothing left to do.
func Percent(processed, total int) float64 {
	if total <= 0 {
		return 100
	}
	pct := float64(processed) / float64(total) * 100
	pct = math.Round(pct*10) / 10
	if pct > 100 {
		return 100
	}
	return pct
}

// DefaultTTL is how long an entry survives after its last update.
const DefaultTTL = 5 * time.Minute

type entry struct {
	mu        sync.Mutex
	snap      Snapshot
	timer     *time.Timer
	updatedAt time.Time
}

// Store is a thread-safe jobID → Snapshot map with per-entry eviction timers.
// Updates to distinct jobs never block one another; updates to the same job
// are serialized so processed counts stay monotonic.
type Store struct {
	mu      sync.RWMutex
	entries map[int64]*entry
	ttl     time.Duration
	logger  *slog.Logger
	closed  bool
}

// NewStore creates a progress store. A non-positive ttl uses DefaultTTL.
func NewStore(ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		entries: make(map[int64]*entry),
		ttl:     ttl,
		logger:  logger,
	}
}

// Register creates the initial snapshot for a job. A zero total registers as
// already completed rather than dividing by zero later.
func (s *Store) Register(jobID int64, total int) {
	status := StatusProcessing
	if total == 0 {
		status = StatusCompleted
	}
	s.apply(jobID, Snapshot{
		Status:    status,
		Total:     total,
		Processed: 0,
		Percent:   Percent(0, total),
	})
}

// Advance records that processed rows of the job's total are durably written.
func (s *Store) Advance(jobID int64, processed, total int) {
	s.apply(jobID, Snapshot{
		Status:    StatusProcessing,
		Total:     total,
		Processed: processed,
		Percent:   Percent(processed, total),
	})
}

// Complete moves the job to its terminal success state.
func (s *Store) Complete(jobID int64, total int) {
	s.apply(jobID, Snapshot{
		Status:    StatusCompleted,
		Total:     total,
		Processed: total,
		Percent:   100,
	})
}

// Fail moves the job to its terminal error state.
func (s *Store) Fail(jobID int64, total int, detail string) {
	s.apply(jobID, Snapshot{
		Status:      StatusError,
		Total:       total,
		Percent:     0,
		ErrorDetail: detail,
	})
}

// Update applies an externally built snapshot, subject to the same terminal
// and monotonicity guards as the convenience methods.
func (s *Store) Update(jobID int64, snap Snapshot) {
	s.apply(jobID, snap)
}

// Get returns the current snapshot. Unknown ids return the not_found sentinel
// rather than an error: callers poll before registration and after expiry.
func (s *Store) Get(jobID int64) Snapshot {
	s.mu.RLock()
	e, ok := s.entries[jobID]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{Status: StatusNotFound, Percent: 0}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops all eviction timers. The store stays readable but accepts no
// further updates.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, e := range s.entries {
		e.timer.Stop()
	}
}

func (s *Store) apply(jobID int64, snap Snapshot) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	e, ok := s.entries[jobID]
	if !ok {
		e = &entry{}
		e.timer = time.AfterFunc(s.ttl, func() { s.evict(jobID, e) })
		s.entries[jobID] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Terminal states are absorbing and processed counts never move backwards.
	if e.snap.Status.Terminal() {
		return
	}
	if snap.Status == StatusProcessing && snap.Processed < e.snap.Processed {
		return
	}

	e.snap = snap
	e.updatedAt = time.Now()
	e.timer.Reset(s.ttl)
}

func (s *Store) evict(jobID int64, e *entry) {
	e.mu.Lock()
	// An update may have raced the expired timer; keep the entry alive if it
	// was touched inside the retention window.
	if time.Since(e.updatedAt) < s.ttl {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	s.mu.Lock()
	if cur, ok := s.entries[jobID]; ok && cur == e {
		delete(s.entries, jobID)
	}
	s.mu.Unlock()

	s.logger.Debug("progress entry expired", "job_id", jobID)
}
