// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Row metrics (only for operations that move records)
	TotalRows int64
	MinRows   int64
	MaxRows   int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"totalTimeMs"`
	AvgTimeMs   float64 `json:"avgTimeMs"`
	MinTimeMs   int64   `json:"minTimeMs"`
	MaxTimeMs   int64   `json:"maxTimeMs"`

	// Row stats (nil if not applicable)
	TotalRows *int64   `json:"totalRows,omitempty"`
	AvgRows   *float64 `json:"avgRows,omitempty"`
	MinRows   *int64   `json:"minRows,omitempty"`
	MaxRows   *int64   `json:"maxRows,omitempty"`
}

// Snapshot represents the full service statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptimeSeconds"`
	Decode        *OperationSnapshot `json:"decode,omitempty"`
	Normalize     *OperationSnapshot `json:"normalize,omitempty"`
	InsertJob     *OperationSnapshot `json:"insertJob,omitempty"`
	Persist       *OperationSnapshot `json:"persist,omitempty"`
}

// Operation names for the collector.
const (
	OpDecode    = "decode"
	OpNormalize = "normalize"
	OpInsertJob = "insert_job"
	OpPersist   = "persist"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{
			MinTime: time.Duration(math.MaxInt64),
			MinRows: math.MaxInt64,
		}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordRows records timing and row volume for a record-moving operation.
func (c *Collector) RecordRows(op string, duration time.Duration, rows int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}

	m.TotalRows += rows
	if rows < m.MinRows {
		m.MinRows = rows
	}
	if rows > m.MaxRows {
		m.MaxRows = rows
	}
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics, includeRows bool) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}

	if includeRows && m.TotalRows > 0 {
		total := m.TotalRows
		avg := float64(m.TotalRows) / float64(m.Count)
		minRows := m.MinRows
		maxRows := m.MaxRows

		// Reset sentinel values for display
		if minRows == math.MaxInt64 {
			minRows = 0
		}

		snap.TotalRows = &total
		snap.AvgRows = &avg
		snap.MinRows = &minRows
		snap.MaxRows = &maxRows
	}

	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Decode:        snapshotOp(c.ops[OpDecode], false),
		Normalize:     snapshotOp(c.ops[OpNormalize], true),
		InsertJob:     snapshotOp(c.ops[OpInsertJob], false),
		Persist:       snapshotOp(c.ops[OpPersist], true),
	}
}
