// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sync"
	"time"
)

// StageMetrics holds aggregated metrics for a single pipeline stage.
type StageMetrics struct {
	Jobs      int64
	Failures  int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// StageSnapshot provides computed stats from raw metrics.
type StageSnapshot struct {
	Jobs        int64
	Failures    int64
	TotalTimeMs int64
	AvgTimeMs   float64
	MinTimeMs   int64
	MaxTimeMs   int64
}

// Snapshot represents full pipeline statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64
	Connector     *StageSnapshot
	Convert       *StageSnapshot
	Split         *StageSnapshot
	Embed         *StageSnapshot
}

// Stage names for the collector.
const (
	StageConnector = "connector"
	StageConvert   = "convert"
	StageSplit     = "split"
	StageEmbed     = "embed"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	stages    map[string]*StageMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		stages:    make(map[string]*StageMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for a stage.
// Caller must hold write lock.
func (c *Collector) getOrCreate(stage string) *StageMetrics {
	m, ok := c.stages[stage]
	if !ok {
		m = &StageMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.stages[stage] = m
	}
	return m
}

// RecordJob records one job execution for a stage.
func (c *Collector) RecordJob(stage string, duration time.Duration, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(stage)
	m.Jobs++
	if failed {
		m.Failures++
	}
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// snapshotStage creates a snapshot for a stage, returning nil if no data.
func snapshotStage(m *StageMetrics) *StageSnapshot {
	if m == nil || m.Jobs == 0 {
		return nil
	}
	return &StageSnapshot{
		Jobs:        m.Jobs,
		Failures:    m.Failures,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Jobs),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Connector:     snapshotStage(c.stages[StageConnector]),
		Convert:       snapshotStage(c.stages[StageConvert]),
		Split:         snapshotStage(c.stages[StageSplit]),
		Embed:         snapshotStage(c.stages[StageEmbed]),
	}
}
