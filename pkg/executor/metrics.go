package executor

import (
	"sync/atomic"
	"time"

	"github.com/wehubfusion/Weaver/pkg/workflow"
)

// Metrics is a snapshot of executor counters.
type Metrics struct {
	NodesExecuted    int64 `json:"nodes_executed"`
	NodeErrors       int64 `json:"node_errors"`
	BranchesSkipped  int64 `json:"branches_skipped"`
	RunsCompleted    int64 `json:"runs_completed"`
	RunsFailed       int64 `json:"runs_failed"`
	ProcessingTimeNs int64 `json:"processing_time_ns"`
}

// MetricsCollector receives executor measurements.
type MetricsCollector interface {
	RecordNode(nodeType workflow.NodeType, duration time.Duration, err error)
	RecordSkipped()
	RecordRun(status workflow.ExecutionStatus, duration time.Duration)
	GetMetrics() Metrics
}

// DefaultMetricsCollector is a thread-safe implementation of MetricsCollector.
// One collector may be shared by every executor of a process.
type DefaultMetricsCollector struct {
	executed         atomic.Int64
	errors           atomic.Int64
	skipped          atomic.Int64
	runsCompleted    atomic.Int64
	runsFailed       atomic.Int64
	totalProcessTime atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *DefaultMetricsCollector {
	return &DefaultMetricsCollector{}
}

// RecordNode records one node execution.
func (m *DefaultMetricsCollector) RecordNode(_ workflow.NodeType, duration time.Duration, err error) {
	if err != nil {
		m.errors.Add(1)
		return
	}
	m.executed.Add(1)
	m.totalProcessTime.Add(duration.Nanoseconds())
}

// RecordSkipped records a connection not followed by conditional branching.
func (m *DefaultMetricsCollector) RecordSkipped() {
	m.skipped.Add(1)
}

// RecordRun records a finished run.
func (m *DefaultMetricsCollector) RecordRun(status workflow.ExecutionStatus, _ time.Duration) {
	if status == workflow.ExecutionStatusCompleted {
		m.runsCompleted.Add(1)
		return
	}
	m.runsFailed.Add(1)
}

// GetMetrics returns the current metrics.
func (m *DefaultMetricsCollector) GetMetrics() Metrics {
	return Metrics{
		NodesExecuted:    m.executed.Load(),
		NodeErrors:       m.errors.Load(),
		BranchesSkipped:  m.skipped.Load(),
		RunsCompleted:    m.runsCompleted.Load(),
		RunsFailed:       m.runsFailed.Load(),
		ProcessingTimeNs: m.totalProcessTime.Load(),
	}
}

// Reset resets all metrics.
func (m *DefaultMetricsCollector) Reset() {
	m.executed.Store(0)
	m.errors.Store(0)
	m.skipped.Store(0)
	m.runsCompleted.Store(0)
	m.runsFailed.Store(0)
	m.totalProcessTime.Store(0)
}

// AverageProcessingTime returns the average time of a successful node.
func (m *DefaultMetricsCollector) AverageProcessingTime() time.Duration {
	executed := m.executed.Load()
	if executed == 0 {
		return 0
	}
	return time.Duration(m.totalProcessTime.Load() / executed)
}

// ErrorRate returns the node error rate as a percentage.
func (m *DefaultMetricsCollector) ErrorRate() float64 {
	executed := m.executed.Load()
	errors := m.errors.Load()
	total := executed + errors
	if total == 0 {
		return 0
	}
	return float64(errors) / float64(total) * 100
}

var _ MetricsCollector = (*DefaultMetricsCollector)(nil)

// NoOpMetricsCollector is a metrics collector that does nothing.
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordNode(workflow.NodeType, time.Duration, error) {}
func (NoOpMetricsCollector) RecordSkipped()                                     {}
func (NoOpMetricsCollector) RecordRun(workflow.ExecutionStatus, time.Duration)  {}
func (NoOpMetricsCollector) GetMetrics() Metrics                                { return Metrics{} }

var _ MetricsCollector = NoOpMetricsCollector{}
