package stepauth

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID uint16

const (
	MetricProvision MetricID = iota
	MetricActivationSuccess
	MetricActivationFailure
	MetricDisable
	MetricCodeAccepted
	MetricCodeRejected
	MetricBackupCodeUsed
	MetricReplayRejected
	MetricStepUpIssued
	MetricStepUpSuccess
	MetricStepUpFailure
	MetricAttemptsLimited
	MetricStorageFailure

	metricCount
)

// Metrics is a fixed set of lock-free counters. All methods are safe for
// concurrent use; a nil or disabled Metrics is a no-op.
type Metrics struct {
	enabled  bool
	counters [metricCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	return &Metrics{enabled: true}
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricCount {
		return
	}
	m.counters[id].Add(1)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Counters: make(map[MetricID]uint64, metricCount)}
	if m == nil || !m.enabled {
		return snap
	}
	for id := MetricID(0); id < metricCount; id++ {
		snap.Counters[id] = m.counters[id].Load()
	}
	return snap
}
