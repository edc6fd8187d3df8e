// Package telemetry tracks engine counters and exposes them to
// Prometheus. Counters are plain atomics so pipeline hot paths never
// touch a collector; Prometheus reads them lazily through GaugeFunc
// collectors on a dedicated registry.
package telemetry

import (
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all engine metrics.
type Metrics struct {
	// Pipeline counters
	FramesProcessed     atomic.Uint64
	FramesUnreadable    atomic.Uint64
	DetectionBatches    atomic.Uint64
	SegmentationBatches atomic.Uint64
	ProviderErrors      atomic.Uint64
	EarlyTerminations   atomic.Uint64

	// Run outcomes
	RunsStarted atomic.Uint64
	RunsFailed  atomic.Uint64

	decisionMu     sync.Mutex
	decisionCounts map[string]uint64
	decisions      *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with its Prometheus collectors
// registered on a private registry.
func New() *Metrics {
	m := &Metrics{
		decisionCounts: make(map[string]uint64),
		registry:       prometheus.NewRegistry(),
	}
	m.registerCollectors()
	return m
}

func (m *Metrics) registerCollectors() {
	gauge := func(name, help string, fn func() float64) {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help}, fn,
		))
	}

	gauge("assess_frames_processed_total", "Total frames fed through the pipeline",
		func() float64 { return float64(m.FramesProcessed.Load()) })
	gauge("assess_frames_unreadable_total", "Total frames that failed to load or decode",
		func() float64 { return float64(m.FramesUnreadable.Load()) })
	gauge("assess_detection_batches_total", "Total detection batches dispatched",
		func() float64 { return float64(m.DetectionBatches.Load()) })
	gauge("assess_segmentation_batches_total", "Total segmentation batches dispatched",
		func() float64 { return float64(m.SegmentationBatches.Load()) })
	gauge("assess_provider_errors_total", "Total batch-level provider errors absorbed",
		func() float64 { return float64(m.ProviderErrors.Load()) })
	gauge("assess_early_terminations_total", "Total runs cut short by early termination",
		func() float64 { return float64(m.EarlyTerminations.Load()) })
	gauge("assess_runs_started_total", "Total assessment runs started",
		func() float64 { return float64(m.RunsStarted.Load()) })
	gauge("assess_runs_failed_total", "Total assessment runs that ended in ERROR",
		func() float64 { return float64(m.RunsFailed.Load()) })
	gauge("assess_goroutines", "Current goroutine count",
		func() float64 { return float64(runtime.NumGoroutine()) })
	gauge("assess_heap_bytes", "Current heap allocation",
		func() float64 {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			return float64(ms.HeapAlloc)
		})

	m.decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "assess_decisions_total", Help: "Run decisions by outcome"},
		[]string{"decision"},
	)
	m.registry.MustRegister(m.decisions)
}

// RecordDecision counts one run outcome by decision label.
func (m *Metrics) RecordDecision(decision string) {
	m.decisionMu.Lock()
	m.decisionCounts[decision]++
	m.decisionMu.Unlock()
	m.decisions.WithLabelValues(decision).Inc()
}

// DecisionCount returns the count recorded for a decision label.
func (m *Metrics) DecisionCount(decision string) uint64 {
	m.decisionMu.Lock()
	defer m.decisionMu.Unlock()
	return m.decisionCounts[decision]
}

// DecisionCounts returns a copy of all recorded decision counts.
func (m *Metrics) DecisionCounts() map[string]uint64 {
	m.decisionMu.Lock()
	defer m.decisionMu.Unlock()
	out := make(map[string]uint64, len(m.decisionCounts))
	for k, v := range m.decisionCounts {
		out[k] = v
	}
	return out
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
