// Package graph provides the core graph execution engine.
package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects Prometheus-compatible metrics for graph
// execution, namespaced "graphkit_":
//
//  1. steps_total (counter): steps completed, labeled by node_id and
//     status (success/error).
//  2. step_latency_ms (histogram): per-node execution duration.
//  3. fanout_width (histogram): number of targets dispatched concurrently
//     by a single parallel edge.
//  4. checkpoints_total (counter): checkpoints written per thread.
//  5. interruptions_total (counter): runs entering Interrupted, labeled by
//     node_id and before/after.
//  6. active_runs (gauge): runs currently in Dispatching or Merging.
type PrometheusMetrics struct {
	steps          *prometheus.CounterVec
	stepLatency    *prometheus.HistogramVec
	fanoutWidth    prometheus.Histogram
	checkpoints    *prometheus.CounterVec
	interruptions  *prometheus.CounterVec
	activeRuns     prometheus.Gauge

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics registers and returns a metrics collector against
// registry (pass nil for prometheus.DefaultRegisterer).
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		enabled: true,
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphkit",
			Name:      "steps_total",
			Help:      "Steps completed, labeled by node and outcome",
		}, []string{"node_id", "status"}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "graphkit",
			Name:      "step_latency_ms",
			Help:      "Per-node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"node_id", "status"}),
		fanoutWidth: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "graphkit",
			Name:      "fanout_width",
			Help:      "Number of targets dispatched concurrently by a parallel edge",
			Buckets:   []float64{1, 2, 3, 4, 5, 8, 13, 21},
		}),
		checkpoints: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphkit",
			Name:      "checkpoints_total",
			Help:      "Checkpoints written, labeled by thread",
		}, []string{"thread_id"}),
		interruptions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphkit",
			Name:      "interruptions_total",
			Help:      "Runs entering Interrupted, labeled by node and phase",
		}, []string{"node_id", "phase"}),
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "graphkit",
			Name:      "active_runs",
			Help:      "Runs currently between Dispatching and Merging",
		}),
	}
}

func (pm *PrometheusMetrics) isEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordStep records one node's outcome and latency.
func (pm *PrometheusMetrics) RecordStep(nodeID, status string, latency time.Duration) {
	if !pm.isEnabled() {
		return
	}
	pm.steps.WithLabelValues(nodeID, status).Inc()
	pm.stepLatency.WithLabelValues(nodeID, status).Observe(float64(latency.Milliseconds()))
}

// RecordFanout records the width of a parallel dispatch.
func (pm *PrometheusMetrics) RecordFanout(width int) {
	if !pm.isEnabled() {
		return
	}
	pm.fanoutWidth.Observe(float64(width))
}

// RecordCheckpoint records a checkpoint write for threadID.
func (pm *PrometheusMetrics) RecordCheckpoint(threadID string) {
	if !pm.isEnabled() {
		return
	}
	pm.checkpoints.WithLabelValues(threadID).Inc()
}

// RecordInterruption records a run pausing at nodeID, before or after its
// dispatch.
func (pm *PrometheusMetrics) RecordInterruption(nodeID, phase string) {
	if !pm.isEnabled() {
		return
	}
	pm.interruptions.WithLabelValues(nodeID, phase).Inc()
}

// SetActiveRuns sets the current count of in-flight runs.
func (pm *PrometheusMetrics) SetActiveRuns(n int) {
	if !pm.isEnabled() {
		return
	}
	pm.activeRuns.Set(float64(n))
}

// Disable stops metric recording (useful in tests).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes metric recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
