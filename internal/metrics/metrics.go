package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LoopMetrics records scheduler activity per loop.
type LoopMetrics struct {
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
	skipped  *prometheus.CounterVec
}

// NewLoopMetrics registers the loop metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewLoopMetrics(reg prometheus.Registerer) *LoopMetrics {
	if reg == nil {
		return &LoopMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loop_duration_seconds",
		Help:    "Duration of loop runs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"loop"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loop_runs_total",
		Help: "Loop runs by outcome.",
	}, []string{"loop", "outcome"})
	skipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loop_skipped_total",
		Help: "Ticks skipped because the previous run was still in progress.",
	}, []string{"loop"})
	reg.MustRegister(duration, runs, skipped)
	return &LoopMetrics{
		duration: duration,
		runs:     runs,
		skipped:  skipped,
	}
}

// ObserveDuration records how long one run of the loop took.
func (m *LoopMetrics) ObserveDuration(loop string, d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(loop)).Observe(d.Seconds())
}

// IncRun counts a finished run with outcome "success" or "failure".
func (m *LoopMetrics) IncRun(loop, outcome string) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(normalizeLabel(loop), normalizeLabel(outcome)).Inc()
}

// IncSkipped counts a tick dropped while a run was in progress.
func (m *LoopMetrics) IncSkipped(loop string) {
	if m == nil || m.skipped == nil {
		return
	}
	m.skipped.WithLabelValues(normalizeLabel(loop)).Inc()
}

// ReconcileMetrics records per-instance reconciliation effects.
type ReconcileMetrics struct {
	actions *prometheus.CounterVec
	fetched *prometheus.GaugeVec
}

// NewReconcileMetrics registers the reconciliation metrics on the provided registerer.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	actions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_actions_total",
		Help: "Side effects executed by the reconciler.",
	}, []string{"instance", "action", "outcome"})
	fetched := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reconcile_snapshot_size",
		Help: "Number of entities in the latest source snapshot.",
	}, []string{"instance"})
	reg.MustRegister(actions, fetched)
	return &ReconcileMetrics{
		actions: actions,
		fetched: fetched,
	}
}

// IncAction counts one executed action.
func (m *ReconcileMetrics) IncAction(instance, action, outcome string) {
	if m == nil || m.actions == nil {
		return
	}
	m.actions.WithLabelValues(normalizeLabel(instance), normalizeLabel(action), normalizeLabel(outcome)).Inc()
}

// SetFetched records the size of the latest snapshot.
func (m *ReconcileMetrics) SetFetched(instance string, n int) {
	if m == nil || m.fetched == nil {
		return
	}
	m.fetched.WithLabelValues(normalizeLabel(instance)).Set(float64(n))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
