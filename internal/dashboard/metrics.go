package dashboard

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/feedforward/internal/actions"
	"github.com/linnemanlabs/feedforward/internal/classifier"
)

// Metrics holds Prometheus metrics for the dashboard subsystem.
type Metrics struct {
	SubmissionsTotal   *prometheus.CounterVec
	BatchSize          prometheus.Histogram
	FailedRows         prometheus.Counter
	DroppedRows        prometheus.Counter
	SupersededCommits  prometheus.Counter
	SupersededCycles   prometheus.Counter
	SideEffectFailures *prometheus.CounterVec
	ClassifyCallsTotal *prometheus.CounterVec
	ClassifyDuration   prometheus.Histogram
	ClassifyInFlight   prometheus.Gauge
	ActionsTotal       *prometheus.CounterVec
	ActionDuration     *prometheus.HistogramVec
}

// NewMetrics registers and returns dashboard metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedforward_submissions_total",
			Help: "Total submissions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedforward_batch_size",
			Help:    "Records classified per committed batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1 .. 2048
		}),
		FailedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedforward_failed_rows_total",
			Help: "Rows recorded with the Error sentinel.",
		}),
		DroppedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedforward_dropped_rows_total",
			Help: "CSV rows dropped for empty feedback text.",
		}),
		SupersededCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedforward_superseded_commits_total",
			Help: "Result commits rejected because a newer submission started.",
		}),
		SupersededCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedforward_superseded_cycles_total",
			Help: "Stage cycles abandoned before completing.",
		}),
		SideEffectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedforward_side_effect_failures_total",
			Help: "Archive and notification failures after a commit.",
		}, []string{"target"}),
		ClassifyCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedforward_classify_calls_total",
			Help: "Classification calls by outcome.",
		}, []string{"outcome"}),
		ClassifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedforward_classify_duration_seconds",
			Help:    "Duration of individual classification calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25.6s
		}),
		ClassifyInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedforward_classify_in_flight",
			Help: "Classification requests currently outstanding.",
		}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedforward_actions_total",
			Help: "Action executions by name and outcome.",
		}, []string{"action", "outcome"}),
		ActionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feedforward_action_duration_seconds",
			Help:    "Duration of action executions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8), // 0.1s .. ~12.8s
		}, []string{"action"}),
	}

	reg.MustRegister(
		m.SubmissionsTotal,
		m.BatchSize,
		m.FailedRows,
		m.DroppedRows,
		m.SupersededCommits,
		m.SupersededCycles,
		m.SideEffectFailures,
		m.ClassifyCallsTotal,
		m.ClassifyDuration,
		m.ClassifyInFlight,
		m.ActionsTotal,
		m.ActionDuration,
	)

	return m
}

// ClassifierHooks returns hooks that feed the classification metrics.
func (m *Metrics) ClassifierHooks() classifier.Hooks {
	return classifier.Hooks{
		OnCall: func(outcome string, duration float64) {
			m.ClassifyCallsTotal.WithLabelValues(outcome).Inc()
			m.ClassifyDuration.Observe(duration)
		},
		OnInFlight: func(delta int) {
			m.ClassifyInFlight.Add(float64(delta))
		},
	}
}

// ActionHooks returns hooks that feed the action metrics.
func (m *Metrics) ActionHooks() actions.Hooks {
	return actions.Hooks{
		OnExecute: func(name, outcome string, duration float64) {
			m.ActionsTotal.WithLabelValues(name, outcome).Inc()
			m.ActionDuration.WithLabelValues(name).Observe(duration)
		},
	}
}

// OnSupersededCycle is passed to the stage sequencer.
func (m *Metrics) OnSupersededCycle() {
	m.SupersededCycles.Inc()
}

func (m *Metrics) submission(kind, outcome string) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) committed(size, failed, dropped int) {
	if m == nil {
		return
	}
	m.BatchSize.Observe(float64(size))
	m.FailedRows.Add(float64(failed))
	m.DroppedRows.Add(float64(dropped))
}

func (m *Metrics) superseded() {
	if m == nil {
		return
	}
	m.SupersededCommits.Inc()
}

func (m *Metrics) sideEffectFailed(target string) {
	if m == nil {
		return
	}
	m.SideEffectFailures.WithLabelValues(target).Inc()
}
