// Package metrics exposes Prometheus collectors describing audit runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "configaudit"

// Metrics groups the run collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	runs            *prometheus.CounterVec
	runDuration     prometheus.Histogram
	changes         prometheus.Counter
	notifyAttempts  prometheus.Counter
	lastSuccessTime prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Audit runs by outcome and failing stage.",
		}, []string{"outcome", "stage"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of audit runs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		changes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_total",
			Help:      "Changed configuration records detected.",
		}),
		notifyAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_attempts_total",
			Help:      "Mail delivery attempts, retries included.",
		}),
		lastSuccessTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.runDuration, m.changes, m.notifyAttempts, m.lastSuccessTime)
	}
	return m
}

// ObserveRun records the outcome of a run. stage is empty for successful runs.
func (m *Metrics) ObserveRun(stage string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	} else {
		m.lastSuccessTime.SetToCurrentTime()
	}
	m.runs.WithLabelValues(outcome, stage).Inc()
	m.runDuration.Observe(d.Seconds())
}

func (m *Metrics) AddChanges(n int) {
	if m == nil {
		return
	}
	m.changes.Add(float64(n))
}

func (m *Metrics) AddNotifyAttempts(n int) {
	if m == nil {
		return
	}
	m.notifyAttempts.Add(float64(n))
}
