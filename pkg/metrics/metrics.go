package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrorsTotal counts surfaced errors by zoomerr.Class.
	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoom_errors_total",
			Help: "Total number of errors surfaced by the object store, by error class",
		},
		[]string{"class"},
	)

	// BackendLatency records how long each backend event type takes.
	BackendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zoom_backend_latency_seconds",
			Help:    "Backend call latency in seconds, by event type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event"},
	)

	// ObservableRecoveriesTotal counts how often a stream recovered from a
	// transient backend watch failure, by scope (object or class).
	ObservableRecoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoom_observable_recoveries_total",
			Help: "Total number of observable stream recoveries from a transient backend error, by scope",
		},
		[]string{"scope"},
	)

	// TxAttemptsTotal counts every transaction commit attempt, successful
	// or not.
	TxAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zoom_tx_attempts_total",
			Help: "Total number of transaction commit attempts",
		},
	)

	// TxRetriesTotal counts attempts retried after a concurrent
	// modification was detected.
	TxRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zoom_tx_retries_total",
			Help: "Total number of transaction attempts retried after a concurrent modification",
		},
	)

	// BackendHealthy reports whether the last backend health probe
	// succeeded (1) or not (0).
	BackendHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zoom_backend_healthy",
			Help: "Whether the last backend health probe succeeded",
		},
	)
)

func init() {
	prometheus.MustRegister(ErrorsTotal)
	prometheus.MustRegister(BackendLatency)
	prometheus.MustRegister(ObservableRecoveriesTotal)
	prometheus.MustRegister(TxAttemptsTotal)
	prometheus.MustRegister(TxRetriesTotal)
	prometheus.MustRegister(BackendHealthy)
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
