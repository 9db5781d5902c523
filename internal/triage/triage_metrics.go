package triage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Call outcomes reported through Hooks.OnCall.
const (
	OutcomeSuccess      = "success"
	OutcomeServiceError = "service_error"
	OutcomeFailure      = "failure"
	OutcomeCached       = "cached"
)

// Hooks are optional callbacks fired by the Client and Runner. Nil funcs are skipped.
type Hooks struct {
	OnCall  func(outcome string, duration time.Duration)
	OnBatch func(total, failed int, duration time.Duration)
}

func (h Hooks) call(outcome string, d time.Duration) {
	if h.OnCall != nil {
		h.OnCall(outcome, d)
	}
}

func (h Hooks) batch(total, failed int, d time.Duration) {
	if h.OnBatch != nil {
		h.OnBatch(total, failed, d)
	}
}

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	CallsTotal     *prometheus.CounterVec
	CallDuration   prometheus.Histogram
	BatchRuns      prometheus.Counter
	BatchDuration  prometheus.Histogram
	BatchIncidents *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remedy_triage_calls_total",
			Help: "Triage requests by outcome. Cached toggles are counted without a network call.",
		}, []string{"outcome"}),
		CallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "remedy_triage_call_duration_seconds",
			Help:    "Duration of triage service calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}),
		BatchRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "remedy_batch_runs_total",
			Help: "Total completed batch triage runs.",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "remedy_batch_duration_seconds",
			Help:    "Wall time of batch triage runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~512s
		}),
		BatchIncidents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remedy_batch_incidents_total",
			Help: "Incidents processed by batch runs, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.CallsTotal,
		m.CallDuration,
		m.BatchRuns,
		m.BatchDuration,
		m.BatchIncidents,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnCall: func(outcome string, d time.Duration) {
			m.CallsTotal.WithLabelValues(outcome).Inc()
			if outcome != OutcomeCached {
				m.CallDuration.Observe(d.Seconds())
			}
		},
		OnBatch: func(total, failed int, d time.Duration) {
			m.BatchRuns.Inc()
			m.BatchDuration.Observe(d.Seconds())
			m.BatchIncidents.WithLabelValues("ok").Add(float64(total - failed))
			m.BatchIncidents.WithLabelValues("failed").Add(float64(failed))
		},
	}
}
