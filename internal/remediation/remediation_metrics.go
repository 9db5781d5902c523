package remediation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Hooks are optional callbacks fired by the Orchestrator. Nil funcs are skipped.
type Hooks struct {
	// OnStart fires when a run passes its eligibility checks.
	OnStart func(agent Agent)
	// OnRun fires when an agent run finishes; outcome is "success" or "failure".
	OnRun func(agent Agent, outcome string, callDuration time.Duration)
	// OnReject fires when a run is refused before it starts.
	OnReject func(agent Agent, reason string)
}

func (h Hooks) start(a Agent) {
	if h.OnStart != nil {
		h.OnStart(a)
	}
}

func (h Hooks) run(a Agent, outcome string, d time.Duration) {
	if h.OnRun != nil {
		h.OnRun(a, outcome, d)
	}
}

func (h Hooks) reject(a Agent, reason string) {
	if h.OnReject != nil {
		h.OnReject(a, reason)
	}
}

// Metrics holds Prometheus metrics for remediation agent runs.
type Metrics struct {
	RunsTotal    *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec
	Rejections   *prometheus.CounterVec
	InFlight     prometheus.Gauge
}

// NewMetrics registers and returns remediation metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remedy_agent_runs_total",
			Help: "Completed remediation agent runs by agent and outcome.",
		}, []string{"agent", "outcome"}),
		CallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "remedy_agent_call_duration_seconds",
			Help:    "Duration of remediation agent service calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}, []string{"agent"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remedy_agent_rejections_total",
			Help: "Agent runs refused before starting, by reason.",
		}, []string{"agent", "reason"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "remedy_agent_runs_in_flight",
			Help: "Agent runs currently in their progress or execution phase.",
		}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.CallDuration,
		m.Rejections,
		m.InFlight,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnStart: func(Agent) {
			m.InFlight.Inc()
		},
		OnRun: func(a Agent, outcome string, d time.Duration) {
			m.InFlight.Dec()
			m.RunsTotal.WithLabelValues(string(a), outcome).Inc()
			m.CallDuration.WithLabelValues(string(a)).Observe(d.Seconds())
		},
		OnReject: func(a Agent, reason string) {
			m.Rejections.WithLabelValues(string(a), reason).Inc()
		},
	}
}
