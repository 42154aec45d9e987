package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rendis/stepwise/pkg/schema"
)

const metricsNamespace = "stepwise"

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	executionsStarted  prometheus.Counter
	executionsFinished *prometheus.CounterVec
	executionsRunning  prometheus.Gauge
	stepDuration       *prometheus.HistogramVec
	toolRetries        *prometheus.CounterVec
}

// NewMetrics creates the engine collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		executionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "executions_started_total",
			Help:      "Total number of workflow executions that entered RUNNING.",
		}),
		executionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "executions_finished_total",
			Help:      "Total number of workflow executions that reached a terminal status.",
		}, []string{"status"}),
		executionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "executions_running",
			Help:      "Number of executions currently owned by this process.",
		}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of step executions in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"step_type", "status"}),
		toolRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tool_retries_total",
			Help:      "Total number of tool invocation retries.",
		}, []string{"tool"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.executionsStarted, m.executionsFinished, m.executionsRunning, m.stepDuration, m.toolRetries,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) executionStarted() {
	if m == nil {
		return
	}
	m.executionsStarted.Inc()
	m.executionsRunning.Inc()
}

func (m *Metrics) executionFinished(status schema.ExecutionStatus) {
	if m == nil {
		return
	}
	m.executionsFinished.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) runEnded() {
	if m == nil {
		return
	}
	m.executionsRunning.Dec()
}

func (m *Metrics) stepFinished(stepType schema.StepType, status schema.StepStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(string(stepType), string(status)).Observe(d.Seconds())
}

func (m *Metrics) toolRetried(tool string) {
	if m == nil {
		return
	}
	m.toolRetries.WithLabelValues(tool).Inc()
}
