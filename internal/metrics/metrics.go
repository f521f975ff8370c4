package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mixer"

// Bus transaction outcomes used as the "result" label.
const (
	ResultOK           = "ok"
	ResultTimeout      = "timeout"
	ResultError        = "error"
	ResultSyntax       = "syntax"
	ResultPending      = "pending"
	ResultNoData       = "no_data"
	ResultUnknown      = "unknown"
	ResultDisconnected = "disconnected"
)

// Metrics groups every collector the engine updates. A nil *Metrics is valid
// and turns every update into a no-op, which keeps unit tests free of
// registry plumbing.
type Metrics struct {
	registry *prometheus.Registry

	BusTransactions *prometheus.CounterVec
	BusLatency      prometheus.Histogram
	BusRetries      prometheus.Counter
	FlowPulses      *prometheus.CounterVec
	FlowDebounced   *prometheus.CounterVec
	Commands        *prometheus.CounterVec
	JobsStarted     *prometheus.CounterVec
	JobsFinished    *prometheus.CounterVec
}

// New builds and registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BusTransactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "transactions_total",
			Help:      "Bus transactions by result.",
		}, []string{"result"}),
		BusLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "transaction_seconds",
			Help:      "Wall time of bus transactions as seen by the caller.",
			Buckets:   []float64{0.05, 0.1, 0.3, 0.6, 0.9, 1.5, 3, 5},
		}),
		BusRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "retries_total",
			Help:      "Transaction retries issued by device controllers.",
		}),
		FlowPulses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "pulses_total",
			Help:      "Accepted flow meter pulses.",
		}, []string{"meter"}),
		FlowDebounced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "debounced_edges_total",
			Help:      "Edges discarded by the debounce window.",
		}, []string{"meter"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "commands_total",
			Help:      "Wire commands by outcome.",
		}, []string{"outcome"}),
		JobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "started_total",
			Help:      "Accepted job submissions.",
		}, []string{"type"}),
		JobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Jobs reaching a terminal status.",
		}, []string{"type", "status"}),
	}
	m.registry.MustRegister(
		m.BusTransactions,
		m.BusLatency,
		m.BusRetries,
		m.FlowPulses,
		m.FlowDebounced,
		m.Commands,
		m.JobsStarted,
		m.JobsFinished,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveBus(result string, seconds float64) {
	if m == nil {
		return
	}
	m.BusTransactions.WithLabelValues(result).Inc()
	m.BusLatency.Observe(seconds)
}

func (m *Metrics) IncBusRetry() {
	if m == nil {
		return
	}
	m.BusRetries.Inc()
}

func (m *Metrics) IncPulse(meter string) {
	if m == nil {
		return
	}
	m.FlowPulses.WithLabelValues(meter).Inc()
}

func (m *Metrics) IncDebounced(meter string) {
	if m == nil {
		return
	}
	m.FlowDebounced.WithLabelValues(meter).Inc()
}

func (m *Metrics) IncCommand(outcome string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncJobStarted(jobType string) {
	if m == nil {
		return
	}
	m.JobsStarted.WithLabelValues(jobType).Inc()
}

func (m *Metrics) IncJobFinished(jobType, status string) {
	if m == nil {
		return
	}
	m.JobsFinished.WithLabelValues(jobType, status).Inc()
}
