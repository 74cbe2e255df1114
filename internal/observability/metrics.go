package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sensor_monitor"

// Metrics holds the Prometheus counters, histograms, and gauges for the monitor.
type Metrics struct {
	Polls           *prometheus.CounterVec // labels: outcome={success,error,skipped,backoff}
	FetchDuration   prometheus.Histogram
	NodesReported   prometheus.Gauge
	NodesEvicted    prometheus.Counter
	PipelineRunning prometheus.Gauge
	LoopState       prometheus.Gauge // 0 idle, 1 fetching, 2 applying

	// Data quality.
	MissingMetrics *prometheus.CounterVec // labels: metric
	InvalidFields  *prometheus.CounterVec // labels: field

	// Hazards and alerting.
	HazardSignals    *prometheus.CounterVec // labels: hazard
	AlertsEmitted    *prometheus.CounterVec // labels: hazard, severity
	AlertsSuppressed *prometheus.CounterVec // labels: hazard
	SinkErrors       *prometheus.CounterVec // labels: sink
	AlertsDropped    *prometheus.CounterVec // labels: sink

	WebSocketClients prometheus.Gauge
}

// NewMetrics creates and registers all monitor metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Poll cycles by outcome.",
		}, []string{"outcome"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of a sensor gateway fetch including retries.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 1.5, 2.5, 5},
		}),
		NodesReported: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes_reported",
			Help:      "Nodes present in the latest successful fetch.",
		}),
		NodesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_evicted_total",
			Help:      "Nodes whose history was dropped after going unreported.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the ingestion loop is active, 0 when shut down.",
		}),
		LoopState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loop_state",
			Help:      "Ingestion loop state: 0 idle, 1 fetching, 2 applying.",
		}),
		MissingMetrics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_metrics_total",
			Help:      "Node readings without a usable value, by metric.",
		}, []string{"metric"}),
		InvalidFields: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_fields_total",
			Help:      "Payload fields present but not numeric, by field name.",
		}, []string{"field"}),
		HazardSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hazard_signals_total",
			Help:      "Hazard conditions detected before throttling.",
		}, []string{"hazard"}),
		AlertsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_emitted_total",
			Help:      "Alerts that passed the cooldown gate.",
		}, []string{"hazard", "severity"}),
		AlertsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Hazard signals dropped by the cooldown gate.",
		}, []string{"hazard"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Alert delivery failures by sink.",
		}, []string{"sink"}),
		AlertsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_dropped_total",
			Help:      "Alerts discarded because a sink's delivery queue was full.",
		}, []string{"sink"}),
		WebSocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected alert stream clients.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Polls,
		m.FetchDuration,
		m.NodesReported,
		m.NodesEvicted,
		m.PipelineRunning,
		m.LoopState,
		m.MissingMetrics,
		m.InvalidFields,
		m.HazardSignals,
		m.AlertsEmitted,
		m.AlertsSuppressed,
		m.SinkErrors,
		m.AlertsDropped,
		m.WebSocketClients,
	}
}
