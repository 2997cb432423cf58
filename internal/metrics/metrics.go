package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the daemon's Prometheus instruments on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// ReportsCollected counts snapshots produced per fact category.
	ReportsCollected *prometheus.CounterVec
	// ReportsSent counts reports acknowledged by the server.
	ReportsSent prometheus.Counter
	// ReportsDropped counts reports evicted from the full queue.
	ReportsDropped prometheus.Counter
	// CollectorFailures counts collector errors per fact category.
	CollectorFailures *prometheus.CounterVec
	// CommandsExecuted counts finished commands by outcome.
	CommandsExecuted *prometheus.CounterVec
	// ExchangeFailures counts failed server exchanges.
	ExchangeFailures prometheus.Counter
	// QueueDepth tracks the number of reports waiting for delivery.
	QueueDepth prometheus.Gauge
}

// New creates the instrument set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		ReportsCollected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "landscape_reports_collected_total",
			Help: "Snapshots produced per fact category.",
		}, []string{"category"}),
		ReportsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "landscape_reports_sent_total",
			Help: "Reports acknowledged by the server.",
		}),
		ReportsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "landscape_reports_dropped_total",
			Help: "Reports evicted from the full delivery queue.",
		}),
		CollectorFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "landscape_collector_failures_total",
			Help: "Collector errors per fact category.",
		}, []string{"category"}),
		CommandsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "landscape_commands_executed_total",
			Help: "Finished commands by outcome.",
		}, []string{"status"}),
		ExchangeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "landscape_exchange_failures_total",
			Help: "Failed message exchanges with the server.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "landscape_report_queue_depth",
			Help: "Reports waiting for delivery.",
		}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
