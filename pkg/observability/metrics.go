// Package observability holds the prometheus collector, the tracer provider
// and the HTTP middleware that feeds both.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the application. Each collector
// has its own registry so tests can create as many as they like.
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Generation metrics
	OperationsStarted  *prometheus.CounterVec
	OperationsFinished *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	OperationsActive   *prometheus.GaugeVec

	// Canvas metrics
	LayoutDuration *prometheus.HistogramVec
	LayoutNodes    *prometheus.HistogramVec
	GraphNodes     *prometheus.GaugeVec
	GraphEdges     *prometheus.GaugeVec
	HistorySteps   *prometheus.CounterVec
}

// NewCollector creates a collector with every metric under namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		OperationsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_started_total",
				Help:      "Generations started, by kind",
			},
			[]string{"kind"},
		),
		OperationsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_finished_total",
				Help:      "Generations finished, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Generation duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"kind"},
		),
		OperationsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "operations_active",
				Help:      "Generations currently streaming",
			},
			[]string{"kind"},
		),
		LayoutDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "layout_duration_seconds",
				Help:      "Layout run duration in seconds, by strategy",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"strategy"},
		),
		LayoutNodes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "layout_nodes",
				Help:      "Nodes placed per layout run",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"strategy"},
		),
		GraphNodes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "graph_nodes",
				Help:      "Nodes in each live canvas",
			},
			[]string{"graph_id"},
		),
		GraphEdges: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "graph_edges",
				Help:      "Edges in each live canvas",
			},
			[]string{"graph_id"},
		),
		HistorySteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_steps_total",
				Help:      "Undo and redo steps, by direction and whether the entry was stale",
			},
			[]string{"direction", "skipped"},
		),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.OperationsStarted,
		c.OperationsFinished,
		c.OperationDuration,
		c.OperationsActive,
		c.LayoutDuration,
		c.LayoutNodes,
		c.GraphNodes,
		c.GraphEdges,
		c.HistorySteps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// OperationStarted implements ports.Metrics.
func (c *Collector) OperationStarted(kind string) {
	c.OperationsStarted.WithLabelValues(kind).Inc()
	c.OperationsActive.WithLabelValues(kind).Inc()
}

// OperationFinished implements ports.Metrics.
func (c *Collector) OperationFinished(kind, outcome string, duration time.Duration) {
	c.OperationsFinished.WithLabelValues(kind, outcome).Inc()
	c.OperationsActive.WithLabelValues(kind).Dec()
	c.OperationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// HistoryStep implements ports.Metrics.
func (c *Collector) HistoryStep(direction string, skipped bool) {
	c.HistorySteps.WithLabelValues(direction, strconv.FormatBool(skipped)).Inc()
}

// GraphSize implements ports.Metrics.
func (c *Collector) GraphSize(graphID string, nodes, edges int) {
	c.GraphNodes.WithLabelValues(graphID).Set(float64(nodes))
	c.GraphEdges.WithLabelValues(graphID).Set(float64(edges))
}

// ForgetGraph drops the size series of a closed canvas.
func (c *Collector) ForgetGraph(graphID string) {
	c.GraphNodes.DeleteLabelValues(graphID)
	c.GraphEdges.DeleteLabelValues(graphID)
}

// ObserveLayout implements layout.Recorder.
func (c *Collector) ObserveLayout(strategy string, duration time.Duration, nodes int) {
	c.LayoutDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	c.LayoutNodes.WithLabelValues(strategy).Observe(float64(nodes))
}

// RecordHTTP counts one served request.
func (c *Collector) RecordHTTP(method, route string, status int, duration time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// GetRegistry returns the Prometheus registry for this collector
func (c *Collector) GetRegistry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
