// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector for reactor, message queue, playerbase and
// connection monitoring.

package control

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the collectors.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "pcxd").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the collectors.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// Metrics holds every collector exported by the server.
type Metrics struct {
	iterations   prometheus.Counter
	pollErrors   prometheus.Counter
	dispatched   *prometheus.CounterVec
	sources      *prometheus.GaugeVec
	queueDepth   prometheus.Gauge
	messagesSent prometheus.Counter
	sendFailures prometheus.Counter
	players      prometheus.Gauge
	evictions    prometheus.Counter
	connections  prometheus.Gauge
	connClosed   *prometheus.CounterVec
}

// NewMetrics registers the collectors on the configured registry.
func NewMetrics(opts ...MetricsOption) *Metrics {
	cfg := MetricsConfig{
		Namespace: "pcxd",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, o := range opts {
		o(&cfg)
	}
	factory := promauto.With(cfg.Registry)

	return &Metrics{
		iterations: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "reactor",
			Name:        "iterations_total",
			Help:        "Number of main loop iterations",
			ConstLabels: cfg.ConstLabels,
		}),
		pollErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "reactor",
			Name:        "poll_errors_total",
			Help:        "Readiness wait failures other than interruption",
			ConstLabels: cfg.ConstLabels,
		}),
		dispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "reactor",
			Name:        "dispatched_total",
			Help:        "Callbacks dispatched by source kind",
			ConstLabels: cfg.ConstLabels,
		}, []string{"kind"}),
		sources: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "reactor",
			Name:        "sources",
			Help:        "Registered sources by kind",
			ConstLabels: cfg.ConstLabels,
		}, []string{"kind"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "msgqueue",
			Name:        "pending",
			Help:        "Payloads waiting in the outbound message queue",
			ConstLabels: cfg.ConstLabels,
		}),
		messagesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "msgqueue",
			Name:        "sent_total",
			Help:        "Payloads handed to the sender",
			ConstLabels: cfg.ConstLabels,
		}),
		sendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "msgqueue",
			Name:        "send_failures_total",
			Help:        "Payloads the sender reported as failed",
			ConstLabels: cfg.ConstLabels,
		}),
		players: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "playerbase",
			Name:        "players",
			Help:        "Players currently in the playerbase",
			ConstLabels: cfg.ConstLabels,
		}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "playerbase",
			Name:        "evictions_total",
			Help:        "Players removed by the garbage collector",
			ConstLabels: cfg.ConstLabels,
		}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "transport",
			Name:        "connections",
			Help:        "Open client connections",
			ConstLabels: cfg.ConstLabels,
		}),
		connClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "transport",
			Name:        "closed_total",
			Help:        "Connections that entered the error state, by reason",
			ConstLabels: cfg.ConstLabels,
		}, []string{"reason"}),
	}
}

// ObserveIteration counts one main loop iteration.
func (m *Metrics) ObserveIteration() {
	if m == nil {
		return
	}
	m.iterations.Inc()
}

// ObservePollError counts a failed readiness wait.
func (m *Metrics) ObservePollError() {
	if m == nil {
		return
	}
	m.pollErrors.Inc()
}

// ObserveDispatch counts a callback of the given source kind.
func (m *Metrics) ObserveDispatch(kind string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(kind).Inc()
}

// SetSources records the number of live sources of a kind.
func (m *Metrics) SetSources(kind string, n int) {
	if m == nil {
		return
	}
	m.sources.WithLabelValues(kind).Set(float64(n))
}

// SetQueueDepth records the number of queued outbound payloads.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// ObserveSend records the outcome of one send.
func (m *Metrics) ObserveSend(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.sendFailures.Inc()
		return
	}
	m.messagesSent.Inc()
}

// SetPlayers records the playerbase size.
func (m *Metrics) SetPlayers(n int) {
	if m == nil {
		return
	}
	m.players.Set(float64(n))
}

// ObserveEviction counts a garbage-collected player.
func (m *Metrics) ObserveEviction() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

// ConnectionOpened increments the open connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// ConnectionClosed decrements the open connection gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// ObserveConnectionError counts a connection entering the error state.
func (m *Metrics) ObserveConnectionError(reason string) {
	if m == nil {
		return
	}
	m.connClosed.WithLabelValues(reason).Inc()
}
