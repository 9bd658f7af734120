// Package metrics exposes relay counters to Prometheus.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/airlock-project/airlock/internal/events"
)

// Config configures the collectors.
type Config struct {
	Namespace   string
	ConstLabels prometheus.Labels
	Registry    prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metric namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets labels added to every metric.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the registry the collectors are registered with.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Metrics holds the relay collectors.
type Metrics struct {
	connectionsActive  prometheus.Gauge
	connectionsTotal   prometheus.Counter
	handshakesRejected *prometheus.CounterVec
	gamesActive        prometheus.Gauge
	packets            *prometheus.CounterVec
	callsRejected      *prometheus.CounterVec
	cheatReports       *prometheus.CounterVec
	outboundDropped    prometheus.Counter
	resends            prometheus.Counter
	framingErrors      prometheus.Counter
}

// New registers the collectors.
func New(opts ...Option) *Metrics {
	cfg := Config{
		Namespace: "airlock",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(cfg.Registry)

	return &Metrics{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "connections_active",
			Help:        "Number of registered client sessions",
			ConstLabels: cfg.ConstLabels,
		}),
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "connections_total",
			Help:        "Total number of accepted handshakes",
			ConstLabels: cfg.ConstLabels,
		}),
		handshakesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "handshakes_rejected_total",
			Help:        "Handshakes refused, by disconnect reason",
			ConstLabels: cfg.ConstLabels,
		}, []string{"reason"}),
		gamesActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "games_active",
			Help:        "Number of open game sessions",
			ConstLabels: cfg.ConstLabels,
		}),
		packets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "packets_total",
			Help:        "Hazel packets by direction and type",
			ConstLabels: cfg.ConstLabels,
		}, []string{"direction", "type"}),
		callsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "calls_rejected_total",
			Help:        "RPCs that did not pass the gate, by call and verdict",
			ConstLabels: cfg.ConstLabels,
		}, []string{"call", "verdict"}),
		cheatReports: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "cheat_reports_total",
			Help:        "Cheat reports filed, by call",
			ConstLabels: cfg.ConstLabels,
		}, []string{"call"}),
		outboundDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "outbound_overflows_total",
			Help:        "Peers disconnected because their outbound queue was full",
			ConstLabels: cfg.ConstLabels,
		}),
		resends: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "reliable_resends_total",
			Help:        "Reliable packets sent again for lack of an ack",
			ConstLabels: cfg.ConstLabels,
		}),
		framingErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "framing_errors_total",
			Help:        "Malformed frames that cost the sender its connection",
			ConstLabels: cfg.ConstLabels,
		}),
	}
}

// Attach keeps the session gauges in step with bus events.
func (m *Metrics) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventClientConnected, "metrics", func(context.Context, events.Event) error {
		m.connectionsActive.Inc()
		m.connectionsTotal.Inc()
		return nil
	})
	bus.Subscribe(events.EventClientDisconnected, "metrics", func(context.Context, events.Event) error {
		m.connectionsActive.Dec()
		return nil
	})
	bus.Subscribe(events.EventClientRejected, "metrics", func(_ context.Context, e events.Event) error {
		reason := "unknown"
		if p, ok := e.Payload.(events.ClientRejectedPayload); ok {
			reason = p.Reason
		}
		m.handshakesRejected.WithLabelValues(reason).Inc()
		return nil
	})
	bus.Subscribe(events.EventGameCreated, "metrics", func(context.Context, events.Event) error {
		m.gamesActive.Inc()
		return nil
	})
	bus.Subscribe(events.EventGameDestroyed, "metrics", func(context.Context, events.Event) error {
		m.gamesActive.Dec()
		return nil
	})
}

// PacketIn counts a received packet.
func (m *Metrics) PacketIn(packetType string) {
	m.packets.WithLabelValues("in", packetType).Inc()
}

// PacketOut counts a sent packet.
func (m *Metrics) PacketOut(packetType string) {
	m.packets.WithLabelValues("out", packetType).Inc()
}

// CallRejected counts a gate verdict other than accept.
func (m *Metrics) CallRejected(call, verdict string) {
	m.callsRejected.WithLabelValues(call, verdict).Inc()
}

// CheatReported counts a cheat report.
func (m *Metrics) CheatReported(call string) {
	m.cheatReports.WithLabelValues(call).Inc()
}

// OutboundOverflow counts a peer dropped for a full send queue.
func (m *Metrics) OutboundOverflow() {
	m.outboundDropped.Inc()
}

// Resend counts a reliable retransmission.
func (m *Metrics) Resend() {
	m.resends.Inc()
}

// FramingError counts a malformed frame.
func (m *Metrics) FramingError() {
	m.framingErrors.Inc()
}
