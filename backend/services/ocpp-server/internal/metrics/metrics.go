package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ocppgate/backend/services/ocpp-server/internal/events"
)

const namespace = "ocpp"

// Metrics holds the collectors fed from the event bus.
type Metrics struct {
	registry *prometheus.Registry

	connections  *prometheus.CounterVec
	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	forwarded    *prometheus.CounterVec
}

// New registers the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_events_total",
			Help:      "Station connection lifecycle events.",
		}, []string{"event"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_calls_total",
			Help:      "Outbound CALLs by action and result.",
		}, []string{"action", "result"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbound_call_duration_seconds",
			Help:      "Time from sending a CALL to its terminal outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forwarded_messages_total",
			Help:      "Messages passed through a forwarding pipeline, by action and decision.",
		}, []string{"action", "result"}),
	}
	reg.MustRegister(
		m.connections,
		m.calls,
		m.callDuration,
		m.forwarded,
		collectors.NewGoCollector(),
	)
	return m
}

// Gauge exposes a value sampled at scrape time, such as the registry size.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Attach subscribes the collectors to every bus event.
func (m *Metrics) Attach(bus *events.Bus) func() {
	return bus.SubscribeAll(m.Observe)
}

// Observe updates collectors for one event.
func (m *Metrics) Observe(ev events.Event) {
	switch ev.Type {
	case events.ConnectionRegistered, events.ConnectionReplaced, events.ConnectionUnregistered:
		m.connections.WithLabelValues(string(ev.Type)).Inc()
	case events.CallCompleted:
		m.calls.WithLabelValues(ev.Action, "completed").Inc()
		m.callDuration.WithLabelValues(ev.Action).Observe(ev.Duration.Seconds())
	case events.CallFailed:
		result := ev.Result
		if result == "" {
			result = "failed"
		}
		m.calls.WithLabelValues(ev.Action, result).Inc()
		m.callDuration.WithLabelValues(ev.Action).Observe(ev.Duration.Seconds())
	case events.ForwardSent, events.ForwardFiltered:
		m.forwarded.WithLabelValues(ev.Action, ev.Result).Inc()
	}
}

// Handler serves the registry in the text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
