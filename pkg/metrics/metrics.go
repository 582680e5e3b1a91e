package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wamq/pkg/bus"
)

const namespace = "wamq"

// stateValues maps handle state names onto the wamq_service_state gauge.
var stateValues = map[string]float64{
	"uninitialized": 0,
	"wired":         1,
	"started":       2,
	"running":       3,
	"stopped":       4,
}

// Metrics holds the bridge collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	messages *prometheus.CounterVec
	failures *prometheus.CounterVec
	liveness *prometheus.CounterVec
	state    *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages bridged, by direction.",
		}, []string{"direction"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Messages that could not be delivered, by direction.",
		}, []string{"direction"}),
		liveness: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liveness_failures_total",
			Help:      "Failed liveness checks, by service.",
		}, []string{"service"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_state",
			Help:      "Service handle state (0 uninitialized, 1 wired, 2 started, 3 running, 4 stopped).",
		}, []string{"service"}),
	}

	m.registry.MustRegister(m.messages, m.failures, m.liveness, m.state)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry for tests and embedding.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Observe updates collectors from one bridge event.
func (m *Metrics) Observe(event bus.Event) {
	switch event.Type {
	case bus.EventMessageBridged:
		m.messages.WithLabelValues(string(event.Direction)).Inc()
	case bus.EventDeliveryFailed:
		m.failures.WithLabelValues(string(event.Direction)).Inc()
	case bus.EventLivenessFailed:
		m.liveness.WithLabelValues(event.Service).Inc()
	case bus.EventStateChanged:
		if value, ok := stateValues[event.State]; ok {
			m.state.WithLabelValues(event.Service).Set(value)
		}
	}
}

// Consume observes events until the channel closes or ctx ends.
func (m *Metrics) Consume(ctx context.Context, events <-chan bus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			m.Observe(event)
		}
	}
}
