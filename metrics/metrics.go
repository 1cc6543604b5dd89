// Package metrics contains the Prometheus instruments reported by a
// capability provider.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/capatazlib/go-portwatch/port"
)

const namespace = "portwatch"

// Metrics groups the collectors updated by a provider. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	EventsEmitted *prometheus.CounterVec
	Ports         *prometheus.GaugeVec
	Listeners     *prometheus.GaugeVec
}

// New builds the provider collectors and registers them on the given
// registerer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		EventsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_emitted_total",
				Help:      "Number of connect/disconnect events emitted by the provider.",
			},
			[]string{"kind"},
		),
		Ports: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ports",
				Help:      "Number of ports known to the provider, by connectivity state.",
			},
			[]string{"state"},
		),
		Listeners: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "listeners",
				Help:      "Number of subscribed event listeners, by kind.",
			},
			[]string{"kind"},
		),
	}
	for _, col := range []prometheus.Collector{m.EventsEmitted, m.Ports, m.Listeners} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func stateLabel(connected bool) string {
	if connected {
		return "connected"
	}
	return "disconnected"
}

// EventEmitted records an event of the given kind
func (m *Metrics) EventEmitted(kind port.Kind) {
	if m == nil {
		return
	}
	m.EventsEmitted.WithLabelValues(string(kind)).Inc()
}

// PortAdded records a new port in the given state
func (m *Metrics) PortAdded(connected bool) {
	if m == nil {
		return
	}
	m.Ports.WithLabelValues(stateLabel(connected)).Inc()
}

// PortChanged moves a port from one state gauge to the other
func (m *Metrics) PortChanged(connected bool) {
	if m == nil {
		return
	}
	m.Ports.WithLabelValues(stateLabel(connected)).Inc()
	m.Ports.WithLabelValues(stateLabel(!connected)).Dec()
}

// ListenerAdded records a subscription to the given kind
func (m *Metrics) ListenerAdded(kind port.Kind) {
	if m == nil {
		return
	}
	m.Listeners.WithLabelValues(string(kind)).Inc()
}

// ListenerRemoved records an unsubscription from the given kind
func (m *Metrics) ListenerRemoved(kind port.Kind) {
	if m == nil {
		return
	}
	m.Listeners.WithLabelValues(string(kind)).Dec()
}
