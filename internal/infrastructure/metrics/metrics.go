// Package metrics exposes gateway state as Prometheus collectors.
//
// Collectors live on a private registry so tests and multiple gateways in
// one process never collide on the global default registry.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SaiMyBB/Matter-Gateway/internal/device"
)

const namespace = "matter_gateway"

// Write results used as the "result" label.
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
)

// Metrics holds the gateway collectors.
type Metrics struct {
	registry *prometheus.Registry

	deviceAttribute    *prometheus.GaugeVec
	writes             *prometheus.CounterVec
	upstreamReconnects prometheus.Counter
	upstreamConnected  prometheus.Gauge
	websocketClients   prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		deviceAttribute: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "device_attribute",
				Help:      "Current numeric value of a device attribute (booleans as 0/1)",
			},
			[]string{"device", "attribute"},
		),
		writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "writes_total",
				Help:      "Device attribute writes by source and result",
			},
			[]string{"source", "result"},
		),
		upstreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_reconnects_total",
			Help:      "Reconnect attempts of the controller event stream",
		}),
		upstreamConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_connected",
			Help:      "1 while the controller event stream is established",
		}),
		websocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected WebSocket subscribers",
		}),
	}

	m.registry.MustRegister(
		m.deviceAttribute,
		m.writes,
		m.upstreamReconnects,
		m.upstreamConnected,
		m.websocketClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Publish implements device.Publisher by tracking the full state of the
// written device, so derived attributes (a dimmer's power) stay current.
func (m *Metrics) Publish(_ context.Context, ev device.Event) {
	if ev.State == nil {
		m.setAttribute(ev.Dev, ev.Attr, ev.Val)
		return
	}
	for attr, v := range ev.State {
		m.setAttribute(ev.Dev, attr, v)
	}
}

// Seed sets the gauges from a registry snapshot.
func (m *Metrics) Seed(states map[string]device.State) {
	for name, state := range states {
		for attr, v := range state {
			m.setAttribute(name, attr, v)
		}
	}
}

func (m *Metrics) setAttribute(dev, attr string, v any) {
	f, ok := gaugeValue(v)
	if !ok {
		return
	}
	m.deviceAttribute.WithLabelValues(dev, attr).Set(f)
}

// ObserveWrite implements device.WriteObserver.
func (m *Metrics) ObserveWrite(source device.Source, accepted bool) {
	result := ResultRejected
	if accepted {
		result = ResultAccepted
	}
	m.writes.WithLabelValues(string(source), result).Inc()
}

// UpstreamReconnect counts one stream reconnect attempt.
func (m *Metrics) UpstreamReconnect() {
	m.upstreamReconnects.Inc()
}

// SetUpstreamConnected records whether the stream is established.
func (m *Metrics) SetUpstreamConnected(connected bool) {
	if connected {
		m.upstreamConnected.Set(1)
	} else {
		m.upstreamConnected.Set(0)
	}
}

// SetWebSocketClients records the subscriber count.
func (m *Metrics) SetWebSocketClients(n int) {
	m.websocketClients.Set(float64(n))
}

// gaugeValue maps numeric and boolean values; strings have no gauge form.
func gaugeValue(v any) (float64, bool) {
	switch n := v.(type) {
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
