// Package metrics exposes the core's prometheus instrumentation. All
// helpers are nil-safe so components can run uninstrumented in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors for the realtime core.
type Metrics struct {
	EventsDelivered    *prometheus.CounterVec
	EnrichmentFailures prometheus.Counter
	Reconnects         prometheus.Counter
	GovernorBlocked    *prometheus.CounterVec
	ConnectionState    prometheus.Gauge
}

// New registers the core's collectors with reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "unihub_feed_events_delivered_total",
			Help: "Change-feed events delivered to subscribers, by change type.",
		}, []string{"type"}),
		EnrichmentFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "unihub_feed_enrichment_failures_total",
			Help: "Enrichment lookups that fell back to placeholder author fields.",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "unihub_feed_reconnects_total",
			Help: "Realtime connection attempts after the initial connect.",
		}),
		GovernorBlocked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "unihub_governor_blocked_total",
			Help: "Backing-store calls blocked locally, by governor layer.",
		}, []string{"layer"}),
		ConnectionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "unihub_feed_connection_state",
			Help: "Realtime connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed).",
		}),
	}
}

// Delivered counts one delivered change event.
func (m *Metrics) Delivered(changeType string) {
	if m == nil {
		return
	}
	m.EventsDelivered.WithLabelValues(changeType).Inc()
}

// EnrichmentFailed counts one enrichment fallback.
func (m *Metrics) EnrichmentFailed() {
	if m == nil {
		return
	}
	m.EnrichmentFailures.Inc()
}

// Reconnected counts one reconnection attempt.
func (m *Metrics) Reconnected() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

// Blocked counts one locally blocked call for the given governor layer.
func (m *Metrics) Blocked(layer string) {
	if m == nil {
		return
	}
	m.GovernorBlocked.WithLabelValues(layer).Inc()
}

// SetConnectionState records the current connection state code.
func (m *Metrics) SetConnectionState(code int) {
	if m == nil {
		return
	}
	m.ConnectionState.Set(float64(code))
}
