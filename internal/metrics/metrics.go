// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the service registers. One instance is
// created in main and handed to the components that record into it.
type Metrics struct {
	EventsConsumed    prometheus.Counter
	MalformedDropped  prometheus.Counter
	EnvelopesDropped  prometheus.Counter
	Reconnects        prometheus.Counter
	ConnectionState   prometheus.Gauge
	HealthScore       prometheus.Gauge
	AlertsEmitted     prometheus.Counter
	AlertsSuppressed  prometheus.Counter
	HubClients        prometheus.Gauge
	PollErrors        *prometheus.CounterVec
	CommandsForwarded *prometheus.CounterVec
}

// New registers all collectors on the default registry.
func New() *Metrics {
	return &Metrics{
		EventsConsumed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "icsight_events_consumed_total",
			Help: "Classified events accepted into the event buffer",
		}),
		MalformedDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "icsight_malformed_dropped_total",
			Help: "Inbound payloads dropped at the boundary for parse or schema failures",
		}),
		EnvelopesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "icsight_envelopes_dropped_total",
			Help: "Envelopes dropped because the engine inbox was full",
		}),
		Reconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "icsight_transport_reconnects_total",
			Help: "Successful transport reconnections",
		}),
		ConnectionState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "icsight_transport_connection_state",
			Help: "Current transport state (0 disconnected, 1 connecting, 2 connected, 3 degraded)",
		}),
		HealthScore: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "icsight_health_score",
			Help: "Current 0-100 dashboard health score",
		}),
		AlertsEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "icsight_alerts_emitted_total",
			Help: "Alert notices emitted",
		}),
		AlertsSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "icsight_alerts_suppressed_total",
			Help: "Alert notices suppressed as repeats within one lifetime",
		}),
		HubClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "icsight_hub_clients",
			Help: "Presentation websocket clients currently connected",
		}),
		PollErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "icsight_poll_errors_total",
			Help: "Failed snapshot polls by endpoint",
		}, []string{"endpoint"}),
		CommandsForwarded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "icsight_commands_forwarded_total",
			Help: "Control commands forwarded upstream by action and outcome",
		}, []string{"action", "outcome"}),
	}
}
