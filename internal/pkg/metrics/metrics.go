package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every screenmon collector. The operational HTTP server
// serves it on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// MqttConnected records the state of the broker connection.
	// 1 = connected, 0 = disconnected.
	MqttConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "screenmon_mqtt_connected",
			Help: "Whether the MQTT broker connection is up (1=connected, 0=disconnected).",
		},
	)

	// LogLinesScanned counts lines read from the synergy log.
	LogLinesScanned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screenmon_log_lines_scanned_total",
			Help: "Total number of synergy log lines scanned.",
		},
	)

	// SwitchEventsParsed counts log lines that contained a screen switch.
	SwitchEventsParsed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screenmon_switch_events_parsed_total",
			Help: "Total number of screen switch events parsed from the log.",
		},
	)

	// EventsPublished counts publish outcomes per status.
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screenmon_events_published_total",
			Help: "Total number of switch events published to the broker.",
		},
		[]string{"status"}, // status: success/failed
	)

	// PublishRetries counts individual publish retry attempts.
	PublishRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screenmon_publish_retries_total",
			Help: "Total number of publish retries after a failed attempt.",
		},
	)

	// MessagesReceived counts messages delivered by the subscription.
	MessagesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screenmon_messages_received_total",
			Help: "Total number of MQTT messages received on the watched topic.",
		},
	)

	// DesktopMatches counts received events whose desktop matched the target.
	DesktopMatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screenmon_desktop_matches_total",
			Help: "Total number of received events matching the watched desktop.",
		},
	)

	// BellsRung counts audible notifications.
	BellsRung = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screenmon_bells_rung_total",
			Help: "Total number of audible bells rung for matching events.",
		},
	)

	// HeartbeatAge reports seconds since the last message arrived.
	HeartbeatAge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "screenmon_heartbeat_age_seconds",
			Help: "Seconds since the subscriber last received a message.",
		},
	)

	// Reconnects counts connection attempts after the first.
	Reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screenmon_reconnects_total",
			Help: "Total number of MQTT reconnect attempts.",
		},
	)
)

func init() {
	Registry.MustRegister(MqttConnected)
	Registry.MustRegister(LogLinesScanned)
	Registry.MustRegister(SwitchEventsParsed)
	Registry.MustRegister(EventsPublished)
	Registry.MustRegister(PublishRetries)
	Registry.MustRegister(MessagesReceived)
	Registry.MustRegister(DesktopMatches)
	Registry.MustRegister(BellsRung)
	Registry.MustRegister(HeartbeatAge)
	Registry.MustRegister(Reconnects)
}
