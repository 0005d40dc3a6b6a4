package metrics

import "github.com/prometheus/client_golang/prometheus"

// RelayMetrics holds Prometheus metrics for the WebSocket relay.
// A nil *RelayMetrics is valid and records nothing.
type RelayMetrics struct {
	ActiveConnections  prometheus.Gauge
	ConnectionsOpened  prometheus.Counter
	ConnectionsClosed  *prometheus.CounterVec // label: reason
	UpgradesRejected   prometheus.Counter
	UpgradeFailures    prometheus.Counter
	MessagesReceived   *prometheus.CounterVec // label: frame (text|binary)
	Deliveries         prometheus.Counter
	DeliveryFailures   prometheus.Counter
	Sweeps             prometheus.Counter
	HeartbeatsReceived prometheus.Counter
}

// Close reasons used as the "reason" label on ConnectionsClosed.
const (
	ReasonPeerClosed    = "peer_closed"
	ReasonReadError     = "read_error"
	ReasonWriteError    = "write_error"
	ReasonHeartbeatMiss = "heartbeat_miss"
	ReasonShutdown      = "shutdown"
)

// NewRelayMetrics creates and registers relay metrics on the given registry.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "active_connections",
			Help:      "Number of open relay connections.",
		}),
		ConnectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connections_opened_total",
			Help:      "Total number of completed WebSocket handshakes.",
		}),
		ConnectionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connections_closed_total",
			Help:      "Total number of relay connections torn down, by reason.",
		}, []string{"reason"}),
		UpgradesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "upgrades_rejected_total",
			Help:      "Total number of upgrade requests rejected by the authorizer.",
		}),
		UpgradeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "upgrade_failures_total",
			Help:      "Total number of handshakes aborted by transport or protocol errors.",
		}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_received_total",
			Help:      "Total number of non-heartbeat messages received, by frame type.",
		}, []string{"frame"}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "deliveries_total",
			Help:      "Total number of successful per-recipient fan-out writes.",
		}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "delivery_failures_total",
			Help:      "Total number of failed per-recipient fan-out writes.",
		}),
		Sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "sweeps_total",
			Help:      "Total number of heartbeat sweeps.",
		}),
		HeartbeatsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "received_total",
			Help:      "Total number of heartbeat markers received from peers.",
		}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.ConnectionsOpened,
		m.ConnectionsClosed,
		m.UpgradesRejected,
		m.UpgradeFailures,
		m.MessagesReceived,
		m.Deliveries,
		m.DeliveryFailures,
		m.Sweeps,
		m.HeartbeatsReceived,
	)
	return m
}

func (m *RelayMetrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsOpened.Inc()
	m.ActiveConnections.Inc()
}

func (m *RelayMetrics) ConnectionClosed(reason string) {
	if m == nil {
		return
	}
	m.ConnectionsClosed.WithLabelValues(reason).Inc()
	m.ActiveConnections.Dec()
}

func (m *RelayMetrics) UpgradeRejected() {
	if m == nil {
		return
	}
	m.UpgradesRejected.Inc()
}

func (m *RelayMetrics) UpgradeFailed() {
	if m == nil {
		return
	}
	m.UpgradeFailures.Inc()
}

func (m *RelayMetrics) MessageReceived(binary bool) {
	if m == nil {
		return
	}
	frame := "text"
	if binary {
		frame = "binary"
	}
	m.MessagesReceived.WithLabelValues(frame).Inc()
}

func (m *RelayMetrics) Delivered() {
	if m == nil {
		return
	}
	m.Deliveries.Inc()
}

func (m *RelayMetrics) DeliveryFailed() {
	if m == nil {
		return
	}
	m.DeliveryFailures.Inc()
}

func (m *RelayMetrics) Swept() {
	if m == nil {
		return
	}
	m.Sweeps.Inc()
}

func (m *RelayMetrics) HeartbeatReceived() {
	if m == nil {
		return
	}
	m.HeartbeatsReceived.Inc()
}
