package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the client-side Prometheus instruments shared by every
// Client in a process. Each client reports under its own "client_id"
// label rather than getting its own metric instance, the same way the
// broker this package was adapted from registers one process-wide Stat
// and lets connections multiplex onto it.
type Metrics struct {
	InFlightCommands *prometheus.GaugeVec
	ReconnectsTotal  *prometheus.CounterVec
	PacketsSent      *prometheus.CounterVec
	PacketsReceived  *prometheus.CounterVec
}

var metrics = Metrics{
	InFlightCommands: prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mqtt_client_inflight_commands",
		Help: "Number of in-flight QoS 1/2 commands currently awaiting acknowledgement.",
	}, []string{"client_id"}),
	ReconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_client_reconnects_total",
		Help: "Total number of times the client has re-established its connection.",
	}, []string{"client_id"}),
	PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_client_packets_sent_total",
		Help: "Total number of MQTT control packets sent.",
	}, []string{"client_id"}),
	PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_client_packets_received_total",
		Help: "Total number of MQTT control packets received.",
	}, []string{"client_id"}),
}

var registeredWith prometheus.Registerer

// Register adds this package's metrics to reg. It is safe to call more
// than once across multiple clients sharing a process; subsequent calls
// with the same registerer are no-ops, and a collector already present
// under a different registerer (an AlreadyRegisteredError) is tolerated
// rather than treated as fatal.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if registeredWith == reg {
		return
	}
	for _, c := range []prometheus.Collector{metrics.InFlightCommands, metrics.ReconnectsTotal, metrics.PacketsSent, metrics.PacketsReceived} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
	registeredWith = reg
}

// RecordPacketSent increments the sent-packet counter for clientID.
func RecordPacketSent(clientID string) {
	metrics.PacketsSent.WithLabelValues(clientID).Inc()
}

// RecordPacketReceived increments the received-packet counter for clientID.
func RecordPacketReceived(clientID string) {
	metrics.PacketsReceived.WithLabelValues(clientID).Inc()
}
