package mqtt

import (
	"github.com/golang-io/mqtt/session"
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterMetrics adds the package's Prometheus instruments (in-flight
// command gauge, reconnect/packet-sent/packet-received counters, every
// one labeled by client_id) to reg. Pass nil to register against
// prometheus.DefaultRegisterer. Safe to call once at process startup
// regardless of how many Clients or Pools are later created, since every
// Client reports under the same process-wide collectors.
func RegisterMetrics(reg prometheus.Registerer) {
	session.Register(reg)
}
