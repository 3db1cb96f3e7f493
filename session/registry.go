package session

import (
	"sync"
	"time"

	"github.com/golang-io/mqtt/command"
	"github.com/golang-io/mqtt/idpool"
	"github.com/golang-io/mqtt/packet"
)

// inboundShift is the key offset for inbound QoS 2 receiver-side dedup
// entries. Outbound commands key on their packet identifier directly,
// which only ever occupies [1, 65535]; inbound entries key on
// packet_id<<16, which never collides with that range. The two kinds of
// entry live in separate maps (commands and inbound) under one mutex.
const inboundShift = 16

// Registry is the shared in-flight table described as the
// InFlightRegistry: the commands map holds every outbound Command
// (publishes, subscribes, unsubscribes) keyed by packet identifier, and
// the inbound map holds every inbound QoS 2 receiver-side dedup marker
// keyed by packet_id<<16. A single mutex guards both maps, which keeps
// acknowledgement routing, retransmission ticking, and
// abandon-everything-on-disconnect all operating over one consistent
// view of what's outstanding.
type Registry struct {
	mu       sync.Mutex
	ids      *idpool.Pool
	commands map[uint32]command.Command
	inbound  map[uint32]struct{}
	clientID string
}

// NewRegistry returns an empty Registry backed by ids for packet
// identifier allocation. clientID labels the Prometheus metrics this
// registry reports under.
func NewRegistry(ids *idpool.Pool, clientID string) *Registry {
	return &Registry{
		ids:      ids,
		commands: make(map[uint32]command.Command),
		inbound:  make(map[uint32]struct{}),
		clientID: clientID,
	}
}

// NextID allocates a fresh packet identifier for a new outbound command.
func (r *Registry) NextID() (uint16, error) {
	return r.ids.Allocate()
}

// AddOutbound registers cmd against its own PacketID so future
// acknowledgements and ticks reach it.
func (r *Registry) AddOutbound(cmd command.Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[uint32(cmd.PacketID())] = cmd
	metrics.InFlightCommands.WithLabelValues(r.clientID).Set(float64(len(r.commands)))
}

// HasInFlight reports whether an outbound command currently occupies id.
func (r *Registry) HasInFlight(id uint16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.commands[uint32(id)]
	return ok
}

// MarkInboundQoS2 records that a QoS 2 PUBLISH with the given packet
// identifier has been seen and a PUBREC sent for it. It reports false if
// this identifier was already marked, meaning the inbound PUBLISH is a
// duplicate that must not be delivered to the application a second time.
func (r *Registry) MarkInboundQoS2(id uint16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := uint32(id) << inboundShift
	if _, ok := r.inbound[key]; ok {
		return false
	}
	r.inbound[key] = struct{}{}
	return true
}

// ReleaseInboundQoS2 forgets the dedup marker for id, called once the
// broker's PUBREL for it has been answered with PUBCOMP.
func (r *Registry) ReleaseInboundQoS2(id uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inbound, uint32(id)<<inboundShift)
}

// packetID extracts the packet identifier an acknowledgement packet
// carries, and reports false for packet types that never correlate to an
// outbound command (e.g. PINGRESP, handled by the caller separately).
func packetID(pkt packet.Packet) (uint16, bool) {
	switch p := pkt.(type) {
	case *packet.PUBACK:
		return p.PacketID, true
	case *packet.PUBREC:
		return p.PacketID, true
	case *packet.PUBCOMP:
		return p.PacketID, true
	case *packet.SUBACK:
		return p.PacketID, true
	case *packet.UNSUBACK:
		return p.PacketID, true
	default:
		return 0, false
	}
}

// Acknowledge routes an inbound packet to the outbound command occupying
// its packet identifier, if any. When the command reaches a terminal
// state its identifier is released back to the pool and removed from the
// registry. It reports false if pkt does not carry a packet identifier
// this registry recognizes as outstanding.
func (r *Registry) Acknowledge(pkt packet.Packet) (command.Outcome, bool) {
	id, ok := packetID(pkt)
	if !ok {
		return command.Busy, false
	}
	r.mu.Lock()
	cmd, ok := r.commands[uint32(id)]
	r.mu.Unlock()
	if !ok {
		return command.Busy, false
	}
	outcome := cmd.Acknowledge(pkt)
	if outcome == command.Done {
		r.remove(id)
	}
	return outcome, true
}

// Tick drives every outstanding command's retry timer, sending
// retransmissions through sender as their deadlines pass. Commands that
// reach a terminal state (retry exhaustion) are removed and their
// identifiers released.
func (r *Registry) Tick(now time.Time, sender command.Sender) {
	r.mu.Lock()
	cmds := make([]command.Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		cmds = append(cmds, cmd)
	}
	r.mu.Unlock()

	for _, cmd := range cmds {
		if cmd.Tick(now, sender) == command.Done {
			r.remove(cmd.PacketID())
		}
	}
}

// AbandonAll fails every outstanding command and releases every
// identifier it held, used when the client disconnects (intentionally or
// not) with commands still in flight.
func (r *Registry) AbandonAll() {
	r.mu.Lock()
	cmds := make([]command.Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		cmds = append(cmds, cmd)
	}
	r.commands = make(map[uint32]command.Command)
	r.inbound = make(map[uint32]struct{})
	r.mu.Unlock()

	for _, cmd := range cmds {
		cmd.Abandon()
		r.ids.Release(cmd.PacketID())
	}
	metrics.InFlightCommands.WithLabelValues(r.clientID).Set(0)
}

func (r *Registry) remove(id uint16) {
	r.mu.Lock()
	delete(r.commands, uint32(id))
	count := len(r.commands)
	r.mu.Unlock()
	r.ids.Release(id)
	metrics.InFlightCommands.WithLabelValues(r.clientID).Set(float64(count))
}

// Len reports the number of outbound commands currently in flight.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.commands)
}
