package command

import (
	"sync"
	"time"

	"github.com/golang-io/mqtt/packet"
)

// PingReq drives a single PINGREQ/PINGRESP round trip. It carries no
// packet identifier; a client has at most one outstanding ping at a time,
// so the registry tracks it out of band from the packet-identifier map.
type PingReq struct {
	mu       sync.Mutex
	pkt      *packet.PINGREQ
	retry    retryState
	done     bool
	resultCh chan error
}

// NewPingReq returns a command that sends a PINGREQ for the given
// protocol version and expects a PINGRESP within policy's retry budget.
// Exhausting the budget here means the keep-alive has failed and the
// connection should be torn down.
func NewPingReq(version byte, policy RetryPolicy) *PingReq {
	return &PingReq{
		pkt:      &packet.PINGREQ{FixedHeader: &packet.FixedHeader{Version: version, Kind: 0xC}},
		retry:    retryState{policy: policy},
		resultCh: make(chan error, 1),
	}
}

// Result returns the channel the eventual error (nil on success) is
// delivered on.
func (c *PingReq) Result() <-chan error { return c.resultCh }

// PacketID implements Command. PINGREQ carries no identifier.
func (c *PingReq) PacketID() uint16 { return 0 }

// Tick implements Command.
func (c *PingReq) Tick(now time.Time, sender Sender) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return Done
	}
	if !c.retry.due(now) {
		return Busy
	}
	if c.retry.exhausted() {
		c.finishLocked(ErrRetryExhausted)
		return Done
	}
	_ = sender.Send(c.pkt)
	c.retry.scheduleNext(now)
	return Busy
}

// Acknowledge implements Command; any PINGRESP resolves the ping.
func (c *PingReq) Acknowledge(pkt packet.Packet) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return Done
	}
	if _, ok := pkt.(*packet.PINGRESP); ok {
		c.finishLocked(nil)
		return Done
	}
	c.finishLocked(ErrUnexpectedAck)
	return Done
}

// Abandon implements Command.
func (c *PingReq) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.done {
		c.finishLocked(ErrAbandoned)
	}
}

func (c *PingReq) finishLocked(err error) {
	c.done = true
	c.resultCh <- err
	close(c.resultCh)
}
