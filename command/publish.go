package command

import (
	"sync"
	"time"

	"github.com/golang-io/mqtt/packet"
)

// PublishResult is delivered to a publisher once a QoS 1 or QoS 2 publish
// resolves, successfully or not.
type PublishResult struct {
	Err error
}

// PublishQoS1 drives the single-round-trip PUBLISH/PUBACK handshake: send,
// retry on a backoff until a PUBACK with the matching packet identifier
// arrives, or the retry budget is exhausted.
type PublishQoS1 struct {
	mu       sync.Mutex
	pkt      *packet.PUBLISH
	retry    retryState
	done     bool
	resultCh chan PublishResult
}

// NewPublishQoS1 returns a command that will send pkt (a QoS 1 PUBLISH)
// under policy until it is acknowledged or abandoned. pkt.PacketID must
// already be set.
func NewPublishQoS1(pkt *packet.PUBLISH, policy RetryPolicy) *PublishQoS1 {
	return &PublishQoS1{
		pkt:      pkt,
		retry:    retryState{policy: policy},
		resultCh: make(chan PublishResult, 1),
	}
}

// Result returns the channel the eventual PublishResult is delivered on.
func (c *PublishQoS1) Result() <-chan PublishResult { return c.resultCh }

// PacketID implements Command.
func (c *PublishQoS1) PacketID() uint16 { return c.pkt.PacketID }

// Tick implements Command.
func (c *PublishQoS1) Tick(now time.Time, sender Sender) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return Done
	}
	if !c.retry.due(now) {
		return Busy
	}
	if c.retry.exhausted() {
		c.finishLocked(PublishResult{Err: ErrRetryExhausted})
		return Done
	}
	if c.retry.attempts > 0 {
		c.pkt.FixedHeader.Dup = 1
	}
	_ = sender.Send(c.pkt)
	c.retry.scheduleNext(now)
	return Busy
}

// Acknowledge implements Command.
func (c *PublishQoS1) Acknowledge(pkt packet.Packet) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return Done
	}
	if ack, ok := pkt.(*packet.PUBACK); ok && ack.PacketID == c.pkt.PacketID {
		c.finishLocked(PublishResult{})
		return Done
	}
	c.finishLocked(PublishResult{Err: ErrUnexpectedAck})
	return Done
}

// Abandon implements Command.
func (c *PublishQoS1) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.done {
		c.finishLocked(PublishResult{Err: ErrAbandoned})
	}
}

func (c *PublishQoS1) finishLocked(r PublishResult) {
	c.done = true
	c.resultCh <- r
	close(c.resultCh)
}

// qos2Phase tracks where a QoS 2 publish sits in its three-packet
// handshake.
type qos2Phase int

const (
	// qos2Unacknowledged is waiting for the broker's PUBREC.
	qos2Unacknowledged qos2Phase = iota
	// qos2Received has seen the PUBREC and is retransmitting PUBREL
	// while waiting for PUBCOMP.
	qos2Received
	// qos2Complete has seen the PUBCOMP; the command is terminal.
	qos2Complete
)

// PublishQoS2 drives the three-packet PUBLISH/PUBREC/PUBREL/PUBCOMP
// handshake. The publish is considered successful to the caller as soon
// as the PUBREC arrives (see Result); the PUBREL/PUBCOMP exchange that
// follows only needs to finish so the packet identifier can be released.
type PublishQoS2 struct {
	mu       sync.Mutex
	pkt      *packet.PUBLISH
	pubrel   *packet.PUBREL
	phase    qos2Phase
	retry    retryState
	done     bool
	resultCh chan PublishResult
}

// NewPublishQoS2 returns a command that will send pkt (a QoS 2 PUBLISH)
// under policy through the full handshake. pkt.PacketID must already be
// set.
func NewPublishQoS2(pkt *packet.PUBLISH, policy RetryPolicy) *PublishQoS2 {
	return &PublishQoS2{
		pkt: pkt,
		pubrel: &packet.PUBREL{
			FixedHeader: &packet.FixedHeader{Version: pkt.FixedHeader.Version, Kind: 0x6, QoS: 1},
			PacketID:    pkt.PacketID,
		},
		retry:    retryState{policy: policy},
		resultCh: make(chan PublishResult, 1),
	}
}

// Result returns the channel the eventual PublishResult is delivered on,
// resolved once the PUBREC arrives (success is not contingent on the
// PUBREL/PUBCOMP tail completing).
func (c *PublishQoS2) Result() <-chan PublishResult { return c.resultCh }

// PacketID implements Command.
func (c *PublishQoS2) PacketID() uint16 { return c.pkt.PacketID }

// Phase reports the command's current handshake phase, exposed for
// registry bookkeeping (e.g. deciding when the identifier is safe to
// release).
func (c *PublishQoS2) Phase() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.phase {
	case qos2Received:
		return "received"
	case qos2Complete:
		return "complete"
	default:
		return "unacknowledged"
	}
}

// Tick implements Command.
func (c *PublishQoS2) Tick(now time.Time, sender Sender) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == qos2Complete {
		return Done
	}
	if !c.retry.due(now) {
		return Busy
	}
	if c.retry.exhausted() {
		c.finishLocked(PublishResult{Err: ErrRetryExhausted})
		return Done
	}
	switch c.phase {
	case qos2Unacknowledged:
		if c.retry.attempts > 0 {
			c.pkt.FixedHeader.Dup = 1
		}
		_ = sender.Send(c.pkt)
	case qos2Received:
		// PUBREL's flag nibble is fixed at 0010; a retransmission is
		// identified by reusing the packet id, not by a DUP bit.
		_ = sender.Send(c.pubrel)
	}
	c.retry.scheduleNext(now)
	return Busy
}

// Acknowledge implements Command.
func (c *PublishQoS2) Acknowledge(pkt packet.Packet) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == qos2Complete {
		return Done
	}
	switch ack := pkt.(type) {
	case *packet.PUBREC:
		if ack.PacketID != c.pkt.PacketID || c.phase != qos2Unacknowledged {
			c.finishLocked(PublishResult{Err: ErrUnexpectedAck})
			return Done
		}
		c.phase = qos2Received
		c.retry.reset()
		if !c.done {
			c.done = true
			c.resultCh <- PublishResult{}
			close(c.resultCh)
		}
		return Busy
	case *packet.PUBCOMP:
		if ack.PacketID != c.pkt.PacketID {
			c.finishLocked(PublishResult{Err: ErrUnexpectedAck})
			return Done
		}
		// A PUBCOMP can legitimately arrive while still Unacknowledged:
		// the broker processed the handshake across a previous
		// connection and is replaying only the tail end of it.
		if !c.done {
			c.done = true
			c.resultCh <- PublishResult{}
			close(c.resultCh)
		}
		c.phase = qos2Complete
		return Done
	default:
		c.finishLocked(PublishResult{Err: ErrUnexpectedAck})
		return Done
	}
}

// Abandon implements Command.
func (c *PublishQoS2) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != qos2Complete {
		c.finishLocked(PublishResult{Err: ErrAbandoned})
	}
}

func (c *PublishQoS2) finishLocked(r PublishResult) {
	c.phase = qos2Complete
	if !c.done {
		c.done = true
		c.resultCh <- r
		close(c.resultCh)
	}
}
