package command

import (
	"sync"
	"time"

	"github.com/golang-io/mqtt/packet"
	"github.com/golang-io/mqtt/topic"
)

// SubscribeResult is delivered once a Subscribe command resolves.
type SubscribeResult struct {
	Results []topic.SubscribeResult
	Err     error
}

// subackSuccess reports whether reason code indicates the filter at the
// same position was granted. Every success code across both protocol
// versions (granted QoS 0/1/2) is <= 2; every failure code is >= 0x80.
func subackSuccess(code uint8) bool { return code <= 2 }

// Subscribe drives a single SUBSCRIBE/SUBACK round trip for one or more
// filters. It is a one-shot command: unlike publishes it carries no
// internal phases, only a retry loop until the broker's SUBACK arrives.
type Subscribe struct {
	mu       sync.Mutex
	pkt      *packet.SUBSCRIBE
	filters  []topic.Filter
	retry    retryState
	done     bool
	resultCh chan SubscribeResult
}

// NewSubscribe returns a command that will send pkt until it is
// acknowledged or abandoned. filters must be in the same order as
// pkt.Subscriptions so results can be paired back to the request.
func NewSubscribe(pkt *packet.SUBSCRIBE, filters []topic.Filter, policy RetryPolicy) *Subscribe {
	return &Subscribe{
		pkt:      pkt,
		filters:  filters,
		retry:    retryState{policy: policy},
		resultCh: make(chan SubscribeResult, 1),
	}
}

// Result returns the channel the eventual SubscribeResult is delivered on.
func (c *Subscribe) Result() <-chan SubscribeResult { return c.resultCh }

// PacketID implements Command.
func (c *Subscribe) PacketID() uint16 { return c.pkt.PacketID }

// Tick implements Command.
func (c *Subscribe) Tick(now time.Time, sender Sender) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return Done
	}
	if !c.retry.due(now) {
		return Busy
	}
	if c.retry.exhausted() {
		c.finishLocked(SubscribeResult{Err: ErrRetryExhausted})
		return Done
	}
	_ = sender.Send(c.pkt)
	c.retry.scheduleNext(now)
	return Busy
}

// Acknowledge implements Command.
func (c *Subscribe) Acknowledge(pkt packet.Packet) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return Done
	}
	ack, ok := pkt.(*packet.SUBACK)
	if !ok || ack.PacketID != c.pkt.PacketID {
		c.finishLocked(SubscribeResult{Err: ErrUnexpectedAck})
		return Done
	}
	results := make([]topic.SubscribeResult, 0, len(c.filters))
	for i, f := range c.filters {
		success := false
		if i < len(ack.ReasonCode) {
			success = subackSuccess(ack.ReasonCode[i].Code)
		}
		results = append(results, topic.SubscribeResult{Filter: f, Success: success})
	}
	c.finishLocked(SubscribeResult{Results: results})
	return Done
}

// Abandon implements Command.
func (c *Subscribe) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.done {
		c.finishLocked(SubscribeResult{Err: ErrAbandoned})
	}
}

func (c *Subscribe) finishLocked(r SubscribeResult) {
	c.done = true
	c.resultCh <- r
	close(c.resultCh)
}

// UnsubscribeResult is delivered once an Unsubscribe command resolves.
type UnsubscribeResult struct {
	Results []topic.UnsubscribeResult
	Err     error
}

// Unsubscribe drives a single UNSUBSCRIBE/UNSUBACK round trip for one or
// more filters.
type Unsubscribe struct {
	mu       sync.Mutex
	pkt      *packet.UNSUBSCRIBE
	filters  []string
	retry    retryState
	done     bool
	resultCh chan UnsubscribeResult
}

// NewUnsubscribe returns a command that will send pkt until it is
// acknowledged or abandoned. filters must be in the same order as
// pkt.Subscriptions.
func NewUnsubscribe(pkt *packet.UNSUBSCRIBE, filters []string, policy RetryPolicy) *Unsubscribe {
	return &Unsubscribe{
		pkt:      pkt,
		filters:  filters,
		retry:    retryState{policy: policy},
		resultCh: make(chan UnsubscribeResult, 1),
	}
}

// Result returns the channel the eventual UnsubscribeResult is delivered on.
func (c *Unsubscribe) Result() <-chan UnsubscribeResult { return c.resultCh }

// PacketID implements Command.
func (c *Unsubscribe) PacketID() uint16 { return c.pkt.PacketID }

// Tick implements Command.
func (c *Unsubscribe) Tick(now time.Time, sender Sender) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return Done
	}
	if !c.retry.due(now) {
		return Busy
	}
	if c.retry.exhausted() {
		c.finishLocked(UnsubscribeResult{Err: ErrRetryExhausted})
		return Done
	}
	_ = sender.Send(c.pkt)
	c.retry.scheduleNext(now)
	return Busy
}

// Acknowledge implements Command.
func (c *Unsubscribe) Acknowledge(pkt packet.Packet) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return Done
	}
	ack, ok := pkt.(*packet.UNSUBACK)
	if !ok || ack.PacketID != c.pkt.PacketID {
		c.finishLocked(UnsubscribeResult{Err: ErrUnexpectedAck})
		return Done
	}
	results := make([]topic.UnsubscribeResult, 0, len(c.filters))
	for i, f := range c.filters {
		// v3.1.1 UNSUBACK carries no reason codes at all; absence of a
		// reason code always means success.
		success := true
		if i < len(ack.ReasonCode) {
			success = subackSuccess(ack.ReasonCode[i].Code)
		}
		results = append(results, topic.UnsubscribeResult{Filter: f, Success: success})
	}
	c.finishLocked(UnsubscribeResult{Results: results})
	return Done
}

// Abandon implements Command.
func (c *Unsubscribe) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.done {
		c.finishLocked(UnsubscribeResult{Err: ErrAbandoned})
	}
}

func (c *Unsubscribe) finishLocked(r UnsubscribeResult) {
	c.done = true
	c.resultCh <- r
	close(c.resultCh)
}
