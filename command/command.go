// Package command implements the in-flight QoS 1 and QoS 2 publish
// handshakes, subscribe/unsubscribe round trips, and keep-alive pings as
// small retrying state machines. Each Command occupies at most one packet
// identifier slot and is driven by two external events: a periodic Tick
// (used to (re)transmit on a jittered exponential backoff) and an
// Acknowledge call whenever an inbound packet carrying a matching packet
// identifier arrives.
package command

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/golang-io/mqtt/packet"
)

// Outcome reports whether a Command has reached a terminal state.
type Outcome int

const (
	// Busy means the command is still outstanding and should keep being
	// ticked/acknowledged.
	Busy Outcome = iota
	// Done means the command has resolved, successfully or not, and can
	// be removed from whatever registry is tracking it.
	Done
)

func (o Outcome) String() string {
	if o == Done {
		return "done"
	}
	return "busy"
}

// Sender writes a fully-formed wire packet out to the broker. It is
// implemented by the transport adapter that owns the underlying
// connection.
type Sender interface {
	Send(pkt packet.Packet) error
}

var (
	// ErrRetryExhausted is the terminal error of a command whose retry
	// budget ran out before it was acknowledged.
	ErrRetryExhausted = errors.New("command: retry attempts exhausted")
	// ErrAbandoned is the terminal error of a command that was cancelled
	// before it could complete, e.g. because the client disconnected.
	ErrAbandoned = errors.New("command: abandoned")
	// ErrUnexpectedAck is the terminal error of a command that received
	// an acknowledgement packet it was not expecting in its current
	// state.
	ErrUnexpectedAck = errors.New("command: unexpected acknowledgement")
)

// Command is a retry-capable outbound operation tracked against exactly
// one packet identifier (PingReq is the exception: it carries none).
type Command interface {
	// Tick (re)sends the command's current wire packet once its retry
	// deadline has passed, and reports Done once the command reaches a
	// terminal state (including retry exhaustion).
	Tick(now time.Time, sender Sender) Outcome
	// Acknowledge processes an inbound packet whose packet identifier
	// matches this command. It reports Done once the command resolves.
	Acknowledge(pkt packet.Packet) Outcome
	// Abandon fails the command terminally without waiting for a reply,
	// e.g. because the client disconnected with the command still
	// outstanding.
	Abandon()
	// PacketID returns the identifier this command occupies, or 0 for a
	// command (PingReq) that does not carry one.
	PacketID() uint16
}

// RetryPolicy configures the jittered exponential backoff shared by every
// Command implementation in this package.
type RetryPolicy struct {
	// Initial is the delay before the first retransmission.
	Initial time.Duration
	// Max caps the computed backoff before jitter is added.
	Max time.Duration
	// Multiplier scales the backoff on each successive attempt.
	Multiplier float64
	// MaxRetries is the number of transmissions allowed, the initial
	// send included; once exhausted the command abandons itself.
	MaxRetries uint8
}

// DefaultRetryPolicy mirrors commonly-deployed broker timeout defaults:
// a 1 second initial retry growing by 1.5x up to 30 seconds, abandoned
// after 5 transmissions.
var DefaultRetryPolicy = RetryPolicy{
	Initial:    time.Second,
	Max:        30 * time.Second,
	Multiplier: 1.5,
	MaxRetries: 5,
}

// retryState tracks attempt count and the next retransmission deadline
// for a single in-flight command.
type retryState struct {
	policy   RetryPolicy
	attempts uint8
	deadline time.Time
	started  bool
}

// due reports whether the command should (re)transmit now.
func (r *retryState) due(now time.Time) bool {
	return !r.started || !now.Before(r.deadline)
}

// exhausted reports whether the next transmission would exceed the
// configured retry budget.
func (r *retryState) exhausted() bool {
	return r.attempts >= r.policy.MaxRetries
}

// scheduleNext records a transmission at now and schedules the next
// retry deadline using exponential backoff plus up to one second of
// jitter, so that many clients reconnecting or retrying at once do not
// all retransmit in lockstep.
func (r *retryState) scheduleNext(now time.Time) {
	backoff := float64(r.policy.Initial) * math.Pow(r.policy.Multiplier, float64(r.attempts))
	if max := float64(r.policy.Max); backoff > max {
		backoff = max
	}
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	r.started = true
	r.deadline = now.Add(time.Duration(backoff) + jitter)
	r.attempts++
}

// reset clears the attempt counter and retry timer, used when a command
// transitions to a new internal phase (e.g. QoS 2 moving from
// Unacknowledged to Received) and should retransmit immediately under a
// fresh budget.
func (r *retryState) reset() {
	r.attempts = 0
	r.started = false
}
