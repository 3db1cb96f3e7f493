package state

import "errors"

// State is the capability set exposed by one of the four client
// lifecycle states. An operation a state doesn't support resolves
// immediately with a descriptive error rather than a type-cast failure
// or a panic.
type State interface {
	Name() string
	CanConnect() bool
	CanDisconnect() bool
	CanPublish() bool
	CanSubscribe() bool
	CanUnsubscribe() bool
}

var (
	// ErrNotConnected rejects publish/subscribe/unsubscribe attempted
	// outside the Connected state.
	ErrNotConnected = errors.New("state: not connected")
	// ErrAlreadyConnecting rejects a clean-session connect attempted
	// while a connection attempt is already in flight.
	ErrAlreadyConnecting = errors.New("state: cannot clean-reconnect while connecting")
)

type disconnectedState struct{}

func (disconnectedState) Name() string          { return "disconnected" }
func (disconnectedState) CanConnect() bool      { return true }
func (disconnectedState) CanDisconnect() bool    { return true }
func (disconnectedState) CanPublish() bool      { return false }
func (disconnectedState) CanSubscribe() bool    { return false }
func (disconnectedState) CanUnsubscribe() bool  { return false }

type connectingState struct{}

func (connectingState) Name() string         { return "connecting" }
func (connectingState) CanConnect() bool     { return false }
func (connectingState) CanDisconnect() bool   { return true }
func (connectingState) CanPublish() bool     { return false }
func (connectingState) CanSubscribe() bool   { return false }
func (connectingState) CanUnsubscribe() bool { return false }

type connectedState struct{}

func (connectedState) Name() string         { return "connected" }
func (connectedState) CanConnect() bool     { return true }
func (connectedState) CanDisconnect() bool   { return true }
func (connectedState) CanPublish() bool     { return true }
func (connectedState) CanSubscribe() bool   { return true }
func (connectedState) CanUnsubscribe() bool { return true }

type disconnectingState struct{}

func (disconnectingState) Name() string         { return "disconnecting" }
func (disconnectingState) CanConnect() bool     { return false }
func (disconnectingState) CanDisconnect() bool   { return true }
func (disconnectingState) CanPublish() bool     { return false }
func (disconnectingState) CanSubscribe() bool   { return false }
func (disconnectingState) CanUnsubscribe() bool { return false }

var (
	Disconnected  State = disconnectedState{}
	Connecting    State = connectingState{}
	Connected     State = connectedState{}
	Disconnecting State = disconnectingState{}
)
