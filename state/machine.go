// Package state implements the ClientStateMachine: the four-state
// connection lifecycle (Disconnected, Connecting, Connected,
// Disconnecting), its reconnection-with-backoff behavior, keep-alive
// pinging, and the routing of inbound packets to the in-flight registry
// or to subscriber handlers. It generalizes the single connect-then-
// subscribe path of the original single-connection client into every
// state transition the lifecycle can take.
package state

import (
	"context"
	"errors"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/golang-io/mqtt/command"
	"github.com/golang-io/mqtt/packet"
	"github.com/golang-io/mqtt/session"
	"github.com/golang-io/mqtt/topic"
	"github.com/golang-io/mqtt/transport"
	"golang.org/x/sync/errgroup"
)

// Dialer opens the transport for a connection attempt. transport.Adapter
// implements it; tests substitute a fake.
type Dialer interface {
	Dial(ctx context.Context, target *url.URL) (io.ReadWriteCloser, error)
}

// adapterDialer adapts *transport.Adapter (which returns net.Conn) to
// Dialer (which only needs the io.ReadWriteCloser subset).
type adapterDialer struct{ a *transport.Adapter }

func (d adapterDialer) Dial(ctx context.Context, target *url.URL) (io.ReadWriteCloser, error) {
	return d.a.Dial(ctx, target)
}

// NewAdapterDialer wraps a transport.Adapter as a Dialer.
func NewAdapterDialer(a *transport.Adapter) Dialer { return adapterDialer{a} }

// Machine is the ClientStateMachine. One Machine drives one logical
// client across however many reconnects its lifetime spans; the
// session.Context it wraps outlives every individual connection.
type Machine struct {
	settings Settings
	session  *session.Context
	dialer   Dialer
	onMsg    func(*packet.Message)

	onConnect    func(bool)
	onDisconnect func()

	mu      sync.Mutex
	current State
	conn    io.ReadWriteCloser

	connectWaiters []chan error
	stopRequested  bool
	cleanSession   bool
	// reconnectRequested marks a teardown the user asked for via
	// Connect(clean=true) on a live connection, so Run treats the next
	// runOnce return as a requested restart rather than a failure.
	reconnectRequested bool

	activityMu   sync.Mutex
	lastActivity time.Time

	pingMu  sync.Mutex
	pingCmd *command.PingReq

	// selfTicking controls whether tickLoop runs its own 200ms timer.
	// A Machine owned by a ClientPool has this false: the pool's shared
	// ticker calls Tick directly instead.
	selfTicking bool
}

// NewMachine returns a Machine in the Disconnected state, driving its own
// retry/keep-alive ticker internally. Use this for a standalone client not
// registered with a ClientPool.
func NewMachine(settings Settings, sess *session.Context, dialer Dialer) *Machine {
	return &Machine{
		settings:    settings,
		session:     sess,
		dialer:      dialer,
		current:     Disconnected,
		selfTicking: true,
	}
}

// NewPooledMachine returns a Machine that relies on an external caller
// (a ClientPool) to invoke Tick on its behalf rather than running its own
// ticker goroutine.
func NewPooledMachine(settings Settings, sess *session.Context, dialer Dialer) *Machine {
	m := NewMachine(settings, sess, dialer)
	m.selfTicking = false
	return m
}

// OnMessage registers the catch-all handler invoked for every delivered
// application message, in addition to any per-filter handlers.
func (m *Machine) OnMessage(fn func(*packet.Message)) { m.onMsg = fn }

// OnConnect registers a callback fired with the outcome of every connect
// attempt (true on success).
func (m *Machine) OnConnect(fn func(bool)) { m.onConnect = fn }

// OnDisconnect registers a callback fired once the connection is
// observed closed, whether by request or not.
func (m *Machine) OnDisconnect(fn func()) { m.onDisconnect = fn }

// State reports the machine's current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
}

// Send implements command.Sender by writing pkt to the live connection.
// It is called from the reader and tick goroutines and, through Publish,
// Subscribe and Unsubscribe, from callers' goroutines; a packet's Pack
// issues several writes, so each whole packet is written under activityMu
// to keep concurrent packets from interleaving on the wire.
func (m *Machine) Send(pkt packet.Packet) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	m.activityMu.Lock()
	err := pkt.Pack(conn)
	if err == nil {
		m.lastActivity = time.Now()
	}
	m.activityMu.Unlock()
	if err == nil {
		session.RecordPacketSent(m.session.ClientID)
	}
	return err
}

// Connect starts (or restarts, under clean_session) the connect loop and
// returns a channel the eventual outcome is delivered on.
func (m *Machine) Connect(cleanSession bool) <-chan error {
	result := make(chan error, 1)
	m.mu.Lock()
	switch m.current {
	case Connecting:
		if cleanSession {
			m.mu.Unlock()
			result <- ErrAlreadyConnecting
			return result
		}
	case Connected:
		if !cleanSession {
			m.mu.Unlock()
			result <- nil
			return result
		}
		m.reconnectRequested = true
	}
	m.connectWaiters = append(m.connectWaiters, result)
	m.stopRequested = false
	m.cleanSession = cleanSession
	reconnect := m.reconnectRequested
	conn := m.conn
	m.current = Connecting
	m.mu.Unlock()
	if reconnect && conn != nil {
		conn.Close()
	}
	return result
}

// Disconnect requests a graceful shutdown: the current connection (if
// any) is sent DISCONNECT and closed, the reconnect loop stops, and every
// in-flight command is abandoned.
func (m *Machine) Disconnect() <-chan error {
	result := make(chan error, 1)
	m.mu.Lock()
	m.stopRequested = true
	conn := m.conn
	m.current = Disconnecting
	m.mu.Unlock()

	if conn != nil {
		disc := &packet.DISCONNECT{FixedHeader: &packet.FixedHeader{Version: m.settings.Version, Kind: 0xE}}
		_ = disc.Pack(conn)
		_ = conn.Close()
	}
	m.setState(Disconnected)
	result <- nil
	return result
}

// Publish submits msg for delivery at the given QoS and returns the
// channel its eventual outcome is delivered on. QoS 0 resolves
// immediately on send; QoS 1/2 are tracked in the session's in-flight
// registry.
func (m *Machine) Publish(msg *packet.Message, qos uint8, retain bool) (<-chan command.PublishResult, error) {
	if !m.State().CanPublish() {
		return nil, ErrNotConnected
	}
	fh := &packet.FixedHeader{Version: m.settings.Version, Kind: 0x3, QoS: qos, Retain: boolToUint8(retain)}
	pub := &packet.PUBLISH{FixedHeader: fh, Message: msg}

	result := make(chan command.PublishResult, 1)
	if qos == 0 {
		err := m.Send(pub)
		result <- command.PublishResult{Err: err}
		return result, nil
	}

	id, err := m.session.Registry.NextID()
	if err != nil {
		result <- command.PublishResult{Err: err}
		return result, nil
	}
	pub.PacketID = id

	var cmd interface {
		command.Command
		Result() <-chan command.PublishResult
	}
	if qos == 1 {
		cmd = command.NewPublishQoS1(pub, m.settings.RetryPolicy())
	} else {
		cmd = command.NewPublishQoS2(pub, m.settings.RetryPolicy())
	}
	m.session.Registry.AddOutbound(cmd)
	cmd.Tick(time.Now(), m)
	return cmd.Result(), nil
}

// Subscribe submits filters and returns the channel carrying per-filter
// results once the broker's SUBACK arrives.
func (m *Machine) Subscribe(filters []topic.Filter) (<-chan command.SubscribeResult, error) {
	if !m.State().CanSubscribe() {
		return nil, ErrNotConnected
	}
	id, err := m.session.Registry.NextID()
	if err != nil {
		result := make(chan command.SubscribeResult, 1)
		result <- command.SubscribeResult{Err: err}
		return result, nil
	}
	subs := make([]packet.Subscription, 0, len(filters))
	for _, f := range filters {
		subs = append(subs, packet.Subscription{
			TopicFilter:       f.Filter,
			MaximumQoS:        f.QoS,
			NoLocal:           boolToUint8(f.NoLocal),
			RetainAsPublished: boolToUint8(f.RetainAsPublished),
			RetainHandling:    uint8(f.RetainHandling),
		})
	}
	pkt := &packet.SUBSCRIBE{
		FixedHeader:   &packet.FixedHeader{Version: m.settings.Version, Kind: 0x8, QoS: 1},
		PacketID:      id,
		Subscriptions: subs,
	}
	cmd := command.NewSubscribe(pkt, filters, m.settings.RetryPolicy())
	m.session.Registry.AddOutbound(cmd)
	cmd.Tick(time.Now(), m)
	return cmd.Result(), nil
}

// Unsubscribe submits filters for removal and returns the channel
// carrying per-filter results once the broker's UNSUBACK arrives.
func (m *Machine) Unsubscribe(filters []string) (<-chan command.UnsubscribeResult, error) {
	if !m.State().CanUnsubscribe() {
		return nil, ErrNotConnected
	}
	id, err := m.session.Registry.NextID()
	if err != nil {
		result := make(chan command.UnsubscribeResult, 1)
		result <- command.UnsubscribeResult{Err: err}
		return result, nil
	}
	subs := make([]packet.Subscription, 0, len(filters))
	for _, f := range filters {
		subs = append(subs, packet.Subscription{TopicFilter: f})
	}
	pkt := &packet.UNSUBSCRIBE{
		FixedHeader:   &packet.FixedHeader{Version: m.settings.Version, Kind: 0xA, QoS: 1},
		PacketID:      id,
		Subscriptions: subs,
	}
	cmd := command.NewUnsubscribe(pkt, filters, m.settings.RetryPolicy())
	m.session.Registry.AddOutbound(cmd)
	cmd.Tick(time.Now(), m)
	return cmd.Result(), nil
}

// Run drives the reconnect loop until ctx is cancelled or Disconnect is
// called: dial, CONNECT/CONNACK handshake, then supervise the reader and
// ticker goroutines for as long as the connection stays up. On any
// failure it loops back to dialing, honoring max_connection_retries.
func (m *Machine) Run(ctx context.Context) error {
	attempts := uint8(0)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		m.mu.Lock()
		stop := m.stopRequested
		m.mu.Unlock()
		if stop {
			return nil
		}

		err := m.runOnce(ctx)
		if m.State() == Connected {
			// The handshake succeeded before this connection dropped, so
			// the next attempt starts with a fresh retry budget.
			attempts = 0
		}
		if m.onDisconnect != nil {
			m.onDisconnect()
		}

		m.mu.Lock()
		stop = m.stopRequested
		requested := m.reconnectRequested
		m.reconnectRequested = false
		m.mu.Unlock()
		if stop {
			m.setState(Disconnected)
			return nil
		}
		if requested {
			// Teardown the user asked for via Connect(clean=true); retry
			// immediately without burning an attempt or failing the new
			// connect waiters.
			m.setState(Connecting)
			continue
		}

		m.failConnectWaiters(err)
		if m.onConnect != nil {
			m.onConnect(false)
		}

		attempts++
		if attempts >= m.settings.MaxConnectionRetries {
			m.session.CompleteDisconnect()
			m.setState(Disconnected)
			return errors.New("state: max connection retries exceeded")
		}
		m.setState(Connecting)
		// Each failed attempt lengthens the wait linearly: the first retry
		// waits one interval, the second two, and so on.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.settings.InitialRetryInterval * time.Duration(attempts)):
		}
	}
}

// runOnce performs one full dial-connect-serve cycle and blocks until the
// connection drops or ctx is cancelled.
func (m *Machine) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, m.settings.SocketConnectTimeout)
	conn, err := m.dialer.Dial(dialCtx, m.settings.URL)
	cancel()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.conn = nil
		stop := m.stopRequested
		m.mu.Unlock()
		conn.Close()
		if stop {
			m.session.CompleteDisconnect()
		} else {
			m.session.RecordDrop()
		}
	}()

	connackCh := make(chan *packet.CONNACK, 1)
	asm := transport.NewAssembler(conn, m.settings.Version, m.settings.MaxPacketSize)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return m.readLoop(gctx, asm, connackCh) })
	group.Go(func() error {
		<-gctx.Done()
		conn.Close()
		return gctx.Err()
	})
	group.Go(func() error {
		if err := m.connect(gctx, conn, connackCh); err != nil {
			return err
		}
		m.setState(Connected)
		m.resolveConnectWaiters(nil)
		if m.onConnect != nil {
			m.onConnect(true)
		}
		return m.tickLoop(gctx)
	})

	return group.Wait()
}

func (m *Machine) connect(ctx context.Context, conn io.Writer, connackCh <-chan *packet.CONNACK) error {
	m.mu.Lock()
	clean := m.cleanSession
	m.mu.Unlock()
	var flags packet.ConnectFlags
	if clean {
		flags = packet.ConnectFlags(0x02)
	}
	connect := &packet.CONNECT{
		FixedHeader:  &packet.FixedHeader{Version: m.settings.Version, Kind: 0x1},
		ClientID:     m.session.ClientID,
		KeepAlive:    uint16(m.settings.KeepAlive / time.Second),
		Username:     m.settings.Username,
		Password:     m.settings.Password,
		ConnectFlags: flags,
	}
	if err := connect.Pack(conn); err != nil {
		return err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, m.settings.MQTTConnectTimeout)
	defer cancel()
	select {
	case <-timeoutCtx.Done():
		return timeoutCtx.Err()
	case ack, ok := <-connackCh:
		if !ok {
			return errors.New("state: connection closed before CONNACK")
		}
		if ack.ConnectReturnCode.Code != 0 {
			return ack.ConnectReturnCode
		}
		m.session.CompleteConnect(ack)
		return nil
	}
}

// readLoop decodes inbound packets and routes each one: CONNACK to the
// connect handshake, acknowledgements to the in-flight registry, PUBLISH
// through the QoS-specific receive path, and PINGRESP to any outstanding
// ping command.
func (m *Machine) readLoop(ctx context.Context, asm *transport.Assembler, connackCh chan<- *packet.CONNACK) error {
	defer close(connackCh)
	for {
		pkt, err := asm.Next()
		if err != nil {
			return err
		}
		session.RecordPacketReceived(m.session.ClientID)
		switch p := pkt.(type) {
		case *packet.CONNACK:
			select {
			case connackCh <- p:
			case <-ctx.Done():
				return ctx.Err()
			}
		case *packet.PUBLISH:
			if err := m.handlePublish(p); err != nil {
				return err
			}
		case *packet.PUBREL:
			m.session.Registry.ReleaseInboundQoS2(p.PacketID)
			pubcomp := &packet.PUBCOMP{FixedHeader: &packet.FixedHeader{Version: m.settings.Version, Kind: 0x7}, PacketID: p.PacketID}
			if err := m.Send(pubcomp); err != nil {
				return err
			}
		case *packet.PINGRESP:
			m.pingMu.Lock()
			cmd := m.pingCmd
			m.pingMu.Unlock()
			if cmd != nil {
				cmd.Acknowledge(p)
			}
		default:
			m.session.Registry.Acknowledge(pkt)
		}
	}
}

func (m *Machine) handlePublish(pub *packet.PUBLISH) error {
	switch pub.QoS {
	case 0:
		m.deliver(pub.Message)
	case 1:
		puback := &packet.PUBACK{FixedHeader: &packet.FixedHeader{Version: m.settings.Version, Kind: 0x4}, PacketID: pub.PacketID}
		if err := m.Send(puback); err != nil {
			return err
		}
		m.deliver(pub.Message)
	case 2:
		isNew := m.session.Registry.MarkInboundQoS2(pub.PacketID)
		pubrec := &packet.PUBREC{FixedHeader: &packet.FixedHeader{Version: m.settings.Version, Kind: 0x5}, PacketID: pub.PacketID}
		if err := m.Send(pubrec); err != nil {
			return err
		}
		if isNew {
			m.deliver(pub.Message)
		}
	}
	return nil
}

func (m *Machine) deliver(msg *packet.Message) {
	m.session.Deliver(msg)
	if m.onMsg != nil {
		m.onMsg(msg)
	}
}

// tickLoop drives the in-flight registry's retry timers and the
// keep-alive ping. A self-ticking Machine runs its own 200ms ticker; a
// pooled Machine leaves ticking to its Pool, which calls Tick at the
// Pool's own cadence.
func (m *Machine) tickLoop(ctx context.Context) error {
	if m.selfTicking {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()

		m.activityMu.Lock()
		m.lastActivity = time.Now()
		m.activityMu.Unlock()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case now := <-ticker.C:
				if err := m.Tick(now); err != nil {
					return err
				}
			}
		}
	}
	// Pool-driven: the owning ClientPool calls Tick at its own cadence, so
	// this goroutine just waits out the connection's lifetime.
	m.activityMu.Lock()
	m.lastActivity = time.Now()
	m.activityMu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

// Tick drives one iteration of retry/keep-alive bookkeeping: the
// in-flight registry's retransmission timers, and the keep-alive
// PINGREQ once the connection has been idle for KeepAlive. A Machine
// created directly calls this from its own internal ticker; a Machine
// obtained from a ClientPool is driven by the pool's shared ~60Hz tick
// loop instead, one ticker across every pooled client. It
// reports a non-nil error only when the keep-alive ping itself fails,
// which the caller treats as a reconnect trigger.
func (m *Machine) Tick(now time.Time) error {
	if m.State() != Connected {
		return nil
	}
	m.session.Registry.Tick(now, m)

	m.pingMu.Lock()
	ping := m.pingCmd
	m.pingMu.Unlock()

	if ping != nil {
		select {
		case err := <-ping.Result():
			m.pingMu.Lock()
			m.pingCmd = nil
			m.pingMu.Unlock()
			if err != nil {
				return err
			}
		default:
			ping.Tick(now, m)
		}
		return nil
	}

	m.activityMu.Lock()
	idle := now.Sub(m.lastActivity)
	m.activityMu.Unlock()
	if m.settings.KeepAlive > 0 && idle >= m.settings.KeepAlive {
		newPing := command.NewPingReq(m.settings.Version, m.settings.RetryPolicy())
		m.pingMu.Lock()
		m.pingCmd = newPing
		m.pingMu.Unlock()
		newPing.Tick(now, m)
	}
	return nil
}

// Abort closes the current connection, if any, forcing runOnce to
// return and the reconnect loop to retry. It exists for an external
// driver (a ClientPool running its own shared Tick loop) that observes
// Tick return an error from outside the Machine's own goroutines and
// has no other way to unwind the connection.
func (m *Machine) Abort() {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (m *Machine) resolveConnectWaiters(err error) {
	m.mu.Lock()
	waiters := m.connectWaiters
	m.connectWaiters = nil
	m.mu.Unlock()
	for _, w := range waiters {
		w <- err
	}
}

func (m *Machine) failConnectWaiters(err error) {
	m.resolveConnectWaiters(err)
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
