// Package mqtt is the public API: connect, disconnect, publish,
// subscribe, and unsubscribe against an MQTT 3.1.1 or 5.0 broker over
// TCP, TLS, WebSocket, or WebSocket-over-TLS, with automatic
// reconnection and QoS 1/2 delivery guarantees handled underneath.
//
// A Client is built from ConnectionSettings (see Option) and can be
// constructed directly with New, or obtained through a Pool, which
// deduplicates Clients that share the same connection fingerprint.
package mqtt

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"

	"github.com/golang-io/mqtt/command"
	"github.com/golang-io/mqtt/packet"
	"github.com/golang-io/mqtt/session"
	"github.com/golang-io/mqtt/state"
	"github.com/golang-io/mqtt/topic"
	"github.com/golang-io/mqtt/transport"
)

// wrappedDialer adapts a transport implementation's Dial method, which
// returns the wider net.Conn, to state.Dialer's io.ReadWriteCloser
// return type. Go does not allow covariant return types across
// interface satisfaction, so this small wrapper exists for both
// transport.Adapter and transport.GorillaDialer.
type wrappedDialer struct {
	dial func(ctx context.Context, target *url.URL) (io.ReadWriteCloser, error)
}

func (w wrappedDialer) Dial(ctx context.Context, target *url.URL) (io.ReadWriteCloser, error) {
	return w.dial(ctx, target)
}

// Client is an MQTT client: one logical session that may span many
// underlying transport connections across its lifetime. It is safe for
// concurrent use by multiple goroutines.
type Client struct {
	settings    ConnectionSettings
	parsed      parsedURL
	fingerprint string

	session    *session.Context
	machine    *state.Machine
	dispatcher *dispatcher
	pool       *Pool

	mu            sync.Mutex
	onConnect     func(success bool)
	onMessage     func(msg *packet.Message)
	onPublish     func(msg *packet.Message)
	onSubscribe   func([]topic.SubscribeResult)
	onUnsubscribe func([]topic.UnsubscribeResult)

	runMu     sync.Mutex
	running   bool
	runCancel context.CancelFunc
	runDone   chan struct{}
}

// New builds a standalone Client from opts. Most callers wanting
// automatic deduplication by connection should prefer Pool.GetOrCreate;
// New is for the case where sharing is explicitly unwanted.
func New(opts ...Option) (*Client, error) {
	settings := NewConnectionSettings(opts...)
	return newClient(settings, false)
}

func newClient(settings ConnectionSettings, pooled bool) (*Client, error) {
	pu, err := parseURL(settings.URL)
	if err != nil {
		return nil, err
	}
	fp := pu.fingerprint(settings)
	clientID := settings.ClientID
	if clientID == "" {
		clientID = deriveClientID(fp)
	}

	sess := session.NewContext(clientID)
	ms := state.Settings{
		URL:                    &url.URL{Scheme: pu.Scheme, Host: fmt.Sprintf("%s:%d", pu.Host, pu.Port), Path: pu.Path},
		ClientID:               clientID,
		Version:                settings.ProtocolVersion,
		KeepAlive:              settings.KeepAliveInterval,
		SocketConnectTimeout:   settings.SocketConnectionTimeout,
		MQTTConnectTimeout:     settings.MQTTConnectionTimeout,
		PacketRetryInterval:    settings.PacketRetryInterval,
		InitialRetryInterval:   settings.InitialRetryInterval,
		RetryBackoffMultiplier: settings.RetryBackoffMultiplier,
		MaxConnectionRetries:   settings.MaxConnectionRetries,
		MaxPacketRetries:       settings.MaxPacketRetries,
		MaxPacketSize:          settings.MaxPacketSize,
		TLSClientConfig:        settings.TLSClientConfig,
	}
	if settings.Credentials != nil {
		ms.Username, ms.Password = settings.Credentials.Credentials()
	}

	dialer := buildDialer(pu, settings, pooled)

	var machine *state.Machine
	if pooled {
		machine = state.NewPooledMachine(ms, sess, dialer)
	} else {
		machine = state.NewMachine(ms, sess, dialer)
	}

	c := &Client{
		settings:    settings,
		parsed:      pu,
		fingerprint: fp,
		session:     sess,
		machine:     machine,
		dispatcher:  newDispatcher(settings.ThreadMode),
	}

	machine.OnMessage(func(msg *packet.Message) {
		c.mu.Lock()
		fn := c.onMessage
		c.mu.Unlock()
		if fn != nil {
			c.dispatcher.dispatch(func() { fn(msg) })
		}
	})
	machine.OnConnect(func(ok bool) {
		if ok && len(c.settings.InitialSubscriptions) > 0 {
			// Re-establish the configured subscriptions on every successful
			// connect, reconnects included; the broker only retains them
			// across connections itself under a persistent session.
			go c.subscribeInitial()
		}
		c.mu.Lock()
		fn := c.onConnect
		c.mu.Unlock()
		if fn != nil {
			c.dispatcher.dispatch(func() { fn(ok) })
		}
	})
	return c, nil
}

func (c *Client) subscribeInitial() {
	filters := make([]topic.Filter, 0, len(c.settings.InitialSubscriptions))
	for _, s := range c.settings.InitialSubscriptions {
		filters = append(filters, topic.Filter{Filter: s.TopicFilter, QoS: s.MaximumQoS})
	}
	_, _ = c.Subscribe(filters)
}

// buildDialer picks the transport implementation for pu's scheme. A
// standalone Client dials ws/wss through transport.Adapter
// (golang.org/x/net/websocket); a pooled Client dials ws/wss through
// transport.GorillaDialer instead, whose DialContext honors the pool's
// per-dial context cancellation.
func buildDialer(pu parsedURL, settings ConnectionSettings, pooled bool) state.Dialer {
	if pooled && (pu.Scheme == "ws" || pu.Scheme == "wss") {
		gd := &transport.GorillaDialer{
			TLSClientConfig:  settings.TLSClientConfig,
			HandshakeTimeout: settings.SocketConnectionTimeout,
		}
		return wrappedDialer{dial: func(ctx context.Context, target *url.URL) (io.ReadWriteCloser, error) {
			return gd.Dial(ctx, target)
		}}
	}
	a := &transport.Adapter{TLSClientConfig: settings.TLSClientConfig}
	return wrappedDialer{dial: func(ctx context.Context, target *url.URL) (io.ReadWriteCloser, error) {
		return a.Dial(ctx, target)
	}}
}

// ID returns the client identifier this Client connects under.
func (c *Client) ID() string { return c.session.ClientID }

// Fingerprint returns the stable hash Pool deduplicates clients on.
func (c *Client) Fingerprint() string { return c.fingerprint }

// State reports the client's current lifecycle state: "disconnected",
// "connecting", "connected", or "disconnecting".
func (c *Client) State() string { return c.machine.State().Name() }

// OnConnect registers a callback fired with the outcome of every
// connect attempt (true on success).
func (c *Client) OnConnect(fn func(success bool)) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// OnDisconnect registers a callback fired once the connection is
// observed closed, whether by request or not.
func (c *Client) OnDisconnect(fn func()) {
	c.machine.OnDisconnect(func() { c.dispatcher.dispatch(fn) })
}

// OnMessage registers the catch-all handler invoked for every delivered
// application message, in addition to any handler a filter-specific
// Subscribe call implicitly installs.
func (c *Client) OnMessage(fn func(msg *packet.Message)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// OnPublish registers a callback fired once an outbound publish has been
// delivered: synchronously for QoS 0, on PUBACK for QoS 1, on PUBREC for
// QoS 2.
func (c *Client) OnPublish(fn func(msg *packet.Message)) {
	c.mu.Lock()
	c.onPublish = fn
	c.mu.Unlock()
}

// OnSubscribe registers a callback fired with the per-filter outcome of
// every completed Subscribe call.
func (c *Client) OnSubscribe(fn func([]topic.SubscribeResult)) {
	c.mu.Lock()
	c.onSubscribe = fn
	c.mu.Unlock()
}

// OnUnsubscribe registers a callback fired with the per-filter outcome
// of every completed Unsubscribe call.
func (c *Client) OnUnsubscribe(fn func([]topic.UnsubscribeResult)) {
	c.mu.Lock()
	c.onUnsubscribe = fn
	c.mu.Unlock()
}

// Poll delivers any callbacks queued since the last call. Only
// meaningful under ThreadMode=HostLoop; a no-op in the other two modes,
// since their callbacks are already delivered on their own.
func (c *Client) Poll() { c.dispatcher.Poll() }

// Connect starts (or restarts, under cleanSession) the client's
// reconnect loop and blocks until the first connect attempt resolves,
// or ctx is cancelled first. The reconnect loop itself keeps running in
// the background regardless of ctx once started.
func (c *Client) Connect(ctx context.Context, cleanSession bool) error {
	// Submit the connect request before (re)starting the run loop: the
	// request clears any stop left behind by an earlier Disconnect, so a
	// freshly started loop cannot observe it and exit immediately.
	result := c.machine.Connect(cleanSession)
	c.dispatcher.ensureRunning()

	c.runMu.Lock()
	if !c.running {
		c.running = true
		runCtx, cancel := context.WithCancel(context.Background())
		c.runCancel = cancel
		done := make(chan struct{})
		c.runDone = done
		go func() {
			defer close(done)
			_ = c.machine.Run(runCtx)
			c.runMu.Lock()
			c.running = false
			c.runMu.Unlock()
		}()
	}
	c.runMu.Unlock()
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect gracefully tears the client down: any live connection is
// sent DISCONNECT and closed, the reconnect loop stops, and every
// in-flight command is abandoned.
func (c *Client) Disconnect() error {
	result := c.machine.Disconnect()
	err := <-result

	c.runMu.Lock()
	cancel, done := c.runCancel, c.runDone
	c.runMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	c.dispatcher.stop()
	if c.pool != nil {
		c.pool.Release(c.fingerprint)
	}
	return err
}

// Publish submits msg for delivery at the given QoS and blocks until
// the outcome is known: immediately for QoS 0, on PUBACK for QoS 1, or
// on PUBREC for QoS 2 (ownership of the message has transferred to the
// broker at that point; see command.PublishQoS2's doc comment for why
// that and not PUBCOMP is the resolution point).
func (c *Client) Publish(ctx context.Context, topicName string, payload []byte, qos uint8, retain bool) error {
	if err := topic.ValidateTopicName(topicName); err != nil {
		return fmt.Errorf("mqtt: invalid topic %q: %w", topicName, err)
	}
	msg := &packet.Message{TopicName: topicName, Content: payload}
	resultCh, err := c.machine.Publish(msg, qos, retain)
	if err != nil {
		return err
	}
	select {
	case r := <-resultCh:
		if r.Err == nil {
			c.mu.Lock()
			fn := c.onPublish
			c.mu.Unlock()
			if fn != nil {
				c.dispatcher.dispatch(func() { fn(msg) })
			}
		}
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe submits filters and blocks until the broker's SUBACK
// arrives, returning the per-filter outcome. Each accepted filter is
// registered with the session's routing table; a filter's Delegate (if
// set) then receives every message whose topic matches that filter,
// while the catch-all OnMessage handler receives every delivered
// message regardless.
func (c *Client) Subscribe(filters []topic.Filter) ([]topic.SubscribeResult, error) {
	for _, f := range filters {
		if err := topic.ValidateFilter(f.Filter); err != nil {
			return nil, fmt.Errorf("mqtt: invalid filter %q: %w", f.Filter, err)
		}
	}
	resultCh, err := c.machine.Subscribe(filters)
	if err != nil {
		return nil, err
	}
	result := <-resultCh
	if result.Err != nil {
		return nil, result.Err
	}
	for _, r := range result.Results {
		if !r.Success {
			continue
		}
		handler := func(*packet.Message) {}
		if delegate := r.Filter.Delegate; delegate != nil {
			handler = func(msg *packet.Message) {
				c.dispatcher.dispatch(func() { delegate(msg) })
			}
		}
		c.session.Subscribe(r.Filter.Filter, handler)
	}
	c.mu.Lock()
	fn := c.onSubscribe
	c.mu.Unlock()
	if fn != nil {
		c.dispatcher.dispatch(func() { fn(result.Results) })
	}
	return result.Results, nil
}

// Unsubscribe submits filters for removal and blocks until the broker's
// UNSUBACK arrives, returning the per-filter outcome.
func (c *Client) Unsubscribe(filters []string) ([]topic.UnsubscribeResult, error) {
	resultCh, err := c.machine.Unsubscribe(filters)
	if err != nil {
		return nil, err
	}
	result := <-resultCh
	if result.Err != nil {
		return nil, result.Err
	}
	for _, r := range result.Results {
		if r.Success {
			c.session.Unsubscribe(r.Filter)
		}
	}
	c.mu.Lock()
	fn := c.onUnsubscribe
	c.mu.Unlock()
	if fn != nil {
		c.dispatcher.dispatch(func() { fn(result.Results) })
	}
	return result.Results, nil
}

var (
	// ErrNotConnected is returned by an operation attempted outside the
	// Connected state.
	ErrNotConnected = state.ErrNotConnected
	// ErrRetryExhausted is the terminal error of a publish, subscribe, or
	// unsubscribe whose retry budget ran out before it was acknowledged.
	ErrRetryExhausted = command.ErrRetryExhausted
)
