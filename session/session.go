package session

import (
	"sync"

	"github.com/golang-io/mqtt/idpool"
	"github.com/golang-io/mqtt/packet"
	"github.com/golang-io/mqtt/topic"
)

// Handler receives an inbound application message for a topic that
// matched one of the client's subscriptions.
type Handler func(msg *packet.Message)

// Context is the SessionContext: everything about a client's MQTT
// session that outlives any one TCP/TLS/WebSocket connection — its
// packet-identifier pool, in-flight command registry, subscription
// dispatch table, and the broker capabilities learned from the last
// CONNACK. A Context is created once per Client and reused across
// reconnects; only AbandonAll is called on disconnect, never a full
// reset, so QoS 1/2 state can in principle survive a reconnect under a
// persistent session (CleanStart=false).
type Context struct {
	ClientID string

	Registry *Registry
	Matcher  *topic.Matcher

	mu           sync.RWMutex
	handlers     map[string]Handler
	capabilities ServerCapabilities
}

// NewContext returns a fresh session for clientID.
func NewContext(clientID string) *Context {
	return &Context{
		ClientID:     clientID,
		Registry:     NewRegistry(idpool.New(), clientID),
		Matcher:      topic.NewMatcher(),
		handlers:     make(map[string]Handler),
		capabilities: DefaultServerCapabilities(),
	}
}

// CompleteConnect records the capabilities the broker announced in its
// CONNACK. Called once a connection attempt finishes successfully.
func (c *Context) CompleteConnect(ack *packet.CONNACK) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capabilities = CapabilitiesFromConnack(ack)
}

// Capabilities returns the broker capabilities learned from the most
// recent CONNACK.
func (c *Context) Capabilities() ServerCapabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capabilities
}

// CompleteDisconnect abandons every in-flight command. Called when the
// session is over for good: a user-requested disconnect, or the
// reconnect loop giving up.
func (c *Context) CompleteDisconnect() {
	c.Registry.AbandonAll()
}

// RecordDrop counts an unexpected connection drop that the client will
// transparently reconnect from. In-flight commands are deliberately NOT
// abandoned here: a still-unacknowledged QoS>0 publish survives the
// reconnect and is retransmitted (with DUP set) once the new connection
// reaches the connected state.
func (c *Context) RecordDrop() {
	metrics.ReconnectsTotal.WithLabelValues(c.ClientID).Inc()
}

// Subscribe registers handler to receive messages for every topic
// matching filter, and records filter in the topic matcher so Deliver
// can route to it.
func (c *Context) Subscribe(filter string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[filter] = handler
	c.Matcher.Subscribe(filter)
}

// Unsubscribe removes filter's handler and its matcher entry.
func (c *Context) Unsubscribe(filter string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, filter)
	c.Matcher.Unsubscribe(filter)
}

// Deliver fans msg out to the handler of every filter that matches its
// topic. A topic can match more than one registered filter (e.g.
// "a/+/c" and "a/#"); every matching handler is invoked.
func (c *Context) Deliver(msg *packet.Message) {
	c.mu.RLock()
	filters := c.Matcher.Match(msg.TopicName)
	handlers := make([]Handler, 0, len(filters))
	for _, f := range filters {
		if h, ok := c.handlers[f]; ok {
			handlers = append(handlers, h)
		}
	}
	c.mu.RUnlock()
	for _, h := range handlers {
		h(msg)
	}
}
