package session

import "github.com/golang-io/mqtt/packet"

// ServerCapabilities records what the broker announced in its CONNACK.
// MQTT 5.0 lets a broker constrain a session (e.g. a receive-maximum
// lower than what the client requested); this struct is intentionally
// descriptive only — nothing in this package enforces the limits it
// records. The in-flight registry does not throttle against
// ReceiveMaximum: the broker itself polices that limit by withholding
// further PUBACK/PUBREC until it has room, so a client-side enforcement
// copy would only risk drifting out of sync with the broker's own count.
type ServerCapabilities struct {
	ReceiveMaximum                  uint16
	MaximumQoS                      uint8
	RetainAvailable                 bool
	MaximumPacketSize               uint32
	TopicAliasMaximum               uint16
	WildcardSubscriptionAvailable   bool
	SubscriptionIdentifierAvailable bool
	SharedSubscriptionAvailable     bool
	ServerKeepAlive                 uint16
	AssignedClientID                string
}

// DefaultServerCapabilities describes an MQTT 3.1.1 broker, or a 5.0
// broker that omitted every optional CONNACK property: every feature is
// assumed available, with no flow-control cap.
func DefaultServerCapabilities() ServerCapabilities {
	return ServerCapabilities{
		ReceiveMaximum:                  65535,
		MaximumQoS:                      2,
		RetainAvailable:                 true,
		WildcardSubscriptionAvailable:   true,
		SubscriptionIdentifierAvailable: true,
		SharedSubscriptionAvailable:     true,
	}
}

// CapabilitiesFromConnack derives ServerCapabilities from an inbound
// CONNACK. Under v3.1.1, or a v5.0 CONNACK with no properties at all, it
// returns DefaultServerCapabilities unchanged. Otherwise each v5.0
// property that was actually sent overrides the corresponding default;
// a property absent from the wire keeps its zero value, which for the
// boolean-flag properties means "not available" rather than "unknown".
func CapabilitiesFromConnack(ack *packet.CONNACK) ServerCapabilities {
	caps := DefaultServerCapabilities()
	if ack.Props == nil {
		return caps
	}
	p := ack.Props
	if p.ReceiveMaximum != 0 {
		caps.ReceiveMaximum = p.ReceiveMaximum
	}
	caps.MaximumQoS = 2
	if p.MaximumQoS == 0 || p.MaximumQoS == 1 {
		caps.MaximumQoS = p.MaximumQoS
	}
	caps.RetainAvailable = p.RetainAvailable != 0
	if p.MaximumPacketSize != 0 {
		caps.MaximumPacketSize = p.MaximumPacketSize
	}
	if p.TopicAliasMaximum != 0 {
		caps.TopicAliasMaximum = p.TopicAliasMaximum
	}
	caps.WildcardSubscriptionAvailable = p.WildcardSubscriptionAvailable != 0
	caps.SubscriptionIdentifierAvailable = p.SubscriptionIdentifierAvailable != 0
	caps.SharedSubscriptionAvailable = p.SharedSubscriptionAvailable != 0
	caps.ServerKeepAlive = p.ServerKeepAlive
	caps.AssignedClientID = p.AssignedClientID
	return caps
}
