package mqtt

import (
	"crypto/tls"
	"time"

	"github.com/golang-io/mqtt/packet"
)

// CredentialsProvider supplies the username/password a CONNECT carries.
// Kept as a collaborator interface rather than two plain string fields
// so a caller can rotate credentials (e.g. a short-lived IoT token)
// without tearing down and rebuilding the Client; ConnectionSettings'
// Fingerprint deliberately excludes the password precisely so rotation
// reuses the same pooled Client.
type CredentialsProvider interface {
	Credentials() (username, password string)
}

type staticCredentials struct{ username, password string }

func (s staticCredentials) Credentials() (string, string) { return s.username, s.password }

// ThreadMode selects how a Client's ticking and callback delivery are
// scheduled.
type ThreadMode int

const (
	// BackgroundWithCallbackMarshalling runs the tick/read loop on an
	// internal goroutine and queues every signal onto one dedicated
	// delivery goroutine, which fires them in order. This is the default.
	BackgroundWithCallbackMarshalling ThreadMode = iota
	// BackgroundWithoutCallbackMarshalling runs the tick/read loop on an
	// internal goroutine but fires signals directly from whichever
	// goroutine observed the triggering event.
	BackgroundWithoutCallbackMarshalling
	// HostLoop runs the tick/read loop on an internal goroutine as well,
	// but queues signals until the host calls Client.Poll; they fire
	// synchronously from inside that call.
	HostLoop
)

// ConnectionSettings is the full configuration set a Client runs under.
// The zero value is not valid; build one with NewConnectionSettings.
type ConnectionSettings struct {
	URL         string
	ClientID    string
	Credentials CredentialsProvider

	ProtocolVersion byte

	KeepAliveInterval       time.Duration
	SocketConnectionTimeout time.Duration
	MQTTConnectionTimeout   time.Duration
	PacketRetryInterval     time.Duration
	InitialRetryInterval    time.Duration
	RetryBackoffMultiplier  float64
	MaxConnectionRetries    uint8
	MaxPacketRetries        uint8
	MaxPacketSize           uint32
	ShouldVerifyCertificate bool
	ThreadMode              ThreadMode
	TLSClientConfig         *tls.Config
	InitialSubscriptions    []packet.Subscription
}

// Option configures a ConnectionSettings at construction time.
type Option func(*ConnectionSettings)

// NewConnectionSettings applies opts over the defaults:
// packet_retry_interval=5s, initial_retry_connection_interval=3s,
// socket_connection_timeout=10s, keep_alive_interval=120s,
// mqtt_connection_timeout=10s, max_connection_retries=5,
// max_packet_retries=5, max_packet_size=1MiB, protocol_version=5.0,
// should_verify_certificate=true.
func NewConnectionSettings(opts ...Option) ConnectionSettings {
	s := ConnectionSettings{
		URL:                     "mqtt://127.0.0.1:1883",
		ProtocolVersion:         packet.VERSION500,
		KeepAliveInterval:       120 * time.Second,
		SocketConnectionTimeout: 10 * time.Second,
		MQTTConnectionTimeout:   10 * time.Second,
		PacketRetryInterval:     5 * time.Second,
		InitialRetryInterval:    3 * time.Second,
		RetryBackoffMultiplier:  1.5,
		MaxConnectionRetries:    5,
		MaxPacketRetries:        5,
		MaxPacketSize:           1 << 20,
		ShouldVerifyCertificate: true,
		ThreadMode:              BackgroundWithCallbackMarshalling,
	}
	for _, o := range opts {
		o(&s)
	}
	if !s.ShouldVerifyCertificate && s.TLSClientConfig == nil {
		s.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return s
}

// URL sets the broker URL, e.g. "mqtt://host:1883", "mqtts://host:8883",
// "ws://host:8080/mqtt", or "wss://host/mqtt".
func URL(url string) Option {
	return func(s *ConnectionSettings) { s.URL = url }
}

// ClientID pins the client identifier instead of deriving one
// automatically.
func ClientID(id string) Option {
	return func(s *ConnectionSettings) { s.ClientID = id }
}

// Credentials sets a fixed username/password pair.
func Credentials(username, password string) Option {
	return func(s *ConnectionSettings) {
		s.Credentials = staticCredentials{username: username, password: password}
	}
}

// CredentialsFrom installs a CredentialsProvider so the username/password
// can be rotated without rebuilding the Client.
func CredentialsFrom(p CredentialsProvider) Option {
	return func(s *ConnectionSettings) { s.Credentials = p }
}

// Version selects the protocol version: packet.VERSION311 /
// packet.VERSION500, or the strings "3.1.1" / "5.0.0".
func Version[T ~string | ~byte](version T) Option {
	return func(s *ConnectionSettings) {
		switch v := any(version).(type) {
		case byte:
			s.ProtocolVersion = v
		case string:
			switch v {
			case "5.0.0", "5.0", "5":
				s.ProtocolVersion = packet.VERSION500
			case "3.1.1":
				s.ProtocolVersion = packet.VERSION311
			}
		}
	}
}

// KeepAlive sets the keep-alive interval; 0 disables PINGREQ.
func KeepAlive(d time.Duration) Option {
	return func(s *ConnectionSettings) { s.KeepAliveInterval = d }
}

// SocketConnectionTimeout bounds how long the transport dial may take.
func SocketConnectionTimeout(d time.Duration) Option {
	return func(s *ConnectionSettings) { s.SocketConnectionTimeout = d }
}

// MQTTConnectionTimeout bounds how long the CONNECT/CONNACK handshake may
// take once the transport is up.
func MQTTConnectionTimeout(d time.Duration) Option {
	return func(s *ConnectionSettings) { s.MQTTConnectionTimeout = d }
}

// PacketRetryInterval sets the minimum wait before an unacknowledged
// QoS 1/2 packet is retransmitted, before backoff is applied.
func PacketRetryInterval(d time.Duration) Option {
	return func(s *ConnectionSettings) { s.PacketRetryInterval = d }
}

// RetryInterval sets the base wait between connection attempts; each
// failed attempt lengthens the wait by one more interval.
func RetryInterval(d time.Duration) Option {
	return func(s *ConnectionSettings) { s.InitialRetryInterval = d }
}

// RetryBackoffMultiplier scales the packet retransmission interval on
// each successive attempt. The wait between connection attempts does not
// use it (see RetryInterval).
func RetryBackoffMultiplier(m float64) Option {
	return func(s *ConnectionSettings) { s.RetryBackoffMultiplier = m }
}

// MaxConnectionRetries caps reconnect attempts before the client gives up
// and settles into Disconnected.
func MaxConnectionRetries(n uint8) Option {
	return func(s *ConnectionSettings) { s.MaxConnectionRetries = n }
}

// MaxPacketRetries caps transmissions of a single in-flight command, the
// initial send included, before it is abandoned.
func MaxPacketRetries(n uint8) Option {
	return func(s *ConnectionSettings) { s.MaxPacketRetries = n }
}

// MaxPacketSize bounds the largest packet the assembler will accept;
// a larger inbound packet forces a reconnect.
func MaxPacketSize(n uint32) Option {
	return func(s *ConnectionSettings) { s.MaxPacketSize = n }
}

// VerifyCertificate toggles TLS certificate verification for mqtts/wss.
// Certificate management itself is delegated to the transport; this is
// only a hint consumed when building the default *tls.Config.
func VerifyCertificate(verify bool) Option {
	return func(s *ConnectionSettings) { s.ShouldVerifyCertificate = verify }
}

// WithThreadMode selects how ticking and callback delivery are scheduled.
func WithThreadMode(mode ThreadMode) Option {
	return func(s *ConnectionSettings) { s.ThreadMode = mode }
}

// WithTLSConfig supplies a caller-constructed *tls.Config for mqtts/wss,
// overriding the default derived from VerifyCertificate.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(s *ConnectionSettings) { s.TLSClientConfig = cfg }
}

// Subscription queues filters to be (re)subscribed immediately after
// every successful connect, including reconnects.
func Subscription(subs ...packet.Subscription) Option {
	return func(s *ConnectionSettings) {
		s.InitialSubscriptions = append(s.InitialSubscriptions, subs...)
	}
}
