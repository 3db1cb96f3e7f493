package state

import (
	"crypto/tls"
	"net/url"
	"time"

	"github.com/golang-io/mqtt/command"
	"github.com/golang-io/mqtt/packet"
)

// Settings is the closed configuration set a Machine runs under. The
// root package's ConnectionSettings builds one of these when it starts a
// Machine; state never reads the root package's Option type directly so
// the two packages stay acyclic.
type Settings struct {
	URL      *url.URL
	ClientID string
	Version  byte
	Username string
	Password string

	KeepAlive              time.Duration
	SocketConnectTimeout   time.Duration
	MQTTConnectTimeout     time.Duration
	PacketRetryInterval    time.Duration
	InitialRetryInterval   time.Duration
	RetryBackoffMultiplier float64
	MaxConnectionRetries   uint8
	MaxPacketRetries       uint8
	MaxPacketSize          uint32
	TLSClientConfig        *tls.Config
}

// RetryPolicy derives the command package's retry policy from this
// Settings. Packet retransmission runs on its own interval, separate
// from the connection-level reconnect backoff.
func (s Settings) RetryPolicy() command.RetryPolicy {
	return command.RetryPolicy{
		Initial:    s.PacketRetryInterval,
		Max:        30 * time.Second,
		Multiplier: s.RetryBackoffMultiplier,
		MaxRetries: s.MaxPacketRetries,
	}
}

// DefaultSettings returns the documented defaults.
func DefaultSettings() Settings {
	return Settings{
		Version:                packet.VERSION500,
		KeepAlive:              120 * time.Second,
		SocketConnectTimeout:   10 * time.Second,
		MQTTConnectTimeout:     10 * time.Second,
		PacketRetryInterval:    5 * time.Second,
		InitialRetryInterval:   3 * time.Second,
		RetryBackoffMultiplier: 1.5,
		MaxConnectionRetries:   5,
		MaxPacketRetries:       5,
		MaxPacketSize:          1 << 20,
	}
}
