package mqtt

import (
	"testing"
	"time"

	"github.com/golang-io/mqtt/packet"
)

func TestNewConnectionSettingsDefaults(t *testing.T) {
	s := NewConnectionSettings()
	if s.ProtocolVersion != packet.VERSION500 {
		t.Fatalf("ProtocolVersion = %v, want VERSION500", s.ProtocolVersion)
	}
	if s.KeepAliveInterval != 120*time.Second {
		t.Fatalf("KeepAliveInterval = %v, want 120s", s.KeepAliveInterval)
	}
	if s.PacketRetryInterval != 5*time.Second {
		t.Fatalf("PacketRetryInterval = %v, want 5s", s.PacketRetryInterval)
	}
	if s.InitialRetryInterval != 3*time.Second {
		t.Fatalf("InitialRetryInterval = %v, want 3s", s.InitialRetryInterval)
	}
	if s.MaxConnectionRetries != 5 || s.MaxPacketRetries != 5 {
		t.Fatalf("retry defaults = %d/%d, want 5/5", s.MaxConnectionRetries, s.MaxPacketRetries)
	}
	if !s.ShouldVerifyCertificate {
		t.Fatal("ShouldVerifyCertificate should default true")
	}
}

func TestVersionOptionAcceptsStringOrByte(t *testing.T) {
	s := NewConnectionSettings(Version("3.1.1"))
	if s.ProtocolVersion != packet.VERSION311 {
		t.Fatalf("Version(\"3.1.1\") = %v, want VERSION311", s.ProtocolVersion)
	}
	s = NewConnectionSettings(Version(packet.VERSION500))
	if s.ProtocolVersion != packet.VERSION500 {
		t.Fatalf("Version(byte) = %v, want VERSION500", s.ProtocolVersion)
	}
}

func TestVerifyCertificateFalseInstallsInsecureTLSConfig(t *testing.T) {
	s := NewConnectionSettings(VerifyCertificate(false))
	if s.TLSClientConfig == nil || !s.TLSClientConfig.InsecureSkipVerify {
		t.Fatal("VerifyCertificate(false) should install an InsecureSkipVerify TLS config")
	}
}

func TestCredentialsFromRotatesWithoutRebuild(t *testing.T) {
	rot := &rotatingCreds{username: "alice", password: "first"}
	s := NewConnectionSettings(CredentialsFrom(rot))
	u, p := s.Credentials.Credentials()
	if u != "alice" || p != "first" {
		t.Fatalf("got %s/%s, want alice/first", u, p)
	}
	rot.password = "second"
	_, p = s.Credentials.Credentials()
	if p != "second" {
		t.Fatal("CredentialsFrom should read through to the provider on every call")
	}
}

type rotatingCreds struct{ username, password string }

func (r *rotatingCreds) Credentials() (string, string) { return r.username, r.password }

func TestSubscriptionOptionAccumulates(t *testing.T) {
	s := NewConnectionSettings(
		Subscription(packet.Subscription{TopicFilter: "a/+"}),
		Subscription(packet.Subscription{TopicFilter: "b/#"}),
	)
	if len(s.InitialSubscriptions) != 2 {
		t.Fatalf("len(InitialSubscriptions) = %d, want 2", len(s.InitialSubscriptions))
	}
}
