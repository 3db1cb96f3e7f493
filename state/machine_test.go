package state

import (
	"context"
	"io"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/golang-io/mqtt/packet"
	"github.com/golang-io/mqtt/session"
)

type pipeDialer struct{ conn net.Conn }

func (d pipeDialer) Dial(ctx context.Context, target *url.URL) (io.ReadWriteCloser, error) {
	return d.conn, nil
}

func newTestMachine(t *testing.T, clientConn net.Conn) *Machine {
	t.Helper()
	settings := DefaultSettings()
	settings.Version = packet.VERSION311
	settings.URL = &url.URL{Scheme: "tcp", Host: "broker.local:1883"}
	settings.KeepAlive = 0
	settings.MaxConnectionRetries = 1
	sess := session.NewContext("test-client")
	return NewMachine(settings, sess, pipeDialer{conn: clientConn})
}

func TestMachineConnectHandshake(t *testing.T) {
	client, broker := net.Pipe()
	defer broker.Close()

	m := newTestMachine(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	connectResult := m.Connect(false)

	if _, err := packet.Unpack(packet.VERSION311, broker); err != nil {
		t.Fatalf("broker failed to read CONNECT: %v", err)
	}
	connack := &packet.CONNACK{FixedHeader: &packet.FixedHeader{Version: packet.VERSION311, Kind: 0x2}}
	if err := connack.Pack(broker); err != nil {
		t.Fatalf("broker Pack CONNACK: %v", err)
	}

	select {
	case err := <-connectResult:
		if err != nil {
			t.Fatalf("Connect result = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connect result")
	}

	if m.State() != Connected {
		t.Fatalf("State() = %v, want Connected", m.State().Name())
	}

	cancel()
	<-done
}

func TestMachinePublishQoS0SendsImmediately(t *testing.T) {
	client, broker := net.Pipe()
	defer client.Close()
	defer broker.Close()

	m := newTestMachine(t, client)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	connectResult := m.Connect(false)
	if _, err := packet.Unpack(packet.VERSION311, broker); err != nil {
		t.Fatalf("broker read CONNECT: %v", err)
	}
	connack := &packet.CONNACK{FixedHeader: &packet.FixedHeader{Version: packet.VERSION311, Kind: 0x2}}
	connack.Pack(broker)
	<-connectResult

	resultCh, err := m.Publish(&packet.Message{TopicName: "t", Content: []byte("hi")}, 0, false)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	pkt, err := packet.Unpack(packet.VERSION311, broker)
	if err != nil {
		t.Fatalf("broker read PUBLISH: %v", err)
	}
	if pkt.Kind() != 0x3 {
		t.Fatalf("Kind() = %x, want PUBLISH", pkt.Kind())
	}
	select {
	case res := <-resultCh:
		if res.Err != nil {
			t.Fatalf("Publish result err = %v", res.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for QoS0 publish result")
	}
}
