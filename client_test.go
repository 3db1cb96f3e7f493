package mqtt

import (
	"context"
	"io"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/golang-io/mqtt/packet"
	"github.com/golang-io/mqtt/session"
	"github.com/golang-io/mqtt/state"
	"github.com/golang-io/mqtt/topic"
)

type pipeDialer struct{ conn net.Conn }

func (d pipeDialer) Dial(ctx context.Context, target *url.URL) (io.ReadWriteCloser, error) {
	return d.conn, nil
}

// newTestClient builds a Client wired to clientConn instead of a real
// transport, so tests can drive the broker side of the pipe directly.
func newTestClient(t *testing.T, clientConn net.Conn) *Client {
	t.Helper()
	settings := NewConnectionSettings(Version(packet.VERSION311), KeepAlive(0), MaxConnectionRetries(1))
	ms := state.Settings{
		URL:                    &url.URL{Scheme: "tcp", Host: "broker.local:1883"},
		ClientID:               "test-client",
		Version:                packet.VERSION311,
		MaxConnectionRetries:   1,
		PacketRetryInterval:    10 * time.Millisecond,
		InitialRetryInterval:   10 * time.Millisecond,
		RetryBackoffMultiplier: 1.5,
		MaxPacketRetries:       5,
		MaxPacketSize:          1 << 20,
	}
	sess := session.NewContext("test-client")
	machine := state.NewMachine(ms, sess, pipeDialer{conn: clientConn})
	return &Client{
		settings:   settings,
		session:    sess,
		machine:    machine,
		dispatcher: newDispatcher(settings.ThreadMode),
	}
}

func handshake(t *testing.T, broker net.Conn) {
	t.Helper()
	if _, err := packet.Unpack(packet.VERSION311, broker); err != nil {
		t.Fatalf("broker failed to read CONNECT: %v", err)
	}
	connack := &packet.CONNACK{FixedHeader: &packet.FixedHeader{Version: packet.VERSION311, Kind: 0x2}}
	if err := connack.Pack(broker); err != nil {
		t.Fatalf("broker Pack CONNACK: %v", err)
	}
}

func TestClientConnectAndDisconnect(t *testing.T) {
	client, broker := net.Pipe()
	defer broker.Close()

	c := newTestClient(t, client)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Connect(ctx, true) }()
	handshake(t, broker)

	if err := <-done; err != nil {
		t.Fatalf("Connect() = %v, want nil", err)
	}
	if c.State() != "connected" {
		t.Fatalf("State() = %s, want connected", c.State())
	}

	discDone := make(chan error, 1)
	go func() { discDone <- c.Disconnect() }()
	if _, err := packet.Unpack(packet.VERSION311, broker); err != nil {
		t.Fatalf("broker failed to read DISCONNECT: %v", err)
	}
	select {
	case err := <-discDone:
		if err != nil {
			t.Fatalf("Disconnect() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect did not return")
	}
}

func TestClientPublishQoS0(t *testing.T) {
	client, broker := net.Pipe()
	defer broker.Close()

	c := newTestClient(t, client)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	connDone := make(chan error, 1)
	go func() { connDone <- c.Connect(ctx, true) }()
	handshake(t, broker)
	if err := <-connDone; err != nil {
		t.Fatalf("Connect() = %v, want nil", err)
	}

	pubDone := make(chan error, 1)
	go func() { pubDone <- c.Publish(ctx, "a/b", []byte("hi"), 0, false) }()

	pkt, err := packet.Unpack(packet.VERSION311, broker)
	if err != nil {
		t.Fatalf("broker read PUBLISH: %v", err)
	}
	if pkt.Kind() != 0x3 {
		t.Fatalf("Kind() = %x, want PUBLISH", pkt.Kind())
	}
	if err := <-pubDone; err != nil {
		t.Fatalf("Publish() = %v, want nil", err)
	}
}

func TestClientPublishRejectsInvalidTopic(t *testing.T) {
	client, broker := net.Pipe()
	defer client.Close()
	defer broker.Close()

	c := newTestClient(t, client)
	err := c.Publish(context.Background(), "a/+/c", []byte("hi"), 0, false)
	if err == nil {
		t.Fatal("Publish with a wildcard topic name should be rejected")
	}
}

func TestClientSubscribeDelegatesWildcardDispatch(t *testing.T) {
	client, broker := net.Pipe()
	defer broker.Close()

	c := newTestClient(t, client)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	connDone := make(chan error, 1)
	go func() { connDone <- c.Connect(ctx, true) }()
	handshake(t, broker)
	if err := <-connDone; err != nil {
		t.Fatalf("Connect() = %v, want nil", err)
	}

	got := make(chan string, 4)
	filters := []topic.Filter{
		{Filter: "sensors/+/temperatures", Delegate: func(msg *packet.Message) { got <- "single:" + msg.TopicName }},
		{Filter: "sensors/#", Delegate: func(msg *packet.Message) { got <- "multi:" + msg.TopicName }},
	}
	subDone := make(chan error, 1)
	go func() {
		_, err := c.Subscribe(filters)
		subDone <- err
	}()

	pkt, err := packet.Unpack(packet.VERSION311, broker)
	if err != nil {
		t.Fatalf("broker read SUBSCRIBE: %v", err)
	}
	sub := pkt.(*packet.SUBSCRIBE)
	suback := &packet.SUBACK{
		FixedHeader: &packet.FixedHeader{Version: packet.VERSION311, Kind: 0x9},
		PacketID:    sub.PacketID,
		ReasonCode:  []packet.ReasonCode{{Code: 0}, {Code: 0}},
	}
	if err := suback.Pack(broker); err != nil {
		t.Fatalf("broker Pack SUBACK: %v", err)
	}
	if err := <-subDone; err != nil {
		t.Fatalf("Subscribe() = %v, want nil", err)
	}

	pub := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Version: packet.VERSION311, Kind: 0x3},
		Message:     &packet.Message{TopicName: "sensors/uk/temperatures", Content: []byte{0x1}},
	}
	if err := pub.Pack(broker); err != nil {
		t.Fatalf("broker Pack PUBLISH: %v", err)
	}

	seen := map[string]int{}
	for i := 0; i < 2; i++ {
		select {
		case s := <-got:
			seen[s]++
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delegate %d, saw %v", i, seen)
		}
	}
	if seen["single:sensors/uk/temperatures"] != 1 || seen["multi:sensors/uk/temperatures"] != 1 {
		t.Fatalf("each matching delegate should fire exactly once, saw %v", seen)
	}

	other := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Version: packet.VERSION311, Kind: 0x3},
		Message:     &packet.Message{TopicName: "other/topic", Content: []byte{0x1}},
	}
	if err := other.Pack(broker); err != nil {
		t.Fatalf("broker Pack PUBLISH: %v", err)
	}
	select {
	case s := <-got:
		t.Fatalf("unexpected delegate invocation for non-matching topic: %s", s)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClientSubscribe(t *testing.T) {
	client, broker := net.Pipe()
	defer broker.Close()

	c := newTestClient(t, client)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	connDone := make(chan error, 1)
	go func() { connDone <- c.Connect(ctx, true) }()
	handshake(t, broker)
	if err := <-connDone; err != nil {
		t.Fatalf("Connect() = %v, want nil", err)
	}

	subDone := make(chan struct {
		results []topic.SubscribeResult
		err     error
	}, 1)
	go func() {
		results, err := c.Subscribe([]topic.Filter{{Filter: "a/+", QoS: 1}})
		subDone <- struct {
			results []topic.SubscribeResult
			err     error
		}{results, err}
	}()

	pkt, err := packet.Unpack(packet.VERSION311, broker)
	if err != nil {
		t.Fatalf("broker read SUBSCRIBE: %v", err)
	}
	sub, ok := pkt.(*packet.SUBSCRIBE)
	if !ok {
		t.Fatalf("Kind() = %x, want SUBSCRIBE", pkt.Kind())
	}
	suback := &packet.SUBACK{
		FixedHeader: &packet.FixedHeader{Version: packet.VERSION311, Kind: 0x9},
		PacketID:    sub.PacketID,
		ReasonCode:  []packet.ReasonCode{{Code: 1}},
	}
	if err := suback.Pack(broker); err != nil {
		t.Fatalf("broker Pack SUBACK: %v", err)
	}

	select {
	case res := <-subDone:
		if res.err != nil {
			t.Fatalf("Subscribe() = %v, want nil", res.err)
		}
		if len(res.results) != 1 || !res.results[0].Success {
			t.Fatalf("results = %+v, want one successful result", res.results)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return")
	}
}
