package session

import (
	"testing"
	"time"

	"github.com/golang-io/mqtt/command"
	"github.com/golang-io/mqtt/idpool"
	"github.com/golang-io/mqtt/packet"
)

type fakeSender struct{ sent int }

func (s *fakeSender) Send(pkt packet.Packet) error { s.sent++; return nil }

func TestRegistryAcknowledgeReleasesID(t *testing.T) {
	reg := NewRegistry(idpool.New(), "client-1")
	id, err := reg.NextID()
	if err != nil {
		t.Fatalf("NextID: %v", err)
	}
	pkt := &packet.PUBLISH{FixedHeader: &packet.FixedHeader{Kind: 0x3, QoS: 1}, PacketID: id, Message: &packet.Message{TopicName: "a"}}
	cmd := command.NewPublishQoS1(pkt, command.DefaultRetryPolicy)
	reg.AddOutbound(cmd)

	if !reg.HasInFlight(id) {
		t.Fatalf("expected id %d to be in flight", id)
	}

	outcome, matched := reg.Acknowledge(&packet.PUBACK{PacketID: id})
	if !matched || outcome != command.Done {
		t.Fatalf("Acknowledge = (%v, %v), want (Done, true)", outcome, matched)
	}
	if reg.HasInFlight(id) {
		t.Fatalf("id %d should no longer be in flight", id)
	}

	id2, err := reg.NextID()
	if err != nil {
		t.Fatalf("NextID: %v", err)
	}
	if id2 != id {
		t.Fatalf("released id was not the next one allocated: got %d, want %d", id2, id)
	}
}

func TestRegistryAbandonAll(t *testing.T) {
	reg := NewRegistry(idpool.New(), "client-2")
	id, _ := reg.NextID()
	pkt := &packet.PUBLISH{FixedHeader: &packet.FixedHeader{Kind: 0x3, QoS: 1}, PacketID: id, Message: &packet.Message{TopicName: "a"}}
	cmd := command.NewPublishQoS1(pkt, command.DefaultRetryPolicy)
	reg.AddOutbound(cmd)

	reg.AbandonAll()
	if reg.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after AbandonAll", reg.Len())
	}
	res := <-cmd.Result()
	if res.Err != command.ErrAbandoned {
		t.Fatalf("Err = %v, want ErrAbandoned", res.Err)
	}
}

func TestRegistryInboundQoS2Dedup(t *testing.T) {
	reg := NewRegistry(idpool.New(), "client-3")
	if !reg.MarkInboundQoS2(5) {
		t.Fatalf("first MarkInboundQoS2 should report new")
	}
	if reg.MarkInboundQoS2(5) {
		t.Fatalf("second MarkInboundQoS2 with same id should report duplicate")
	}
	reg.ReleaseInboundQoS2(5)
	if !reg.MarkInboundQoS2(5) {
		t.Fatalf("MarkInboundQoS2 after release should report new again")
	}
}

func TestRegistryTickRetransmits(t *testing.T) {
	reg := NewRegistry(idpool.New(), "client-4")
	id, _ := reg.NextID()
	pkt := &packet.PUBLISH{FixedHeader: &packet.FixedHeader{Kind: 0x3, QoS: 1}, PacketID: id, Message: &packet.Message{TopicName: "a"}}
	cmd := command.NewPublishQoS1(pkt, command.RetryPolicy{Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 1, MaxRetries: 10})
	reg.AddOutbound(cmd)

	sender := &fakeSender{}
	now := time.Now()
	reg.Tick(now, sender)
	if sender.sent != 1 {
		t.Fatalf("expected 1 send, got %d", sender.sent)
	}
	reg.Tick(now.Add(2*time.Second), sender)
	if sender.sent != 2 {
		t.Fatalf("expected 2 sends after deadline, got %d", sender.sent)
	}
}

func TestContextDeliverRoutesToMatchingHandlers(t *testing.T) {
	ctx := NewContext("client-5")
	var got []string
	ctx.Subscribe("home/+/temp", func(msg *packet.Message) { got = append(got, msg.TopicName) })
	ctx.Subscribe("home/#", func(msg *packet.Message) { got = append(got, "wildcard:"+msg.TopicName) })

	ctx.Deliver(&packet.Message{TopicName: "home/kitchen/temp"})
	if len(got) != 2 {
		t.Fatalf("expected 2 handler invocations, got %d: %v", len(got), got)
	}

	ctx.Unsubscribe("home/#")
	got = nil
	ctx.Deliver(&packet.Message{TopicName: "home/kitchen/temp"})
	if len(got) != 1 {
		t.Fatalf("expected 1 handler invocation after unsubscribe, got %d", len(got))
	}
}

func TestCapabilitiesFromConnackV311Defaults(t *testing.T) {
	ack := &packet.CONNACK{FixedHeader: &packet.FixedHeader{Version: packet.VERSION311}}
	caps := CapabilitiesFromConnack(ack)
	if caps.ReceiveMaximum != 65535 {
		t.Fatalf("ReceiveMaximum = %d, want 65535 default", caps.ReceiveMaximum)
	}
}

func TestCapabilitiesFromConnackV5Overrides(t *testing.T) {
	ack := &packet.CONNACK{
		FixedHeader: &packet.FixedHeader{Version: packet.VERSION500},
		Props:       &packet.ConnackProps{ReceiveMaximum: 10, MaximumQoS: 1, RetainAvailable: 1},
	}
	caps := CapabilitiesFromConnack(ack)
	if caps.ReceiveMaximum != 10 {
		t.Fatalf("ReceiveMaximum = %d, want 10", caps.ReceiveMaximum)
	}
	if caps.MaximumQoS != 1 {
		t.Fatalf("MaximumQoS = %d, want 1", caps.MaximumQoS)
	}
	if !caps.RetainAvailable {
		t.Fatalf("RetainAvailable = false, want true")
	}
}
