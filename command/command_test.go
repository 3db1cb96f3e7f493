package command

import (
	"testing"
	"time"

	"github.com/golang-io/mqtt/packet"
	"github.com/golang-io/mqtt/topic"
)

type fakeSender struct {
	sent []packet.Packet
}

func (s *fakeSender) Send(pkt packet.Packet) error {
	s.sent = append(s.sent, pkt)
	return nil
}

func testPolicy() RetryPolicy {
	return RetryPolicy{Initial: time.Millisecond, Max: 10 * time.Millisecond, Multiplier: 2, MaxRetries: 3}
}

func TestPublishQoS1Success(t *testing.T) {
	pkt := &packet.PUBLISH{FixedHeader: &packet.FixedHeader{Kind: 0x3, QoS: 1}, PacketID: 7, Message: &packet.Message{TopicName: "a/b"}}
	cmd := NewPublishQoS1(pkt, testPolicy())
	sender := &fakeSender{}
	now := time.Now()

	if out := cmd.Tick(now, sender); out != Busy {
		t.Fatalf("first Tick = %v, want Busy", out)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 packet sent, got %d", len(sender.sent))
	}
	if pkt.FixedHeader.Dup != 0 {
		t.Fatalf("first transmission must not set Dup")
	}

	if out := cmd.Acknowledge(&packet.PUBACK{PacketID: 7}); out != Done {
		t.Fatalf("Acknowledge = %v, want Done", out)
	}
	res := <-cmd.Result()
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
}

func TestPublishQoS1RetransmitsWithDup(t *testing.T) {
	pkt := &packet.PUBLISH{FixedHeader: &packet.FixedHeader{Kind: 0x3, QoS: 1}, PacketID: 1, Message: &packet.Message{TopicName: "a"}}
	cmd := NewPublishQoS1(pkt, testPolicy())
	sender := &fakeSender{}
	now := time.Now()

	cmd.Tick(now, sender)
	// not due yet
	if out := cmd.Tick(now, sender); out != Busy {
		t.Fatalf("Tick before deadline = %v, want Busy", out)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected no retransmission before deadline, got %d sends", len(sender.sent))
	}

	later := now.Add(2 * time.Second)
	cmd.Tick(later, sender)
	if len(sender.sent) != 2 {
		t.Fatalf("expected retransmission after deadline, got %d sends", len(sender.sent))
	}
	if pkt.FixedHeader.Dup != 1 {
		t.Fatalf("retransmission must set Dup")
	}
}

func TestPublishQoS1RetryExhaustion(t *testing.T) {
	pkt := &packet.PUBLISH{FixedHeader: &packet.FixedHeader{Kind: 0x3, QoS: 1}, PacketID: 2, Message: &packet.Message{TopicName: "a"}}
	cmd := NewPublishQoS1(pkt, testPolicy())
	sender := &fakeSender{}
	now := time.Now()

	for i := 0; i < 4; i++ { // initial send + 2 retries = MaxRetries reached; 4th tick exhausts
		cmd.Tick(now, sender)
		now = now.Add(2 * time.Second)
	}
	if out := cmd.Tick(now, sender); out != Done {
		t.Fatalf("Tick after exhaustion = %v, want Done", out)
	}
	res := <-cmd.Result()
	if res.Err != ErrRetryExhausted {
		t.Fatalf("Err = %v, want ErrRetryExhausted", res.Err)
	}
}

func TestPublishQoS1Abandon(t *testing.T) {
	pkt := &packet.PUBLISH{FixedHeader: &packet.FixedHeader{Kind: 0x3, QoS: 1}, PacketID: 3, Message: &packet.Message{TopicName: "a"}}
	cmd := NewPublishQoS1(pkt, testPolicy())
	cmd.Abandon()
	res := <-cmd.Result()
	if res.Err != ErrAbandoned {
		t.Fatalf("Err = %v, want ErrAbandoned", res.Err)
	}
	// double abandon must not panic on a closed channel
	cmd.Abandon()
}

func TestPublishQoS2FullHandshake(t *testing.T) {
	pkt := &packet.PUBLISH{FixedHeader: &packet.FixedHeader{Kind: 0x3, QoS: 2}, PacketID: 9, Message: &packet.Message{TopicName: "a"}}
	cmd := NewPublishQoS2(pkt, testPolicy())
	sender := &fakeSender{}
	now := time.Now()

	cmd.Tick(now, sender)
	if cmd.Phase() != "unacknowledged" {
		t.Fatalf("Phase = %s, want unacknowledged", cmd.Phase())
	}

	if out := cmd.Acknowledge(&packet.PUBREC{PacketID: 9}); out != Busy {
		t.Fatalf("Acknowledge(PUBREC) = %v, want Busy (handshake continues)", out)
	}
	res := <-cmd.Result()
	if res.Err != nil {
		t.Fatalf("unexpected error at PUBREC: %v", res.Err)
	}
	if cmd.Phase() != "received" {
		t.Fatalf("Phase = %s, want received", cmd.Phase())
	}

	now = now.Add(time.Millisecond)
	cmd.Tick(now, sender)
	if _, ok := sender.sent[len(sender.sent)-1].(*packet.PUBREL); !ok {
		t.Fatalf("expected PUBREL to be sent after PUBREC")
	}

	if out := cmd.Acknowledge(&packet.PUBCOMP{PacketID: 9}); out != Done {
		t.Fatalf("Acknowledge(PUBCOMP) = %v, want Done", out)
	}
	if cmd.Phase() != "complete" {
		t.Fatalf("Phase = %s, want complete", cmd.Phase())
	}
}

func TestPublishQoS2DirectPubcomp(t *testing.T) {
	pkt := &packet.PUBLISH{FixedHeader: &packet.FixedHeader{Kind: 0x3, QoS: 2}, PacketID: 11, Message: &packet.Message{TopicName: "a"}}
	cmd := NewPublishQoS2(pkt, testPolicy())
	if out := cmd.Acknowledge(&packet.PUBCOMP{PacketID: 11}); out != Done {
		t.Fatalf("Acknowledge(PUBCOMP) from Unacknowledged = %v, want Done", out)
	}
	res := <-cmd.Result()
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
}

func TestSubscribeResolvesPerFilter(t *testing.T) {
	filters := []topic.Filter{{Filter: "a/b", QoS: 1}, {Filter: "c/d", QoS: 2}}
	pkt := &packet.SUBSCRIBE{FixedHeader: &packet.FixedHeader{Kind: 0x8, QoS: 1}, PacketID: 5}
	cmd := NewSubscribe(pkt, filters, testPolicy())
	sender := &fakeSender{}
	cmd.Tick(time.Now(), sender)

	ack := &packet.SUBACK{PacketID: 5, ReasonCode: []packet.ReasonCode{packet.CodeGrantedQos1, packet.ErrUnspecifiedError}}
	if out := cmd.Acknowledge(ack); out != Done {
		t.Fatalf("Acknowledge = %v, want Done", out)
	}
	res := <-cmd.Result()
	if len(res.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(res.Results))
	}
	if !res.Results[0].Success {
		t.Fatalf("filter 0 should have succeeded")
	}
	if res.Results[1].Success {
		t.Fatalf("filter 1 should have failed")
	}
	if res.Results[0].Filter.Filter != "a/b" {
		t.Fatalf("result filter mismatch: %+v", res.Results[0].Filter)
	}
}

func TestUnsubscribeV311NoReasonCodesMeansSuccess(t *testing.T) {
	pkt := &packet.UNSUBSCRIBE{FixedHeader: &packet.FixedHeader{Kind: 0xA, QoS: 1}, PacketID: 6}
	cmd := NewUnsubscribe(pkt, []string{"a/b"}, testPolicy())
	cmd.Tick(time.Now(), &fakeSender{})

	ack := &packet.UNSUBACK{PacketID: 6} // v3.1.1: no payload
	cmd.Acknowledge(ack)
	res := <-cmd.Result()
	if len(res.Results) != 1 || !res.Results[0].Success {
		t.Fatalf("expected success, got %+v", res.Results)
	}
}

func TestPingReqSuccess(t *testing.T) {
	cmd := NewPingReq(4, testPolicy())
	sender := &fakeSender{}
	cmd.Tick(time.Now(), sender)
	if len(sender.sent) != 1 {
		t.Fatalf("expected PINGREQ sent")
	}
	cmd.Acknowledge(&packet.PINGRESP{})
	if err := <-cmd.Result(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
