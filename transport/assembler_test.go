package transport

import (
	"bytes"
	"testing"

	"github.com/golang-io/mqtt/packet"
)

func TestAssemblerNextDecodesPacket(t *testing.T) {
	pingreq := &packet.PINGREQ{FixedHeader: &packet.FixedHeader{Version: packet.VERSION311, Kind: 0xC}}
	var buf bytes.Buffer
	if err := pingreq.Pack(&buf); err != nil {
		t.Fatalf("Pack: %v", err)
	}

	asm := NewAssembler(&buf, packet.VERSION311, 0)
	pkt, err := asm.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if pkt.Kind() != 0xC {
		t.Fatalf("Kind() = %x, want 0xC", pkt.Kind())
	}
}

func TestAssemblerRejectsOversizePacket(t *testing.T) {
	pub := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Version: packet.VERSION311, Kind: 0x3},
		Message:     &packet.Message{TopicName: "t", Content: bytes.Repeat([]byte{0x1}, 100)},
	}
	var buf bytes.Buffer
	if err := pub.Pack(&buf); err != nil {
		t.Fatalf("Pack: %v", err)
	}

	asm := NewAssembler(&buf, packet.VERSION311, 10)
	if _, err := asm.Next(); err != packet.ErrPacketTooLarge {
		t.Fatalf("Next err = %v, want ErrPacketTooLarge", err)
	}
}
