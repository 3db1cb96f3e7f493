package transport

import (
	"io"

	"github.com/golang-io/mqtt/packet"
)

// Assembler is the PacketAssembler: it turns a raw byte stream into a
// sequence of decoded packet.Packet values, enforcing the negotiated
// maximum packet size along the way. The wire codec in package packet
// already does the variable-byte-integer framing (it knows exactly how
// many bytes a packet's remaining length claims and reads precisely that
// many), so Assembler's job narrows to the one thing the codec can't know
// on its own: whether the session negotiated a smaller max_packet_size
// than the protocol's ceiling, and rejecting anything that exceeds it
// before handing the packet up to the session layer.
type Assembler struct {
	r             io.Reader
	version       byte
	maxPacketSize uint32 // 0 means "no limit beyond the protocol maximum"
}

// NewAssembler returns an Assembler reading MQTT packets of the given
// protocol version from r. A maxPacketSize of 0 disables the extra size
// check.
func NewAssembler(r io.Reader, version byte, maxPacketSize uint32) *Assembler {
	return &Assembler{r: r, version: version, maxPacketSize: maxPacketSize}
}

// Next blocks until a complete packet has been read from the stream, or
// an error (including io.EOF on a clean close) occurs.
func (a *Assembler) Next() (packet.Packet, error) {
	pkt, err := packet.Unpack(a.version, a.r)
	if err != nil {
		return pkt, err
	}
	if a.maxPacketSize == 0 {
		return pkt, nil
	}
	if size := wireSize(pkt); size > a.maxPacketSize {
		return pkt, packet.ErrPacketTooLarge
	}
	return pkt, nil
}

// wireSize approximates the encoded size of pkt as its remaining length
// (exact, since that is read directly off the wire) plus fixed-header
// overhead: one type/flags byte and up to four bytes of variable-length
// remaining-length encoding.
func wireSize(pkt packet.Packet) uint32 {
	return remainingLength(pkt) + 5
}

func remainingLength(pkt packet.Packet) uint32 {
	switch p := pkt.(type) {
	case *packet.CONNECT:
		return p.FixedHeader.RemainingLength
	case *packet.CONNACK:
		return p.FixedHeader.RemainingLength
	case *packet.PUBLISH:
		return p.FixedHeader.RemainingLength
	case *packet.PUBACK:
		return p.FixedHeader.RemainingLength
	case *packet.PUBREC:
		return p.FixedHeader.RemainingLength
	case *packet.PUBREL:
		return p.FixedHeader.RemainingLength
	case *packet.PUBCOMP:
		return p.FixedHeader.RemainingLength
	case *packet.SUBSCRIBE:
		return p.FixedHeader.RemainingLength
	case *packet.SUBACK:
		return p.FixedHeader.RemainingLength
	case *packet.UNSUBSCRIBE:
		return p.FixedHeader.RemainingLength
	case *packet.UNSUBACK:
		return p.FixedHeader.RemainingLength
	case *packet.PINGREQ:
		return p.FixedHeader.RemainingLength
	case *packet.PINGRESP:
		return p.FixedHeader.RemainingLength
	case *packet.DISCONNECT:
		return p.FixedHeader.RemainingLength
	case *packet.AUTH:
		return p.FixedHeader.RemainingLength
	default:
		return 0
	}
}
