// Package message implements §4.4: packing an optional payload plus zero
// or more SURBs plus signal flags into the fixed-size Sphinx payload area,
// and parsing the inverse on arrival.
package message

import (
	"github.com/hoprnet/hopr-packet-core/packet/sphinx"
	"github.com/hoprnet/hopr-packet-core/packet/surb"
)

// SurbSize is the wire size of one embedded SURB.
const SurbSize = surb.Size

// headerLen is the size, in bytes, of the SURB-count, signals, and payload
// length prefix.
const headerLen = 4

// MaxSurbsInPacket is the most SURBs a packet can carry when the message
// is empty.
const MaxSurbsInPacket = (sphinx.PayloadLen - headerLen) / SurbSize

// Signals is a small bitset passed sender to final hop; relays never
// interpret it.
type Signals uint8

const (
	// SignalOutOfSurbs tells the recipient the sender has no SURBs left
	// for this pseudonym and a fresh forward message is needed to
	// deliver more.
	SignalOutOfSurbs Signals = 1 << iota
)

// Has reports whether flag is set.
func (s Signals) Has(flag Signals) bool { return s&flag != 0 }

// MaxSurbsWithMessage returns the most SURBs that fit alongside a message
// of msgLen bytes.
func MaxSurbsWithMessage(msgLen int) int {
	return (sphinx.PayloadLen - headerLen - msgLen) / SurbSize
}

// MaxMessageWithSurbs returns the longest message that fits alongside k
// SURBs.
func MaxMessageWithSurbs(k int) int {
	return sphinx.PayloadLen - headerLen - k*SurbSize
}

// Framed is the parsed content of a decoded payload.
type Framed struct {
	Signals Signals
	Surbs   []*surb.Surb
	Payload []byte
}

// Pack encodes payload, surbs, and signals into a fixed PayloadLen-byte
// buffer. It reports an oversize input with the plain sentinel errors
// ErrTooManySurbs or ErrMessageTooLong; the caller wraps them into its own
// package-level PacketConstructionError.
func Pack(payload []byte, surbs []*surb.Surb, signals Signals) ([]byte, error) {
	if len(surbs) > MaxSurbsInPacket {
		return nil, ErrTooManySurbs
	}
	if len(payload) > MaxMessageWithSurbs(len(surbs)) {
		return nil, ErrMessageTooLong
	}

	buf := make([]byte, sphinx.PayloadLen)
	buf[0] = byte(len(surbs))
	buf[1] = byte(signals)
	buf[2] = byte(len(payload) >> 8)
	buf[3] = byte(len(payload))

	offset := headerLen
	for _, s := range surbs {
		copy(buf[offset:offset+SurbSize], s.Encode())
		offset += SurbSize
	}

	copy(buf[offset:offset+len(payload)], payload)
	// remaining bytes stay zero, the deterministic padding §4.4 requires.

	return buf, nil
}

// Unpack parses a fixed PayloadLen-byte buffer back into its payload,
// SURBs, and signals.
func Unpack(buf []byte) (*Framed, error) {
	if len(buf) != sphinx.PayloadLen {
		return nil, ErrInvalidFrameLength
	}

	count := int(buf[0])
	signals := Signals(buf[1])
	payloadLen := int(buf[2])<<8 | int(buf[3])

	if count > MaxSurbsInPacket {
		return nil, ErrCorruptSurbCount
	}

	offset := headerLen
	surbs := make([]*surb.Surb, 0, count)
	for i := 0; i < count; i++ {
		if offset+SurbSize > len(buf) {
			return nil, ErrCorruptSurbCount
		}

		s, err := surb.Decode(buf[offset : offset+SurbSize])
		if err != nil {
			return nil, err
		}
		surbs = append(surbs, s)
		offset += SurbSize
	}

	if payloadLen < 0 || offset+payloadLen > len(buf) {
		return nil, ErrCorruptSurbCount
	}

	payload := append([]byte{}, buf[offset:offset+payloadLen]...)

	return &Framed{Signals: signals, Surbs: surbs, Payload: payload}, nil
}
