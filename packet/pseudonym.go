package packet

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// PseudonymLen is the size, in bytes, of a Pseudonym.
const PseudonymLen = 10

// SurbIDLen is the size, in bytes, of a SurbID.
const SurbIDLen = 8

// Pseudonym is a random, opaque sender identifier. It lets a final hop
// recognize that several packets (and any replies sent against their
// SURBs) belong to the same correspondence, without revealing the
// sender's identity to relays.
type Pseudonym [PseudonymLen]byte

// NewPseudonym draws a fresh, random Pseudonym.
func NewPseudonym() (Pseudonym, error) {
	var p Pseudonym
	if _, err := rand.Read(p[:]); err != nil {
		return p, fmt.Errorf("read random pseudonym: %w", err)
	}
	return p, nil
}

// SurbID uniquely identifies one SURB emitted under a Pseudonym.
type SurbID [SurbIDLen]byte

// SenderID is pseudonym ‖ sequence-counter: the value a SURB's receiver_data
// carries so the eventual reply packet can be matched back to a
// (Pseudonym, SurbID) pair via OpenerLookup.
type SenderID struct {
	Pseudonym Pseudonym
	Sequence  uint64
}

// SurbID derives this SenderID's deterministic SurbID: a keyed hash over the
// pseudonym and sequence counter, truncated to SurbIDLen bytes. Deterministic
// derivation (rather than an independently drawn random tag) is what lets
// the sender and the eventual opener-lookup agree on the same id without a
// side channel.
func (id SenderID) SurbID() SurbID {
	h, err := blake2b.New256([]byte("hopr-packet-senderid"))
	if err != nil {
		panic(err)
	}
	h.Write(id.Pseudonym[:])

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], id.Sequence)
	h.Write(seq[:])

	digest := h.Sum(nil)

	var out SurbID
	copy(out[:], digest[:SurbIDLen])
	return out
}

// Encode serialises the SenderID to its wire form, pseudonym followed by the
// big-endian sequence counter.
func (id SenderID) Encode() []byte {
	buf := make([]byte, PseudonymLen+8)
	copy(buf, id.Pseudonym[:])
	binary.BigEndian.PutUint64(buf[PseudonymLen:], id.Sequence)
	return buf
}

// DecodeSenderID parses the wire form produced by SenderID.Encode.
func DecodeSenderID(buf []byte) (SenderID, error) {
	if len(buf) != PseudonymLen+8 {
		return SenderID{}, NewPacketDecodingError("malformed sender id")
	}

	var id SenderID
	copy(id.Pseudonym[:], buf[:PseudonymLen])
	id.Sequence = binary.BigEndian.Uint64(buf[PseudonymLen:])
	return id, nil
}
