package packet

import "fmt"

// PacketConstructionError is returned when a packet cannot be built at the
// sender: an empty path, an oversize message, an unknown key identifier, or
// a failure from the ticket builder collaborator.
type PacketConstructionError struct {
	reason string
}

// NewPacketConstructionError wraps a reason into a PacketConstructionError.
func NewPacketConstructionError(reason string) *PacketConstructionError {
	return &PacketConstructionError{reason: reason}
}

// Error implements the error interface.
func (e *PacketConstructionError) Error() string {
	return fmt.Sprintf("packet construction failed: %s", e.reason)
}

// PacketDecodingError is returned when an incoming packet cannot be parsed
// or its forward transformation fails: wrong length, invalid group element,
// MAC mismatch, or malformed framed payload. An unknown reply opener on a
// Final packet is reported as UnknownReplyOpener instead.
type PacketDecodingError struct {
	reason string
}

// NewPacketDecodingError wraps a reason into a PacketDecodingError.
func NewPacketDecodingError(reason string) *PacketDecodingError {
	return &PacketDecodingError{reason: reason}
}

// Error implements the error interface.
func (e *PacketDecodingError) Error() string {
	return fmt.Sprintf("packet decoding failed: %s", e.reason)
}

// InvalidTicketChallenge is returned when the Proof-of-Relay pre-verify
// check fails on a Relayed packet: the eth_challenge carried in the ticket
// does not match the challenge this node derives from its own shared
// secret and the hint it peeled from the header.
type InvalidTicketChallenge struct{}

// Error implements the error interface.
func (e *InvalidTicketChallenge) Error() string {
	return "ticket challenge does not match proof of relay values"
}

// UnknownReplyOpener is returned when a Final packet is addressed to a
// locally-owned pseudonym but the caller-supplied OpenerLookup has no
// matching ReplyOpener.
type UnknownReplyOpener struct {
	ID SurbID
}

// Error implements the error interface.
func (e *UnknownReplyOpener) Error() string {
	return fmt.Sprintf("no reply opener registered for surb id %x", e.ID)
}

// SurbKeyMappingError is returned at SURB build time when the return path
// references a key identifier the KeyIdMapper cannot resolve.
type SurbKeyMappingError struct {
	reason string
}

// NewSurbKeyMappingError wraps a reason into a SurbKeyMappingError.
func NewSurbKeyMappingError(reason string) *SurbKeyMappingError {
	return &SurbKeyMappingError{reason: reason}
}

// Error implements the error interface.
func (e *SurbKeyMappingError) Error() string {
	return fmt.Sprintf("surb key mapping failed: %s", e.reason)
}
