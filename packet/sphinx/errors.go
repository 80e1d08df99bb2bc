package sphinx

import "errors"

// Sentinel errors returned by the primitive layer. The packet state machine
// wraps their messages into the higher-level PacketDecodingError and
// PacketConstructionError kinds defined in §7.
var (
	// ErrInvalidLength is returned when a wire buffer does not match the
	// compile-time fixed packet size.
	ErrInvalidLength = errors.New("sphinx: packet has invalid size")

	// ErrInvalidPublicKey is returned when alpha does not decode to a
	// valid, non-identity group element.
	ErrInvalidPublicKey = errors.New("sphinx: invalid ephemeral public key")

	// ErrInvalidMAC is returned when the header MAC does not match the
	// recomputed value under the derived shared secret.
	ErrInvalidMAC = errors.New("sphinx: header MAC mismatch")

	// ErrUnknownKeyID names the case where the peeled routing info holds a
	// key identifier the KeyIdMapper cannot resolve. Forward does not
	// resolve identifiers itself and never returns it; resolving
	// ForwardResult.NextHop is left to the caller.
	ErrUnknownKeyID = errors.New("sphinx: unknown key identifier in routing info")

	// ErrPathTooLong is returned at construction time when the caller
	// supplies more hops than MaxHops.
	ErrPathTooLong = errors.New("sphinx: path exceeds MaxHops")

	// ErrEmptyPath is returned at construction time for a zero-hop
	// forward path.
	ErrEmptyPath = errors.New("sphinx: path must have at least one hop")
)
