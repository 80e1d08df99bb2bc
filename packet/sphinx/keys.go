package sphinx

import (
	"github.com/btcsuite/btcd/btcec/v2"
)

// PublicKey is a point on the Sphinx curve. secp256k1 is used here for the
// same reason keychain.RouterKeychain uses it for route-blinding scalar
// multiplication: one well-audited curve implementation serves both
// on-chain signing and the packet engine's group operations.
type PublicKey = btcec.PublicKey

// PrivateKey is a scalar on the Sphinx curve.
type PrivateKey = btcec.PrivateKey

// PublicKeyLen is the length, in bytes, of a PublicKey in its compressed
// wire encoding.
const PublicKeyLen = 33

// KeyID is a compact identifier for a public key known to the local node.
// Headers carry KeyIDs instead of full public keys to keep the per-hop
// routing-info block small and of fixed size.
type KeyID uint32

// KeyIDLen is the wire length, in bytes, of a KeyID.
const KeyIDLen = 4

// TerminatorKeyID marks the routing-info block as belonging to the final
// hop: there is no next hop to resolve.
const TerminatorKeyID KeyID = 0xFFFFFFFF

// KeyIdMapper resolves between a node's compact on-wire KeyID and its full
// public key. The sender needs PubKeyToID to build routing info; a relay
// needs IDToPubKey to learn who to forward to next.
type KeyIdMapper interface {
	// IDToPubKey resolves a KeyID to a known public key. ok is false if
	// the identifier is unknown to this node.
	IDToPubKey(id KeyID) (pubKey *PublicKey, ok bool)

	// PubKeyToID resolves a known public key to its compact identifier.
	// ok is false if the peer is not known.
	PubKeyToID(pubKey *PublicKey) (id KeyID, ok bool)
}

// MapKeyIdMapper is a simple in-memory KeyIdMapper backed by two maps. It is
// the reference implementation used by tests and suitable for small static
// peer sets; a host with a large or dynamic peer set may back KeyIdMapper
// with its own peer-book implementation instead.
type MapKeyIdMapper struct {
	idToKey map[KeyID]*PublicKey
	keyToID map[[PublicKeyLen]byte]KeyID
}

// NewMapKeyIdMapper builds a MapKeyIdMapper from the given id-to-pubkey
// assignment.
func NewMapKeyIdMapper(assignment map[KeyID]*PublicKey) *MapKeyIdMapper {
	m := &MapKeyIdMapper{
		idToKey: make(map[KeyID]*PublicKey, len(assignment)),
		keyToID: make(map[[PublicKeyLen]byte]KeyID, len(assignment)),
	}

	for id, pubKey := range assignment {
		m.idToKey[id] = pubKey

		var raw [PublicKeyLen]byte
		copy(raw[:], pubKey.SerializeCompressed())
		m.keyToID[raw] = id
	}

	return m
}

// parseCompressedPubKey parses a 33-byte compressed public key, validating
// that it is a genuine point on the curve.
func parseCompressedPubKey(buf []byte) (*PublicKey, error) {
	return btcec.ParsePubKey(buf)
}

// ParsePublicKeyCompressed is the exported form of parseCompressedPubKey,
// used by packages outside sphinx (packet/surb) that need to decode a
// serialised public key from the wire.
func ParsePublicKeyCompressed(buf []byte) (*PublicKey, error) {
	return parseCompressedPubKey(buf)
}

// IDToPubKey implements KeyIdMapper.
func (m *MapKeyIdMapper) IDToPubKey(id KeyID) (*PublicKey, bool) {
	pubKey, ok := m.idToKey[id]
	return pubKey, ok
}

// PubKeyToID implements KeyIdMapper.
func (m *MapKeyIdMapper) PubKeyToID(pubKey *PublicKey) (KeyID, bool) {
	var raw [PublicKeyLen]byte
	copy(raw[:], pubKey.SerializeCompressed())

	id, ok := m.keyToID[raw]
	return id, ok
}
