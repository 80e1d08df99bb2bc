// Package por implements the Proof-of-Relay challenge chain described in
// §4.2: binding the ticket paid to hop i to the acknowledgement hop i+1
// owes back, so hop i can only redeem its ticket once it has correctly
// forwarded the packet.
package por

import (
	"golang.org/x/crypto/blake2b"

	"github.com/hoprnet/hopr-packet-core/packet/sphinx"
)

// HalfKeyLen is the size, in bytes, of a half-key share.
const HalfKeyLen = 32

// ChallengeLen is the size, in bytes, of an Ethereum-style challenge
// digest carried in a ticket.
const ChallengeLen = 20

// HalfKey is the scalar a node reveals as its acknowledgement once it has
// correctly forwarded a packet.
type HalfKey [HalfKeyLen]byte

// HalfKeyChallenge is the curve point a HalfKey must hash to; it is the
// verifiable commitment carried inside a ticket challenge.
type HalfKeyChallenge struct {
	point *sphinx.PublicKey
}

// EthereumChallenge is the 20-byte digest of a sum of half-key challenges,
// the value actually written into a ticket.
type EthereumChallenge [ChallengeLen]byte

// Values are the per-hop PoR values derived from one hop's shared secret
// and the hint it peeled out of its header layer.
type Values struct {
	// OwnKey is ack_key_share_i: the half-key this hop will eventually
	// reveal as its own acknowledgement.
	OwnKey HalfKey

	// AckChallenge is hashToPoint(OwnKey) alone, the commitment the
	// previous hop (or, for hop 1, the sender) checks the acknowledgement
	// half-key against once it arrives. Distinct from Challenge, which
	// also folds in the next hop's hint.
	AckChallenge *sphinx.PublicKey

	// Challenge is the point this hop's ticket_challenge commits to.
	Challenge *sphinx.PublicKey

	// EthChallenge is hash(Challenge), the value the caller asks the
	// TicketBuilder to sign into the outgoing ticket.
	EthChallenge EthereumChallenge
}

// halfKeyFromSecret derives ack_key_share = KDF_ack(s).
func halfKeyFromSecret(secret sphinx.SharedSecret) HalfKey {
	return HalfKey(kdf("hopr-por-ack", secret))
}

// HalfKeyFromSecret is the exported form of halfKeyFromSecret, used by a
// relay or final hop that only needs the acknowledgement half-key itself
// (not the full challenge derivation DeriveOwnValues performs).
func HalfKeyFromSecret(secret sphinx.SharedSecret) HalfKey {
	return halfKeyFromSecret(secret)
}

// HintFromSecret derives hint_{i->i+1} = KDF_hint(s_{i+1}), the commitment
// embedded as hop i's additional_relayer_data.
func HintFromSecret(nextSecret sphinx.SharedSecret) [sphinx.RelayerDataLen]byte {
	return kdf("hopr-por-hint", nextSecret)
}

// hashToPoint maps an arbitrary 32-byte value onto the Sphinx curve by
// treating it as a scalar and multiplying the curve's base point. This is
// a pragmatic stand-in for a constant-time hash-to-curve map: it produces
// a verifiable, deterministic point from the input and is adequate for the
// binding property PoR needs (knowledge of the half-key implies knowledge
// of its discrete log against the published challenge), though it is not
// indifferentiable from a random oracle the way a dedicated hash-to-curve
// function would be.
func hashToPoint(data [32]byte) *sphinx.PublicKey {
	return sphinx.ScalarBaseMult(data)
}

// addPoints combines two curve points, used to sum the two half-key
// challenges into one ticket challenge.
func addPoints(a, b *sphinx.PublicKey) *sphinx.PublicKey {
	return sphinx.AddPublicKeys(a, b)
}

// DeriveOwnValues computes the PoR values hop i derives from its own
// shared secret s_i and the hint it peeled from the header,
// hint_{i->i+1}.
func DeriveOwnValues(secret sphinx.SharedSecret,
	hint [sphinx.RelayerDataLen]byte) *Values {

	ownKey := halfKeyFromSecret(secret)

	ownChallenge := hashToPoint(ownKey)
	hintChallenge := hashToPoint(hint)
	challenge := addPoints(ownChallenge, hintChallenge)

	return &Values{
		OwnKey:       ownKey,
		AckChallenge: ownChallenge,
		Challenge:    challenge,
		EthChallenge: hashChallenge(challenge),
	}
}

// DeriveChainValues computes the PoR values for every hop along a path
// given its full shared-secret chain, for use at the sender (to sign
// ticket 1) and when precomputing a SURB's return-path values.
func DeriveChainValues(secrets []sphinx.SharedSecret) []*Values {
	n := len(secrets)
	values := make([]*Values, n)

	for i := 0; i < n; i++ {
		var hint [sphinx.RelayerDataLen]byte
		if i < n-1 {
			hint = HintFromSecret(secrets[i+1])
		}
		values[i] = DeriveOwnValues(secrets[i], hint)
	}

	return values
}

// hashChallenge truncates a blake2b digest of the compressed challenge
// point to ChallengeLen bytes, standing in for a keccak256 digest in an
// Ethereum-style ticket; blake2b is already load-bearing elsewhere in this
// module and no keccak implementation is present in the retrieved
// dependency set.
func hashChallenge(point *sphinx.PublicKey) EthereumChallenge {
	digest := blake2b.Sum256(point.SerializeCompressed())

	var out EthereumChallenge
	copy(out[:], digest[:ChallengeLen])
	return out
}

// HashChallenge is the exported form of hashChallenge, used by a packet
// builder that already holds a challenge point (e.g. from a Surb's
// ReceiverInfo) and needs the eth_challenge value to sign into a ticket.
func HashChallenge(point *sphinx.PublicKey) EthereumChallenge {
	return hashChallenge(point)
}

// PreVerify checks the §4.2 pre-verify condition: that the eth_challenge
// carried in an incoming ticket matches the challenge this relay computes
// for itself from its own shared secret and the hint it peeled out of the
// header.
func PreVerify(secret sphinx.SharedSecret, hint [sphinx.RelayerDataLen]byte,
	ticketEthChallenge EthereumChallenge) (*Values, bool) {

	values := DeriveOwnValues(secret, hint)
	return values, values.EthChallenge == ticketEthChallenge
}

// kdf derives a HalfKeyLen-byte value from secret under the given context
// label. It mirrors sphinx's internal kdf but is re-declared here (rather
// than exported from sphinx) so por's derivation contexts stay local to
// this package.
func kdf(context string, secret sphinx.SharedSecret) [HalfKeyLen]byte {
	h, err := blake2b.New256([]byte(context))
	if err != nil {
		panic(err)
	}
	h.Write(secret[:])

	var out [HalfKeyLen]byte
	copy(out[:], h.Sum(nil))
	return out
}
