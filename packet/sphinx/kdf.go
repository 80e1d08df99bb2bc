package sphinx

import (
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/blake2b"
)

// SecretLen is the length, in bytes, of a derived SharedSecret.
const SecretLen = 32

// SharedSecret is a per-hop symmetric seed shared between the sender and
// exactly one node on the path.
type SharedSecret [SecretLen]byte

// MaxHops bounds the number of hops a single packet may traverse. The
// header's fixed capacity (RoutingInfoLen) is sized from this constant
// rather than the other way around. Three hops is the capacity this
// rendition chooses to carry.
const MaxHops = 3

// kdf derives a domain-separated 32-byte key from the given context label
// and input parts, using blake2b as a keyed hash. Every secret the sphinx
// layer derives (shared secrets, blinding factors, MAC keys, cipher keys,
// packet tags) goes through this single function with a distinct context
// label. Proof-of-Relay ack key shares and hints are derived by packet/por's
// own copy of this construction, not by this function.
func kdf(context string, parts ...[]byte) [32]byte {
	h, _ := blake2b.New256([]byte(context))
	for _, p := range parts {
		h.Write(p)
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// GenerateEphemeralKey draws a random scalar to seed a fresh packet's
// shared-secret chain.
func GenerateEphemeralKey() (*PrivateKey, error) {
	return btcec.NewPrivateKey()
}

// ecdhSecret performs scalar multiplication of pub by priv's scalar and
// returns the affine X coordinate of the resulting point, the standard
// Diffie-Hellman shared value before KDF.
func ecdhSecret(priv *PrivateKey, pub *PublicKey) []byte {
	var pubJacobian btcec.JacobianPoint
	pub.AsJacobian(&pubJacobian)

	var resultJacobian btcec.JacobianPoint
	btcec.ScalarMultNonConst(&priv.Key, &pubJacobian, &resultJacobian)
	resultJacobian.ToAffine()

	xBytes := resultJacobian.X.Bytes()
	return xBytes[:]
}

// deriveSecret computes s = KDF(priv * pub), the shared secret one party of
// an ECDH exchange learns.
func deriveSecret(priv *PrivateKey, pub *PublicKey) SharedSecret {
	return SharedSecret(kdf("hopr-sphinx-secret", ecdhSecret(priv, pub)))
}

// blindingFactor derives the per-hop blinding scalar b_i = H(alpha_i, s_i)
// used to re-randomise the ephemeral key for the next hop.
func blindingFactor(alpha *PublicKey, secret SharedSecret) *btcec.ModNScalar {
	digest := kdf("hopr-sphinx-blind", alpha.SerializeCompressed(), secret[:])

	var scalar btcec.ModNScalar
	scalar.SetBytes(&digest)
	return &scalar
}

// blindPublicKey computes factor*point, used both by the sender (to derive
// alpha_{i+1} from alpha_i) and by a relay (to derive the outgoing alpha
// from the incoming one using its own blinding factor).
func blindPublicKey(point *PublicKey, factor *btcec.ModNScalar) *PublicKey {
	var pointJacobian, resultJacobian btcec.JacobianPoint
	point.AsJacobian(&pointJacobian)

	btcec.ScalarMultNonConst(factor, &pointJacobian, &resultJacobian)
	resultJacobian.ToAffine()

	x, y := resultJacobian.X, resultJacobian.Y
	return btcec.NewPublicKey(&x, &y)
}

// SharedSecretChain is the result of running the sender-side shared-secret
// derivation of §4.1 against one path.
type SharedSecretChain struct {
	// Secrets holds s_1 .. s_n, one per hop in path order.
	Secrets []SharedSecret

	// FirstAlpha is alpha_1 = x*G, the only group element transmitted on
	// the wire; every subsequent alpha is re-derived independently by
	// each relay from its own shared secret.
	FirstAlpha *PublicKey
}

// DeriveSharedSecretChain runs the sender-side shared-secret derivation
// described in §4.1 against path, using ephemeral as the initial scalar x.
func DeriveSharedSecretChain(ephemeral *PrivateKey, path []*PublicKey) (
	*SharedSecretChain, error) {

	n := len(path)
	if n == 0 {
		return nil, ErrEmptyPath
	}
	if n > MaxHops {
		return nil, ErrPathTooLong
	}

	secrets := make([]SharedSecret, n)

	cumulative := ephemeral
	alpha := ephemeral.PubKey()
	firstAlpha := alpha

	for i, peer := range path {
		secret := deriveSecret(cumulative, peer)
		secrets[i] = secret

		// Last hop doesn't need a next alpha.
		if i == n-1 {
			break
		}

		b := blindingFactor(alpha, secret)
		alpha = blindPublicKey(alpha, b)

		var nextScalar btcec.ModNScalar
		nextScalar.Mul2(&cumulative.Key, b)

		nextPriv := &btcec.PrivateKey{Key: nextScalar}
		cumulative = nextPriv
	}

	return &SharedSecretChain{Secrets: secrets, FirstAlpha: firstAlpha}, nil
}

// RelayStep is the result of a single relay recomputing its shared secret
// and the next alpha from an incoming packet's alpha.
type RelayStep struct {
	Secret    SharedSecret
	NextAlpha *PublicKey
}

// DeriveRelaySecret performs the relay-side half of §4.1 step 1: given the
// node's own private key and the incoming alpha, derive this hop's shared
// secret and the blinded alpha to forward.
func DeriveRelaySecret(nodeKey *PrivateKey, alpha *PublicKey) (*RelayStep, error) {
	if alpha == nil {
		return nil, ErrInvalidPublicKey
	}

	secret := deriveSecret(nodeKey, alpha)
	b := blindingFactor(alpha, secret)
	nextAlpha := blindPublicKey(alpha, b)

	return &RelayStep{Secret: secret, NextAlpha: nextAlpha}, nil
}

// ScalarBaseMult multiplies the curve's base point by data treated as a
// scalar, exported for packages (namely por) that need a deterministic
// point derived from an arbitrary 32-byte value.
func ScalarBaseMult(data [32]byte) *PublicKey {
	var scalar btcec.ModNScalar
	scalar.SetBytes(&data)

	priv := &btcec.PrivateKey{Key: scalar}
	return priv.PubKey()
}

// AddPublicKeys adds two curve points, exported for packages that need to
// combine independently derived challenge points.
func AddPublicKeys(a, b *PublicKey) *PublicKey {
	var aJacobian, bJacobian, sumJacobian btcec.JacobianPoint
	a.AsJacobian(&aJacobian)
	b.AsJacobian(&bJacobian)

	btcec.AddNonConst(&aJacobian, &bJacobian, &sumJacobian)
	sumJacobian.ToAffine()

	x, y := sumJacobian.X, sumJacobian.Y
	return btcec.NewPublicKey(&x, &y)
}

// randomBytes is a small helper around crypto/rand. Nothing in the module
// calls it at present: ephemeral keys come from GenerateEphemeralKey and
// pseudonyms from packet.NewPseudonym.
func randomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return buf, nil
}
