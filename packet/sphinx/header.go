package sphinx

import (
	"crypto/hmac"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20"
)

// MacLen is the length, in bytes, of a header MAC.
const MacLen = 32

// RelayerDataLen is the length, in bytes, of the per-hop "additional
// relayer data" block (§4.2's hint_{i->i+1}).
const RelayerDataLen = 32

// PerHopLen is the size of one onion-peeled routing-info block: the next
// hop's KeyID, the additional relayer data, and the MAC the next hop will
// use to authenticate its own layer.
const PerHopLen = KeyIDLen + RelayerDataLen + MacLen

// RoutingInfoLen is the fixed capacity of the onion-encrypted routing
// header, sized for MaxHops regardless of the actual path length of any
// given packet.
const RoutingInfoLen = PerHopLen * MaxHops

// HeaderLen is the total size of a Sphinx header: alpha, the routing info,
// and the outermost MAC.
const HeaderLen = PublicKeyLen + RoutingInfoLen + MacLen

// keystream derives a length-byte pseudorandom stream from secret, used to
// XOR-encrypt (and, symmetrically, decrypt) one onion layer of the routing
// header. chacha20 is the stream cipher the domain stack settled on for
// every keystream in the primitive layer.
func keystream(secret SharedSecret, context string, length int) []byte {
	key := kdf(context, secret[:])

	var nonce [chacha20.NonceSize]byte
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		// key is always 32 bytes and nonce is the fixed zero nonce
		// derived above; this construction cannot fail.
		panic(err)
	}

	out := make([]byte, length)
	c.XORKeyStream(out, out)
	return out
}

func headerKeystream(secret SharedSecret) []byte {
	return keystream(secret, "hopr-sphinx-header", RoutingInfoLen)
}

// extendedHeaderKeystream derives RoutingInfoLen+PerHopLen bytes from the
// same stream headerKeystream draws its prefix from (chacha20 in counter
// mode is a deterministic function of the requested length, so the first
// RoutingInfoLen bytes are identical to headerKeystream's output). The
// trailing PerHopLen bytes are the pseudorandom padding a relay appends to
// the beta it forwards, and the slice the filler computation draws from to
// anticipate that padding ahead of time.
func extendedHeaderKeystream(secret SharedSecret) []byte {
	return keystream(secret, "hopr-sphinx-header", RoutingInfoLen+PerHopLen)
}

// padKeystream derives the pseudorandom seed the sender uses in place of
// the routing info positions beyond the real path, so that slack capacity
// looks no different from a genuine onion layer to a relay that cannot see
// past its own peel.
func padKeystream(secret SharedSecret) []byte {
	return keystream(secret, "hopr-sphinx-pad", RoutingInfoLen)
}

// headerMAC computes the MAC that authenticates beta under the given
// secret using blake2b in keyed mode.
func headerMAC(secret SharedSecret, beta []byte) [MacLen]byte {
	macKey := kdf("hopr-sphinx-mac", secret[:])

	h, err := blake2b.New256(macKey[:])
	if err != nil {
		panic(err)
	}
	h.Write(beta)

	var out [MacLen]byte
	copy(out[:], h.Sum(nil))
	return out
}

// hopBlock is the plaintext content of one onion-peeled routing-info layer.
type hopBlock struct {
	NextID        KeyID
	RelayerData   [RelayerDataLen]byte
	NextHeaderMAC [MacLen]byte
}

func (b *hopBlock) encode() []byte {
	buf := make([]byte, PerHopLen)
	buf[0] = byte(b.NextID >> 24)
	buf[1] = byte(b.NextID >> 16)
	buf[2] = byte(b.NextID >> 8)
	buf[3] = byte(b.NextID)
	copy(buf[KeyIDLen:], b.RelayerData[:])
	copy(buf[KeyIDLen+RelayerDataLen:], b.NextHeaderMAC[:])
	return buf
}

func decodeHopBlock(buf []byte) hopBlock {
	var b hopBlock
	b.NextID = KeyID(buf[0])<<24 | KeyID(buf[1])<<16 | KeyID(buf[2])<<8 | KeyID(buf[3])
	copy(b.RelayerData[:], buf[KeyIDLen:KeyIDLen+RelayerDataLen])
	copy(b.NextHeaderMAC[:], buf[KeyIDLen+RelayerDataLen:])
	return b
}

// generateFiller precomputes the padding that must already sit in the
// routing-info buffer before the last hop's layer is even encrypted, so
// that every intermediate hop's gamma authenticates exactly the beta its
// successor receives rather than the zero bytes a naive construction would
// leave behind. pathSecrets holds the shared secrets of every hop except
// the final one.
//
// Each hop i other than the last contributes a slice of its own
// extendedHeaderKeystream, XORed into a progressively growing prefix: hop
// i's contribution spans the first (i+1)*PerHopLen bytes, so hop 0's covers
// only the first PerHopLen bytes and the last contributing hop's spans the
// full filler. This is the classic Sphinx filler recipe, keyed
// off the per-hop block size instead of a variable payload length.
func generateFiller(pathSecrets []SharedSecret) []byte {
	filler := make([]byte, len(pathSecrets)*PerHopLen)

	for i, secret := range pathSecrets {
		stream := extendedHeaderKeystream(secret)

		fillerStart := RoutingInfoLen - i*PerHopLen
		fillerEnd := RoutingInfoLen + PerHopLen
		slice := stream[fillerStart:fillerEnd]

		for j := range slice {
			filler[j] ^= slice[j]
		}
	}

	return filler
}

// BuildHeader constructs the onion-encrypted routing header beta and its
// outermost MAC gamma for a path whose per-hop shared secrets and
// additional relayer data have already been derived. relayerData[i] is
// embedded for hop i. relayerData[n-1], the final hop's, carries no
// Proof-of-Relay hint since there is no next hop, but it is still encrypted
// into the final hop's block and recovered by that hop like any other.
//
// The construction follows the classic peelable-onion recipe: starting
// from the last hop and working backwards, each step prepends that hop's
// plaintext block and XORs the whole fixed-capacity buffer with a
// keystream derived from that hop's own shared secret. A relay can later
// undo exactly its own layer by XORing with the same keystream and reading
// the block that lands at the front. The last hop's encryption step
// overwrites its own trailing bytes with the precomputed filler, so that
// as every outer hop truncates and an inner relay re-extends its own
// forwarded beta (see PeelHeader), the bytes a later hop MACs over always
// match the bytes it actually receives, regardless of how much slack
// capacity (MaxHops - n) remains.
func BuildHeader(secrets []SharedSecret, nextIDs []KeyID,
	relayerData [][RelayerDataLen]byte) (beta []byte, gamma [MacLen]byte,
	err error) {

	n := len(secrets)
	if n == 0 {
		return nil, gamma, ErrEmptyPath
	}
	if n > MaxHops {
		return nil, gamma, ErrPathTooLong
	}

	filler := generateFiller(secrets[:n-1])
	beta = padKeystream(secrets[0])[:RoutingInfoLen-PerHopLen]

	var mac [MacLen]byte
	for i := n - 1; i >= 0; i-- {
		block := hopBlock{
			NextID:        TerminatorKeyID,
			NextHeaderMAC: mac,
		}
		if i < n-1 {
			block.NextID = nextIDs[i]
		}
		copy(block.RelayerData[:], relayerData[i][:])

		plain := append(block.encode(), beta...)

		ks := headerKeystream(secrets[i])
		encrypted := xorBytes(plain, ks)

		if i == n-1 {
			copy(encrypted[len(encrypted)-len(filler):], filler)
		}

		mac = headerMAC(secrets[i], encrypted)
		beta = encrypted

		if i > 0 {
			beta = beta[:RoutingInfoLen-PerHopLen]
		}
	}

	return beta, mac, nil
}

// PeelHeader undoes exactly one onion layer using secret, the shared
// secret this relay derived for itself. It returns the recovered hop block
// and the routing info to forward. The forwarded beta's trailing
// PerHopLen bytes come from this relay's own extendedHeaderKeystream
// rather than from zero padding: that is exactly the padding
// generateFiller anticipated for this position when the sender computed
// the MAC the next hop will check against this same buffer.
func PeelHeader(secret SharedSecret, beta []byte) (hopBlock, []byte, error) {
	if len(beta) != RoutingInfoLen {
		return hopBlock{}, nil, ErrInvalidLength
	}

	ks := extendedHeaderKeystream(secret)

	plain := make([]byte, RoutingInfoLen+PerHopLen)
	for i := range plain {
		if i < RoutingInfoLen {
			plain[i] = beta[i] ^ ks[i]
		} else {
			plain[i] = ks[i]
		}
	}

	block := decodeHopBlock(plain[:PerHopLen])
	forwarded := plain[PerHopLen:]

	return block, forwarded, nil
}

// VerifyHeaderMAC checks that gamma authenticates beta under secret.
func VerifyHeaderMAC(secret SharedSecret, beta []byte, gamma [MacLen]byte) bool {
	expected := headerMAC(secret, beta)
	return hmac.Equal(expected[:], gamma[:])
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i%len(b)]
	}
	return out
}
