// Package surb implements the Single-Use Reply Block mechanism of §4.3:
// pre-built reverse-path packet shells that let a remote party reply to a
// pseudonym without learning the path back to it, paired with the sender
// side ReplyOpener used to unwrap the eventual reply.
package surb

import (
	"errors"

	"github.com/hoprnet/hopr-packet-core/packet/por"
	"github.com/hoprnet/hopr-packet-core/packet/sphinx"
)

// ErrOpenerConsumed is returned by OpenReply when the ReplyOpener it was
// given has already been used once and discarded.
var ErrOpenerConsumed = errors.New("surb: reply opener already consumed")

// HeaderBytesLen is the size, in bytes, of a SURB's embedded packet
// header: alpha, beta, and gamma, exactly what BuildMetaPacket produces
// for the return path and what the replier places verbatim as its own
// outgoing packet header.
const HeaderBytesLen = sphinx.HeaderLen

// ReceiverInfoLen is the size, in bytes, of the receiver_info block: the
// return path's PoR chain length and its first-hop ticket challenge.
const ReceiverInfoLen = 1 + sphinx.PublicKeyLen

// ReplyContentLen is the usable width, in bytes, of a reply sent through
// a SURB. A SURB must embed a precomputed, plaintext-independent mask
// covering every payload layer but its own first hop (see InnerMask); that
// mask can only be as compact as the content window it protects, so a SURB
// deliberately offers a much narrower reply payload than a forward packet's
// full PayloadLen, in exchange for several SURBs fitting in one packet's
// fixed payload area (§4.4). Bytes of delta beyond this window are still
// transformed, hop by hop, exactly like any other payload byte, for
// tag-resistance, but they carry no recoverable content and are discarded
// once the reply reaches its opener.
const ReplyContentLen = 48

// Size is the fixed wire size of one SURB, derived from its constituent
// fields rather than hard-coded, per the design note that every size in
// this engine should be derived from its parts.
const Size = sphinx.KeyIDLen + HeaderBytesLen + sphinx.SecretLen +
	ReplyContentLen + ReceiverInfoLen

// ReceiverInfo carries the PoR state the replier's first ticket must be
// signed against, plus the chain length so the final hop (the original
// sender, once the reply arrives) can validate the whole PoR chain was
// honored.
type ReceiverInfo struct {
	ChainLength uint8
	Challenge   *sphinx.PublicKey
}

// Surb is the public, shareable half of a single-use reply block: the
// private half, the ReplyOpener, never leaves the creator.
type Surb struct {
	// FirstRelayerID is the key identifier of the return path's first
	// hop, so the replier knows where to send the packet.
	FirstRelayerID sphinx.KeyID

	// HeaderBytes is the precomputed Sphinx header for the return path,
	// used verbatim as the outgoing packet's header.
	HeaderBytes []byte

	// PaddingSeed is s^R_1, the return path's first-hop shared secret.
	// Publishing it inside the SURB leaks nothing hop 1 doesn't already
	// derive for itself via ECDH with the embedded alpha; it lets the
	// replier compute the first payload layer without knowing the path.
	PaddingSeed sphinx.SharedSecret

	// InnerMask is the combined XOR of the first ReplyContentLen bytes of
	// the payload keystreams for hops 2..m of the return path, precomputed
	// by the creator at SURB-build time. Because the payload cipher is
	// linear over XOR (see sphinx.TransformPayload) and its keystream is a
	// prefix-stable PRG (see sphinx.keystream), the replier can fold this
	// mask in alongside its own first-hop layer without needing to know
	// the individual inner secrets, how many hops remain, or the fact
	// that relays will go on to transform the rest of delta too.
	InnerMask []byte

	ReceiverInfo ReceiverInfo
}

// ReplyOpener is the sender-side secret paired 1-to-1 with an emitted Surb
// by (Pseudonym, SurbID). It must be discarded after a single use.
type ReplyOpener struct {
	// Secrets holds s^R_1 .. s^R_m, the return path's full shared-secret
	// chain, known only to the original SURB creator.
	Secrets []sphinx.SharedSecret
}

// Build constructs a Surb and its paired ReplyOpener for return path
// returnPath, whose first hop is identified by firstRelayerID in the
// caller's KeyIdMapper. receiverData is embedded verbatim in the return
// path's final hop routing-info block (the slot that would otherwise go
// unused, since the real final hop of a return path never needs a PoR hint
// for a next hop that does not exist) — the packet root package fills it
// with the encoded (SenderID, flags) the reply's eventual Final-hop
// processing needs to recognize this as a reply rather than a fresh
// forward message.
func Build(ephemeral *sphinx.PrivateKey, returnPath []*sphinx.PublicKey,
	nextIDs []sphinx.KeyID, firstRelayerID sphinx.KeyID,
	receiverData [sphinx.RelayerDataLen]byte) (*Surb, *ReplyOpener, error) {

	chain, err := sphinx.DeriveSharedSecretChain(ephemeral, returnPath)
	if err != nil {
		return nil, nil, err
	}

	porValues := por.DeriveChainValues(chain.Secrets)

	relayerData := make([][sphinx.RelayerDataLen]byte, len(chain.Secrets))
	for i := 0; i < len(chain.Secrets)-1; i++ {
		relayerData[i] = por.HintFromSecret(chain.Secrets[i+1])
	}
	relayerData[len(chain.Secrets)-1] = receiverData

	beta, gamma, err := sphinx.BuildHeader(chain.Secrets, nextIDs, relayerData)
	if err != nil {
		return nil, nil, err
	}

	header := &sphinx.MetaPacket{
		Alpha: chain.FirstAlpha,
		Beta:  beta,
		Gamma: gamma,
	}

	innerMask := make([]byte, ReplyContentLen)
	for i := 1; i < len(chain.Secrets); i++ {
		layer := sphinx.PayloadKeystream(chain.Secrets[i], ReplyContentLen)
		innerMask = xorInto(innerMask, layer)
	}

	s := &Surb{
		FirstRelayerID: firstRelayerID,
		HeaderBytes:    encodeHeaderShell(header),
		PaddingSeed:    chain.Secrets[0],
		InnerMask:      innerMask,
		ReceiverInfo: ReceiverInfo{
			ChainLength: uint8(len(returnPath)),
			Challenge:   porValues[0].Challenge,
		},
	}

	opener := &ReplyOpener{Secrets: chain.Secrets}

	return s, opener, nil
}

// encodeHeaderShell serialises alpha || beta || gamma, the header portion
// of a metapacket that exists before the payload is known.
func encodeHeaderShell(m *sphinx.MetaPacket) []byte {
	buf := make([]byte, 0, HeaderBytesLen)
	buf = append(buf, m.Alpha.SerializeCompressed()...)
	buf = append(buf, m.Beta...)
	buf = append(buf, m.Gamma[:]...)
	return buf
}

// DecodeHeaderShell parses a SURB's HeaderBytes back into the alpha, beta,
// gamma triple a replier assembles into an outgoing metapacket.
func DecodeHeaderShell(buf []byte) (alpha []byte, beta []byte,
	gamma [sphinx.MacLen]byte, err error) {

	if len(buf) != HeaderBytesLen {
		return nil, nil, gamma, sphinx.ErrInvalidLength
	}

	offset := 0
	alpha = buf[offset : offset+sphinx.PublicKeyLen]
	offset += sphinx.PublicKeyLen

	beta = buf[offset : offset+sphinx.RoutingInfoLen]
	offset += sphinx.RoutingInfoLen

	copy(gamma[:], buf[offset:offset+sphinx.MacLen])

	return alpha, beta, gamma, nil
}

// Reply encrypts msg, which must fit within ReplyContentLen, into a full
// PayloadLen-byte delta a replier sends to FirstRelayerID. Every hop along
// the return path removes its own layer exactly as it would for any other
// packet (see sphinx.Forward); bytes beyond ReplyContentLen are filled with
// zero here but still get transformed hop by hop, and are discarded by the
// opener once the reply arrives.
func (s *Surb) Reply(msg []byte) ([]byte, error) {
	if len(msg) > ReplyContentLen {
		return nil, sphinx.ErrInvalidLength
	}

	window := make([]byte, ReplyContentLen)
	copy(window, msg)

	firstLayer := sphinx.PayloadKeystream(s.PaddingSeed, ReplyContentLen)
	window = xorInto(window, firstLayer)
	window = xorInto(window, s.InnerMask)

	delta := make([]byte, sphinx.PayloadLen)
	copy(delta, window)
	return delta, nil
}

// OpenReply recovers the plaintext reply content from a Final packet's
// plaintext, consuming opener in the process. Every hop along the return
// path already removed its own layer while relaying (the normal
// sphinx.Forward path peels exactly one payload mask per hop using the same
// per-hop secret opener.Secrets recorded at Build time), so by the time a
// reply reaches its creator the window is already plaintext; there is
// nothing left to undo beyond trimming the unused tail of delta down to
// ReplyContentLen. What OpenReply does own is the one-time-use half of
// §4.3: it is the single caller permitted to unwrap with opener's chain of
// seeds, and it zeroes that chain afterward so a second call (double
// delivery, replay, or caller bug) fails closed instead of quietly
// re-serving the same reply.
func OpenReply(opener *ReplyOpener, plaintext []byte) ([]byte, error) {
	if len(plaintext) != sphinx.PayloadLen {
		return nil, sphinx.ErrInvalidLength
	}
	if len(opener.Secrets) == 0 {
		return nil, ErrOpenerConsumed
	}

	content := append([]byte{}, plaintext[:ReplyContentLen]...)

	for i := range opener.Secrets {
		opener.Secrets[i] = sphinx.SharedSecret{}
	}
	opener.Secrets = nil

	return content, nil
}

func xorInto(dst, mask []byte) []byte {
	for i := range dst {
		dst[i] ^= mask[i]
	}
	return dst
}

// Encode serialises a Surb to its fixed Size-byte wire form so it can be
// embedded inside a framed message (packet/message) alongside a payload.
func (s *Surb) Encode() []byte {
	buf := make([]byte, 0, Size)

	var idBytes [sphinx.KeyIDLen]byte
	idBytes[0] = byte(s.FirstRelayerID >> 24)
	idBytes[1] = byte(s.FirstRelayerID >> 16)
	idBytes[2] = byte(s.FirstRelayerID >> 8)
	idBytes[3] = byte(s.FirstRelayerID)

	buf = append(buf, idBytes[:]...)
	buf = append(buf, s.HeaderBytes...)
	buf = append(buf, s.PaddingSeed[:]...)
	buf = append(buf, s.InnerMask...)
	buf = append(buf, s.ReceiverInfo.ChainLength)
	buf = append(buf, s.ReceiverInfo.Challenge.SerializeCompressed()...)

	return buf
}

// Decode parses a fixed Size-byte buffer back into a Surb.
func Decode(buf []byte) (*Surb, error) {
	if len(buf) != Size {
		return nil, sphinx.ErrInvalidLength
	}

	offset := 0
	id := sphinx.KeyID(buf[0])<<24 | sphinx.KeyID(buf[1])<<16 |
		sphinx.KeyID(buf[2])<<8 | sphinx.KeyID(buf[3])
	offset += sphinx.KeyIDLen

	header := append([]byte{}, buf[offset:offset+HeaderBytesLen]...)
	offset += HeaderBytesLen

	var seed sphinx.SharedSecret
	copy(seed[:], buf[offset:offset+sphinx.SecretLen])
	offset += sphinx.SecretLen

	mask := append([]byte{}, buf[offset:offset+ReplyContentLen]...)
	offset += ReplyContentLen

	chainLength := buf[offset]
	offset++

	challenge, err := sphinx.ParsePublicKeyCompressed(buf[offset : offset+sphinx.PublicKeyLen])
	if err != nil {
		return nil, err
	}

	return &Surb{
		FirstRelayerID: id,
		HeaderBytes:    header,
		PaddingSeed:    seed,
		InnerMask:      mask,
		ReceiverInfo: ReceiverInfo{
			ChainLength: chainLength,
			Challenge:   challenge,
		},
	}, nil
}
