// Package packet glues the Sphinx, Proof-of-Relay, SURB, and message
// framing layers into the three-state packet machine described in §4.5:
// a node observes every packet as exactly one of Outgoing (just built,
// ready to send), Forwarded (relayed on to its next hop), or Final
// (addressed to this node).
package packet

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/hoprnet/hopr-packet-core/fn"
	"github.com/hoprnet/hopr-packet-core/packet/message"
	"github.com/hoprnet/hopr-packet-core/packet/por"
	"github.com/hoprnet/hopr-packet-core/packet/sphinx"
	"github.com/hoprnet/hopr-packet-core/packet/surb"
)

// Size is the fixed wire size of one packet, metapacket plus ticket.
const Size = sphinx.PacketLen + TicketSize

// MaxSurbsInPacket is the most SURBs a packet can carry when its message
// is empty.
func MaxSurbsInPacket() int { return message.MaxSurbsInPacket }

// MaxSurbsWithMessage returns the most SURBs that fit alongside a message
// of msgLen bytes.
func MaxSurbsWithMessage(msgLen int) int { return message.MaxSurbsWithMessage(msgLen) }

// MaxMessageWithSurbs returns the longest message that fits alongside k
// SURBs.
func MaxMessageWithSurbs(k int) int { return message.MaxMessageWithSurbs(k) }

// Routing selects how an outgoing packet reaches its destination: plain
// forward travel, a reply along a previously received SURB, or a 0-hop
// probe that suppresses acknowledgement.
type Routing interface {
	isRouting()
}

// ForwardRouting originates a fresh message along Forward, optionally
// attaching SURBs built over ReturnPaths so the recipient can reply
// anonymously. ReturnPaths may be empty; Forward must not be.
type ForwardRouting struct {
	Forward     []*sphinx.PublicKey
	ReturnPaths [][]*sphinx.PublicKey
}

func (ForwardRouting) isRouting() {}

// SurbRouting routes a reply along a previously received Surb.
type SurbRouting struct {
	ID   SurbID
	Surb *surb.Surb
}

func (SurbRouting) isRouting() {}

// NoAckRouting sends a 0-hop probe directly to Destination; the recipient
// must not emit an acknowledgement for it.
type NoAckRouting struct {
	Destination *sphinx.PublicKey
}

func (NoAckRouting) isRouting() {}

// OpenerLookup resolves a locally-owned SenderID to the ReplyOpener
// stashed when the matching SURB was built. It is the host's job, not
// this package's, to remove an entry once it has been returned: an
// opener is single-use (§4.3).
type OpenerLookup func(id SenderID) fn.Option[*surb.ReplyOpener]

// Packet is a tagged variant with exactly the three states a node can
// observe.
type Packet interface {
	isPacket()
}

// OutgoingPacket is a packet this node just built, ready to send to
// NextHop.
type OutgoingPacket struct {
	MetaPacket *sphinx.MetaPacket
	Ticket     *Ticket
	NextHop    *sphinx.PublicKey

	// AckChallenge is the commitment the first hop's eventual
	// acknowledgement half-key must hash to. Nil for a reply sent along
	// a SurbRouting, since the original SURB creator (not the replier)
	// is the only party that ever derived the return path's secrets.
	AckChallenge *sphinx.PublicKey
}

func (*OutgoingPacket) isPacket() {}

// ForwardedPacket is the result of relaying an incoming packet on to its
// next hop.
type ForwardedPacket struct {
	// Outgoing is the packet to send on. Its Ticket field still carries
	// the incoming ticket: a relay must sign its own ticket for
	// NextChallenge via its own TicketBuilder before forwarding, since
	// this package never signs a ticket on a relay's behalf (§4.2).
	Outgoing *OutgoingPacket

	PacketTag   sphinx.PacketTag
	AckKey      por.HalfKey
	PreviousHop *sphinx.PublicKey

	// NextChallenge is the eth_challenge to sign into the ticket handed
	// to the next hop. This rendition reuses the same value that
	// verified the incoming ticket (own_key plus the peeled hint),
	// since a relay never learns the next hop's own secret and so
	// cannot derive an independent downstream challenge; see DESIGN.md.
	NextChallenge por.EthereumChallenge
}

func (*ForwardedPacket) isPacket() {}

// ReceivedSurb pairs a SURB arriving in a Final packet's framed payload
// with the SurbID a reply sent through it will be filed under.
type ReceivedSurb struct {
	ID   SurbID
	Surb *surb.Surb
}

// FinalPacket is the result of processing an incoming packet addressed to
// this node, whether a fresh forward message or a reply to one of this
// node's own SURBs.
type FinalPacket struct {
	PacketTag   sphinx.PacketTag
	AckKey      fn.Option[por.HalfKey]
	PreviousHop *sphinx.PublicKey
	Plaintext   []byte
	Sender      Pseudonym
	Surbs       []ReceivedSurb
	Signals     message.Signals
}

func (*FinalPacket) isPacket() {}

const (
	receiverFlagNoAck   = 1 << 0
	receiverFlagIsReply = 1 << 1
)

// encodeReceiverData packs a SenderID and two flags into the final hop's
// routing-info block, the relayer-data slot that carries no Proof-of-Relay
// hint for a path's last hop since it has no next hop (see
// sphinx.BuildHeader).
func encodeReceiverData(id SenderID, noAck, isReply bool) [sphinx.RelayerDataLen]byte {
	var out [sphinx.RelayerDataLen]byte

	var flags byte
	if noAck {
		flags |= receiverFlagNoAck
	}
	if isReply {
		flags |= receiverFlagIsReply
	}
	out[0] = flags
	copy(out[1:], id.Encode())
	return out
}

func decodeReceiverData(buf [sphinx.RelayerDataLen]byte) (id SenderID, noAck, isReply bool, err error) {
	flags := buf[0]
	noAck = flags&receiverFlagNoAck != 0
	isReply = flags&receiverFlagIsReply != 0

	id, err = DecodeSenderID(buf[1 : 1+PseudonymLen+8])
	return id, noAck, isReply, err
}

// PendingOpener pairs a SURB's deterministic SenderID with the
// ReplyOpener the caller must retain under it until either a matching
// reply arrives or the correspondence is abandoned.
type PendingOpener struct {
	ID     SenderID
	Opener *surb.ReplyOpener
}

// pathKeys is the shared-secret and Proof-of-Relay precomputation for one
// path, the part of construction that depends only on the path and not on
// the eventual message.
type pathKeys struct {
	chain  *sphinx.SharedSecretChain
	values []*por.Values
}

func derivePathKeys(ephemeral *sphinx.PrivateKey, path []*sphinx.PublicKey) (*pathKeys, error) {
	chain, err := sphinx.DeriveSharedSecretChain(ephemeral, path)
	if err != nil {
		return nil, err
	}
	return &pathKeys{chain: chain, values: por.DeriveChainValues(chain.Secrets)}, nil
}

// buildRelayerData assembles the per-hop additional_relayer_data array for
// a path given its shared-secret chain: a Proof-of-Relay hint for every
// hop but the last, and tail (receiver data) in the otherwise-unused final
// slot.
func buildRelayerData(secrets []sphinx.SharedSecret, tail [sphinx.RelayerDataLen]byte) [][sphinx.RelayerDataLen]byte {
	n := len(secrets)
	relayerData := make([][sphinx.RelayerDataLen]byte, n)
	for i := 0; i < n-1; i++ {
		relayerData[i] = por.HintFromSecret(secrets[i+1])
	}
	relayerData[n-1] = tail
	return relayerData
}

func signTicket(builder TicketBuilder, challenge por.EthereumChallenge,
	signer ChainSigner, domainSeparator chainhash.Hash) (*Ticket, error) {

	ticket, err := builder.Build(challenge, signer, domainSeparator)
	if err != nil {
		return nil, NewPacketConstructionError("sign ticket: " + err.Error())
	}
	return ticket, nil
}

func resolveForwardNextIDs(mapper sphinx.KeyIdMapper, path []*sphinx.PublicKey) ([]sphinx.KeyID, error) {
	n := len(path)
	ids := make([]sphinx.KeyID, n)
	for i := 0; i < n-1; i++ {
		id, ok := mapper.PubKeyToID(path[i+1])
		if !ok {
			return nil, NewPacketConstructionError("unknown key identifier on outgoing path")
		}
		ids[i] = id
	}
	ids[n-1] = sphinx.TerminatorKeyID
	return ids, nil
}

func resolveReturnNextIDs(mapper sphinx.KeyIdMapper, path []*sphinx.PublicKey) ([]sphinx.KeyID, error) {
	n := len(path)
	ids := make([]sphinx.KeyID, n)
	for i := 0; i < n-1; i++ {
		id, ok := mapper.PubKeyToID(path[i+1])
		if !ok {
			return nil, NewSurbKeyMappingError("unknown key for return path hop")
		}
		ids[i] = id
	}
	ids[n-1] = sphinx.TerminatorKeyID
	return ids, nil
}

// buildReturnSurbs builds one SURB per return path, with sequence numbers
// baseSequence+1, baseSequence+2, ... — distinct from the packet's own
// SenderID at baseSequence, so the packet and every SURB it carries
// resolve to different, unambiguous SenderIDs under the same Pseudonym.
func buildReturnSurbs(pseudonym Pseudonym, baseSequence uint64,
	returnPaths [][]*sphinx.PublicKey, mapper sphinx.KeyIdMapper) ([]*surb.Surb, []PendingOpener, error) {

	surbs := make([]*surb.Surb, 0, len(returnPaths))
	openers := make([]PendingOpener, 0, len(returnPaths))

	for i, rp := range returnPaths {
		if len(rp) == 0 {
			return nil, nil, NewPacketConstructionError("empty return path")
		}

		id := SenderID{Pseudonym: pseudonym, Sequence: baseSequence + 1 + uint64(i)}

		ephemeral, err := sphinx.GenerateEphemeralKey()
		if err != nil {
			return nil, nil, NewPacketConstructionError("generate surb ephemeral key: " + err.Error())
		}

		nextIDs, err := resolveReturnNextIDs(mapper, rp)
		if err != nil {
			return nil, nil, err
		}

		firstID, ok := mapper.PubKeyToID(rp[0])
		if !ok {
			return nil, nil, NewSurbKeyMappingError("unknown key for return path first hop")
		}

		s, opener, err := surb.Build(ephemeral, rp, nextIDs, firstID,
			encodeReceiverData(id, false, true))
		if err != nil {
			return nil, nil, NewPacketConstructionError("build surb: " + err.Error())
		}

		surbs = append(surbs, s)
		openers = append(openers, PendingOpener{ID: id, Opener: opener})
	}

	return surbs, openers, nil
}

// PartialPacket is the path-dependent half of construction, computed
// before the eventual message is known: shared secrets, Proof-of-Relay
// values, any attached SURBs, and a signed first ticket. A host talking
// to the same destination repeatedly can precompute one of these ahead of
// having anything to say, per §9's "supplemented from original_source"
// partial-packet note.
type PartialPacket struct {
	alpha   *sphinx.PublicKey
	beta    []byte
	gamma   [sphinx.MacLen]byte
	secrets []sphinx.SharedSecret

	// replySurb is set only for a SurbRouting partial packet, whose
	// payload encryption is the precomputed SURB reply cipher rather
	// than a fresh per-hop chain (see IntoPacket).
	replySurb *surb.Surb

	surbs   []*surb.Surb
	openers []PendingOpener

	ticket       *Ticket
	nextHop      *sphinx.PublicKey
	ackChallenge *sphinx.PublicKey
}

// NewPartial runs every path-dependent step of §4.5's construction
// pipeline, short of framing and encrypting the eventual message.
// sequence is the caller-owned SenderID counter for pseudonym; this
// package keeps no sequence state of its own.
func NewPartial(pseudonym Pseudonym, sequence uint64, routing Routing,
	signer ChainSigner, ticketBuilder TicketBuilder, mapper sphinx.KeyIdMapper,
	domainSeparator chainhash.Hash) (*PartialPacket, error) {

	switch r := routing.(type) {
	case ForwardRouting:
		return newPartialForward(pseudonym, sequence, r, signer, ticketBuilder, mapper, domainSeparator)
	case SurbRouting:
		return newPartialSurb(r, signer, ticketBuilder, mapper, domainSeparator)
	case NoAckRouting:
		return newPartialNoAck(pseudonym, sequence, r, signer, ticketBuilder, domainSeparator)
	default:
		return nil, NewPacketConstructionError("unknown routing variant")
	}
}

func newPartialForward(pseudonym Pseudonym, sequence uint64, r ForwardRouting,
	signer ChainSigner, ticketBuilder TicketBuilder, mapper sphinx.KeyIdMapper,
	domainSeparator chainhash.Hash) (*PartialPacket, error) {

	if len(r.Forward) == 0 {
		return nil, NewPacketConstructionError("empty forward path")
	}

	ephemeral, err := sphinx.GenerateEphemeralKey()
	if err != nil {
		return nil, NewPacketConstructionError("generate ephemeral key: " + err.Error())
	}

	keys, err := derivePathKeys(ephemeral, r.Forward)
	if err != nil {
		return nil, NewPacketConstructionError(err.Error())
	}

	nextIDs, err := resolveForwardNextIDs(mapper, r.Forward)
	if err != nil {
		return nil, err
	}

	selfID := SenderID{Pseudonym: pseudonym, Sequence: sequence}
	relayerData := buildRelayerData(keys.chain.Secrets, encodeReceiverData(selfID, false, false))

	beta, gamma, err := sphinx.BuildHeader(keys.chain.Secrets, nextIDs, relayerData)
	if err != nil {
		return nil, NewPacketConstructionError(err.Error())
	}

	surbs, openers, err := buildReturnSurbs(pseudonym, sequence, r.ReturnPaths, mapper)
	if err != nil {
		return nil, err
	}

	ticket, err := signTicket(ticketBuilder, keys.values[0].EthChallenge, signer, domainSeparator)
	if err != nil {
		return nil, err
	}

	return &PartialPacket{
		alpha:        keys.chain.FirstAlpha,
		beta:         beta,
		gamma:        gamma,
		secrets:      keys.chain.Secrets,
		surbs:        surbs,
		openers:      openers,
		ticket:       ticket,
		nextHop:      r.Forward[0],
		ackChallenge: keys.values[0].AckChallenge,
	}, nil
}

func newPartialSurb(r SurbRouting, signer ChainSigner, ticketBuilder TicketBuilder,
	mapper sphinx.KeyIdMapper, domainSeparator chainhash.Hash) (*PartialPacket, error) {

	alphaBytes, beta, gamma, err := surb.DecodeHeaderShell(r.Surb.HeaderBytes)
	if err != nil {
		return nil, NewPacketConstructionError("decode surb header: " + err.Error())
	}

	alpha, err := sphinx.ParsePublicKeyCompressed(alphaBytes)
	if err != nil {
		return nil, NewPacketConstructionError("parse surb alpha: " + err.Error())
	}

	nextHop, ok := mapper.IDToPubKey(r.Surb.FirstRelayerID)
	if !ok {
		return nil, NewPacketConstructionError("unknown surb first relayer key identifier")
	}

	ethChallenge := por.HashChallenge(r.Surb.ReceiverInfo.Challenge)
	ticket, err := signTicket(ticketBuilder, ethChallenge, signer, domainSeparator)
	if err != nil {
		return nil, err
	}

	return &PartialPacket{
		alpha:     alpha,
		beta:      beta,
		gamma:     gamma,
		replySurb: r.Surb,
		ticket:    ticket,
		nextHop:   nextHop,
		// AckChallenge is intentionally nil: verifying the first
		// return hop's acknowledgement belongs to whichever party
		// derived the return path's secrets, which for a reply is
		// the original SURB creator, not the replier. See DESIGN.md.
	}, nil
}

func newPartialNoAck(pseudonym Pseudonym, sequence uint64, r NoAckRouting,
	signer ChainSigner, ticketBuilder TicketBuilder, domainSeparator chainhash.Hash) (*PartialPacket, error) {

	ephemeral, err := sphinx.GenerateEphemeralKey()
	if err != nil {
		return nil, NewPacketConstructionError("generate ephemeral key: " + err.Error())
	}

	path := []*sphinx.PublicKey{r.Destination}
	keys, err := derivePathKeys(ephemeral, path)
	if err != nil {
		return nil, NewPacketConstructionError(err.Error())
	}

	selfID := SenderID{Pseudonym: pseudonym, Sequence: sequence}
	relayerData := buildRelayerData(keys.chain.Secrets, encodeReceiverData(selfID, true, false))

	beta, gamma, err := sphinx.BuildHeader(keys.chain.Secrets,
		[]sphinx.KeyID{sphinx.TerminatorKeyID}, relayerData)
	if err != nil {
		return nil, NewPacketConstructionError(err.Error())
	}

	ticket, err := signTicket(ticketBuilder, keys.values[0].EthChallenge, signer, domainSeparator)
	if err != nil {
		return nil, err
	}

	return &PartialPacket{
		alpha:        keys.chain.FirstAlpha,
		beta:         beta,
		gamma:        gamma,
		secrets:      keys.chain.Secrets,
		ticket:       ticket,
		nextHop:      r.Destination,
		ackChallenge: keys.values[0].AckChallenge,
	}, nil
}

// IntoPacket finalizes a PartialPacket with the now-known message and
// signals, framing and encrypting the payload and assembling the
// complete OutgoingPacket. It returns the PendingOpeners the caller must
// retain for any attached SURBs.
func (p *PartialPacket) IntoPacket(msg []byte, signals message.Signals) (*OutgoingPacket, []PendingOpener, error) {
	var delta []byte

	if p.replySurb != nil {
		d, err := p.replySurb.Reply(msg)
		if err != nil {
			return nil, nil, NewPacketConstructionError("build surb reply: " + err.Error())
		}
		delta = d
	} else {
		framed, err := message.Pack(msg, p.surbs, signals)
		if err != nil {
			return nil, nil, NewPacketConstructionError(err.Error())
		}
		delta = sphinx.EncryptPayloadChain(p.secrets, framed)
	}

	return &OutgoingPacket{
		MetaPacket: &sphinx.MetaPacket{
			Alpha: p.alpha,
			Beta:  p.beta,
			Gamma: p.gamma,
			Delta: delta,
		},
		Ticket:       p.ticket,
		NextHop:      p.nextHop,
		AckChallenge: p.ackChallenge,
	}, p.openers, nil
}

// IntoOutgoing runs the full §4.5 construction pipeline in one call:
// NewPartial followed by IntoPacket.
func IntoOutgoing(pseudonym Pseudonym, sequence uint64, routing Routing,
	signer ChainSigner, ticketBuilder TicketBuilder, mapper sphinx.KeyIdMapper,
	domainSeparator chainhash.Hash, msg []byte, signals message.Signals) (
	*OutgoingPacket, []PendingOpener, error) {

	partial, err := NewPartial(pseudonym, sequence, routing, signer, ticketBuilder, mapper, domainSeparator)
	if err != nil {
		return nil, nil, err
	}
	return partial.IntoPacket(msg, signals)
}

// Encode serialises an OutgoingPacket to its full wire form: the
// metapacket followed by the ticket, exactly Size bytes.
func (p *OutgoingPacket) Encode() ([]byte, error) {
	ticketBytes, err := p.Ticket.Encode()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, Size)
	buf = append(buf, p.MetaPacket.Encode()...)
	buf = append(buf, ticketBytes...)
	return buf, nil
}

// FromIncoming runs §4.5's incoming pipeline: split the wire bytes into
// metapacket and ticket, run the Sphinx forward transformation at
// nodeKey, and build either a ForwardedPacket or a FinalPacket from the
// result. previousHop identifies whoever handed this node the packet, for
// bookkeeping only; it plays no role in the cryptography.
func FromIncoming(data []byte, nodeKey *sphinx.PrivateKey, previousHop *sphinx.PublicKey,
	mapper sphinx.KeyIdMapper, openerLookup OpenerLookup) (Packet, error) {

	if len(data) != Size {
		return nil, NewPacketDecodingError("packet has invalid size")
	}

	mp, err := sphinx.DecodeMetaPacket(data[:sphinx.PacketLen])
	if err != nil {
		return nil, NewPacketDecodingError("decode metapacket: " + err.Error())
	}

	result, err := sphinx.Forward(nodeKey, mp)
	if err != nil {
		return nil, NewPacketDecodingError("forward transform: " + err.Error())
	}

	if !result.IsFinal {
		return buildForwarded(result, data[sphinx.PacketLen:], previousHop, mapper)
	}

	return buildFinal(result, previousHop, openerLookup)
}

func buildForwarded(result *sphinx.ForwardResult, ticketBytes []byte,
	previousHop *sphinx.PublicKey, mapper sphinx.KeyIdMapper) (Packet, error) {

	ticket, err := DecodeTicket(ticketBytes)
	if err != nil {
		return nil, NewPacketDecodingError("decode ticket: " + err.Error())
	}

	values, ok := por.PreVerify(result.Secret, result.RelayerData, ticket.EthChallenge)
	if !ok {
		return nil, &InvalidTicketChallenge{}
	}

	nextHop, ok := mapper.IDToPubKey(result.NextHop)
	if !ok {
		return nil, NewPacketDecodingError("unknown next-hop key identifier")
	}

	return &ForwardedPacket{
		Outgoing: &OutgoingPacket{
			MetaPacket: result.Forwarded,
			Ticket:     ticket,
			NextHop:    nextHop,
		},
		PacketTag:     result.Tag,
		AckKey:        por.HalfKeyFromSecret(result.Secret),
		PreviousHop:   previousHop,
		NextChallenge: values.EthChallenge,
	}, nil
}

func buildFinal(result *sphinx.ForwardResult, previousHop *sphinx.PublicKey,
	openerLookup OpenerLookup) (Packet, error) {

	id, noAck, isReply, err := decodeReceiverData(result.RelayerData)
	if err != nil {
		return nil, NewPacketDecodingError("decode receiver data: " + err.Error())
	}

	var ackKey fn.Option[por.HalfKey]
	if !noAck {
		ackKey = fn.Some(por.HalfKeyFromSecret(result.Secret))
	}

	if isReply {
		opener, err := openerLookup(id).UnwrapOrErr(&UnknownReplyOpener{ID: id.SurbID()})
		if err != nil {
			return nil, err
		}

		content, err := surb.OpenReply(opener, result.Plaintext)
		if err != nil {
			return nil, NewPacketDecodingError("open surb reply: " + err.Error())
		}

		return &FinalPacket{
			PacketTag:   result.Tag,
			AckKey:      ackKey,
			PreviousHop: previousHop,
			Plaintext:   content,
			Sender:      id.Pseudonym,
		}, nil
	}

	framed, err := message.Unpack(result.Plaintext)
	if err != nil {
		return nil, NewPacketDecodingError("unpack framed message: " + err.Error())
	}

	surbs := make([]ReceivedSurb, len(framed.Surbs))
	for i, s := range framed.Surbs {
		sid := SenderID{Pseudonym: id.Pseudonym, Sequence: id.Sequence + 1 + uint64(i)}
		surbs[i] = ReceivedSurb{ID: sid.SurbID(), Surb: s}
	}

	return &FinalPacket{
		PacketTag:   result.Tag,
		AckKey:      ackKey,
		PreviousHop: previousHop,
		Plaintext:   framed.Payload,
		Sender:      id.Pseudonym,
		Surbs:       surbs,
		Signals:     framed.Signals,
	}, nil
}
