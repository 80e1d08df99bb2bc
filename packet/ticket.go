package packet

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/tlv"

	"github.com/hoprnet/hopr-packet-core/packet/por"
)

// AddressLen is the size, in bytes, of an on-chain counterparty address.
const AddressLen = 20

// SignatureLen is the size, in bytes, of a ticket's recoverable signature.
const SignatureLen = 65

const (
	ticketCounterpartyType tlv.Type = 0
	ticketAmountType       tlv.Type = 2
	ticketEpochType        tlv.Type = 4
	ticketIndexType        tlv.Type = 6
	ticketWinProbType      tlv.Type = 8
	ticketChallengeType    tlv.Type = 10
	ticketSignatureType    tlv.Type = 12
)

// TicketSize is the fixed wire size of an encoded Ticket: one TLV record
// per field, each contributing a one-byte type, a one-byte length, and its
// value, since every field here is well under the 253-byte bigsize
// threshold. Derived from its parts rather than hard-coded, matching the
// convention already used for Surb.Size and MetaPacket.PacketLen.
const TicketSize = 2 + AddressLen + // counterparty
	2 + 8 + // amount
	2 + 4 + // epoch
	2 + 8 + // index
	2 + 8 + // winning probability
	2 + por.ChallengeLen + // eth_challenge
	2 + SignatureLen // signature

// Ticket is the opaque-to-the-core micropayment instrument described in
// §4.2/§6: a promise, redeemable on-chain, to pay `Amount` to whoever holds
// the preimage of `EthChallenge`. The core only ever sets EthChallenge and
// hands the rest to the TicketBuilder/ChainSigner collaborators; it never
// interprets Amount, Epoch, Index, or WinProb itself.
type Ticket struct {
	// Counterparty is the on-chain address of the ticket's issuer, the
	// hop this ticket pays.
	Counterparty [AddressLen]byte

	// Amount is the ticket's face value, denominated in the channel's
	// token, opaque to the core.
	Amount uint64

	// Epoch is the issuing channel's epoch at ticket-creation time.
	Epoch uint32

	// Index is the ticket's position in its channel's issuance order.
	Index uint64

	// WinProb is the ticket's winning probability, encoded as a
	// fixed-point fraction of math.MaxUint64 (1.0 == math.MaxUint64).
	WinProb uint64

	// EthChallenge is the hash of the PoR challenge point the core
	// computed for the hop this ticket pays; see por.DeriveOwnValues.
	EthChallenge por.EthereumChallenge

	// Signature is the issuer's signature, over every other field, from
	// its on-chain keypair.
	Signature [SignatureLen]byte
}

// ChainSigner is the collaborator a TicketBuilder uses to produce a
// ticket's signature. Its implementation (wallet custody, hardware signer,
// remote signer) is entirely a host concern.
type ChainSigner interface {
	// Address returns the signer's on-chain counterparty address.
	Address() [AddressLen]byte

	// Sign signs payload under domainSeparator, returning a
	// SignatureLen-byte recoverable signature.
	Sign(domainSeparator chainhash.Hash, payload []byte) ([SignatureLen]byte, error)
}

// TicketBuilder is the fluent, host-supplied collaborator that turns a PoR
// challenge into a signed Ticket. The core calls Build once per outgoing
// packet, for the first hop's ticket; on the relaying path the core signs
// nothing, and the relay's host calls Build itself with
// ForwardedPacket.NextChallenge. Everything about amount, epoch, and index
// bookkeeping belongs to the host's channel accounting, not the core.
type TicketBuilder interface {
	// ForCounterparty selects which channel's ticket is being built.
	ForCounterparty(addr [AddressLen]byte) TicketBuilder

	// WithAmount sets the ticket's face value.
	WithAmount(amount uint64) TicketBuilder

	// WithEpoch sets the issuing channel's epoch.
	WithEpoch(epoch uint32) TicketBuilder

	// WithIndex sets the ticket's issuance index.
	WithIndex(index uint64) TicketBuilder

	// WithWinProb sets the ticket's winning probability.
	WithWinProb(prob uint64) TicketBuilder

	// Build signs and returns the ticket, setting EthChallenge to
	// challenge and delegating the signature to signer.
	Build(challenge por.EthereumChallenge, signer ChainSigner,
		domainSeparator chainhash.Hash) (*Ticket, error)
}

// signingPayload returns every field but Signature, in wire order, the
// byte string a ChainSigner actually signs.
func (t *Ticket) signingPayload() []byte {
	buf := make([]byte, 0, TicketSize-2-SignatureLen)
	buf = append(buf, t.Counterparty[:]...)

	var n [8]byte
	binary.BigEndian.PutUint64(n[:], t.Amount)
	buf = append(buf, n[:]...)

	var e [4]byte
	binary.BigEndian.PutUint32(e[:], t.Epoch)
	buf = append(buf, e[:]...)

	binary.BigEndian.PutUint64(n[:], t.Index)
	buf = append(buf, n[:]...)

	binary.BigEndian.PutUint64(n[:], t.WinProb)
	buf = append(buf, n[:]...)

	buf = append(buf, t.EthChallenge[:]...)
	return buf
}

// Encode serialises a Ticket to its TLV wire form, following the
// tlv.NewStream/tlv.MakeDynamicRecord pattern used for lnd's blinded route
// data: one record per field, each a fixed-size byte blob so RecordSize is
// a constant rather than a computed length.
func (t *Ticket) Encode() ([]byte, error) {
	records := []tlv.Record{
		newFixedBytesRecord(ticketCounterpartyType, t.Counterparty[:], AddressLen),
		tlv.MakePrimitiveRecord(ticketAmountType, &t.Amount),
		tlv.MakePrimitiveRecord(ticketEpochType, &t.Epoch),
		tlv.MakePrimitiveRecord(ticketIndexType, &t.Index),
		tlv.MakePrimitiveRecord(ticketWinProbType, &t.WinProb),
		newFixedBytesRecord(ticketChallengeType, t.EthChallenge[:], por.ChallengeLen),
		newFixedBytesRecord(ticketSignatureType, t.Signature[:], SignatureLen),
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, NewPacketConstructionError("ticket tlv stream: " + err.Error())
	}

	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, NewPacketConstructionError("ticket tlv encode: " + err.Error())
	}
	return buf.Bytes(), nil
}

// DecodeTicket parses the TLV wire form produced by Ticket.Encode.
func DecodeTicket(buf []byte) (*Ticket, error) {
	var t Ticket

	records := []tlv.Record{
		newFixedBytesRecord(ticketCounterpartyType, t.Counterparty[:], AddressLen),
		tlv.MakePrimitiveRecord(ticketAmountType, &t.Amount),
		tlv.MakePrimitiveRecord(ticketEpochType, &t.Epoch),
		tlv.MakePrimitiveRecord(ticketIndexType, &t.Index),
		tlv.MakePrimitiveRecord(ticketWinProbType, &t.WinProb),
		newFixedBytesRecord(ticketChallengeType, t.EthChallenge[:], por.ChallengeLen),
		newFixedBytesRecord(ticketSignatureType, t.Signature[:], SignatureLen),
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, NewPacketDecodingError("ticket tlv stream: " + err.Error())
	}

	if _, err := stream.DecodeWithParsedTypes(bytes.NewReader(buf)); err != nil {
		return nil, NewPacketDecodingError("malformed ticket: " + err.Error())
	}

	return &t, nil
}

// newFixedBytesRecord builds a tlv.Record for a fixed-width byte slice,
// the same shape as lnd hop.newPaymentRelayRecord: a dynamic record whose
// RecordSize callback is a constant because the field never changes width.
func newFixedBytesRecord(typ tlv.Type, field []byte, size int) tlv.Record {
	return tlv.MakeDynamicRecord(
		typ, &field,
		func() uint64 { return uint64(size) },
		encodeFixedBytes, decodeFixedBytes,
	)
}

func encodeFixedBytes(w io.Writer, val interface{}, _ *[8]byte) error {
	if f, ok := val.(*[]byte); ok {
		_, err := w.Write(*f)
		return err
	}
	return tlv.NewTypeForEncodingErr(val, "[]byte")
}

func decodeFixedBytes(r io.Reader, val interface{}, _ *[8]byte, l uint64) error {
	if f, ok := val.(*[]byte); ok {
		buf := make([]byte, l)
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}
		copy(*f, buf)
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "[]byte", l, l)
}
