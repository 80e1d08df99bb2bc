package packet

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/hoprnet/hopr-packet-core/fn"
	"github.com/hoprnet/hopr-packet-core/packet/message"
	"github.com/hoprnet/hopr-packet-core/packet/por"
	"github.com/hoprnet/hopr-packet-core/packet/sphinx"
	"github.com/hoprnet/hopr-packet-core/packet/surb"
)

func genNode(t *testing.T) (*sphinx.PrivateKey, *sphinx.PublicKey) {
	t.Helper()

	priv, err := sphinx.GenerateEphemeralKey()
	require.NoError(t, err)
	return priv, priv.PubKey()
}

type stubSigner struct {
	addr [AddressLen]byte
}

func (s stubSigner) Address() [AddressLen]byte { return s.addr }

func (s stubSigner) Sign(_ chainhash.Hash, _ []byte) ([SignatureLen]byte, error) {
	var sig [SignatureLen]byte
	sig[0] = 0xAB
	return sig, nil
}

type stubTicketBuilder struct {
	counterparty [AddressLen]byte
	amount       uint64
}

func (b *stubTicketBuilder) ForCounterparty(addr [AddressLen]byte) TicketBuilder {
	b.counterparty = addr
	return b
}

func (b *stubTicketBuilder) WithAmount(amount uint64) TicketBuilder {
	b.amount = amount
	return b
}

func (b *stubTicketBuilder) WithEpoch(uint32) TicketBuilder  { return b }
func (b *stubTicketBuilder) WithIndex(uint64) TicketBuilder  { return b }
func (b *stubTicketBuilder) WithWinProb(uint64) TicketBuilder { return b }

func (b *stubTicketBuilder) Build(challenge por.EthereumChallenge, signer ChainSigner,
	domainSeparator chainhash.Hash) (*Ticket, error) {

	sig, err := signer.Sign(domainSeparator, nil)
	if err != nil {
		return nil, err
	}

	return &Ticket{
		Counterparty: signer.Address(),
		Amount:       1,
		Epoch:        1,
		Index:        1,
		WinProb:      ^uint64(0),
		EthChallenge: challenge,
		Signature:    sig,
	}, nil
}

func noOpeners(SenderID) fn.Option[*surb.ReplyOpener] {
	return fn.None[*surb.ReplyOpener]()
}

// relay re-signs an incoming ForwardedPacket's next ticket and re-encodes
// the packet to send on, exactly the bookkeeping a relay's host performs
// between FromIncoming and handing the bytes to its transport.
func relay(t *testing.T, fwd *ForwardedPacket, domainSeparator chainhash.Hash) []byte {
	t.Helper()

	builder := &stubTicketBuilder{}
	signer := stubSigner{addr: [AddressLen]byte{0x02}}

	ticket, err := builder.Build(fwd.NextChallenge, signer, domainSeparator)
	require.NoError(t, err)

	out := &OutgoingPacket{
		MetaPacket: fwd.Outgoing.MetaPacket,
		Ticket:     ticket,
		NextHop:    fwd.Outgoing.NextHop,
	}

	data, err := out.Encode()
	require.NoError(t, err)
	return data
}

func TestForwardMessageNoSurb(t *testing.T) {
	var domainSeparator chainhash.Hash

	_, senderPub := genNode(t)
	r1Priv, r1Pub := genNode(t)
	r2Priv, r2Pub := genNode(t)

	mapper := sphinx.NewMapKeyIdMapper(map[sphinx.KeyID]*sphinx.PublicKey{
		1: r1Pub,
		2: r2Pub,
	})

	pseudonym, err := NewPseudonym()
	require.NoError(t, err)

	signer := stubSigner{addr: [AddressLen]byte{0x01}}
	ticketBuilder := &stubTicketBuilder{}

	routing := ForwardRouting{Forward: []*sphinx.PublicKey{r1Pub, r2Pub}}

	outgoing, openers, err := IntoOutgoing(pseudonym, 0, routing, signer, ticketBuilder,
		mapper, domainSeparator, []byte("hello hopr"), 0)
	require.NoError(t, err)
	require.Empty(t, openers)
	require.True(t, outgoing.NextHop.IsEqual(r1Pub))

	data, err := outgoing.Encode()
	require.NoError(t, err)
	require.Len(t, data, Size)

	pkt1, err := FromIncoming(data, r1Priv, senderPub, mapper, noOpeners)
	require.NoError(t, err)
	fwd, ok := pkt1.(*ForwardedPacket)
	require.True(t, ok)
	require.True(t, fwd.Outgoing.NextHop.IsEqual(r2Pub))

	data2 := relay(t, fwd, domainSeparator)

	pkt2, err := FromIncoming(data2, r2Priv, r1Pub, mapper, noOpeners)
	require.NoError(t, err)
	final, ok := pkt2.(*FinalPacket)
	require.True(t, ok)
	require.Equal(t, []byte("hello hopr"), final.Plaintext)
	require.Equal(t, pseudonym, final.Sender)
	require.Empty(t, final.Surbs)
	require.True(t, final.AckKey.IsSome())
}

func TestForwardMessageWithSurbAndReply(t *testing.T) {
	var domainSeparator chainhash.Hash

	sPriv, sPub := genNode(t)
	dPriv, dPub := genNode(t)

	mapper := sphinx.NewMapKeyIdMapper(map[sphinx.KeyID]*sphinx.PublicKey{
		9: sPub,
	})

	pseudonym, err := NewPseudonym()
	require.NoError(t, err)

	sSigner := stubSigner{addr: [AddressLen]byte{0x03}}
	sTicketBuilder := &stubTicketBuilder{}

	routing := ForwardRouting{
		Forward:     []*sphinx.PublicKey{dPub},
		ReturnPaths: [][]*sphinx.PublicKey{{sPub}},
	}

	outgoing, openers, err := IntoOutgoing(pseudonym, 0, routing, sSigner, sTicketBuilder,
		mapper, domainSeparator, []byte("ping"), message.SignalOutOfSurbs)
	require.NoError(t, err)
	require.Len(t, openers, 1)

	data, err := outgoing.Encode()
	require.NoError(t, err)

	pkt, err := FromIncoming(data, dPriv, sPub, mapper, noOpeners)
	require.NoError(t, err)
	final, ok := pkt.(*FinalPacket)
	require.True(t, ok)
	require.Equal(t, []byte("ping"), final.Plaintext)
	require.True(t, final.Signals.Has(message.SignalOutOfSurbs))
	require.Len(t, final.Surbs, 1)
	require.Equal(t, openers[0].ID.SurbID(), final.Surbs[0].ID)

	dSigner := stubSigner{addr: [AddressLen]byte{0x04}}
	dTicketBuilder := &stubTicketBuilder{}

	replyRouting := SurbRouting{ID: final.Surbs[0].ID, Surb: final.Surbs[0].Surb}
	replyMsg := make([]byte, surb.ReplyContentLen)
	for i := range replyMsg {
		replyMsg[i] = byte(i)
	}

	replyPseudonym, err := NewPseudonym()
	require.NoError(t, err)

	replyOutgoing, replyOpeners, err := IntoOutgoing(replyPseudonym, 0, replyRouting,
		dSigner, dTicketBuilder, mapper, domainSeparator, replyMsg, 0)
	require.NoError(t, err)
	require.Empty(t, replyOpeners)
	require.Nil(t, replyOutgoing.AckChallenge)

	replyData, err := replyOutgoing.Encode()
	require.NoError(t, err)

	openersByID := map[SenderID]*surb.ReplyOpener{openers[0].ID: openers[0].Opener}
	lookup := func(id SenderID) fn.Option[*surb.ReplyOpener] {
		if op, ok := openersByID[id]; ok {
			return fn.Some(op)
		}
		return fn.None[*surb.ReplyOpener]()
	}

	pkt2, err := FromIncoming(replyData, sPriv, dPub, mapper, lookup)
	require.NoError(t, err)
	finalReply, ok := pkt2.(*FinalPacket)
	require.True(t, ok)
	require.Equal(t, replyMsg, finalReply.Plaintext)
	require.Equal(t, pseudonym, finalReply.Sender)
}

func TestFromIncomingUnknownOpenerRejected(t *testing.T) {
	var domainSeparator chainhash.Hash

	sPriv, sPub := genNode(t)
	dPriv, dPub := genNode(t)

	mapper := sphinx.NewMapKeyIdMapper(map[sphinx.KeyID]*sphinx.PublicKey{
		9: sPub,
	})

	pseudonym, err := NewPseudonym()
	require.NoError(t, err)

	sSigner := stubSigner{addr: [AddressLen]byte{0x05}}
	sTicketBuilder := &stubTicketBuilder{}

	routing := ForwardRouting{
		Forward:     []*sphinx.PublicKey{dPub},
		ReturnPaths: [][]*sphinx.PublicKey{{sPub}},
	}

	outgoing, openers, err := IntoOutgoing(pseudonym, 0, routing, sSigner, sTicketBuilder,
		mapper, domainSeparator, nil, 0)
	require.NoError(t, err)
	require.Len(t, openers, 1)

	data, err := outgoing.Encode()
	require.NoError(t, err)

	pkt, err := FromIncoming(data, dPriv, sPub, mapper, noOpeners)
	require.NoError(t, err)
	final := pkt.(*FinalPacket)

	dSigner := stubSigner{addr: [AddressLen]byte{0x06}}
	dTicketBuilder := &stubTicketBuilder{}
	replyRouting := SurbRouting{ID: final.Surbs[0].ID, Surb: final.Surbs[0].Surb}

	replyPseudonym, err := NewPseudonym()
	require.NoError(t, err)

	replyOutgoing, _, err := IntoOutgoing(replyPseudonym, 0, replyRouting, dSigner,
		dTicketBuilder, mapper, domainSeparator, []byte("pong"), 0)
	require.NoError(t, err)

	replyData, err := replyOutgoing.Encode()
	require.NoError(t, err)

	_, err = FromIncoming(replyData, sPriv, dPub, mapper, noOpeners)
	require.Error(t, err)
	require.IsType(t, &UnknownReplyOpener{}, err)
}
