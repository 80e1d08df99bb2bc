package message

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hoprnet/hopr-packet-core/packet/sphinx"
	"github.com/hoprnet/hopr-packet-core/packet/surb"
)

func buildTestSurb(t *testing.T) *surb.Surb {
	t.Helper()

	priv, err := sphinx.GenerateEphemeralKey()
	require.NoError(t, err)
	ephemeral, err := sphinx.GenerateEphemeralKey()
	require.NoError(t, err)

	var receiverData [sphinx.RelayerDataLen]byte
	s, _, err := surb.Build(ephemeral, []*sphinx.PublicKey{priv.PubKey()},
		[]sphinx.KeyID{sphinx.TerminatorKeyID}, 7, receiverData)
	require.NoError(t, err)
	return s
}

func TestPackUnpackNoSurbs(t *testing.T) {
	msg := []byte("some testing forward message")

	framed, err := Pack(msg, nil, SignalOutOfSurbs)
	require.NoError(t, err)
	require.Len(t, framed, sphinx.PayloadLen)

	parsed, err := Unpack(framed)
	require.NoError(t, err)
	require.Equal(t, msg, parsed.Payload)
	require.True(t, parsed.Signals.Has(SignalOutOfSurbs))
	require.Empty(t, parsed.Surbs)
}

func TestPackUnpackWithSurbs(t *testing.T) {
	s := buildTestSurb(t)
	msg := []byte("short message")

	framed, err := Pack(msg, []*surb.Surb{s, s}, 0)
	require.NoError(t, err)

	parsed, err := Unpack(framed)
	require.NoError(t, err)
	require.Equal(t, msg, parsed.Payload)
	require.Len(t, parsed.Surbs, 2)
	require.Equal(t, s.FirstRelayerID, parsed.Surbs[0].FirstRelayerID)
}

func TestPackUnpackMessageEndingInZeroByte(t *testing.T) {
	msg := []byte{0x68, 0x69, 0x00, 0x00}

	framed, err := Pack(msg, nil, 0)
	require.NoError(t, err)

	parsed, err := Unpack(framed)
	require.NoError(t, err)
	require.Equal(t, msg, parsed.Payload)
}

func TestPackRejectsOversizeMessage(t *testing.T) {
	oversized := make([]byte, sphinx.PayloadLen)

	_, err := Pack(oversized, nil, 0)
	require.ErrorIs(t, err, ErrMessageTooLong)
}

func TestMaxSurbsWithMessageDerivation(t *testing.T) {
	require.Equal(t, MaxMessageWithSurbs(0), sphinx.PayloadLen-headerLen)
	require.Equal(t, MaxSurbsWithMessage(0), MaxSurbsInPacket)
}
