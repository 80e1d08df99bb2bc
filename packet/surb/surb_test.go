package surb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hoprnet/hopr-packet-core/packet/sphinx"
)

func genKeyPair(t *testing.T) (*sphinx.PrivateKey, *sphinx.PublicKey) {
	t.Helper()

	priv, err := sphinx.GenerateEphemeralKey()
	require.NoError(t, err)
	return priv, priv.PubKey()
}

func TestBuildAndEncodeRoundTrip(t *testing.T) {
	_, r1Pub := genKeyPair(t)
	_, r2Pub := genKeyPair(t)
	ephemeral, err := sphinx.GenerateEphemeralKey()
	require.NoError(t, err)

	path := []*sphinx.PublicKey{r1Pub, r2Pub}
	nextIDs := []sphinx.KeyID{2, sphinx.TerminatorKeyID}

	var receiverData [sphinx.RelayerDataLen]byte
	s, opener, err := Build(ephemeral, path, nextIDs, 1, receiverData)
	require.NoError(t, err)
	require.Len(t, opener.Secrets, 2)
	require.EqualValues(t, 2, s.ReceiverInfo.ChainLength)

	encoded := s.Encode()
	require.Len(t, encoded, Size)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, s.FirstRelayerID, decoded.FirstRelayerID)
	require.Equal(t, s.PaddingSeed, decoded.PaddingSeed)
	require.True(t, s.ReceiverInfo.Challenge.IsEqual(decoded.ReceiverInfo.Challenge))
}

func TestReplyLayerMatchesFirstHopSecret(t *testing.T) {
	_, r1Pub := genKeyPair(t)
	ephemeral, err := sphinx.GenerateEphemeralKey()
	require.NoError(t, err)

	path := []*sphinx.PublicKey{r1Pub}
	nextIDs := []sphinx.KeyID{sphinx.TerminatorKeyID}

	var receiverData [sphinx.RelayerDataLen]byte
	s, opener, err := Build(ephemeral, path, nextIDs, 1, receiverData)
	require.NoError(t, err)

	msg := make([]byte, ReplyContentLen)
	for i := range msg {
		msg[i] = byte(i)
	}

	delta, err := s.Reply(msg)
	require.NoError(t, err)

	// With a single-hop return path there is no inner mask contribution,
	// so peeling the first hop's own keystream must recover msg exactly
	// within the reply content window.
	recovered := sphinx.InvertPayload(opener.Secrets[0], delta)
	require.Equal(t, msg, recovered[:ReplyContentLen])
}

func TestOpenReplyRecoversContentAndConsumesOpener(t *testing.T) {
	_, r1Pub := genKeyPair(t)
	_, r2Pub := genKeyPair(t)
	ephemeral, err := sphinx.GenerateEphemeralKey()
	require.NoError(t, err)

	path := []*sphinx.PublicKey{r1Pub, r2Pub}
	nextIDs := []sphinx.KeyID{2, sphinx.TerminatorKeyID}

	var receiverData [sphinx.RelayerDataLen]byte
	s, opener, err := Build(ephemeral, path, nextIDs, 1, receiverData)
	require.NoError(t, err)

	msg := make([]byte, ReplyContentLen)
	for i := range msg {
		msg[i] = byte(i)
	}

	delta, err := s.Reply(msg)
	require.NoError(t, err)

	// Simulate every hop on the return path peeling its own payload layer,
	// exactly as sphinx.Forward does during ordinary relaying.
	for _, secret := range opener.Secrets {
		delta = sphinx.InvertPayload(secret, delta)
	}

	content, err := OpenReply(opener, delta)
	require.NoError(t, err)
	require.Equal(t, msg, content)

	_, err = OpenReply(opener, delta)
	require.ErrorIs(t, err, ErrOpenerConsumed)
}

func TestReplyRejectsOversizeMessage(t *testing.T) {
	_, r1Pub := genKeyPair(t)
	ephemeral, err := sphinx.GenerateEphemeralKey()
	require.NoError(t, err)

	var receiverData [sphinx.RelayerDataLen]byte
	s, _, err := Build(ephemeral, []*sphinx.PublicKey{r1Pub},
		[]sphinx.KeyID{sphinx.TerminatorKeyID}, 1, receiverData)
	require.NoError(t, err)

	_, err = s.Reply(make([]byte, ReplyContentLen+1))
	require.Error(t, err)
}
