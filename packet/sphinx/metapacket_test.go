package sphinx

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func genRelayKey(t *testing.T) (*PrivateKey, *PublicKey) {
	t.Helper()

	priv, err := GenerateEphemeralKey()
	require.NoError(t, err)
	return priv, priv.PubKey()
}

// relayOnce runs the incoming metapacket through nodeKey's Forward step and
// returns the result, asserting it reached the expected IsFinal state.
func relayOnce(t *testing.T, nodeKey *PrivateKey, mp *MetaPacket, wantFinal bool) *ForwardResult {
	t.Helper()

	result, err := Forward(nodeKey, mp)
	require.NoError(t, err)
	require.Equal(t, wantFinal, result.IsFinal)
	return result
}

func TestBuildMetaPacketForwardChain(t *testing.T) {
	for n := 1; n <= MaxHops; n++ {
		n := n
		t.Run(fmt.Sprintf("%d_hops", n), func(t *testing.T) {
			keys := make([]*PrivateKey, n)
			pubs := make([]*PublicKey, n)
			for i := range keys {
				keys[i], pubs[i] = genRelayKey(t)
			}

			nextIDs := make([]KeyID, n)
			relayerData := make([][RelayerDataLen]byte, n)
			for i := 0; i < n-1; i++ {
				nextIDs[i] = KeyID(i + 1)
			}

			ephemeral, err := GenerateEphemeralKey()
			require.NoError(t, err)

			payload := make([]byte, PayloadLen)
			copy(payload, []byte("hop chain integrity check"))

			mp, _, err := BuildMetaPacket(ephemeral, pubs, nextIDs, relayerData, payload)
			require.NoError(t, err)

			for i := 0; i < n; i++ {
				wantFinal := i == n-1
				result := relayOnce(t, keys[i], mp, wantFinal)

				if wantFinal {
					require.Equal(t, payload, result.Plaintext)
				} else {
					mp = result.Forwarded
					require.NotNil(t, mp)
				}
			}
		})
	}
}

func TestForwardRejectsTamperedHeader(t *testing.T) {
	nodeKey, nodePub := genRelayKey(t)

	ephemeral, err := GenerateEphemeralKey()
	require.NoError(t, err)

	payload := make([]byte, PayloadLen)
	mp, _, err := BuildMetaPacket(ephemeral, []*PublicKey{nodePub},
		[]KeyID{TerminatorKeyID}, [][RelayerDataLen]byte{{}}, payload)
	require.NoError(t, err)

	mp.Beta[0] ^= 0x01

	_, err = Forward(nodeKey, mp)
	require.ErrorIs(t, err, ErrInvalidMAC)
}

func TestForwardRejectsWrongNodeKey(t *testing.T) {
	_, nodePub := genRelayKey(t)
	wrongKey, _ := genRelayKey(t)

	ephemeral, err := GenerateEphemeralKey()
	require.NoError(t, err)

	payload := make([]byte, PayloadLen)
	mp, _, err := BuildMetaPacket(ephemeral, []*PublicKey{nodePub},
		[]KeyID{TerminatorKeyID}, [][RelayerDataLen]byte{{}}, payload)
	require.NoError(t, err)

	_, err = Forward(wrongKey, mp)
	require.ErrorIs(t, err, ErrInvalidMAC)
}

func TestEncodeDecodeMetaPacketRoundTrip(t *testing.T) {
	_, nodePub := genRelayKey(t)

	ephemeral, err := GenerateEphemeralKey()
	require.NoError(t, err)

	payload := make([]byte, PayloadLen)
	copy(payload, []byte("wire round trip"))

	mp, _, err := BuildMetaPacket(ephemeral, []*PublicKey{nodePub},
		[]KeyID{TerminatorKeyID}, [][RelayerDataLen]byte{{}}, payload)
	require.NoError(t, err)

	encoded := mp.Encode()
	require.Len(t, encoded, PacketLen)

	decoded, err := DecodeMetaPacket(encoded)
	require.NoError(t, err)
	require.True(t, decoded.Alpha.IsEqual(mp.Alpha))
	require.Equal(t, mp.Beta, decoded.Beta)
	require.Equal(t, mp.Gamma, decoded.Gamma)
	require.Equal(t, mp.Delta, decoded.Delta)
}
