package sphinx

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func genSecret(t *testing.T, seed byte) SharedSecret {
	t.Helper()

	var s SharedSecret
	for i := range s {
		s[i] = seed
	}
	return s
}

// buildTestChain returns n distinct shared secrets, nextIDs resolving each
// hop to the next, and relayer data tagging hop i with byte value i — just
// enough structure to tell, after peeling, that the right block landed at
// the right hop.
func buildTestChain(t *testing.T, n int) ([]SharedSecret, []KeyID, [][RelayerDataLen]byte) {
	t.Helper()

	secrets := make([]SharedSecret, n)
	nextIDs := make([]KeyID, n)
	relayerData := make([][RelayerDataLen]byte, n)

	for i := 0; i < n; i++ {
		secrets[i] = genSecret(t, byte(i+1))
		relayerData[i] = [RelayerDataLen]byte{}
		relayerData[i][0] = byte(i)

		if i < n-1 {
			nextIDs[i] = KeyID(i + 1)
		}
	}

	return secrets, nextIDs, relayerData
}

// peelAll walks beta/gamma through every hop's secret in turn, exactly as a
// chain of relays would, and returns the hop blocks recovered in order.
func peelAll(t *testing.T, secrets []SharedSecret, beta []byte,
	gamma [MacLen]byte) []hopBlock {

	t.Helper()

	blocks := make([]hopBlock, len(secrets))
	for i, secret := range secrets {
		require.True(t, VerifyHeaderMAC(secret, beta, gamma),
			"hop %d: gamma does not authenticate the beta it received", i)

		block, forwarded, err := PeelHeader(secret, beta)
		require.NoError(t, err)

		blocks[i] = block
		beta = forwarded
		gamma = block.NextHeaderMAC
	}
	return blocks
}

func TestBuildHeaderPeelRoundTrip(t *testing.T) {
	for n := 1; n <= MaxHops; n++ {
		n := n
		t.Run(fmt.Sprintf("%d_hops", n), func(t *testing.T) {
			secrets, nextIDs, relayerData := buildTestChain(t, n)

			beta, gamma, err := BuildHeader(secrets, nextIDs, relayerData)
			require.NoError(t, err)
			require.Len(t, beta, RoutingInfoLen)

			blocks := peelAll(t, secrets, beta, gamma)

			for i, block := range blocks {
				require.Equal(t, byte(i), block.RelayerData[0], "hop %d relayer data", i)

				if i == n-1 {
					require.Equal(t, TerminatorKeyID, block.NextID, "final hop must see the terminator")
				} else {
					require.Equal(t, KeyID(i+1), block.NextID, "hop %d next id", i)
				}
			}
		})
	}
}

func TestPeelHeaderWrongSecretFailsMAC(t *testing.T) {
	secrets, nextIDs, relayerData := buildTestChain(t, 3)

	beta, gamma, err := BuildHeader(secrets, nextIDs, relayerData)
	require.NoError(t, err)

	wrong := genSecret(t, 0xFF)
	require.False(t, VerifyHeaderMAC(wrong, beta, gamma))
}

func TestPeelHeaderTamperedBetaFailsMAC(t *testing.T) {
	secrets, nextIDs, relayerData := buildTestChain(t, 2)

	beta, gamma, err := BuildHeader(secrets, nextIDs, relayerData)
	require.NoError(t, err)

	beta[0] ^= 0x01
	require.False(t, VerifyHeaderMAC(secrets[0], beta, gamma))
}

func TestPeelHeaderRejectsWrongLength(t *testing.T) {
	var secret SharedSecret
	_, _, err := PeelHeader(secret, make([]byte, RoutingInfoLen-1))
	require.ErrorIs(t, err, ErrInvalidLength)
}

func TestBuildHeaderRejectsEmptyOrOverlongPath(t *testing.T) {
	_, _, err := BuildHeader(nil, nil, nil)
	require.ErrorIs(t, err, ErrEmptyPath)

	secrets, nextIDs, relayerData := buildTestChain(t, MaxHops+1)
	_, _, err = BuildHeader(secrets, nextIDs, relayerData)
	require.ErrorIs(t, err, ErrPathTooLong)
}

// TestForwardedBetaStaysFixedSize checks the property the filler exists
// for: at every hop short of MaxHops, the beta a relay forwards is still
// exactly RoutingInfoLen bytes, and the next hop's MAC verifies against it
// without needing to know how much slack capacity remains in the path.
func TestForwardedBetaStaysFixedSize(t *testing.T) {
	secrets, nextIDs, relayerData := buildTestChain(t, 2)

	beta, gamma, err := BuildHeader(secrets, nextIDs, relayerData)
	require.NoError(t, err)

	require.True(t, VerifyHeaderMAC(secrets[0], beta, gamma))
	block, forwarded, err := PeelHeader(secrets[0], beta)
	require.NoError(t, err)
	require.Len(t, forwarded, RoutingInfoLen)

	require.True(t, VerifyHeaderMAC(secrets[1], forwarded, block.NextHeaderMAC))
}
