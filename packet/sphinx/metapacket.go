package sphinx

// PayloadLen is the fixed size, in bytes, of the onion-encrypted payload
// delta. Sized generously enough that §4.4's framed message area can carry
// a handful of SURBs alongside a short message (see packet/message).
const PayloadLen = 800

// PacketLen is the total size of one metapacket on the wire: alpha, the
// routing header, the header MAC, and the payload.
const PacketLen = HeaderLen + PayloadLen

// PacketTagLen is the size of the replay-detection tag emitted at every
// relay and final hop.
const PacketTagLen = 16

// PacketTag is a deterministic per-(hop, packet) token the host uses to
// deduplicate retransmissions.
type PacketTag [PacketTagLen]byte

// MetaPacket is the fixed-size (alpha, beta, gamma, delta) tuple described
// in §3/§6.
type MetaPacket struct {
	Alpha *PublicKey
	Beta  []byte
	Gamma [MacLen]byte
	Delta []byte
}

// Encode serialises the metapacket to its fixed-length wire form.
func (m *MetaPacket) Encode() []byte {
	buf := make([]byte, 0, PacketLen)
	buf = append(buf, m.Alpha.SerializeCompressed()...)
	buf = append(buf, m.Beta...)
	buf = append(buf, m.Gamma[:]...)
	buf = append(buf, m.Delta...)
	return buf
}

// DecodeMetaPacket parses a fixed-length wire buffer into a MetaPacket.
func DecodeMetaPacket(buf []byte) (*MetaPacket, error) {
	if len(buf) != PacketLen {
		return nil, ErrInvalidLength
	}

	alpha, err := parsePublicKey(buf[:PublicKeyLen])
	if err != nil {
		return nil, ErrInvalidPublicKey
	}

	offset := PublicKeyLen
	beta := append([]byte{}, buf[offset:offset+RoutingInfoLen]...)
	offset += RoutingInfoLen

	var gamma [MacLen]byte
	copy(gamma[:], buf[offset:offset+MacLen])
	offset += MacLen

	delta := append([]byte{}, buf[offset:offset+PayloadLen]...)

	return &MetaPacket{Alpha: alpha, Beta: beta, Gamma: gamma, Delta: delta}, nil
}

// BuildMetaPacket runs the full sender-side §4.1 construction: it derives
// the shared-secret chain for path, builds the onion header around
// nextIDs/relayerData, and layers the payload cipher over message (which
// must already be exactly PayloadLen bytes, i.e. already framed by
// packet/message).
func BuildMetaPacket(ephemeral *PrivateKey, path []*PublicKey, nextIDs []KeyID,
	relayerData [][RelayerDataLen]byte, framedPayload []byte) (
	*MetaPacket, *SharedSecretChain, error) {

	if len(framedPayload) != PayloadLen {
		return nil, nil, ErrInvalidLength
	}

	chain, err := DeriveSharedSecretChain(ephemeral, path)
	if err != nil {
		return nil, nil, err
	}

	beta, gamma, err := BuildHeader(chain.Secrets, nextIDs, relayerData)
	if err != nil {
		return nil, nil, err
	}

	delta := EncryptPayloadChain(chain.Secrets, framedPayload)

	return &MetaPacket{
		Alpha: chain.FirstAlpha,
		Beta:  beta,
		Gamma: gamma,
		Delta: delta,
	}, chain, nil
}

// EncryptPayloadChain layers every hop's payload transform over
// framedPayload in reverse path order, the half of BuildMetaPacket that
// depends only on the message and not on the header. Exported so a partial
// packet (path-dependent work already done, message not yet known) can
// defer exactly this step until the payload is available.
func EncryptPayloadChain(secrets []SharedSecret, framedPayload []byte) []byte {
	delta := framedPayload
	for i := len(secrets) - 1; i >= 0; i-- {
		delta = TransformPayload(secrets[i], delta)
	}
	return delta
}

// ForwardResult is the outcome of running the §4.1 forward transformation
// at a single relay.
type ForwardResult struct {
	// Secret is this hop's derived shared secret s.
	Secret SharedSecret

	// Tag is the replay-detection tag for this (hop, packet).
	Tag PacketTag

	// RelayerData is the additional_relayer_data_i this hop peeled out
	// of its own layer (the PoR hint, interpreted by packet/por).
	RelayerData [RelayerDataLen]byte

	// IsFinal is true when the peeled routing info is the terminator.
	IsFinal bool

	// NextHop is the key identifier of the next hop; meaningless if
	// IsFinal is true.
	NextHop KeyID

	// Forwarded is the outgoing metapacket to send to NextHop; nil if
	// IsFinal is true.
	Forwarded *MetaPacket

	// Plaintext is the recovered message bytes; only meaningful if
	// IsFinal is true.
	Plaintext []byte
}

// Forward performs §4.1's forward transformation at a relay holding
// nodeKey, given an incoming metapacket.
func Forward(nodeKey *PrivateKey, pkt *MetaPacket) (*ForwardResult, error) {
	step, err := DeriveRelaySecret(nodeKey, pkt.Alpha)
	if err != nil {
		return nil, err
	}

	if !VerifyHeaderMAC(step.Secret, pkt.Beta, pkt.Gamma) {
		return nil, ErrInvalidMAC
	}

	tag := computePacketTag(step.Secret)

	delta := InvertPayload(step.Secret, pkt.Delta)

	block, nextBeta, err := PeelHeader(step.Secret, pkt.Beta)
	if err != nil {
		return nil, err
	}

	result := &ForwardResult{
		Secret:      step.Secret,
		Tag:         tag,
		RelayerData: block.RelayerData,
	}

	if block.NextID == TerminatorKeyID {
		result.IsFinal = true
		result.Plaintext = delta
		return result, nil
	}

	result.NextHop = block.NextID
	result.Forwarded = &MetaPacket{
		Alpha: step.NextAlpha,
		Beta:  nextBeta,
		Gamma: block.NextHeaderMAC,
		Delta: delta,
	}
	return result, nil
}

// computePacketTag derives the collision-resistant replay tag described in
// §4.1 step 3, truncated from a PRF keyed by secret.
func computePacketTag(secret SharedSecret) PacketTag {
	digest := kdf("hopr-sphinx-tag", secret[:])

	var tag PacketTag
	copy(tag[:], digest[:PacketTagLen])
	return tag
}

func parsePublicKey(buf []byte) (*PublicKey, error) {
	return parseCompressedPubKey(buf)
}
