package sphinx

// TransformPayload applies one hop's layer of the wide-block payload
// cipher to data, a fixed PayloadLen-byte buffer. The cipher is a keyed
// keystream XOR rather than a full Feistel permutation: every layer is
// then linear over XOR, which is exactly the property §4.3's SURB
// delegation needs (the SURB creator can precompute the mask for hops
// 2..m and hand the replier only the seed for hop 1's own layer, and the
// two combine correctly regardless of order). The function is its own
// inverse, so InvertPayload below is a thin alias kept for readability at
// call sites.
func TransformPayload(secret SharedSecret, data []byte) []byte {
	mask := PayloadKeystream(secret, len(data))
	return xorBytes(data, mask)
}

// InvertPayload undoes exactly one TransformPayload(secret, ...) layer.
func InvertPayload(secret SharedSecret, data []byte) []byte {
	return TransformPayload(secret, data)
}

// PayloadKeystream derives the length-byte mask TransformPayload XORs into
// the payload for one hop's shared secret. Exported so packet/surb can
// precompute the combined mask for a multi-hop return path ahead of time.
func PayloadKeystream(secret SharedSecret, length int) []byte {
	return keystream(secret, "hopr-sphinx-payload", length)
}
