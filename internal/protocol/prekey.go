package protocol

// PreKeyRecord is a one-time pre-key held by the host until consumed.
type PreKeyRecord struct {
	ID      uint32
	KeyPair *KeyPair
}

// SignedPreKeyRecord is a medium-term pre-key signed by the identity key.
// Timestamp is milliseconds since the Unix epoch.
type SignedPreKeyRecord struct {
	ID        uint32
	Timestamp uint64
	KeyPair   *KeyPair
	Signature []byte
}
