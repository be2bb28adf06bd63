// Package record holds the canonical session and sender-key record
// structures and their protobuf wire codec. The field layout matches
// libsignal's storage protos, so records produced here are byte-compatible
// with the protocol engine's own serialization.
package record

// SessionRecord is the canonical persisted form of a double-ratchet session:
// the active session state plus any archived previous states.
type SessionRecord struct {
	Current  *SessionState
	Previous []*SessionState
}

// SessionState is one ratchet state machine: root key, sender chain,
// receiver chains and the identity material fixed at session establishment.
type SessionState struct {
	SessionVersion       uint32
	LocalIdentityPublic  []byte
	RemoteIdentityPublic []byte
	RootKey              []byte
	PreviousCounter      uint32
	SenderChain          *Chain
	ReceiverChains       []*Chain
	PendingPreKey        *PendingPreKey
	RemoteRegistrationID uint32
	LocalRegistrationID  uint32
	NeedsRefresh         bool
	AliceBaseKey         []byte
}

// Chain is a ratchet hash chain. SenderRatchetKeyPrivate is only set on the
// sender chain; receiver chains carry the peer's public ratchet key alone.
type Chain struct {
	SenderRatchetKey        []byte
	SenderRatchetKeyPrivate []byte
	ChainKey                *ChainKey
	MessageKeys             []*MessageKey
}

// ChainKey is the current link of a ratchet chain.
type ChainKey struct {
	Index uint32
	Key   []byte
}

// MessageKey is a derived, not-yet-consumed message key kept for
// out-of-order delivery.
type MessageKey struct {
	Index     uint32
	CipherKey []byte
	MacKey    []byte
	IV        []byte
}

// PendingPreKey records the pre-key bundle used while a session is still
// unacknowledged.
type PendingPreKey struct {
	PreKeyID       uint32
	BaseKey        []byte
	SignedPreKeyID uint32
}

// SenderKeyRecord is the canonical persisted form of a group sender key:
// an ordered list of sender-key states, newest first.
type SenderKeyRecord struct {
	States []*SenderKeyState
}

// SenderKeyState is one group-ratchet state.
type SenderKeyState struct {
	KeyID       uint32
	ChainKey    *SenderChainKey
	SigningKey  *SenderSigningKey
	MessageKeys []*SenderMessageKey
}

// SenderChainKey is the current link of a sender-key chain.
type SenderChainKey struct {
	Iteration uint32
	Seed      []byte
}

// SenderSigningKey holds the group signing key. Private is absent for
// members who did not create the key.
type SenderSigningKey struct {
	Public  []byte
	Private []byte
}

// SenderMessageKey is a stored out-of-order group message key.
type SenderMessageKey struct {
	Iteration uint32
	Seed      []byte
}

// HasOpenSession reports whether the record carries a usable (negotiated)
// session. A state without a sender chain cannot encrypt and counts as
// "not yet negotiated", which callers must answer with a fresh key exchange.
func (r *SessionRecord) HasOpenSession() bool {
	return r != nil && r.Current != nil && r.Current.SenderChain != nil
}

// Clone returns a deep copy via a serialize round-trip, so the copy shares
// no byte slices with the original.
func (r *SessionRecord) Clone() (*SessionRecord, error) {
	data, err := MarshalSession(r)
	if err != nil {
		return nil, err
	}
	return UnmarshalSession(data)
}

// Clone returns a deep copy via a serialize round-trip.
func (r *SenderKeyRecord) Clone() (*SenderKeyRecord, error) {
	data, err := MarshalSenderKey(r)
	if err != nil {
		return nil, err
	}
	return UnmarshalSenderKey(data)
}
