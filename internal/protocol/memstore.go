package protocol

import (
	"context"
	"sync"

	"github.com/chatbridge/signal-store/internal/record"
)

// MemoryStore is an in-memory implementation of the full Store surface,
// safe for concurrent use. It backs tests and callers that do not persist
// protocol state.
type MemoryStore struct {
	mu              sync.Mutex
	identityKeyPair *IdentityKeyPair
	registrationID  uint32
	identities      map[string]*IdentityKey
	sessions        map[string]*record.SessionRecord
	senderKeys      map[string]*record.SenderKeyRecord
	preKeys         map[uint32]*PreKeyRecord
	signedPreKeys   map[uint32]*SignedPreKeyRecord
	removedPreKey   *uint32
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store for the given local
// identity.
func NewMemoryStore(identity *IdentityKeyPair, registrationID uint32) *MemoryStore {
	return &MemoryStore{
		identityKeyPair: identity,
		registrationID:  registrationID,
		identities:      map[string]*IdentityKey{},
		sessions:        map[string]*record.SessionRecord{},
		senderKeys:      map[string]*record.SenderKeyRecord{},
		preKeys:         map[uint32]*PreKeyRecord{},
		signedPreKeys:   map[uint32]*SignedPreKeyRecord{},
	}
}

func (s *MemoryStore) LoadSession(_ context.Context, address *Address) (*record.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.sessions[address.String()]
	if rec == nil {
		return nil, nil
	}
	// Return a clone so the caller owns it.
	return rec.Clone()
}

func (s *MemoryStore) StoreSession(_ context.Context, address *Address, rec *record.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[address.String()] = rec
	return nil
}

func (s *MemoryStore) GetIdentityKeyPair(context.Context) (*IdentityKeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identityKeyPair == nil {
		return nil, InvalidState("getIdentityKeyPair", "identity key pair not set")
	}
	return s.identityKeyPair, nil
}

func (s *MemoryStore) GetLocalRegistrationID(context.Context) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registrationID == 0 {
		return 0, InvalidState("getLocalRegistrationId", "registration id not set")
	}
	return s.registrationID, nil
}

func (s *MemoryStore) SaveIdentity(_ context.Context, address *Address, identity *IdentityKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.identities[address.Name()]
	s.identities[address.Name()] = identity
	return old != nil && !old.Equal(identity), nil
}

func (s *MemoryStore) IsTrustedIdentity(_ context.Context, address *Address, identity *IdentityKey, _ Direction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.identities[address.Name()]
	if existing == nil {
		// Trust on first use.
		return true, nil
	}
	return existing.Equal(identity), nil
}

func (s *MemoryStore) GetIdentity(_ context.Context, address *Address) (*IdentityKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identities[address.Name()], nil
}

func (s *MemoryStore) LoadPreKey(_ context.Context, id uint32) (*PreKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.preKeys[id]
	if rec == nil {
		return nil, ErrInvalidPreKeyID
	}
	return rec, nil
}

func (s *MemoryStore) StorePreKey(_ context.Context, id uint32, rec *PreKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preKeys[id] = rec
	return nil
}

func (s *MemoryStore) RemovePreKey(_ context.Context, id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.preKeys, id)
	removed := id
	s.removedPreKey = &removed
	return nil
}

// RemovedPreKeyID returns the id of the last pre-key removed, if any. Hosts
// use it to learn which one-time pre-key a decrypt consumed.
func (s *MemoryStore) RemovedPreKeyID() (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removedPreKey == nil {
		return 0, false
	}
	return *s.removedPreKey, true
}

func (s *MemoryStore) LoadSignedPreKey(_ context.Context, id uint32) (*SignedPreKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.signedPreKeys[id]
	if rec == nil {
		return nil, ErrInvalidSignedPreKeyID
	}
	return rec, nil
}

func (s *MemoryStore) StoreSignedPreKey(_ context.Context, id uint32, rec *SignedPreKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signedPreKeys[id] = rec
	return nil
}

func (s *MemoryStore) LoadSenderKey(_ context.Context, name *SenderKeyName) (*record.SenderKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.senderKeys[name.String()]
	if rec == nil {
		return nil, nil
	}
	return rec.Clone()
}

func (s *MemoryStore) StoreSenderKey(_ context.Context, name *SenderKeyName, rec *record.SenderKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.senderKeys[name.String()] = rec
	return nil
}
