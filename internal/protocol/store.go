package protocol

import (
	"context"

	"github.com/chatbridge/signal-store/internal/record"
)

// Direction distinguishes which way a message is flowing when trust is
// evaluated.
type Direction int

const (
	DirectionSending Direction = iota
	DirectionReceiving
)

// SessionStore stores session records keyed by protocol address.
// LoadSession returns nil, nil when no session exists; the engine answers
// that with a fresh key exchange.
type SessionStore interface {
	LoadSession(ctx context.Context, address *Address) (*record.SessionRecord, error)
	StoreSession(ctx context.Context, address *Address, rec *record.SessionRecord) error
}

// IdentityKeyStore manages the local identity key and remote identity trust.
type IdentityKeyStore interface {
	GetIdentityKeyPair(ctx context.Context) (*IdentityKeyPair, error)
	GetLocalRegistrationID(ctx context.Context) (uint32, error)
	SaveIdentity(ctx context.Context, address *Address, identity *IdentityKey) (bool, error)
	IsTrustedIdentity(ctx context.Context, address *Address, identity *IdentityKey, direction Direction) (bool, error)
	GetIdentity(ctx context.Context, address *Address) (*IdentityKey, error)
}

// PreKeyStore stores one-time pre-key records.
type PreKeyStore interface {
	LoadPreKey(ctx context.Context, id uint32) (*PreKeyRecord, error)
	StorePreKey(ctx context.Context, id uint32, rec *PreKeyRecord) error
	RemovePreKey(ctx context.Context, id uint32) error
}

// SignedPreKeyStore stores signed pre-key records.
type SignedPreKeyStore interface {
	LoadSignedPreKey(ctx context.Context, id uint32) (*SignedPreKeyRecord, error)
	StoreSignedPreKey(ctx context.Context, id uint32, rec *SignedPreKeyRecord) error
}

// SenderKeyStore stores group sender-key records.
type SenderKeyStore interface {
	LoadSenderKey(ctx context.Context, name *SenderKeyName) (*record.SenderKeyRecord, error)
	StoreSenderKey(ctx context.Context, name *SenderKeyName, rec *record.SenderKeyRecord) error
}

// Store is the full persistence surface the protocol engine requires.
type Store interface {
	SessionStore
	IdentityKeyStore
	PreKeyStore
	SignedPreKeyStore
	SenderKeyStore
}
