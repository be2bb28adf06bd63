// Package protocol defines the types and store contracts the double-ratchet
// engine works against: addresses, curve key material, pre-key records and
// the five persistence interfaces.
package protocol

import (
	"bytes"

	"github.com/pkg/errors"
	"golang.org/x/crypto/curve25519"
)

const (
	// KeyTypeDJB is the type marker prefixing serialized Curve25519 public keys.
	KeyTypeDJB = 0x05
	// PublicKeyLength is the serialized public key length, marker included.
	PublicKeyLength = 33
	// PrivateKeyLength is the raw private scalar length.
	PrivateKeyLength = 32
)

// NormalizeKey canonicalizes a curve public key to the 33-byte type-prefixed
// form. A 32-byte key gets the marker prepended; a correctly prefixed 33-byte
// key passes through. Any other length is returned unchanged on purpose:
// malformed input must fail in the downstream key parser, not be silently
// coerced here.
func NormalizeKey(key []byte) []byte {
	if len(key) == PublicKeyLength && key[0] == KeyTypeDJB {
		return key
	}
	if len(key) == PrivateKeyLength {
		out := make([]byte, 0, PublicKeyLength)
		out = append(out, KeyTypeDJB)
		return append(out, key...)
	}
	return key
}

// PublicKey is a Curve25519 public key.
type PublicKey struct {
	data [32]byte
}

// NewPublicKey parses a serialized public key. The input must already be in
// the canonical 33-byte form (run host-supplied bytes through NormalizeKey
// first).
func NewPublicKey(serialized []byte) (*PublicKey, error) {
	if len(serialized) != PublicKeyLength {
		return nil, errors.Errorf("protocol: bad public key length %d", len(serialized))
	}
	if serialized[0] != KeyTypeDJB {
		return nil, errors.Errorf("protocol: unknown key type %#02x", serialized[0])
	}
	k := &PublicKey{}
	copy(k.data[:], serialized[1:])
	return k, nil
}

// Serialize returns the 33-byte type-prefixed form.
func (k *PublicKey) Serialize() []byte {
	out := make([]byte, 0, PublicKeyLength)
	out = append(out, KeyTypeDJB)
	return append(out, k.data[:]...)
}

// Equal reports whether both keys hold the same point.
func (k *PublicKey) Equal(other *PublicKey) bool {
	return other != nil && bytes.Equal(k.data[:], other.data[:])
}

// PrivateKey is a clamped Curve25519 private scalar.
type PrivateKey struct {
	data [32]byte
}

// NewPrivateKey parses a 32-byte private scalar, clamping it per RFC 7748.
func NewPrivateKey(serialized []byte) (*PrivateKey, error) {
	if len(serialized) != PrivateKeyLength {
		return nil, errors.Errorf("protocol: bad private key length %d", len(serialized))
	}
	k := &PrivateKey{}
	copy(k.data[:], serialized)
	k.data[0] &= 248
	k.data[31] &= 127
	k.data[31] |= 64
	return k, nil
}

// Serialize returns the raw 32-byte scalar.
func (k *PrivateKey) Serialize() []byte {
	out := make([]byte, PrivateKeyLength)
	copy(out, k.data[:])
	return out
}

// PublicKey derives the matching public key.
func (k *PrivateKey) PublicKey() (*PublicKey, error) {
	pub, err := curve25519.X25519(k.data[:], curve25519.Basepoint)
	if err != nil {
		return nil, errors.Wrap(err, "protocol: derive public key")
	}
	out := &PublicKey{}
	copy(out.data[:], pub)
	return out, nil
}

// KeyPair is a Curve25519 key pair.
type KeyPair struct {
	PublicKey  *PublicKey
	PrivateKey *PrivateKey
}

// NewKeyPair parses a key pair from serialized public and private halves.
// The public half must be canonical; normalize host input first.
func NewKeyPair(public, private []byte) (*KeyPair, error) {
	pub, err := NewPublicKey(public)
	if err != nil {
		return nil, err
	}
	priv, err := NewPrivateKey(private)
	if err != nil {
		return nil, err
	}
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// NewKeyPairFromPrivate derives the public half from the private scalar.
func NewKeyPairFromPrivate(private []byte) (*KeyPair, error) {
	priv, err := NewPrivateKey(private)
	if err != nil {
		return nil, err
	}
	pub, err := priv.PublicKey()
	if err != nil {
		return nil, err
	}
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// IdentityKey is the long-term identity public key of a protocol party.
type IdentityKey struct {
	PublicKey *PublicKey
}

// NewIdentityKey parses a canonical 33-byte identity key.
func NewIdentityKey(serialized []byte) (*IdentityKey, error) {
	pub, err := NewPublicKey(serialized)
	if err != nil {
		return nil, err
	}
	return &IdentityKey{PublicKey: pub}, nil
}

// Serialize returns the 33-byte type-prefixed form.
func (k *IdentityKey) Serialize() []byte {
	return k.PublicKey.Serialize()
}

// Equal reports whether both identity keys hold the same point.
func (k *IdentityKey) Equal(other *IdentityKey) bool {
	return other != nil && k.PublicKey.Equal(other.PublicKey)
}

// IdentityKeyPair is the local party's identity key pair.
type IdentityKeyPair struct {
	IdentityKey *IdentityKey
	PrivateKey  *PrivateKey
}

// NewIdentityKeyPair parses an identity key pair from serialized halves.
func NewIdentityKeyPair(public, private []byte) (*IdentityKeyPair, error) {
	identity, err := NewIdentityKey(public)
	if err != nil {
		return nil, err
	}
	priv, err := NewPrivateKey(private)
	if err != nil {
		return nil, err
	}
	return &IdentityKeyPair{IdentityKey: identity, PrivateKey: priv}, nil
}
