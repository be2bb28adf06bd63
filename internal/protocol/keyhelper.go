package protocol

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Helpers for generating fresh protocol key material. Hosts that bootstrap
// their own store use these; the adapter itself never generates keys.

// GenerateKeyPair returns a fresh Curve25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv := make([]byte, PrivateKeyLength)
	if _, err := rand.Read(priv); err != nil {
		return nil, errors.Wrap(err, "protocol: generate key pair")
	}
	return NewKeyPairFromPrivate(priv)
}

// GenerateIdentityKeyPair returns a fresh identity key pair.
func GenerateIdentityKeyPair() (*IdentityKeyPair, error) {
	pair, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &IdentityKeyPair{
		IdentityKey: &IdentityKey{PublicKey: pair.PublicKey},
		PrivateKey:  pair.PrivateKey,
	}, nil
}

// GenerateRegistrationID returns a random registration id in [1, 16380],
// the 14-bit range registration ids live in on the wire.
func GenerateRegistrationID() (uint32, error) {
	n, err := randUint32()
	if err != nil {
		return 0, errors.Wrap(err, "protocol: generate registration id")
	}
	return n%16380 + 1, nil
}

// GenerateSenderKeyID returns a random 31-bit sender key id.
func GenerateSenderKeyID() (uint32, error) {
	n, err := randUint32()
	if err != nil {
		return 0, errors.Wrap(err, "protocol: generate sender key id")
	}
	return n & 0x7FFFFFFF, nil
}

// GeneratePreKeys returns count one-time pre-keys with consecutive ids
// starting at start. Ids wrap within the 24-bit medium range like the
// reference implementations do.
func GeneratePreKeys(start, count uint32) ([]*PreKeyRecord, error) {
	const mediumMaxValue = 0xFFFFFF
	records := make([]*PreKeyRecord, 0, count)
	for i := uint32(0); i < count; i++ {
		pair, err := GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		id := (start+i-1)%(mediumMaxValue-1) + 1
		records = append(records, &PreKeyRecord{ID: id, KeyPair: pair})
	}
	return records, nil
}

func randUint32() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}
