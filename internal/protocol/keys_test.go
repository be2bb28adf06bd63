package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(n int, start byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = start + byte(i)
	}
	return out
}

func TestNormalizeKey(t *testing.T) {
	raw := seq(32, 1)

	got := NormalizeKey(raw)
	require.Len(t, got, 33)
	assert.EqualValues(t, KeyTypeDJB, got[0])
	assert.Equal(t, raw, got[1:])

	// Already canonical input passes through untouched.
	again := NormalizeKey(got)
	assert.Equal(t, got, again)
}

func TestNormalizeKeyIdempotent(t *testing.T) {
	for _, n := range []int{32, 33} {
		key := seq(n, 7)
		if n == 33 {
			key[0] = KeyTypeDJB
		}
		once := NormalizeKey(key)
		assert.Equal(t, once, NormalizeKey(once), "length %d", n)
	}
}

func TestNormalizeKeyBadLengthsPassThrough(t *testing.T) {
	// Malformed lengths must reach the key parser unchanged so the
	// failure is a key-parsing error, not silent coercion.
	for _, n := range []int{0, 31, 34} {
		key := seq(n, 3)
		assert.Equal(t, key, NormalizeKey(key), "length %d", n)
	}
}

func TestNewPublicKeyRejectsBadInput(t *testing.T) {
	_, err := NewPublicKey(seq(31, 0))
	assert.Error(t, err)

	_, err = NewPublicKey(seq(34, 0))
	assert.Error(t, err)

	wrongType := seq(33, 0)
	wrongType[0] = 0x42
	_, err = NewPublicKey(wrongType)
	assert.Error(t, err)
}

func TestKeyPairFromPrivateMatchesNewKeyPair(t *testing.T) {
	pair, err := GenerateKeyPair()
	require.NoError(t, err)

	rebuilt, err := NewKeyPair(pair.PublicKey.Serialize(), pair.PrivateKey.Serialize())
	require.NoError(t, err)
	assert.True(t, pair.PublicKey.Equal(rebuilt.PublicKey))

	derived, err := NewKeyPairFromPrivate(pair.PrivateKey.Serialize())
	require.NoError(t, err)
	assert.True(t, pair.PublicKey.Equal(derived.PublicKey))
}

func TestIdentityKeyPairRoundTrip(t *testing.T) {
	pair, err := GenerateIdentityKeyPair()
	require.NoError(t, err)

	serialized := pair.IdentityKey.Serialize()
	require.Len(t, serialized, PublicKeyLength)

	rebuilt, err := NewIdentityKeyPair(serialized, pair.PrivateKey.Serialize())
	require.NoError(t, err)
	assert.True(t, pair.IdentityKey.Equal(rebuilt.IdentityKey))
}

func TestGenerateRegistrationIDRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		id, err := GenerateRegistrationID()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, id, uint32(1))
		assert.LessOrEqual(t, id, uint32(16380))
	}
}

func TestGeneratePreKeys(t *testing.T) {
	records, err := GeneratePreKeys(10, 5)
	require.NoError(t, err)
	require.Len(t, records, 5)
	for i, rec := range records {
		assert.Equal(t, uint32(10+i), rec.ID)
		assert.NotNil(t, rec.KeyPair)
	}
}
