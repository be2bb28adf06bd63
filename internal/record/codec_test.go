package record

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

func sampleSession() *SessionRecord {
	return &SessionRecord{
		Current: &SessionState{
			SessionVersion:       3,
			LocalIdentityPublic:  seq(33, 1),
			RemoteIdentityPublic: seq(33, 2),
			RootKey:              seq(32, 3),
			PreviousCounter:      7,
			SenderChain: &Chain{
				SenderRatchetKey:        seq(33, 4),
				SenderRatchetKeyPrivate: seq(32, 5),
				ChainKey:                &ChainKey{Index: 9, Key: seq(32, 6)},
				MessageKeys: []*MessageKey{
					{Index: 1, CipherKey: seq(32, 7), MacKey: seq(32, 8), IV: seq(16, 9)},
				},
			},
			ReceiverChains: []*Chain{
				{
					SenderRatchetKey: seq(33, 10),
					ChainKey:         &ChainKey{Index: 2, Key: seq(32, 11)},
					MessageKeys: []*MessageKey{
						{Index: 4, CipherKey: seq(32, 12), MacKey: seq(32, 13), IV: seq(16, 14)},
						{Index: 5, CipherKey: seq(32, 15), MacKey: seq(32, 16), IV: seq(16, 17)},
					},
				},
			},
			PendingPreKey:        &PendingPreKey{PreKeyID: 42, BaseKey: seq(33, 18), SignedPreKeyID: 3},
			RemoteRegistrationID: 4303,
			LocalRegistrationID:  1111,
			AliceBaseKey:         seq(33, 19),
		},
		Previous: []*SessionState{
			{SessionVersion: 3, RootKey: seq(32, 20), RemoteRegistrationID: 9},
		},
	}
}

func TestSessionRoundTrip(t *testing.T) {
	rec := sampleSession()

	encoded, err := MarshalSession(rec)
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	decoded, err := UnmarshalSession(encoded)
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)

	// Encoding is stable across a decode cycle.
	reencoded, err := MarshalSession(decoded)
	require.NoError(t, err)
	assert.Equal(t, encoded, reencoded)
}

func TestEmptySessionRecord(t *testing.T) {
	decoded, err := UnmarshalSession(nil)
	require.NoError(t, err)
	assert.Nil(t, decoded.Current)
	assert.False(t, decoded.HasOpenSession())

	encoded, err := MarshalSession(decoded)
	require.NoError(t, err)
	assert.Empty(t, encoded)
}

func TestUnmarshalSessionMalformed(t *testing.T) {
	for _, data := range [][]byte{
		{0xFF},             // dangling varint tag
		{0x0A, 0x05, 0x01}, // length-delimited field longer than the buffer
	} {
		_, err := UnmarshalSession(data)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMalformed)
	}
}

func TestHasOpenSession(t *testing.T) {
	assert.False(t, (&SessionRecord{}).HasOpenSession())
	assert.False(t, (&SessionRecord{Current: &SessionState{SessionVersion: 3}}).HasOpenSession())
	assert.True(t, sampleSession().HasOpenSession())

	var nilRec *SessionRecord
	assert.False(t, nilRec.HasOpenSession())
}

func TestSessionClone(t *testing.T) {
	rec := sampleSession()
	clone, err := rec.Clone()
	require.NoError(t, err)
	require.Equal(t, rec, clone)

	clone.Current.RootKey[0] ^= 0xFF
	assert.NotEqual(t, rec.Current.RootKey, clone.Current.RootKey, "clone must not share backing arrays")
}

func TestSenderKeyRoundTrip(t *testing.T) {
	rec := &SenderKeyRecord{
		States: []*SenderKeyState{
			{
				KeyID:      12,
				ChainKey:   &SenderChainKey{Iteration: 3, Seed: seq(32, 1)},
				SigningKey: &SenderSigningKey{Public: seq(33, 2), Private: seq(32, 3)},
				MessageKeys: []*SenderMessageKey{
					{Iteration: 1, Seed: seq(32, 4)},
					{Iteration: 2, Seed: seq(32, 5)},
				},
			},
			{
				KeyID:      13,
				ChainKey:   &SenderChainKey{Iteration: 0, Seed: seq(32, 6)},
				SigningKey: &SenderSigningKey{Public: seq(33, 7)},
			},
		},
	}

	encoded, err := MarshalSenderKey(rec)
	require.NoError(t, err)

	decoded, err := UnmarshalSenderKey(encoded)
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)

	reencoded, err := MarshalSenderKey(decoded)
	require.NoError(t, err)
	assert.Equal(t, encoded, reencoded)
}

func TestUnmarshalSenderKeyEmpty(t *testing.T) {
	decoded, err := UnmarshalSenderKey(nil)
	require.NoError(t, err)
	assert.Empty(t, decoded.States)
}
