package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatbridge/signal-store/internal/protocol"
	"github.com/chatbridge/signal-store/internal/record"
)

// fakeHost is an in-memory Host that counts every round-trip, so tests can
// assert what the cache absorbed.
type fakeHost struct {
	identity      any
	registration  uint32
	sessions      map[string]any
	senderKeys    map[string]any
	preKeys       map[uint32]any
	signedPreKeys map[uint32]any
	trustAnswer   bool

	storedSessions   map[string][]byte
	storedSenderKeys map[string][]byte
	removedPreKeys   []uint32

	calls map[string]int

	failNext error
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		registration:     4303,
		sessions:         map[string]any{},
		senderKeys:       map[string]any{},
		preKeys:          map[uint32]any{},
		signedPreKeys:    map[uint32]any{},
		trustAnswer:      true,
		storedSessions:   map[string][]byte{},
		storedSenderKeys: map[string][]byte{},
		calls:            map[string]int{},
	}
}

func (h *fakeHost) bump(name string) error {
	h.calls[name]++
	if h.failNext != nil {
		err := h.failNext
		h.failNext = nil
		return err
	}
	return nil
}

func (h *fakeHost) LoadSession(_ context.Context, address string) (any, error) {
	if err := h.bump("loadSession"); err != nil {
		return nil, err
	}
	return h.sessions[address], nil
}

func (h *fakeHost) StoreSession(_ context.Context, address string, rec []byte) error {
	if err := h.bump("storeSession"); err != nil {
		return err
	}
	h.storedSessions[address] = rec
	return nil
}

func (h *fakeHost) GetIdentityKeyPair(_ context.Context) (any, error) {
	if err := h.bump("getIdentityKeyPair"); err != nil {
		return nil, err
	}
	return h.identity, nil
}

func (h *fakeHost) GetLocalRegistrationID(_ context.Context) (uint32, error) {
	if err := h.bump("getLocalRegistrationId"); err != nil {
		return 0, err
	}
	return h.registration, nil
}

func (h *fakeHost) IsTrustedIdentity(_ context.Context, _ string, _ []byte, _ int) (bool, error) {
	if err := h.bump("isTrustedIdentity"); err != nil {
		return false, err
	}
	return h.trustAnswer, nil
}

func (h *fakeHost) SaveIdentity(_ context.Context, _ string, _ []byte) (bool, error) {
	if err := h.bump("saveIdentity"); err != nil {
		return false, err
	}
	return true, nil
}

func (h *fakeHost) LoadPreKey(_ context.Context, id uint32) (any, error) {
	if err := h.bump("loadPreKey"); err != nil {
		return nil, err
	}
	return h.preKeys[id], nil
}

func (h *fakeHost) RemovePreKey(_ context.Context, id uint32) error {
	if err := h.bump("removePreKey"); err != nil {
		return err
	}
	h.removedPreKeys = append(h.removedPreKeys, id)
	return nil
}

func (h *fakeHost) LoadSignedPreKey(_ context.Context, id uint32) (any, error) {
	if err := h.bump("loadSignedPreKey"); err != nil {
		return nil, err
	}
	return h.signedPreKeys[id], nil
}

func (h *fakeHost) LoadSenderKey(_ context.Context, keyID string) (any, error) {
	if err := h.bump("loadSenderKey"); err != nil {
		return nil, err
	}
	return h.senderKeys[keyID], nil
}

func (h *fakeHost) StoreSenderKey(_ context.Context, keyID string, rec []byte) error {
	if err := h.bump("storeSenderKey"); err != nil {
		return err
	}
	h.storedSenderKeys[keyID] = rec
	return nil
}

var _ Host = (*fakeHost)(nil)

func seq(n int, start byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = start + byte(i)
	}
	return out
}

func b64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// installIdentity gives the fake host a valid identity key pair document and
// returns the pair for assertions.
func installIdentity(t *testing.T, h *fakeHost) *protocol.IdentityKeyPair {
	t.Helper()
	pair, err := protocol.GenerateIdentityKeyPair()
	require.NoError(t, err)
	h.identity = map[string]any{
		"pubKey":  b64(pair.IdentityKey.Serialize()),
		"privKey": b64(pair.PrivateKey.Serialize()),
	}
	return pair
}

func testAddress(t *testing.T) *protocol.Address {
	t.Helper()
	addr, err := protocol.NewAddress("alice", 1)
	require.NoError(t, err)
	return addr
}

func sampleSessionRecord() *record.SessionRecord {
	return &record.SessionRecord{
		Current: &record.SessionState{
			SessionVersion: 3,
			RootKey:        seq(32, 1),
			SenderChain: &record.Chain{
				SenderRatchetKey:        seq(33, 2),
				SenderRatchetKeyPrivate: seq(32, 3),
				ChainKey:                &record.ChainKey{Index: 1, Key: seq(32, 4)},
			},
		},
	}
}

func TestLoadSessionAbsent(t *testing.T) {
	ctx := context.Background()
	a := New(newFakeHost())

	rec, err := a.LoadSession(ctx, testAddress(t))
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStoreSessionReadYourWrites(t *testing.T) {
	ctx := context.Background()
	host := newFakeHost()
	a := New(host)
	addr := testAddress(t)
	rec := sampleSessionRecord()

	require.NoError(t, a.StoreSession(ctx, addr, rec))

	got, err := a.LoadSession(ctx, addr)
	require.NoError(t, err)
	assert.Same(t, rec, got)
	assert.Zero(t, host.calls["loadSession"], "read after write must be served from cache")

	// The host received the canonical encoding.
	stored := host.storedSessions[addr.String()]
	require.NotEmpty(t, stored)
	decoded, err := record.UnmarshalSession(stored)
	require.NoError(t, err)
	assert.Equal(t, rec.Current.RootKey, decoded.Current.RootKey)
}

func TestLoadSessionCanonicalCached(t *testing.T) {
	ctx := context.Background()
	host := newFakeHost()
	addr := testAddress(t)

	data, err := record.MarshalSession(sampleSessionRecord())
	require.NoError(t, err)
	host.sessions[addr.String()] = data

	a := New(host)
	first, err := a.LoadSession(ctx, addr)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := a.LoadSession(ctx, addr)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, host.calls["loadSession"])
}

func TestLoadSessionMalformedBytes(t *testing.T) {
	ctx := context.Background()
	host := newFakeHost()
	addr := testAddress(t)
	host.sessions[addr.String()] = []byte{0xFF}

	a := New(host)
	_, err := a.LoadSession(ctx, addr)
	require.Error(t, err)
	assert.ErrorIs(t, err, record.ErrMalformed)
}

func TestLoadSessionUnrecognizedValue(t *testing.T) {
	ctx := context.Background()
	host := newFakeHost()
	addr := testAddress(t)
	host.sessions[addr.String()] = 42

	a := New(host)
	rec, err := a.LoadSession(ctx, addr)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestLoadSessionHostError(t *testing.T) {
	ctx := context.Background()
	host := newFakeHost()
	host.failNext = errors.New("database closed")

	a := New(host)
	_, err := a.LoadSession(ctx, testAddress(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database closed")
}

func legacySessionDoc(rootKey, ratchetPub, ratchetPriv, remoteIdentity, baseKey, chainKey []byte) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
		"registrationId": 777,
		"currentRatchet": {
			"rootKey": %q,
			"previousCounter": 0,
			"ephemeralKeyPair": {"pubKey": %q, "privKey": %q}
		},
		"indexInfo": {"remoteIdentityKey": %q, "baseKey": %q},
		"_chains": {
			"c": {"chainType": 1, "chainKey": {"counter": 0, "key": %q}, "messageKeys": {}}
		}
	}`, b64(rootKey), b64(ratchetPub), b64(ratchetPriv),
		b64(remoteIdentity), b64(baseKey), b64(chainKey)))
}

func TestLoadSessionMigratesLegacyJSON(t *testing.T) {
	ctx := context.Background()
	host := newFakeHost()
	identity := installIdentity(t, host)
	addr := testAddress(t)

	rootKey := seq(32, 1)
	host.sessions[addr.String()] = legacySessionDoc(
		rootKey,
		append([]byte{0x05}, seq(32, 2)...), seq(32, 3),
		append([]byte{0x05}, seq(32, 4)...),
		append([]byte{0x05}, seq(32, 5)...),
		seq(32, 6))

	a := New(host)
	rec, err := a.LoadSession(ctx, addr)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.HasOpenSession())
	assert.Equal(t, rootKey, rec.Current.RootKey)
	assert.Equal(t, uint32(777), rec.Current.RemoteRegistrationID)
	assert.Equal(t, host.registration, rec.Current.LocalRegistrationID)
	assert.Equal(t, identity.IdentityKey.Serialize(), rec.Current.LocalIdentityPublic)

	// The migration result is cached; a second read touches neither the
	// session nor the identity endpoints again.
	again, err := a.LoadSession(ctx, addr)
	require.NoError(t, err)
	assert.Same(t, rec, again)
	assert.Equal(t, 1, host.calls["loadSession"])
	assert.Equal(t, 1, host.calls["getIdentityKeyPair"])
	assert.Equal(t, 1, host.calls["getLocalRegistrationId"])
}

func TestLoadSessionDropsUnusableLegacy(t *testing.T) {
	ctx := context.Background()
	host := newFakeHost()
	installIdentity(t, host)
	addr := testAddress(t)

	// Recognized as a legacy wrapper, but the inner session is incomplete.
	host.sessions[addr.String()] = json.RawMessage(`{"_sessions": {"a": {"registrationId": 1}}}`)

	a := New(host)
	rec, err := a.LoadSession(ctx, addr)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestGetIdentityKeyPairCachedAndNormalized(t *testing.T) {
	ctx := context.Background()
	host := newFakeHost()
	pair, err := protocol.GenerateIdentityKeyPair()
	require.NoError(t, err)

	// Host stores the public half without the curve type prefix.
	host.identity = map[string]any{
		"pubKey":  b64(pair.IdentityKey.Serialize()[1:]),
		"privKey": b64(pair.PrivateKey.Serialize()),
	}

	a := New(host)
	got, err := a.GetIdentityKeyPair(ctx)
	require.NoError(t, err)
	assert.True(t, pair.IdentityKey.Equal(got.IdentityKey))
	assert.Len(t, got.IdentityKey.Serialize(), protocol.PublicKeyLength)

	_, err = a.GetIdentityKeyPair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, host.calls["getIdentityKeyPair"])
}

func TestGetIdentityKeyPairMissing(t *testing.T) {
	ctx := context.Background()
	a := New(newFakeHost())

	_, err := a.GetIdentityKeyPair(ctx)
	require.Error(t, err)
	assert.True(t, protocol.IsInvalidState(err))
}

func TestGetLocalRegistrationIDCached(t *testing.T) {
	ctx := context.Background()
	host := newFakeHost()
	a := New(host)

	id, err := a.GetLocalRegistrationID(ctx)
	require.NoError(t, err)
	assert.Equal(t, host.registration, id)

	_, err = a.GetLocalRegistrationID(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, host.calls["getLocalRegistrationId"])
}

func TestSaveIdentitySkipsHostWhenUnchanged(t *testing.T) {
	ctx := context.Background()
	host := newFakeHost()
	a := New(host)
	addr := testAddress(t)

	pair, err := protocol.GenerateIdentityKeyPair()
	require.NoError(t, err)

	changed, err := a.SaveIdentity(ctx, addr, pair.IdentityKey)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, host.calls["saveIdentity"])

	changed, err = a.SaveIdentity(ctx, addr, pair.IdentityKey)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, host.calls["saveIdentity"], "identical key must not hit the host again")
}

func TestIsTrustedIdentityCachesPositive(t *testing.T) {
	ctx := context.Background()
	host := newFakeHost()
	a := New(host)
	addr := testAddress(t)

	pair, err := protocol.GenerateIdentityKeyPair()
	require.NoError(t, err)

	trusted, err := a.IsTrustedIdentity(ctx, addr, pair.IdentityKey, protocol.DirectionSending)
	require.NoError(t, err)
	assert.True(t, trusted)

	trusted, err = a.IsTrustedIdentity(ctx, addr, pair.IdentityKey, protocol.DirectionSending)
	require.NoError(t, err)
	assert.True(t, trusted)
	assert.Equal(t, 1, host.calls["isTrustedIdentity"])
}

func TestIsTrustedIdentityNegativeNotCached(t *testing.T) {
	ctx := context.Background()
	host := newFakeHost()
	host.trustAnswer = false
	a := New(host)
	addr := testAddress(t)

	pair, err := protocol.GenerateIdentityKeyPair()
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		trusted, err := a.IsTrustedIdentity(ctx, addr, pair.IdentityKey, protocol.DirectionReceiving)
		require.NoError(t, err)
		assert.False(t, trusted)
	}
	assert.Equal(t, 2, host.calls["isTrustedIdentity"])
}

func TestGetIdentityAlwaysEmpty(t *testing.T) {
	a := New(newFakeHost())
	key, err := a.GetIdentity(context.Background(), testAddress(t))
	require.NoError(t, err)
	assert.Nil(t, key)
}

func TestLoadPreKey(t *testing.T) {
	ctx := context.Background()
	host := newFakeHost()
	pair, err := protocol.GenerateKeyPair()
	require.NoError(t, err)
	host.preKeys[7] = map[string]any{
		"keyId": 7,
		"keyPair": map[string]any{
			"pubKey":  b64(pair.PublicKey.Serialize()),
			"privKey": b64(pair.PrivateKey.Serialize()),
		},
	}

	a := New(host)
	rec, err := a.LoadPreKey(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), rec.ID)
	assert.True(t, pair.PublicKey.Equal(rec.KeyPair.PublicKey))
}

func TestLoadPreKeyMissing(t *testing.T) {
	a := New(newFakeHost())
	_, err := a.LoadPreKey(context.Background(), 99)
	assert.ErrorIs(t, err, protocol.ErrInvalidPreKeyID)
}

func TestRemovePreKeyForwards(t *testing.T) {
	host := newFakeHost()
	a := New(host)
	require.NoError(t, a.RemovePreKey(context.Background(), 7))
	assert.Equal(t, []uint32{7}, host.removedPreKeys)
}

func TestLoadSignedPreKey(t *testing.T) {
	ctx := context.Background()
	host := newFakeHost()
	pair, err := protocol.GenerateKeyPair()
	require.NoError(t, err)
	host.signedPreKeys[3] = map[string]any{
		"id":        3,
		"timestamp": 1724400000000,
		"signature": b64(seq(64, 1)),
		"pubKey":    b64(pair.PublicKey.Serialize()),
		"privKey":   b64(pair.PrivateKey.Serialize()),
	}

	a := New(host)
	rec, err := a.LoadSignedPreKey(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), rec.ID)
	assert.Equal(t, uint64(1724400000000), rec.Timestamp)
	assert.Equal(t, seq(64, 1), rec.Signature)
}

func TestLoadSignedPreKeyMissing(t *testing.T) {
	a := New(newFakeHost())
	_, err := a.LoadSignedPreKey(context.Background(), 99)
	assert.ErrorIs(t, err, protocol.ErrInvalidSignedPreKeyID)
}

func TestStorePreKeysAreNoOps(t *testing.T) {
	ctx := context.Background()
	host := newFakeHost()
	a := New(host)

	require.NoError(t, a.StorePreKey(ctx, 1, &protocol.PreKeyRecord{ID: 1}))
	require.NoError(t, a.StoreSignedPreKey(ctx, 1, &protocol.SignedPreKeyRecord{ID: 1}))
	assert.Empty(t, host.calls)
}

func testSenderKeyName(t *testing.T) *protocol.SenderKeyName {
	t.Helper()
	addr, err := protocol.NewAddress("carol", 2)
	require.NoError(t, err)
	return protocol.NewSenderKeyName("group-1", addr)
}

func TestSenderKeyWriteThenRead(t *testing.T) {
	ctx := context.Background()
	host := newFakeHost()
	a := New(host)
	name := testSenderKeyName(t)

	rec := &record.SenderKeyRecord{
		States: []*record.SenderKeyState{{
			KeyID:      5,
			ChainKey:   &record.SenderChainKey{Iteration: 1, Seed: seq(32, 1)},
			SigningKey: &record.SenderSigningKey{Public: seq(33, 2)},
		}},
	}
	require.NoError(t, a.StoreSenderKey(ctx, name, rec))

	got, err := a.LoadSenderKey(ctx, name)
	require.NoError(t, err)
	assert.Same(t, rec, got)
	assert.Zero(t, host.calls["loadSenderKey"])

	stored := host.storedSenderKeys[name.String()]
	require.NotEmpty(t, stored)
	decoded, err := record.UnmarshalSenderKey(stored)
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)
}

func TestLoadSenderKeyAbsent(t *testing.T) {
	a := New(newFakeHost())
	rec, err := a.LoadSenderKey(context.Background(), testSenderKeyName(t))
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestLoadSenderKeyMigratesLegacyArray(t *testing.T) {
	ctx := context.Background()
	host := newFakeHost()
	name := testSenderKeyName(t)

	doc := fmt.Sprintf(`[{
		"senderKeyId": 5,
		"senderChainKey": {"iteration": 2, "seed": %q},
		"senderSigningKey": {"public": %q}
	}]`, b64(seq(32, 1)), b64(seq(33, 2)))
	host.senderKeys[name.String()] = []byte(doc)

	a := New(host)
	rec, err := a.LoadSenderKey(ctx, name)
	require.NoError(t, err)
	require.Len(t, rec.States, 1)
	assert.Equal(t, uint32(5), rec.States[0].KeyID)
	assert.Equal(t, uint32(2), rec.States[0].ChainKey.Iteration)

	again, err := a.LoadSenderKey(ctx, name)
	require.NoError(t, err)
	assert.Same(t, rec, again)
	assert.Equal(t, 1, host.calls["loadSenderKey"])
}

func TestLoadSenderKeyMalformed(t *testing.T) {
	ctx := context.Background()
	host := newFakeHost()
	name := testSenderKeyName(t)

	// Neither canonical protobuf nor a legacy JSON array.
	host.senderKeys[name.String()] = []byte{0xFF, 0xFF}

	a := New(host)
	_, err := a.LoadSenderKey(ctx, name)
	require.Error(t, err)
	assert.ErrorIs(t, err, record.ErrMalformed)
}

func TestLoadSenderKeyUnrecognizedValue(t *testing.T) {
	ctx := context.Background()
	host := newFakeHost()
	name := testSenderKeyName(t)
	host.senderKeys[name.String()] = 3.14

	a := New(host)
	_, err := a.LoadSenderKey(ctx, name)
	require.Error(t, err)
	assert.True(t, protocol.IsInvalidState(err))
}

// The adapter is handed to the engine as several trait views; copies must
// observe each other's writes.
func TestAdapterCopiesShareCache(t *testing.T) {
	ctx := context.Background()
	host := newFakeHost()
	a := New(host)
	addr := testAddress(t)

	var sessions protocol.SessionStore = a
	rec := sampleSessionRecord()
	require.NoError(t, sessions.StoreSession(ctx, addr, rec))

	view := *a
	got, err := view.LoadSession(ctx, addr)
	require.NoError(t, err)
	assert.Same(t, rec, got)
	assert.Zero(t, host.calls["loadSession"])
}
