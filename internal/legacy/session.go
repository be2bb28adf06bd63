package legacy

import (
	"encoding/base64"
	"encoding/json"
	"sort"
	"strconv"

	jww "github.com/spf13/jwalterweatherman"

	"github.com/chatbridge/signal-store/internal/protocol"
	"github.com/chatbridge/signal-store/internal/record"
)

// Chain type discriminants used by the legacy libsignal-node format.
const (
	legacyChainTypeSender   = 1
	legacyChainTypeReceiver = 2
)

// Zero-filled placeholder sizes for the message-key fields the legacy format
// never stored. The old clients kept one combined key per index; the
// canonical format wants separate cipher key, MAC key and IV. Filling the
// missing two with zeros is deliberately lossy: a MAC check over such a key
// fails and the engine re-derives the key live, which it supports anyway.
const (
	placeholderMacKeyLen = 32
	placeholderIVLen     = 16
)

type sessionEnvelope struct {
	RegistrationID json.RawMessage            `json:"registrationId"`
	CurrentRatchet json.RawMessage            `json:"currentRatchet"`
	Sessions       map[string]json.RawMessage `json:"_sessions"`
}

type legacySession struct {
	RegistrationID *uint32                 `json:"registrationId"`
	CurrentRatchet *legacyRatchet          `json:"currentRatchet"`
	IndexInfo      *legacyIndexInfo        `json:"indexInfo"`
	Chains         map[string]*legacyChain `json:"_chains"`
}

type legacyRatchet struct {
	RootKey          LooseBytes     `json:"rootKey"`
	PreviousCounter  int            `json:"previousCounter"`
	EphemeralKeyPair *legacyKeyPair `json:"ephemeralKeyPair"`
}

type legacyKeyPair struct {
	PubKey  LooseBytes `json:"pubKey"`
	PrivKey LooseBytes `json:"privKey"`
}

type legacyIndexInfo struct {
	RemoteIdentityKey LooseBytes `json:"remoteIdentityKey"`
	BaseKey           LooseBytes `json:"baseKey"`
}

type legacyChain struct {
	ChainType   int                   `json:"chainType"`
	ChainKey    *legacyChainKey       `json:"chainKey"`
	MessageKeys map[string]LooseBytes `json:"messageKeys"`
}

type legacyChainKey struct {
	Counter int        `json:"counter"`
	Key     LooseBytes `json:"key"`
}

// MigrateSession reconstructs a canonical session record from a legacy JSON
// session document. It accepts either a bare session object (identified by
// its registrationId and currentRatchet fields) or a libsignal-node
// "_sessions" wrapper holding sessions keyed by id.
//
// Returns nil, nil when the document is not a legacy session at all; the
// caller answers that with "no session" so the engine renegotiates. A
// recognized session with required fields missing yields a StateError.
func MigrateSession(data []byte, localIdentityPublic []byte, localRegistrationID uint32) (*record.SessionRecord, error) {
	var env sessionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		// Not a JSON object; not a legacy session.
		return nil, nil
	}

	chosen := data
	switch {
	case env.RegistrationID != nil && env.CurrentRatchet != nil:
		// Bare session object.
	case env.Sessions != nil:
		if len(env.Sessions) == 0 {
			return nil, nil
		}
		ids := make([]string, 0, len(env.Sessions))
		for id := range env.Sessions {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		if len(ids) > 1 {
			// The legacy library assumed a single active session per
			// address; when more exist only one can be carried over.
			jww.WARN.Printf("legacy _sessions wrapper holds %d sessions; migrating only %q", len(ids), ids[0])
		}
		chosen = env.Sessions[ids[0]]
	default:
		return nil, nil
	}

	var sess legacySession
	if err := json.Unmarshal(chosen, &sess); err != nil {
		return nil, protocol.InvalidState("migrateSession", err.Error())
	}
	if sess.RegistrationID == nil {
		return nil, nil
	}
	if sess.CurrentRatchet == nil {
		return nil, protocol.InvalidState("migrateSession", "missing currentRatchet")
	}
	if sess.CurrentRatchet.EphemeralKeyPair == nil {
		return nil, protocol.InvalidState("migrateSession", "missing ephemeralKeyPair")
	}
	if sess.IndexInfo == nil {
		return nil, protocol.InvalidState("migrateSession", "missing indexInfo")
	}
	if sess.Chains == nil {
		return nil, protocol.InvalidState("migrateSession", "missing _chains")
	}

	state := &record.SessionState{
		SessionVersion:       3,
		LocalIdentityPublic:  localIdentityPublic,
		RemoteIdentityPublic: sess.IndexInfo.RemoteIdentityKey,
		RootKey:              sess.CurrentRatchet.RootKey,
		PreviousCounter:      clampCounter(sess.CurrentRatchet.PreviousCounter),
		RemoteRegistrationID: *sess.RegistrationID,
		LocalRegistrationID:  localRegistrationID,
		AliceBaseKey:         sess.IndexInfo.BaseKey,
	}

	ratchetPub := []byte(sess.CurrentRatchet.EphemeralKeyPair.PubKey)
	ratchetPriv := []byte(sess.CurrentRatchet.EphemeralKeyPair.PrivKey)

	keys := make([]string, 0, len(sess.Chains))
	for k := range sess.Chains {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		entry := sess.Chains[key]
		if entry == nil || entry.ChainKey == nil {
			return nil, protocol.InvalidState("migrateSession", "missing chainKey for legacy chain entry")
		}
		if entry.MessageKeys == nil {
			return nil, protocol.InvalidState("migrateSession", "missing messageKeys for legacy chain entry")
		}
		messageKeys, err := migrateMessageKeys(entry.MessageKeys)
		if err != nil {
			return nil, err
		}
		chain := &record.Chain{
			ChainKey: &record.ChainKey{
				Index: clampCounter(entry.ChainKey.Counter),
				Key:   entry.ChainKey.Key,
			},
			MessageKeys: messageKeys,
		}
		switch entry.ChainType {
		case legacyChainTypeSender:
			chain.SenderRatchetKey = ratchetPub
			chain.SenderRatchetKeyPrivate = ratchetPriv
			state.SenderChain = chain
		case legacyChainTypeReceiver:
			// The map key itself is the peer's base64 ratchet public key
			// for the chain; that is the legacy library's convention.
			peerRatchet, err := base64.StdEncoding.DecodeString(key)
			if err != nil {
				peerRatchet = nil
			}
			chain.SenderRatchetKey = peerRatchet
			state.ReceiverChains = append(state.ReceiverChains, chain)
		}
	}

	return &record.SessionRecord{Current: state}, nil
}

// migrateMessageKeys turns the legacy sparse map (decimal index -> combined
// key) into canonical message keys, in index order. The legacy key becomes
// the cipher key; MAC key and IV get zero placeholders.
func migrateMessageKeys(sparse map[string]LooseBytes) ([]*record.MessageKey, error) {
	indices := make([]uint64, 0, len(sparse))
	byIndex := make(map[uint64][]byte, len(sparse))
	for idx, key := range sparse {
		n, err := strconv.ParseUint(idx, 10, 32)
		if err != nil {
			return nil, protocol.InvalidState("migrateSession", "message key index is not a number")
		}
		indices = append(indices, n)
		byIndex[n] = key
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	out := make([]*record.MessageKey, 0, len(indices))
	for _, n := range indices {
		out = append(out, &record.MessageKey{
			Index:     uint32(n),
			CipherKey: byIndex[n],
			MacKey:    make([]byte, placeholderMacKeyLen),
			IV:        make([]byte, placeholderIVLen),
		})
	}
	return out, nil
}

// clampCounter maps the legacy format's -1 "no counter yet" sentinel (and
// any other negative) to zero.
func clampCounter(n int) uint32 {
	if n < 0 {
		return 0
	}
	return uint32(n)
}
