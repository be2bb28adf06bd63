package legacy

import (
	"encoding/json"

	"github.com/chatbridge/signal-store/internal/protocol"
)

// Hosts serialize key pairs with whichever field names their generation of
// the client library used, sometimes nested one level under "keyPair". The
// payload types below accept all of them.

// KeyPairPayload is an alias-tolerant key pair document.
type KeyPairPayload struct {
	PubKey     LooseBytes      `json:"pubKey"`
	PublicKey  LooseBytes      `json:"publicKey"`
	Public     LooseBytes      `json:"public"`
	PrivKey    LooseBytes      `json:"privKey"`
	PrivateKey LooseBytes      `json:"privateKey"`
	Private    LooseBytes      `json:"private"`
	KeyPair    *KeyPairPayload `json:"keyPair"`
}

// keys resolves the public/private byte pair, preferring inline fields over
// the nested keyPair envelope.
func (p *KeyPairPayload) keys() (pub, priv []byte, ok bool) {
	pub = firstNonEmpty(p.PubKey, p.PublicKey, p.Public)
	priv = firstNonEmpty(p.PrivKey, p.PrivateKey, p.Private)
	if len(pub) > 0 && len(priv) > 0 {
		return pub, priv, true
	}
	if p.KeyPair != nil {
		return p.KeyPair.keys()
	}
	return nil, nil, false
}

func firstNonEmpty(vals ...LooseBytes) []byte {
	for _, v := range vals {
		if len(v) > 0 {
			return v
		}
	}
	return nil
}

// ParseIdentityKeyPair decodes a host identity key pair document. The public
// half is normalized before parsing since hosts inconsistently include the
// type prefix byte.
func ParseIdentityKeyPair(raw json.RawMessage) (*protocol.IdentityKeyPair, error) {
	var payload KeyPairPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, protocol.InvalidState("getIdentityKeyPair", err.Error())
	}
	pub, priv, ok := payload.keys()
	if !ok {
		return nil, protocol.InvalidState("getIdentityKeyPair", "missing public/private key bytes")
	}
	return protocol.NewIdentityKeyPair(protocol.NormalizeKey(pub), priv)
}

// PreKeyPayload is a host pre-key document.
type PreKeyPayload struct {
	ID       *uint32 `json:"id"`
	PreKeyID *uint32 `json:"preKeyId"`
	KeyID    *uint32 `json:"keyId"`
	KeyPairPayload
}

// ParsePreKey decodes a host pre-key document into a record. The document's
// own id wins over requestedID when present.
func ParsePreKey(raw json.RawMessage, requestedID uint32) (*protocol.PreKeyRecord, error) {
	var payload PreKeyPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, protocol.InvalidState("loadPreKey", err.Error())
	}
	pub, priv, ok := payload.keys()
	if !ok {
		return nil, protocol.InvalidState("loadPreKey", "missing public/private key bytes")
	}
	pair, err := protocol.NewKeyPair(protocol.NormalizeKey(pub), priv)
	if err != nil {
		return nil, err
	}
	id := firstID(requestedID, payload.ID, payload.PreKeyID, payload.KeyID)
	return &protocol.PreKeyRecord{ID: id, KeyPair: pair}, nil
}

// SignedPreKeyPayload is a host signed pre-key document.
type SignedPreKeyPayload struct {
	ID             *uint32    `json:"id"`
	KeyID          *uint32    `json:"keyId"`
	Timestamp      uint64     `json:"timestamp"`
	Signature      LooseBytes `json:"signature"`
	Sig            LooseBytes `json:"sig"`
	SignatureBytes LooseBytes `json:"signatureBytes"`
	KeyPairPayload
}

// ParseSignedPreKey decodes a host signed pre-key document into a record.
func ParseSignedPreKey(raw json.RawMessage, requestedID uint32) (*protocol.SignedPreKeyRecord, error) {
	var payload SignedPreKeyPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, protocol.InvalidState("loadSignedPreKey", err.Error())
	}
	pub, priv, ok := payload.keys()
	if !ok {
		return nil, protocol.InvalidState("loadSignedPreKey", "missing public/private key bytes")
	}
	signature := firstNonEmpty(payload.Signature, payload.Sig, payload.SignatureBytes)
	if signature == nil {
		return nil, protocol.InvalidState("loadSignedPreKey", "missing signature bytes")
	}
	pair, err := protocol.NewKeyPair(protocol.NormalizeKey(pub), priv)
	if err != nil {
		return nil, err
	}
	return &protocol.SignedPreKeyRecord{
		ID:        firstID(requestedID, payload.ID, payload.KeyID),
		Timestamp: payload.Timestamp,
		KeyPair:   pair,
		Signature: signature,
	}, nil
}

func firstID(fallback uint32, ids ...*uint32) uint32 {
	for _, id := range ids {
		if id != nil {
			return *id
		}
	}
	return fallback
}
