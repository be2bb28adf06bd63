// Package bridge adapts a host-provided asynchronous key/session store to
// the synchronous, strongly-typed store contracts the protocol engine
// requires, caching per operation and migrating legacy record encodings on
// the way in.
package bridge

import (
	"context"
	"encoding/json"

	"github.com/chatbridge/signal-store/internal/legacy"
)

// Host is the store surface the embedding application provides. Methods
// whose historical return shapes vary (raw bytes, Buffer-like objects,
// legacy JSON documents) are typed any and classified by the adapter;
// returning nil means "not found".
//
// Every method is a potentially slow round-trip into the host; the adapter
// never issues concurrent calls for one operation.
type Host interface {
	LoadSession(ctx context.Context, address string) (any, error)
	StoreSession(ctx context.Context, address string, record []byte) error
	GetIdentityKeyPair(ctx context.Context) (any, error)
	GetLocalRegistrationID(ctx context.Context) (uint32, error)
	IsTrustedIdentity(ctx context.Context, address string, identityKey []byte, direction int) (bool, error)
	SaveIdentity(ctx context.Context, address string, identityKey []byte) (bool, error)
	LoadPreKey(ctx context.Context, id uint32) (any, error)
	RemovePreKey(ctx context.Context, id uint32) error
	LoadSignedPreKey(ctx context.Context, id uint32) (any, error)
	LoadSenderKey(ctx context.Context, keyID string) (any, error)
	StoreSenderKey(ctx context.Context, keyID string, record []byte) error
}

type hostValueKind int

const (
	hostValueAbsent hostValueKind = iota
	hostValueCanonical
	hostValueLegacyJSON
	hostValueUnrecognized
)

// hostValue is the classified form of a polymorphic host return.
type hostValue struct {
	kind   hostValueKind
	bytes  []byte          // hostValueCanonical
	legacy json.RawMessage // hostValueLegacyJSON
}

// classifyHostValue is the single place a raw host return is sorted into
// canonical bytes, a legacy JSON document, or noise. Buffer-like objects
// and numeric arrays collapse into canonical bytes here so the store
// methods never see them.
func classifyHostValue(v any) hostValue {
	switch t := v.(type) {
	case nil:
		return hostValue{kind: hostValueAbsent}
	case []byte:
		if len(t) == 0 {
			return hostValue{kind: hostValueAbsent}
		}
		return hostValue{kind: hostValueCanonical, bytes: t}
	case json.RawMessage:
		return hostValue{kind: hostValueLegacyJSON, legacy: t}
	case map[string]any:
		if b, ok := legacy.CoerceBytes(t); ok {
			return hostValue{kind: hostValueCanonical, bytes: b}
		}
		raw, err := json.Marshal(t)
		if err != nil {
			return hostValue{kind: hostValueUnrecognized}
		}
		return hostValue{kind: hostValueLegacyJSON, legacy: raw}
	case []any:
		if b, ok := legacy.CoerceBytes(t); ok {
			return hostValue{kind: hostValueCanonical, bytes: b}
		}
		return hostValue{kind: hostValueUnrecognized}
	case string:
		if b, ok := legacy.CoerceBytes(t); ok {
			return hostValue{kind: hostValueCanonical, bytes: b}
		}
		return hostValue{kind: hostValueUnrecognized}
	default:
		return hostValue{kind: hostValueUnrecognized}
	}
}

// toRawJSON renders a polymorphic host return as a JSON document for the
// typed payload parsers.
func toRawJSON(v any) (json.RawMessage, error) {
	switch t := v.(type) {
	case json.RawMessage:
		return t, nil
	case []byte:
		return json.RawMessage(t), nil
	default:
		return json.Marshal(v)
	}
}
