package bridge

import (
	"context"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/chatbridge/signal-store/internal/legacy"
	"github.com/chatbridge/signal-store/internal/protocol"
	"github.com/chatbridge/signal-store/internal/record"
)

// Adapter implements the protocol engine's five store contracts on top of a
// Host. It is cheap to copy; all copies share one cache, so an adapter can
// be handed to the engine as several trait views at once.
//
// An adapter is meant to live for one cryptographic operation. Reads check
// the cache before calling the host; writes refresh the cache before the
// host write completes, so a read issued later in the same operation never
// observes stale state. The cache is not rolled back if a host write fails:
// the host owns durability, the adapter only owns the in-flight view.
type Adapter struct {
	host  Host
	cache *cache
}

// Compile-time interface checks.
var (
	_ protocol.SessionStore      = (*Adapter)(nil)
	_ protocol.IdentityKeyStore  = (*Adapter)(nil)
	_ protocol.PreKeyStore       = (*Adapter)(nil)
	_ protocol.SignedPreKeyStore = (*Adapter)(nil)
	_ protocol.SenderKeyStore    = (*Adapter)(nil)
	_ protocol.Store             = (*Adapter)(nil)
)

// New wraps a host store in a request-scoped adapter.
func New(host Host) *Adapter {
	return &Adapter{host: host, cache: newCache()}
}

// LoadSession returns the session record for address, or nil when no usable
// session exists. Canonical host bytes decode directly; legacy JSON shapes
// are migrated first; anything unrecognizable counts as "no session" so the
// engine renegotiates instead of crashing.
func (a *Adapter) LoadSession(ctx context.Context, address *protocol.Address) (*record.SessionRecord, error) {
	key := address.String()
	if rec, ok := a.cache.session(key); ok {
		return rec, nil
	}

	v, err := a.host.LoadSession(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "bridge: loadSession host call")
	}

	var data []byte
	switch hv := classifyHostValue(v); hv.kind {
	case hostValueAbsent, hostValueUnrecognized:
		return nil, nil
	case hostValueCanonical:
		data = hv.bytes
	case hostValueLegacyJSON:
		rec, err := a.migrateSession(ctx, hv.legacy)
		if err != nil {
			if protocol.IsInvalidState(err) {
				// Recognized but incomplete legacy data; treat as no
				// session and let the engine re-key.
				jww.WARN.Printf("bridge: dropping unusable legacy session for %s: %v", key, err)
				return nil, nil
			}
			return nil, err
		}
		if rec == nil {
			return nil, nil
		}
		a.cache.putSession(key, rec)
		return rec, nil
	}

	rec, err := record.UnmarshalSession(data)
	if err != nil {
		return nil, errors.Wrap(err, "bridge: decode session record")
	}
	a.cache.putSession(key, rec)
	return rec, nil
}

// StoreSession writes a session record through to the host, refreshing the
// cache first.
func (a *Adapter) StoreSession(ctx context.Context, address *protocol.Address, rec *record.SessionRecord) error {
	key := address.String()
	a.cache.putSession(key, rec)

	data, err := record.MarshalSession(rec)
	if err != nil {
		return errors.Wrap(err, "bridge: encode session record")
	}
	if err := a.host.StoreSession(ctx, key, data); err != nil {
		return errors.Wrap(err, "bridge: storeSession host call")
	}
	return nil
}

// migrateSession rebuilds a canonical record from a legacy JSON document.
// It needs the local identity and registration id, which come through the
// adapter's own (cached) accessors.
func (a *Adapter) migrateSession(ctx context.Context, raw []byte) (*record.SessionRecord, error) {
	identity, err := a.GetIdentityKeyPair(ctx)
	if err != nil {
		return nil, err
	}
	regID, err := a.GetLocalRegistrationID(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := legacy.MigrateSession(raw, identity.IdentityKey.Serialize(), regID)
	if err != nil || rec == nil {
		return nil, err
	}
	jww.INFO.Printf("bridge: migrated legacy session record")
	return rec, nil
}

// GetIdentityKeyPair loads the local identity key pair, once per adapter
// lifetime. Host key bytes pass through NormalizeKey because hosts
// inconsistently include the curve type prefix.
func (a *Adapter) GetIdentityKeyPair(ctx context.Context) (*protocol.IdentityKeyPair, error) {
	if pair, ok := a.cache.identity(); ok {
		return pair, nil
	}
	v, err := a.host.GetIdentityKeyPair(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "bridge: getIdentityKeyPair host call")
	}
	if v == nil {
		return nil, protocol.InvalidState("getIdentityKeyPair", "host returned null")
	}
	raw, err := toRawJSON(v)
	if err != nil {
		return nil, protocol.InvalidState("getIdentityKeyPair", err.Error())
	}
	pair, err := legacy.ParseIdentityKeyPair(raw)
	if err != nil {
		return nil, err
	}
	a.cache.putIdentity(pair)
	return pair, nil
}

// GetLocalRegistrationID loads the local registration id, once per adapter
// lifetime.
func (a *Adapter) GetLocalRegistrationID(ctx context.Context) (uint32, error) {
	if id, ok := a.cache.regID(); ok {
		return id, nil
	}
	id, err := a.host.GetLocalRegistrationID(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "bridge: getLocalRegistrationId host call")
	}
	a.cache.putRegID(id)
	return id, nil
}

// SaveIdentity records a peer identity with the host. When the key matches
// the cached one the host is not consulted and "unchanged" is reported.
func (a *Adapter) SaveIdentity(ctx context.Context, address *protocol.Address, identity *protocol.IdentityKey) (bool, error) {
	name := address.Name()
	keyBytes := identity.Serialize()
	if a.cache.identityMatches(name, keyBytes) {
		return false, nil
	}
	changed, err := a.host.SaveIdentity(ctx, name, keyBytes)
	if err != nil {
		return false, errors.Wrap(err, "bridge: saveIdentity host call")
	}
	a.cache.putTrustedIdentity(name, keyBytes)
	return changed, nil
}

// IsTrustedIdentity asks the host whether a peer key is trusted, caching
// positive answers. Hosts without identity pinning answer true
// unconditionally; trust-on-first-use is entirely their policy.
func (a *Adapter) IsTrustedIdentity(ctx context.Context, address *protocol.Address, identity *protocol.IdentityKey, direction protocol.Direction) (bool, error) {
	name := address.Name()
	keyBytes := identity.Serialize()
	if a.cache.identityMatches(name, keyBytes) {
		return true, nil
	}
	trusted, err := a.host.IsTrustedIdentity(ctx, name, keyBytes, int(direction))
	if err != nil {
		return false, errors.Wrap(err, "bridge: isTrustedIdentity host call")
	}
	if trusted {
		a.cache.putTrustedIdentity(name, keyBytes)
	}
	return trusted, nil
}

// GetIdentity always reports no stored identity: the host contract has no
// peer-identity lookup, trust decisions go through IsTrustedIdentity.
func (a *Adapter) GetIdentity(context.Context, *protocol.Address) (*protocol.IdentityKey, error) {
	return nil, nil
}

// LoadPreKey fetches a one-time pre-key. Pre-keys are single-use, so there
// is no cross-call caching; a null host response is a typed error because
// the engine only asks for ids it saw in a bundle.
func (a *Adapter) LoadPreKey(ctx context.Context, id uint32) (*protocol.PreKeyRecord, error) {
	v, err := a.host.LoadPreKey(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "bridge: loadPreKey host call")
	}
	if v == nil {
		return nil, protocol.ErrInvalidPreKeyID
	}
	raw, err := toRawJSON(v)
	if err != nil {
		return nil, protocol.InvalidState("loadPreKey", err.Error())
	}
	return legacy.ParsePreKey(raw, id)
}

// StorePreKey is a no-op: the host owns pre-key generation and upload.
func (a *Adapter) StorePreKey(context.Context, uint32, *protocol.PreKeyRecord) error {
	return nil
}

// RemovePreKey tells the host a one-time pre-key has been consumed.
func (a *Adapter) RemovePreKey(ctx context.Context, id uint32) error {
	if err := a.host.RemovePreKey(ctx, id); err != nil {
		return errors.Wrap(err, "bridge: removePreKey host call")
	}
	return nil
}

// LoadSignedPreKey fetches a signed pre-key by id.
func (a *Adapter) LoadSignedPreKey(ctx context.Context, id uint32) (*protocol.SignedPreKeyRecord, error) {
	v, err := a.host.LoadSignedPreKey(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "bridge: loadSignedPreKey host call")
	}
	if v == nil {
		return nil, protocol.ErrInvalidSignedPreKeyID
	}
	raw, err := toRawJSON(v)
	if err != nil {
		return nil, protocol.InvalidState("loadSignedPreKey", err.Error())
	}
	return legacy.ParseSignedPreKey(raw, id)
}

// StoreSignedPreKey is a no-op: the host owns signed pre-key rotation.
func (a *Adapter) StoreSignedPreKey(context.Context, uint32, *protocol.SignedPreKeyRecord) error {
	return nil
}

// LoadSenderKey returns the sender-key record for name, or nil when absent.
// Canonical bytes are tried first; on decode failure a legacy JSON array
// migration is attempted, and if the bytes are not legacy either, the
// original decode error stands.
func (a *Adapter) LoadSenderKey(ctx context.Context, name *protocol.SenderKeyName) (*record.SenderKeyRecord, error) {
	key := name.String()
	if rec, ok := a.cache.senderKey(key); ok {
		return rec, nil
	}

	v, err := a.host.LoadSenderKey(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "bridge: loadSenderKey host call")
	}
	hv := classifyHostValue(v)
	if hv.kind == hostValueAbsent {
		return nil, nil
	}
	if hv.kind == hostValueUnrecognized {
		return nil, protocol.InvalidState("loadSenderKey", "unrecognized host value")
	}
	data := hv.bytes
	if hv.kind == hostValueLegacyJSON {
		// Hosts that store sender keys as parsed JSON hand the document
		// back directly; treat its text as the stored bytes.
		data = hv.legacy
	}

	rec, decodeErr := record.UnmarshalSenderKey(data)
	if decodeErr != nil {
		migrated, isLegacy, migErr := legacy.MigrateSenderKey(data)
		if isLegacy && migErr == nil {
			jww.INFO.Printf("bridge: migrated legacy sender key for %s", key)
			a.cache.putSenderKey(key, migrated)
			return migrated, nil
		}
		return nil, errors.Wrap(decodeErr, "bridge: decode sender key record")
	}
	a.cache.putSenderKey(key, rec)
	return rec, nil
}

// StoreSenderKey writes a sender-key record through to the host, refreshing
// the cache first.
func (a *Adapter) StoreSenderKey(ctx context.Context, name *protocol.SenderKeyName, rec *record.SenderKeyRecord) error {
	key := name.String()
	a.cache.putSenderKey(key, rec)

	data, err := record.MarshalSenderKey(rec)
	if err != nil {
		return errors.Wrap(err, "bridge: encode sender key record")
	}
	if err := a.host.StoreSenderKey(ctx, key, data); err != nil {
		return errors.Wrap(err, "bridge: storeSenderKey host call")
	}
	return nil
}
