package bridge

import (
	"bytes"
	"sync"

	"github.com/chatbridge/signal-store/internal/protocol"
	"github.com/chatbridge/signal-store/internal/record"
)

// cache memoizes host reads for the lifetime of one adapter. All copies of
// an Adapter share the same cache, so the five trait views the engine holds
// stay coherent. Entries hold decoded canonical forms only; a migrated
// record is never re-migrated.
//
// The cache is never invalidated: an adapter is scoped to a single logical
// operation (one encrypt, one decrypt, one session establishment), which is
// the caller's contract.
type cache struct {
	mu              sync.Mutex
	identityKeyPair *protocol.IdentityKeyPair
	registrationID  *uint32
	sessions        map[string]*record.SessionRecord
	senderKeys      map[string]*record.SenderKeyRecord
	identities      map[string][]byte // trusted identity key bytes by address name
}

func newCache() *cache {
	return &cache{
		sessions:   map[string]*record.SessionRecord{},
		senderKeys: map[string]*record.SenderKeyRecord{},
		identities: map[string][]byte{},
	}
}

func (c *cache) session(key string) (*record.SessionRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.sessions[key]
	return rec, ok
}

func (c *cache) putSession(key string, rec *record.SessionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[key] = rec
}

func (c *cache) senderKey(key string) (*record.SenderKeyRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.senderKeys[key]
	return rec, ok
}

func (c *cache) putSenderKey(key string, rec *record.SenderKeyRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.senderKeys[key] = rec
}

func (c *cache) identity() (*protocol.IdentityKeyPair, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identityKeyPair, c.identityKeyPair != nil
}

func (c *cache) putIdentity(pair *protocol.IdentityKeyPair) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identityKeyPair = pair
}

func (c *cache) regID() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.registrationID == nil {
		return 0, false
	}
	return *c.registrationID, true
}

func (c *cache) putRegID(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registrationID = &id
}

func (c *cache) identityMatches(name string, key []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached, ok := c.identities[name]
	return ok && bytes.Equal(cached, key)
}

func (c *cache) putTrustedIdentity(name string, key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identities[name] = key
}
