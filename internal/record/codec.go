package record

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed marks canonical bytes that failed to decode. This is always a
// hard error: callers must not coerce it into "record absent", because that
// would hide real corruption.
var ErrMalformed = errors.New("record: malformed canonical bytes")

func malformed(what string) error {
	return errors.WithMessage(ErrMalformed, what)
}

// Wire field numbers from libsignal's storage protos. These must not change:
// the protocol engine and every stored record depend on them.
const (
	fRecordCurrent  = 1
	fRecordPrevious = 2

	fSessionVersion        = 1
	fSessionLocalIdentity  = 2
	fSessionRemoteIdentity = 3
	fSessionRootKey        = 4
	fSessionPrevCounter    = 5
	fSessionSenderChain    = 6
	fSessionReceiverChain  = 7
	fSessionPendingPreKey  = 9
	fSessionRemoteRegID    = 10
	fSessionLocalRegID     = 11
	fSessionNeedsRefresh   = 12
	fSessionAliceBaseKey   = 13

	fChainRatchetKey     = 1
	fChainRatchetKeyPriv = 2
	fChainChainKey       = 3
	fChainMessageKeys    = 4

	fChainKeyIndex = 1
	fChainKeyKey   = 2

	fMessageKeyIndex     = 1
	fMessageKeyCipherKey = 2
	fMessageKeyMacKey    = 3
	fMessageKeyIV        = 4

	fPendingPreKeyID       = 1
	fPendingBaseKey        = 2
	fPendingSignedPreKeyID = 3

	fSenderRecordStates = 1

	fSenderStateKeyID       = 1
	fSenderStateChainKey    = 2
	fSenderStateSigningKey  = 3
	fSenderStateMessageKeys = 4

	fSenderChainKeyIteration = 1
	fSenderChainKeySeed      = 2

	fSenderSigningPublic  = 1
	fSenderSigningPrivate = 2

	fSenderMessageKeyIteration = 1
	fSenderMessageKeySeed      = 2
)

// MarshalSession encodes a session record to canonical bytes. A record with
// no current session encodes to empty bytes, which is the engine's "fresh
// record" form.
func MarshalSession(r *SessionRecord) ([]byte, error) {
	var b []byte
	if r.Current != nil {
		b = appendSubmessage(b, fRecordCurrent, appendSessionState(nil, r.Current))
	}
	for _, s := range r.Previous {
		b = appendSubmessage(b, fRecordPrevious, appendSessionState(nil, s))
	}
	return b, nil
}

// UnmarshalSession decodes canonical bytes into a session record. Empty
// input yields a fresh record with no session state.
func UnmarshalSession(data []byte) (*SessionRecord, error) {
	r := &SessionRecord{}
	err := eachField(data, "session record", func(num protowire.Number, v []byte) error {
		switch num {
		case fRecordCurrent:
			s, err := unmarshalSessionState(v)
			if err != nil {
				return err
			}
			r.Current = s
		case fRecordPrevious:
			s, err := unmarshalSessionState(v)
			if err != nil {
				return err
			}
			r.Previous = append(r.Previous, s)
		}
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// MarshalSenderKey encodes a sender-key record to canonical bytes.
func MarshalSenderKey(r *SenderKeyRecord) ([]byte, error) {
	var b []byte
	for _, s := range r.States {
		b = appendSubmessage(b, fSenderRecordStates, appendSenderKeyState(nil, s))
	}
	return b, nil
}

// UnmarshalSenderKey decodes canonical bytes into a sender-key record.
func UnmarshalSenderKey(data []byte) (*SenderKeyRecord, error) {
	r := &SenderKeyRecord{}
	err := eachField(data, "sender key record", func(num protowire.Number, v []byte) error {
		if num == fSenderRecordStates {
			s, err := unmarshalSenderKeyState(v)
			if err != nil {
				return err
			}
			r.States = append(r.States, s)
		}
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func appendSessionState(b []byte, s *SessionState) []byte {
	b = appendUint32(b, fSessionVersion, s.SessionVersion)
	b = appendBytes(b, fSessionLocalIdentity, s.LocalIdentityPublic)
	b = appendBytes(b, fSessionRemoteIdentity, s.RemoteIdentityPublic)
	b = appendBytes(b, fSessionRootKey, s.RootKey)
	b = appendUint32(b, fSessionPrevCounter, s.PreviousCounter)
	if s.SenderChain != nil {
		b = appendSubmessage(b, fSessionSenderChain, appendChain(nil, s.SenderChain))
	}
	for _, c := range s.ReceiverChains {
		b = appendSubmessage(b, fSessionReceiverChain, appendChain(nil, c))
	}
	if s.PendingPreKey != nil {
		b = appendSubmessage(b, fSessionPendingPreKey, appendPendingPreKey(nil, s.PendingPreKey))
	}
	b = appendUint32(b, fSessionRemoteRegID, s.RemoteRegistrationID)
	b = appendUint32(b, fSessionLocalRegID, s.LocalRegistrationID)
	if s.NeedsRefresh {
		b = protowire.AppendTag(b, fSessionNeedsRefresh, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	b = appendBytes(b, fSessionAliceBaseKey, s.AliceBaseKey)
	return b
}

func unmarshalSessionState(data []byte) (*SessionState, error) {
	s := &SessionState{}
	err := eachField(data, "session state", func(num protowire.Number, v []byte) error {
		var err error
		switch num {
		case fSessionLocalIdentity:
			s.LocalIdentityPublic = cloneBytes(v)
		case fSessionRemoteIdentity:
			s.RemoteIdentityPublic = cloneBytes(v)
		case fSessionRootKey:
			s.RootKey = cloneBytes(v)
		case fSessionSenderChain:
			s.SenderChain, err = unmarshalChain(v)
		case fSessionReceiverChain:
			var c *Chain
			if c, err = unmarshalChain(v); err == nil {
				s.ReceiverChains = append(s.ReceiverChains, c)
			}
		case fSessionPendingPreKey:
			s.PendingPreKey, err = unmarshalPendingPreKey(v)
		case fSessionAliceBaseKey:
			s.AliceBaseKey = cloneBytes(v)
		}
		return err
	}, func(num protowire.Number, v uint64) {
		switch num {
		case fSessionVersion:
			s.SessionVersion = uint32(v)
		case fSessionPrevCounter:
			s.PreviousCounter = uint32(v)
		case fSessionRemoteRegID:
			s.RemoteRegistrationID = uint32(v)
		case fSessionLocalRegID:
			s.LocalRegistrationID = uint32(v)
		case fSessionNeedsRefresh:
			s.NeedsRefresh = v != 0
		}
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func appendChain(b []byte, c *Chain) []byte {
	b = appendBytes(b, fChainRatchetKey, c.SenderRatchetKey)
	b = appendBytes(b, fChainRatchetKeyPriv, c.SenderRatchetKeyPrivate)
	if c.ChainKey != nil {
		var ck []byte
		ck = appendUint32(ck, fChainKeyIndex, c.ChainKey.Index)
		ck = appendBytes(ck, fChainKeyKey, c.ChainKey.Key)
		b = appendSubmessage(b, fChainChainKey, ck)
	}
	for _, mk := range c.MessageKeys {
		var m []byte
		m = appendUint32(m, fMessageKeyIndex, mk.Index)
		m = appendBytes(m, fMessageKeyCipherKey, mk.CipherKey)
		m = appendBytes(m, fMessageKeyMacKey, mk.MacKey)
		m = appendBytes(m, fMessageKeyIV, mk.IV)
		b = appendSubmessage(b, fChainMessageKeys, m)
	}
	return b
}

func unmarshalChain(data []byte) (*Chain, error) {
	c := &Chain{}
	err := eachField(data, "chain", func(num protowire.Number, v []byte) error {
		switch num {
		case fChainRatchetKey:
			c.SenderRatchetKey = cloneBytes(v)
		case fChainRatchetKeyPriv:
			c.SenderRatchetKeyPrivate = cloneBytes(v)
		case fChainChainKey:
			ck := &ChainKey{}
			err := eachField(v, "chain key", func(num protowire.Number, v []byte) error {
				if num == fChainKeyKey {
					ck.Key = cloneBytes(v)
				}
				return nil
			}, func(num protowire.Number, v uint64) {
				if num == fChainKeyIndex {
					ck.Index = uint32(v)
				}
			})
			if err != nil {
				return err
			}
			c.ChainKey = ck
		case fChainMessageKeys:
			mk := &MessageKey{}
			err := eachField(v, "message key", func(num protowire.Number, v []byte) error {
				switch num {
				case fMessageKeyCipherKey:
					mk.CipherKey = cloneBytes(v)
				case fMessageKeyMacKey:
					mk.MacKey = cloneBytes(v)
				case fMessageKeyIV:
					mk.IV = cloneBytes(v)
				}
				return nil
			}, func(num protowire.Number, v uint64) {
				if num == fMessageKeyIndex {
					mk.Index = uint32(v)
				}
			})
			if err != nil {
				return err
			}
			c.MessageKeys = append(c.MessageKeys, mk)
		}
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func appendPendingPreKey(b []byte, p *PendingPreKey) []byte {
	b = appendUint32(b, fPendingPreKeyID, p.PreKeyID)
	b = appendBytes(b, fPendingBaseKey, p.BaseKey)
	b = appendUint32(b, fPendingSignedPreKeyID, p.SignedPreKeyID)
	return b
}

func unmarshalPendingPreKey(data []byte) (*PendingPreKey, error) {
	p := &PendingPreKey{}
	err := eachField(data, "pending pre-key", func(num protowire.Number, v []byte) error {
		if num == fPendingBaseKey {
			p.BaseKey = cloneBytes(v)
		}
		return nil
	}, func(num protowire.Number, v uint64) {
		switch num {
		case fPendingPreKeyID:
			p.PreKeyID = uint32(v)
		case fPendingSignedPreKeyID:
			p.SignedPreKeyID = uint32(v)
		}
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func appendSenderKeyState(b []byte, s *SenderKeyState) []byte {
	b = appendUint32(b, fSenderStateKeyID, s.KeyID)
	if s.ChainKey != nil {
		var ck []byte
		ck = appendUint32(ck, fSenderChainKeyIteration, s.ChainKey.Iteration)
		ck = appendBytes(ck, fSenderChainKeySeed, s.ChainKey.Seed)
		b = appendSubmessage(b, fSenderStateChainKey, ck)
	}
	if s.SigningKey != nil {
		var sk []byte
		sk = appendBytes(sk, fSenderSigningPublic, s.SigningKey.Public)
		sk = appendBytes(sk, fSenderSigningPrivate, s.SigningKey.Private)
		b = appendSubmessage(b, fSenderStateSigningKey, sk)
	}
	for _, mk := range s.MessageKeys {
		var m []byte
		m = appendUint32(m, fSenderMessageKeyIteration, mk.Iteration)
		m = appendBytes(m, fSenderMessageKeySeed, mk.Seed)
		b = appendSubmessage(b, fSenderStateMessageKeys, m)
	}
	return b
}

func unmarshalSenderKeyState(data []byte) (*SenderKeyState, error) {
	s := &SenderKeyState{}
	err := eachField(data, "sender key state", func(num protowire.Number, v []byte) error {
		switch num {
		case fSenderStateChainKey:
			ck := &SenderChainKey{}
			err := eachField(v, "sender chain key", func(num protowire.Number, v []byte) error {
				if num == fSenderChainKeySeed {
					ck.Seed = cloneBytes(v)
				}
				return nil
			}, func(num protowire.Number, v uint64) {
				if num == fSenderChainKeyIteration {
					ck.Iteration = uint32(v)
				}
			})
			if err != nil {
				return err
			}
			s.ChainKey = ck
		case fSenderStateSigningKey:
			sk := &SenderSigningKey{}
			err := eachField(v, "sender signing key", func(num protowire.Number, v []byte) error {
				switch num {
				case fSenderSigningPublic:
					sk.Public = cloneBytes(v)
				case fSenderSigningPrivate:
					sk.Private = cloneBytes(v)
				}
				return nil
			}, nil)
			if err != nil {
				return err
			}
			s.SigningKey = sk
		case fSenderStateMessageKeys:
			mk := &SenderMessageKey{}
			err := eachField(v, "sender message key", func(num protowire.Number, v []byte) error {
				if num == fSenderMessageKeySeed {
					mk.Seed = cloneBytes(v)
				}
				return nil
			}, func(num protowire.Number, v uint64) {
				if num == fSenderMessageKeyIteration {
					mk.Iteration = uint32(v)
				}
			})
			if err != nil {
				return err
			}
			s.MessageKeys = append(s.MessageKeys, mk)
		}
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// eachField walks a wire-encoded message, dispatching length-delimited
// fields to onBytes and varint fields to onVarint. Unknown fields and wire
// types are skipped, matching protobuf semantics.
func eachField(data []byte, what string, onBytes func(protowire.Number, []byte) error, onVarint func(protowire.Number, uint64)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return malformed(what)
		}
		data = data[n:]
		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return malformed(what)
			}
			if onBytes != nil {
				if err := onBytes(num, v); err != nil {
					return err
				}
			}
			data = data[n:]
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return malformed(what)
			}
			if onVarint != nil {
				onVarint(num, v)
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return malformed(what)
			}
			data = data[n:]
		}
	}
	return nil
}

func appendUint32(b []byte, num protowire.Number, v uint32) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendSubmessage(b []byte, num protowire.Number, sub []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, sub)
}

func cloneBytes(v []byte) []byte {
	if len(v) == 0 {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}
