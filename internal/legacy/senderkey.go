package legacy

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/chatbridge/signal-store/internal/protocol"
	"github.com/chatbridge/signal-store/internal/record"
)

type legacySenderKeyState struct {
	SenderKeyID       uint32                   `json:"senderKeyId"`
	SenderChainKey    *legacySenderChainKey    `json:"senderChainKey"`
	SenderSigningKey  *legacySenderSigningKey  `json:"senderSigningKey"`
	SenderMessageKeys []legacySenderMessageKey `json:"senderMessageKeys"`
}

type legacySenderChainKey struct {
	Iteration uint32     `json:"iteration"`
	Seed      LooseBytes `json:"seed"`
}

type legacySenderSigningKey struct {
	Public  LooseBytes `json:"public"`
	Private LooseBytes `json:"private"`
}

type legacySenderMessageKey struct {
	Iteration uint32     `json:"iteration"`
	Seed      LooseBytes `json:"seed"`
}

// MigrateSenderKey reconstructs a canonical sender-key record from a legacy
// JSON state array. The second return is false when the bytes are not the
// legacy format at all (the first non-space byte is not '['), in which case
// the caller should fall back to the canonical codec.
func MigrateSenderKey(data []byte) (*record.SenderKeyRecord, bool, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, false, nil
	}

	var states []legacySenderKeyState
	if err := json.Unmarshal(trimmed, &states); err != nil {
		return nil, true, errors.Wrap(err, "legacy: parse sender key array")
	}

	rec := &record.SenderKeyRecord{States: make([]*record.SenderKeyState, 0, len(states))}
	for _, s := range states {
		if s.SenderChainKey == nil {
			return nil, true, protocol.InvalidState("migrateSenderKey", "missing senderChainKey")
		}
		if s.SenderSigningKey == nil {
			return nil, true, protocol.InvalidState("migrateSenderKey", "missing senderSigningKey")
		}
		state := &record.SenderKeyState{
			KeyID: s.SenderKeyID,
			ChainKey: &record.SenderChainKey{
				Iteration: s.SenderChainKey.Iteration,
				Seed:      s.SenderChainKey.Seed,
			},
			SigningKey: &record.SenderSigningKey{
				Public: s.SenderSigningKey.Public,
				// Private stays empty for members who never owned the key.
				Private: s.SenderSigningKey.Private,
			},
		}
		for _, mk := range s.SenderMessageKeys {
			state.MessageKeys = append(state.MessageKeys, &record.SenderMessageKey{
				Iteration: mk.Iteration,
				Seed:      mk.Seed,
			})
		}
		rec.States = append(rec.States, state)
	}
	return rec, true, nil
}
