// Package legacy reconstructs canonical records from the JSON encodings of
// earlier client generations. Hosts hand these shapes back verbatim from
// their databases, so every loosely-typed byte encoding the old clients
// produced has to be accepted here.
package legacy

import (
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"
)

// LooseBytes decodes the byte encodings found in legacy JSON dumps: base64
// strings, node Buffer objects ({"type":"Buffer","data":[...]}), and plain
// numeric arrays. Absent and null fields decode to nil.
type LooseBytes []byte

func (b *LooseBytes) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == nil {
		*b = nil
		return nil
	}
	out, ok := CoerceBytes(v)
	if !ok {
		return errors.Errorf("legacy: unsupported byte encoding %T", v)
	}
	*b = out
	return nil
}

// CoerceBytes converts the loose host byte shapes to a byte slice: raw
// bytes, base64 strings, numeric arrays, and Buffer-like objects carrying a
// "data" array. Returns false for anything else.
func CoerceBytes(v any) ([]byte, bool) {
	switch t := v.(type) {
	case []byte:
		return t, true
	case string:
		if out, err := base64.StdEncoding.DecodeString(t); err == nil {
			return out, true
		}
		if out, err := base64.RawStdEncoding.DecodeString(t); err == nil {
			return out, true
		}
		return nil, false
	case []any:
		return numbersToBytes(t)
	case map[string]any:
		data, ok := t["data"].([]any)
		if !ok {
			return nil, false
		}
		return numbersToBytes(data)
	default:
		return nil, false
	}
}

func numbersToBytes(vals []any) ([]byte, bool) {
	out := make([]byte, 0, len(vals))
	for _, v := range vals {
		n, ok := v.(float64)
		if !ok {
			return nil, false
		}
		out = append(out, byte(n))
	}
	return out, true
}
