// Package value holds the opaque value primitives the rest of the engine is
// built from: canonicalized JSON, timestamps and the random-buffer
// discipline every stateful crypto operation depends on.
package value

import (
	"bytes"
	"encoding/json"

	"maunium.net/go/mautrix/crypto/canonicaljson"
)

// JSON is an opaque, immutable JSON value. Two JSON values are Equal iff
// their canonical forms are byte-identical, independent of key order or
// whitespace in how they were originally produced.
type JSON struct {
	raw json.RawMessage
}

// NewJSON wraps raw bytes as an opaque JSON value without validating them;
// callers that need validation should round-trip through json.Valid first.
func NewJSON(raw []byte) JSON {
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return JSON{raw: cp}
}

// Raw returns the original bytes exactly as received.
func (v JSON) Raw() []byte { return []byte(v.raw) }

// IsZero reports whether this JSON value was never set.
func (v JSON) IsZero() bool { return v.raw == nil }

// Canonical returns sorted-key, whitespace-free, duplicate-key-free bytes
// per RFC 8785-style canonicalization, used for signing (spec §4.5) and for
// value equality.
func (v JSON) Canonical() ([]byte, error) {
	return canonicaljson.Marshal(json.RawMessage(v.raw))
}

// Equal reports whether two JSON values are canonically equal.
func (v JSON) Equal(other JSON) bool {
	a, errA := v.Canonical()
	b, errB := other.Canonical()
	if errA != nil || errB != nil {
		return bytes.Equal(v.raw, other.raw)
	}
	return bytes.Equal(a, b)
}

// Field reads one top-level key of a JSON object; path is used as the key
// verbatim, so dotted paths are not traversed.
func (v JSON) Field(path string) (JSON, bool) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(v.raw, &m); err != nil {
		return JSON{}, false
	}
	raw, ok := m[path]
	if !ok {
		return JSON{}, false
	}
	return NewJSON(raw), true
}

// MarshalJSON renders the wrapped bytes verbatim, so a JSON value nested
// inside another structure round-trips byte-for-byte through persistence.
func (v JSON) MarshalJSON() ([]byte, error) {
	if v.raw == nil {
		return []byte("null"), nil
	}
	return v.raw, nil
}

// UnmarshalJSON stores the raw bytes as given, without validating shape
// beyond what encoding/json already guarantees for a json.RawMessage target.
func (v *JSON) UnmarshalJSON(data []byte) error {
	v.raw = append(json.RawMessage(nil), data...)
	return nil
}

// Bytes is an opaque byte buffer, used for media bodies and pickled crypto
// state where the contents are not JSON.
type Bytes []byte
