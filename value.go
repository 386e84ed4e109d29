package edgeconfig

import (
	"bytes"
	"context"
	"errors"
	"sort"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrAbsent is returned by Value.Decode when the key does not exist.
var ErrAbsent = errors.New("edgeconfig: key does not exist")

var jsonNull = []byte("null")

// Value is one item of the config as raw JSON. The zero Value means the key
// does not exist; a stored JSON null is a present Value.
//
// A Value never exposes its bytes: Decode, Interface and Raw all produce fresh
// memory, so two callers can never observe each other's mutations.
type Value struct {
	raw []byte
}

func newValue(raw []byte) Value {
	if raw == nil {
		raw = jsonNull
	}
	return Value{raw: raw}
}

// Exists reports whether the key was present in the config.
func (v Value) Exists() bool {
	return v.raw != nil
}

// Decode unmarshals the value into dst.
func (v Value) Decode(dst any) error {
	if !v.Exists() {
		return ErrAbsent
	}
	return json.Unmarshal(v.raw, dst)
}

// Interface decodes the value into a generic Go value (map[string]any,
// []any, string, float64, bool or nil). Absent and undecodable values yield nil.
func (v Value) Interface() any {
	if !v.Exists() {
		return nil
	}
	var out any
	if err := json.Unmarshal(v.raw, &out); err != nil {
		return nil
	}
	return out
}

// Raw returns a copy of the JSON encoding, or nil when absent.
func (v Value) Raw() []byte {
	if !v.Exists() {
		return nil
	}
	return bytes.Clone(v.raw)
}

// String returns the JSON text, or "" when absent.
func (v Value) String() string {
	return string(v.raw)
}

// MarshalJSON encodes the value; an absent value encodes as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Exists() {
		return []byte("null"), nil
	}
	return bytes.Clone(v.raw), nil
}

// Equal reports whether both values hold the same JSON text.
func (v Value) Equal(other Value) bool {
	if v.Exists() != other.Exists() {
		return false
	}
	return bytes.Equal(v.raw, other.raw)
}

// Items is a snapshot of config entries keyed by item key.
type Items map[string]Value

// Keys returns the item keys in sorted order.
func (it Items) Keys() []string {
	keys := make([]string, 0, len(it))
	for k := range it {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON encodes the snapshot as one JSON object.
func (it Items) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]Value(it))
}

// Decode unmarshals the whole snapshot into dst, e.g. a struct or a map.
func (it Items) Decode(dst any) error {
	raw, err := json.Marshal(it)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func (it Items) clone() Items {
	if it == nil {
		return nil
	}
	out := make(Items, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

func itemsFromRaw(raw map[string]jsoniter.RawMessage) Items {
	items := make(Items, len(raw))
	for k, v := range raw {
		items[k] = newValue(v)
	}
	return items
}

// GetAs reads key through c and decodes it into T. The boolean is false when
// the key does not exist.
func GetAs[T any](ctx context.Context, c *Client, key string) (T, bool, error) {
	var out T
	v, err := c.Get(ctx, key)
	if err != nil {
		return out, false, err
	}
	if !v.Exists() {
		return out, false, nil
	}
	if err := v.Decode(&out); err != nil {
		return out, true, newDecodeError("get", key, err)
	}
	return out, true, nil
}
