package edgeconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueAbsent(t *testing.T) {
	var v Value
	assert.False(t, v.Exists())
	assert.Nil(t, v.Raw())
	assert.Nil(t, v.Interface())
	assert.Equal(t, "", v.String())
	assert.ErrorIs(t, v.Decode(new(string)), ErrAbsent)

	raw, err := v.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))
}

func TestValueNullIsPresent(t *testing.T) {
	v := newValue(nil)
	assert.True(t, v.Exists())
	assert.Nil(t, v.Interface())
	assert.Equal(t, "null", v.String())
}

func TestValueDecodeReturnsFreshCopies(t *testing.T) {
	v := newValue([]byte(`{"tags":["a","b"],"limit":3}`))

	first, ok := v.Interface().(map[string]any)
	require.True(t, ok)
	first["limit"] = 99
	first["tags"].([]any)[0] = "mutated"

	second := v.Interface().(map[string]any)
	assert.Equal(t, float64(3), second["limit"])
	assert.Equal(t, "a", second["tags"].([]any)[0])

	raw := v.Raw()
	raw[0] = '['
	assert.Equal(t, `{"tags":["a","b"],"limit":3}`, v.String())

	var decoded struct {
		Tags  []string `json:"tags"`
		Limit int      `json:"limit"`
	}
	require.NoError(t, v.Decode(&decoded))
	assert.Equal(t, []string{"a", "b"}, decoded.Tags)
	assert.Equal(t, 3, decoded.Limit)
}

func TestValueEqual(t *testing.T) {
	assert.True(t, Value{}.Equal(Value{}))
	assert.True(t, newValue([]byte(`1`)).Equal(newValue([]byte(`1`))))
	assert.False(t, newValue([]byte(`1`)).Equal(Value{}))
	assert.False(t, newValue([]byte(`1`)).Equal(newValue([]byte(`2`))))
}

func TestItems(t *testing.T) {
	items := Items{
		"b": newValue([]byte(`"two"`)),
		"a": newValue([]byte(`1`)),
	}
	assert.Equal(t, []string{"a", "b"}, items.Keys())

	raw, err := items.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"b":"two"}`, string(raw))

	var decoded struct {
		A int    `json:"a"`
		B string `json:"b"`
	}
	require.NoError(t, items.Decode(&decoded))
	assert.Equal(t, 1, decoded.A)
	assert.Equal(t, "two", decoded.B)

	clone := items.clone()
	delete(clone, "a")
	assert.Len(t, items, 2)
}
