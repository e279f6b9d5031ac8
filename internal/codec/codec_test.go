package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `cbor:"name"`
	Value string `cbor:"value"`
}

func TestMarshal_Deterministic(t *testing.T) {
	a, err := Marshal(map[string]any{"b": 1, "a": 2, "c": "x"})
	require.NoError(t, err)
	b, err := Marshal(map[string]any{"c": "x", "a": 2, "b": 1})
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestUnmarshal_AnyUsesStringKeys(t *testing.T) {
	data, err := Marshal(sample{Name: "temp", Value: "21.5"})
	require.NoError(t, err)

	var got any
	require.NoError(t, Unmarshal(data, &got))

	m, ok := got.(map[string]any)
	require.True(t, ok, "decoded %T", got)
	assert.Equal(t, "temp", m["name"])
	assert.Equal(t, "21.5", m["value"])
}

func TestEmptyMap(t *testing.T) {
	data, err := Marshal(map[string]any{})
	require.NoError(t, err)

	assert.True(t, IsEmptyMap(data))
	assert.True(t, IsEmptyMap(EmptyMap()))

	full, err := Marshal(sample{Name: "x"})
	require.NoError(t, err)
	assert.False(t, IsEmptyMap(full))
}

func TestIsNull(t *testing.T) {
	data, err := Marshal(nil)
	require.NoError(t, err)
	assert.True(t, IsNull(data))

	assert.False(t, IsNull(EmptyMap()))
	assert.False(t, IsNull(nil))
	str, err := Marshal("null")
	require.NoError(t, err)
	assert.False(t, IsNull(str))
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(sample{Name: "n", Value: "v"})
	require.NoError(t, err)

	out, err := Diagnose(data)
	require.NoError(t, err)
	assert.Contains(t, out, `"name"`)
	assert.Contains(t, out, `"v"`)
}
