package orderedmap

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestJSONRoundTripPreservesOrder(t *testing.T) {
	m := New[string]()
	m.Set("zebra", "z")
	m.Set("apple", "a")
	m.Set("mango", "m")

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var decoded Map[string]
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, []string{"zebra", "apple", "mango"}, decoded.Keys())
}

func TestYAMLPreservesOrder(t *testing.T) {
	doc := []byte("release-*: [a]\n\"*\": [b, c]\n")
	var m Map[[]string]
	require.NoError(t, yaml.Unmarshal(doc, &m))
	require.Equal(t, []string{"release-*", "*"}, m.Keys())

	v, ok := m.Get("*")
	require.True(t, ok)
	require.Equal(t, []string{"b", "c"}, v)
}

func TestSetUpdatesInPlaceWithoutReordering(t *testing.T) {
	m := New[string]()
	m.Set("a", "1")
	m.Set("b", "2")
	m.Set("a", "3")

	require.Equal(t, []string{"a", "b"}, m.Keys())
	v, _ := m.Get("a")
	require.Equal(t, "3", v)
}

func TestUnmarshalJSONRejectsNonObject(t *testing.T) {
	var m Map[string]
	err := json.Unmarshal([]byte(`"not an object"`), &m)
	require.Error(t, err)
}
