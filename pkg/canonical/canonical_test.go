package canonical_test

import (
	"testing"

	"Guardrail/pkg/canonical"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON_SortsKeys(t *testing.T) {
	b, err := canonical.JSON(map[string]any{"b": 1, "a": "<x>", "c": map[string]any{"z": true, "y": nil}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<x>","b":1,"c":{"y":null,"z":true}}`, string(b))
}

func TestHash_KeyOrderIndependent(t *testing.T) {
	h1, err := canonical.Hash(map[string]any{"price": 1.1, "symbol": "EURUSD"})
	require.NoError(t, err)
	h2, err := canonical.Hash(struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
	}{"EURUSD", 1.1})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHash_Unmarshalable(t *testing.T) {
	_, err := canonical.Hash(map[string]any{"f": func() {}})
	assert.Error(t, err)
}
