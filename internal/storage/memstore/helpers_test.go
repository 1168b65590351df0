package memstore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustField(t *testing.T, raw json.RawMessage, field string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &m))
	return m[field]
}
