package source

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustDecode(t *testing.T, s string) any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v any
	require.NoError(t, dec.Decode(&v))
	return v
}

func TestRecognizeShapeOrder(t *testing.T) {
	t.Parallel()

	items, shape := recognizeShape(mustDecode(t, `{"data":[{"id":"d"}],"profiles":[{"id":"p"}],"items":[{"id":"i"}]}`))
	require.Equal(t, "profiles", shape)
	require.Equal(t, "p", items[0]["id"])

	_, shape = recognizeShape(mustDecode(t, `{"items":"not a list","data":[]}`))
	require.Equal(t, "data", shape)

	items, shape = recognizeShape(mustDecode(t, `"scalar"`))
	require.Equal(t, "unknown", shape)
	require.Nil(t, items)
}

func TestRecordFromItemIdentityPriority(t *testing.T) {
	t.Parallel()

	rec, ok := recordFromItem(map[string]any{"username": "", "user": "u", "id": json.Number("9")})
	require.True(t, ok)
	require.Equal(t, "u", rec.Identity)

	_, ok = recordFromItem(map[string]any{"id": json.Number("0")})
	require.False(t, ok)

	_, ok = recordFromItem(map[string]any{"id": float64(0)})
	require.False(t, ok)

	rec, ok = recordFromItem(map[string]any{"username": "0", "id": json.Number("7")})
	require.True(t, ok)
	require.Equal(t, "0", rec.Identity, "a literal \"0\" handle is a real identity")

	_, ok = recordFromItem(map[string]any{"user": map[string]any{"name": "nested"}})
	require.False(t, ok)
}

func TestRecordFromItemActivityFallback(t *testing.T) {
	t.Parallel()

	rec, ok := recordFromItem(map[string]any{
		"handle":          "h",
		"recent_activity": "",
		"updated_at":      "2024-01-01",
	})
	require.True(t, ok)
	require.Equal(t, "2024-01-01", *rec.RecentActivityTS)
}
