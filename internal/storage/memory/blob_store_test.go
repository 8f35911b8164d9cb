package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`{"username":"alice"}`)
	uri, err := store.PutObject(context.Background(), "snapshots/alice/abc.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://snapshots/alice/abc.json", uri)

	payload[0] = 'X'
	stored, contentType, ok := store.Object("snapshots/alice/abc.json")
	require.True(t, ok)
	require.Equal(t, `{"username":"alice"}`, string(stored))
	require.Equal(t, "application/json", contentType)
	require.Equal(t, []string{"snapshots/alice/abc.json"}, store.Paths())

	_, _, ok = store.Object("missing")
	require.False(t, ok)
}
