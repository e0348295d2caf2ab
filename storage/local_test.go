package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	fileID := uuid.New()
	path, err := store.Upload(context.Background(), fileID, "policy.txt", strings.NewReader("uploaded bytes"))
	require.NoError(t, err)
	assert.Contains(t, path, fileID.String())

	reader, err := store.Download(context.Background(), path)
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "uploaded bytes", string(data))

	require.NoError(t, store.Delete(context.Background(), path))

	_, err = store.Download(context.Background(), path)
	assert.Error(t, err)
}

func TestLocalStorageDeleteMissingIsNoop(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	assert.NoError(t, store.Delete(context.Background(), "does/not/exist.txt"))
}
