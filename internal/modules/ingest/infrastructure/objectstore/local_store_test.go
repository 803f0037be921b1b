package objectstore

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_UploadReadDelete(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	key, err := store.Upload(ctx, "report.pdf", strings.NewReader("file body"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(key, ".pdf"), "object key keeps the extension")

	data, err := store.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "file body", string(data))

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Read(ctx, key)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLocalStore_UniqueKeysForSameName(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	k1, err := store.Upload(ctx, "same.txt", strings.NewReader("a"))
	require.NoError(t, err)
	k2, err := store.Upload(ctx, "same.txt", strings.NewReader("b"))
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestLocalStore_DeleteMissingIsIdempotent(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, store.Delete(context.Background(), "gone"))
}

func TestLocalStore_RejectsPathTraversal(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Read(ctx, "../outside")
	assert.Error(t, err)
	_, err = store.Read(ctx, "a/b")
	assert.Error(t, err)
	assert.Error(t, store.Delete(ctx, "../outside"))
}

func TestLocalStore_LongExtensionDropped(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	key, err := store.Upload(context.Background(), "weird.superlongextension", strings.NewReader("x"))
	require.NoError(t, err)
	assert.False(t, strings.Contains(key, "."), "oversized extension is not carried into the key")
}

func TestLocalStore_CanceledContext(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Upload(ctx, "x.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing written for a canceled upload")
}

func TestNewLocalStore_EmptyRoot(t *testing.T) {
	_, err := NewLocalStore("  ")
	assert.Error(t, err)
}
