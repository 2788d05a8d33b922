package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wharf-registry/wharf/pkg/api"
)

func newTestStorage(t *testing.T) *FSStorage {
	t.Helper()
	s, err := NewFSStorage(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestCrateKey(t *testing.T) {
	assert.Equal(t, "hello-0.1.0.crate", CrateKey("hello", "0.1.0"))
	assert.Equal(t, "hello-0.1.0.crate", CrateKey("Hello", "0.1.0"))
	assert.Equal(t, "hello-0.1.0.readme", ReadmeKey("hello", "0.1.0"))
}

func TestFSPutGet(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	data := []byte("tarball bytes")
	require.NoError(t, s.PutCrate(ctx, "hello", "0.1.0", data))

	got, err := s.GetCrate(ctx, "hello", "0.1.0")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Case-folded keys resolve regardless of request casing.
	got, err = s.GetCrate(ctx, "Hello", "0.1.0")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFSGetMissing(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.GetCrate(context.Background(), "hello", "0.1.0")
	assert.Equal(t, api.KindNotFound, api.KindOf(err))
}

func TestFSPutIdempotentAndConflict(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	data := []byte("tarball bytes")
	require.NoError(t, s.PutCrate(ctx, "hello", "0.1.0", data))

	// Identical retry succeeds.
	require.NoError(t, s.PutCrate(ctx, "hello", "0.1.0", data))

	// Different bytes for the same version are refused.
	err := s.PutCrate(ctx, "hello", "0.1.0", []byte("other bytes"))
	assert.Equal(t, api.KindConflict, api.KindOf(err))

	got, err := s.GetCrate(ctx, "hello", "0.1.0")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFSDelete(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	// Deleting an object that never landed is benign.
	require.NoError(t, s.DeleteCrate(ctx, "hello", "0.1.0"))

	require.NoError(t, s.PutCrate(ctx, "hello", "0.1.0", []byte("tarball")))
	require.NoError(t, s.DeleteCrate(ctx, "hello", "0.1.0"))

	_, err := s.GetCrate(ctx, "hello", "0.1.0")
	assert.Equal(t, api.KindNotFound, api.KindOf(err))
}

func TestFSReadme(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.PutReadme(ctx, "hello", "0.1.0", []byte("# hello")))
	got, err := s.GetReadme(ctx, "hello", "0.1.0")
	require.NoError(t, err)
	assert.Equal(t, []byte("# hello"), got)

	// Readme and crate keyspaces do not collide.
	_, err = s.GetCrate(ctx, "hello", "0.1.0")
	assert.Equal(t, api.KindNotFound, api.KindOf(err))
}
