package storage

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFileStoreLifecycle(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	require.NoError(t, err)

	path, err := store.Save(strings.NewReader("hello"), "Report.PDF", "req-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, "req-1/"))
	assert.True(t, strings.HasSuffix(path, ".pdf"))

	rc, err := store.Open(path)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello", string(body))

	require.NoError(t, store.Delete(path))
	require.NoError(t, store.Delete(path))
	_, err = store.Open(path)
	assert.Error(t, err)
}

func TestLocalFileStoreRejectsTraversal(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Open("../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidPath)
	assert.ErrorIs(t, store.Delete("/etc/passwd"), ErrInvalidPath)
}
