package hint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_Roundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last-device")
	store := NewFileStore(path)

	_, ok, err := store.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save("aa:bb:cc:dd"))

	id, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "aa:bb:cc:dd", id)

	// Save replaces the previous value
	require.NoError(t, store.Save("11:22:33:44"))
	id, _, _ = store.Load()
	assert.Equal(t, "11:22:33:44", id)

	require.NoError(t, store.Clear())
	_, ok, err = store.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_SaveCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "last-device")
	store := NewFileStore(path)

	require.NoError(t, store.Save("dev1"))

	id, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "dev1", id)
}

func TestFileStore_SaveEmptyID(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "last-device"))
	assert.Error(t, store.Save(""))
}

func TestFileStore_ClearAbsent(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "never-written"))
	assert.NoError(t, store.Clear())
}

func TestFileStore_LoadIgnoresWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last-device")
	require.NoError(t, os.WriteFile(path, []byte("  dev42\n\n"), 0o644))

	store := NewFileStore(path)
	id, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "dev42", id)
}

func TestFileStore_LoadBlankFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last-device")
	require.NoError(t, os.WriteFile(path, []byte("\n"), 0o644))

	store := NewFileStore(path)
	_, ok, err := store.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemStore(t *testing.T) {
	store := NewMemStore()

	_, ok, err := store.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save("dev1"))
	id, ok, _ := store.Load()
	require.True(t, ok)
	assert.Equal(t, "dev1", id)

	require.NoError(t, store.Clear())
	_, ok, _ = store.Load()
	assert.False(t, ok)
}
