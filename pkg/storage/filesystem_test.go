package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndOpen(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	name, err := store.Save("grades_sec-1_20260115.csv", []byte("enrollment_id,quiz\n"))
	require.NoError(t, err)
	assert.Equal(t, "grades_sec-1_20260115.csv", name)

	data, err := store.Open(name)
	require.NoError(t, err)
	assert.Equal(t, "enrollment_id,quiz\n", string(data))
}

func TestOpenMissingFile(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Open("nope.csv")
	assert.Error(t, err)
}

func TestRemoveOlderThan(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	require.NoError(t, err)

	_, err = store.Save("old.csv", []byte("x"))
	require.NoError(t, err)
	_, err = store.Save("fresh.csv", []byte("y"))
	require.NoError(t, err)

	stale := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "old.csv"), stale, stale))

	require.NoError(t, store.RemoveOlderThan(24*time.Hour))

	_, err = store.Open("old.csv")
	assert.Error(t, err)
	_, err = store.Open("fresh.csv")
	assert.NoError(t, err)
}
