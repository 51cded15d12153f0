package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	cursor, ok, err := s.Load("collect:chat", "collect")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "", cursor)

	require.NoError(t, s.Save("collect:chat", "collect", "2025-01-01:17"))

	cursor, ok, err = s.Load("collect:chat", "collect")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2025-01-01:17", cursor)
}

func TestStoreSaveOverwrites(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Save("index:chat", "index", "2025-01-01:0"))
	require.NoError(t, s.Save("index:chat", "index", "2025-01-02:5"))

	cursor, ok, err := s.Load("index:chat", "index")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2025-01-02:5", cursor)
}

func TestStoreStagesAreIndependent(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Save("job", "collect", "a"))
	require.NoError(t, s.Save("job", "index", "b"))

	cursor, _, err := s.Load("job", "collect")
	require.NoError(t, err)
	assert.Equal(t, "a", cursor)
	cursor, _, err = s.Load("job", "index")
	require.NoError(t, err)
	assert.Equal(t, "b", cursor)
}

func TestStoreClearRemovesAllStagesForJob(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Save("collect:chat", "collect", "a"))
	require.NoError(t, s.Save("collect:chat", "retry", "b"))
	require.NoError(t, s.Save("collect:calendar", "collect", "c"))

	require.NoError(t, s.Clear("collect:chat"))

	_, ok, err := s.Load("collect:chat", "collect")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.Load("collect:chat", "retry")
	require.NoError(t, err)
	assert.False(t, ok)

	// Other jobs are untouched.
	cursor, ok, err := s.Load("collect:calendar", "collect")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c", cursor)
}

func TestStoreCorruptCheckpointSurfacesError(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Save("job", "collect", "a"))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, entries[0].Name()), []byte("garbage"), 0o640))

	_, _, err = s.Load("job", "collect")
	assert.Error(t, err)
}

func TestSanitizeKeepsFileNamesSafe(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Save("collect:chat/../evil", "collect", "x"))
	cursor, ok, err := s.Load("collect:chat/../evil", "collect")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x", cursor)
}
