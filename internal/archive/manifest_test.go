package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	m, err := OpenManifest(path)
	require.NoError(t, err)

	written := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, m.Update("chat", "2025-03-01", func(e *ManifestEntry) {
		e.Path = "/data/chat/2025-03-01.ndjson"
		e.RecordCount = 12
		e.ByteSize = 1024
		e.Checksum = "abc123"
		e.LastWrittenAt = written
	}))

	// A fresh open must see the committed entry.
	m2, err := OpenManifest(path)
	require.NoError(t, err)
	entry, ok := m2.Get("chat", "2025-03-01")
	require.True(t, ok)
	assert.Equal(t, 12, entry.RecordCount)
	assert.Equal(t, int64(1024), entry.ByteSize)
	assert.Equal(t, "abc123", entry.Checksum)
	assert.Equal(t, StateHot, entry.CompressionState)
	assert.True(t, entry.LastWrittenAt.Equal(written))
}

func TestManifestEntriesSortedByDay(t *testing.T) {
	m, err := OpenManifest(filepath.Join(t.TempDir(), "manifest.json"))
	require.NoError(t, err)

	for _, day := range []string{"2025-03-02", "2025-03-01", "2025-03-03"} {
		require.NoError(t, m.Update("chat", day, func(e *ManifestEntry) {}))
	}
	require.NoError(t, m.Update("calendar", "2025-03-01", func(e *ManifestEntry) {}))

	entries := m.Entries("chat")
	require.Len(t, entries, 3)
	assert.Equal(t, "2025-03-01", entries[0].Day)
	assert.Equal(t, "2025-03-02", entries[1].Day)
	assert.Equal(t, "2025-03-03", entries[2].Day)

	assert.Len(t, m.Entries(""), 4)
	assert.Equal(t, []string{"calendar", "chat"}, m.Sources())
}

func TestManifestLeavesNoTempFilesBehind(t *testing.T) {
	dir := t.TempDir()
	m, err := OpenManifest(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Update("chat", "2025-03-01", func(e *ManifestEntry) {
			e.RecordCount = i + 1
		}))
	}

	names, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.Equal(t, "manifest.json", names[0].Name())
}

func TestManifestRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o640))

	_, err := OpenManifest(path)
	assert.Error(t, err)
}
