package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrelworks/lifelog/internal/clock/system"
)

func testRecord(source, originID, content string, ts time.Time) Record {
	return Record{
		Source:    source,
		Type:      "message",
		Timestamp: ts,
		OriginID:  originID,
		Content:   content,
		Metadata:  map[string]any{"channel": "general"},
	}
}

func newTestWriter(t *testing.T) (*Writer, *Manifest, string) {
	t.Helper()
	dir := t.TempDir()
	manifest, err := OpenManifest(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)
	w := NewWriter(filepath.Join(dir, "segments"), manifest, system.New(), zap.NewNop())
	t.Cleanup(func() { _ = w.Close() })
	return w, manifest, dir
}

func TestWriterAppendPreservesOrder(t *testing.T) {
	w, manifest, _ := newTestWriter(t)
	ts := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		pos, err := w.Append("chat", testRecord("chat", fmt.Sprintf("msg-%d", i), fmt.Sprintf("hello %d", i), ts))
		require.NoError(t, err)
		assert.Equal(t, i, pos.Line)
		assert.Equal(t, "2025-01-01", pos.Day)
	}

	entry, ok := manifest.Get("chat", "2025-01-01")
	require.True(t, ok)
	assert.Equal(t, 5, entry.RecordCount)

	data, err := os.ReadFile(entry.Path)
	require.NoError(t, err)
	lines := splitLines(data)
	require.Len(t, lines, 5)
	for i, line := range lines {
		rec, err := decodeRecord(line)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("msg-%d", i), rec.OriginID)
	}
}

func TestWriterRejectsInvalidRecords(t *testing.T) {
	w, _, _ := newTestWriter(t)
	ts := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		rec  Record
	}{
		{"empty origin_id", testRecord("chat", "", "hi", ts)},
		{"zero timestamp", testRecord("chat", "a", "hi", time.Time{})},
		{"source mismatch", testRecord("calendar", "a", "hi", ts)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := w.Append("chat", tc.rec)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
}

func TestWriterRecoversFromTornWrite(t *testing.T) {
	w, _, dir := newTestWriter(t)
	ts := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := w.Append("chat", testRecord("chat", fmt.Sprintf("msg-%d", i), "hi", ts))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	// Simulate a crash mid-append: a partial 4th record with no
	// trailing newline.
	segPath := w.SegmentPath("chat", "2025-01-01")
	f, err := os.OpenFile(segPath, os.O_WRONLY|os.O_APPEND, 0o640)
	require.NoError(t, err)
	_, err = f.WriteString(`{"source":"chat","origin_id":"msg-3","content":"trunca`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// A fresh writer (new process) must truncate the torn tail and
	// land the retried 4th append cleanly.
	manifest2, err := OpenManifest(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)
	w2 := NewWriter(filepath.Join(dir, "segments"), manifest2, system.New(), zap.NewNop())
	defer w2.Close()

	pos, err := w2.Append("chat", testRecord("chat", "msg-3", "hello again", ts))
	require.NoError(t, err)
	assert.Equal(t, 3, pos.Line)

	data, err := os.ReadFile(segPath)
	require.NoError(t, err)
	lines := splitLines(data)
	require.Len(t, lines, 4)
	rec, err := decodeRecord(lines[3])
	require.NoError(t, err)
	assert.Equal(t, "msg-3", rec.OriginID)
	assert.Equal(t, "hello again", rec.Content)

	entry, ok := manifest2.Get("chat", "2025-01-01")
	require.True(t, ok)
	assert.Equal(t, 4, entry.RecordCount)
}

func TestWriterConcurrentSourcesDoNotInterleave(t *testing.T) {
	w, manifest, _ := newTestWriter(t)
	ts := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	const perSource = 20
	sources := []string{"chat", "calendar", "docs"}
	var wg sync.WaitGroup
	for _, source := range sources {
		wg.Add(1)
		go func(source string) {
			defer wg.Done()
			for i := 0; i < perSource; i++ {
				_, err := w.Append(source, testRecord(source, fmt.Sprintf("%s-%d", source, i), "x", ts))
				assert.NoError(t, err)
			}
		}(source)
	}
	wg.Wait()

	for _, source := range sources {
		entry, ok := manifest.Get(source, "2025-01-01")
		require.True(t, ok, source)
		assert.Equal(t, perSource, entry.RecordCount, source)

		data, err := os.ReadFile(entry.Path)
		require.NoError(t, err)
		for _, line := range splitLines(data) {
			rec, err := decodeRecord(line)
			require.NoError(t, err)
			assert.Equal(t, source, rec.Source)
		}
	}
}

func TestWriterSealIsIdempotentAndBlocksAppends(t *testing.T) {
	w, manifest, _ := newTestWriter(t)
	ts := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	_, err := w.Append("chat", testRecord("chat", "msg-0", "hi", ts))
	require.NoError(t, err)

	require.NoError(t, w.Seal("chat", "2025-01-01"))
	require.NoError(t, w.Seal("chat", "2025-01-01")) // idempotent

	entry, ok := manifest.Get("chat", "2025-01-01")
	require.True(t, ok)
	assert.True(t, entry.Sealed)

	_, err = w.Append("chat", testRecord("chat", "msg-1", "late", ts))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSegmentSealed))

	err = w.Seal("chat", "2025-01-02")
	assert.ErrorIs(t, err, ErrSegmentNotFound)
}
