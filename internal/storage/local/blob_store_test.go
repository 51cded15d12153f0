package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresBaseDir(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNewCreatesMissingBaseDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "blobs")
	_, err := New(Config{BaseDir: dir})
	require.NoError(t, err)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewRejectsFileAsBaseDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err := New(Config{BaseDir: file})
	assert.Error(t, err)
}

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	uri, err := s.PutObject(ctx, "archive/chat/2025-01-01.ndjson.gz", []byte("payload"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "file://"))

	got, err := s.GetObject(ctx, "archive/chat/2025-01-01.ndjson.gz")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	// No temp files linger after a completed put.
	entries, err := os.ReadDir(filepath.Join(dir, "archive", "chat"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2025-01-01.ndjson.gz", entries[0].Name())
}

func TestPutOverwrites(t *testing.T) {
	s, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.PutObject(ctx, "k", []byte("v1"))
	require.NoError(t, err)
	_, err = s.PutObject(ctx, "k", []byte("v2"))
	require.NoError(t, err)

	got, err := s.GetObject(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestRejectsPathTraversal(t *testing.T) {
	s, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.PutObject(ctx, "../escape", []byte("x"))
	assert.Error(t, err)
	_, err = s.GetObject(ctx, "../../etc/passwd")
	assert.Error(t, err)
	_, err = s.PutObject(ctx, "", []byte("x"))
	assert.Error(t, err)
}

func TestGetMissingKey(t *testing.T) {
	s, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	_, err = s.GetObject(context.Background(), "absent")
	assert.Error(t, err)
}
