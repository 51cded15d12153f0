package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func doc(originID, source, content string, ts time.Time) Document {
	return Document{
		OriginID:    originID,
		Source:      source,
		Type:        "message",
		Timestamp:   ts,
		Content:     content,
		Metadata:    map[string]any{"channel": "general"},
		SegmentPath: "/data/" + source + "/" + ts.UTC().Format("2006-01-02") + ".ndjson",
		SegmentLine: 0,
	}
}

func TestUpsertBatchIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	batch := []Document{
		doc("a", "chat", "deploy finished", ts),
		doc("b", "chat", "lunch plans", ts.Add(time.Minute)),
	}
	require.NoError(t, s.UpsertBatch(ctx, batch))
	require.NoError(t, s.UpsertBatch(ctx, batch)) // replay

	n, err := s.Count(ctx, "chat")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUpsertBatchOverwritesExistingDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertBatch(ctx, []Document{doc("a", "chat", "first draft", ts)}))
	require.NoError(t, s.UpsertBatch(ctx, []Document{doc("a", "chat", "final edit", ts)}))

	// The FTS projection must follow the overwrite: the old content is
	// no longer findable, the new one is.
	hits, err := s.Search(ctx, Query{Text: "draft"})
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = s.Search(ctx, Query{Text: "final"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].OriginID)
	assert.Equal(t, "final edit", hits[0].Content)
}

func TestUpsertBatchEmptyIsNoop(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.UpsertBatch(context.Background(), nil))
}

func TestRecordSkipAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordSkip(ctx, "chat", "bad-1", "/data/chat/2025-01-01.ndjson", 7, "invalid json"))
	require.NoError(t, s.RecordSkip(ctx, "chat", "bad-2", "/data/chat/2025-01-01.ndjson", 9, "missing origin_id"))
	require.NoError(t, s.RecordSkip(ctx, "calendar", "bad-3", "/data/calendar/2025-01-01.ndjson", 0, "invalid json"))

	skips, err := s.Skips(ctx, "chat", 10)
	require.NoError(t, err)
	require.Len(t, skips, 2)
	for _, sk := range skips {
		assert.Equal(t, "chat", sk.Source)
		assert.NotEmpty(t, sk.ID)
		assert.NotEmpty(t, sk.Reason)
	}
}

func TestParkedBatchLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pb, err := s.UnackedParked(ctx, "chat")
	require.NoError(t, err)
	assert.Nil(t, pb)

	id, err := s.ParkBatch(ctx, "chat", "2025-01-01:0", "2025-01-01:500", 3, "disk full")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	pb, err = s.UnackedParked(ctx, "chat")
	require.NoError(t, err)
	require.NotNil(t, pb)
	assert.Equal(t, id, pb.ID)
	assert.Equal(t, "2025-01-01:0", pb.CursorFrom)
	assert.Equal(t, "2025-01-01:500", pb.CursorTo)
	assert.Equal(t, 3, pb.Attempts)
	assert.Equal(t, "disk full", pb.LastError)

	// Other sources are not gated.
	pb, err = s.UnackedParked(ctx, "calendar")
	require.NoError(t, err)
	assert.Nil(t, pb)

	n, err := s.AckParked(ctx, "chat")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pb, err = s.UnackedParked(ctx, "chat")
	require.NoError(t, err)
	assert.Nil(t, pb)

	// Re-acking is a no-op.
	n, err = s.AckParked(ctx, "chat")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
