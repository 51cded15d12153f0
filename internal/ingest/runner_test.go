package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrelworks/lifelog/internal/archive"
	"github.com/kestrelworks/lifelog/internal/checkpoint"
	"github.com/kestrelworks/lifelog/internal/clock/system"
	"github.com/kestrelworks/lifelog/internal/policy/breaker"
	"github.com/kestrelworks/lifelog/internal/policy/ratelimit"
)

// fakeArchiver records appends in memory.
type fakeArchiver struct {
	mu      sync.Mutex
	records map[string][]archive.Record
}

func newFakeArchiver() *fakeArchiver {
	return &fakeArchiver{records: make(map[string][]archive.Record)}
}

func (a *fakeArchiver) Append(source string, rec archive.Record) (archive.SegmentPosition, error) {
	if err := rec.Validate(); err != nil {
		return archive.SegmentPosition{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records[source] = append(a.records[source], rec)
	return archive.SegmentPosition{Source: source, Day: rec.Day(), Line: len(a.records[source]) - 1}, nil
}

func (a *fakeArchiver) count(source string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records[source])
}

// scriptedCollector serves fixed batches keyed by cursor.
type scriptedCollector struct {
	source  string
	batches map[string]scriptedBatch
	mu      sync.Mutex
	calls   []string
}

type scriptedBatch struct {
	records []archive.Record
	next    string
	err     error
}

func (c *scriptedCollector) Source() string { return c.source }

func (c *scriptedCollector) FetchBatch(_ context.Context, cursor string) ([]archive.Record, string, error) {
	c.mu.Lock()
	c.calls = append(c.calls, cursor)
	c.mu.Unlock()
	b, ok := c.batches[cursor]
	if !ok {
		return nil, "", fmt.Errorf("no batch scripted for cursor %q", cursor)
	}
	return b.records, b.next, b.err
}

func rec(source, originID string) archive.Record {
	return archive.Record{
		Source:    source,
		Type:      "message",
		Timestamp: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
		OriginID:  originID,
		Content:   "payload " + originID,
	}
}

func newTestRunner(t *testing.T, archiver Archiver) (*Runner, *checkpoint.Store) {
	t.Helper()
	checkpoints, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)
	limiter := ratelimit.New(ratelimit.Config{}) // unlimited
	breakers := breaker.NewGroup(breaker.Config{FailureThreshold: 2, Cooldown: time.Minute}, system.New(), zap.NewNop())
	return NewRunner(archiver, limiter, breakers, checkpoints, zap.NewNop()), checkpoints
}

func TestRunnerDrainsCollectorAndClearsCheckpoint(t *testing.T) {
	archiver := newFakeArchiver()
	runner, checkpoints := newTestRunner(t, archiver)

	c := &scriptedCollector{
		source: "chat",
		batches: map[string]scriptedBatch{
			"":       {records: []archive.Record{rec("chat", "a"), rec("chat", "b")}, next: "page-2"},
			"page-2": {records: []archive.Record{rec("chat", "c")}, next: ""},
		},
	}

	report, err := runner.Run(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Appended)
	assert.Equal(t, 0, report.Rejected)
	assert.Equal(t, 2, report.Batches)
	assert.Equal(t, 3, archiver.count("chat"))
	assert.Equal(t, []string{"", "page-2"}, c.calls)

	// Terminal success removes the resume checkpoint.
	_, ok, err := checkpoints.Load(JobID("chat"), "collect")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunnerResumesFromCheckpointAfterFailure(t *testing.T) {
	archiver := newFakeArchiver()
	runner, checkpoints := newTestRunner(t, archiver)

	boom := errors.New("upstream 500")
	c := &scriptedCollector{
		source: "chat",
		batches: map[string]scriptedBatch{
			"":       {records: []archive.Record{rec("chat", "a")}, next: "page-2"},
			"page-2": {err: boom},
		},
	}

	_, err := runner.Run(context.Background(), c)
	require.ErrorIs(t, err, boom)

	// The checkpoint still points at the last committed batch.
	cursor, ok, err := checkpoints.Load(JobID("chat"), "collect")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "page-2", cursor)

	// A later run picks up where the failure happened.
	c.batches["page-2"] = scriptedBatch{records: []archive.Record{rec("chat", "b")}, next: ""}
	report, err := runner.Run(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Appended)
	assert.Equal(t, 2, archiver.count("chat"))
}

func TestRunnerRejectsInvalidRecordsWithoutAborting(t *testing.T) {
	archiver := newFakeArchiver()
	runner, _ := newTestRunner(t, archiver)

	bad := rec("chat", "")
	c := &scriptedCollector{
		source: "chat",
		batches: map[string]scriptedBatch{
			"": {records: []archive.Record{rec("chat", "a"), bad, rec("chat", "b")}, next: ""},
		},
	}

	report, err := runner.Run(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Appended)
	assert.Equal(t, 1, report.Rejected)
	assert.Equal(t, 2, archiver.count("chat"))
}

func TestRunnerStopsWhenCircuitOpens(t *testing.T) {
	archiver := newFakeArchiver()
	runner, _ := newTestRunner(t, archiver)

	boom := errors.New("connection refused")
	c := &scriptedCollector{
		source: "chat",
		batches: map[string]scriptedBatch{
			"": {err: boom},
		},
	}

	// FailureThreshold is 2: two failed runs open the circuit.
	_, err := runner.Run(context.Background(), c)
	require.ErrorIs(t, err, boom)
	_, err = runner.Run(context.Background(), c)
	require.ErrorIs(t, err, boom)

	_, err = runner.Run(context.Background(), c)
	require.Error(t, err)
	assert.ErrorIs(t, err, breaker.ErrCircuitOpen)
	// The open circuit short-circuits before the collector is called.
	assert.Len(t, c.calls, 2)
}

func TestRunnerHonorsCancellation(t *testing.T) {
	archiver := newFakeArchiver()
	runner, _ := newTestRunner(t, archiver)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &scriptedCollector{source: "chat", batches: map[string]scriptedBatch{}}
	_, err := runner.Run(ctx, c)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, c.calls)
}

func TestRunnerRunAllIsolatesFailures(t *testing.T) {
	archiver := newFakeArchiver()
	runner, _ := newTestRunner(t, archiver)

	good := &scriptedCollector{
		source: "chat",
		batches: map[string]scriptedBatch{
			"": {records: []archive.Record{rec("chat", "a")}, next: ""},
		},
	}
	broken := &scriptedCollector{
		source: "calendar",
		batches: map[string]scriptedBatch{
			"": {err: errors.New("token expired")},
		},
	}
	collectors := make([]Collector, 0, 2)
	collectors = append(collectors, good, broken)

	reports := runner.RunAll(context.Background(), collectors...)
	require.Len(t, reports, 2)
	assert.Equal(t, 1, reports["chat"].Appended)
	assert.Equal(t, 0, reports["calendar"].Appended)
	assert.Equal(t, 1, archiver.count("chat"))
}

func TestRunnerAppliesRateLimit(t *testing.T) {
	archiver := newFakeArchiver()
	checkpoints, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: 50, DefaultBurst: 1})
	breakers := breaker.NewGroup(breaker.Config{}, system.New(), zap.NewNop())
	runner := NewRunner(archiver, limiter, breakers, checkpoints, zap.NewNop())

	batches := map[string]scriptedBatch{"": {records: nil, next: "p1"}}
	for i := 1; i < 5; i++ {
		next := "p" + strconv.Itoa(i+1)
		if i == 4 {
			next = ""
		}
		batches["p"+strconv.Itoa(i)] = scriptedBatch{records: nil, next: next}
	}
	c := &scriptedCollector{source: "chat", batches: batches}

	start := time.Now()
	_, err = runner.Run(context.Background(), c)
	require.NoError(t, err)
	// 5 acquisitions at 50 rps with burst 1 need roughly 80ms.
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Len(t, c.calls, 5)
}
