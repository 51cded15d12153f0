// Package indexer streams newly archived records into the search store
// in bounded batches, checkpointing after every committed batch so a
// restart reprocesses at most one partial batch.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kestrelworks/lifelog/internal/archive"
	"github.com/kestrelworks/lifelog/internal/checkpoint"
	"github.com/kestrelworks/lifelog/internal/events"
	"github.com/kestrelworks/lifelog/internal/search"
	"github.com/kestrelworks/lifelog/internal/telemetry"
)

// ErrIndexCommit marks a batch that failed to persist after all
// retries. The batch is parked; the pipeline will not advance past it
// until an operator acknowledges.
var ErrIndexCommit = errors.New("index commit failed")

// ErrBatchParked blocks a run while an earlier parked batch for the
// same source is unacknowledged.
var ErrBatchParked = errors.New("parked batch awaiting acknowledgment")

const checkpointStage = "index"

// Config tunes the pipeline.
type Config struct {
	// BatchSize bounds memory use and index transaction size.
	BatchSize int
	// MaxCommitAttempts bounds whole-batch retries before parking.
	MaxCommitAttempts int
	// RetryBackoff is the pause between commit attempts.
	RetryBackoff time.Duration
}

// Pipeline consumes the archive and upserts into the search store.
type Pipeline struct {
	manager     *archive.Manager
	store       *search.Store
	checkpoints *checkpoint.Store
	publisher   events.Publisher
	topic       string
	cfg         Config
	logger      *zap.Logger
}

// New constructs a Pipeline.
func New(
	manager *archive.Manager,
	store *search.Store,
	checkpoints *checkpoint.Store,
	publisher events.Publisher,
	topic string,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.MaxCommitAttempts <= 0 {
		cfg.MaxCommitAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 250 * time.Millisecond
	}
	return &Pipeline{
		manager:     manager,
		store:       store,
		checkpoints: checkpoints,
		publisher:   publisher,
		topic:       topic,
		cfg:         cfg,
		logger:      logger,
	}
}

// Report summarizes one run for the CLI exit-code decision and the
// operator-facing summary line.
type Report struct {
	RunID   string
	Source  string
	Cursor  string
	Indexed int
	Skipped int
	Batches int
}

// JobID returns the checkpoint job id for a source's index job.
func JobID(source string) string { return "index:" + source }

// Run indexes source starting at sinceToken (empty means resume from
// the last checkpoint, or the beginning if none). It returns the new
// cursor inside the report; re-running the same range is idempotent.
func (p *Pipeline) Run(ctx context.Context, source, sinceToken string) (Report, error) {
	runID, err := uuid.NewV7()
	if err != nil {
		return Report{}, fmt.Errorf("generate run id: %w", err)
	}
	report := Report{RunID: runID.String(), Source: source}

	// An unacknowledged parked batch gates the whole source: advancing
	// past it would silently widen a known coverage gap.
	parked, err := p.store.UnackedParked(ctx, source)
	if err != nil {
		return report, err
	}
	if parked != nil {
		return report, fmt.Errorf("%w: batch %s (%s..%s): %s",
			ErrBatchParked, parked.ID, parked.CursorFrom, parked.CursorTo, parked.LastError)
	}

	token := sinceToken
	if token == "" {
		saved, ok, err := p.checkpoints.Load(JobID(source), checkpointStage)
		if err != nil {
			return report, err
		}
		if ok {
			token = saved
		}
	}
	cursor, err := archive.ParseCursor(token)
	if err != nil {
		return report, err
	}
	report.Cursor = cursor.String()

	p.logger.Info("index run starting",
		zap.String("run_id", report.RunID),
		zap.String("source", source),
		zap.String("cursor", token))

	it := p.manager.ReadRange(ctx, source, cursor, "")
	defer it.Close()

	batch := make([]search.Document, 0, p.cfg.BatchSize)
	batchFrom := cursor
	var last archive.SegmentPosition

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		next := archive.Cursor{Day: last.Day, Line: last.Line + 1}
		if err := p.commitBatch(ctx, source, batch, batchFrom, next); err != nil {
			return err
		}
		report.Indexed += len(batch)
		report.Batches++
		report.Cursor = next.String()
		batch = batch[:0]
		batchFrom = next
		return nil
	}

	for it.Next() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rec, pos, decErr := it.Record()
		last = pos
		if decErr != nil {
			p.skip(ctx, source, "", pos, decErr.Error())
			report.Skipped++
			continue
		}
		doc, convErr := p.toDocument(rec, pos)
		if convErr != nil {
			p.skip(ctx, source, rec.OriginID, pos, convErr.Error())
			report.Skipped++
			continue
		}
		batch = append(batch, doc)
		if len(batch) >= p.cfg.BatchSize {
			if err := flush(); err != nil {
				return report, err
			}
		}
	}
	if err := it.Err(); err != nil {
		return report, fmt.Errorf("read archive range: %w", err)
	}
	if err := flush(); err != nil {
		return report, err
	}
	// Skipped records after the last committed batch are already
	// audited; move the checkpoint past them so a rerun does not
	// re-audit the same lines.
	if last.Day != "" {
		next := archive.Cursor{Day: last.Day, Line: last.Line + 1}
		if next.String() != report.Cursor {
			if err := p.checkpoints.Save(JobID(source), checkpointStage, next.String()); err != nil {
				return report, fmt.Errorf("save index checkpoint: %w", err)
			}
			report.Cursor = next.String()
		}
	}

	p.publishCompletion(ctx, report)
	p.logger.Info("index run finished",
		zap.String("run_id", report.RunID),
		zap.String("source", source),
		zap.Int("indexed", report.Indexed),
		zap.Int("skipped", report.Skipped),
		zap.String("cursor", report.Cursor))
	return report, nil
}

// commitBatch upserts one batch with bounded retries, then checkpoints.
// On exhausted retries the batch is parked and ErrIndexCommit surfaces.
func (p *Pipeline) commitBatch(ctx context.Context, source string, batch []search.Document, from, next archive.Cursor) error {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxCommitAttempts; attempt++ {
		lastErr = p.store.UpsertBatch(ctx, batch)
		if lastErr == nil {
			if err := p.checkpoints.Save(JobID(source), checkpointStage, next.String()); err != nil {
				return fmt.Errorf("save index checkpoint: %w", err)
			}
			telemetry.IndexBatch(source, "committed")
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		telemetry.IndexBatch(source, "retried")
		p.logger.Warn("index batch commit failed",
			zap.String("source", source),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		if attempt < p.cfg.MaxCommitAttempts {
			select {
			case <-time.After(p.cfg.RetryBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	telemetry.IndexBatch(source, "parked")
	id, parkErr := p.store.ParkBatch(ctx, source, from.String(), next.String(),
		p.cfg.MaxCommitAttempts, lastErr.Error())
	if parkErr != nil {
		p.logger.Error("failed to park batch", zap.String("source", source), zap.Error(parkErr))
	} else {
		p.logger.Error("index batch parked pending acknowledgment",
			zap.String("source", source),
			zap.String("batch_id", id),
			zap.String("from", from.String()),
			zap.String("to", next.String()))
	}
	return fmt.Errorf("%w: source %s after %d attempts: %v",
		ErrIndexCommit, source, p.cfg.MaxCommitAttempts, lastErr)
}

// toDocument projects a record into the index schema, rejecting records
// the index cannot key or rank.
func (p *Pipeline) toDocument(rec archive.Record, pos archive.SegmentPosition) (search.Document, error) {
	if strings.TrimSpace(rec.OriginID) == "" {
		return search.Document{}, errors.New("record has no origin_id")
	}
	if rec.Timestamp.IsZero() {
		return search.Document{}, errors.New("record has no timestamp")
	}
	entry, ok := p.manager.Manifest().Get(pos.Source, pos.Day)
	path := pos.Source + "/" + pos.Day
	if ok {
		path = entry.Path
	}
	return search.Document{
		OriginID:    rec.OriginID,
		Source:      rec.Source,
		Type:        rec.Type,
		Timestamp:   rec.Timestamp,
		Content:     rec.Content,
		Metadata:    rec.Metadata,
		SegmentPath: path,
		SegmentLine: pos.Line,
	}, nil
}

// skip audits a record the pipeline could not index. A failure to audit
// is logged but never halts the run.
func (p *Pipeline) skip(ctx context.Context, source, originID string, pos archive.SegmentPosition, reason string) {
	telemetry.RecordSkipped(source)
	p.logger.Warn("skipping unindexable record",
		zap.String("source", source),
		zap.String("origin_id", originID),
		zap.String("day", pos.Day),
		zap.Int("line", pos.Line),
		zap.String("reason", reason))
	path := source + "/" + pos.Day
	if entry, ok := p.manager.Manifest().Get(source, pos.Day); ok {
		path = entry.Path
	}
	if err := p.store.RecordSkip(ctx, source, originID, path, pos.Line, reason); err != nil {
		p.logger.Error("failed to audit skip", zap.Error(err))
	}
}

func (p *Pipeline) publishCompletion(ctx context.Context, report Report) {
	if p.publisher == nil {
		return
	}
	if _, err := p.publisher.Publish(ctx, p.topic, events.Event{
		ID:     report.RunID,
		Type:   events.TypeIndexRunCompleted,
		Source: report.Source,
		At:     time.Now().UTC(),
		Detail: map[string]any{
			"indexed": report.Indexed,
			"skipped": report.Skipped,
			"cursor":  report.Cursor,
		},
	}); err != nil {
		p.logger.Warn("failed to publish index completion", zap.Error(err))
	}
}
