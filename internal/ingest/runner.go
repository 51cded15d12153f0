package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kestrelworks/lifelog/internal/archive"
	"github.com/kestrelworks/lifelog/internal/checkpoint"
	"github.com/kestrelworks/lifelog/internal/policy/breaker"
	"github.com/kestrelworks/lifelog/internal/policy/ratelimit"
)

const checkpointStage = "collect"

// Runner executes collection jobs: every upstream call goes through the
// rate limiter and the circuit breaker, every committed batch advances
// a durable checkpoint, and a restart resumes from the last cursor
// instead of the beginning.
type Runner struct {
	archiver    Archiver
	limiter     *ratelimit.Limiter
	breakers    *breaker.Group
	checkpoints *checkpoint.Store
	logger      *zap.Logger
}

// NewRunner wires a Runner.
func NewRunner(
	archiver Archiver,
	limiter *ratelimit.Limiter,
	breakers *breaker.Group,
	checkpoints *checkpoint.Store,
	logger *zap.Logger,
) *Runner {
	return &Runner{
		archiver:    archiver,
		limiter:     limiter,
		breakers:    breakers,
		checkpoints: checkpoints,
		logger:      logger,
	}
}

// Report summarizes one collection run.
type Report struct {
	Source   string
	Appended int
	Rejected int
	Batches  int
}

// JobID returns the checkpoint job id for a source's collection job.
func JobID(source string) string { return "collect:" + source }

// Run drains c until it reports no further cursor, then clears the
// job's checkpoint. Interruptions (circuit open, cancellation) leave
// the checkpoint at the last committed batch, so the next run resumes
// there.
func (r *Runner) Run(ctx context.Context, c Collector) (Report, error) {
	source := c.Source()
	report := Report{Source: source}

	cursor, _, err := r.checkpoints.Load(JobID(source), checkpointStage)
	if err != nil {
		return report, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := r.limiter.Acquire(ctx, source); err != nil {
			return report, err
		}

		var (
			records []archive.Record
			next    string
		)
		err := r.breakers.Do(ctx, source, func(ctx context.Context) error {
			var fetchErr error
			records, next, fetchErr = c.FetchBatch(ctx, cursor)
			return fetchErr
		})
		if err != nil {
			if errors.Is(err, breaker.ErrCircuitOpen) || errors.Is(err, breaker.ErrCircuitProbing) {
				r.logger.Warn("collection paused by circuit breaker",
					zap.String("source", source), zap.Error(err))
			}
			return report, err
		}

		for _, rec := range records {
			if _, err := r.archiver.Append(source, rec); err != nil {
				if errors.Is(err, archive.ErrInvalidRecord) {
					// Bad input is the collector's problem; audit and move on.
					report.Rejected++
					r.logger.Warn("rejected invalid record",
						zap.String("source", source),
						zap.String("origin_id", rec.OriginID),
						zap.Error(err))
					continue
				}
				return report, fmt.Errorf("append record %s: %w", rec.OriginID, err)
			}
			report.Appended++
		}
		report.Batches++

		// The batch is durable; only now may the cursor advance.
		if next == "" {
			if err := r.checkpoints.Clear(JobID(source)); err != nil {
				return report, err
			}
			r.logger.Info("collection caught up",
				zap.String("source", source),
				zap.Int("appended", report.Appended),
				zap.Int("rejected", report.Rejected))
			return report, nil
		}
		if err := r.checkpoints.Save(JobID(source), checkpointStage, next); err != nil {
			return report, err
		}
		cursor = next
	}
}

// RunAll fans collectors out to concurrent runs and blocks until all
// finish. Per-collector failures are logged and reported; one broken
// source never stops the others.
func (r *Runner) RunAll(ctx context.Context, collectors ...Collector) map[string]Report {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		reports = make(map[string]Report, len(collectors))
	)
	for _, c := range collectors {
		wg.Add(1)
		go func(c Collector) {
			defer wg.Done()
			report, err := r.Run(ctx, c)
			if err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("collection run failed",
					zap.String("source", c.Source()), zap.Error(err))
			}
			mu.Lock()
			reports[c.Source()] = report
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return reports
}
