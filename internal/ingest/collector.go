// Package ingest drives external collectors through the resilience
// primitives and into the archive. Collectors themselves live outside
// this module; they only need to satisfy the Collector capability set.
package ingest

import (
	"context"

	"github.com/kestrelworks/lifelog/internal/archive"
)

// Collector is the capability set a source plugin must provide: fetch
// one batch of normalized records and report the resume cursor for the
// next call. An empty next cursor means the collector is caught up.
type Collector interface {
	// Source names the archive source this collector feeds.
	Source() string
	// FetchBatch returns the next batch after cursor. The cursor is
	// opaque to the runner; interpretation belongs to the collector.
	FetchBatch(ctx context.Context, cursor string) (records []archive.Record, next string, err error)
}

// Archiver is the append surface the runner writes through. Satisfied
// by *archive.Writer; narrowed so tests can observe appends.
type Archiver interface {
	Append(source string, rec archive.Record) (archive.SegmentPosition, error)
}
