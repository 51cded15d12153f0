package archive

import (
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/kestrelworks/lifelog/internal/clock"
	"github.com/kestrelworks/lifelog/internal/telemetry"
)

// Writer is the durability primitive: it appends validated records to
// per-(source, day) hot segments and keeps the manifest in step with
// every committed write. Callers for the same segment serialize through
// a lock scoped to that segment; different sources and days never
// contend.
type Writer struct {
	baseDir  string
	manifest *Manifest
	clock    clock.Clock
	logger   *zap.Logger

	mu    sync.Mutex
	open  map[string]*segment
	locks map[string]*sync.Mutex
}

// NewWriter builds a Writer rooted at baseDir.
func NewWriter(baseDir string, manifest *Manifest, clk clock.Clock, logger *zap.Logger) *Writer {
	return &Writer{
		baseDir:  baseDir,
		manifest: manifest,
		clock:    clk,
		logger:   logger,
		open:     make(map[string]*segment),
		locks:    make(map[string]*sync.Mutex),
	}
}

// SegmentPath returns the hot segment path for (source, day).
func (w *Writer) SegmentPath(source, day string) string {
	return filepath.Join(w.baseDir, source, day+".ndjson")
}

// segmentLock returns the per-(source, day) mutex, creating it lazily.
func (w *Writer) segmentLock(key string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.locks[key]
	if !ok {
		l = &sync.Mutex{}
		w.locks[key] = l
	}
	return l
}

// Append validates rec, writes it to the day's segment and updates the
// manifest entry. The record's own UTC timestamp picks the day. Source
// mismatches between the submitting collector and the record payload
// are rejected rather than silently rerouted.
func (w *Writer) Append(source string, rec Record) (SegmentPosition, error) {
	if rec.Source == "" {
		rec.Source = source
	}
	if err := rec.Validate(); err != nil {
		return SegmentPosition{}, err
	}
	if rec.Source != source {
		return SegmentPosition{}, fmt.Errorf("%w: record source %q does not match submission source %q",
			ErrInvalidRecord, rec.Source, source)
	}

	day := rec.Day()
	key := entryKey(source, day)
	lock := w.segmentLock(key)
	lock.Lock()
	defer lock.Unlock()

	if entry, ok := w.manifest.Get(source, day); ok && entry.Sealed {
		return SegmentPosition{}, fmt.Errorf("%s/%s: %w", source, day, ErrSegmentSealed)
	}

	seg, err := w.segment(key, source, day)
	if err != nil {
		return SegmentPosition{}, err
	}

	line, err := rec.encode()
	if err != nil {
		return SegmentPosition{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	offset, index, err := seg.append(line)
	if err != nil {
		return SegmentPosition{}, err
	}

	// Data is durable; only now may the manifest claim the record.
	if err := w.manifest.Update(source, day, func(e *ManifestEntry) {
		e.Path = seg.path
		e.RecordCount = seg.lines
		e.ByteSize = seg.size
		e.Checksum = seg.checksum()
		e.CompressionState = StateHot
		e.LastWrittenAt = w.clock.Now()
	}); err != nil {
		return SegmentPosition{}, fmt.Errorf("update manifest after append: %w", err)
	}

	telemetry.RecordAppended(source)
	w.logger.Debug("record appended",
		zap.String("source", source),
		zap.String("day", day),
		zap.String("origin_id", rec.OriginID),
		zap.Int("line", index))
	return SegmentPosition{Source: source, Day: day, Line: index, Offset: offset}, nil
}

// segment returns the open segment for key, opening it on first use.
// Caller must hold the per-segment lock.
func (w *Writer) segment(key, source, day string) (*segment, error) {
	w.mu.Lock()
	seg, ok := w.open[key]
	w.mu.Unlock()
	if ok {
		return seg, nil
	}
	seg, err := openSegment(w.SegmentPath(source, day))
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.open[key] = seg
	w.mu.Unlock()
	return seg, nil
}

// Seal closes the open handle for (source, day) and marks the manifest
// entry sealed. Sealing is idempotent; sealing an unknown segment is
// ErrSegmentNotFound.
func (w *Writer) Seal(source, day string) error {
	key := entryKey(source, day)
	lock := w.segmentLock(key)
	lock.Lock()
	defer lock.Unlock()

	entry, ok := w.manifest.Get(source, day)
	if !ok {
		return fmt.Errorf("%s/%s: %w", source, day, ErrSegmentNotFound)
	}
	if entry.Sealed {
		return nil
	}

	w.mu.Lock()
	seg, open := w.open[key]
	delete(w.open, key)
	w.mu.Unlock()
	if open {
		if err := seg.Close(); err != nil {
			return err
		}
	}
	if err := w.manifest.Update(source, day, func(e *ManifestEntry) {
		e.Sealed = true
	}); err != nil {
		return fmt.Errorf("seal %s/%s: %w", source, day, err)
	}
	telemetry.SegmentSealed(source)
	w.logger.Info("segment sealed", zap.String("source", source), zap.String("day", day))
	return nil
}

// Close releases every open segment handle.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var firstErr error
	for key, seg := range w.open {
		if err := seg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(w.open, key)
	}
	return firstErr
}
