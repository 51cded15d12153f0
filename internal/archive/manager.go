package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kestrelworks/lifelog/internal/clock"
	"github.com/kestrelworks/lifelog/internal/events"
	"github.com/kestrelworks/lifelog/internal/hash/sha256"
	"github.com/kestrelworks/lifelog/internal/storage"
	"github.com/kestrelworks/lifelog/internal/telemetry"
)

// Manager owns segment lifecycle on top of the Writer: sealing,
// hot→compressed→cold tiering, rotation into long-term storage, and
// range reads. It never deletes record data; every transition verifies
// before it retires the previous copy.
type Manager struct {
	writer   *Writer
	manifest *Manifest
	blobs    storage.Provider
	events   events.Publisher
	topic    string
	clock    clock.Clock
	logger   *zap.Logger
}

// NewManager wires a Manager over an existing Writer and manifest.
func NewManager(
	writer *Writer,
	manifest *Manifest,
	blobs storage.Provider,
	publisher events.Publisher,
	topic string,
	clk clock.Clock,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		writer:   writer,
		manifest: manifest,
		blobs:    blobs,
		events:   publisher,
		topic:    topic,
		clock:    clk,
		logger:   logger,
	}
}

// Manifest exposes the authoritative segment index.
func (m *Manager) Manifest() *Manifest { return m.manifest }

// SealDay marks the segment for (source, day) immutable. Idempotent.
func (m *Manager) SealDay(ctx context.Context, source, day string) error {
	entry, ok := m.manifest.Get(source, day)
	if !ok {
		return fmt.Errorf("%s/%s: %w", source, day, ErrSegmentNotFound)
	}
	if entry.Sealed {
		return nil
	}
	if err := m.writer.Seal(source, day); err != nil {
		return err
	}
	m.publish(ctx, events.TypeSegmentSealed, source, day, nil)
	return nil
}

// Compress turns a sealed hot segment into a gzip-compressed one. The
// hot copy is verified against the manifest first, the compressed
// artifact is verified byte-for-byte after writing, and only then is
// the hot copy retired. A mismatch fails with ErrArchiveIntegrity and
// leaves the hot copy untouched.
func (m *Manager) Compress(ctx context.Context, source, day string) error {
	entry, ok := m.manifest.Get(source, day)
	if !ok {
		return fmt.Errorf("%s/%s: %w", source, day, ErrSegmentNotFound)
	}
	switch entry.CompressionState {
	case StateCompressed, StateCold:
		return nil
	}
	if !entry.Sealed {
		return fmt.Errorf("compress %s/%s: segment not sealed", source, day)
	}

	raw, err := os.ReadFile(entry.Path)
	if err != nil {
		return fmt.Errorf("%w: %s/%s at %s: %v", ErrArchiveUnreadable, source, day, entry.Path, err)
	}
	if err := m.checkIntegrity(entry, raw); err != nil {
		return err
	}

	gzPath := entry.Path + ".gz"
	tmpPath := gzPath + ".tmp"
	if err := writeGzip(tmpPath, raw); err != nil {
		return err
	}
	// Verify the artifact round-trips before anything is retired.
	back, err := readGzipFile(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("verify compressed artifact: %w", err)
	}
	if !bytes.Equal(back, raw) {
		os.Remove(tmpPath)
		return &IntegrityError{
			Source: source, Day: day, Path: tmpPath,
			WantRecords: entry.RecordCount,
			GotRecords:  countLines(back),
			Reason:      "compressed artifact does not round-trip",
		}
	}
	if err := os.Rename(tmpPath, gzPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("finalize compressed segment: %w", err)
	}

	hotPath := entry.Path
	if err := m.manifest.Update(source, day, func(e *ManifestEntry) {
		e.Path = gzPath
		e.CompressionState = StateCompressed
	}); err != nil {
		return fmt.Errorf("update manifest after compress: %w", err)
	}
	// The manifest now points at the verified artifact; the hot copy is
	// redundant and may be retired.
	if err := os.Remove(hotPath); err != nil {
		m.logger.Warn("failed to retire hot segment", zap.String("path", hotPath), zap.Error(err))
	}

	telemetry.SegmentCompressed(source)
	m.publish(ctx, events.TypeSegmentCompressed, source, day, map[string]any{"path": gzPath})
	m.logger.Info("segment compressed", zap.String("source", source), zap.String("day", day))
	return nil
}

// CompressOlderThan seals and compresses every hot segment of source
// whose day ended at least olderThanDays ago. Returns how many
// segments were compressed.
func (m *Manager) CompressOlderThan(ctx context.Context, source string, olderThanDays int) (int, error) {
	cutoff := m.clock.Now().UTC().AddDate(0, 0, -olderThanDays).Format(DayFormat)
	compressed := 0
	for _, entry := range m.manifest.Entries(source) {
		if entry.CompressionState != StateHot || entry.Day >= cutoff {
			continue
		}
		if !entry.Sealed {
			if err := m.SealDay(ctx, entry.Source, entry.Day); err != nil {
				return compressed, err
			}
		}
		if err := m.Compress(ctx, entry.Source, entry.Day); err != nil {
			return compressed, err
		}
		compressed++
	}
	return compressed, nil
}

// Rotate relocates a compressed segment into long-term storage. The
// segment must already be compressed; rotation never deletes record
// data, it only re-tiers it. Idempotent for already-cold segments.
func (m *Manager) Rotate(ctx context.Context, source, day string) error {
	entry, ok := m.manifest.Get(source, day)
	if !ok {
		return fmt.Errorf("%s/%s: %w", source, day, ErrSegmentNotFound)
	}
	switch entry.CompressionState {
	case StateCold:
		return nil
	case StateHot:
		return fmt.Errorf("rotate %s/%s: segment must be compressed first", source, day)
	}

	data, err := os.ReadFile(entry.Path)
	if err != nil {
		return fmt.Errorf("%w: %s/%s at %s: %v", ErrArchiveUnreadable, source, day, entry.Path, err)
	}
	key := rotateKey(source, day)
	uri, err := m.blobs.PutObject(ctx, key, data)
	if err != nil {
		return fmt.Errorf("rotate %s/%s: %w", source, day, err)
	}

	localPath := entry.Path
	if err := m.manifest.Update(source, day, func(e *ManifestEntry) {
		e.Path = uri
		e.CompressionState = StateCold
	}); err != nil {
		return fmt.Errorf("update manifest after rotate: %w", err)
	}
	if err := os.Remove(localPath); err != nil {
		m.logger.Warn("failed to remove relocated segment", zap.String("path", localPath), zap.Error(err))
	}

	telemetry.SegmentRotated(source)
	m.publish(ctx, events.TypeSegmentRotated, source, day, map[string]any{"uri": uri})
	m.logger.Info("segment rotated", zap.String("source", source), zap.String("day", day), zap.String("uri", uri))
	return nil
}

// RotateOlderThan rotates every compressed segment of source whose day
// ended at least retentionDays ago. Hot segments in range are reported
// and skipped: compression always precedes rotation.
func (m *Manager) RotateOlderThan(ctx context.Context, source string, retentionDays int) (rotated, skippedHot int, err error) {
	cutoff := m.clock.Now().UTC().AddDate(0, 0, -retentionDays).Format(DayFormat)
	for _, entry := range m.manifest.Entries(source) {
		if entry.Day >= cutoff || entry.CompressionState == StateCold {
			continue
		}
		if entry.CompressionState == StateHot {
			m.logger.Warn("segment eligible for rotation but not compressed; skipping",
				zap.String("source", entry.Source), zap.String("day", entry.Day))
			skippedHot++
			continue
		}
		if err := m.Rotate(ctx, entry.Source, entry.Day); err != nil {
			return rotated, skippedHot, err
		}
		rotated++
	}
	return rotated, skippedHot, nil
}

// Verify recounts and re-hashes the segment content and compares it
// against the manifest entry. A mismatch is ErrArchiveIntegrity.
func (m *Manager) Verify(ctx context.Context, source, day string) (ManifestEntry, error) {
	entry, ok := m.manifest.Get(source, day)
	if !ok {
		return ManifestEntry{}, fmt.Errorf("%s/%s: %w", source, day, ErrSegmentNotFound)
	}
	raw, err := m.segmentContent(ctx, entry)
	if err != nil {
		return entry, err
	}
	if err := m.checkIntegrity(entry, raw); err != nil {
		return entry, err
	}
	return entry, nil
}

// checkIntegrity compares raw uncompressed segment bytes against the
// manifest claim.
func (m *Manager) checkIntegrity(entry ManifestEntry, raw []byte) error {
	if got := countLines(raw); got != entry.RecordCount {
		return &IntegrityError{
			Source: entry.Source, Day: entry.Day, Path: entry.Path,
			WantRecords: entry.RecordCount, GotRecords: got,
			Reason: "record count mismatch",
		}
	}
	if got := sha256.SumHex(raw); got != entry.Checksum {
		return &IntegrityError{
			Source: entry.Source, Day: entry.Day, Path: entry.Path,
			WantRecords: entry.RecordCount, GotRecords: entry.RecordCount,
			Reason: "checksum mismatch",
		}
	}
	return nil
}

// segmentContent returns the uncompressed bytes of a segment,
// fetching and decompressing cold tiers on demand.
func (m *Manager) segmentContent(ctx context.Context, entry ManifestEntry) ([]byte, error) {
	switch entry.CompressionState {
	case StateHot:
		data, err := os.ReadFile(entry.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s/%s at %s: %v", ErrArchiveUnreadable, entry.Source, entry.Day, entry.Path, err)
		}
		return data, nil
	case StateCompressed:
		raw, err := readGzipFile(entry.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s/%s: %v", ErrArchiveUnreadable, entry.Source, entry.Day, err)
		}
		return raw, nil
	case StateCold:
		blob, err := m.blobs.GetObject(ctx, rotateKey(entry.Source, entry.Day))
		if err != nil {
			return nil, fmt.Errorf("%w: cold %s/%s: %v", ErrArchiveUnreadable, entry.Source, entry.Day, err)
		}
		raw, err := gunzip(blob)
		if err != nil {
			return nil, fmt.Errorf("%w: cold %s/%s: %v", ErrArchiveUnreadable, entry.Source, entry.Day, err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("segment %s/%s: unknown compression state %q",
			entry.Source, entry.Day, entry.CompressionState)
	}
}

func (m *Manager) publish(ctx context.Context, eventType, source, day string, detail map[string]any) {
	if m.events == nil {
		return
	}
	id, err := uuid.NewV7()
	if err != nil {
		m.logger.Warn("failed to generate event id", zap.Error(err))
		return
	}
	if _, err := m.events.Publish(ctx, m.topic, events.Event{
		ID:     id.String(),
		Type:   eventType,
		Source: source,
		Day:    day,
		At:     m.clock.Now(),
		Detail: detail,
	}); err != nil {
		m.logger.Warn("failed to publish lifecycle event",
			zap.String("type", eventType), zap.Error(err))
	}
}

func rotateKey(source, day string) string {
	return fmt.Sprintf("archive/%s/%s.ndjson.gz", source, day)
}

func countLines(data []byte) int {
	return bytes.Count(data, []byte{'\n'})
}

func writeGzip(path string, raw []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("create compressed temp %s: %w", path, err)
	}
	gz := gzip.NewWriter(f)
	gz.ModTime = time.Unix(0, 0) // deterministic artifact bytes
	if _, err := gz.Write(raw); err != nil {
		gz.Close()
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write compressed temp %s: %w", path, err)
	}
	if err := gz.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("finish compressed temp %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("sync compressed temp %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close compressed temp %s: %w", path, err)
	}
	return nil
}

func readGzipFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compressed segment %s: %w", path, err)
	}
	return gunzip(data)
}

func gunzip(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()
	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("decompress segment: %w", err)
	}
	return raw, nil
}
