package archive

import (
	"bytes"
	"context"
)

// ReadRange returns a lazy iterator over records for source, ordered by
// (day, line) ascending, starting at from and ending at toDay inclusive
// (empty toDay means no upper bound). Cold segments are fetched and
// decompressed one day at a time; the whole range is never materialized.
func (m *Manager) ReadRange(ctx context.Context, source string, from Cursor, toDay string) *Iterator {
	var entries []ManifestEntry
	for _, e := range m.manifest.Entries(source) {
		if from.Day != "" && e.Day < from.Day {
			continue
		}
		if toDay != "" && e.Day > toDay {
			continue
		}
		entries = append(entries, e)
	}
	return &Iterator{
		ctx:     ctx,
		mgr:     m,
		entries: entries,
		from:    from,
	}
}

// Iterator streams records one segment at a time. Usage:
//
//	it := mgr.ReadRange(ctx, "chat", cursor, "")
//	for it.Next() {
//		rec, pos, err := it.Record()
//		...
//	}
//	if err := it.Err(); err != nil { ... }
//
// Decode failures are per-record: Next keeps advancing so callers can
// isolate malformed lines without losing the rest of the range.
type Iterator struct {
	ctx     context.Context
	mgr     *Manager
	entries []ManifestEntry
	from    Cursor

	segIdx  int
	lines   [][]byte
	lineIdx int
	day     string
	started bool
	err     error
	current []byte
	pos     SegmentPosition
}

// Next advances to the next record line. It returns false at the end of
// the range or on a fatal (segment-level) error.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	for {
		if it.started && it.lineIdx < len(it.lines) {
			it.current = it.lines[it.lineIdx]
			it.pos = SegmentPosition{
				Source: it.entries[it.segIdx-1].Source,
				Day:    it.day,
				Line:   it.lineIdx,
			}
			it.lineIdx++
			return true
		}
		if it.segIdx >= len(it.entries) {
			return false
		}
		entry := it.entries[it.segIdx]
		it.segIdx++
		raw, err := it.mgr.segmentContent(it.ctx, entry)
		if err != nil {
			it.err = err
			return false
		}
		it.lines = splitLines(raw)
		it.day = entry.Day
		it.lineIdx = 0
		if it.from.Day == entry.Day {
			it.lineIdx = it.from.Line
		}
		it.started = true
	}
}

// Record decodes the current line. A non-nil error here is scoped to
// this record only; iteration may continue.
func (it *Iterator) Record() (Record, SegmentPosition, error) {
	rec, err := decodeRecord(it.current)
	return rec, it.pos, err
}

// Err reports the first fatal error encountered, if any.
func (it *Iterator) Err() error { return it.err }

// Close releases iterator state. Present for symmetry with other
// stream readers; safe to skip.
func (it *Iterator) Close() error {
	it.lines = nil
	return nil
}

func splitLines(raw []byte) [][]byte {
	var lines [][]byte
	for len(raw) > 0 {
		i := bytes.IndexByte(raw, '\n')
		if i < 0 {
			// A trailing partial line is an uncommitted write; skip it.
			break
		}
		lines = append(lines, raw[:i])
		raw = raw[i+1:]
	}
	return lines
}
