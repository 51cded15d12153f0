// Package archive implements the append-only segment store: durable
// per-(source, day) NDJSON log files, the manifest that describes them,
// and the lifecycle operations (seal, compress, rotate, read) on top.
package archive

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DayFormat is the calendar-day key used for segment naming and cursors.
const DayFormat = "2006-01-02"

// Record is one immutable ingested fact. Once appended it is never
// mutated or deleted; corrections arrive as new records referencing
// OriginID.
type Record struct {
	Source    string         `json:"source"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	OriginID  string         `json:"origin_id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Validate checks the append preconditions: a non-empty source and
// origin id and a usable timestamp. It does not inspect content.
func (r Record) Validate() error {
	if strings.TrimSpace(r.Source) == "" {
		return fmt.Errorf("%w: empty source", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.OriginID) == "" {
		return fmt.Errorf("%w: empty origin_id", ErrInvalidRecord)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrInvalidRecord)
	}
	return nil
}

// Day returns the UTC calendar day this record belongs to.
func (r Record) Day() string {
	return r.Timestamp.UTC().Format(DayFormat)
}

// encode serializes the record as a single NDJSON line, timestamp
// normalized to UTC so segment contents are byte-stable regardless of
// the producer's zone.
func (r Record) encode() ([]byte, error) {
	r.Timestamp = r.Timestamp.UTC()
	line, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", r.OriginID, err)
	}
	return append(line, '\n'), nil
}

// decodeRecord parses one segment line back into a Record.
func decodeRecord(line []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// SegmentPosition identifies where an appended record landed. Line is
// the zero-based line index inside the segment, Offset the byte offset
// of the line start.
type SegmentPosition struct {
	Source string
	Day    string
	Line   int
	Offset int64
}
