package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/kestrelworks/lifelog/internal/archive"
)

// FileCollector replays an exported NDJSON file as a collection source,
// for backfilling archives from dumps produced elsewhere. The cursor is
// the zero-based index of the next unread line.
type FileCollector struct {
	source    string
	path      string
	batchSize int
}

// NewFileCollector builds a collector over the NDJSON export at path.
func NewFileCollector(source, path string, batchSize int) *FileCollector {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &FileCollector{source: source, path: path, batchSize: batchSize}
}

// Source implements Collector.
func (c *FileCollector) Source() string { return c.source }

// FetchBatch reads the next batch of lines after cursor. Lines that are
// not valid JSON come back as records that fail validation downstream,
// so the runner's rejection accounting sees them.
func (c *FileCollector) FetchBatch(ctx context.Context, cursor string) ([]archive.Record, string, error) {
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, "", fmt.Errorf("bad file cursor %q", cursor)
		}
		start = n
	}

	f, err := os.Open(c.path)
	if err != nil {
		return nil, "", fmt.Errorf("open export %s: %w", c.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		records []archive.Record
		line    int
	)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		if line < start {
			line++
			continue
		}
		var rec archive.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			// An empty record fails validation at append time and is
			// counted as rejected rather than aborting the backfill.
			rec = archive.Record{Source: c.source}
		}
		records = append(records, rec)
		line++
		if len(records) >= c.batchSize {
			return records, strconv.Itoa(line), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, "", fmt.Errorf("read export %s: %w", c.path, err)
	}
	return records, "", nil
}
