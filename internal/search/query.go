package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Query is one search request. Text supports FTS5 syntax: bare terms,
// "quoted phrases" and AND/OR/NOT combinations. Zero-valued filters are
// ignored.
type Query struct {
	Text   string
	Source string
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// Result is one ranked hit. Every result carries the origin id plus
// the segment path and line so callers can trace back to the exact
// archived record; the index is an accelerator, never the attribution
// source.
type Result struct {
	OriginID    string         `json:"origin_id"`
	Source      string         `json:"source"`
	Type        string         `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	SegmentPath string         `json:"segment_path"`
	SegmentLine int            `json:"segment_line"`
	Rank        float64        `json:"rank"`
}

// Search executes a ranked full-text query with metadata filters.
func (s *Store) Search(ctx context.Context, q Query) ([]Result, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, fmt.Errorf("empty search query")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT d.origin_id, d.source, d.record_type, d.ts, d.content, d.metadata,
		       d.segment_path, d.segment_line, rank
		FROM documents_fts f
		JOIN documents d ON d.rowid = f.rowid
		WHERE documents_fts MATCH ?`)
	args := []any{text}
	if q.Source != "" {
		sb.WriteString(` AND d.source = ?`)
		args = append(args, q.Source)
	}
	if !q.From.IsZero() {
		sb.WriteString(` AND d.ts >= ?`)
		args = append(args, q.From.UTC().UnixMilli())
	}
	if !q.To.IsZero() {
		sb.WriteString(` AND d.ts <= ?`)
		args = append(args, q.To.UTC().UnixMilli())
	}
	sb.WriteString(` ORDER BY rank LIMIT ? OFFSET ?`)
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", text, err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r        Result
			tsMillis int64
			metadata *string
		)
		if err := rows.Scan(&r.OriginID, &r.Source, &r.Type, &tsMillis, &r.Content, &metadata,
			&r.SegmentPath, &r.SegmentLine, &r.Rank); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		r.Timestamp = time.UnixMilli(tsMillis).UTC()
		if metadata != nil && *metadata != "" {
			if err := json.Unmarshal([]byte(*metadata), &r.Metadata); err != nil {
				// A malformed metadata blob should not hide the hit.
				s.logger.Warn("unparseable metadata in index",
					zap.String("origin_id", r.OriginID), zap.Error(err))
			}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search %q: %w", text, err)
	}
	return results, nil
}
