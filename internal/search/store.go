// Package search implements the embedded full-text index over archived
// records. The index is a derived, rebuildable projection: the archive,
// not the index, is the durability source of truth, and the whole store
// may be dropped and rebuilt at any time.
package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Document is the index projection of one archived record, keyed by
// origin id so replays upsert instead of duplicating.
type Document struct {
	OriginID    string
	Source      string
	Type        string
	Timestamp   time.Time
	Content     string
	Metadata    map[string]any
	SegmentPath string
	SegmentLine int
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	origin_id    TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	record_type  TEXT NOT NULL,
	ts           INTEGER NOT NULL,
	content      TEXT NOT NULL,
	metadata     TEXT,
	segment_path TEXT NOT NULL,
	segment_line INTEGER NOT NULL,
	indexed_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_source_ts ON documents(source, ts);

CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
	content,
	content='documents',
	content_rowid='rowid',
	tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
	INSERT INTO documents_fts(rowid, content) VALUES (new.rowid, new.content);
END;
CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
	INSERT INTO documents_fts(documents_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
END;
CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE ON documents BEGIN
	INSERT INTO documents_fts(documents_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
	INSERT INTO documents_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TABLE IF NOT EXISTS index_skips (
	id           TEXT PRIMARY KEY,
	origin_id    TEXT,
	source       TEXT NOT NULL,
	segment_path TEXT,
	segment_line INTEGER,
	reason       TEXT NOT NULL,
	skipped_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS parked_batches (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	cursor_from TEXT NOT NULL,
	cursor_to   TEXT NOT NULL,
	attempts    INTEGER NOT NULL,
	last_error  TEXT NOT NULL,
	parked_at   INTEGER NOT NULL,
	acked       INTEGER NOT NULL DEFAULT 0
);
`

// Store is the sqlite-backed search store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the search store at path with the
// production pragmas: WAL journaling, a busy timeout and NORMAL
// synchronous. Use ":memory:" for tests.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open search store: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply search schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// UpsertBatch writes one batch of documents in a single transaction.
// Either the whole batch commits or none of it does; replaying the same
// batch overwrites, never duplicates.
func (s *Store) UpsertBatch(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents
			(origin_id, source, record_type, ts, content, metadata, segment_path, segment_line, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(origin_id) DO UPDATE SET
			source = excluded.source,
			record_type = excluded.record_type,
			ts = excluded.ts,
			content = excluded.content,
			metadata = excluded.metadata,
			segment_path = excluded.segment_path,
			segment_line = excluded.segment_line,
			indexed_at = excluded.indexed_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().UnixMilli()
	for _, doc := range docs {
		var metadata any
		if doc.Metadata != nil {
			raw, err := json.Marshal(doc.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata for %s: %w", doc.OriginID, err)
			}
			metadata = string(raw)
		}
		if _, err := stmt.ExecContext(ctx,
			doc.OriginID, doc.Source, doc.Type, doc.Timestamp.UTC().UnixMilli(),
			doc.Content, metadata, doc.SegmentPath, doc.SegmentLine, now,
		); err != nil {
			return fmt.Errorf("upsert document %s: %w", doc.OriginID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index batch: %w", err)
	}
	return nil
}

// Count returns the number of indexed documents, optionally filtered by
// source.
func (s *Store) Count(ctx context.Context, source string) (int, error) {
	query := `SELECT COUNT(*) FROM documents`
	args := []any{}
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// RecordSkip audits one record the pipeline could not index, so
// operators can account for coverage gaps.
func (s *Store) RecordSkip(ctx context.Context, source, originID, segmentPath string, segmentLine int, reason string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate skip id: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO index_skips (id, origin_id, source, segment_path, segment_line, reason, skipped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id.String(), originID, source, segmentPath, segmentLine, reason, time.Now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("record skip: %w", err)
	}
	return nil
}

// Skip is one audited coverage gap.
type Skip struct {
	ID          string
	OriginID    string
	Source      string
	SegmentPath string
	SegmentLine int
	Reason      string
}

// Skips lists audited skips for source, newest first.
func (s *Store) Skips(ctx context.Context, source string, limit int) ([]Skip, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(origin_id, ''), source, COALESCE(segment_path, ''), COALESCE(segment_line, 0), reason
		FROM index_skips WHERE source = ? ORDER BY skipped_at DESC LIMIT ?`, source, limit)
	if err != nil {
		return nil, fmt.Errorf("list skips: %w", err)
	}
	defer rows.Close()
	var out []Skip
	for rows.Next() {
		var sk Skip
		if err := rows.Scan(&sk.ID, &sk.OriginID, &sk.Source, &sk.SegmentPath, &sk.SegmentLine, &sk.Reason); err != nil {
			return nil, fmt.Errorf("scan skip: %w", err)
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}

// ParkedBatch is an index batch that exhausted its commit retries and
// now blocks the pipeline until an operator acknowledges it.
type ParkedBatch struct {
	ID         string
	Source     string
	CursorFrom string
	CursorTo   string
	Attempts   int
	LastError  string
}

// ParkBatch records a failed batch for operator review.
func (s *Store) ParkBatch(ctx context.Context, source, cursorFrom, cursorTo string, attempts int, lastError string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate park id: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO parked_batches (id, source, cursor_from, cursor_to, attempts, last_error, parked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id.String(), source, cursorFrom, cursorTo, attempts, lastError, time.Now().UTC().UnixMilli(),
	); err != nil {
		return "", fmt.Errorf("park batch: %w", err)
	}
	return id.String(), nil
}

// UnackedParked returns the oldest unacknowledged parked batch for
// source, if any.
func (s *Store) UnackedParked(ctx context.Context, source string) (*ParkedBatch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, cursor_from, cursor_to, attempts, last_error
		FROM parked_batches WHERE source = ? AND acked = 0
		ORDER BY parked_at ASC LIMIT 1`, source)
	var pb ParkedBatch
	if err := row.Scan(&pb.ID, &pb.Source, &pb.CursorFrom, &pb.CursorTo, &pb.Attempts, &pb.LastError); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load parked batch: %w", err)
	}
	return &pb, nil
}

// AckParked acknowledges every unacked parked batch for source,
// letting the pipeline advance past them.
func (s *Store) AckParked(ctx context.Context, source string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE parked_batches SET acked = 1 WHERE source = ? AND acked = 0`, source)
	if err != nil {
		return 0, fmt.Errorf("ack parked batches: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ack parked batches: %w", err)
	}
	return int(n), nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close search store: %w", err)
	}
	return nil
}
