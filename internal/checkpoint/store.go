// Package checkpoint persists resumable progress markers for
// long-running collection and indexing jobs. Cursors are opaque here;
// interpretation belongs to the caller.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Checkpoint is one durable progress marker.
type Checkpoint struct {
	JobID     string    `json:"job_id"`
	Stage     string    `json:"stage"`
	Cursor    string    `json:"cursor"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps one JSON file per (job, stage) under a directory, written
// with the same temp-file-then-rename discipline as the archive, so a
// crash between writes yields at worst the previous valid checkpoint.
type Store struct {
	dir string
}

// NewStore creates the checkpoint directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save atomically persists the cursor for (jobID, stage).
func (s *Store) Save(jobID, stage, cursor string) error {
	cp := Checkpoint{
		JobID:     jobID,
		Stage:     stage,
		Cursor:    cursor,
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	path := s.path(jobID, stage)
	tmp, err := os.CreateTemp(s.dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create checkpoint temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync checkpoint temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close checkpoint temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// Load returns the persisted cursor for (jobID, stage). The second
// return is false when no checkpoint exists.
func (s *Store) Load(jobID, stage string) (string, bool, error) {
	data, err := os.ReadFile(s.path(jobID, stage))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return "", false, fmt.Errorf("parse checkpoint %s/%s: %w", jobID, stage, err)
	}
	return cp.Cursor, true, nil
}

// Clear removes every stage checkpoint for jobID. Used on terminal
// success of a bounded job.
func (s *Store) Clear(jobID string) error {
	prefix := sanitize(jobID) + "__"
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("list checkpoint dir: %w", err)
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			return fmt.Errorf("remove checkpoint %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (s *Store) path(jobID, stage string) string {
	return filepath.Join(s.dir, sanitize(jobID)+"__"+sanitize(stage)+".json")
}

// sanitize maps job ids onto safe file name components.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '.' || r == '_':
			return r
		default:
			return '-'
		}
	}, name)
}
