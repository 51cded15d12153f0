// Package events publishes archive lifecycle notifications so external
// consumers (briefing generators, dashboards) can react without polling
// the manifest.
package events

import (
	"context"
	"time"
)

// Event types emitted by the archive and indexing pipeline.
const (
	TypeSegmentSealed     = "segment.sealed"
	TypeSegmentCompressed = "segment.compressed"
	TypeSegmentRotated    = "segment.rotated"
	TypeIndexRunCompleted = "index.run_completed"
)

// Event is one lifecycle notification.
type Event struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Source string         `json:"source"`
	Day    string         `json:"day,omitempty"`
	At     time.Time      `json:"at"`
	Detail map[string]any `json:"detail,omitempty"`
}

// Publisher delivers lifecycle events to a topic. Publishing is
// best-effort: archive durability never depends on it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event Event) (string, error)
	Close() error
}
