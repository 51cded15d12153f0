package events

import "context"

// NoopPublisher discards every event. Used when no event transport is
// configured.
type NoopPublisher struct{}

// Publish discards the event and returns a constant id.
func (NoopPublisher) Publish(_ context.Context, _ string, _ Event) (string, error) {
	return "noop", nil
}

// Close does nothing.
func (NoopPublisher) Close() error { return nil }
