package events

import (
	"context"
	"strconv"
	"sync"
)

// MemoryPublisher records events in-memory for tests and local runs.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryPublisher creates an empty in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish appends the event and returns its sequence number.
func (p *MemoryPublisher) Publish(_ context.Context, _ string, event Event) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return strconv.Itoa(len(p.events)), nil
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// Close does nothing.
func (p *MemoryPublisher) Close() error { return nil }
