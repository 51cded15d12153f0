// Package storage defines the long-term blob tier that rotation moves
// cold segments into. Providers are dependency-injected so tests can
// run against the in-memory implementation.
package storage

import "context"

// Provider stores and retrieves immutable blobs. PutObject returns a
// URI the manifest records as the segment's new home; GetObject must
// accept the same key that was put.
type Provider interface {
	PutObject(ctx context.Context, key string, data []byte) (string, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
	Close() error
}
