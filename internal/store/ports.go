package store

import (
	"context"
	"time"
)

// Backend persists sealed record blobs. Backends (filesystem, SQLite, bbolt,
// badger) know nothing about keys or encryption.
//
// Insert must be atomic with respect to other Inserts: it either writes a new
// record or fails with domain.ErrCollision, never overwriting. Get and Delete
// report domain.ErrNotFound for unknown identifiers.
type Backend interface {
	Insert(ctx context.Context, id string, blob []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}

// Maintainer is implemented by backends that need periodic housekeeping.
// Maintain returns the number of items it cleaned up. It must never remove a
// committed record.
type Maintainer interface {
	Maintain(ctx context.Context, now time.Time) (int, error)
}
