// Package app defines the application layer "ports" (interfaces) and simple
// data contracts that the core use-cases of oneshot depend upon. It follows a
// hexagonal (ports & adapters) design: this package declares what the core
// needs, while adapter packages (storage backends, HTTP layer, metrics)
// provide concrete implementations. No SQL, filesystem, or network concerns
// belong here.
package app

import (
	"context"

	"github.com/haukened/oneshot/internal/domain"
	"github.com/haukened/oneshot/internal/store"
)

// SealedStore is the storage port for one-time records. Implementations
// must guarantee that Open succeeds at most once per record across all
// concurrent callers, and must never persist the key.
type SealedStore interface {
	// Seal encrypts plaintext under a fresh key and persists it under a fresh
	// identifier. domain.ErrCollision means the identifier was taken and
	// nothing was written.
	Seal(ctx context.Context, plaintext []byte) (store.Sealed, error)

	// Open authenticates and decrypts the record, deleting it on success.
	// Returns domain.ErrNotFound or domain.ErrAuthenticationFailed otherwise.
	Open(ctx context.Context, id domain.FileID, key domain.Key) ([]byte, error)

	// Exists reports whether a record is stored under id.
	Exists(ctx context.Context, id domain.FileID) (bool, error)
}

// Recorder receives operational counters. metrics.Manager satisfies it.
type Recorder interface {
	Inc(name string, delta int64)
	Observe(name string, value int64)
}

// Caller is the authenticated principal behind an upload. Authentication
// happens in the delivery layer; the service only receives the outcome.
type Caller struct {
	Username string
}

// Receipt is returned to the uploader. FileID and Key are the only way to
// retrieve the file and must be relayed to the recipient out of band.
type Receipt struct {
	FileID string `json:"file_id"`
	Key    string `json:"key"`
}

type nopRecorder struct{}

func (nopRecorder) Inc(string, int64)     {}
func (nopRecorder) Observe(string, int64) {}
