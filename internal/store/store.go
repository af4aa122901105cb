// Package store provides the sealed object store. It encrypts plaintext into
// records, persists them through a Backend, and opens each record at most
// once. Keys pass through Seal and Open only; the store never retains them.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haukened/oneshot/internal/domain"
	"github.com/haukened/oneshot/internal/envelope"
)

// Sealed is the result of a successful Seal. ID and Key must reach the
// recipient through separate channels; Record is what was persisted.
type Sealed struct {
	ID     domain.FileID
	Key    domain.Key
	Record envelope.Record
}

// Store implements Seal and Open over a Backend. It is safe for concurrent use.
type Store struct {
	backend Backend
	locks   *keyedMutex
	newID   func() (domain.FileID, error)
	newKey  func() (domain.Key, error)
}

// New returns a Store persisting through backend.
func New(backend Backend) *Store {
	return &Store{
		backend: backend,
		locks:   newKeyedMutex(),
		newID:   domain.NewID,
		newKey:  domain.NewKey,
	}
}

// Seal encrypts plaintext under a fresh key and persists the record under a
// freshly allocated identifier. If the identifier is already taken the call
// fails with domain.ErrCollision and nothing is written.
func (s *Store) Seal(ctx context.Context, plaintext []byte) (Sealed, error) {
	if s == nil || s.backend == nil {
		return Sealed{}, errors.New("store not properly initialized")
	}
	key, err := s.newKey()
	if err != nil {
		return Sealed{}, fmt.Errorf("generate key: %w", err)
	}
	id, err := s.newID()
	if err != nil {
		return Sealed{}, fmt.Errorf("allocate id: %w", err)
	}
	rec, err := envelope.Seal(key, plaintext)
	if err != nil {
		return Sealed{}, fmt.Errorf("seal: %w", err)
	}
	if err := s.backend.Insert(ctx, id.String(), rec.Bytes()); err != nil {
		return Sealed{}, err
	}
	return Sealed{ID: id, Key: key, Record: rec}, nil
}

// Open looks up the record, authenticates and decrypts it with key, and on
// success deletes it before returning the plaintext. Lookup, verification and
// deletion run under a per-identifier lock, so of several concurrent callers
// holding the right key exactly one succeeds and the rest see
// domain.ErrNotFound. A failed verification leaves the record in place.
func (s *Store) Open(ctx context.Context, id domain.FileID, key domain.Key) ([]byte, error) {
	if s == nil || s.backend == nil {
		return nil, errors.New("store not properly initialized")
	}
	if !id.Valid() {
		return nil, domain.ErrInvalidID
	}
	unlock := s.locks.Lock(id.String())
	defer unlock()

	blob, err := s.backend.Get(ctx, id.String())
	if err != nil {
		return nil, err
	}
	plaintext, err := envelope.OpenBlob(key, blob)
	if err != nil {
		return nil, err
	}
	if err := s.backend.Delete(ctx, id.String()); err != nil {
		// The plaintext must not escape unless the record is gone.
		return nil, fmt.Errorf("delete opened record: %w", err)
	}
	return plaintext, nil
}

// Exists reports whether a record is stored under id. It takes the same
// per-identifier lock as Open, so it never observes a record that a
// concurrent Open is about to delete.
func (s *Store) Exists(ctx context.Context, id domain.FileID) (bool, error) {
	if s == nil || s.backend == nil {
		return false, errors.New("store not properly initialized")
	}
	if !id.Valid() {
		return false, nil
	}
	unlock := s.locks.Lock(id.String())
	defer unlock()

	_, err := s.backend.Get(ctx, id.String())
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Ping reports whether the backend is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.backend.Ping(ctx) }

// Maintain runs backend housekeeping when the backend supports it.
func (s *Store) Maintain(ctx context.Context, now time.Time) (int, error) {
	if m, ok := s.backend.(Maintainer); ok {
		return m.Maintain(ctx, now)
	}
	return 0, nil
}

// Close releases the backend.
func (s *Store) Close() error { return s.backend.Close() }
