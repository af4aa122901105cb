// Package bolt provides a store.Backend on top of a bbolt database file.
// Records live in a single bucket keyed by identifier.
package bolt

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/haukened/oneshot/internal/domain"
	"github.com/haukened/oneshot/internal/store"
)

var bucketRecords = []byte("records")

var _ store.Backend = (*Store)(nil)

// Store wraps a bbolt database. bbolt serializes write transactions, so the
// existence check and the write in Insert cannot interleave with another
// Insert.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the bbolt database at path. The parent directory is
// created if it does not exist.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("bolt: create directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Insert writes blob under id unless id already exists.
func (s *Store) Insert(ctx context.Context, id string, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		if _, ok := lookup(b, id); ok {
			return domain.ErrCollision
		}
		if blob == nil {
			blob = []byte{}
		}
		if err := b.Put([]byte(id), blob); err != nil {
			return fmt.Errorf("bolt: put record: %w", err)
		}
		return nil
	})
}

// Get returns a copy of the blob for id; bbolt values are only valid inside
// the transaction.
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v, ok := lookup(tx.Bucket(bucketRecords), id)
		if !ok {
			return domain.ErrNotFound
		}
		out = append([]byte{}, v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the record for id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		if _, ok := lookup(b, id); !ok {
			return domain.ErrNotFound
		}
		if err := b.Delete([]byte(id)); err != nil {
			return fmt.Errorf("bolt: delete record: %w", err)
		}
		return nil
	})
}

// Ping runs an empty read transaction.
func (s *Store) Ping(_ context.Context) error {
	return s.db.View(func(*bbolt.Tx) error { return nil })
}

// lookup seeks to id with a cursor so that zero-length values are still
// reported as present.
func lookup(b *bbolt.Bucket, id string) ([]byte, bool) {
	k, v := b.Cursor().Seek([]byte(id))
	if !bytes.Equal(k, []byte(id)) {
		return nil, false
	}
	return v, true
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }
