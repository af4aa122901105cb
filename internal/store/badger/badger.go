// Package badger provides a store.Backend on top of a badger/v4 key-value
// database. Records are stored under "rec/<id>" keys. Badger transactions use
// optimistic concurrency, so a racing Insert on the same identifier surfaces
// as a conflict and is reported as a collision.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/haukened/oneshot/internal/domain"
	"github.com/haukened/oneshot/internal/store"
)

var (
	_ store.Backend    = (*Store)(nil)
	_ store.Maintainer = (*Store)(nil)
)

const keyPrefix = "rec/"

// gcDiscardRatio is the fraction of a value log file that must be garbage
// before RunValueLogGC rewrites it.
const gcDiscardRatio = 0.5

// Store wraps a badger database.
type Store struct {
	db *badger.DB
}

// Options configures Open.
type Options struct {
	Dir      string       // data directory; ignored when InMemory is set
	InMemory bool         // keep everything in memory (tests)
	Logger   *slog.Logger // optional, defaults to slog.Default()
}

// Open opens or creates a badger database.
func Open(o Options) (*Store, error) {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	opts := badger.DefaultOptions(o.Dir).
		WithLogger(slogAdapter{log: o.Logger.With("domain", "badger")}).
		WithLoggingLevel(badger.WARNING)
	if o.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}
	return &Store{db: db}, nil
}

func recordKey(id string) []byte { return []byte(keyPrefix + id) }

// Insert writes blob under id unless id already exists.
func (s *Store) Insert(ctx context.Context, id string, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(recordKey(id))
		switch {
		case err == nil:
			return domain.ErrCollision
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.Set(recordKey(id), blob)
	})
	if errors.Is(err, badger.ErrConflict) {
		return domain.ErrCollision
	}
	if err != nil && !errors.Is(err, domain.ErrCollision) {
		return fmt.Errorf("badger: insert record: %w", err)
	}
	return err
}

// Get returns a copy of the blob for id.
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger: get record: %w", err)
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

// Delete removes the record for id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(recordKey(id)); err != nil {
			return err
		}
		return txn.Delete(recordKey(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("badger: delete record: %w", err)
	}
	return nil
}

// Ping runs an empty read transaction; it fails once the database is closed.
func (s *Store) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger: database closed")
	}
	return s.db.View(func(*badger.Txn) error { return nil })
}

// Maintain reclaims value log space left behind by deleted records. It runs
// GC passes until badger reports nothing left to rewrite and returns the
// number of files rewritten.
func (s *Store) Maintain(ctx context.Context, _ time.Time) (int, error) {
	rewritten := 0
	for {
		if err := ctx.Err(); err != nil {
			return rewritten, err
		}
		err := s.db.RunValueLogGC(gcDiscardRatio)
		switch {
		case err == nil:
			rewritten++
		case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrGCInMemoryMode), errors.Is(err, badger.ErrRejected):
			return rewritten, nil
		default:
			return rewritten, fmt.Errorf("badger: value log gc: %w", err)
		}
	}
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }
