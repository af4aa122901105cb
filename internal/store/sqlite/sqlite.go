// Package sqlite provides a SQLite-backed store.Backend that keeps sealed
// records as BLOB rows. The PRIMARY KEY on id makes identifier collisions a
// constraint violation rather than an overwrite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/haukened/oneshot/internal/domain"
	"github.com/haukened/oneshot/internal/store"
)

var _ store.Backend = (*Records)(nil)

// Records implements store.Backend using SQLite (via database/sql). It is safe
// for concurrent use; database/sql manages connection pooling and SQLite
// serializes writers. The *sql.DB is shared with other components, so Close
// does not close it.
type Records struct {
	db  *sql.DB
	now func() time.Time
}

// New constructs Records, initializing the schema if absent.
func New(db *sql.DB) (*Records, error) {
	r := &Records{db: db, now: time.Now}
	if err := r.init(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Records) init() error {
	const schema = `CREATE TABLE IF NOT EXISTS records (
id TEXT PRIMARY KEY,
blob BLOB NOT NULL,
created_at INTEGER NOT NULL
);`
	_, err := r.db.Exec(schema)
	return err
}

// Insert stores a new record row.
func (r *Records) Insert(ctx context.Context, id string, blob []byte) error {
	const q = `INSERT INTO records (id, blob, created_at) VALUES (?,?,?)`
	if blob == nil {
		blob = []byte{}
	}
	if _, err := r.db.ExecContext(ctx, q, id, blob, r.now().UTC().Unix()); err != nil {
		if isConstraint(err) {
			return domain.ErrCollision
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// Get returns the record blob for id.
func (r *Records) Get(ctx context.Context, id string) ([]byte, error) {
	const q = `SELECT blob FROM records WHERE id=?`
	var blob []byte
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select record: %w", err)
	}
	if blob == nil {
		blob = []byte{}
	}
	return blob, nil
}

// Delete hard-deletes the row for id.
func (r *Records) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM records WHERE id=?`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Ping checks the database connection.
func (r *Records) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

// Close is a no-op; the caller owns the shared *sql.DB.
func (r *Records) Close() error { return nil }

func isConstraint(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique
}
