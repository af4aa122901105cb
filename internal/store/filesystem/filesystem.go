// Package filesystem provides a store.Backend that keeps each sealed record in
// its own file named by the record identifier, directly under a root
// directory. Files hold the raw record bytes (nonce, tag, ciphertext).
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haukened/oneshot/internal/domain"
	"github.com/haukened/oneshot/internal/store"
)

// Ensure BlobStore implements the store ports.
var (
	_ store.Backend    = (*BlobStore)(nil)
	_ store.Maintainer = (*BlobStore)(nil)
)

// partialPrefix marks in-flight uploads. Such files are invisible to Get
// because no valid identifier starts with a dot.
const partialPrefix = ".partial-"

// BlobStore implements store.Backend using the local filesystem.
type BlobStore struct {
	root       string
	staleAfter time.Duration
}

// Option configures a BlobStore.
type Option func(*BlobStore)

// WithStaleAfter sets how old a partial upload file must be before Maintain
// removes it.
func WithStaleAfter(d time.Duration) Option {
	return func(b *BlobStore) {
		if d > 0 {
			b.staleAfter = d
		}
	}
}

// New returns a filesystem-backed store rooted at dir. The directory
// must already exist with secure permissions (0700 recommended).
func New(root string, opts ...Option) (*BlobStore, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, errors.New("blob root is not a directory")
	}
	b := &BlobStore{root: root, staleAfter: time.Hour}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

func (b *BlobStore) path(id string) string { return filepath.Join(b.root, id) }

// Insert writes blob to a partial file, fsyncs it, and hard-links it to its
// final name. The link fails if the name exists, which makes the
// check-absence-then-write step atomic without any lock.
func (b *BlobStore) Insert(ctx context.Context, id string, blob []byte) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.CreateTemp(b.root, partialPrefix+"*")
	if err != nil {
		return fmt.Errorf("create partial: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err = f.Write(blob); err == nil {
		err = f.Sync()
	}
	if cErr := f.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		return fmt.Errorf("write partial: %w", err)
	}
	if err := os.Link(tmp, b.path(id)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return domain.ErrCollision
		}
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

// Get reads the record file for id.
func (b *BlobStore) Get(ctx context.Context, id string) ([]byte, error) {
	if err := validateID(id); err != nil {
		return nil, domain.ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(b.path(id)) // #nosec G304 path is root plus a validated id
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("read record: %w", err)
	}
	return data, nil
}

// Delete removes the record file for id.
func (b *BlobStore) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return domain.ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(b.path(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("remove record: %w", err)
	}
	return nil
}

// Ping checks that the root directory is still readable.
func (b *BlobStore) Ping(_ context.Context) error {
	_, err := os.ReadDir(b.root)
	return err
}

// Maintain removes partial upload files left behind by crashed writers. Files
// younger than the stale threshold are skipped so in-flight uploads are not
// disturbed.
func (b *BlobStore) Maintain(ctx context.Context, now time.Time) (int, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if e.IsDir() || !strings.HasPrefix(e.Name(), partialPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < b.staleAfter {
			continue
		}
		if err := os.Remove(filepath.Join(b.root, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op; the filesystem holds no open handles between calls.
func (b *BlobStore) Close() error { return nil }

// validateID enforces the canonical identifier form, which also rules out
// path separators and traversal.
func validateID(id string) error {
	if _, err := domain.ParseID(id); err != nil {
		return errors.New("invalid record id")
	}
	return nil
}
