// Package app contains the application orchestration layer for oneshot. It
// wires domain validation with the sealed store port without performing any
// I/O itself.
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/haukened/oneshot/internal/domain"
)

// ErrSizeExceeded indicates the upload exceeds the configured maximum.
var ErrSizeExceeded = errors.New("size exceeded")

// ErrUnauthenticated indicates an upload without an authenticated caller.
var ErrUnauthenticated = errors.New("caller not authenticated")

// Counter and summary names reported through Recorder.
const (
	CounterSealed         = "files_sealed_total"
	CounterOpened         = "files_opened_total"
	CounterOpenNotFound   = "open_not_found_total"
	CounterOpenAuthFailed = "open_auth_failed_total"
	CounterCollisions     = "seal_collisions_total"
	SummarySealedBytes    = "sealed_bytes"
)

// Service orchestrates sealing uploads and one-time downloads.
type Service struct {
	Store       SealedStore
	Metrics     Recorder      // optional
	Logger      *slog.Logger  // optional, defaults to slog.Default()
	MaxBytes    int64         // upper bound on plaintext size; <= 0 disables
	Retries     int           // extra Seal attempts after an identifier collision
	OpenTimeout time.Duration // optional deadline for a single Open
}

func (s *Service) recorder() Recorder {
	if s.Metrics == nil {
		return nopRecorder{}
	}
	return s.Metrics
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Upload seals plaintext on behalf of caller and returns the receipt. An
// identifier collision is retried with a freshly allocated identifier up to
// Retries times.
func (s *Service) Upload(ctx context.Context, caller Caller, plaintext []byte) (Receipt, error) {
	if caller.Username == "" {
		return Receipt{}, ErrUnauthenticated
	}
	if s.MaxBytes > 0 && int64(len(plaintext)) > s.MaxBytes {
		return Receipt{}, ErrSizeExceeded
	}
	rec := s.recorder()
	for attempt := 0; ; attempt++ {
		sealed, err := s.Store.Seal(ctx, plaintext)
		if err == nil {
			rec.Inc(CounterSealed, 1)
			rec.Observe(SummarySealedBytes, int64(len(plaintext)))
			return Receipt{FileID: sealed.ID.String(), Key: sealed.Key.String()}, nil
		}
		if !errors.Is(err, domain.ErrCollision) {
			return Receipt{}, err
		}
		rec.Inc(CounterCollisions, 1)
		s.logger().Warn("identifier collision", "domain", "app", "attempt", attempt+1)
		if attempt >= s.Retries {
			return Receipt{}, err
		}
	}
}

// Download parses the identifier and hex key and opens the record. A
// malformed identifier is reported as not found. A malformed key is an
// authentication failure only when the record exists: a dead link stays
// domain.ErrNotFound whatever key accompanies it.
func (s *Service) Download(ctx context.Context, idStr, keyStr string) ([]byte, error) {
	rec := s.recorder()
	id, err := domain.ParseID(idStr)
	if err != nil {
		rec.Inc(CounterOpenNotFound, 1)
		return nil, err
	}
	if s.OpenTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.OpenTimeout)
		defer cancel()
	}
	key, err := domain.ParseKey(keyStr)
	if err != nil {
		found, xerr := s.Store.Exists(ctx, id)
		switch {
		case xerr != nil:
			return nil, xerr
		case !found:
			rec.Inc(CounterOpenNotFound, 1)
			return nil, domain.ErrNotFound
		}
		rec.Inc(CounterOpenAuthFailed, 1)
		return nil, err
	}
	plaintext, err := s.Store.Open(ctx, id, key)
	switch {
	case err == nil:
		rec.Inc(CounterOpened, 1)
	case errors.Is(err, domain.ErrNotFound):
		rec.Inc(CounterOpenNotFound, 1)
	case errors.Is(err, domain.ErrAuthenticationFailed):
		rec.Inc(CounterOpenAuthFailed, 1)
	}
	return plaintext, err
}
