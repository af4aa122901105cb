// Package domain errors.go contains sentinel errors
package domain

import (
	"errors"
	"fmt"
)

// Sentinel domain-level errors reused by higher layers.
var (
	// ErrNotFound reports that no record exists for an identifier, either
	// because it was never sealed or because it was already opened.
	ErrNotFound = errors.New("record not found")
	// ErrAuthenticationFailed reports a wrong key or a tampered record.
	ErrAuthenticationFailed = errors.New("key incorrect or record corrupted")
	// ErrCollision reports that an allocated identifier is already in use.
	ErrCollision = errors.New("identifier already in use")

	ErrMalformedKey = fmt.Errorf("%w: malformed key", ErrAuthenticationFailed)
	ErrInvalidID    = fmt.Errorf("%w: invalid file id", ErrNotFound)
)
