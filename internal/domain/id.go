// Package domain id.go contains functions to allocate, parse, and validate file IDs
package domain

import (
	"strings"

	"github.com/google/uuid"
)

// FileID is the opaque external name of a sealed record. It is a random
// (version 4) UUID in its canonical 36 character lowercase form, carrying 122
// bits of entropy from crypto/rand.
type FileID string

// NewID allocates a fresh FileID. It keeps no state: uniqueness is enforced by
// the store when the record is persisted.
func NewID() (FileID, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return FileID(u.String()), nil
}

// ParseID validates s and returns it as a FileID. It enforces:
// - canonical 8-4-4-4-12 layout (no braces, no urn prefix)
// - lowercase hex digits only
// - version 4, RFC 4122 variant
// Returns ErrInvalidID on failure.
func ParseID(s string) (FileID, error) {
	if !isValidID(s) {
		return "", ErrInvalidID
	}
	return FileID(s), nil
}

// String returns the string form of the FileID.
func (id FileID) String() string { return string(id) }

// Valid reports whether the ID satisfies the same rules as ParseID.
func (id FileID) Valid() bool { return isValidID(string(id)) }

func isValidID(s string) bool {
	if len(s) != 36 || s != strings.ToLower(s) {
		return false
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return u.Version() == 4 && u.Variant() == uuid.RFC4122
}
