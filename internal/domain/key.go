package domain

import (
	"crypto/rand"
	"encoding/hex"
)

// KeySize is the length in bytes of a record key.
const KeySize = 16

// Key is the symmetric secret that unlocks exactly one sealed record. It is
// handed to the uploader and never written to storage.
type Key [KeySize]byte

// NewKey returns a key filled from crypto/rand.
func NewKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, err
	}
	return k, nil
}

// ParseKey decodes the hex form of a key. Upper and lower case digits are
// accepted. Any other input yields ErrMalformedKey.
func ParseKey(s string) (Key, error) {
	var k Key
	if len(s) != hex.EncodedLen(KeySize) {
		return Key{}, ErrMalformedKey
	}
	if _, err := hex.Decode(k[:], []byte(s)); err != nil {
		return Key{}, ErrMalformedKey
	}
	return k, nil
}

// String returns the lowercase hex encoding exchanged with clients.
func (k Key) String() string { return hex.EncodeToString(k[:]) }
