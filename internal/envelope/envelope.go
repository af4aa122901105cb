// Package envelope seals plaintext into the persisted record format and opens
// it again. A record is the concatenation
//
//	nonce (16 bytes) || tag (16 bytes) || ciphertext (len(plaintext) bytes)
//
// produced by AES-128-GCM with a 16-byte nonce. The key is supplied by the
// caller and never appears in the record.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"

	"github.com/haukened/oneshot/internal/domain"
)

// Layout of a persisted record.
const (
	NonceSize  = 16
	TagSize    = 16
	HeaderSize = NonceSize + TagSize
)

// ErrTruncated reports a blob too short to hold a nonce and tag.
var ErrTruncated = errors.New("record shorter than header")

// Record is the decoded form of a persisted blob.
type Record struct {
	Nonce      [NonceSize]byte
	Tag        [TagSize]byte
	Ciphertext []byte
}

// Bytes encodes r into its on-disk form.
func (r Record) Bytes() []byte {
	out := make([]byte, HeaderSize+len(r.Ciphertext))
	copy(out, r.Nonce[:])
	copy(out[NonceSize:], r.Tag[:])
	copy(out[HeaderSize:], r.Ciphertext)
	return out
}

// Parse splits a persisted blob. The ciphertext aliases blob.
func Parse(blob []byte) (Record, error) {
	var r Record
	if len(blob) < HeaderSize {
		return r, ErrTruncated
	}
	copy(r.Nonce[:], blob[:NonceSize])
	copy(r.Tag[:], blob[NonceSize:HeaderSize])
	r.Ciphertext = blob[HeaderSize:]
	return r, nil
}

func newAEAD(key domain.Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, NonceSize)
}

// Seal encrypts plaintext under key with a fresh random nonce.
func Seal(key domain.Key, plaintext []byte) (Record, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return Record{}, err
	}
	var r Record
	if _, err := rand.Read(r.Nonce[:]); err != nil {
		return Record{}, err
	}
	// GCM appends the tag to the ciphertext; the record stores it up front.
	sealed := aead.Seal(nil, r.Nonce[:], plaintext, nil)
	n := len(sealed) - TagSize
	copy(r.Tag[:], sealed[n:])
	r.Ciphertext = sealed[:n:n]
	return r, nil
}

// Open verifies and decrypts r under key. Any mismatch between key, nonce,
// tag, and ciphertext yields domain.ErrAuthenticationFailed and no plaintext.
func Open(key domain.Key, r Record) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(r.Ciphertext)+TagSize)
	sealed = append(sealed, r.Ciphertext...)
	sealed = append(sealed, r.Tag[:]...)
	plaintext, err := aead.Open(sealed[:0], r.Nonce[:], sealed, nil)
	if err != nil {
		return nil, domain.ErrAuthenticationFailed
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// OpenBlob parses and opens a persisted blob in one step. A truncated blob is
// reported as an authentication failure since it cannot have been produced by
// Seal.
func OpenBlob(key domain.Key, blob []byte) ([]byte, error) {
	r, err := Parse(blob)
	if err != nil {
		return nil, domain.ErrAuthenticationFailed
	}
	return Open(key, r)
}
