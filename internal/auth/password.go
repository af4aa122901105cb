package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Password hashes use the "pbkdf2:sha256:<iterations>$<salt>$<hex digest>"
// layout, so hashes created by older werkzeug-based deployments verify
// unchanged.
const (
	hashMethod   = "pbkdf2"
	hashDigest   = "sha256"
	saltLength   = 16
	digestLength = sha256.Size
)

// hashIterations is the PBKDF2 work factor for new hashes.
var hashIterations = 600000

const saltChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// HashPassword derives a salted PBKDF2-SHA256 hash of password.
func HashPassword(password string) (string, error) {
	salt, err := genSalt(saltLength)
	if err != nil {
		return "", err
	}
	return formatHash(password, salt, hashIterations), nil
}

func formatHash(password, salt string, iterations int) string {
	dk := pbkdf2.Key([]byte(password), []byte(salt), iterations, digestLength, sha256.New)
	return fmt.Sprintf("%s:%s:%d$%s$%s", hashMethod, hashDigest, iterations, salt, hex.EncodeToString(dk))
}

// VerifyPassword reports whether password matches encoded. Unknown or
// malformed encodings never match.
func VerifyPassword(encoded, password string) bool {
	method, salt, digest, ok := strings.Cut(encoded, "$")
	if !ok {
		return false
	}
	salt, digest, ok = strings.Cut(salt, "$")
	if !ok {
		return false
	}
	parts := strings.Split(method, ":")
	if len(parts) != 3 || parts[0] != hashMethod || parts[1] != hashDigest {
		return false
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return false
	}
	want, err := hex.DecodeString(digest)
	if err != nil || len(want) == 0 {
		return false
	}
	got := pbkdf2.Key([]byte(password), []byte(salt), iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}

func genSalt(n int) (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(saltChars)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(saltChars[idx.Int64()])
	}
	return b.String(), nil
}
