package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const derivedKeyLen = 32

// Hasher generates and verifies password hashes in the legacy wire format
// "{algorithm}${iterations}${salt}${digest}". The salt is a 32-character hex
// string, and the PBKDF2 salt input is the UTF-8 bytes of that string, not
// the decoded value. Existing rows were written that way, so both sides
// must keep doing it.
type Hasher struct {
	Algorithm  string
	Iterations int
}

// NewHasher creates a Hasher with the configured algorithm and iteration count.
func NewHasher(algorithm string, iterations int) *Hasher {
	return &Hasher{Algorithm: algorithm, Iterations: iterations}
}

// Hash returns the encoded hash of password using a fresh random salt.
func (h *Hasher) Hash(password string) (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	salt := hex.EncodeToString(raw)
	dk := pbkdf2.Key([]byte(password), []byte(salt), h.Iterations, derivedKeyLen, sha256.New)
	return fmt.Sprintf("%s$%d$%s$%s", h.Algorithm, h.Iterations, salt, base64.StdEncoding.EncodeToString(dk)), nil
}

// Verify reports whether password matches the encoded hash. The stored
// parameters win over the configured ones, so hashes written with older
// iteration counts keep verifying. Malformed hashes verify false.
func (h *Hasher) Verify(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 {
		return false
	}

	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations < 1 {
		return false
	}

	expected, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil || len(expected) == 0 {
		return false
	}

	dk := pbkdf2.Key([]byte(password), []byte(parts[2]), iterations, len(expected), sha256.New)
	return subtle.ConstantTimeCompare(dk, expected) == 1
}
