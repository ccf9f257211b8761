// Package credential generates bearer secrets and derives the non-secret
// lookup prefix and one-way hash stored for them. Everything here is pure;
// raw secrets never leave the agent service after issuance.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// PrefixLength is the number of leading characters of an encoded secret used
// as the indexed lookup key. Short enough to be useless for guessing the
// rest of the keyspace, long enough to be collision-free in practice.
const PrefixLength = 12

// secretBytes is the raw entropy per secret before encoding.
const secretBytes = 32

// Supported hash algorithm tags. The tag is stored with the digest so the
// format can be migrated without rewriting existing rows.
const (
	AlgSHA256  = "sha256"
	AlgBlake2b = "blake2b"
)

// GenerateSecret returns a new URL-safe bearer secret from a CSPRNG.
func GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Prefix returns the fixed-length lookup prefix of an encoded secret.
func Prefix(secret string) string {
	if len(secret) < PrefixLength {
		return secret
	}
	return secret[:PrefixLength]
}

// Hash digests a secret with the given algorithm and returns it tagged, e.g.
// "sha256:ab12...". An empty algorithm selects SHA-256.
func Hash(secret, alg string) (string, error) {
	if alg == "" {
		alg = AlgSHA256
	}
	switch alg {
	case AlgSHA256:
		sum := sha256.Sum256([]byte(secret))
		return AlgSHA256 + ":" + hex.EncodeToString(sum[:]), nil
	case AlgBlake2b:
		sum := blake2b.Sum256([]byte(secret))
		return AlgBlake2b + ":" + hex.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("unsupported hash algorithm %q", alg)
	}
}

// Verify recomputes the digest of secret under the algorithm named in
// storedHash and compares in constant time.
func Verify(secret, storedHash string) bool {
	alg, _, ok := strings.Cut(storedHash, ":")
	if !ok {
		return false
	}
	computed, err := Hash(secret, alg)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
