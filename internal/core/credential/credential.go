// Package credential issues and verifies the bearer secrets that authorize
// changes to bounties and services. Only the SHA-256 hash of a secret is ever
// stored; the plaintext is handed to its owner once, at issuance.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// secretBytes is the amount of randomness in a secret (256 bits).
const secretBytes = 32

// Credential is a freshly issued secret. Plaintext must be returned to the
// caller and then discarded; Hash is what gets persisted.
type Credential struct {
	Plaintext string
	Hash      string
}

// String redacts the plaintext so a Credential can't leak through logging.
func (c Credential) String() string {
	return "credential(" + c.Hash[:min(8, len(c.Hash))] + "…)"
}

// GoString keeps %#v from printing the plaintext either.
func (c Credential) GoString() string {
	return c.String()
}

// Generate returns a new random secret and its hash.
func Generate() (Credential, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return Credential{}, fmt.Errorf("generate secret: %w", err)
	}
	plain := base64.RawURLEncoding.EncodeToString(buf)
	return Credential{Plaintext: plain, Hash: Hash(plain)}, nil
}

// Hash returns the lowercase hex SHA-256 digest of a secret.
func Hash(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether provided hashes to storedHash. Empty input on
// either side never verifies.
func Verify(provided, storedHash string) bool {
	if provided == "" || storedHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(Hash(provided)), []byte(storedHash)) == 1
}

// VerifyPtr is Verify for optional stored hashes.
func VerifyPtr(provided string, storedHash *string) bool {
	if storedHash == nil {
		return false
	}
	return Verify(provided, *storedHash)
}
