// Package token verifies the management API bearer token.
//
// The configured value may be the plaintext token itself, a
// "sha256:<hex>" digest, or an Argon2id hash in PHC format. Hashed forms
// keep the secret out of the environment and config files.
package token

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
)

// Hash type names returned by DetectHashType.
const (
	TypeArgon2id  = "argon2id"
	TypeSHA256    = "sha256"
	TypePlaintext = "plaintext"
)

// argon2idParams defines OWASP minimum parameters for Argon2id.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// Generate returns a fresh random token for installs that did not
// configure one.
func Generate() string {
	return uuid.NewString()
}

// HashSHA256 returns the prefixed SHA-256 digest of a raw token, suitable
// for storing in configuration.
func HashSHA256(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// HashArgon2id returns an Argon2id hash of the raw token in PHC format.
// Format: $argon2id$v=19$m=48128,t=1,p=1$<salt>$<hash>
func HashArgon2id(raw string) (string, error) {
	return argon2id.CreateHash(raw, argon2idParams)
}

// DetectHashType identifies how a configured token value is stored.
// Returns "argon2id" for PHC format, "sha256" for prefixed or bare hex
// digests, and "plaintext" otherwise.
func DetectHashType(stored string) string {
	if strings.HasPrefix(stored, "$argon2id$") {
		return TypeArgon2id
	}
	if strings.HasPrefix(stored, "sha256:") {
		return TypeSHA256
	}
	// A bare 64-char hex string is treated as a digest, not a secret.
	if len(stored) == 64 && isHexString(stored) {
		return TypeSHA256
	}
	return TypePlaintext
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// Verify checks a presented token against the configured value in
// constant time for the digest and plaintext forms.
func Verify(raw, stored string) (bool, error) {
	switch DetectHashType(stored) {
	case TypeArgon2id:
		return safeArgon2idCompare(raw, stored)

	case TypeSHA256:
		expected := strings.ToLower(strings.TrimPrefix(stored, "sha256:"))
		sum := sha256.Sum256([]byte(raw))
		computed := hex.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1, nil

	default:
		return subtle.ConstantTimeCompare([]byte(raw), []byte(stored)) == 1, nil
	}
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic
// recovery. The underlying argon2 library panics on malformed hashes with
// invalid parameters (e.g. t=0 rounds), and a malformed config value must
// not take the gateway down.
func safeArgon2idCompare(raw, stored string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(raw, stored)
}
