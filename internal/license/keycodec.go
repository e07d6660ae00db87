package license

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// keyPattern matches the canonical key form after sanitization:
// four 4-character uppercase alphanumeric groups separated by hyphens.
var keyPattern = regexp.MustCompile(`^[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// sanitizePattern strips everything outside [A-Za-z0-9-].
var sanitizePattern = regexp.MustCompile(`[^A-Za-z0-9-]`)

// GenerateKey returns a new license key of the form XXXX-XXXX-XXXX-XXXX
// drawn from [A-Z0-9] using a cryptographically secure random source.
// Callers are responsible for a uniqueness retry against storage.
func GenerateKey() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	chars := make([]byte, 0, 19)
	for i, b := range raw {
		if i > 0 && i%4 == 0 {
			chars = append(chars, '-')
		}
		chars = append(chars, keyAlphabet[int(b)%len(keyAlphabet)])
	}
	return string(chars), nil
}

// Sanitize canonicalizes user-supplied key input: trims whitespace,
// strips every character outside [A-Za-z0-9-], and uppercases. This
// runs before format validation so copy-paste artifacts do not produce
// false "invalid format" errors.
func Sanitize(raw string) string {
	cleaned := sanitizePattern.ReplaceAllString(strings.TrimSpace(raw), "")
	return strings.ToUpper(cleaned)
}

// IsValidFormat reports whether raw is a well-formed license key.
// Input is case-insensitive; callers normally pass Sanitize output.
func IsValidFormat(raw string) bool {
	return keyPattern.MatchString(strings.ToUpper(raw))
}

// HashKey returns the SHA-256 hex digest of a key. The digest is the
// storage and lookup identifier, so raw keys never appear in an index.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
