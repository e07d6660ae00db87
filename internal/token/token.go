// Package token implements the HMAC-based, time-boxed capability token
// that gates binary downloads. A token is self-contained: validity is
// fully recomputable from the token bytes plus the server secret, so
// verification needs no lookup.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Verification failure reasons. All collapse to a 403 at the HTTP
// boundary; the distinction feeds the audit log.
var (
	ErrMalformed = errors.New("malformed download token")
	ErrExpired   = errors.New("download token expired")
	ErrSignature = errors.New("download token signature mismatch")
)

// Signer issues and verifies download tokens with a server-held secret.
// Rotating the secret invalidates all outstanding tokens, which is
// acceptable since tokens are short-lived.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a signer for the given secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

// Issue mints a token for a plugin download, optionally bound to a
// license. The token is base64 of "expiry|hmac-hex" where the HMAC
// covers (pluginID|expiry|licenseID).
func (s *Signer) Issue(pluginID, licenseID string, ttl time.Duration) string {
	expiry := s.now().Add(ttl).Unix()
	sig := s.sign(pluginID, expiry, licenseID)
	payload := strconv.FormatInt(expiry, 10) + "|" + sig
	return base64.StdEncoding.EncodeToString([]byte(payload))
}

// Verify checks a token against the plugin and optional license it was
// issued for. Malformed structure, past expiry, and signature mismatch
// each fail with their own reason; signatures are compared in constant
// time.
func (s *Signer) Verify(pluginID, rawToken, licenseID string) error {
	decoded, err := base64.StdEncoding.DecodeString(rawToken)
	if err != nil {
		return ErrMalformed
	}

	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return ErrMalformed
	}
	expiry, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ErrMalformed
	}

	if s.now().Unix() > expiry {
		return ErrExpired
	}

	expected := s.sign(pluginID, expiry, licenseID)
	if !hmac.Equal([]byte(expected), []byte(parts[1])) {
		return ErrSignature
	}
	return nil
}

func (s *Signer) sign(pluginID string, expiry int64, licenseID string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(pluginID))
	mac.Write([]byte("|"))
	mac.Write([]byte(strconv.FormatInt(expiry, 10)))
	mac.Write([]byte("|"))
	mac.Write([]byte(licenseID))
	return hex.EncodeToString(mac.Sum(nil))
}
