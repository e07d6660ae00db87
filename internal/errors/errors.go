package errors

import (
	"errors"
	"net/http"
)

// Kind classifies a validation outcome. Every request resolves to exactly
// one Kind; none are retried by the engine itself.
type Kind string

const (
	KindInvalidFormat           Kind = "INVALID_FORMAT"
	KindInvalidLicenseKey       Kind = "INVALID_LICENSE_KEY"
	KindLicenseExpired          Kind = "LICENSE_EXPIRED"
	KindLicenseSuspended        Kind = "LICENSE_SUSPENDED"
	KindLicenseRevoked          Kind = "LICENSE_REVOKED"
	KindInvalidSiteURL          Kind = "INVALID_SITE_URL"
	KindSecurityPolicyViolation Kind = "SECURITY_POLICY_VIOLATION"
	KindActivationLimitReached  Kind = "ACTIVATION_LIMIT_REACHED"
	KindRateLimited             Kind = "RATE_LIMITED"
	KindForbidden               Kind = "FORBIDDEN"
	KindNotFound                Kind = "NOT_FOUND"
	KindServerError             Kind = "SERVER_ERROR"
)

// Sentinel errors used across the engine. Handlers map these to RFC 7807
// problem responses via KindOf / StatusFor.
var (
	ErrInvalidFormat           = errors.New("invalid license key format")
	ErrInvalidLicenseKey       = errors.New("invalid license key")
	ErrLicenseExpired          = errors.New("license expired")
	ErrLicenseSuspended        = errors.New("license suspended")
	ErrLicenseRevoked          = errors.New("license revoked")
	ErrInvalidSiteURL          = errors.New("invalid site url")
	ErrSecurityPolicyViolation = errors.New("security policy violation")
	ErrActivationLimitReached  = errors.New("activation limit reached")
	ErrRateLimited             = errors.New("rate limited")
	ErrForbidden               = errors.New("access denied")
	ErrNotFound                = errors.New("not found")
)

// KindOf maps an error to its outcome Kind. Unknown errors are server
// errors: their detail is logged internally and never sent to the caller.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidFormat):
		return KindInvalidFormat
	case errors.Is(err, ErrInvalidLicenseKey):
		return KindInvalidLicenseKey
	case errors.Is(err, ErrLicenseExpired):
		return KindLicenseExpired
	case errors.Is(err, ErrLicenseSuspended):
		return KindLicenseSuspended
	case errors.Is(err, ErrLicenseRevoked):
		return KindLicenseRevoked
	case errors.Is(err, ErrInvalidSiteURL):
		return KindInvalidSiteURL
	case errors.Is(err, ErrSecurityPolicyViolation):
		return KindSecurityPolicyViolation
	case errors.Is(err, ErrActivationLimitReached):
		return KindActivationLimitReached
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindServerError
	}
}

// StatusFor maps an outcome Kind to its HTTP status code.
func StatusFor(kind Kind) int {
	switch kind {
	case KindInvalidFormat, KindInvalidSiteURL:
		return http.StatusBadRequest
	case KindInvalidLicenseKey:
		return http.StatusNotFound
	case KindLicenseExpired, KindLicenseSuspended, KindLicenseRevoked:
		return http.StatusUnauthorized
	case KindSecurityPolicyViolation, KindForbidden:
		return http.StatusForbidden
	case KindActivationLimitReached:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Safe reports whether the error carries no sensitive internal state and
// may be described precisely to the caller. Only unexpected store
// failures are masked behind a generic message.
func Safe(kind Kind) bool {
	return kind != KindServerError
}
