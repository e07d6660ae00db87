package license

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"
)

// Status is the administratively-owned license state. The validation
// engine only ever reads it; transitions are applied by the owning
// process. Expiry is a separate axis derived from the clock.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusSuspended Status = "suspended"
	StatusRevoked   Status = "revoked"
)

// HealthStatus describes a reporting site's self-assessed health.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
	HealthOffline  HealthStatus = "offline"
)

// License is the unit of entitlement. KeyHash is the SHA-256 digest of
// the raw key; the raw key itself is only ever compared, never scanned
// from storage.
type License struct {
	ID            string     `json:"id"`
	KeyHash       string     `json:"-"`
	CustomerEmail string     `json:"customer_email"`
	CustomerName  string     `json:"customer_name,omitempty"`
	ProductID     string     `json:"product_id"`
	Tier          string     `json:"tier"`
	Status        Status     `json:"status"`
	// MaxActivations overrides the tier capacity when > 0.
	MaxActivations int        `json:"max_activations,omitempty"`
	Policy         Policy     `json:"policy"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the license is past its expiry timestamp.
// A nil ExpiresAt means the license never expires.
func (l *License) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// Activation is a claim by one site against a license's capacity.
// (LicenseID, SiteHash) is unique; re-activating the same site updates
// the existing row rather than consuming another slot.
type Activation struct {
	ID            string       `json:"id"`
	LicenseID     string       `json:"license_id"`
	SiteURL       string       `json:"site_url"`
	SiteHash      string       `json:"site_hash"`
	Active        bool         `json:"active"`
	Health        HealthStatus `json:"health"`
	LastCheckedAt *time.Time   `json:"last_checked_at,omitempty"`
	ActivatedAt   time.Time    `json:"activated_at"`
	DeactivatedAt *time.Time   `json:"deactivated_at,omitempty"`
}

// SiteIdentity derives the stable hash identifying a client
// installation from its canonical URL plus an optional salt.
func SiteIdentity(siteURL, salt string) string {
	canonical := strings.ToLower(strings.TrimRight(strings.TrimSpace(siteURL), "/"))
	sum := sha256.Sum256([]byte(canonical + salt))
	return hex.EncodeToString(sum[:])
}

// ParseSiteURL validates that the supplied site URL is a syntactically
// valid absolute URL and returns its parsed form.
func ParseSiteURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, &url.Error{Op: "parse", URL: raw, Err: errNotAbsolute}
	}
	return u, nil
}

var errNotAbsolute = &notAbsoluteError{}

type notAbsoluteError struct{}

func (*notAbsoluteError) Error() string { return "not an absolute URL" }

// ValidationRequest is the explicit request shape consumed by the
// pipeline. Required vs. optional fields are explicit in the type and
// validated at the boundary before entering the pipeline.
type ValidationRequest struct {
	LicenseKey          string `json:"license_key" validate:"required"`
	SiteURL             string `json:"site_url,omitempty" validate:"omitempty,max=2048"`
	HardwareFingerprint string `json:"hardware_fingerprint,omitempty" validate:"omitempty,max=128"`
	PluginVersion       string `json:"plugin_version,omitempty" validate:"omitempty,max=32"`
}

// RequestMeta carries transport metadata into the pipeline explicitly;
// pipeline logic never reads ambient process state.
type RequestMeta struct {
	SourceIP  string
	UserAgent string
}

// RateInfo is the rate-limit metadata attached to every response.
type RateInfo struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`
}

// Result is the outcome of a pipeline operation. On failure Err is the
// engine sentinel (internal/errors) describing the outcome kind.
type Result struct {
	Success           bool
	Err               error
	Message           string
	Tier              string
	Features          []string
	MaxActivations    int
	ActivationsUsed   int
	CacheDurationHint time.Duration
	Rate              RateInfo
}
