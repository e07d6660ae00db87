package errors

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/render"
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface.
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "application/problem+json")
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON flattens extensions into the problem document.
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, 5+len(pd.Extensions))
	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}
	for k, v := range pd.Extensions {
		data[k] = v
	}
	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error.
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details.
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// Problem type URIs per outcome kind.
const (
	TypeInvalidFormat   = "/errors/license/invalid-format"
	TypeInvalidKey      = "/errors/license/unknown-key"
	TypeExpired         = "/errors/license/expired"
	TypeSuspended       = "/errors/license/suspended"
	TypeRevoked         = "/errors/license/revoked"
	TypeInvalidSiteURL  = "/errors/site/invalid-url"
	TypePolicyViolation = "/errors/security/policy-violation"
	TypeActivationLimit = "/errors/license/activation-limit"
	TypeRateLimit       = "/errors/rate-limit"
	TypeForbidden       = "/errors/forbidden"
	TypeNotFound        = "/errors/not-found"
	TypeInternal        = "/errors/internal"
)

var problemTypes = map[Kind]struct {
	uri   string
	title string
}{
	KindInvalidFormat:           {TypeInvalidFormat, "Invalid License Key Format"},
	KindInvalidLicenseKey:       {TypeInvalidKey, "Unknown License Key"},
	KindLicenseExpired:          {TypeExpired, "License Expired"},
	KindLicenseSuspended:        {TypeSuspended, "License Suspended"},
	KindLicenseRevoked:          {TypeRevoked, "License Revoked"},
	KindInvalidSiteURL:          {TypeInvalidSiteURL, "Invalid Site URL"},
	KindSecurityPolicyViolation: {TypePolicyViolation, "Security Policy Violation"},
	KindActivationLimitReached:  {TypeActivationLimit, "Activation Limit Reached"},
	KindRateLimited:             {TypeRateLimit, "Too Many Requests"},
	KindForbidden:               {TypeForbidden, "Access Denied"},
	KindNotFound:                {TypeNotFound, "Not Found"},
	KindServerError:             {TypeInternal, "Internal Server Error"},
}

// ProblemFromError builds the problem response for an engine error.
// ServerError detail is replaced with a generic message; every other
// kind is safe to describe precisely.
func ProblemFromError(err error, instance, traceID string) *ProblemDetails {
	kind := KindOf(err)
	pt := problemTypes[kind]
	detail := err.Error()
	if !Safe(kind) {
		detail = "An unexpected error occurred while processing the request."
	}
	return NewProblemDetails(StatusFor(kind), pt.uri, pt.title, detail, instance).
		WithExtension("error_code", string(kind)).
		WithExtension("trace_id", traceID)
}
