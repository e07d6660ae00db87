package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensegate/internal/license"
	"licensegate/internal/store"
	"licensegate/internal/token"
)

const adminSecret = "admin-secret-token"

type adminFixture struct {
	router chi.Router
	store  *store.Store
	signer *token.Signer
}

func newAdminFixture(t *testing.T, adminToken string) *adminFixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "licenses.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	signer := token.NewSigner("download-secret")
	r := chi.NewRouter()
	r.Mount("/api/admin", NewAdminHandler(st, signer, adminToken, time.Hour, discardLogger()).Routes())
	return &adminFixture{router: r, store: st, signer: signer}
}

func (f *adminFixture) post(path, bearer, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestAdminRequiresBearerToken(t *testing.T) {
	f := newAdminFixture(t, adminSecret)

	tests := []struct {
		name   string
		bearer string
	}{
		{"missing", ""},
		{"wrong value", "not-the-token"},
		{"wrong length", adminSecret + "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.post("/api/admin/licenses", tt.bearer, `{}`)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "application/problem+json")
		})
	}
}

func TestAdminDisabledWhenNoTokenConfigured(t *testing.T) {
	f := newAdminFixture(t, "")

	rec := f.post("/api/admin/licenses", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Even an empty bearer never matches an empty configured token.
	req := httptest.NewRequest(http.MethodPost, "/api/admin/licenses", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer ")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminCreateLicense(t *testing.T) {
	f := newAdminFixture(t, adminSecret)

	rec := f.post("/api/admin/licenses", adminSecret,
		`{"customer_email":"dev@example.com","customer_name":"Dev","tier":"pro","product_id":"forms-plugin"}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp CreateLicenseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, license.IsValidFormat(resp.LicenseKey), "issued key must be well-formed: %s", resp.LicenseKey)
	require.NotNil(t, resp.License)
	assert.Equal(t, "pro", resp.License.Tier)
	assert.Equal(t, license.StatusActive, resp.License.Status)
	assert.Empty(t, resp.License.KeyHash, "key hash must not serialize")

	// The stored record resolves by the issued key's digest.
	found, err := f.store.FindByKeyHash(context.Background(), license.HashKey(resp.LicenseKey))
	require.NoError(t, err)
	assert.Equal(t, resp.License.ID, found.ID)
	assert.Equal(t, "dev@example.com", found.CustomerEmail)
}

func TestAdminCreateLicenseValidation(t *testing.T) {
	f := newAdminFixture(t, adminSecret)

	tests := []struct {
		name string
		body string
	}{
		{"missing email", `{"tier":"pro"}`},
		{"bad email", `{"customer_email":"not-an-email","tier":"pro"}`},
		{"missing tier", `{"customer_email":"dev@example.com"}`},
		{"negative max activations", `{"customer_email":"dev@example.com","tier":"pro","max_activations":-1}`},
		{"not json", `{nope`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.post("/api/admin/licenses", adminSecret, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAdminCreateLicenseWithPolicy(t *testing.T) {
	f := newAdminFixture(t, adminSecret)

	rec := f.post("/api/admin/licenses", adminSecret,
		`{"customer_email":"dev@example.com","tier":"agency","max_activations":50,
		  "policy":{"allowed_domains":["*.example.com"],"allowed_ips":["10.0.0.0/8"]}}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp CreateLicenseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 50, resp.License.MaxActivations)
	assert.Equal(t, []string{"*.example.com"}, resp.License.Policy.AllowedDomains)
}

func TestAdminIssueDownloadToken(t *testing.T) {
	f := newAdminFixture(t, adminSecret)

	rec := f.post("/api/admin/download-token", adminSecret,
		`{"plugin":"Forms-Plugin","license_id":"lic-1"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, true, doc["success"])
	assert.Equal(t, float64(3600), doc["expires_in"])

	// The minted token verifies against the lowercased plugin slug.
	tok, _ := doc["token"].(string)
	require.NotEmpty(t, tok)
	assert.NoError(t, f.signer.Verify("forms-plugin", tok, "lic-1"))
	assert.Error(t, f.signer.Verify("forms-plugin", tok, "other-license"))
}

func TestAdminIssueDownloadTokenRequiresPlugin(t *testing.T) {
	f := newAdminFixture(t, adminSecret)
	rec := f.post("/api/admin/download-token", adminSecret, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
