package http

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensegate/internal/config"
	"licensegate/internal/security"
	"licensegate/internal/token"
)

type downloadFixture struct {
	router chi.Router
	signer *token.Signer
	guard  *security.Guard
	dir    string
}

func newDownloadFixture(t *testing.T) *downloadFixture {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "forms-plugin.zip"), []byte("zip-bytes"), 0o644))

	counters := security.NewMemoryCounterStore()
	t.Cleanup(counters.Stop)
	guard := security.NewGuard(counters, config.GuardConfig{
		FailureThreshold: 3,
		FailureTTL:       15 * time.Minute,
		BlockDuration:    time.Hour,
	})
	signer := token.NewSigner("download-secret")

	r := chi.NewRouter()
	r.Mount("/api/download", NewDownloadHandler(signer, guard, dir, discardLogger()).Routes())
	return &downloadFixture{router: r, signer: signer, guard: guard, dir: dir}
}

func (f *downloadFixture) get(plugin, rawToken, licenseID string) *httptest.ResponseRecorder {
	target := "/api/download/" + plugin
	if rawToken != "" || licenseID != "" {
		q := url.Values{}
		q.Set("token", rawToken)
		if licenseID != "" {
			q.Set("license", licenseID)
		}
		target += "?" + q.Encode()
	}
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestDownloadSuccess(t *testing.T) {
	f := newDownloadFixture(t)
	tok := f.signer.Issue("forms-plugin", "lic-1", time.Hour)

	rec := f.get("forms-plugin", tok, "lic-1")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `forms-plugin.zip`)
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
	assert.Equal(t, "zip-bytes", rec.Body.String())
}

func TestDownloadRejectsMissingToken(t *testing.T) {
	f := newDownloadFixture(t)
	rec := f.get("forms-plugin", "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDownloadRejectsExpiredToken(t *testing.T) {
	f := newDownloadFixture(t)
	tok := f.signer.Issue("forms-plugin", "lic-1", -time.Second)
	rec := f.get("forms-plugin", tok, "lic-1")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDownloadRejectsTokenForOtherPlugin(t *testing.T) {
	f := newDownloadFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "other-plugin.zip"), []byte("x"), 0o644))

	tok := f.signer.Issue("forms-plugin", "lic-1", time.Hour)
	rec := f.get("other-plugin", tok, "lic-1")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDownloadRejectsBadPluginName(t *testing.T) {
	f := newDownloadFixture(t)
	tok := f.signer.Issue("..%2f..%2fetc%2fpasswd", "", time.Hour)

	rec := f.get("..%2f..%2fetc%2fpasswd", tok, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadMissingPackage(t *testing.T) {
	f := newDownloadFixture(t)
	tok := f.signer.Issue("absent-plugin", "", time.Hour)

	rec := f.get("absent-plugin", tok, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadRepeatedForgeriesBlockSource(t *testing.T) {
	f := newDownloadFixture(t)

	for i := 0; i < 3; i++ {
		rec := f.get("forms-plugin", "forged-token", "")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	}

	// Even a valid token is refused once the source is blocked.
	tok := f.signer.Issue("forms-plugin", "lic-1", time.Hour)
	rec := f.get("forms-plugin", tok, "lic-1")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.True(t, f.guard.IsBlocked("192.0.2.1"))
}
