package http

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"licensegate/internal/security"
	"licensegate/internal/token"
)

// pluginNamePattern constrains plugin identifiers to slug form; anything
// else is treated as an unknown plugin before the filesystem is touched.
var pluginNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// DownloadHandler gates plugin binary downloads behind signed tokens.
type DownloadHandler struct {
	signer    *token.Signer
	guard     *security.Guard
	pluginDir string
	logger    *slog.Logger
}

// NewDownloadHandler creates the handler.
func NewDownloadHandler(signer *token.Signer, guard *security.Guard, pluginDir string, logger *slog.Logger) *DownloadHandler {
	return &DownloadHandler{
		signer:    signer,
		guard:     guard,
		pluginDir: pluginDir,
		logger:    logger.With(slog.String("handler", "download")),
	}
}

// Routes returns the chi router for the download endpoint.
func (h *DownloadHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{plugin}", h.Download)
	return r
}

// Download handles GET /api/download/{plugin}?token=...&license=...
// Responses: 400 unknown plugin, 403 invalid/expired token or
// path-escape attempt, 404 file absent.
func (h *DownloadHandler) Download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := clientIP(r)

	if h.guard.IsBlocked(ip) {
		http.Error(w, "access denied", http.StatusForbidden)
		return
	}

	plugin := strings.ToLower(chi.URLParam(r, "plugin"))
	if !pluginNamePattern.MatchString(plugin) {
		http.Error(w, "unknown plugin", http.StatusBadRequest)
		return
	}

	rawToken := r.URL.Query().Get("token")
	licenseID := r.URL.Query().Get("license")
	if err := h.signer.Verify(plugin, rawToken, licenseID); err != nil {
		// Forged or expired tokens are a scan signal.
		h.guard.RecordFailure(ctx, ip, security.FailureInvalidToken)
		h.logger.WarnContext(ctx, "download token rejected",
			slog.String("plugin", plugin),
			slog.String("ip", ip),
			slog.String("reason", err.Error()),
		)
		http.Error(w, "invalid or expired download token", http.StatusForbidden)
		return
	}

	// Resolve inside the plugin directory only; a traversal attempt in
	// the identifier must never reach the filesystem root.
	filename := plugin + ".zip"
	path := filepath.Join(h.pluginDir, filename)
	if rel, err := filepath.Rel(h.pluginDir, path); err != nil || strings.HasPrefix(rel, "..") {
		h.guard.RecordFailure(ctx, ip, security.FailureInvalidToken)
		http.Error(w, "access denied", http.StatusForbidden)
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		http.Error(w, "plugin package not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")

	http.ServeFile(w, r, path)

	h.logger.InfoContext(ctx, "plugin download served",
		slog.String("plugin", plugin),
		slog.String("ip", ip),
		slog.Int64("size_bytes", info.Size()),
	)
}
