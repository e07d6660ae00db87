package http

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
	"licensegate/internal/license"
	"licensegate/internal/store"
	"licensegate/internal/token"
)

// AdminHandler is the small administrative surface: issuing license
// keys and minting download tokens. The dashboard proper lives outside
// this service.
type AdminHandler struct {
	store    *store.Store
	signer   *token.Signer
	validate *validator.Validate
	token    string
	tokenTTL time.Duration
	logger   *slog.Logger
}

// NewAdminHandler creates the handler. An empty admin token disables
// the whole surface.
func NewAdminHandler(st *store.Store, signer *token.Signer, adminToken string, tokenTTL time.Duration, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		store:    st,
		signer:   signer,
		validate: validator.New(),
		token:    adminToken,
		tokenTTL: tokenTTL,
		logger:   logger.With(slog.String("handler", "admin")),
	}
}

// Routes returns the chi router for admin endpoints.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.requireAdmin)
	r.Post("/licenses", h.CreateLicense)
	r.Post("/download-token", h.IssueDownloadToken)
	return r
}

func (h *AdminHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		authHeader := r.Header.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)

		authorized := h.token != "" &&
			len(parts) == 2 &&
			strings.EqualFold(parts[0], "bearer") &&
			len(parts[1]) == len(h.token) &&
			subtle.ConstantTimeCompare([]byte(parts[1]), []byte(h.token)) == 1

		if !authorized {
			problem := apierrors.NewProblemDetails(
				http.StatusUnauthorized,
				"/errors/unauthorized",
				"Unauthorized",
				"A valid admin bearer token is required.",
				r.URL.Path,
			).WithExtension("trace_id", infrastructure.GetTraceID(ctx))
			render.Render(w, r, problem)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CreateLicenseRequest is the admin license issuance payload.
type CreateLicenseRequest struct {
	CustomerEmail  string         `json:"customer_email" validate:"required,email"`
	CustomerName   string         `json:"customer_name,omitempty"`
	ProductID      string         `json:"product_id,omitempty"`
	Tier           string         `json:"tier" validate:"required"`
	MaxActivations int            `json:"max_activations,omitempty" validate:"omitempty,min=1"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	Policy         license.Policy `json:"policy,omitempty"`
}

// CreateLicenseResponse returns the raw key exactly once, at issuance.
// Only its hash is stored.
type CreateLicenseResponse struct {
	Success    bool             `json:"success"`
	LicenseKey string           `json:"license_key"`
	License    *license.License `json:"license"`
}

// CreateLicense handles POST /api/admin/licenses. Key generation
// retries on the (astronomically unlikely) hash collision with an
// existing record.
func (h *AdminHandler) CreateLicense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateLicenseRequest
	if err := render.Decode(r, &req); err != nil {
		h.badRequest(w, r, "Request body must be valid JSON.")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.badRequest(w, r, err.Error())
		return
	}

	var key string
	var lic *license.License
	for attempt := 0; attempt < 3; attempt++ {
		generated, err := license.GenerateKey()
		if err != nil {
			h.serverError(w, r, err)
			return
		}
		candidate := &license.License{
			KeyHash:        license.HashKey(generated),
			CustomerEmail:  req.CustomerEmail,
			CustomerName:   req.CustomerName,
			ProductID:      req.ProductID,
			Tier:           req.Tier,
			Status:         license.StatusActive,
			MaxActivations: req.MaxActivations,
			Policy:         req.Policy,
			ExpiresAt:      req.ExpiresAt,
		}
		if err := h.store.CreateLicense(ctx, candidate); err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				continue
			}
			h.serverError(w, r, err)
			return
		}
		key, lic = generated, candidate
		break
	}
	if lic == nil {
		h.serverError(w, r, apierrors.ErrInvalidLicenseKey)
		return
	}

	h.logger.InfoContext(ctx, "license issued",
		slog.String("license_id", lic.ID),
		slog.String("tier", lic.Tier),
		slog.String("product_id", lic.ProductID),
	)

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, CreateLicenseResponse{
		Success:    true,
		LicenseKey: key,
		License:    lic,
	})
}

// DownloadTokenRequest is the token minting payload.
type DownloadTokenRequest struct {
	Plugin    string `json:"plugin" validate:"required"`
	LicenseID string `json:"license_id,omitempty"`
}

// IssueDownloadToken handles POST /api/admin/download-token.
func (h *AdminHandler) IssueDownloadToken(w http.ResponseWriter, r *http.Request) {
	var req DownloadTokenRequest
	if err := render.Decode(r, &req); err != nil {
		h.badRequest(w, r, "Request body must be valid JSON.")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.badRequest(w, r, err.Error())
		return
	}

	signed := h.signer.Issue(strings.ToLower(req.Plugin), req.LicenseID, h.tokenTTL)
	render.JSON(w, r, map[string]interface{}{
		"success":    true,
		"token":      signed,
		"expires_in": int(h.tokenTTL.Seconds()),
	})
}

func (h *AdminHandler) badRequest(w http.ResponseWriter, r *http.Request, detail string) {
	problem := apierrors.NewProblemDetails(
		http.StatusBadRequest,
		"/errors/invalid-request",
		"Invalid Request",
		detail,
		r.URL.Path,
	).WithExtension("trace_id", infrastructure.GetTraceID(r.Context()))
	render.Render(w, r, problem)
}

func (h *AdminHandler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.ErrorContext(r.Context(), "admin operation failed",
		slog.String("error", err.Error()),
		slog.String("path", r.URL.Path),
	)
	problem := apierrors.NewProblemDetails(
		http.StatusInternalServerError,
		apierrors.TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred while processing the request.",
		r.URL.Path,
	).WithExtension("trace_id", infrastructure.GetTraceID(r.Context()))
	render.Render(w, r, problem)
}
