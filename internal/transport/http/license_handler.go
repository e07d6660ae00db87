package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
	"licensegate/internal/license"
)

// LicenseHandler exposes the validation pipeline endpoints.
type LicenseHandler struct {
	pipeline *license.Pipeline
	validate *validator.Validate
	logger   *slog.Logger
}

// NewLicenseHandler creates the handler.
func NewLicenseHandler(pipeline *license.Pipeline, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		pipeline: pipeline,
		validate: validator.New(),
		logger:   logger.With(slog.String("handler", "license")),
	}
}

// Routes returns the chi router for license endpoints.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/validate", h.Validate)
	r.Post("/check", h.Check)
	r.Post("/deactivate", h.Deactivate)
	return r
}

// ValidationResponse is the success payload shape.
type ValidationResponse struct {
	Success           bool     `json:"success"`
	Message           string   `json:"message"`
	Tier              string   `json:"tier,omitempty"`
	Features          []string `json:"features,omitempty"`
	MaxActivations    int      `json:"max_activations,omitempty"`
	ActivationsUsed   int      `json:"activations_used,omitempty"`
	CacheDurationSecs int      `json:"cache_duration_hint,omitempty"`
}

// Validate handles POST /api/license/validate.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.pipeline.Validate)
}

// Check handles POST /api/license/check: entitlement status without
// touching the activation ledger.
func (h *LicenseHandler) Check(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.pipeline.ValidateOnly)
}

// Deactivate handles POST /api/license/deactivate.
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.pipeline.Deactivate)
}

// pipelineOp is the shared shape of the three pipeline entrypoints.
type pipelineOp func(ctx context.Context, req license.ValidationRequest, meta license.RequestMeta) license.Result

func (h *LicenseHandler) run(w http.ResponseWriter, r *http.Request, op pipelineOp) {
	ctx := r.Context()

	var req license.ValidationRequest
	if err := render.Decode(r, &req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode request",
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path))
		problem := apierrors.NewProblemDetails(
			http.StatusBadRequest,
			"/errors/invalid-request",
			"Invalid Request",
			"Request body must be valid JSON.",
			r.URL.Path,
		).WithExtension("trace_id", infrastructure.GetTraceID(ctx))
		render.Render(w, r, problem)
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		problem := apierrors.NewProblemDetails(
			http.StatusBadRequest,
			"/errors/validation",
			"Validation Failed",
			err.Error(),
			r.URL.Path,
		).WithExtension("trace_id", infrastructure.GetTraceID(ctx))
		render.Render(w, r, problem)
		return
	}

	meta := license.RequestMeta{
		SourceIP:  clientIP(r),
		UserAgent: r.UserAgent(),
	}

	result := op(ctx, req, meta)
	writeRateHeaders(w, result.Rate)

	if result.Err != nil {
		problem := apierrors.ProblemFromError(result.Err, r.URL.Path, infrastructure.GetTraceID(ctx))
		if apierrors.KindOf(result.Err) == apierrors.KindRateLimited {
			w.Header().Set("Retry-After", strconv.FormatInt(result.Rate.Reset, 10))
		}
		render.Render(w, r, problem)
		return
	}

	render.JSON(w, r, ValidationResponse{
		Success:           true,
		Message:           result.Message,
		Tier:              result.Tier,
		Features:          result.Features,
		MaxActivations:    result.MaxActivations,
		ActivationsUsed:   result.ActivationsUsed,
		CacheDurationSecs: int(result.CacheDurationHint.Seconds()),
	})
}

// writeRateHeaders attaches rate-limit metadata to every response
// regardless of outcome.
func writeRateHeaders(w http.ResponseWriter, rate license.RateInfo) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rate.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rate.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rate.Reset, 10))
}

// clientIP resolves the request's source IP. chi's RealIP middleware
// has already folded X-Forwarded-For / X-Real-IP into RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
