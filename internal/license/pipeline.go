package license

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"licensegate/internal/audit"
	apierrors "licensegate/internal/errors"
	"licensegate/internal/security"
)

// RecordStore is the license record store collaborator. The pipeline
// only requires these reads plus the ledger's atomicity guarantee; the
// schema behind them is an implementation detail.
type RecordStore interface {
	FindByKeyHash(ctx context.Context, keyHash string) (*License, error)
	CountActive(ctx context.Context, licenseID string) (int, error)
	Activate(ctx context.Context, licenseID string, capacity int, siteURL, siteHash string) (*Activation, int, error)
	Deactivate(ctx context.Context, licenseID, siteHash string) error
}

// Pipeline orchestrates the codec, catalog, policy evaluator, and
// activation ledger into the end-to-end validation decision. It holds
// no per-request state; every fact is re-derived from stored state.
type Pipeline struct {
	store     RecordStore
	catalog   *Catalog
	limiter   *security.RateLimiter
	guard     *security.Guard
	auditor   audit.Logger
	logger    *slog.Logger
	tracer    trace.Tracer
	salt      string
	cacheHint time.Duration
	now       func() time.Time
}

// NewPipeline wires the pipeline's collaborators.
func NewPipeline(store RecordStore, catalog *Catalog, limiter *security.RateLimiter, guard *security.Guard, auditor audit.Logger, logger *slog.Logger, salt string, cacheHint time.Duration) *Pipeline {
	return &Pipeline{
		store:     store,
		catalog:   catalog,
		limiter:   limiter,
		guard:     guard,
		auditor:   auditor,
		logger:    logger.With(slog.String("component", "pipeline")),
		tracer:    otel.Tracer("license-pipeline"),
		salt:      salt,
		cacheHint: cacheHint,
		now:       time.Now,
	}
}

type operation string

const (
	opValidate     operation = "validate"
	opValidateOnly operation = "validate_only"
	opDeactivate   operation = "deactivate"
)

func classFor(op operation) security.EndpointClass {
	if op == opDeactivate {
		return security.ClassDeactivate
	}
	return security.ClassValidate
}

// preflight runs the shared leading steps: guard, rate window, key
// sanitize + format, record lookup, status/expiry, and site identity.
// On success it returns the license and the derived site hash.
func (p *Pipeline) preflight(ctx context.Context, op operation, req ValidationRequest, meta RequestMeta) (*License, string, RateInfo, error) {
	class := classFor(op)

	// Blocked sources fail before any work or counters.
	if p.guard.IsBlocked(meta.SourceIP) {
		return nil, "", p.rateInfo(class, meta), apierrors.ErrForbidden
	}

	p.limiter.Record(class, meta.SourceIP)
	rate := p.rateInfo(class, meta)
	if p.limiter.IsLimited(class, meta.SourceIP) {
		return nil, "", rate, apierrors.ErrRateLimited
	}

	key := Sanitize(req.LicenseKey)
	if !IsValidFormat(key) {
		// Malformed keys are a scan signal.
		p.guard.RecordFailure(ctx, meta.SourceIP, security.FailureMalformedKey)
		return nil, "", rate, apierrors.ErrInvalidFormat
	}

	lic, err := p.store.FindByKeyHash(ctx, HashKey(key))
	if err != nil {
		return nil, "", rate, err
	}

	// Status and expiry are independent axes; both are checked, in
	// priority order revoked > suspended > expired.
	switch lic.Status {
	case StatusRevoked:
		return nil, "", rate, apierrors.ErrLicenseRevoked
	case StatusSuspended:
		return nil, "", rate, apierrors.ErrLicenseSuspended
	}
	if lic.Expired(p.now()) || lic.Status == StatusExpired {
		return nil, "", rate, apierrors.ErrLicenseExpired
	}

	if _, err := ParseSiteURL(req.SiteURL); err != nil {
		return nil, "", rate, apierrors.ErrInvalidSiteURL
	}

	return lic, SiteIdentity(req.SiteURL, p.salt), rate, nil
}

// Validate runs the full pipeline and commits an activation on success.
func (p *Pipeline) Validate(ctx context.Context, req ValidationRequest, meta RequestMeta) Result {
	ctx, span := p.tracer.Start(ctx, "pipeline.validate",
		trace.WithAttributes(attribute.String("source_ip", meta.SourceIP)))
	defer span.End()

	lic, siteHash, rate, err := p.preflight(ctx, opValidate, req, meta)
	if err != nil {
		return p.fail(ctx, opValidate, lic, req, meta, rate, err)
	}

	if decision := lic.Policy.Evaluate(meta.SourceIP, req.SiteURL, req.HardwareFingerprint); !decision.Allowed {
		p.guard.RecordFailure(ctx, meta.SourceIP, security.FailurePolicyViolation)
		err := fmt.Errorf("%w: %s", apierrors.ErrSecurityPolicyViolation, decision.FailedCheck)
		return p.fail(ctx, opValidate, lic, req, meta, rate, err)
	}

	capacity := p.catalog.MaxActivations(lic)
	act, used, err := p.store.Activate(ctx, lic.ID, capacity, req.SiteURL, siteHash)
	if err != nil {
		return p.fail(ctx, opValidate, lic, req, meta, rate, err)
	}

	span.SetAttributes(
		attribute.String("license.tier", lic.Tier),
		attribute.Int("license.activations_used", used),
	)
	activationsInUse.WithLabelValues(lic.Tier).Set(float64(used))

	p.audit(ctx, opValidate, lic.ID, req.SiteURL, meta.SourceIP, "success", "")
	validationOutcomes.WithLabelValues(string(opValidate), "success").Inc()

	p.logger.InfoContext(ctx, "license activated",
		slog.String("license_id", lic.ID),
		slog.String("tier", lic.Tier),
		slog.String("site_hash", act.SiteHash),
		slog.Int("activations_used", used),
		slog.Int("capacity", capacity),
	)

	def := p.catalog.Resolve(lic.Tier, lic.ProductID)
	return Result{
		Success:           true,
		Message:           "License validated and site activated.",
		Tier:              lic.Tier,
		Features:          def.Features,
		MaxActivations:    capacity,
		ActivationsUsed:   used,
		CacheDurationHint: p.cacheHint,
		Rate:              rate,
	}
}

// ValidateOnly checks entitlement without touching the ledger; used for
// periodic re-checks from already-activated sites.
func (p *Pipeline) ValidateOnly(ctx context.Context, req ValidationRequest, meta RequestMeta) Result {
	ctx, span := p.tracer.Start(ctx, "pipeline.validate_only",
		trace.WithAttributes(attribute.String("source_ip", meta.SourceIP)))
	defer span.End()

	lic, _, rate, err := p.preflight(ctx, opValidateOnly, req, meta)
	if err != nil {
		return p.fail(ctx, opValidateOnly, lic, req, meta, rate, err)
	}

	used, err := p.store.CountActive(ctx, lic.ID)
	if err != nil {
		return p.fail(ctx, opValidateOnly, lic, req, meta, rate, err)
	}

	p.audit(ctx, opValidateOnly, lic.ID, req.SiteURL, meta.SourceIP, "success", "")
	validationOutcomes.WithLabelValues(string(opValidateOnly), "success").Inc()

	def := p.catalog.Resolve(lic.Tier, lic.ProductID)
	return Result{
		Success:           true,
		Message:           "License is valid.",
		Tier:              lic.Tier,
		Features:          def.Features,
		MaxActivations:    p.catalog.MaxActivations(lic),
		ActivationsUsed:   used,
		CacheDurationHint: p.cacheHint,
		Rate:              rate,
	}
}

// Deactivate releases the calling site's activation slot.
func (p *Pipeline) Deactivate(ctx context.Context, req ValidationRequest, meta RequestMeta) Result {
	ctx, span := p.tracer.Start(ctx, "pipeline.deactivate",
		trace.WithAttributes(attribute.String("source_ip", meta.SourceIP)))
	defer span.End()

	lic, siteHash, rate, err := p.preflight(ctx, opDeactivate, req, meta)
	if err != nil {
		return p.fail(ctx, opDeactivate, lic, req, meta, rate, err)
	}

	if err := p.store.Deactivate(ctx, lic.ID, siteHash); err != nil {
		return p.fail(ctx, opDeactivate, lic, req, meta, rate, err)
	}

	used, err := p.store.CountActive(ctx, lic.ID)
	if err != nil {
		return p.fail(ctx, opDeactivate, lic, req, meta, rate, err)
	}

	p.audit(ctx, opDeactivate, lic.ID, req.SiteURL, meta.SourceIP, "success", "")
	validationOutcomes.WithLabelValues(string(opDeactivate), "success").Inc()

	return Result{
		Success:         true,
		Message:         "Site deactivated.",
		Tier:            lic.Tier,
		MaxActivations:  p.catalog.MaxActivations(lic),
		ActivationsUsed: used,
		Rate:            rate,
	}
}

// fail finalizes a failed request: metrics, audit, structured log. The
// decision itself never depends on any of those succeeding.
func (p *Pipeline) fail(ctx context.Context, op operation, lic *License, req ValidationRequest, meta RequestMeta, rate RateInfo, err error) Result {
	kind := apierrors.KindOf(err)

	licenseID := ""
	if lic != nil {
		licenseID = lic.ID
	}
	p.audit(ctx, op, licenseID, req.SiteURL, meta.SourceIP, "failure", string(kind))
	validationOutcomes.WithLabelValues(string(op), string(kind)).Inc()

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.String("outcome", string(kind)))
	}

	logFn := p.logger.WarnContext
	if kind == apierrors.KindServerError {
		logFn = p.logger.ErrorContext
	}
	logFn(ctx, "validation rejected",
		slog.String("operation", string(op)),
		slog.String("outcome", string(kind)),
		slog.String("ip", meta.SourceIP),
		slog.String("error", err.Error()),
	)

	message := err.Error()
	if !apierrors.Safe(kind) {
		message = "An unexpected error occurred while processing the request."
	}
	return Result{Err: err, Message: message, Rate: rate}
}

func (p *Pipeline) audit(ctx context.Context, op operation, licenseID, siteURL, ip, outcome, errorCode string) {
	p.auditor.Record(ctx, audit.Event{
		Timestamp: p.now().UTC(),
		EventType: string(op),
		LicenseID: licenseID,
		SiteURL:   siteURL,
		IP:        ip,
		Outcome:   outcome,
		ErrorCode: errorCode,
	})
}

func (p *Pipeline) rateInfo(class security.EndpointClass, meta RequestMeta) RateInfo {
	info := p.limiter.Info(class, meta.SourceIP)
	return RateInfo{
		Limit:     info.Limit,
		Remaining: info.Remaining,
		Reset:     info.Reset.Unix(),
	}
}
