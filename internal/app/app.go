// Package app assembles the service: configuration, logging, tracing,
// storage, the abuse-protection layer, the validation pipeline, and the
// HTTP server with graceful shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"licensegate/internal/audit"
	"licensegate/internal/config"
	"licensegate/internal/infrastructure"
	"licensegate/internal/license"
	custommw "licensegate/internal/middleware"
	"licensegate/internal/security"
	"licensegate/internal/store"
	"licensegate/internal/token"
	transport "licensegate/internal/transport/http"
)

// Application is the composition root.
type Application struct {
	Config   *config.Config
	Logger   *slog.Logger
	Router   *chi.Mux
	Server   *http.Server
	Store    *store.Store
	Counters *security.MemoryCounterStore
	Auditor  audit.Logger
	OTel     *infrastructure.OTelProviders
}

// New builds a fully wired application.
func New(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	otelProviders, err := infrastructure.InitializeOTel(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	counters := security.NewMemoryCounterStore()
	limiter := security.NewRateLimiter(counters, cfg.Security.RateLimits)
	guard := security.NewGuard(counters, cfg.Security.Guard)
	auditor := audit.NewSlogLogger(logger)

	overrides := map[string]map[string]license.TierDef(nil)
	if cfg.License.TierOverridesFile != "" {
		overrides, err = license.LoadOverrides(cfg.License.TierOverridesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load tier overrides: %w", err)
		}
	}
	catalog, err := license.NewCatalog(license.DefaultTiers(), overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to build tier catalog: %w", err)
	}

	pipeline := license.NewPipeline(st, catalog, limiter, guard, auditor,
		logger, cfg.License.SiteHashSalt, cfg.License.CacheDurationHint)

	signer := token.NewSigner(cfg.Download.Secret)

	router := buildRouter(cfg, logger, pipeline, signer, guard, st)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Application{
		Config:   cfg,
		Logger:   logger,
		Router:   router,
		Server:   server,
		Store:    st,
		Counters: counters,
		Auditor:  auditor,
		OTel:     otelProviders,
	}, nil
}

func buildRouter(cfg *config.Config, logger *slog.Logger, pipeline *license.Pipeline, signer *token.Signer, guard *security.Guard, st *store.Store) *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommw.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(custommw.StructuredLogger(logger))
	r.Use(custommw.Recoverer(logger))
	r.Use(custommw.CORS(cfg.Security.AllowedOrigins))
	r.Use(custommw.GlobalRateLimit(cfg.Security.GlobalRPS, cfg.Security.GlobalBurst))
	r.Use(chimiddleware.Timeout(cfg.Server.RequestTimeout))

	healthHandler := transport.NewHealthHandler()
	licenseHandler := transport.NewLicenseHandler(pipeline, logger)
	downloadHandler := transport.NewDownloadHandler(signer, guard, cfg.Download.PluginDir, logger)
	adminHandler := transport.NewAdminHandler(st, signer, cfg.Security.AdminToken, cfg.Download.TokenTTL, logger)

	r.Get("/health", healthHandler.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Mount("/license", licenseHandler.Routes())
		r.Mount("/download", downloadHandler.Routes())
		r.Mount("/admin", adminHandler.Routes())
	})

	return r
}

// Run starts the HTTP server and blocks until shutdown completes.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("server listening",
			slog.String("addr", a.Server.Addr),
			slog.String("service", infrastructure.ServiceName),
			slog.String("version", infrastructure.ServiceVersion),
		)
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.Close()
	return err
}

// Close releases the application's resources in reverse wiring order.
func (a *Application) Close() {
	a.Auditor.Close()
	a.Counters.Stop()
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn("failed to close store", slog.String("error", err.Error()))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.OTel.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("failed to shut down tracing", slog.String("error", err.Error()))
	}
	infrastructure.CloseLogFile()
}
