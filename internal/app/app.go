// Package app wires configuration, storage, services and the HTTP router
// into a runnable server.
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
	"github.com/go-chi/render"

	"licenseapi/internal/config"
	"licenseapi/internal/infrastructure"
	customMiddleware "licenseapi/internal/middleware"
	"licenseapi/internal/notify"
	"licenseapi/internal/payment"
	"licenseapi/internal/services"
	"licenseapi/internal/store"
	handlers "licenseapi/internal/transport/http"
)

const (
	Version = "1.0.0"
	AppName = "license-server"
)

// BuildTime is set at compile time via -ldflags.
var BuildTime = ""

// Application is the dependency container for the license server.
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Store         store.Store
	Service       services.LicenseService
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.LicenseMetrics
}

// NewApplication loads configuration and builds the full dependency graph.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return NewApplicationWithConfig(cfg)
}

// NewApplicationWithConfig builds the application from an already-validated
// configuration. Tests use this to inject their own settings.
func NewApplicationWithConfig(cfg *config.Config) (*Application, error) {
	logger := infrastructure.InitializeLogger(cfg.Logging)

	logger.Info("application starting",
		slog.String("name", AppName),
		slog.String("version", Version))

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	metrics, err := infrastructure.CreateLicenseMetrics(otelProviders.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create license metrics: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
		Metrics:       metrics,
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices opens the store and builds the service layer.
func (a *Application) initializeServices() error {
	st, err := store.OpenSQLite(a.Config.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open license store: %w", err)
	}
	a.Store = st

	var notifier notify.EmailSender
	if a.Config.Email.Enabled {
		notifier = notify.NewResendClient(
			a.Config.Email.BaseURL,
			a.Config.Email.APIKey,
			a.Config.Email.From,
			a.Logger,
		)
	} else {
		a.Logger.Info("email notifications disabled, issued keys are returned in API responses only")
	}

	a.Service = services.NewLicenseService(
		st,
		notifier,
		services.IssuancePolicy{
			Validity:       a.Config.License.Validity,
			MaxActivations: a.Config.License.MaxActivations,
		},
		a.Metrics,
		a.Logger,
		services.WithNotifyTimeout(a.Config.Email.Timeout),
	)

	return nil
}

// setupRouter configures the HTTP router. Middleware ordering follows
// RequestID, RealIP, Logger, Recoverer, SecurityHeaders, CORS, RateLimiter,
// Timeout; /metrics sits outside the group to keep scrapes cheap.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	r.Group(func(r chi.Router) {
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.Logger))
		r.Use(customMiddleware.SecurityHeaders)
		r.Use(customMiddleware.CORS(a.corsConfig()))

		if a.Config.Security.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger,
			).Handler)
		}

		a.setupAPIRoutes(r)
	})

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

// setupAPIRoutes mounts the /api surface.
func (a *Application) setupAPIRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(customMiddleware.Timeout(a.Config.Server.ReadTimeout, a.Logger))

		healthHandler := handlers.NewHealthHandler(a.Store, Version, BuildTime)
		r.Get("/health", healthHandler.Liveness)
		r.Get("/health/ready", healthHandler.Readiness)
		r.Get("/version", healthHandler.Version)

		licenseHandler := handlers.NewLicenseHandler(a.Service, a.Config.Security.AdminToken, a.Logger)
		r.Mount("/license", licenseHandler.Routes())

		verifier, err := payment.NewVerifier(
			a.Config.Payment.WebhookSecret,
			payment.SignaturePolicy(a.Config.Payment.SignaturePolicy),
		)
		if err != nil {
			// Config validation already enforced the policy/secret pairing,
			// so this only fires on a programming error.
			panic(fmt.Sprintf("webhook verifier: %v", err))
		}

		var orders payment.OrderCreator
		if a.Config.Payment.KeyID != "" && a.Config.Payment.KeySecret != "" {
			orders = payment.NewRazorpayClient(
				a.Config.Payment.BaseURL,
				a.Config.Payment.KeyID,
				a.Config.Payment.KeySecret,
				a.Logger,
			)
		}

		paymentsHandler := handlers.NewPaymentsHandler(a.Service, orders, verifier, a.Metrics, a.Logger)
		r.Mount("/payments", paymentsHandler.Routes())

		updateHandler := handlers.NewUpdateHandler(a.Config.Update, a.Logger)
		r.Get("/update/check", updateHandler.Check)
	})
}

// corsConfig builds the CORS policy. The desktop plugin calls from
// non-browser origins, so the configured allow-list generally contains "*".
func (a *Application) corsConfig() customMiddleware.CORSConfig {
	return customMiddleware.CORSConfig{
		AllowedOrigins: a.Config.Security.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			"X-Request-ID",
			"X-Admin-Token",
			"X-Razorpay-Signature",
		},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
		Logger:         a.Logger,
	}
}

// createServer creates the HTTP server.
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Start begins serving. The server runs in a goroutine; a listen failure
// cancels the supplied context so Run can unwind.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "starting server",
		slog.Int("port", a.Config.Server.Port),
		slog.String("store_path", a.Config.Store.Path),
		slog.String("signature_policy", a.Config.Payment.SignaturePolicy))

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	return nil
}

// Stop gracefully stops the server, the store and the telemetry providers.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.ErrorContext(ctx, "error closing store", slog.String("error", err.Error()))
		}
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "shutdown complete")
	return nil
}

// Run runs the application until interrupted.
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "received interrupt signal")
	case <-ctx.Done():
	}

	// Fresh context: the run context is likely already cancelled.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 35*time.Second)
	defer stopCancel()
	return a.Stop(stopCtx)
}
