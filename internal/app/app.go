package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"licensegate/internal/config"
	apperrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
	"licensegate/internal/license"
	"licensegate/internal/middleware"
	handlers "licensegate/internal/transport/http"
)

// ServiceName identifies the host application in telemetry
const ServiceName = "licensed"

// Options overrides parts of the default wiring. Zero values use the defaults.
type Options struct {
	Config *config.Config
	Logger *slog.Logger
	// Identity defaults to the machine fingerprint
	Identity license.HardwareIdentity
	// Authority defaults to the HTTP client for Config.Authority
	Authority license.Authority
	// Authenticator defaults to a terminal prompt when the default authority
	// client is used, and to none otherwise
	Authenticator license.Authenticator
	// PromptIn and PromptOut default to stdin and stderr
	PromptIn  io.Reader
	PromptOut io.Writer
}

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Identity      license.HardwareIdentity
	Validator     *license.Validator
	Router        *chi.Mux
	Server        *http.Server

	errorHandler *apperrors.ErrorHandler
	ownsLogger   bool
}

// New creates a new application instance with dependency injection
func New(opts Options) (*Application, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(); err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
	}

	if err := cfg.DataPaths().EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create data directories: %w", err)
	}

	a := &Application{Config: cfg, Logger: opts.Logger}
	if a.Logger == nil {
		logger, err := infrastructure.InitializeLogger(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		a.Logger = logger
		a.ownsLogger = true
	}

	a.Logger.Info("Application starting",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion),
		slog.String("license_cache", cfg.License.CacheFile))

	providers, err := infrastructure.InitializeOTel(infrastructure.NewOTelConfig(ServiceName, cfg.Telemetry), a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	a.OTelProviders = providers

	if err := a.initializeLicensing(opts); err != nil {
		return nil, fmt.Errorf("failed to initialize licensing: %w", err)
	}

	if err := a.setupRouter(); err != nil {
		return nil, fmt.Errorf("failed to set up router: %w", err)
	}
	a.createServer()

	return a, nil
}

// initializeLicensing builds the validator and its collaborators
func (a *Application) initializeLicensing(opts Options) error {
	metrics, err := license.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return err
	}

	a.Validator, a.Identity, err = BuildValidator(a.Config, a.Logger, metrics, opts)
	return err
}

// setupRouter configures the HTTP router with all middleware and routes
func (a *Application) setupRouter() error {
	a.errorHandler = apperrors.NewErrorHandler(a.Logger, a.Config.Telemetry.Environment == "development")

	otelMW, err := middleware.NewOTelMiddleware(a.OTelProviders)
	if err != nil {
		return err
	}
	limiter := middleware.NewRateLimiter(a.Config.Server.RateLimitRPS, a.Config.Server.RateLimitBurst, a.Logger)
	gate := middleware.NewLicenseGate(a.Validator, a.errorHandler, a.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(otelMW.Handler)
	r.Use(middleware.StructuredLogger(a.Logger))
	r.Use(a.errorHandler.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(chimw.Timeout(a.Config.Server.WriteTimeout))
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.NotFound(a.errorHandler.NotFound)
	r.MethodNotAllowed(a.errorHandler.MethodNotAllowed)

	health := handlers.NewHealthHandler()
	r.Get("/healthz", health.HealthCheck)
	r.Get("/api/version", health.Version)
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Method(http.MethodGet, "/metrics", a.OTelProviders.PrometheusHTTP)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(limiter.Handler)
		r.Mount("/license", handlers.NewLicenseHandler(a.Validator, a.Identity, a.errorHandler, a.Logger).Routes())
		r.Group(func(r chi.Router) {
			r.Use(gate.Handler)
			r.Mount("/protected", handlers.NewProtectedHandler(a.errorHandler).Routes())
		})
	})

	a.Router = r
	return nil
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Start validates the license once and starts serving on ln, or on the
// configured port when ln is nil. A denial at startup is logged, not fatal:
// the license endpoints stay reachable so the user can see why.
func (a *Application) Start(ctx context.Context, ln net.Listener, cancel context.CancelFunc) error {
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", a.Server.Addr); err != nil {
			return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
		}
	}

	ctx = infrastructure.EnsureTraceID(ctx)
	outcome, err := a.Validator.Validate(ctx)
	if err != nil {
		infrastructure.WithError(a.Logger, err).WarnContext(ctx, "License not valid at startup")
	} else {
		a.Logger.InfoContext(ctx, "License valid at startup",
			slog.String("evidence", string(outcome.Evidence)),
			slog.String("user_id", outcome.Session.UserID))
	}

	go func() {
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			infrastructure.WithError(a.Logger, err).ErrorContext(ctx, "Server error")
			if cancel != nil {
				cancel()
			}
		}
	}()

	a.Logger.InfoContext(ctx, "Application started",
		slog.String("address", ln.Addr().String()))
	return nil
}

// Stop shuts the application down
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	var errs []error
	if err := a.Server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}

	a.Validator.Sessions().ClearSession()

	if err := a.OTelProviders.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	a.Logger.InfoContext(ctx, "Application stopped")
	if a.ownsLogger {
		if err := infrastructure.CloseLogFile(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Run starts the application and blocks until SIGINT/SIGTERM or a server error
func (a *Application) Run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := a.Start(ctx, nil, cancel); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, done := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer done()
	return a.Stop(shutdownCtx)
}
