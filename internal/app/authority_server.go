package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"licensegate/internal/authority"
	"licensegate/internal/config"
	apperrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
	"licensegate/internal/middleware"
	"licensegate/internal/security"
)

// AuthorityServiceName identifies the license server in telemetry
const AuthorityServiceName = "license-server"

// AuthorityServer hosts the remote license authority
type AuthorityServer struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Service       *authority.Service
	Server        *http.Server

	ownsLogger bool
}

// NewAuthorityServer wires the configured backend store behind the authority
// HTTP API. A nil logger initializes the configured one.
func NewAuthorityServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*AuthorityServer, error) {
	s := &AuthorityServer{Config: cfg, Logger: logger}
	if s.Logger == nil {
		l, err := infrastructure.InitializeLogger(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		s.Logger = l
		s.ownsLogger = true
	}

	providers, err := infrastructure.InitializeOTel(infrastructure.NewOTelConfig(AuthorityServiceName, cfg.Telemetry), s.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	s.OTelProviders = providers

	store, err := openStore(ctx, cfg.AuthorityServer)
	if err != nil {
		return nil, err
	}
	tokens, err := security.NewTokenSigner(cfg.AuthorityServer.TokenSecret, cfg.AuthorityServer.TokenTTL)
	if err != nil {
		return nil, apperrors.NewConfigError("refresh token signer", err)
	}
	if cfg.AuthorityServer.TokenSecret == "" {
		s.Logger.Warn("No token secret configured, refresh tokens will not survive a restart")
	}
	s.Service = authority.NewService(store,
		authority.WithTokenSigner(tokens),
		authority.WithServiceLogger(s.Logger))

	otelMW, err := middleware.NewOTelMiddleware(providers)
	if err != nil {
		return nil, err
	}
	srv := authority.NewServer(s.Service, s.Logger, authority.ServerOptions{
		RateLimitRPS:   cfg.AuthorityServer.RateLimitRPS,
		RateLimitBurst: cfg.AuthorityServer.RateLimitBurst,
		OTel:           otelMW,
		Metrics:        providers.PrometheusHTTP,
	})

	s.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.AuthorityServer.Port),
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	s.Logger.Info("Authority server configured",
		slog.String("backend", cfg.AuthorityServer.Backend),
		slog.String("address", s.Server.Addr))
	return s, nil
}

// openStore selects the license store named by cfg.Backend
func openStore(ctx context.Context, cfg config.AuthorityServerConfig) (authority.Store, error) {
	switch cfg.Backend {
	case config.BackendSheets:
		svc, err := security.NewSheetsService(ctx, cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		return authority.NewSheetsStore(svc, cfg.SheetID, cfg.LicenseRange, cfg.AccountRange), nil
	case config.BackendMemory, "":
		store := authority.NewMemoryStore()
		if cfg.SeedFile != "" {
			if err := store.LoadSeedFile(cfg.SeedFile); err != nil {
				return nil, err
			}
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown authority backend: %s", cfg.Backend)
	}
}

// Start serves on ln, or on the configured port when ln is nil
func (s *AuthorityServer) Start(ctx context.Context, ln net.Listener, cancel context.CancelFunc) error {
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", s.Server.Addr); err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.Server.Addr, err)
		}
	}

	go func() {
		if err := s.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			infrastructure.WithError(s.Logger, err).ErrorContext(ctx, "Server error")
			if cancel != nil {
				cancel()
			}
		}
	}()

	s.Logger.InfoContext(ctx, "Authority server started", slog.String("address", ln.Addr().String()))
	return nil
}

// Stop shuts the server and telemetry down
func (s *AuthorityServer) Stop(ctx context.Context) error {
	var errs []error
	if err := s.Server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := s.OTelProviders.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	s.Logger.InfoContext(ctx, "Authority server stopped")
	if s.ownsLogger {
		if err := infrastructure.CloseLogFile(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Run serves until SIGINT/SIGTERM or a server error
func (s *AuthorityServer) Run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := s.Start(ctx, nil, cancel); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, done := context.WithTimeout(context.Background(), s.Config.Server.ShutdownTimeout)
	defer done()
	return s.Stop(shutdownCtx)
}
