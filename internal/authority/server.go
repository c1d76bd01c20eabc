package authority

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apperrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
	"licensegate/internal/license"
	"licensegate/internal/middleware"
)

// API paths
const (
	PathActivations = "/v1/activations"
	PathVerify      = "/v1/activations/verify"
	PathLicenses    = "/v1/licenses"
	PathLogin       = "/v1/auth/login"
	PathRefresh     = "/v1/auth/refresh"
)

// ActivationRequest names a machine on a user's license
type ActivationRequest struct {
	UserID     string `json:"user_id" validate:"required,max=128"`
	HardwareID string `json:"hardware_id" validate:"hardwareid"`
}

// ActivationResponse answers POST /v1/activations
type ActivationResponse struct {
	Activated bool `json:"activated"`
}

// VerifyResponse answers POST /v1/activations/verify
type VerifyResponse struct {
	Verified bool `json:"verified"`
}

// LoginRequest is a password sign-in
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest renews a session
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,max=4096"`
}

// ServerOptions tunes the authority's HTTP surface
type ServerOptions struct {
	RateLimitRPS   float64
	RateLimitBurst int
	// OTel instruments requests when set
	OTel *middleware.OTelMiddleware
	// Metrics is mounted at /metrics when set
	Metrics http.Handler
}

// Server exposes a Service over HTTP
type Server struct {
	service      *Service
	validator    *middleware.RequestValidator
	errorHandler *apperrors.ErrorHandler
	limiter      *middleware.RateLimiter
	opts         ServerOptions
	logger       *slog.Logger
}

// NewServer creates the HTTP front end for service
func NewServer(service *Service, logger *slog.Logger, opts ServerOptions) *Server {
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 5
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 10
	}
	return &Server{
		service:      service,
		validator:    middleware.NewRequestValidator(),
		errorHandler: apperrors.NewErrorHandler(logger, false),
		limiter:      middleware.NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst, logger),
		opts:         opts,
		logger:       infrastructure.WithComponent(logger, "authority_server"),
	}
}

// Routes builds the router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if s.opts.OTel != nil {
		r.Use(s.opts.OTel.Handler)
	}
	r.Use(middleware.StructuredLogger(s.logger))
	r.Use(s.errorHandler.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.NotFound(s.errorHandler.NotFound)
	r.MethodNotAllowed(s.errorHandler.MethodNotAllowed)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.limiter.Handler)
		r.Use(chimw.AllowContentType("application/json"))

		r.Post(PathActivations, s.handleActivate)
		r.Delete(PathActivations, s.handleDeactivate)
		r.Post(PathVerify, s.handleVerify)
		r.Post(PathLogin, s.handleLogin)
		r.Post(PathRefresh, s.handleRefresh)
	})

	r.With(s.limiter.Handler).Get(PathLicenses+"/{userID}", s.handleGetLicense)

	return r
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req ActivationRequest
	if err := s.validator.Decode(r, &req); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	ok, err := s.service.ActivateHardware(r.Context(), req.UserID, license.HardwareID(req.HardwareID))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, ActivationResponse{Activated: ok})
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	var req ActivationRequest
	if err := s.validator.Decode(r, &req); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	if err := s.service.Deactivate(r.Context(), req.UserID, license.HardwareID(req.HardwareID)); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req ActivationRequest
	if err := s.validator.Decode(r, &req); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	ok, err := s.service.VerifyActivation(r.Context(), req.UserID, license.HardwareID(req.HardwareID))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, VerifyResponse{Verified: ok})
}

func (s *Server) handleGetLicense(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	lic, err := s.service.GetLicenseInfo(r.Context(), userID)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	if lic == nil {
		s.errorHandler.HandleError(w, r, apperrors.NewNotFoundError("license"))
		return
	}
	render.JSON(w, r, lic)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := s.validator.Decode(r, &req); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	res, err := s.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := s.validator.Decode(r, &req); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	res, err := s.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}
