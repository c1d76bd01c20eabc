package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "licensegate/internal/errors"
	"licensegate/internal/license"
	"licensegate/internal/middleware"
)

// LicenseService is the validator surface the handler drives
type LicenseService interface {
	Validate(ctx context.Context) (license.Outcome, error)
	Sessions() *license.SessionCache
	Cache() *license.PersistentCache
}

// LicenseHandler serves /api/license
type LicenseHandler struct {
	service      LicenseService
	identity     license.HardwareIdentity
	errorHandler *apperrors.ErrorHandler
	logger       *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service LicenseService, identity license.HardwareIdentity, errorHandler *apperrors.ErrorHandler, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service:      service,
		identity:     identity,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "license")),
	}
}

// SessionView is the public part of a session
type SessionView struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	MachineID   string `json:"machine_id"`
	SavedAt     string `json:"saved_at"`
}

func newSessionView(s license.SessionData) *SessionView {
	return &SessionView{
		UserID:      s.UserID,
		Email:       s.Email,
		DisplayName: s.DisplayName,
		MachineID:   s.MachineID.Short(),
		SavedAt:     s.SavedAt.UTC().Format(time.RFC3339),
	}
}

// StatusResponse answers GET /api/license/status
type StatusResponse struct {
	HardwareID string              `json:"hardware_id"`
	Session    *SessionView        `json:"session"`
	Cache      license.CacheStatus `json:"cache"`
	Summary    string              `json:"summary"`
}

// ValidateResponse answers a successful POST /api/license/validate
type ValidateResponse struct {
	Status   string           `json:"status"`
	Evidence license.Evidence `json:"evidence"`
	Session  *SessionView     `json:"session"`
}

// Routes returns a chi router for license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.GetStatus)
	r.Post("/validate", h.Validate)
	r.Post("/logout", h.Logout)
	return r
}

// GetStatus handles GET /api/license/status. It never contacts the authority.
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		HardwareID: license.HardwareID(h.identity.HardwareID()).Short(),
		Cache:      h.service.Cache().Inspect(),
		Summary:    h.service.Cache().Status(),
	}
	if s, err := h.service.Sessions().GetSession(); err == nil {
		resp.Session = newSessionView(s)
	}
	render.JSON(w, r, resp)
}

// Validate handles POST /api/license/validate
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("licensegate/transport").Start(r.Context(), "license_handler.validate",
		trace.WithAttributes(attribute.String("request_id", middleware.GetRequestID(r.Context()))))
	defer span.End()

	outcome, err := h.service.Validate(ctx)
	if err != nil {
		var denial *license.Denial
		if errors.As(err, &denial) {
			render.Render(w, r, license.NewDenialResponse(denial, middleware.GetRequestID(ctx)))
			return
		}
		h.errorHandler.HandleError(w, r, apperrors.NewLicenseError("license validation failed", err))
		return
	}

	h.logger.InfoContext(ctx, "license validated",
		slog.String("evidence", string(outcome.Evidence)),
		slog.String("user_id", outcome.Session.UserID))

	render.JSON(w, r, ValidateResponse{
		Status:   "valid",
		Evidence: outcome.Evidence,
		Session:  newSessionView(outcome.Session),
	})
}

// Logout handles POST /api/license/logout. The disk cache is kept, so the
// next validation succeeds offline within the grace period.
func (h *LicenseHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.service.Sessions().ClearSession()
	h.logger.InfoContext(r.Context(), "session cleared")
	render.NoContent(w, r)
}
