package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	apperrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
	"licensegate/internal/license"
)

// LicenseValidator is the part of license.Validator the gate needs
type LicenseValidator interface {
	Validate(ctx context.Context) (license.Outcome, error)
}

type sessionKey struct{}

// EvidenceHeader reports which validation tier admitted the request
const EvidenceHeader = "X-License-Evidence"

// LicenseGate rejects requests unless the license validates
type LicenseGate struct {
	validator       LicenseValidator
	errorHandler    *apperrors.ErrorHandler
	logger          *slog.Logger
	excludePaths    map[string]struct{}
	excludePrefixes []string
}

// NewLicenseGate creates a gate. Health and license endpoints are open so a
// denied client can still see why.
func NewLicenseGate(v LicenseValidator, errorHandler *apperrors.ErrorHandler, logger *slog.Logger) *LicenseGate {
	return &LicenseGate{
		validator:       v,
		errorHandler:    errorHandler,
		logger:          infrastructure.WithComponent(logger, "license_gate"),
		excludePaths:    map[string]struct{}{"/healthz": {}, "/readyz": {}, "/metrics": {}},
		excludePrefixes: []string{"/api/license/"},
	}
}

// AddExcludePath opens an exact path
func (g *LicenseGate) AddExcludePath(path string) {
	g.excludePaths[path] = struct{}{}
}

// AddExcludePrefix opens every path under prefix
func (g *LicenseGate) AddExcludePrefix(prefix string) {
	g.excludePrefixes = append(g.excludePrefixes, prefix)
}

func (g *LicenseGate) excluded(path string) bool {
	if _, ok := g.excludePaths[path]; ok {
		return true
	}
	for _, prefix := range g.excludePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Handler returns the middleware handler function
func (g *LicenseGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.excluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		outcome, err := g.validator.Validate(ctx)
		if err != nil {
			var denial *license.Denial
			if errors.As(err, &denial) {
				g.logger.WarnContext(ctx, "request denied by license",
					slog.String("reason", string(denial.Reason)),
					slog.String("path", r.URL.Path))
				render.Render(w, r, license.NewDenialResponse(denial, GetRequestID(ctx)))
				return
			}
			// fail closed on anything the validator could not classify
			g.errorHandler.HandleError(w, r, apperrors.NewLicenseError("license validation failed", err))
			return
		}

		w.Header().Set(EvidenceHeader, string(outcome.Evidence))
		next.ServeHTTP(w, r.WithContext(WithSession(ctx, outcome.Session)))
	})
}

// WithSession stores the validated session on ctx
func WithSession(ctx context.Context, s license.SessionData) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session stored by the gate
func SessionFromContext(ctx context.Context) (license.SessionData, bool) {
	s, ok := ctx.Value(sessionKey{}).(license.SessionData)
	return s, ok
}
