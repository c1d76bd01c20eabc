package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apperrors "licensegate/internal/errors"
	"licensegate/internal/middleware"
)

// ProtectedHandler is the licensed API. Every route runs behind the license gate.
type ProtectedHandler struct {
	errorHandler *apperrors.ErrorHandler
}

// NewProtectedHandler creates a new protected handler
func NewProtectedHandler(errorHandler *apperrors.ErrorHandler) *ProtectedHandler {
	return &ProtectedHandler{errorHandler: errorHandler}
}

// Routes returns a chi router for protected endpoints
func (h *ProtectedHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/whoami", h.WhoAmI)
	return r
}

// WhoAmI handles GET /api/protected/whoami
func (h *ProtectedHandler) WhoAmI(w http.ResponseWriter, r *http.Request) {
	s, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		h.errorHandler.HandleError(w, r, apperrors.NewAuthError("no license session"))
		return
	}
	render.JSON(w, r, newSessionView(s))
}
