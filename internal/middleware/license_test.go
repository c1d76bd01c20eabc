package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "licensegate/internal/errors"
	"licensegate/internal/license"
)

type stubValidator struct {
	outcome license.Outcome
	err     error
	calls   int
}

func (s *stubValidator) Validate(context.Context) (license.Outcome, error) {
	s.calls++
	return s.outcome, s.err
}

func newGate(v LicenseValidator) *LicenseGate {
	return NewLicenseGate(v, apperrors.NewErrorHandler(testLogger(), false), testLogger())
}

func TestLicenseGate_Admits(t *testing.T) {
	v := &stubValidator{outcome: license.Outcome{
		Session:  license.SessionData{UserID: "u1", Email: "a@example.com"},
		Evidence: license.EvidenceDiskCache,
	}}

	var got license.SessionData
	h := newGate(v).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := SessionFromContext(r.Context())
		require.True(t, ok)
		got = s
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "disk_cache", rec.Header().Get(EvidenceHeader))
}

func TestLicenseGate_Denies(t *testing.T) {
	tests := []struct {
		name   string
		denial *license.Denial
		status int
	}{
		{"expired", &license.Denial{Reason: license.ReasonExpired}, http.StatusForbidden},
		{"auth required", &license.Denial{Reason: license.ReasonAuthenticationRequired}, http.StatusUnauthorized},
		{"timeout", &license.Denial{Reason: license.ReasonTimeout, CacheRejection: license.ReasonCacheExpired}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newGate(&stubValidator{err: tt.denial}).Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatal("handler must not run")
			}))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports", nil))

			assert.Equal(t, tt.status, rec.Code)
			var body license.DenialResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.denial.Reason, body.Reason)
			assert.Equal(t, tt.denial.Message(), body.Message)
		})
	}
}

func TestLicenseGate_UnexpectedError(t *testing.T) {
	h := newGate(&stubValidator{err: errors.New("boom")}).Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apperrors.TypeForbidden, body["type"])
	assert.Equal(t, "LICENSE", body["error_type"])
}

func TestLicenseGate_ExcludedPaths(t *testing.T) {
	v := &stubValidator{err: &license.Denial{Reason: license.ReasonExpired}}
	g := newGate(v)
	g.AddExcludePath("/public")
	g.AddExcludePrefix("/static/")

	h := g.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, path := range []string{"/healthz", "/api/license/status", "/public", "/static/app.js"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNoContent, rec.Code, path)
	}
	assert.Zero(t, v.calls)
}
