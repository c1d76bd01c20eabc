package performance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensegate/internal/authority"
	apperrors "licensegate/internal/errors"
	"licensegate/internal/license"
	"licensegate/internal/middleware"
	"licensegate/internal/shared/testutil"
	handlers "licensegate/internal/transport/http"
)

const testHID = "hw-perf-0123456789"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// PerformanceTestSuite wires a validator and a gated router over an
// in-process authority
type PerformanceTestSuite struct {
	validator *license.Validator
	router    http.Handler
	authn     atomic.Int32
}

func newSuite(tb testing.TB, remote license.Authority) *PerformanceTestSuite {
	tb.Helper()
	logger := discardLogger()
	suite := &PerformanceTestSuite{}

	authn := license.AuthenticatorFunc(func(context.Context) license.AuthResult {
		suite.authn.Add(1)
		// slow enough for concurrent callers to pile up behind the first
		time.Sleep(20 * time.Millisecond)
		return license.AuthResult{Outcome: license.AuthSucceeded, UserID: testutil.UserID, Email: testutil.Email}
	})

	v, err := license.NewValidator(license.Options{
		Identity:      license.StaticIdentity(testHID),
		Sessions:      license.NewSessionCache(),
		Cache:         license.NewPersistentCache(filepath.Join(tb.TempDir(), "license_cache.json")),
		Authority:     remote,
		Authenticator: authn,
		Logger:        logger,
	})
	require.NoError(tb, err)
	suite.validator = v

	eh := apperrors.NewErrorHandler(logger, false)
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.NewLicenseGate(v, eh, logger).Handler)
	r.Mount("/api/protected", handlers.NewProtectedHandler(eh).Routes())
	suite.router = r
	return suite
}

func newTestAuthority(tb testing.TB) *authority.Service {
	svc, _ := testutil.SeededAuthority(tb, discardLogger())
	return svc
}

func BenchmarkValidateSession(b *testing.B) {
	suite := newSuite(b, newTestAuthority(b))
	_, err := suite.validator.Validate(context.Background())
	require.NoError(b, err)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := suite.validator.Validate(context.Background()); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func BenchmarkValidateDiskCache(b *testing.B) {
	suite := newSuite(b, newTestAuthority(b))
	_, err := suite.validator.Validate(context.Background())
	require.NoError(b, err)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// force the disk path every iteration
		suite.validator.Sessions().ClearSession()
		if _, err := suite.validator.Validate(context.Background()); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGatedRequest(b *testing.B) {
	suite := newSuite(b, newTestAuthority(b))
	_, err := suite.validator.Validate(context.Background())
	require.NoError(b, err)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			rec := httptest.NewRecorder()
			suite.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/protected/whoami", nil))
			if rec.Code != http.StatusOK {
				b.Fatalf("status %d", rec.Code)
			}
		}
	})
}

func TestConcurrentColdStartPromptsOnce(t *testing.T) {
	suite := newSuite(t, newTestAuthority(t))

	const workers = 50
	var wg sync.WaitGroup
	var ok, denied atomic.Int32

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			suite.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/protected/whoami", nil))
			if rec.Code == http.StatusOK {
				ok.Add(1)
			} else {
				denied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(workers), ok.Load())
	assert.Zero(t, denied.Load())
	assert.Equal(t, int32(1), suite.authn.Load(), "one sign-in serves every waiting request")
}

func TestConcurrentActivationAttempts(t *testing.T) {
	svc := newTestAuthority(t)
	srv := httptest.NewServer(authority.NewServer(svc, discardLogger(), authority.ServerOptions{
		RateLimitRPS:   10000,
		RateLimitBurst: 10000,
	}).Routes())
	defer srv.Close()

	client, err := authority.NewClient(authority.ClientOptions{BaseURL: srv.URL, Logger: discardLogger()})
	require.NoError(t, err)

	const machines = 20
	var wg sync.WaitGroup
	var granted, refused atomic.Int32

	start := time.Now()
	wg.Add(machines)
	for i := 0; i < machines; i++ {
		go func(i int) {
			defer wg.Done()
			hid := license.HardwareID(fmt.Sprintf("hw-machine-%02d", i))
			activated, err := client.ActivateHardware(context.Background(), testutil.UserID, hid)
			if err != nil {
				t.Errorf("machine %d: %v", i, err)
				return
			}
			if activated {
				granted.Add(1)
			} else {
				refused.Add(1)
			}
		}(i)
	}
	wg.Wait()
	t.Logf("%d activation attempts in %v", machines, time.Since(start))

	assert.Equal(t, int32(1), granted.Load(), "a single-seat license activates exactly one machine")
	assert.Equal(t, int32(machines-1), refused.Load())

	lic, err := svc.GetLicenseInfo(context.Background(), testutil.UserID)
	require.NoError(t, err)
	assert.Len(t, lic.Activations, 1)
}
