package license

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// testClock is a settable time source
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testEpoch}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeAuthority is an in-memory Authority that counts calls
type fakeAuthority struct {
	mu       sync.Mutex
	licenses map[string]*License

	delay     time.Duration
	err       error
	verifyOff bool

	activateCalls atomic.Int32
	verifyCalls   atomic.Int32
	infoCalls     atomic.Int32
}

func newFakeAuthority(licenses ...License) *fakeAuthority {
	f := &fakeAuthority{licenses: make(map[string]*License)}
	for _, l := range licenses {
		l := l.Clone()
		f.licenses[l.UserID] = &l
	}
	return f
}

func (f *fakeAuthority) wait() error {
	if f.delay > 0 {
		// deliberately ignores ctx so callers must stop waiting on their own
		time.Sleep(f.delay)
	}
	return f.err
}

func (f *fakeAuthority) ActivateHardware(_ context.Context, userID string, hid HardwareID) (bool, error) {
	f.activateCalls.Add(1)
	if err := f.wait(); err != nil {
		return false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	lic, ok := f.licenses[userID]
	if !ok {
		return false, nil
	}
	if lic.IsHardwareActivated(hid) {
		return true, nil
	}
	if !lic.HasFreeActivation() {
		return false, nil
	}
	lic.Activations = append(lic.Activations, hid)
	return true, nil
}

func (f *fakeAuthority) VerifyActivation(_ context.Context, userID string, hid HardwareID) (bool, error) {
	f.verifyCalls.Add(1)
	if err := f.wait(); err != nil {
		return false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	lic, ok := f.licenses[userID]
	if !ok || f.verifyOff {
		return false, nil
	}
	lic.ValidationCount++
	return lic.IsHardwareActivated(hid), nil
}

func (f *fakeAuthority) GetLicenseInfo(_ context.Context, userID string) (*License, error) {
	f.infoCalls.Add(1)
	if err := f.wait(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	lic, ok := f.licenses[userID]
	if !ok {
		return nil, nil
	}
	out := lic.Clone()
	return &out, nil
}

func (f *fakeAuthority) remoteCalls() int {
	return int(f.activateCalls.Load() + f.verifyCalls.Load() + f.infoCalls.Load())
}

// fakeAuthenticator returns a fixed result and counts prompts
type fakeAuthenticator struct {
	result AuthResult
	delay  time.Duration
	calls  atomic.Int32
}

func (a *fakeAuthenticator) Authenticate(ctx context.Context) AuthResult {
	a.calls.Add(1)
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return AuthResult{Outcome: AuthCancelled, Err: ctx.Err()}
		}
	}
	return a.result
}

func succeedAs(userID string) *fakeAuthenticator {
	return &fakeAuthenticator{result: AuthResult{
		Outcome:      AuthSucceeded,
		UserID:       userID,
		Email:        userID + "@example.com",
		DisplayName:  "Test User",
		RefreshToken: "refresh-" + userID,
	}}
}

func activeLicense(userID string, activations ...HardwareID) License {
	return License{
		UserID:         userID,
		Email:          userID + "@example.com",
		IsActive:       true,
		Activations:    activations,
		MaxActivations: 1,
		LicenseType:    "standard",
	}
}

// harness bundles a validator with its collaborators
type harness struct {
	clock     *testClock
	cache     *PersistentCache
	sessions  *SessionCache
	authority *fakeAuthority
	auth      *fakeAuthenticator
	validator *Validator
}

type harnessOption func(*Options)

func withAuthenticator(a Authenticator) harnessOption {
	return func(o *Options) { o.Authenticator = a }
}

func newHarness(t *testing.T, hid string, authority *fakeAuthority, opts ...harnessOption) *harness {
	t.Helper()

	clock := newTestClock()
	cache := NewPersistentCache(filepath.Join(t.TempDir(), "license_cache.json"),
		WithClock(clock.Now), WithCacheLogger(discardLogger()))

	h := &harness{
		clock:     clock,
		cache:     cache,
		sessions:  NewSessionCache(),
		authority: authority,
	}

	o := Options{
		Identity:        StaticIdentity(hid),
		Sessions:        h.sessions,
		Cache:           cache,
		Authority:       authority,
		VerifyTimeout:   50 * time.Millisecond,
		ActivateTimeout: 50 * time.Millisecond,
		Now:             clock.Now,
		Logger:          discardLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if fa, ok := o.Authenticator.(*fakeAuthenticator); ok {
		h.auth = fa
	}

	v, err := NewValidator(o)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	h.validator = v
	return h
}

// seedCache writes lic with the given cache age and time since last revalidation
func (h *harness) seedCache(t *testing.T, lic License, cachedAgo, revalidatedAgo time.Duration) {
	t.Helper()
	now := h.clock.Now()
	writeRecord(t, h.cache.Path(), cacheRecord{
		Version:           cacheRecordVersion,
		License:           lic,
		CachedAt:          now.Add(-cachedAgo),
		LastRevalidatedAt: now.Add(-revalidatedAgo),
	})
}

func writeRecord(t *testing.T, path string, rec cacheRecord) {
	t.Helper()
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write record: %v", err)
	}
}
