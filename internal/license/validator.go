package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	apperrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
)

const (
	// DefaultVerifyTimeout bounds VerifyActivation and GetLicenseInfo
	DefaultVerifyTimeout = 10 * time.Second
	// DefaultActivateTimeout bounds ActivateHardware
	DefaultActivateTimeout = 15 * time.Second
)

var (
	// ErrActivationRejected means the authority refused to confirm or grant an activation
	ErrActivationRejected = errors.New("activation rejected by authority")
	// ErrLicenseNotFound means the authority has no license for the user
	ErrLicenseNotFound = errors.New("license not found")
	// ErrLicenseInvalid means the authority's license is inactive or expired
	ErrLicenseInvalid = errors.New("license not valid")
	// ErrAuthorityUnavailable marks transport failures talking to the authority
	ErrAuthorityUnavailable = errors.New("license authority unavailable")
)

// Evidence says which tier produced a successful validation
type Evidence string

const (
	EvidenceSession     Evidence = "session"
	EvidenceDiskCache   Evidence = "disk_cache"
	EvidenceRevalidated Evidence = "revalidated"
	EvidenceGracePeriod Evidence = "grace_period"
	EvidenceColdStart   Evidence = "cold_start"
)

// Outcome is a successful validation
type Outcome struct {
	Session  SessionData
	Evidence Evidence
}

// Options wires a Validator. Identity, Sessions, Cache and Authority are required.
type Options struct {
	Identity      HardwareIdentity
	Sessions      *SessionCache
	Cache         *PersistentCache
	Authority     Authority
	Authenticator Authenticator

	VerifyTimeout   time.Duration
	ActivateTimeout time.Duration

	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *Metrics
}

// Validator decides whether a protected operation may run
type Validator struct {
	identity      HardwareIdentity
	sessions      *SessionCache
	cache         *PersistentCache
	authority     Authority
	authenticator Authenticator

	verifyTimeout   time.Duration
	activateTimeout time.Duration

	now     func() time.Time
	logger  *slog.Logger
	metrics *Metrics

	// collapses concurrent revalidations and login prompts into one
	flight singleflight.Group
}

// NewValidator creates a Validator from opts
func NewValidator(opts Options) (*Validator, error) {
	switch {
	case opts.Identity == nil:
		return nil, apperrors.NewConfigError("validator requires a hardware identity", nil)
	case opts.Sessions == nil:
		return nil, apperrors.NewConfigError("validator requires a session cache", nil)
	case opts.Cache == nil:
		return nil, apperrors.NewConfigError("validator requires a persistent cache", nil)
	case opts.Authority == nil:
		return nil, apperrors.NewConfigError("validator requires a license authority", nil)
	}

	v := &Validator{
		identity:        opts.Identity,
		sessions:        opts.Sessions,
		cache:           opts.Cache,
		authority:       opts.Authority,
		authenticator:   opts.Authenticator,
		verifyTimeout:   opts.VerifyTimeout,
		activateTimeout: opts.ActivateTimeout,
		now:             opts.Now,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
	}
	if v.verifyTimeout <= 0 {
		v.verifyTimeout = DefaultVerifyTimeout
	}
	if v.activateTimeout <= 0 {
		v.activateTimeout = DefaultActivateTimeout
	}
	if v.now == nil {
		v.now = time.Now
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	v.logger = infrastructure.WithComponent(v.logger, "license_validator")

	return v, nil
}

// Sessions returns the session cache the validator promotes into
func (v *Validator) Sessions() *SessionCache {
	return v.sessions
}

// Cache returns the disk cache
func (v *Validator) Cache() *PersistentCache {
	return v.cache
}

// Validate returns the current session or a *Denial. Tiers are tried in order:
// in-process session, disk cache, authority revalidation, interactive login.
func (v *Validator) Validate(ctx context.Context) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "license.Validate")
	defer span.End()

	outcome, err := v.validate(ctx)
	if err != nil {
		var denial *Denial
		if errors.As(err, &denial) {
			v.metrics.recordDenial(ctx, denial.Reason)
			span.SetAttributes(attribute.String("license.denial", string(denial.Reason)))
		}
		infrastructure.RecordError(ctx, err)
		return Outcome{}, err
	}

	v.metrics.recordValidation(ctx, outcome.Evidence)
	span.SetAttributes(attribute.String("license.evidence", string(outcome.Evidence)))
	return outcome, nil
}

func (v *Validator) validate(ctx context.Context) (Outcome, error) {
	if session, err := v.sessions.GetSession(); err == nil {
		return Outcome{Session: session, Evidence: EvidenceSession}, nil
	}

	hid := HardwareID(v.identity.HardwareID())

	cached, ok := v.cache.Load()
	if !ok {
		v.metrics.recordCacheLoad(ctx, "miss")
		return v.coldStart(ctx, hid, "")
	}

	var rejection DenialReason
	switch {
	case !v.cache.IsCacheValid(cached):
		rejection = ReasonCacheExpired
	case !cached.License.IsHardwareActivated(hid):
		rejection = ReasonHardwareMismatch
	}

	if rejection != "" {
		v.metrics.recordCacheLoad(ctx, "rejected")
		logAction(ctx, v.logger, slog.LevelWarn, "cache_check", "rejected",
			slog.String("reason", string(rejection)),
			slog.String("user_id", cached.License.UserID),
			slog.Time("cached_at", cached.CachedAt),
			slog.String("hardware_id", hid.Short()))
		return v.coldStart(ctx, hid, rejection)
	}

	v.metrics.recordCacheLoad(ctx, "hit")
	return v.fromCache(ctx, cached, hid)
}

// fromCache handles a usable disk cache, revalidating it when due
func (v *Validator) fromCache(ctx context.Context, cached *CachedLicense, hid HardwareID) (Outcome, error) {
	if !v.cache.NeedsRevalidation(cached) {
		return v.promote(cached.License, hid, nil, EvidenceDiskCache), nil
	}

	// the shared call must not die with whichever caller started it
	shared := context.WithoutCancel(ctx)
	key := "revalidate:" + cached.License.UserID + ":" + string(hid)
	ch := v.flight.DoChan(key, func() (interface{}, error) {
		lic, err := v.revalidate(shared, cached.License.UserID, hid)
		if err != nil {
			return nil, err
		}
		if _, err := v.cache.Save(*lic); err != nil {
			logAction(shared, v.logger, slog.LevelWarn, "cache_save", "failed",
				slog.String("user_id", lic.UserID),
				slog.String("error", err.Error()))
		}
		return lic, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.Err = ctx.Err()
	}
	if res.Err != nil {
		logAction(ctx, v.logger, slog.LevelWarn, "revalidate", "grace_fallback",
			slog.String("user_id", cached.License.UserID),
			slog.String("error", res.Err.Error()),
			slog.Time("cached_at", cached.CachedAt),
			slog.Bool("shared", res.Shared))
		return v.promote(cached.License, hid, nil, EvidenceGracePeriod), nil
	}

	refreshed := res.Val.(*License)

	logAction(ctx, v.logger, slog.LevelInfo, "revalidate", "success",
		slog.String("user_id", refreshed.UserID),
		slog.Bool("shared", res.Shared))
	return v.promote(*refreshed, hid, nil, EvidenceRevalidated), nil
}

// revalidate asks the authority to confirm the activation and returns the fresh license
func (v *Validator) revalidate(ctx context.Context, userID string, hid HardwareID) (*License, error) {
	verified, err := callAuthority(ctx, v, "verify_activation", v.verifyTimeout,
		func(ctx context.Context) (bool, error) {
			return v.authority.VerifyActivation(ctx, userID, hid)
		})
	if err != nil {
		return nil, err
	}
	if !verified {
		return nil, ErrActivationRejected
	}

	lic, err := callAuthority(ctx, v, "get_license_info", v.verifyTimeout,
		func(ctx context.Context) (*License, error) {
			return v.authority.GetLicenseInfo(ctx, userID)
		})
	if err != nil {
		return nil, err
	}
	if lic == nil {
		return nil, ErrLicenseNotFound
	}
	if !lic.IsValidNow(v.now()) {
		return nil, ErrLicenseInvalid
	}

	return lic, nil
}

type coldStartResult struct {
	outcome Outcome
	err     error
}

// coldStart authenticates the user and activates this machine. Concurrent
// callers share one login prompt. The prompt runs detached from the caller
// that started it so a cancelled caller only stops its own wait; remote calls
// inside stay bounded by the validator's timeouts.
func (v *Validator) coldStart(ctx context.Context, hid HardwareID, rejection DenialReason) (Outcome, error) {
	shared := context.WithoutCancel(ctx)
	ch := v.flight.DoChan("cold_start:"+string(hid), func() (interface{}, error) {
		outcome, err := v.runColdStart(shared, hid, rejection)
		return coldStartResult{outcome: outcome, err: err}, nil
	})

	select {
	case res := <-ch:
		r := res.Val.(coldStartResult)
		return r.outcome, r.err
	case <-ctx.Done():
		return Outcome{}, newDenial(ReasonTimeout, rejection, ctx.Err())
	}
}

func (v *Validator) runColdStart(ctx context.Context, hid HardwareID, rejection DenialReason) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "license.ColdStart")
	defer span.End()

	// another caller may have finished a cold start while we were queued
	if session, err := v.sessions.GetSession(); err == nil {
		return Outcome{Session: session, Evidence: EvidenceSession}, nil
	}

	if v.authenticator == nil {
		return Outcome{}, newDenial(ReasonAuthenticationRequired, rejection, nil)
	}

	auth := v.authenticator.Authenticate(ctx)
	switch {
	case auth.Outcome == AuthCancelled:
		logAction(ctx, v.logger, slog.LevelInfo, "authenticate", "cancelled")
		return Outcome{}, newDenial(ReasonAuthenticationRequired, rejection, auth.Err)
	case auth.Outcome != AuthSucceeded || auth.UserID == "":
		logAction(ctx, v.logger, slog.LevelWarn, "authenticate", "failed",
			slog.Any("error", auth.Err))
		return Outcome{}, newDenial(ReasonAuthenticationFailed, rejection, auth.Err)
	}

	userID := auth.UserID
	span.SetAttributes(attribute.String("license.user_id", userID))

	activated, err := callAuthority(ctx, v, "activate_hardware", v.activateTimeout,
		func(ctx context.Context) (bool, error) {
			return v.authority.ActivateHardware(ctx, userID, hid)
		})
	if err != nil {
		return Outcome{}, v.deny(ctx, remoteFailureReason(err), rejection, userID, err)
	}

	lic, err := callAuthority(ctx, v, "get_license_info", v.verifyTimeout,
		func(ctx context.Context) (*License, error) {
			return v.authority.GetLicenseInfo(ctx, userID)
		})
	if err != nil {
		return Outcome{}, v.deny(ctx, remoteFailureReason(err), rejection, userID, err)
	}

	now := v.now()
	switch {
	case lic == nil:
		return Outcome{}, v.deny(ctx, ReasonNoLicense, rejection, userID, ErrLicenseNotFound)
	case lic.IsExpired(now):
		return Outcome{}, v.deny(ctx, ReasonExpired, rejection, userID, ErrLicenseInvalid)
	case !lic.IsValidNow(now):
		return Outcome{}, v.deny(ctx, ReasonDeactivated, rejection, userID, ErrLicenseInvalid)
	case !activated:
		return Outcome{}, v.deny(ctx, ReasonActivationLimit, rejection, userID, ErrActivationRejected)
	case !lic.IsHardwareActivated(hid):
		return Outcome{}, v.deny(ctx, ReasonHardwareMismatch, rejection, userID,
			fmt.Errorf("activation for %s missing from license", hid.Short()))
	}

	if _, err := v.cache.Save(*lic); err != nil {
		logAction(ctx, v.logger, slog.LevelWarn, "cache_save", "failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
	}

	logAction(ctx, v.logger, slog.LevelInfo, "cold_start", "success",
		slog.String("user_id", userID),
		slog.String("email", MaskEmail(lic.Email)),
		slog.String("hardware_id", hid.Short()))

	return v.promote(*lic, hid, &auth, EvidenceColdStart), nil
}

func (v *Validator) deny(ctx context.Context, reason, rejection DenialReason, userID string, cause error) *Denial {
	logAction(ctx, v.logger, slog.LevelWarn, "cold_start", "denied",
		slog.String("reason", string(reason)),
		slog.String("user_id", userID),
		slog.String("error", cause.Error()))
	return newDenial(reason, rejection, cause)
}

// promote stores a session for lic and returns it
func (v *Validator) promote(lic License, hid HardwareID, auth *AuthResult, evidence Evidence) Outcome {
	session := SessionData{
		UserID:    lic.UserID,
		Email:     lic.Email,
		MachineID: hid,
		SavedAt:   v.now(),
	}
	if auth != nil {
		session.DisplayName = auth.DisplayName
		session.RefreshToken = auth.RefreshToken
		if session.Email == "" {
			session.Email = auth.Email
		}
	}

	v.sessions.SetSession(session)
	return Outcome{Session: session, Evidence: evidence}
}

type callResult[T any] struct {
	val T
	err error
}

// callAuthority runs fn with its own deadline and stops waiting when the
// deadline passes, even if fn ignores ctx
func callAuthority[T any](ctx context.Context, v *Validator, op string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "license.authority."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	start := time.Now()
	ch := make(chan callResult[T], 1)
	go func() {
		val, err := fn(ctx)
		ch <- callResult[T]{val: val, err: err}
	}()

	var res callResult[T]
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	v.metrics.recordRemoteCall(ctx, op, time.Since(start), res.err)
	if res.err != nil {
		infrastructure.RecordError(ctx, res.err)
		var zero T
		return zero, fmt.Errorf("%s: %w", op, res.err)
	}
	return res.val, nil
}

// remoteFailureReason separates an unreachable authority from one that
// answered with an error
func remoteFailureReason(err error) DenialReason {
	if isTimeout(err) {
		return ReasonTimeout
	}
	return ReasonAuthorityError
}

// isTimeout reports whether err came from a deadline or an unreachable authority
func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrAuthorityUnavailable) ||
		apperrors.IsType(err, apperrors.ErrTypeNetwork)
}
