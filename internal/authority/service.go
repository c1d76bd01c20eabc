package authority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	apperrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
	"licensegate/internal/license"
	"licensegate/internal/security"
)

// LoginResult is returned by a successful sign-in
type LoginResult struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	DisplayName  string `json:"display_name"`
	RefreshToken string `json:"refresh_token"`
}

// Service applies the activation rules on top of a Store. It implements
// license.Authority so the validator can also run against it in-process.
type Service struct {
	store  Store
	tokens *security.TokenSigner
	now    func() time.Time
	logger *slog.Logger

	// serializes read-modify-write of license records
	mu sync.Mutex
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithServiceClock sets the time source
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithServiceLogger sets the logger
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithTokenSigner sets the signer for refresh tokens
func WithTokenSigner(tokens *security.TokenSigner) ServiceOption {
	return func(s *Service) { s.tokens = tokens }
}

// DefaultTokenTTL is the lifetime of refresh tokens from an ephemeral signer
const DefaultTokenTTL = 30 * 24 * time.Hour

// NewService creates a Service over store. Without WithTokenSigner, refresh
// tokens are signed with a per-process random key.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tokens == nil {
		tokens, err := security.NewTokenSigner("", DefaultTokenTTL)
		if err != nil {
			panic(err)
		}
		s.tokens = tokens
	}
	s.logger = infrastructure.WithComponent(s.logger, "license_authority")
	return s
}

var _ license.Authority = (*Service)(nil)

// ActivateHardware claims a slot for hid. It is idempotent for a machine that
// already holds a slot and refuses when the license is invalid or full.
func (s *Service) ActivateHardware(ctx context.Context, userID string, hid license.HardwareID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lic, err := s.store.GetLicense(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		s.logger.InfoContext(ctx, "activation refused", slog.String("user_id", userID), slog.String("reason", "no_license"))
		return false, nil
	}
	if err != nil {
		return false, apperrors.NewStorageError("load license", err)
	}

	now := s.now()
	switch {
	case !lic.IsValidNow(now):
		s.logger.InfoContext(ctx, "activation refused", slog.String("user_id", userID), slog.String("reason", "invalid"))
		return false, nil
	case lic.IsHardwareActivated(hid):
		return true, nil
	case !lic.HasFreeActivation():
		s.logger.InfoContext(ctx, "activation refused",
			slog.String("user_id", userID),
			slog.String("reason", "limit"),
			slog.Int("max_activations", lic.MaxActivations))
		return false, nil
	}

	lic.Activations = append(lic.Activations, hid)
	if err := s.store.SaveLicense(ctx, *lic); err != nil {
		return false, apperrors.NewStorageError("save activation", err)
	}

	s.logger.InfoContext(ctx, "hardware activated",
		slog.String("user_id", userID),
		slog.String("hardware_id", hid.Short()),
		slog.Int("activations", len(lic.Activations)))
	return true, nil
}

// VerifyActivation reports whether hid holds a slot on a valid license and
// counts the check
func (s *Service) VerifyActivation(ctx context.Context, userID string, hid license.HardwareID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lic, err := s.store.GetLicense(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.NewStorageError("load license", err)
	}

	if !lic.IsValidNow(s.now()) || !lic.IsHardwareActivated(hid) {
		return false, nil
	}

	lic.ValidationCount++
	if err := s.store.SaveLicense(ctx, *lic); err != nil {
		// the check itself succeeded; a lost counter bump is not worth a refusal
		infrastructure.WithError(s.logger, err).WarnContext(ctx, "failed to record validation")
	}
	return true, nil
}

// GetLicenseInfo returns the license record, or nil when there is none
func (s *Service) GetLicenseInfo(ctx context.Context, userID string) (*license.License, error) {
	lic, err := s.store.GetLicense(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewStorageError("load license", err)
	}
	return lic, nil
}

// Deactivate releases hid's slot. Releasing a slot that is not held is not an error.
func (s *Service) Deactivate(ctx context.Context, userID string, hid license.HardwareID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lic, err := s.store.GetLicense(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return apperrors.NewNotFoundError("license")
	}
	if err != nil {
		return apperrors.NewStorageError("load license", err)
	}

	i := slices.Index(lic.Activations, hid)
	if i < 0 {
		return nil
	}
	lic.Activations = slices.Delete(lic.Activations, i, i+1)
	if err := s.store.SaveLicense(ctx, *lic); err != nil {
		return apperrors.NewStorageError("save deactivation", err)
	}

	s.logger.InfoContext(ctx, "hardware deactivated",
		slog.String("user_id", userID),
		slog.String("hardware_id", hid.Short()))
	return nil
}

// Login checks an email and password and issues a refresh token
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	acct, err := s.store.FindAccount(ctx, email)
	if errors.Is(err, ErrNotFound) {
		s.logger.InfoContext(ctx, "login failed", slog.String("email", license.MaskEmail(email)), slog.String("reason", "unknown_account"))
		return nil, apperrors.NewAuthError("invalid email or password")
	}
	if err != nil {
		return nil, apperrors.NewStorageError("load account", err)
	}

	if err := security.ComparePassword(acct.PasswordHash, password); err != nil {
		if !errors.Is(err, security.ErrPasswordMismatch) {
			s.logger.ErrorContext(ctx, "stored password hash unusable",
				slog.String("user_id", acct.UserID),
				slog.String("error", err.Error()))
		}
		s.logger.InfoContext(ctx, "login failed", slog.String("email", license.MaskEmail(email)), slog.String("reason", "bad_password"))
		return nil, apperrors.NewAuthError("invalid email or password")
	}

	s.logger.InfoContext(ctx, "login succeeded", slog.String("user_id", acct.UserID))
	return s.session(acct)
}

// Refresh exchanges a refresh token for a new session, provided the account
// still exists
func (s *Service) Refresh(ctx context.Context, token string) (*LoginResult, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		infrastructure.WithError(s.logger, err).InfoContext(ctx, "refresh rejected")
		return nil, apperrors.NewAuthError("invalid refresh token")
	}

	acct, err := s.store.FindAccount(ctx, claims.Email)
	if errors.Is(err, ErrNotFound) || (err == nil && acct.UserID != claims.Subject) {
		s.logger.InfoContext(ctx, "refresh rejected",
			slog.String("user_id", claims.Subject),
			slog.String("reason", "account_changed"))
		return nil, apperrors.NewAuthError("invalid refresh token")
	}
	if err != nil {
		return nil, apperrors.NewStorageError("load account", err)
	}

	s.logger.InfoContext(ctx, "session refreshed", slog.String("user_id", acct.UserID))
	return s.session(acct)
}

func (s *Service) session(acct *Account) (*LoginResult, error) {
	token, err := s.tokens.Issue(acct.UserID, acct.Email)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	return &LoginResult{
		UserID:       acct.UserID,
		Email:        acct.Email,
		DisplayName:  acct.DisplayName,
		RefreshToken: token,
	}, nil
}
