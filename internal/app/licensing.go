package app

import (
	"log/slog"
	"os"

	"licensegate/internal/auth"
	"licensegate/internal/authority"
	"licensegate/internal/config"
	"licensegate/internal/license"
	"licensegate/internal/security"
)

// NewAuthorityClient creates the HTTP client for cfg.Authority
func NewAuthorityClient(cfg *config.Config, logger *slog.Logger) (*authority.Client, error) {
	return authority.NewClient(authority.ClientOptions{
		BaseURL:            cfg.Authority.BaseURL,
		MaxRetries:         cfg.Authority.MaxRetries,
		InitialBackoff:     cfg.Authority.RetryInitialBackoff,
		BreakerFailures:    cfg.Authority.BreakerFailures,
		BreakerOpenTimeout: cfg.Authority.BreakerOpenTimeout,
		Logger:             logger,
	})
}

// NewPersistentCache opens the disk cache configured in cfg.License
func NewPersistentCache(cfg *config.Config, logger *slog.Logger) *license.PersistentCache {
	return license.NewPersistentCache(cfg.License.CacheFile,
		license.WithGracePeriod(cfg.License.GracePeriod),
		license.WithRevalidationInterval(cfg.License.RevalidationInterval),
		license.WithCacheLogger(logger))
}

// BuildValidator assembles a license validator from cfg, filling anything
// opts leaves unset with the production collaborators. metrics may be nil.
func BuildValidator(cfg *config.Config, logger *slog.Logger, metrics *license.Metrics, opts Options) (*license.Validator, license.HardwareIdentity, error) {
	identity := opts.Identity
	if identity == nil {
		identity = security.NewFingerprintManager(security.WithFingerprintLogger(logger))
	}

	authorityImpl := opts.Authority
	authenticator := opts.Authenticator
	if authorityImpl == nil {
		client, err := NewAuthorityClient(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		authorityImpl = client

		if authenticator == nil {
			in, out := opts.PromptIn, opts.PromptOut
			if in == nil {
				in = os.Stdin
			}
			if out == nil {
				out = os.Stderr
			}
			authenticator = auth.NewPromptAuthenticator(in, out, client.Login, logger)
		}
	}

	v, err := license.NewValidator(license.Options{
		Identity:        identity,
		Sessions:        license.NewSessionCache(),
		Cache:           NewPersistentCache(cfg, logger),
		Authority:       authorityImpl,
		Authenticator:   authenticator,
		VerifyTimeout:   cfg.License.VerifyTimeout,
		ActivateTimeout: cfg.License.ActivateTimeout,
		Logger:          logger,
		Metrics:         metrics,
	})
	if err != nil {
		return nil, nil, err
	}
	return v, identity, nil
}
