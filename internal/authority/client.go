package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	apperrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
	"licensegate/internal/license"
)

// ClientOptions configures a Client
type ClientOptions struct {
	BaseURL    string
	HTTPClient *http.Client

	// MaxRetries is the number of retries after the first attempt
	MaxRetries     uint
	InitialBackoff time.Duration

	// BreakerFailures consecutive failures open the breaker for BreakerOpenTimeout
	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration

	Logger *slog.Logger
}

// Client talks to the authority's HTTP API. It implements license.Authority.
// Transport failures and 5xx answers are retried with exponential backoff
// inside the caller's deadline, and repeated failures open a circuit breaker
// so an unreachable authority fails fast.
type Client struct {
	baseURL        *url.URL
	http           *http.Client
	breaker        *gobreaker.CircuitBreaker
	maxRetries     uint
	initialBackoff time.Duration
	logger         *slog.Logger
}

var _ license.Authority = (*Client)(nil)

// StatusError is a non-2xx answer from the authority
type StatusError struct {
	Code   int
	Title  string
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("authority returned %d: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("authority returned %d", e.Code)
}

// retryable reports whether the same request may succeed later
func (e *StatusError) retryable() bool {
	return e.Code >= http.StatusInternalServerError || e.Code == http.StatusTooManyRequests
}

// NewClient creates a Client
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, apperrors.NewConfigError("authority base URL is required", nil)
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, apperrors.NewConfigError(fmt.Sprintf("invalid authority base URL %q", opts.BaseURL), err)
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 200 * time.Millisecond
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerOpenTimeout <= 0 {
		opts.BreakerOpenTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := infrastructure.WithComponent(opts.Logger, "authority_client")

	c := &Client{
		baseURL:        base,
		http:           opts.HTTPClient,
		maxRetries:     opts.MaxRetries,
		initialBackoff: opts.InitialBackoff,
		logger:         logger,
	}

	failures := opts.BreakerFailures
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "license-authority",
		MaxRequests: 1,
		Timeout:     opts.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// 4xx answers prove the authority is up
			var se *StatusError
			return err == nil || (errors.As(err, &se) && !se.retryable())
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("authority circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return c, nil
}

// BreakerState returns the circuit breaker's current state
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// ActivateHardware implements license.Authority
func (c *Client) ActivateHardware(ctx context.Context, userID string, hid license.HardwareID) (bool, error) {
	var resp ActivationResponse
	err := c.do(ctx, "activate", http.MethodPost, PathActivations,
		ActivationRequest{UserID: userID, HardwareID: string(hid)}, &resp)
	if err != nil {
		return false, err
	}
	return resp.Activated, nil
}

// VerifyActivation implements license.Authority
func (c *Client) VerifyActivation(ctx context.Context, userID string, hid license.HardwareID) (bool, error) {
	var resp VerifyResponse
	err := c.do(ctx, "verify", http.MethodPost, PathVerify,
		ActivationRequest{UserID: userID, HardwareID: string(hid)}, &resp)
	if err != nil {
		return false, err
	}
	return resp.Verified, nil
}

// GetLicenseInfo implements license.Authority; a 404 is reported as (nil, nil)
func (c *Client) GetLicenseInfo(ctx context.Context, userID string) (*license.License, error) {
	var lic license.License
	err := c.do(ctx, "license_info", http.MethodGet, PathLicenses+"/"+url.PathEscape(userID), nil, &lic)
	if apperrors.IsType(err, apperrors.ErrTypeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lic, nil
}

// Deactivate releases hid's activation slot
func (c *Client) Deactivate(ctx context.Context, userID string, hid license.HardwareID) error {
	return c.do(ctx, "deactivate", http.MethodDelete, PathActivations,
		ActivationRequest{UserID: userID, HardwareID: string(hid)}, nil)
}

// Login exchanges an email and password for a session
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var res LoginResult
	if err := c.do(ctx, "login", http.MethodPost, PathLogin, LoginRequest{Email: email, Password: password}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Refresh exchanges a refresh token for a new session
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	var res LoginResult
	if err := c.do(ctx, "refresh", http.MethodPost, PathRefresh, RefreshRequest{RefreshToken: refreshToken}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// do sends one logical request, retrying transient failures until ctx ends
func (c *Client) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return apperrors.NewValidationError("encode request", err)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.roundTrip(ctx, method, path, payload, out)
		})
		if err == nil {
			return struct{}{}, nil
		}

		var se *StatusError
		switch {
		case ctx.Err() != nil:
			return struct{}{}, backoff.Permanent(err)
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return struct{}{}, backoff.Permanent(err)
		case errors.As(err, &se) && !se.retryable():
			return struct{}{}, backoff.Permanent(err)
		}

		c.logger.DebugContext(ctx, "authority call failed, retrying",
			slog.String("operation", op),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.maxRetries+1))

	if err == nil {
		return nil
	}
	return c.classify(ctx, op, err)
}

// classify turns a final failure into an AppError
func (c *Client) classify(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("authority %s: %w", op, ctxErr)
	}

	var se *StatusError
	if errors.As(err, &se) && !se.retryable() {
		switch se.Code {
		case http.StatusNotFound:
			return apperrors.NewNotFoundError("license")
		case http.StatusUnauthorized:
			return apperrors.NewAuthError(se.Detail)
		default:
			return apperrors.NewValidationError(fmt.Sprintf("authority rejected %s", op), se)
		}
	}

	c.logger.WarnContext(ctx, "authority unavailable",
		slog.String("operation", op),
		slog.String("breaker", c.breaker.State().String()),
		slog.String("error", err.Error()))
	return apperrors.NewNetworkError("authority "+op, fmt.Errorf("%w: %w", license.ErrAuthorityUnavailable, err))
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if traceID := infrastructure.GetTraceID(ctx); traceID != "" {
		req.Header.Set(chimw.RequestIDHeader, traceID)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Code: resp.StatusCode}
		var problem struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		}
		if json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&problem) == nil {
			se.Title, se.Detail = problem.Title, problem.Detail
		}
		return se
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
