package auth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"licensegate/internal/authority"
	apperrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
	"licensegate/internal/license"
)

// LoginFunc checks credentials with the authority
type LoginFunc func(ctx context.Context, email, password string) (*authority.LoginResult, error)

// DefaultAttempts is how many times a rejected password may be retried
const DefaultAttempts = 3

// PromptAuthenticator asks for an email and password on a text stream.
// An empty email or end of input cancels the login.
type PromptAuthenticator struct {
	in       *bufio.Reader
	out      io.Writer
	login    LoginFunc
	attempts int
	logger   *slog.Logger

	// a single reader goroutine owns in for the authenticator's lifetime,
	// so a cancelled prompt never leaves a stray read behind
	readOnce sync.Once
	lines    chan line
	readErr  error
}

type line struct {
	text string
	err  error
}

// NewPromptAuthenticator creates an authenticator reading from in and prompting on out
func NewPromptAuthenticator(in io.Reader, out io.Writer, login LoginFunc, logger *slog.Logger) *PromptAuthenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &PromptAuthenticator{
		in:       bufio.NewReader(in),
		out:      out,
		login:    login,
		attempts: DefaultAttempts,
		logger:   infrastructure.WithComponent(logger, "prompt_authenticator"),
		lines:    make(chan line),
	}
}

var _ license.Authenticator = (*PromptAuthenticator)(nil)

// errCancelled marks a login the user backed out of
var errCancelled = errors.New("login cancelled")

// Authenticate implements license.Authenticator
func (p *PromptAuthenticator) Authenticate(ctx context.Context) license.AuthResult {
	fmt.Fprintln(p.out, "License activation required. Sign in to continue (leave email empty to cancel).")

	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		email, err := p.ask(ctx, "Email: ")
		if err != nil || email == "" {
			return p.cancelled(ctx, err)
		}
		password, err := p.ask(ctx, "Password: ")
		if err != nil {
			return p.cancelled(ctx, err)
		}

		res, err := p.login(ctx, email, password)
		if err == nil {
			fmt.Fprintf(p.out, "Signed in as %s.\n", displayName(res))
			return license.AuthResult{
				Outcome:      license.AuthSucceeded,
				UserID:       res.UserID,
				Email:        res.Email,
				DisplayName:  res.DisplayName,
				RefreshToken: res.RefreshToken,
			}
		}

		lastErr = err
		if !apperrors.IsType(err, apperrors.ErrTypeAuth) {
			// the authority could not judge the credentials; asking again will not help
			fmt.Fprintln(p.out, "Sign-in is unavailable right now.")
			break
		}
		p.logger.InfoContext(ctx, "login rejected",
			slog.Int("attempt", attempt),
			slog.String("email", license.MaskEmail(email)))
		if attempt < p.attempts {
			fmt.Fprintln(p.out, "Invalid email or password, try again.")
		}
	}

	return license.AuthResult{Outcome: license.AuthFailed, Err: lastErr}
}

func (p *PromptAuthenticator) cancelled(ctx context.Context, err error) license.AuthResult {
	if err == nil || errors.Is(err, io.EOF) {
		err = errCancelled
	}
	p.logger.InfoContext(ctx, "login cancelled", slog.String("reason", err.Error()))
	return license.AuthResult{Outcome: license.AuthCancelled, Err: err}
}

// ask prompts and reads one line, giving up when ctx ends. A line typed
// after a cancelled prompt goes to the next one.
func (p *PromptAuthenticator) ask(ctx context.Context, prompt string) (string, error) {
	p.readOnce.Do(func() { go p.readLines() })
	fmt.Fprint(p.out, prompt)

	select {
	case l, ok := <-p.lines:
		if !ok {
			return "", p.readErr
		}
		return l.text, l.err
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return "", ctx.Err()
	}
}

// readLines feeds lines until the input fails, then closes the channel
func (p *PromptAuthenticator) readLines() {
	defer close(p.lines)
	for {
		text, err := p.in.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && text != "" {
				p.lines <- line{text: strings.TrimSpace(text)}
			}
			p.readErr = err
			return
		}
		p.lines <- line{text: strings.TrimSpace(text)}
	}
}

func displayName(res *authority.LoginResult) string {
	if res.DisplayName != "" {
		return res.DisplayName
	}
	return res.Email
}
