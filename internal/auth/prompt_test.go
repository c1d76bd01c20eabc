package auth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensegate/internal/authority"
	apperrors "licensegate/internal/errors"
	"licensegate/internal/license"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// loginAs accepts a single email/password pair
func loginAs(email, password string, calls *int) LoginFunc {
	return func(_ context.Context, e, p string) (*authority.LoginResult, error) {
		*calls++
		if e == email && p == password {
			return &authority.LoginResult{UserID: "u1", Email: e, DisplayName: "Alice", RefreshToken: "tok"}, nil
		}
		return nil, apperrors.NewAuthError("invalid email or password")
	}
}

func TestPromptAuthenticator(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      license.AuthOutcome
		wantCalls int
	}{
		{"success", "alice@example.com\nsecret\n", license.AuthSucceeded, 1},
		{"success without trailing newline", "alice@example.com\nsecret", license.AuthSucceeded, 1},
		{"empty email cancels", "\n", license.AuthCancelled, 0},
		{"eof cancels", "", license.AuthCancelled, 0},
		{"eof at password cancels", "alice@example.com\n", license.AuthCancelled, 0},
		{"retry then success", "alice@example.com\nwrong\nalice@example.com\nsecret\n", license.AuthSucceeded, 2},
		{"attempts exhausted", strings.Repeat("alice@example.com\nwrong\n", 3), license.AuthFailed, 3},
		{"cancel after a bad try", "alice@example.com\nwrong\n\n", license.AuthCancelled, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			calls := 0
			p := NewPromptAuthenticator(strings.NewReader(tt.input), &out, loginAs("alice@example.com", "secret", &calls), quietLogger())

			res := p.Authenticate(context.Background())

			assert.Equal(t, tt.want, res.Outcome)
			assert.Equal(t, tt.wantCalls, calls)
			if tt.want == license.AuthSucceeded {
				assert.Equal(t, "u1", res.UserID)
				assert.Equal(t, "tok", res.RefreshToken)
				assert.Contains(t, out.String(), "Signed in as Alice")
			} else {
				assert.Empty(t, res.UserID)
			}
		})
	}
}

func TestPromptAuthenticator_AuthorityDown(t *testing.T) {
	calls := 0
	down := func(context.Context, string, string) (*authority.LoginResult, error) {
		calls++
		return nil, apperrors.NewNetworkError("authority login", errors.New("connection refused"))
	}

	var out bytes.Buffer
	p := NewPromptAuthenticator(strings.NewReader("a@example.com\npw\na@example.com\npw\n"), &out, down, quietLogger())
	res := p.Authenticate(context.Background())

	assert.Equal(t, license.AuthFailed, res.Outcome)
	assert.Equal(t, 1, calls, "no re-prompt when the authority cannot answer")
	require.Error(t, res.Err)
	assert.Contains(t, out.String(), "unavailable")
}

func TestPromptAuthenticator_ContextCancelled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	p := NewPromptAuthenticator(r, io.Discard, loginAs("a", "b", &calls), quietLogger())
	res := p.Authenticate(ctx)

	assert.Equal(t, license.AuthCancelled, res.Outcome)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestPromptAuthenticator_PromptAfterCancelledPrompt(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	calls := 0
	var out bytes.Buffer
	p := NewPromptAuthenticator(r, &out, loginAs("user@example.com", "secret", &calls), quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	first := p.Authenticate(ctx)
	require.Equal(t, license.AuthCancelled, first.Outcome)

	go func() {
		_, _ = io.WriteString(w, "user@example.com\nsecret\n")
	}()

	done := make(chan license.AuthResult, 1)
	go func() { done <- p.Authenticate(context.Background()) }()

	select {
	case res := <-done:
		assert.Equal(t, license.AuthSucceeded, res.Outcome)
		assert.Equal(t, "u1", res.UserID)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("second prompt did not complete")
	}
}

func TestPromptAuthenticator_EndOfInputAfterReaderStops(t *testing.T) {
	calls := 0
	p := NewPromptAuthenticator(strings.NewReader(""), io.Discard, loginAs("a", "b", &calls), quietLogger())

	for i := 0; i < 2; i++ {
		res := p.Authenticate(context.Background())
		assert.Equal(t, license.AuthCancelled, res.Outcome)
		assert.ErrorIs(t, res.Err, errCancelled)
	}
	assert.Zero(t, calls)
}
