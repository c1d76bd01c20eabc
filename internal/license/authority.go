package license

import "context"

// Authority is the remote licensing authority. Every call honours ctx's
// deadline; a missing license is reported as (nil, nil) by GetLicenseInfo.
type Authority interface {
	// ActivateHardware claims an activation slot on userID's license for hid.
	// It reports false when the authority refuses the activation.
	ActivateHardware(ctx context.Context, userID string, hid HardwareID) (bool, error)
	// VerifyActivation confirms hid still holds a slot without consuming a new one.
	VerifyActivation(ctx context.Context, userID string, hid HardwareID) (bool, error)
	// GetLicenseInfo fetches the authoritative license record.
	GetLicenseInfo(ctx context.Context, userID string) (*License, error)
}

// AuthOutcome is the result kind of an interactive authentication
type AuthOutcome int

const (
	AuthFailed AuthOutcome = iota
	AuthSucceeded
	AuthCancelled
)

func (o AuthOutcome) String() string {
	switch o {
	case AuthSucceeded:
		return "succeeded"
	case AuthCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// AuthResult is returned by an Authenticator. UserID is set only on success.
type AuthResult struct {
	Outcome      AuthOutcome
	UserID       string
	Email        string
	DisplayName  string
	RefreshToken string
	// Err explains a failed outcome for logs; it is never shown to the user
	Err error
}

// Authenticator runs the interactive login used on cold start
type Authenticator interface {
	Authenticate(ctx context.Context) AuthResult
}

// AuthenticatorFunc adapts a function to Authenticator
type AuthenticatorFunc func(ctx context.Context) AuthResult

// Authenticate calls f(ctx)
func (f AuthenticatorFunc) Authenticate(ctx context.Context) AuthResult {
	return f(ctx)
}

// HardwareIdentity reports this machine's fingerprint
type HardwareIdentity interface {
	HardwareID() string
}

// StaticIdentity is a fixed HardwareIdentity
type StaticIdentity string

// HardwareID returns the fixed id
func (s StaticIdentity) HardwareID() string {
	return string(s)
}
