package authority

import (
	"context"
	"errors"

	"licensegate/internal/license"
)

// ErrNotFound is returned by a Store when no record matches
var ErrNotFound = errors.New("record not found")

// Account is a user who can sign in to obtain a license session
type Account struct {
	UserID       string `json:"user_id" yaml:"user_id"`
	Email        string `json:"email" yaml:"email"`
	DisplayName  string `json:"display_name" yaml:"display_name"`
	PasswordHash string `json:"-" yaml:"password_hash"`
}

// Store persists licenses and accounts. Implementations must be safe for
// concurrent use; read-modify-write sequences are serialized by Service.
type Store interface {
	GetLicense(ctx context.Context, userID string) (*license.License, error)
	SaveLicense(ctx context.Context, lic license.License) error
	FindAccount(ctx context.Context, email string) (*Account, error)
}
