package testutil

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"licensegate/internal/authority"
	"licensegate/internal/license"
)

// Seeded account credentials
const (
	UserID      = "u1"
	Email       = "alice@example.com"
	DisplayName = "Alice"
	Password    = "correct horse"
)

// ActiveLicense returns a license for UserID that expires a year from now
func ActiveLicense(activations ...license.HardwareID) license.License {
	exp := time.Now().AddDate(1, 0, 0)
	return license.License{
		UserID:         UserID,
		Email:          Email,
		IsActive:       true,
		ExpirationDate: &exp,
		Activations:    activations,
		MaxActivations: 1,
		LicenseType:    "standard",
	}
}

// SeededStore returns a memory store holding ActiveLicense and an account
// that signs in with Email and Password
func SeededStore(tb testing.TB) *authority.MemoryStore {
	tb.Helper()

	// minimum cost keeps tests fast
	hash, err := bcrypt.GenerateFromPassword([]byte(Password), bcrypt.MinCost)
	if err != nil {
		tb.Fatalf("hash password: %v", err)
	}

	store := authority.NewMemoryStore()
	if err := store.SaveLicense(context.Background(), ActiveLicense()); err != nil {
		tb.Fatalf("seed license: %v", err)
	}
	store.SaveAccount(authority.Account{
		UserID:       UserID,
		Email:        Email,
		DisplayName:  DisplayName,
		PasswordHash: string(hash),
	})
	return store
}

// SeededAuthority returns an in-process authority over SeededStore
func SeededAuthority(tb testing.TB, logger *slog.Logger) (*authority.Service, *authority.MemoryStore) {
	tb.Helper()
	store := SeededStore(tb)
	return authority.NewService(store, authority.WithServiceLogger(logger)), store
}

// SucceedingAuthenticator signs in as the seeded account without prompting
func SucceedingAuthenticator() license.Authenticator {
	return license.AuthenticatorFunc(func(context.Context) license.AuthResult {
		return license.AuthResult{Outcome: license.AuthSucceeded, UserID: UserID, Email: Email, DisplayName: DisplayName}
	})
}
