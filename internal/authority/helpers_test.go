package authority

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"licensegate/internal/license"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testLicense(userID string, maxActivations int, hids ...license.HardwareID) license.License {
	exp := testNow.AddDate(1, 0, 0)
	return license.License{
		UserID:         userID,
		Email:          userID + "@example.com",
		IsActive:       true,
		ExpirationDate: &exp,
		Activations:    hids,
		MaxActivations: maxActivations,
		LicenseType:    "standard",
	}
}

// cheapHash keeps bcrypt fast in tests
func cheapHash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func newTestService(t *testing.T, licenses ...license.License) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	for _, l := range licenses {
		require.NoError(t, store.SaveLicense(context.Background(), l))
	}
	store.SaveAccount(Account{
		UserID:       "u1",
		Email:        "Alice@Example.com",
		DisplayName:  "Alice",
		PasswordHash: cheapHash(t, "correct horse"),
	})
	return NewService(store, WithServiceClock(func() time.Time { return testNow }), WithServiceLogger(discardLogger())), store
}
