package authority

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensegate/internal/license"
)

const seedYAML = `
licenses:
  - user_id: u1
    email: alice@example.com
    active: true
    expires: "2030-01-31"
    activations: [hw-a]
    max_activations: 2
    license_type: pro
  - user_id: u2
    active: false
accounts:
  - user_id: u1
    email: Alice@Example.com
    display_name: Alice
    password_hash: "$2a$04$abcdefghijklmnopqrstuu"
`

func TestMemoryStore_LoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	store := NewMemoryStore()
	require.NoError(t, store.LoadSeedFile(path))
	ctx := context.Background()

	lic, err := store.GetLicense(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, lic.IsActive)
	assert.Equal(t, 2, lic.MaxActivations)
	assert.Equal(t, []license.HardwareID{"hw-a"}, lic.Activations)
	require.NotNil(t, lic.ExpirationDate)
	assert.Equal(t, time.Date(2030, 1, 31, 0, 0, 0, 0, time.UTC), *lic.ExpirationDate)

	u2, err := store.GetLicense(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, u2.MaxActivations, "max activations defaults to one")
	assert.Nil(t, u2.ExpirationDate)

	acct, err := store.FindAccount(ctx, " alice@EXAMPLE.com ")
	require.NoError(t, err)
	assert.Equal(t, "Alice", acct.DisplayName)
}

func TestMemoryStore_LoadSeedErrors(t *testing.T) {
	tests := map[string]string{
		"bad yaml":      "licenses: [",
		"missing user":  "licenses:\n  - email: x@example.com\n",
		"bad date":      "licenses:\n  - user_id: u1\n    expires: soon\n",
		"account email": "accounts:\n  - user_id: u1\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, NewMemoryStore().LoadSeed([]byte(body)))
		})
	}

	assert.Error(t, NewMemoryStore().LoadSeedFile(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.SaveLicense(ctx, testLicense("u1", 2, "hw-a")))

	lic, err := store.GetLicense(ctx, "u1")
	require.NoError(t, err)
	lic.Activations[0] = "tampered"

	again, err := store.GetLicense(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, license.HardwareID("hw-a"), again.Activations[0])

	_, err = store.GetLicense(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.FindAccount(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}
