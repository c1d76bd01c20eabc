package authority

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v2"

	"licensegate/internal/license"
)

// MemoryStore keeps records in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	licenses map[string]license.License
	accounts map[string]Account
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		licenses: make(map[string]license.License),
		accounts: make(map[string]Account),
	}
}

// seedFile is the YAML layout accepted by LoadSeedFile
type seedFile struct {
	Licenses []seedLicense `yaml:"licenses"`
	Accounts []Account     `yaml:"accounts"`
}

type seedLicense struct {
	UserID         string   `yaml:"user_id"`
	Email          string   `yaml:"email"`
	Active         bool     `yaml:"active"`
	Expires        string   `yaml:"expires"`
	Activations    []string `yaml:"activations"`
	MaxActivations int      `yaml:"max_activations"`
	LicenseType    string   `yaml:"license_type"`
}

// LoadSeedFile reads a YAML seed of licenses and accounts into s
func (s *MemoryStore) LoadSeedFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}
	return s.LoadSeed(data)
}

// LoadSeed parses a YAML seed into s. Expiry dates use YYYY-MM-DD or RFC 3339.
func (s *MemoryStore) LoadSeed(data []byte) error {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse seed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sl := range seed.Licenses {
		if sl.UserID == "" {
			return fmt.Errorf("seed license without user_id")
		}
		lic := license.License{
			UserID:         sl.UserID,
			Email:          sl.Email,
			IsActive:       sl.Active,
			MaxActivations: sl.MaxActivations,
			LicenseType:    sl.LicenseType,
		}
		if lic.MaxActivations <= 0 {
			lic.MaxActivations = 1
		}
		for _, hid := range sl.Activations {
			lic.Activations = append(lic.Activations, license.HardwareID(hid))
		}
		if sl.Expires != "" {
			exp, err := parseDate(sl.Expires)
			if err != nil {
				return fmt.Errorf("license %s: %w", sl.UserID, err)
			}
			lic.ExpirationDate = &exp
		}
		s.licenses[lic.UserID] = lic
	}

	for _, acct := range seed.Accounts {
		if acct.Email == "" || acct.UserID == "" {
			return fmt.Errorf("seed account needs email and user_id")
		}
		s.accounts[normalizeEmail(acct.Email)] = acct
	}
	return nil
}

// GetLicense returns a copy of userID's license
func (s *MemoryStore) GetLicense(_ context.Context, userID string) (*license.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lic, ok := s.licenses[userID]
	if !ok {
		return nil, ErrNotFound
	}
	out := lic.Clone()
	return &out, nil
}

// SaveLicense stores a copy of lic
func (s *MemoryStore) SaveLicense(_ context.Context, lic license.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.licenses[lic.UserID] = lic.Clone()
	return nil
}

// FindAccount looks an account up by email, case-insensitively
func (s *MemoryStore) FindAccount(_ context.Context, email string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[normalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return &acct, nil
}

// SaveAccount adds or replaces an account
func (s *MemoryStore) SaveAccount(acct Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[normalizeEmail(acct.Email)] = acct
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}
