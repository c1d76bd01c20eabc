package license

import (
	"slices"
	"time"
)

// HardwareID identifies one machine. Two ids are the same machine iff they are equal.
type HardwareID string

// Short returns a log-safe prefix of the id
func (h HardwareID) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// License is the authority's record of a user's entitlement
type License struct {
	UserID          string       `json:"user_id"`
	Email           string       `json:"email"`
	IsActive        bool         `json:"is_active"`
	ExpirationDate  *time.Time   `json:"expiration_date,omitempty"`
	Activations     []HardwareID `json:"activations"`
	MaxActivations  int          `json:"max_activations"`
	ValidationCount int64        `json:"validation_count"`
	LicenseType     string       `json:"license_type,omitempty"`
}

// IsValidNow reports whether the license is active and not expired at now
func (l *License) IsValidNow(now time.Time) bool {
	if l == nil || !l.IsActive {
		return false
	}
	return l.ExpirationDate == nil || l.ExpirationDate.After(now)
}

// IsExpired reports whether the expiration date has passed at now
func (l *License) IsExpired(now time.Time) bool {
	return l != nil && l.ExpirationDate != nil && !l.ExpirationDate.After(now)
}

// IsHardwareActivated reports whether hid holds one of the license's activation slots
func (l *License) IsHardwareActivated(hid HardwareID) bool {
	return l != nil && slices.Contains(l.Activations, hid)
}

// HasFreeActivation reports whether another machine can be activated
func (l *License) HasFreeActivation() bool {
	return l != nil && len(l.Activations) < l.MaxActivations
}

// Clone returns a deep copy
func (l License) Clone() License {
	out := l
	out.Activations = slices.Clone(l.Activations)
	if l.ExpirationDate != nil {
		exp := *l.ExpirationDate
		out.ExpirationDate = &exp
	}
	return out
}

// CachedLicense is a License plus the instants the local cache stamped on it
type CachedLicense struct {
	License           License   `json:"license"`
	CachedAt          time.Time `json:"cached_at"`
	LastRevalidatedAt time.Time `json:"last_revalidated_at"`
}

// SessionData is the in-memory result of a successful validation
type SessionData struct {
	UserID       string     `json:"user_id"`
	Email        string     `json:"email"`
	DisplayName  string     `json:"display_name,omitempty"`
	RefreshToken string     `json:"-"`
	MachineID    HardwareID `json:"machine_id"`
	SavedAt      time.Time  `json:"saved_at"`
}
