package license

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	apperrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
)

const (
	// DefaultGracePeriod is how long a cached license is trusted without the authority
	DefaultGracePeriod = 7 * 24 * time.Hour
	// DefaultRevalidationInterval is how often a cached license is re-confirmed
	DefaultRevalidationInterval = 24 * time.Hour

	cacheRecordVersion = 1
)

// ErrStorageUnavailable marks a cache write that did not reach disk
var ErrStorageUnavailable = errors.New("license cache storage unavailable")

// cacheRecord is the on-disk form of a CachedLicense
type cacheRecord struct {
	Version           int       `json:"version"`
	License           License   `json:"license"`
	CachedAt          time.Time `json:"cached_at"`
	LastRevalidatedAt time.Time `json:"last_revalidated_at"`
}

// PersistentCache stores the most recently confirmed license in a single file
type PersistentCache struct {
	path                 string
	gracePeriod          time.Duration
	revalidationInterval time.Duration
	now                  func() time.Time
	logger               *slog.Logger

	// serializes writers within the process; readers rely on atomic rename
	writeMu sync.Mutex
}

// CacheOption configures a PersistentCache
type CacheOption func(*PersistentCache)

// WithClock overrides the time source
func WithClock(now func() time.Time) CacheOption {
	return func(c *PersistentCache) { c.now = now }
}

// WithGracePeriod overrides DefaultGracePeriod
func WithGracePeriod(d time.Duration) CacheOption {
	return func(c *PersistentCache) { c.gracePeriod = d }
}

// WithRevalidationInterval overrides DefaultRevalidationInterval
func WithRevalidationInterval(d time.Duration) CacheOption {
	return func(c *PersistentCache) { c.revalidationInterval = d }
}

// WithCacheLogger sets the logger
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *PersistentCache) { c.logger = logger }
}

// NewPersistentCache creates a cache backed by the file at path
func NewPersistentCache(path string, opts ...CacheOption) *PersistentCache {
	c := &PersistentCache{
		path:                 path,
		gracePeriod:          DefaultGracePeriod,
		revalidationInterval: DefaultRevalidationInterval,
		now:                  time.Now,
		logger:               slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = infrastructure.WithComponent(c.logger, "license_cache")
	return c
}

// Path returns the backing file path
func (c *PersistentCache) Path() string {
	return c.path
}

// Load returns the stored record. Missing, unreadable and corrupt files all
// report false.
func (c *PersistentCache) Load() (*CachedLicense, bool) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("license cache unreadable, treating as absent",
				slog.String("path", c.path),
				slog.String("error", err.Error()))
		}
		return nil, false
	}

	var rec cacheRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		c.logger.Warn("license cache corrupt, treating as absent",
			slog.String("path", c.path),
			slog.String("error", err.Error()))
		return nil, false
	}

	if rec.Version != cacheRecordVersion || rec.License.UserID == "" || rec.CachedAt.IsZero() {
		c.logger.Warn("license cache record rejected",
			slog.String("path", c.path),
			slog.Int("version", rec.Version))
		return nil, false
	}

	return &CachedLicense{
		License:           rec.License,
		CachedAt:          rec.CachedAt,
		LastRevalidatedAt: rec.LastRevalidatedAt,
	}, true
}

// Save replaces the stored record with lic, stamping both cache instants with
// the current time. Readers see either the old or the new record in full.
func (c *PersistentCache) Save(lic License) (*CachedLicense, error) {
	now := c.now().UTC()
	rec := cacheRecord{
		Version:           cacheRecordVersion,
		License:           lic.Clone(),
		CachedAt:          now,
		LastRevalidatedAt: now,
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode license cache: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := writeFileAtomic(c.path, data); err != nil {
		return nil, apperrors.NewStorageError("write license cache",
			fmt.Errorf("%w: %w", ErrStorageUnavailable, err)).WithContext("path", c.path)
	}

	c.logger.Debug("license cache saved",
		slog.String("user_id", lic.UserID),
		slog.Time("cached_at", now))

	return &CachedLicense{License: rec.License, CachedAt: now, LastRevalidatedAt: now}, nil
}

// Clear removes the stored record
func (c *PersistentCache) Clear() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperrors.NewStorageError("remove license cache",
			fmt.Errorf("%w: %w", ErrStorageUnavailable, err))
	}
	return nil
}

// IsCacheValid reports whether cl is still inside the offline grace period
func (c *PersistentCache) IsCacheValid(cl *CachedLicense) bool {
	if cl == nil {
		return false
	}
	return c.now().Sub(cl.CachedAt) < c.gracePeriod
}

// NeedsRevalidation reports whether cl is due to be re-confirmed by the authority
func (c *PersistentCache) NeedsRevalidation(cl *CachedLicense) bool {
	if cl == nil {
		return true
	}
	return c.now().Sub(cl.LastRevalidatedAt) >= c.revalidationInterval
}

// CacheStatus is a diagnostic snapshot of the disk cache
type CacheStatus struct {
	Present           bool       `json:"present"`
	Path              string     `json:"path"`
	UserID            string     `json:"user_id,omitempty"`
	CachedAt          *time.Time `json:"cached_at,omitempty"`
	LastRevalidatedAt *time.Time `json:"last_revalidated_at,omitempty"`
	WithinGrace       bool       `json:"within_grace"`
	NeedsRevalidation bool       `json:"needs_revalidation"`
	GraceRemaining    string     `json:"grace_remaining,omitempty"`
}

// Inspect loads the cache and reports its state
func (c *PersistentCache) Inspect() CacheStatus {
	st := CacheStatus{Path: c.path}
	cl, ok := c.Load()
	if !ok {
		return st
	}

	st.Present = true
	st.UserID = cl.License.UserID
	st.CachedAt = &cl.CachedAt
	st.LastRevalidatedAt = &cl.LastRevalidatedAt
	st.WithinGrace = c.IsCacheValid(cl)
	st.NeedsRevalidation = c.NeedsRevalidation(cl)
	if st.WithinGrace {
		st.GraceRemaining = (c.gracePeriod - c.now().Sub(cl.CachedAt)).Truncate(time.Minute).String()
	}
	return st
}

// Status returns a one-line human readable summary
func (c *PersistentCache) Status() string {
	st := c.Inspect()
	switch {
	case !st.Present:
		return "no license cache"
	case !st.WithinGrace:
		return fmt.Sprintf("license cache for %s expired (cached %s)",
			st.UserID, st.CachedAt.Format(time.RFC3339))
	case st.NeedsRevalidation:
		return fmt.Sprintf("license cache for %s valid for %s, revalidation due",
			st.UserID, st.GraceRemaining)
	default:
		return fmt.Sprintf("license cache for %s valid for %s, last revalidated %s",
			st.UserID, st.GraceRemaining, st.LastRevalidatedAt.Format(time.RFC3339))
	}
}

// writeFileAtomic writes data to a temp file next to path and renames it into place
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
