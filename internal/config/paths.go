package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths contains the per-user locations used by the application
type Paths struct {
	AppDataDir       string
	LogsDir          string
	LicenseCacheFile string
	ConfigFile       string
	LogFile          string
}

// userConfigDir is swapped in tests
var userConfigDir = os.UserConfigDir

// GetPaths returns the application paths rooted at the user's config directory
// (for example ~/.config/LicenseGate on Linux, %AppData%\LicenseGate on Windows).
func GetPaths() (*Paths, error) {
	base, err := userConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return nil, fmt.Errorf("failed to resolve user config directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}

	appDir := filepath.Join(base, AppName)
	logsDir := filepath.Join(appDir, LogsDirName)

	return &Paths{
		AppDataDir:       appDir,
		LogsDir:          logsDir,
		LicenseCacheFile: filepath.Join(appDir, LicenseCacheFileName),
		ConfigFile:       filepath.Join(appDir, ConfigFileName),
		LogFile:          filepath.Join(logsDir, LogFileName),
	}, nil
}

// DataPaths returns the locations of the files c actually writes. LogsDir is
// left empty when logs only go to the console.
func (c *Config) DataPaths() *Paths {
	p := &Paths{
		LicenseCacheFile: c.License.CacheFile,
		LogFile:          c.Logging.FilePath,
	}
	if p.LicenseCacheFile != "" {
		p.AppDataDir = filepath.Dir(p.LicenseCacheFile)
	}
	if p.LogFile != "" && c.Logging.Output != "console" {
		p.LogsDir = filepath.Dir(p.LogFile)
	}
	return p
}

// EnsureDirectories creates the application directories with owner-only
// permissions. Empty entries are skipped.
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.AppDataDir, p.LogsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
