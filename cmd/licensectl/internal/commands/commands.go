// Package commands implements the licensectl subcommands.
package commands

import (
	"io"
	"log/slog"
	"os"

	"licensegate/internal/config"
	"licensegate/internal/infrastructure"
	"licensegate/internal/license"
	"licensegate/internal/security"
)

type Globals struct {
	Debug      bool
	Version    string
	ConfigFile string

	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// Overrides are flags shared by commands that touch the license
type Overrides struct {
	CacheFile  string `help:"License cache file overriding the configured one" type:"path"`
	HardwareID string `help:"Use this hardware ID instead of the machine fingerprint" hidden:""`
}

func (g *Globals) stdout() io.Writer {
	if g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

func (g *Globals) stderr() io.Writer {
	if g.Err == nil {
		return os.Stderr
	}
	return g.Err
}

func (g *Globals) stdin() io.Reader {
	if g.In == nil {
		return os.Stdin
	}
	return g.In
}

// load reads configuration and builds a console logger on stderr. Only
// warnings are logged unless --debug is set.
func (g *Globals) load(o Overrides) (*config.Config, *slog.Logger, error) {
	path := g.ConfigFile
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, err
	}
	if o.CacheFile != "" {
		cfg.License.CacheFile = o.CacheFile
	}

	logCfg := config.LoggingConfig{Level: "warn", Format: "json", Output: "console"}
	if g.Debug {
		logCfg.Level = "debug"
	}
	logger, err := infrastructure.NewLogger(logCfg, g.stderr())
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// identity returns the fingerprint, or the override when one is given
func (o Overrides) identity(logger *slog.Logger) license.HardwareIdentity {
	if o.HardwareID != "" {
		return license.StaticIdentity(o.HardwareID)
	}
	return security.NewFingerprintManager(security.WithFingerprintLogger(logger))
}
