package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable read by Load
const EnvPrefix = "LICENSEGATE"

// Config represents the complete application configuration
type Config struct {
	Server          ServerConfig          `yaml:"server" envconfig:"SERVER"`
	License         LicenseConfig         `yaml:"license" envconfig:"LICENSE"`
	Authority       AuthorityConfig       `yaml:"authority" envconfig:"AUTHORITY"`
	AuthorityServer AuthorityServerConfig `yaml:"authority_server" envconfig:"AUTHORITY_SERVER"`
	Logging         LoggingConfig         `yaml:"logging" envconfig:"LOGGING"`
	Telemetry       TelemetryConfig       `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps" envconfig:"RATE_LIMIT_RPS" default:"50"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST" default:"20"`
}

// LicenseConfig controls the validation tiers on the client side
type LicenseConfig struct {
	CacheFile            string        `yaml:"cache_file" envconfig:"CACHE_FILE"`
	GracePeriod          time.Duration `yaml:"grace_period" envconfig:"GRACE_PERIOD" default:"168h"`
	RevalidationInterval time.Duration `yaml:"revalidation_interval" envconfig:"REVALIDATION_INTERVAL" default:"24h"`
	VerifyTimeout        time.Duration `yaml:"verify_timeout" envconfig:"VERIFY_TIMEOUT" default:"10s"`
	ActivateTimeout      time.Duration `yaml:"activate_timeout" envconfig:"ACTIVATE_TIMEOUT" default:"15s"`
}

// AuthorityConfig tells clients how to reach the licensing authority
type AuthorityConfig struct {
	BaseURL             string        `yaml:"base_url" envconfig:"BASE_URL" default:"http://localhost:8090"`
	MaxRetries          uint          `yaml:"max_retries" envconfig:"MAX_RETRIES" default:"3"`
	RetryInitialBackoff time.Duration `yaml:"retry_initial_backoff" envconfig:"RETRY_INITIAL_BACKOFF" default:"200ms"`
	BreakerFailures     uint32        `yaml:"breaker_failures" envconfig:"BREAKER_FAILURES" default:"5"`
	BreakerOpenTimeout  time.Duration `yaml:"breaker_open_timeout" envconfig:"BREAKER_OPEN_TIMEOUT" default:"30s"`
}

// AuthorityServerConfig configures the license-server binary
type AuthorityServerConfig struct {
	Port            int     `yaml:"port" envconfig:"PORT" default:"8090"`
	Backend         string  `yaml:"backend" envconfig:"BACKEND" default:"memory"`
	SeedFile        string  `yaml:"seed_file" envconfig:"SEED_FILE"`
	SheetID         string  `yaml:"sheet_id" envconfig:"SHEET_ID"`
	LicenseRange    string  `yaml:"license_range" envconfig:"LICENSE_RANGE" default:"Licenses!A:H"`
	AccountRange    string  `yaml:"account_range" envconfig:"ACCOUNT_RANGE" default:"Accounts!A:D"`
	CredentialsFile string  `yaml:"credentials_file" envconfig:"CREDENTIALS_FILE"`
	RateLimitRPS    float64 `yaml:"rate_limit_rps" envconfig:"RATE_LIMIT_RPS" default:"5"`
	RateLimitBurst  int     `yaml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST" default:"10"`

	// TokenSecret signs refresh tokens; empty uses a random per-process key
	TokenSecret string        `yaml:"token_secret" envconfig:"TOKEN_SECRET"`
	TokenTTL    time.Duration `yaml:"token_ttl" envconfig:"TOKEN_TTL" default:"720h"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// TelemetryConfig toggles OpenTelemetry exporters
type TelemetryConfig struct {
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT" default:"development"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" default:"none"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER" default:"prometheus"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" default:"1"`
}

// Load loads configuration from an optional YAML file and environment variables.
// Environment variables take precedence over the file.
func Load() (*Config, error) {
	return LoadFile(getConfigFilePath())
}

// LoadFile is Load with an explicit config file path. An empty path skips the file.
func LoadFile(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// envconfig only overrides fields whose variables are set once defaults
	// have been applied, so run it without defaults on top of the file values
	if err := processEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// processEnv applies environment overrides on top of cfg
func processEnv(cfg *Config) error {
	var env Config
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return err
	}
	mergeEnv(cfg, &env)
	return nil
}

// loadFromFile decodes a YAML file over the values already in cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// mergeEnv copies values that differ from the built-in defaults, which means
// they came from an environment variable
func mergeEnv(dst, env *Config) {
	def := Default()

	if env.Server != def.Server {
		dst.Server = mergeServer(dst.Server, env.Server, def.Server)
	}
	if env.License != def.License {
		dst.License = mergeLicense(dst.License, env.License, def.License)
	}
	if env.Authority != def.Authority {
		dst.Authority = mergeAuthority(dst.Authority, env.Authority, def.Authority)
	}
	if env.AuthorityServer != def.AuthorityServer {
		dst.AuthorityServer = mergeAuthorityServer(dst.AuthorityServer, env.AuthorityServer, def.AuthorityServer)
	}
	if env.Logging != def.Logging {
		dst.Logging = mergeLogging(dst.Logging, env.Logging, def.Logging)
	}
	if env.Telemetry != def.Telemetry {
		dst.Telemetry = mergeTelemetry(dst.Telemetry, env.Telemetry, def.Telemetry)
	}
}

func pick[T comparable](cur, env, def T) T {
	if env != def {
		return env
	}
	return cur
}

func mergeServer(cur, env, def ServerConfig) ServerConfig {
	return ServerConfig{
		Port:            pick(cur.Port, env.Port, def.Port),
		ReadTimeout:     pick(cur.ReadTimeout, env.ReadTimeout, def.ReadTimeout),
		WriteTimeout:    pick(cur.WriteTimeout, env.WriteTimeout, def.WriteTimeout),
		IdleTimeout:     pick(cur.IdleTimeout, env.IdleTimeout, def.IdleTimeout),
		ShutdownTimeout: pick(cur.ShutdownTimeout, env.ShutdownTimeout, def.ShutdownTimeout),
		RateLimitRPS:    pick(cur.RateLimitRPS, env.RateLimitRPS, def.RateLimitRPS),
		RateLimitBurst:  pick(cur.RateLimitBurst, env.RateLimitBurst, def.RateLimitBurst),
	}
}

func mergeLicense(cur, env, def LicenseConfig) LicenseConfig {
	return LicenseConfig{
		CacheFile:            pick(cur.CacheFile, env.CacheFile, def.CacheFile),
		GracePeriod:          pick(cur.GracePeriod, env.GracePeriod, def.GracePeriod),
		RevalidationInterval: pick(cur.RevalidationInterval, env.RevalidationInterval, def.RevalidationInterval),
		VerifyTimeout:        pick(cur.VerifyTimeout, env.VerifyTimeout, def.VerifyTimeout),
		ActivateTimeout:      pick(cur.ActivateTimeout, env.ActivateTimeout, def.ActivateTimeout),
	}
}

func mergeAuthority(cur, env, def AuthorityConfig) AuthorityConfig {
	return AuthorityConfig{
		BaseURL:             pick(cur.BaseURL, env.BaseURL, def.BaseURL),
		MaxRetries:          pick(cur.MaxRetries, env.MaxRetries, def.MaxRetries),
		RetryInitialBackoff: pick(cur.RetryInitialBackoff, env.RetryInitialBackoff, def.RetryInitialBackoff),
		BreakerFailures:     pick(cur.BreakerFailures, env.BreakerFailures, def.BreakerFailures),
		BreakerOpenTimeout:  pick(cur.BreakerOpenTimeout, env.BreakerOpenTimeout, def.BreakerOpenTimeout),
	}
}

func mergeAuthorityServer(cur, env, def AuthorityServerConfig) AuthorityServerConfig {
	return AuthorityServerConfig{
		Port:            pick(cur.Port, env.Port, def.Port),
		Backend:         pick(cur.Backend, env.Backend, def.Backend),
		SeedFile:        pick(cur.SeedFile, env.SeedFile, def.SeedFile),
		SheetID:         pick(cur.SheetID, env.SheetID, def.SheetID),
		LicenseRange:    pick(cur.LicenseRange, env.LicenseRange, def.LicenseRange),
		AccountRange:    pick(cur.AccountRange, env.AccountRange, def.AccountRange),
		CredentialsFile: pick(cur.CredentialsFile, env.CredentialsFile, def.CredentialsFile),
		RateLimitRPS:    pick(cur.RateLimitRPS, env.RateLimitRPS, def.RateLimitRPS),
		RateLimitBurst:  pick(cur.RateLimitBurst, env.RateLimitBurst, def.RateLimitBurst),
		TokenSecret:     pick(cur.TokenSecret, env.TokenSecret, def.TokenSecret),
		TokenTTL:        pick(cur.TokenTTL, env.TokenTTL, def.TokenTTL),
	}
}

func mergeLogging(cur, env, def LoggingConfig) LoggingConfig {
	return LoggingConfig{
		Level:    pick(cur.Level, env.Level, def.Level),
		Format:   pick(cur.Format, env.Format, def.Format),
		Output:   pick(cur.Output, env.Output, def.Output),
		FilePath: pick(cur.FilePath, env.FilePath, def.FilePath),
	}
}

func mergeTelemetry(cur, env, def TelemetryConfig) TelemetryConfig {
	return TelemetryConfig{
		Environment:    pick(cur.Environment, env.Environment, def.Environment),
		TraceExporter:  pick(cur.TraceExporter, env.TraceExporter, def.TraceExporter),
		MetricExporter: pick(cur.MetricExporter, env.MetricExporter, def.MetricExporter),
		SampleRatio:    pick(cur.SampleRatio, env.SampleRatio, def.SampleRatio),
	}
}

// resolvePaths fills in per-user locations for files left unset
func (c *Config) resolvePaths() error {
	paths, err := GetPaths()
	if err != nil {
		return fmt.Errorf("failed to get paths: %w", err)
	}

	if c.License.CacheFile == "" {
		c.License.CacheFile = paths.LicenseCacheFile
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = paths.LogFile
	}

	return nil
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.AuthorityServer.Port <= 0 || c.AuthorityServer.Port > 65535 {
		return fmt.Errorf("invalid authority server port: %d", c.AuthorityServer.Port)
	}

	if c.License.GracePeriod <= 0 {
		return fmt.Errorf("license grace period must be positive")
	}

	if c.License.RevalidationInterval <= 0 {
		return fmt.Errorf("license revalidation interval must be positive")
	}

	if c.License.RevalidationInterval > c.License.GracePeriod {
		return fmt.Errorf("revalidation interval %s exceeds grace period %s",
			c.License.RevalidationInterval, c.License.GracePeriod)
	}

	if c.License.VerifyTimeout <= 0 || c.License.ActivateTimeout <= 0 {
		return fmt.Errorf("remote call timeouts must be positive")
	}

	u, err := url.Parse(c.Authority.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid authority base url: %q", c.Authority.BaseURL)
	}

	if c.AuthorityServer.TokenTTL <= 0 {
		return fmt.Errorf("refresh token ttl must be positive")
	}

	switch c.AuthorityServer.Backend {
	case BackendMemory:
	case BackendSheets:
		if c.AuthorityServer.SheetID == "" {
			return fmt.Errorf("sheets backend requires a sheet id")
		}
	default:
		return fmt.Errorf("unknown authority backend: %s", c.AuthorityServer.Backend)
	}

	// JSON is the only supported log format
	c.Logging.Format = "json"

	return nil
}

// getConfigFilePath returns the first config file found, or "" when none exists
func getConfigFilePath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}

	locations := []string{
		"licensegate.yaml",
		"configs/licensegate.yaml",
	}

	if paths, err := GetPaths(); err == nil {
		locations = append(locations, paths.ConfigFile)
	}

	for _, location := range locations {
		if FileExists(location) {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimitRPS:    50,
			RateLimitBurst:  20,
		},
		License: LicenseConfig{
			GracePeriod:          DefaultGracePeriod,
			RevalidationInterval: DefaultRevalidationInterval,
			VerifyTimeout:        DefaultVerifyTimeout,
			ActivateTimeout:      DefaultActivateTimeout,
		},
		Authority: AuthorityConfig{
			BaseURL:             "http://localhost:8090",
			MaxRetries:          3,
			RetryInitialBackoff: 200 * time.Millisecond,
			BreakerFailures:     5,
			BreakerOpenTimeout:  30 * time.Second,
		},
		AuthorityServer: AuthorityServerConfig{
			Port:           8090,
			Backend:        BackendMemory,
			LicenseRange:   "Licenses!A:H",
			AccountRange:   "Accounts!A:D",
			RateLimitRPS:   5,
			RateLimitBurst: 10,
			TokenTTL:       30 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "console",
		},
		Telemetry: TelemetryConfig{
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1,
		},
	}
}
