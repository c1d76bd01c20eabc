package config

import "time"

// Application constants
const (
	AppName    = "LicenseGate"
	AppVersion = "1.0.0"

	// License cache policy
	DefaultGracePeriod          = 7 * 24 * time.Hour
	DefaultRevalidationInterval = 24 * time.Hour

	// Remote call budgets
	DefaultVerifyTimeout   = 10 * time.Second
	DefaultActivateTimeout = 15 * time.Second

	// File names inside the application data directory
	LicenseCacheFileName = "license_cache.json"
	ConfigFileName       = "licensegate.yaml"
	LogFileName          = "licensegate.log"
	LogsDirName          = "logs"

	// Authority backends
	BackendMemory = "memory"
	BackendSheets = "sheets"
)
