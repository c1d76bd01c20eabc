// Package config provides centralized configuration management for LicenseGate.
//
// Configuration is loaded from the following sources in order of precedence:
//
//  1. Environment variables (highest priority)
//  2. A YAML configuration file
//  3. Default values (lowest priority)
//
// All environment variables use the LICENSEGATE_ prefix:
//
//	LICENSEGATE_SERVER_PORT=8080
//	LICENSEGATE_LICENSE_GRACE_PERIOD=168h
//	LICENSEGATE_LICENSE_CACHE_FILE=/var/lib/app/license_cache.json
//	LICENSEGATE_AUTHORITY_BASE_URL=https://licenses.example.com
//	LICENSEGATE_LOGGING_LEVEL=debug
//
// The config file is looked up at $LICENSEGATE_CONFIG, ./licensegate.yaml,
// ./configs/licensegate.yaml and finally the per-user application directory.
package config
