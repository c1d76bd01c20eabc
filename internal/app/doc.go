// Package app wires the licensed host application together and owns its
// lifecycle.
//
// # Initialization Flow
//
//  1. Load configuration from the YAML file and LICENSEGATE_* variables
//  2. Create the cache and log directories
//  3. Initialize logging and OpenTelemetry
//  4. Build the hardware identity, disk cache, session cache and authority client
//  5. Create the license validator
//  6. Set up HTTP handlers and middleware, with /api/protected behind the license gate
//  7. Configure and start the HTTP server
//
// # Graceful Shutdown
//
// Stop drains the HTTP server, clears the in-memory session, flushes
// telemetry and closes the log file. The disk cache is left in place so the
// next start can validate offline.
//
// AuthorityServer gives cmd/license-server the same lifecycle around the
// authority HTTP API.
package app
