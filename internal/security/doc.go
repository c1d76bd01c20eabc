// Package security holds the security primitives: the hardware fingerprint
// used as the license HardwareID, password hashing and signed refresh tokens
// for the authority's accounts, and service account loading for the Sheets
// backend.
package security
