// Package shared holds helpers used by more than one package. The testutil
// subpackage provides log capture and a seeded in-process license authority
// for tests that sit above the authority package.
package shared
