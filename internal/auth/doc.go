// Package auth provides the interactive login used when the validator has
// no session and no usable disk cache.
package auth
