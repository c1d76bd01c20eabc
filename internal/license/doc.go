// Package license gates protected operations behind a valid, hardware-bound
// license.
//
// Validation consults three tiers strictly in order:
//
//  1. SessionCache: an in-process slot holding the current session
//  2. PersistentCache: the last license the authority confirmed, on disk
//  3. Authority: the remote licensing authority, reached only when the
//     disk cache is missing, unusable, or due for revalidation
//
// A disk cache is trusted offline for GracePeriod (7 days) after it was
// written and is revalidated against the authority once it is older than
// RevalidationInterval (24 hours). A failed or timed out revalidation falls
// back to the cached license; only a cold start (no usable cache) can be
// denied because the authority is unreachable.
//
// Every denial is a *Denial carrying a DenialReason that callers render
// directly to the user:
//
//	outcome, err := validator.Validate(ctx)
//	var denial *license.Denial
//	if errors.As(err, &denial) {
//	    fmt.Println(denial.Message())
//	}
package license
