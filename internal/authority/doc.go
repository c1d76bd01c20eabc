// Package authority is the remote license authority: the record store, the
// activation rules, the HTTP API that serves them and the client the
// validator uses to reach it.
package authority
