// Package http holds the host application's HTTP handlers: health, the
// license endpoints a client uses to inspect and drive validation, and the
// protected API that sits behind the license gate.
//
// Handlers stay thin. They parse the request, call the validator and render
// JSON, leaving errors to the RFC 7807 error handler.
package http
