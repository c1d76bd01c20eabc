package license

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// DenialReason says why Validate refused access
type DenialReason string

const (
	ReasonTimeout                DenialReason = "timeout"
	ReasonExpired                DenialReason = "expired"
	ReasonDeactivated            DenialReason = "deactivated"
	ReasonHardwareMismatch       DenialReason = "hardware_mismatch"
	ReasonCacheExpired           DenialReason = "cache_expired"
	ReasonAuthenticationRequired DenialReason = "authentication_required"
	ReasonAuthenticationFailed   DenialReason = "authentication_failed"
	ReasonActivationLimit        DenialReason = "activation_limit"
	ReasonNoLicense              DenialReason = "no_license"
	ReasonAuthorityError         DenialReason = "authority_error"
)

var reasonMessages = map[DenialReason]string{
	ReasonTimeout:                "The license server could not be reached in time. Check your connection and try again.",
	ReasonExpired:                "Your license has expired. Please renew it to continue.",
	ReasonDeactivated:            "Your license has been deactivated. Please contact support.",
	ReasonHardwareMismatch:       "This license is registered to a different machine.",
	ReasonCacheExpired:           "Your offline license period has ended. Connect to the internet and sign in again.",
	ReasonAuthenticationRequired: "Please sign in to continue.",
	ReasonAuthenticationFailed:   "Sign in failed. Check your credentials and try again.",
	ReasonActivationLimit:        "This license is already active on the maximum number of machines.",
	ReasonNoLicense:              "No license was found for this account.",
	ReasonAuthorityError:         "The license server could not complete the request. Please try again later or contact support.",
}

// Message returns the user-facing text for the reason
func (r DenialReason) Message() string {
	if msg, ok := reasonMessages[r]; ok {
		return msg
	}
	return "License validation failed."
}

// HTTPStatus maps the reason to a response status
func (r DenialReason) HTTPStatus() int {
	switch r {
	case ReasonAuthenticationRequired, ReasonAuthenticationFailed:
		return http.StatusUnauthorized
	case ReasonTimeout:
		return http.StatusServiceUnavailable
	case ReasonAuthorityError:
		return http.StatusBadGateway
	default:
		return http.StatusForbidden
	}
}

// Denial is the error returned by Validate when access is refused
type Denial struct {
	Reason DenialReason
	// CacheRejection is set when a disk cache existed but could not be used,
	// which is why the cold start ran
	CacheRejection DenialReason
	// Cause is for logs only
	Cause error
}

func newDenial(reason DenialReason, cacheRejection DenialReason, cause error) *Denial {
	return &Denial{Reason: reason, CacheRejection: cacheRejection, Cause: cause}
}

// Error implements error
func (d *Denial) Error() string {
	s := "license denied: " + string(d.Reason)
	if d.CacheRejection != "" {
		s += fmt.Sprintf(" (cache rejected: %s)", d.CacheRejection)
	}
	if d.Cause != nil {
		s += ": " + d.Cause.Error()
	}
	return s
}

// Unwrap returns the underlying cause
func (d *Denial) Unwrap() error {
	return d.Cause
}

// Message returns the user-facing explanation
func (d *Denial) Message() string {
	if d.CacheRejection == ReasonCacheExpired && d.Reason == ReasonTimeout {
		return reasonMessages[ReasonCacheExpired]
	}
	return d.Reason.Message()
}

// DenialResponse renders a Denial as JSON
type DenialResponse struct {
	HTTPStatusCode int          `json:"-"`
	Status         string       `json:"status"`
	Reason         DenialReason `json:"reason"`
	CacheRejection DenialReason `json:"cache_rejection,omitempty"`
	Message        string       `json:"message"`
	TraceID        string       `json:"trace_id,omitempty"`
}

// Render implements the render.Renderer interface
func (e *DenialResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

// NewDenialResponse builds the response body for d
func NewDenialResponse(d *Denial, traceID string) *DenialResponse {
	return &DenialResponse{
		HTTPStatusCode: d.Reason.HTTPStatus(),
		Status:         "denied",
		Reason:         d.Reason,
		CacheRejection: d.CacheRejection,
		Message:        d.Message(),
		TraceID:        traceID,
	}
}
