package venue

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRateLimitExceeded is returned by the governor once every retry of a
// rate-limited call has been burned.
var ErrRateLimitExceeded = errors.New("rate limit exceeded after retries")

// ErrSizeTooSmall means the rounded trade size is zero or below a venue's
// estimated minimum.
var ErrSizeTooSmall = errors.New("order size too small")

// ErrNoPrices means neither side of any relevant book produced a usable price.
var ErrNoPrices = errors.New("no usable prices from either venue")

// BalanceFetchError wraps a failed balance retrieval. Callers log and move on.
type BalanceFetchError struct {
	Venue string
	Err   error
}

func (e *BalanceFetchError) Error() string {
	return fmt.Sprintf("%s balance fetch failed: %v", e.Venue, e.Err)
}

func (e *BalanceFetchError) Unwrap() error { return e.Err }

// APIError is an HTTP-level failure from a venue, carrying the status code so
// rate limiting can be detected without string matching.
type APIError struct {
	Venue  string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: status %d: %s", e.Venue, e.Status, e.Body)
}

// IsRateLimit reports whether err looks like an HTTP 429 equivalent. Typed
// check first; the substring match stays only for opaque SDK errors.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == 429
	}
	s := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "too many requests", "rate limit", "ratelimit"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// PartialFillError reports an open where one leg went through and the other
// failed. The position is NOT unwound automatically; the operator resolves it
// with the emergency tool.
type PartialFillError struct {
	FilledVenue string
	FailedVenue string
	Err         error
}

func (e *PartialFillError) Error() string {
	return fmt.Sprintf("partial fill: %s leg filled, %s leg failed: %v", e.FilledVenue, e.FailedVenue, e.Err)
}

func (e *PartialFillError) Unwrap() error { return e.Err }

// PartialCloseError reports a close that left at least one leg open.
type PartialCloseError struct {
	OpenVenues []string
	Err        error
}

func (e *PartialCloseError) Error() string {
	return fmt.Sprintf("partial close: position still open on %s: %v", strings.Join(e.OpenVenues, ", "), e.Err)
}

func (e *PartialCloseError) Unwrap() error { return e.Err }
