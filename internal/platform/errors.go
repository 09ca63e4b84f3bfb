package platform

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrInsufficientScope marks metrics calls rejected for missing analytics
// permissions. Callers prompt re-authentication instead of retrying.
var ErrInsufficientScope = errors.New("insufficient scope")

// ErrNoRefreshToken marks a connection that cannot be refreshed. Never
// retried; the user must re-authenticate.
var ErrNoRefreshToken = errors.New("no refresh token stored")

// Error is an adapter-level failure with enough context to log without a
// second round trip.
type Error struct {
	Platform   Name
	Op         string
	StatusCode int
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s: status %d: %s", e.Platform, e.Op, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s: %s: %s", e.Platform, e.Op, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// IsBusinessRejection reports whether the platform rejected the request
// itself (duplicate content, bad id, missing permission). Such failures are
// terminal; retrying sends the same invalid request again. Timeouts and
// rate limits stay retryable.
func IsBusinessRejection(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	return pe.StatusCode >= 400 && pe.StatusCode < 500 &&
		pe.StatusCode != http.StatusRequestTimeout &&
		pe.StatusCode != http.StatusTooManyRequests
}

func IsInsufficientScope(err error) bool {
	return errors.Is(err, ErrInsufficientScope)
}
