package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	ErrorOffline      ErrorCode = "OFFLINE"
	ErrorConflict     ErrorCode = "CONFLICT"
	ErrorRateLimited  ErrorCode = "RATE_LIMITED"
	ErrorUpstream     ErrorCode = "UPSTREAM_ERROR"
	ErrorInternal     ErrorCode = "INTERNAL_ERROR"
)

// Notice is a localized, user-facing message attached to an error that the
// caller should display instead of a raw failure.
type Notice struct {
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
}

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
	Notice *Notice
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

// classifyUpstream wraps a failed model call, distinguishing throttling from
// other upstream failures. prefix names the call site, e.g. "qa".
func classifyUpstream(prefix string, err error) *Error {
	if status, ok := upstreamStatusCode(err); ok && status == 429 {
		return newError(ErrorRateLimited, prefix+"_rate_limited", err)
	}
	return newError(ErrorUpstream, prefix+"_failed", err)
}
