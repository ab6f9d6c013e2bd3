package endpoint

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorClass categorizes endpoint failures for the retry policy.
type ErrorClass string

const (
	// ErrorClassThrottled means the service rejected the call for quota
	// reasons (HTTP 429, overloaded). The call may be retried after backoff.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassFailed covers every other failure. Not retried.
	ErrorClassFailed ErrorClass = "failed"
)

// statusOverloaded is Anthropic's "overloaded_error" status.
const statusOverloaded = 529

// Error is a classified endpoint failure.
type Error struct {
	Class      ErrorClass
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s error (status %d): %s: %v",
			e.Provider, e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s error (status %d): %s",
		e.Provider, e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Throttled builds a throttled error.
func Throttled(provider string, statusCode int, err error) *Error {
	return &Error{
		Class:      ErrorClassThrottled,
		Provider:   provider,
		StatusCode: statusCode,
		Message:    "rate limited",
		Err:        err,
	}
}

// Failed builds a non-retryable error.
func Failed(provider string, statusCode int, message string, err error) *Error {
	return &Error{
		Class:      ErrorClassFailed,
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// IsThrottled reports whether err is, or wraps, a throttled endpoint error.
func IsThrottled(err error) bool {
	var epErr *Error
	return errors.As(err, &epErr) && epErr.Class == ErrorClassThrottled
}

// ClassOf returns the class of err, or ErrorClassFailed for unclassified errors.
func ClassOf(err error) ErrorClass {
	var epErr *Error
	if errors.As(err, &epErr) {
		return epErr.Class
	}
	return ErrorClassFailed
}

// Classify converts an SDK error into an *Error.
// Typed status codes win; the message heuristics catch proxies and
// gateways that surface quota errors without a usable status.
func Classify(provider string, err error) *Error {
	if err == nil {
		return nil
	}

	var epErr *Error
	if errors.As(err, &epErr) {
		return epErr
	}

	code := statusCode(err)
	switch {
	case code == http.StatusTooManyRequests, code == statusOverloaded:
		return Throttled(provider, code, err)
	case code == 0 && isRateLimitMessage(err):
		return Throttled(provider, code, err)
	}
	return Failed(provider, code, "request failed", err)
}

// statusCode extracts an HTTP-like status from the known SDK error types.
func statusCode(err error) int {
	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return oaErr.StatusCode
	}

	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return anErr.StatusCode
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.ResourceExhausted:
			return http.StatusTooManyRequests
		case codes.Unavailable:
			return http.StatusServiceUnavailable
		case codes.InvalidArgument:
			return http.StatusBadRequest
		case codes.PermissionDenied, codes.Unauthenticated:
			return http.StatusForbidden
		}
	}
	return 0
}

// isRateLimitMessage checks the error text for rate-limit phrasing.
func isRateLimitMessage(err error) bool {
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "status 429") ||
		strings.Contains(errStr, "429 too many") ||
		strings.Contains(errStr, "resource_exhausted") ||
		strings.Contains(errStr, "overloaded")
}
