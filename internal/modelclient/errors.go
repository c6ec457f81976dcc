package modelclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/torosent/gauntlet/internal/extract"
)

// QuotaError is a rate-limit or quota rejection. It triggers failover to
// another deployment and is never counted as a test failure.
type QuotaError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exhausted (HTTP %d): %s", e.Status, e.Message)
}

// FatalAuthError is an authentication or authorization rejection. It is
// shard-fatal: retrying with the same credential cannot succeed.
type FatalAuthError struct {
	Status  int
	Message string
}

func (e *FatalAuthError) Error() string {
	return fmt.Sprintf("authentication rejected (HTTP %d): %s", e.Status, e.Message)
}

// TransportError is a transient network or server failure, retried with
// backoff.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is a non-retryable provider rejection outside the quota and
// auth categories, typically a malformed request.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API rejected request (HTTP %d): %s", e.Status, e.Message)
}

// IsQuota reports whether err is a quota/rate-limit rejection.
func IsQuota(err error) bool {
	var qe *QuotaError
	return errors.As(err, &qe)
}

// IsFatalAuth reports whether err is an authentication rejection.
func IsFatalAuth(err error) bool {
	var ae *FatalAuthError
	return errors.As(err, &ae)
}

// IsTransient reports whether err is worth retrying on the same
// deployment.
func IsTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsTimeout reports whether err is the per-call API timeout, which is
// terminal for the session and never retried.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// classifyStatus maps a non-2xx response to the error taxonomy.
func classifyStatus(provider string, status int, header http.Header, body []byte) error {
	msg := extract.ErrorMessage(provider, body)
	switch {
	case status == http.StatusTooManyRequests || status == 529:
		return &QuotaError{Status: status, Message: msg, RetryAfter: retryAfter(header)}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &FatalAuthError{Status: status, Message: msg}
	case status == http.StatusRequestTimeout || status >= 500:
		return &TransportError{Op: "call", Err: fmt.Errorf("HTTP %d: %s", status, msg)}
	default:
		return &APIError{Status: status, Message: msg}
	}
}

func retryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	raw := header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(raw); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
