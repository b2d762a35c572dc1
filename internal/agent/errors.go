package agent

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies provider failures for retry and reporting decisions.
type ErrorKind string

const (
	// KindAuth is an authentication or authorization failure.
	KindAuth ErrorKind = "auth"
	// KindInvalidRequest means the request is malformed and will fail again
	// unchanged.
	KindInvalidRequest ErrorKind = "invalid_request"
	// KindQuota means the account has exhausted its credit or quota.
	KindQuota ErrorKind = "quota"
	// KindRateLimited means the provider is throttling requests.
	KindRateLimited ErrorKind = "rate_limited"
	// KindUnavailable is a transient provider or network failure.
	KindUnavailable ErrorKind = "unavailable"
	// KindUnknown is an unclassified failure.
	KindUnknown ErrorKind = "unknown"
)

// Retryable reports whether a failure of kind k may succeed on retry.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindAuth, KindInvalidRequest, KindQuota:
		return false
	}
	return true
}

// Error is a classified provider failure.
type Error struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the call may succeed if repeated.
func (e *Error) Retryable() bool { return e.Kind.Retryable() }

// KindOf returns the ErrorKind of err, or KindUnknown if err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err may succeed on retry. Unclassified errors
// are treated as transient.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// ClassifyStatus maps an HTTP status and provider message to an ErrorKind.
// A 429 whose message mentions credit or quota is exhaustion, not throttling.
func ClassifyStatus(status int, message string) ErrorKind {
	lower := strings.ToLower(message)
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 402:
		return KindQuota
	case status == 429:
		if strings.Contains(lower, "quota") || strings.Contains(lower, "credit") || strings.Contains(lower, "billing") {
			return KindQuota
		}
		return KindRateLimited
	case status == 408:
		return KindUnavailable
	case status >= 400 && status < 500:
		if strings.Contains(lower, "credit balance") {
			return KindQuota
		}
		return KindInvalidRequest
	case status >= 500:
		return KindUnavailable
	}
	return KindUnknown
}
