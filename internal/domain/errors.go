package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
	"time"
)

// ErrorKind is the closed taxonomy of failure causes surfaced to the worker
// and to callers. Every error that reaches a job outcome is one of these.
type ErrorKind string

const (
	KindAuthentication ErrorKind = "authentication"
	KindRateLimit      ErrorKind = "rate_limit"
	KindTimeout        ErrorKind = "timeout"
	KindServerError    ErrorKind = "server_error"
	KindValidation     ErrorKind = "validation_error"
	KindNetwork        ErrorKind = "network_error"
	KindQuotaExceeded  ErrorKind = "quota_exceeded"
	KindDatabase       ErrorKind = "database"
	KindUnknown        ErrorKind = "unknown"
)

// userMessages are the fixed user-facing strings per kind. The raw technical
// detail is never shown to end users.
var userMessages = map[ErrorKind]string{
	KindAuthentication: "authentication failed, please check your API credentials",
	KindRateLimit:      "the service is receiving too many requests, please try again shortly",
	KindTimeout:        "the operation took too long to complete",
	KindServerError:    "the generation service encountered an internal error",
	KindValidation:     "the request was invalid",
	KindNetwork:        "a network error occurred while contacting the generation service",
	KindQuotaExceeded:  "your account quota has been exhausted",
	KindDatabase:       "a storage error occurred",
	KindUnknown:        "an unexpected error occurred",
}

// UserMessage returns the fixed user-facing string for a kind.
func (k ErrorKind) UserMessage() string {
	if m, ok := userMessages[k]; ok {
		return m
	}
	return userMessages[KindUnknown]
}

// ClassifiedError is the single error type that crosses component
// boundaries once a failure has been classified.
type ClassifiedError struct {
	Kind            ErrorKind     `json:"kind"`
	Retryable       bool          `json:"retryable"`
	UserMessage     string        `json:"user_message"`
	TechnicalDetail string        `json:"technical_detail"`
	RetryAfter      time.Duration `json:"retry_after,omitempty"`
	Origin          string        `json:"origin,omitempty"`
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.TechnicalDetail)
}

// NewClassifiedError builds a ClassifiedError with the kind's fixed user
// message and the given technical detail.
func NewClassifiedError(kind ErrorKind, retryable bool, detail string) *ClassifiedError {
	return &ClassifiedError{
		Kind:            kind,
		Retryable:       retryable,
		UserMessage:     kind.UserMessage(),
		TechnicalDetail: detail,
	}
}

// RemoteStatusError carries the HTTP status of a failed remote call so the
// classifier can map it. RetryAfter is zero when the header was absent.
type RemoteStatusError struct {
	StatusCode int
	Detail     string
	RetryAfter time.Duration
}

func (e *RemoteStatusError) Error() string {
	return fmt.Sprintf("remote status %d: %s", e.StatusCode, e.Detail)
}

// defaultRateLimitRetryAfter applies when a 429 arrives without a usable
// Retry-After header.
const defaultRateLimitRetryAfter = 30 * time.Second

// Classify maps any error into the closed taxonomy. It never panics:
// anything unexpected degrades to unknown(non-retryable). Errors that are
// already classified pass through unchanged.
func Classify(err error) (cerr *ClassifiedError) {
	defer func() {
		if r := recover(); r != nil {
			cerr = NewClassifiedError(KindUnknown, false, fmt.Sprintf("classification panic: %v", r))
		}
	}()
	if err == nil {
		return nil
	}

	var already *ClassifiedError
	if errors.As(err, &already) {
		return already
	}

	var rse *RemoteStatusError
	if errors.As(err, &rse) {
		return classifyStatus(rse)
	}

	if kind, ok := classifyNetwork(err); ok {
		retryable := kind == KindNetwork || kind == KindTimeout
		ce := NewClassifiedError(kind, retryable, err.Error())
		ce.Origin = "transport"
		return ce
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") {
		ce := NewClassifiedError(KindTimeout, true, err.Error())
		ce.Origin = "transport"
		return ce
	}

	return NewClassifiedError(KindUnknown, false, err.Error())
}

func classifyStatus(rse *RemoteStatusError) *ClassifiedError {
	detail := fmt.Sprintf("status=%d detail=%s", rse.StatusCode, rse.Detail)
	switch {
	case rse.StatusCode == 401 || rse.StatusCode == 403:
		ce := NewClassifiedError(KindAuthentication, false, detail)
		ce.Origin = "remote"
		return ce
	case rse.StatusCode == 429:
		ce := NewClassifiedError(KindRateLimit, true, detail)
		ce.RetryAfter = rse.RetryAfter
		if ce.RetryAfter <= 0 {
			ce.RetryAfter = defaultRateLimitRetryAfter
		}
		ce.Origin = "remote"
		return ce
	case rse.StatusCode == 402:
		ce := NewClassifiedError(KindQuotaExceeded, false, detail)
		ce.Origin = "remote"
		return ce
	case rse.StatusCode == 400 || rse.StatusCode == 422:
		ce := NewClassifiedError(KindValidation, false, detail)
		ce.Origin = "remote"
		return ce
	case rse.StatusCode >= 500 && rse.StatusCode <= 599:
		ce := NewClassifiedError(KindServerError, true, detail)
		ce.Origin = "remote"
		return ce
	default:
		ce := NewClassifiedError(KindUnknown, false, detail)
		ce.Origin = "remote"
		return ce
	}
}

// classifyNetwork inspects wrapped syscall and net errors.
func classifyNetwork(err error) (ErrorKind, bool) {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.EHOSTUNREACH):
		return KindNetwork, true
	case errors.Is(err, syscall.ETIMEDOUT),
		errors.Is(err, context.DeadlineExceeded),
		os.IsTimeout(err):
		return KindTimeout, true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return KindTimeout, true
		}
		return KindNetwork, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout, true
		}
		return KindNetwork, true
	}
	return KindUnknown, false
}
