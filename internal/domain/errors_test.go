package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"
)

func TestClassify_RemoteStatuses(t *testing.T) {
	cases := []struct {
		status    int
		kind      ErrorKind
		retryable bool
	}{
		{401, KindAuthentication, false},
		{403, KindAuthentication, false},
		{429, KindRateLimit, true},
		{402, KindQuotaExceeded, false},
		{400, KindValidation, false},
		{422, KindValidation, false},
		{500, KindServerError, true},
		{503, KindServerError, true},
		{418, KindUnknown, false},
	}
	for _, tc := range cases {
		cerr := Classify(&RemoteStatusError{StatusCode: tc.status, Detail: "x"})
		if cerr.Kind != tc.kind {
			t.Fatalf("status %d: kind = %s, want %s", tc.status, cerr.Kind, tc.kind)
		}
		if cerr.Retryable != tc.retryable {
			t.Fatalf("status %d: retryable = %v, want %v", tc.status, cerr.Retryable, tc.retryable)
		}
		if cerr.UserMessage == "" {
			t.Fatalf("status %d: empty user message", tc.status)
		}
	}
}

func TestClassify_RateLimitRetryAfter(t *testing.T) {
	cerr := Classify(&RemoteStatusError{StatusCode: 429, RetryAfter: 12 * time.Second})
	if cerr.RetryAfter != 12*time.Second {
		t.Fatalf("RetryAfter = %v, want 12s", cerr.RetryAfter)
	}

	cerr = Classify(&RemoteStatusError{StatusCode: 429})
	if cerr.RetryAfter != 30*time.Second {
		t.Fatalf("default RetryAfter = %v, want 30s", cerr.RetryAfter)
	}
}

func TestClassify_NetworkErrors(t *testing.T) {
	cases := []struct {
		err  error
		kind ErrorKind
	}{
		{fmt.Errorf("dial: %w", syscall.ECONNREFUSED), KindNetwork},
		{fmt.Errorf("read: %w", syscall.ECONNRESET), KindNetwork},
		{fmt.Errorf("write: %w", syscall.EPIPE), KindNetwork},
		{fmt.Errorf("route: %w", syscall.EHOSTUNREACH), KindNetwork},
		{fmt.Errorf("dial: %w", syscall.ETIMEDOUT), KindTimeout},
		{context.DeadlineExceeded, KindTimeout},
		{&net.DNSError{Err: "no such host", Name: "api.invalid"}, KindNetwork},
		{errors.New("request timed out waiting for response"), KindTimeout},
	}
	for _, tc := range cases {
		cerr := Classify(tc.err)
		if cerr.Kind != tc.kind {
			t.Fatalf("Classify(%v): kind = %s, want %s", tc.err, cerr.Kind, tc.kind)
		}
		if !cerr.Retryable {
			t.Fatalf("Classify(%v): network/timeout errors must be retryable", tc.err)
		}
	}
}

func TestClassify_UnknownAndPassthrough(t *testing.T) {
	cerr := Classify(errors.New("something strange"))
	if cerr.Kind != KindUnknown || cerr.Retryable {
		t.Fatalf("unknown error classified as %s retryable=%v", cerr.Kind, cerr.Retryable)
	}

	orig := NewClassifiedError(KindQuotaExceeded, false, "no credits")
	wrapped := fmt.Errorf("worker: %w", orig)
	if got := Classify(wrapped); got != orig {
		t.Fatalf("classified error did not pass through unchanged")
	}

	if Classify(nil) != nil {
		t.Fatalf("Classify(nil) should be nil")
	}
}

func TestErrorKind_UserMessageFallback(t *testing.T) {
	if ErrorKind("bogus").UserMessage() != KindUnknown.UserMessage() {
		t.Fatalf("unrecognized kind should fall back to the unknown message")
	}
}
