package providers

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want Reason
	}{
		{"context deadline exceeded", ReasonTimeout},
		{"rate limit exceeded", ReasonRateLimit},
		{"429 Too Many Requests", ReasonRateLimit},
		{"resource exhausted: quota", ReasonRateLimit},
		{"invalid api key provided", ReasonAuth},
		{"status 401: unauthorized", ReasonAuth},
		{"internal server error", ReasonServerError},
		{"502 bad gateway", ReasonServerError},
		{"invalid request: missing field", ReasonInvalid},
		{"something odd happened", ReasonUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := classify(errors.New(tt.msg)); got != tt.want {
				t.Errorf("classify(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Reason
	}{
		{401, ReasonAuth},
		{403, ReasonAuth},
		{429, ReasonRateLimit},
		{400, ReasonInvalid},
		{404, ReasonInvalid},
		{500, ReasonServerError},
		{503, ReasonServerError},
		{200, ReasonUnknown},
	}
	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestReason_Retryable(t *testing.T) {
	retryable := []Reason{ReasonRateLimit, ReasonTimeout, ReasonServerError}
	for _, r := range retryable {
		if !r.Retryable() {
			t.Errorf("%v should be retryable", r)
		}
	}
	terminal := []Reason{ReasonAuth, ReasonInvalid, ReasonUnknown}
	for _, r := range terminal {
		if r.Retryable() {
			t.Errorf("%v should not be retryable", r)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(&Error{Reason: ReasonRateLimit}) {
		t.Error("classified rate limit should retry")
	}
	if IsRetryable(&Error{Reason: ReasonAuth}) {
		t.Error("classified auth error should not retry")
	}
	if !IsRetryable(errors.New("503 service unavailable")) {
		t.Error("raw server error text should retry")
	}
	if IsRetryable(errors.New("nothing recognizable")) {
		t.Error("unknown error should not retry")
	}
	wrapped := fmt.Errorf("call failed: %w", &Error{Reason: ReasonTimeout})
	if !IsRetryable(wrapped) {
		t.Error("wrapped classified error should retry")
	}
}

func TestWrapError(t *testing.T) {
	cause := errors.New("rate limit hit")
	e := wrapError("openai", "gpt-4o", cause)
	if e.Provider != "openai" || e.Model != "gpt-4o" {
		t.Errorf("identity = %s/%s", e.Provider, e.Model)
	}
	if e.Reason != ReasonRateLimit {
		t.Errorf("reason = %v", e.Reason)
	}
	if !errors.Is(e, cause) {
		t.Error("cause not wrapped")
	}

	// Already-classified errors pass through.
	again := wrapError("openai", "gpt-4o", fmt.Errorf("outer: %w", e))
	if again != e {
		t.Error("re-wrap should return the existing classified error")
	}
}

func TestErrMessage(t *testing.T) {
	if got := errMessage(&Error{Message: "quota exceeded"}); got != "quota exceeded" {
		t.Errorf("errMessage = %q", got)
	}
	if got := errMessage(errors.New("plain failure")); got != "plain failure" {
		t.Errorf("errMessage = %q", got)
	}
}
