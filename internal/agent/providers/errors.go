package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Reason categorizes a provider failure for retry decisions.
type Reason string

const (
	ReasonRateLimit   Reason = "rate_limit"
	ReasonAuth        Reason = "auth"
	ReasonTimeout     Reason = "timeout"
	ReasonServerError Reason = "server_error"
	ReasonInvalid     Reason = "invalid_request"
	ReasonUnknown     Reason = "unknown"
)

// Retryable reports whether a failure of this kind may succeed on retry.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError:
		return true
	default:
		return false
	}
}

// Error is a classified provider failure.
type Error struct {
	Provider string
	Model    string
	Status   int
	Reason   Reason
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, msg, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// wrapError classifies a raw SDK error into an *Error. Already-classified
// errors pass through unchanged.
func wrapError(provider, model string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{
		Provider: provider,
		Model:    model,
		Reason:   classify(err),
		Message:  err.Error(),
		Cause:    err,
	}
}

// classify inspects an error's text for the failure categories the vendor
// SDKs do not expose structurally.
func classify(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection reset"):
		return ReasonTimeout
	case strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "overloaded"):
		return ReasonRateLimit
	case strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "invalid_api_key") ||
		strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "401") ||
		strings.Contains(msg, "403"):
		return ReasonAuth
	case strings.Contains(msg, "internal server") ||
		strings.Contains(msg, "server error") ||
		strings.Contains(msg, "bad gateway") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "504"):
		return ReasonServerError
	case strings.Contains(msg, "invalid request") ||
		strings.Contains(msg, "invalid_request") ||
		strings.Contains(msg, "400"):
		return ReasonInvalid
	}
	return ReasonUnknown
}

// classifyStatus maps an HTTP status code to a reason.
func classifyStatus(status int) Reason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusBadRequest || status == http.StatusNotFound:
		return ReasonInvalid
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// IsRetryable reports whether the turn loop should retry the provider call.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Reason.Retryable()
	}
	return classify(err).Retryable()
}

// errMessage extracts the human-readable message for terminal turn errors.
func errMessage(err error) string {
	var pe *Error
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	return err.Error()
}
