package agent

import (
	"context"
	"errors"

	"github.com/tsparklabs/tspark/internal/agent/providers"
	"github.com/tsparklabs/tspark/internal/fragments"
	"github.com/tsparklabs/tspark/internal/mcp"
	"github.com/tsparklabs/tspark/internal/workspace"
)

var (
	// ErrSessionNotFound reports an operation against an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists reports a create against an ID already in use.
	ErrSessionExists = errors.New("session already exists")

	// ErrReentrantCall reports a second HandleMessage while one is in
	// flight for the same session.
	ErrReentrantCall = errors.New("session is already handling a message")

	// ErrApprovalMismatch reports an approval message whose decisions do
	// not cover exactly the pending tool-call set.
	ErrApprovalMismatch = errors.New("approval does not match pending tool calls")

	// ErrNoModel reports a turn attempted before a model was selected.
	ErrNoModel = errors.New("no model selected for session")

	// ErrInvalidInput reports a message role HandleMessage does not accept.
	ErrInvalidInput = errors.New("input must be a user or approval message")
)

// ErrorKind buckets the failures observable through the agent API.
type ErrorKind string

const (
	KindConfig           ErrorKind = "config"
	KindProvider         ErrorKind = "provider"
	KindToolTransport    ErrorKind = "tool-transport"
	KindToolCall         ErrorKind = "tool-call"
	KindApprovalProtocol ErrorKind = "approval-protocol"
	KindReentrancy       ErrorKind = "reentrancy"
	KindTimeout          ErrorKind = "timeout"
	KindUnknown          ErrorKind = "unknown"
)

// KindOf classifies err into the API error taxonomy. Provider and tool
// failures inside a reply are data, not errors, so most of what reaches here
// is synchronous misuse or configuration trouble.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrReentrantCall):
		return KindReentrancy
	case errors.Is(err, ErrApprovalMismatch):
		return KindApprovalProtocol
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrSessionExists),
		errors.Is(err, ErrNoModel),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, workspace.ErrNotWorkspace),
		errors.Is(err, workspace.ErrInvalidSetting),
		errors.Is(err, fragments.ErrDuplicateName),
		errors.Is(err, fragments.ErrInvalidName),
		errors.Is(err, fragments.ErrNotFound):
		return KindConfig
	case errors.Is(err, mcp.ErrNotConnected):
		return KindToolTransport
	case errors.Is(err, providers.ErrUnknownProvider),
		errors.Is(err, providers.ErrNotInstalled):
		return KindConfig
	}

	var perr *providers.Error
	if errors.As(err, &perr) {
		if perr.Reason == providers.ReasonTimeout {
			return KindTimeout
		}
		return KindProvider
	}
	return KindUnknown
}
