// Package providers adapts the session turn engine to the model vendors it
// can talk to. Each adapter translates the session transcript into the
// vendor's native request shape, drives the bounded text/tool-call loop
// against the vendor API, and returns one normalized ModelReply.
package providers

import (
	"context"
	"encoding/json"

	"github.com/tsparklabs/tspark/internal/mcp"
	"github.com/tsparklabs/tspark/pkg/models"
)

// Adapter is one configured (provider, model) pair ready to generate.
type Adapter interface {
	// ProviderID is the stable provider identifier ("anthropic", ...).
	ProviderID() string

	// ModelID is the vendor model this adapter was created for.
	ModelID() string

	// GenerateResponse runs the turn loop for one user submission. Failures
	// are reported inside the reply as a terminal turn error, never as a
	// panic or a nil reply.
	GenerateResponse(ctx context.Context, req *Request) *models.ModelReply
}

// Request carries everything an adapter needs for one generation: the
// transcript so far (ending with the message that triggered the call), the
// tools in scope, and the session the call runs under.
type Request struct {
	Session  SessionHandle
	Messages []models.ChatMessage
	Tools    []ToolSpec
}

// ToolSpec is a tool as presented to the provider: the flattened wire name
// plus the server-reported description and JSON schema.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// SessionHandle is the slice of a session the turn loop needs: the tool
// scope for dispatch, the generation settings, and the approval policy.
type SessionHandle interface {
	mcp.SessionScope

	// Settings returns the session's generation settings.
	Settings() models.SessionSettings

	// IsApprovalRequired reports whether a call to (server, tool) must be
	// approved by the caller before it may execute.
	IsApprovalRequired(server, tool string) bool

	// MarkApproved records an allow-session decision so later calls to the
	// same (server, tool) skip approval.
	MarkApproved(server, tool string)
}

// Dispatcher executes tool calls by their flattened wire name. Satisfied by
// *mcp.Manager.
type Dispatcher interface {
	CallTool(ctx context.Context, mangled string, args json.RawMessage, session mcp.SessionScope) *mcp.CallToolResult
	UnmangleToolName(mangled string) (server, tool string, ok bool)
}

// CredentialSource resolves provider credentials. Satisfied by
// *workspace.Workspace.
type CredentialSource interface {
	IsInstalled(pid string) bool
	GetProviderCredential(pid, key string) (string, bool)
}

// ConfigValue describes one credential or setting a provider needs before it
// can be installed.
type ConfigValue struct {
	Key      string `json:"key"`
	Caption  string `json:"caption"`
	Required bool   `json:"required"`
	Secret   bool   `json:"secret"`
}

// Descriptor is the static identity of a supported provider.
type Descriptor struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	URL          string        `json:"url,omitempty"`
	ConfigValues []ConfigValue `json:"configValues,omitempty"`
}
