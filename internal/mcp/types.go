// Package mcp implements the tool-server side of the runtime: JSON-RPC
// clients over process (stdio), stream (SSE), and in-process transports,
// plus the manager that owns one client per configured server and routes
// mangled tool names back to the (server, tool) pair they identify.
package mcp

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/tsparklabs/tspark/pkg/models"
)

// TransportType selects how a configured server is reached.
type TransportType string

const (
	// TransportStdio spawns a local process and speaks JSON-RPC over its
	// stdin/stdout pipes.
	TransportStdio TransportType = "stdio"

	// TransportSSE speaks JSON-RPC over HTTP POST with an event-stream
	// channel for server-initiated messages.
	TransportSSE TransportType = "sse"

	// TransportInternal routes calls to a toolset living in this process.
	TransportInternal TransportType = "internal"
)

// ServerConfig describes one tool server as persisted in the workspace
// document's mcpServers map. The variant fields are discriminated by Type.
type ServerConfig struct {
	// Name is the mcpServers map key; populated on load, not serialized.
	Name string `json:"-"`

	Type TransportType `json:"type"`

	// Process transport.
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// Stream transport.
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// Internal transport: which built-in toolset to serve.
	Toolset string `json:"tool,omitempty"`

	ToolInclude *ToolInclude `json:"toolInclude,omitempty"`
	Permissions *Permissions `json:"permissions,omitempty"`
}

// Validate checks the fields the selected transport requires.
func (c *ServerConfig) Validate() error {
	if c.Name != "" && strings.ContainsAny(c.Name, " \t\n") {
		return fmt.Errorf("server name %q must not contain whitespace", c.Name)
	}
	switch c.Type {
	case TransportStdio:
		if strings.TrimSpace(c.Command) == "" {
			return fmt.Errorf("stdio server requires a command")
		}
		if strings.ContainsAny(c.Command, "|&;<>$`") {
			return fmt.Errorf("command must be a plain executable, not a shell expression")
		}
	case TransportSSE:
		u, err := url.Parse(c.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("sse server requires an absolute url, got %q", c.URL)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("unsupported url scheme %q", u.Scheme)
		}
	case TransportInternal:
		if strings.TrimSpace(c.Toolset) == "" {
			return fmt.Errorf("internal server requires a toolset name")
		}
	default:
		return fmt.Errorf("unknown transport type %q", c.Type)
	}
	return nil
}

// Clone returns a deep copy so callers can mutate configs without aliasing
// the stored map.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	out := *c
	if c.Args != nil {
		out.Args = append([]string(nil), c.Args...)
	}
	out.Env = cloneStringMap(c.Env)
	out.Headers = cloneStringMap(c.Headers)
	if c.ToolInclude != nil {
		ti := *c.ToolInclude
		ti.Tools = cloneIncludeMap(c.ToolInclude.Tools)
		out.ToolInclude = &ti
	}
	if c.Permissions != nil {
		p := *c.Permissions
		if c.Permissions.ToolPermissions != nil {
			p.ToolPermissions = make(map[string]ToolPermission, len(c.Permissions.ToolPermissions))
			for k, v := range c.Permissions.ToolPermissions {
				p.ToolPermissions[k] = v
			}
		}
		out.Permissions = &p
	}
	return &out
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneIncludeMap(in map[string]models.IncludeMode) map[string]models.IncludeMode {
	if in == nil {
		return nil
	}
	out := make(map[string]models.IncludeMode, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ToolInclude controls which of a server's tools join new sessions by
// default and which the model may pull in itself.
type ToolInclude struct {
	ServerDefault models.IncludeMode            `json:"serverDefault,omitempty"`
	Tools         map[string]models.IncludeMode `json:"tools,omitempty"`
}

// IncludeModeFor resolves a tool's effective include mode: per-tool
// override, then server default, then manual.
func (c *ServerConfig) IncludeModeFor(tool string) models.IncludeMode {
	if c != nil && c.ToolInclude != nil {
		if mode, ok := c.ToolInclude.Tools[tool]; ok && mode != "" {
			return mode
		}
		if c.ToolInclude.ServerDefault != "" {
			return c.ToolInclude.ServerDefault
		}
	}
	return models.IncludeManual
}

// Permission is the approval requirement recorded for a tool.
type Permission string

const (
	PermissionRequired    Permission = "required"
	PermissionNotRequired Permission = "notRequired"
)

// Permissions holds a server's approval policy.
type Permissions struct {
	DefaultPermission Permission                `json:"defaultPermission,omitempty"`
	ToolPermissions   map[string]ToolPermission `json:"toolPermissions,omitempty"`
}

// ToolPermission is the per-tool approval override.
type ToolPermission struct {
	Permission Permission `json:"permission,omitempty"`
}

// ToolApproval resolves whether a tool call needs approval under this
// server's policy. The returned pointer is nil when the config makes no
// determination, in which case the session-level fallback applies.
func (c *ServerConfig) ToolApproval(tool string) *bool {
	if c == nil || c.Permissions == nil {
		return nil
	}
	if tp, ok := c.Permissions.ToolPermissions[tool]; ok {
		switch tp.Permission {
		case PermissionRequired:
			return boolPtr(true)
		case PermissionNotRequired:
			return boolPtr(false)
		}
	}
	switch c.Permissions.DefaultPermission {
	case PermissionRequired:
		return boolPtr(true)
	case PermissionNotRequired:
		return boolPtr(false)
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }

// Tool describes a callable tool as reported by a server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ContentPart is one typed element of a tool result. The core consumes only
// text parts; other types round-trip untouched.
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// CallToolResult is the normalized outcome of one tool invocation. A
// transport-level failure is carried in Err rather than raised so the turn
// engine can record it and keep the conversation moving; a server-reported
// error payload sets IsError with the message in the content parts.
type CallToolResult struct {
	Content   []ContentPart `json:"content,omitempty"`
	IsError   bool          `json:"isError,omitempty"`
	Err       string        `json:"error,omitempty"`
	ElapsedMs int64         `json:"elapsedMs"`
}

// Text concatenates the text parts, newline-joined. Non-text parts are
// ignored; if no text part exists the raw content is JSON-encoded so the
// model still sees something actionable.
func (r *CallToolResult) Text() string {
	if r == nil {
		return ""
	}
	var parts []string
	for _, p := range r.Content {
		if p.Type == "text" {
			parts = append(parts, p.Text)
		}
	}
	if len(parts) == 0 && len(r.Content) > 0 {
		if data, err := json.Marshal(r.Content); err == nil {
			return string(data)
		}
	}
	return strings.Join(parts, "\n")
}

// ErrorMessage returns the failure to record on an ExecutedCall: the
// transport error if any, else the server's error text, else empty.
func (r *CallToolResult) ErrorMessage() string {
	if r == nil {
		return ""
	}
	if r.Err != "" {
		return r.Err
	}
	if r.IsError {
		return r.Text()
	}
	return ""
}

// ServerInfo is the identity a server reports during the initialize
// handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// protocolVersion is the MCP protocol revision this client speaks.
const protocolVersion = "2024-11-05"

// Protocol method names.
const (
	methodInitialize  = "initialize"
	methodInitialized = "notifications/initialized"
	methodListTools   = "tools/list"
	methodCallTool    = "tools/call"
	methodPing        = "ping"
)

// clientInfo identifies this runtime to servers.
var clientInfo = ServerInfo{Name: "tspark", Version: "0.1.0"}

// initializeResult is the payload of a successful initialize call.
type initializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	ServerInfo      ServerInfo      `json:"serverInfo"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
}

// listToolsResult is the payload of tools/list.
type listToolsResult struct {
	Tools []Tool `json:"tools"`
}

// callToolParams is the request payload of tools/call.
type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// callToolPayload is the response payload of tools/call.
type callToolPayload struct {
	Content []ContentPart `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// JSON-RPC 2.0 framing.

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *jsonrpcError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)
