package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tsparklabs/tspark/pkg/models"
)

// ErrNotConnected reports an operation attempted on a transport that holds
// no usable connection.
var ErrNotConnected = errors.New("not connected")

// Transport carries JSON-RPC traffic to one server. Implementations are safe
// for concurrent Call invocations; correlation is by request ID.
type Transport interface {
	// Connect establishes the transport. Calling it while connected is an
	// error for stream transports (see transport_sse.go) and a no-op for
	// the others; callers normally go through Client.Connect which guards.
	Connect(ctx context.Context) error

	// Close tears the transport down. Idempotent.
	Close() error

	// Call sends a request and waits for the matching response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification (no response expected).
	Notify(ctx context.Context, method string, params any) error

	// Connected reports whether the transport currently believes its
	// connection is usable.
	Connected() bool
}

// transportOptions carries the per-client plumbing transports need.
type transportOptions struct {
	logger *slog.Logger
	errlog *errorLog

	// systemPath is the workspace-recorded PATH prepended for spawned
	// processes whose config does not pin its own PATH.
	systemPath string

	// toolsets resolves internal transport targets.
	toolsets ToolsetResolver
}

// newTransport builds the transport variant cfg selects.
func newTransport(cfg *ServerConfig, opts transportOptions) (Transport, error) {
	if opts.logger == nil {
		opts.logger = slog.Default()
	}
	if opts.errlog == nil {
		opts.errlog = newErrorLog()
	}
	switch cfg.Type {
	case TransportStdio:
		return newStdioTransport(cfg, opts), nil
	case TransportSSE:
		return newSSETransport(cfg, opts), nil
	case TransportInternal:
		if opts.toolsets == nil {
			return nil, fmt.Errorf("internal server %q: no toolset resolver configured", cfg.Name)
		}
		ts, err := opts.toolsets.Resolve(cfg.Toolset)
		if err != nil {
			return nil, fmt.Errorf("internal server %q: %w", cfg.Name, err)
		}
		return newInternalTransport(cfg, ts, opts), nil
	default:
		return nil, fmt.Errorf("unknown transport type %q", cfg.Type)
	}
}

// Toolset is an in-process tool collection served through the internal
// transport. Implementations return deterministic JSON in text parts and
// report argument errors in-band via IsError rather than as Go errors.
type Toolset interface {
	Version() string
	Tools() []Tool
	Call(ctx context.Context, tool string, args json.RawMessage) (ToolsetResult, error)
}

// ToolsetResult is what a toolset call produces.
type ToolsetResult struct {
	Content []ContentPart
	IsError bool
}

// ToolsetResolver maps the `tool` field of an internal ServerConfig to a
// live toolset.
type ToolsetResolver interface {
	Resolve(name string) (Toolset, error)
}

// ToolsetResolverFunc adapts a function to ToolsetResolver.
type ToolsetResolverFunc func(name string) (Toolset, error)

func (f ToolsetResolverFunc) Resolve(name string) (Toolset, error) { return f(name) }

// SessionScope is the slice of per-session state that context-mutating
// internal tools may touch. It rides the context through CallTool so the
// transport boundary stays uniform; external transports never look at it.
type SessionScope interface {
	ID() string
	IncludedTools() []models.ToolRef
	IncludeTool(server, tool string)
	ExcludeTool(server, tool string)
}

type sessionKey struct{}

// WithSession attaches a session scope to ctx for internal toolsets.
func WithSession(ctx context.Context, s SessionScope) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext extracts the session scope, if any.
func SessionFromContext(ctx context.Context) (SessionScope, bool) {
	s, ok := ctx.Value(sessionKey{}).(SessionScope)
	return s, ok
}
