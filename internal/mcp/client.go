package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Client owns the connection to a single tool server. Tool calls never
// return a Go error; failures are folded into the CallToolResult so callers
// can record them and keep going.
type Client struct {
	config    *ServerConfig
	transport Transport
	logger    *slog.Logger
	errlog    *errorLog

	mu          sync.RWMutex
	initialized bool
	tools       []Tool
	serverInfo  ServerInfo
}

// ClientOptions carries the workspace plumbing a client needs beyond its
// own config.
type ClientOptions struct {
	Logger *slog.Logger

	// SystemPath is injected into spawned processes lacking their own PATH.
	SystemPath string

	// Toolsets resolves internal server configs to in-process toolsets.
	Toolsets ToolsetResolver
}

// NewClient builds a client for cfg. The transport is constructed but not
// connected; call Connect before use.
func NewClient(cfg *ServerConfig, opts ClientOptions) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("server", cfg.Name)
	errlog := newErrorLog()

	transport, err := newTransport(cfg, transportOptions{
		logger:     logger,
		errlog:     errlog,
		systemPath: opts.SystemPath,
		toolsets:   opts.Toolsets,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		config:    cfg,
		transport: transport,
		logger:    logger,
		errlog:    errlog,
	}, nil
}

// Connect brings the transport up and performs the initialize handshake,
// caching the server's identity and tool list. It is idempotent; a client
// that is already connected reports true without re-handshaking. A failed
// connect reports false with the cause, and the cause is also appended to
// the error log.
func (c *Client) Connect(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized && c.transport.Connected() {
		return true, nil
	}
	c.initialized = false

	if err := c.transport.Connect(ctx); err != nil {
		c.errlog.Add("connect: %v", err)
		return false, fmt.Errorf("transport connect: %w", err)
	}

	result, err := c.transport.Call(ctx, methodInitialize, map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      clientInfo,
	})
	if err != nil {
		c.errlog.Add("initialize: %v", err)
		_ = c.transport.Close()
		return false, fmt.Errorf("initialize: %w", err)
	}

	var init initializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		c.errlog.Add("initialize: bad result: %v", err)
		_ = c.transport.Close()
		return false, fmt.Errorf("parse initialize result: %w", err)
	}
	c.serverInfo = init.ServerInfo

	if err := c.transport.Notify(ctx, methodInitialized, nil); err != nil {
		c.logger.Warn("initialized notification failed", "error", err)
	}

	if err := c.refreshTools(ctx); err != nil {
		c.errlog.Add("tools/list: %v", err)
		c.logger.Warn("tool listing failed", "error", err)
	}

	c.initialized = true
	c.logger.Info("connected to tool server",
		"name", c.serverInfo.Name,
		"version", c.serverInfo.Version,
		"tools", len(c.tools))
	return true, nil
}

// Disconnect tears the transport down. The cached tool list survives so the
// workspace can still show what the server offered.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.initialized = false
	c.mu.Unlock()
	return c.transport.Close()
}

// refreshTools re-reads tools/list into the cache. Callers hold c.mu.
func (c *Client) refreshTools(ctx context.Context) error {
	result, err := c.transport.Call(ctx, methodListTools, nil)
	if err != nil {
		return err
	}
	var resp listToolsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return fmt.Errorf("parse tools/list result: %w", err)
	}
	c.tools = resp.Tools
	return nil
}

// ListTools returns the tool list cached at connect time.
func (c *Client) ListTools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// CallTool invokes one tool. It reconnects first if the transport went down
// since the last call. Any failure is reported inside the result, never
// raised, with the elapsed time of the whole attempt.
func (c *Client) CallTool(ctx context.Context, tool string, args json.RawMessage, session SessionScope) *CallToolResult {
	start := time.Now()
	fail := func(err error) *CallToolResult {
		c.errlog.Add("call %s: %v", tool, err)
		return &CallToolResult{Err: err.Error(), ElapsedMs: time.Since(start).Milliseconds()}
	}

	if !c.IsConnected() {
		if ok, err := c.Connect(ctx); !ok {
			return fail(fmt.Errorf("reconnect: %w", err))
		}
	}

	if session != nil {
		ctx = WithSession(ctx, session)
	}

	result, err := c.transport.Call(ctx, methodCallTool, callToolParams{Name: tool, Arguments: args})
	if err != nil {
		return fail(err)
	}

	var payload callToolPayload
	if err := json.Unmarshal(result, &payload); err != nil {
		return fail(fmt.Errorf("parse result: %w", err))
	}

	return &CallToolResult{
		Content:   payload.Content,
		IsError:   payload.IsError,
		ElapsedMs: time.Since(start).Milliseconds(),
	}
}

// Ping measures a protocol round trip.
func (c *Client) Ping(ctx context.Context) (int64, error) {
	start := time.Now()
	if _, err := c.transport.Call(ctx, methodPing, nil); err != nil {
		c.errlog.Add("ping: %v", err)
		return 0, err
	}
	return time.Since(start).Milliseconds(), nil
}

// ErrorLog returns the most recent transport and protocol failures, oldest
// first, capped at 100 entries.
func (c *Client) ErrorLog() []string {
	return c.errlog.Snapshot()
}

// ServerVersion reports the version string from the initialize handshake.
func (c *Client) ServerVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo.Version
}

// ServerInfo reports the identity from the initialize handshake.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// IsConnected reports whether the transport currently holds a usable
// connection.
func (c *Client) IsConnected() bool {
	return c.transport.Connected()
}

// Config returns the server configuration this client was built from.
func (c *Client) Config() *ServerConfig {
	return c.config
}
