package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// internalTransport serves a built-in toolset through the same wire contract
// the external transports use, so clients need no special casing.
type internalTransport struct {
	config  *ServerConfig
	logger  *slog.Logger
	errlog  *errorLog
	toolset Toolset

	connected atomic.Bool
}

func newInternalTransport(cfg *ServerConfig, ts Toolset, opts transportOptions) *internalTransport {
	return &internalTransport{
		config:  cfg,
		logger:  opts.logger.With("server", cfg.Name, "transport", "internal"),
		errlog:  opts.errlog,
		toolset: ts,
	}
}

func (t *internalTransport) Connect(ctx context.Context) error {
	t.connected.Store(true)
	return nil
}

func (t *internalTransport) Close() error {
	t.connected.Store(false)
	return nil
}

func (t *internalTransport) Connected() bool {
	return t.connected.Load()
}

// Call answers the protocol methods directly from the toolset.
func (t *internalTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, ErrNotConnected
	}

	switch method {
	case methodInitialize:
		return json.Marshal(initializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: t.config.Toolset, Version: t.toolset.Version()},
		})

	case methodListTools:
		return json.Marshal(listToolsResult{Tools: t.toolset.Tools()})

	case methodCallTool:
		call, err := decodeCallParams(params)
		if err != nil {
			return nil, err
		}
		result, err := t.toolset.Call(ctx, call.Name, call.Arguments)
		if err != nil {
			t.errlog.Add("%s: %v", call.Name, err)
			return nil, err
		}
		return json.Marshal(callToolPayload{Content: result.Content, IsError: result.IsError})

	case methodPing:
		return json.RawMessage(`{}`), nil

	default:
		return nil, &jsonrpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", method)}
	}
}

// Notify accepts and drops notifications; internal toolsets have no use for
// them.
func (t *internalTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	return nil
}

func decodeCallParams(params any) (*callToolParams, error) {
	switch p := params.(type) {
	case *callToolParams:
		return p, nil
	case callToolParams:
		return &p, nil
	default:
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		var call callToolParams
		if err := json.Unmarshal(data, &call); err != nil {
			return nil, &jsonrpcError{Code: codeInvalidParams, Message: err.Error()}
		}
		return &call, nil
	}
}
