package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Manager holds the live client for every configured tool server, keyed by
// server name, and routes mangled tool names to the right client.
type Manager struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewManager creates an empty manager. Clients are added by the workspace
// as servers are configured.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:  logger.With("component", "mcp"),
		clients: make(map[string]*Client),
	}
}

// GetClient returns the client for a server name.
func (m *Manager) GetClient(name string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[name]
	return c, ok
}

// AllClients returns a snapshot of the client map.
func (m *Manager) AllClients() map[string]*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*Client, len(m.clients))
	for name, c := range m.clients {
		out[name] = c
	}
	return out
}

// ServerNames returns the configured server names, sorted.
func (m *Manager) ServerNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UpdateClient installs a client under name, disconnecting any previous one.
func (m *Manager) UpdateClient(name string, client *Client) {
	m.mu.Lock()
	old := m.clients[name]
	m.clients[name] = client
	m.mu.Unlock()

	if old != nil && old != client {
		if err := old.Disconnect(); err != nil {
			m.logger.Warn("disconnect replaced client", "server", name, "error", err)
		}
	}
}

// DeleteClient disconnects and removes the client under name.
func (m *Manager) DeleteClient(name string) {
	m.mu.Lock()
	client := m.clients[name]
	delete(m.clients, name)
	m.mu.Unlock()

	if client != nil {
		if err := client.Disconnect(); err != nil {
			m.logger.Warn("disconnect deleted client", "server", name, "error", err)
		}
	}
}

// CloseAll disconnects every client and empties the map.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]*Client)
	m.mu.Unlock()

	for name, client := range clients {
		if err := client.Disconnect(); err != nil {
			m.logger.Warn("disconnect client", "server", name, "error", err)
		}
	}
}

// ServerTool pairs a tool with the server that offers it.
type ServerTool struct {
	ServerName string
	Tool       Tool
}

// GetAllTools returns every cached tool across all servers, ordered by
// server name then tool name.
func (m *Manager) GetAllTools() []ServerTool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []ServerTool
	for _, name := range names {
		tools := m.clients[name].ListTools()
		sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
		for _, t := range tools {
			out = append(out, ServerTool{ServerName: name, Tool: t})
		}
	}
	return out
}

// CallTool un-mangles the flattened name, dispatches to the owning client,
// and returns the raw result. Failures come back inside the result.
func (m *Manager) CallTool(ctx context.Context, mangled string, args json.RawMessage, session SessionScope) *CallToolResult {
	server, tool, ok := m.UnmangleToolName(mangled)
	if !ok {
		return &CallToolResult{Err: fmt.Sprintf("unknown tool %q: no configured server matches", mangled)}
	}

	client, exists := m.GetClient(server)
	if !exists {
		return &CallToolResult{Err: fmt.Sprintf("server %q not configured", server)}
	}

	return client.CallTool(ctx, tool, args, session)
}

// MangleToolName flattens a (server, tool) pair into the single identifier
// providers see.
func MangleToolName(server, tool string) string {
	return server + "_" + tool
}

// UnmangleToolName splits a mangled identifier back into its pair. Server
// names may themselves contain underscores, so ambiguity is resolved toward
// the longest known server name that is followed by an underscore and a
// non-empty tool name.
func (m *Manager) UnmangleToolName(mangled string) (server, tool string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	best := ""
	for name := range m.clients {
		if len(name) <= len(best) {
			continue
		}
		if len(mangled) > len(name)+1 && strings.HasPrefix(mangled, name) && mangled[len(name)] == '_' {
			best = name
		}
	}
	if best == "" {
		return "", "", false
	}
	return best, mangled[len(best)+1:], true
}

// ServerStatus summarizes one server for status surfaces.
type ServerStatus struct {
	Name      string     `json:"name"`
	Connected bool       `json:"connected"`
	Server    ServerInfo `json:"server"`
	Tools     int        `json:"tools"`
	Errors    int        `json:"errors"`
}

// Status reports every configured server, sorted by name.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)

	statuses := make([]ServerStatus, 0, len(names))
	for _, name := range names {
		client := m.clients[name]
		statuses = append(statuses, ServerStatus{
			Name:      name,
			Connected: client.IsConnected(),
			Server:    client.ServerInfo(),
			Tools:     len(client.ListTools()),
			Errors:    len(client.ErrorLog()),
		})
	}
	return statuses
}
