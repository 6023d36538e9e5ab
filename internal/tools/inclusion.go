package tools

import (
	"context"
	"encoding/json"

	"github.com/tsparklabs/tspark/internal/events"
	"github.com/tsparklabs/tspark/internal/mcp"
	"github.com/tsparklabs/tspark/pkg/models"
)

const inclusionToolsetVersion = "1.0.0"

const sessionMissing = "Chat session not found"

// ServerConfigStore is the slice of the workspace the inclusion toolset
// needs to read and persist include modes.
type ServerConfigStore interface {
	GetToolServer(name string) (*mcp.ServerConfig, bool)
	SaveToolServer(cfg *mcp.ServerConfig) error
}

// InclusionToolset lets the model inspect the tool catalog and manage which
// tools are in its own session context. Context-mutating operations need the
// session scope threaded through the call context.
type InclusionToolset struct {
	manager *mcp.Manager
	config  ServerConfigStore
	bus     *events.Bus
	defs    map[string]toolDef
	order   []string
}

// NewInclusionToolset builds the tool-inclusion toolset.
func NewInclusionToolset(manager *mcp.Manager, config ServerConfigStore, bus *events.Bus) *InclusionToolset {
	if bus == nil {
		bus = events.NewBus()
	}
	ts := &InclusionToolset{manager: manager, config: config, bus: bus, defs: make(map[string]toolDef)}
	add := func(def toolDef) {
		ts.defs[def.tool.Name] = def
		ts.order = append(ts.order, def.tool.Name)
	}

	serverToolSchema := `{
		"type": "object",
		"properties": {
			"server": {"type": "string", "description": "Tool server name"},
			"tool": {"type": "string", "description": "Tool name on that server"}
		},
		"required": ["server", "tool"],
		"additionalProperties": false
	}`
	serverSchema := `{
		"type": "object",
		"properties": {
			"server": {"type": "string", "description": "Tool server name"}
		},
		"required": ["server"],
		"additionalProperties": false
	}`
	emptySchema := `{"type": "object", "properties": {}, "additionalProperties": false}`

	add(defineTool("listTools",
		"List every tool across all configured tool servers.", emptySchema))
	add(defineTool("getTool",
		"Fetch one tool's description, include mode, and input schema.", serverToolSchema))
	add(defineTool("listContextTools",
		"List the tools currently included in this chat session.", emptySchema))
	add(defineTool("includeTool",
		"Add a tool to this chat session's context.", serverToolSchema))
	add(defineTool("excludeTool",
		"Remove a tool from this chat session's context.", serverToolSchema))
	add(defineTool("setToolIncludeMode",
		"Set a tool's default include mode for new sessions.", `{
		"type": "object",
		"properties": {
			"server": {"type": "string"},
			"tool": {"type": "string"},
			"mode": {"type": "string", "enum": ["always", "manual", "agent"]}
		},
		"required": ["server", "tool", "mode"],
		"additionalProperties": false
	}`))
	add(defineTool("includeServer",
		"Add every tool of a server to this chat session's context.", serverSchema))
	add(defineTool("excludeServer",
		"Remove every tool of a server from this chat session's context.", serverSchema))
	add(defineTool("setServerIncludeMode",
		"Set a server's default include mode for new sessions.", `{
		"type": "object",
		"properties": {
			"server": {"type": "string"},
			"mode": {"type": "string", "enum": ["always", "manual", "agent"]}
		},
		"required": ["server", "mode"],
		"additionalProperties": false
	}`))

	return ts
}

func (t *InclusionToolset) Version() string { return inclusionToolsetVersion }

func (t *InclusionToolset) Tools() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.defs[name].tool)
	}
	return out
}

// toolInfo is the catalog entry shape list/get operations return.
type toolInfo struct {
	Server      string          `json:"server"`
	Tool        string          `json:"tool"`
	Description string          `json:"description,omitempty"`
	IncludeMode string          `json:"includeMode"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

func (t *InclusionToolset) Call(ctx context.Context, tool string, args json.RawMessage) (mcp.ToolsetResult, error) {
	def, ok := t.defs[tool]
	if !ok {
		return errorResult("Error: unknown tool %q", tool)
	}
	decoded, err := def.decodeArgs(args)
	if err != nil {
		return errorResult("Error: invalid arguments for %s: %v", tool, err)
	}

	switch tool {
	case "listTools":
		return t.listTools()
	case "getTool":
		return t.getTool(decoded)
	case "listContextTools":
		return t.listContextTools(ctx)
	case "includeTool":
		return t.setInclusion(ctx, decoded, true)
	case "excludeTool":
		return t.setInclusion(ctx, decoded, false)
	case "setToolIncludeMode":
		return t.setToolIncludeMode(decoded)
	case "includeServer":
		return t.setServerInclusion(ctx, decoded, true)
	case "excludeServer":
		return t.setServerInclusion(ctx, decoded, false)
	default:
		return t.setServerIncludeMode(decoded)
	}
}

func (t *InclusionToolset) includeModeFor(server, tool string) string {
	cfg, ok := t.config.GetToolServer(server)
	if !ok {
		return string(models.IncludeManual)
	}
	return string(cfg.IncludeModeFor(tool))
}

func (t *InclusionToolset) listTools() (mcp.ToolsetResult, error) {
	all := t.manager.GetAllTools()
	out := make([]toolInfo, 0, len(all))
	for _, st := range all {
		out = append(out, toolInfo{
			Server:      st.ServerName,
			Tool:        st.Tool.Name,
			Description: st.Tool.Description,
			IncludeMode: t.includeModeFor(st.ServerName, st.Tool.Name),
		})
	}
	return jsonResult(out)
}

func (t *InclusionToolset) getTool(args map[string]any) (mcp.ToolsetResult, error) {
	server, _ := stringArg(args, "server")
	tool, _ := stringArg(args, "tool")

	client, ok := t.manager.GetClient(server)
	if !ok {
		return errorResult("Error: server %q not configured", server)
	}
	for _, tl := range client.ListTools() {
		if tl.Name == tool {
			return jsonResult(toolInfo{
				Server:      server,
				Tool:        tl.Name,
				Description: tl.Description,
				IncludeMode: t.includeModeFor(server, tl.Name),
				InputSchema: tl.InputSchema,
			})
		}
	}
	return errorResult("Error: tool %q not found on server %q", tool, server)
}

func (t *InclusionToolset) listContextTools(ctx context.Context) (mcp.ToolsetResult, error) {
	session, ok := mcp.SessionFromContext(ctx)
	if !ok {
		return errorResult(sessionMissing)
	}
	refs := session.IncludedTools()
	out := make([]models.ToolRef, 0, len(refs))
	out = append(out, refs...)
	return jsonResult(out)
}

func (t *InclusionToolset) setInclusion(ctx context.Context, args map[string]any, include bool) (mcp.ToolsetResult, error) {
	session, ok := mcp.SessionFromContext(ctx)
	if !ok {
		return errorResult(sessionMissing)
	}
	server, _ := stringArg(args, "server")
	tool, _ := stringArg(args, "tool")

	if _, ok := t.manager.GetClient(server); !ok {
		return errorResult("Error: server %q not configured", server)
	}
	if include {
		session.IncludeTool(server, tool)
	} else {
		session.ExcludeTool(server, tool)
	}
	t.bus.Publish(events.TopicToolsChanged, models.ToolRef{ServerName: server, ToolName: tool})

	return jsonResult(struct {
		Server   string `json:"server"`
		Tool     string `json:"tool"`
		Included bool   `json:"included"`
	}{server, tool, include})
}

func (t *InclusionToolset) setServerInclusion(ctx context.Context, args map[string]any, include bool) (mcp.ToolsetResult, error) {
	session, ok := mcp.SessionFromContext(ctx)
	if !ok {
		return errorResult(sessionMissing)
	}
	server, _ := stringArg(args, "server")

	client, ok := t.manager.GetClient(server)
	if !ok {
		return errorResult("Error: server %q not configured", server)
	}
	tools := client.ListTools()
	for _, tl := range tools {
		if include {
			session.IncludeTool(server, tl.Name)
		} else {
			session.ExcludeTool(server, tl.Name)
		}
	}
	t.bus.Publish(events.TopicToolsChanged, server)

	return jsonResult(struct {
		Server   string `json:"server"`
		Tools    int    `json:"tools"`
		Included bool   `json:"included"`
	}{server, len(tools), include})
}

func (t *InclusionToolset) setToolIncludeMode(args map[string]any) (mcp.ToolsetResult, error) {
	server, _ := stringArg(args, "server")
	tool, _ := stringArg(args, "tool")
	mode, _ := stringArg(args, "mode")

	cfg, ok := t.config.GetToolServer(server)
	if !ok {
		return errorResult("Error: server %q not configured", server)
	}
	if cfg.ToolInclude == nil {
		cfg.ToolInclude = &mcp.ToolInclude{}
	}
	if cfg.ToolInclude.Tools == nil {
		cfg.ToolInclude.Tools = make(map[string]models.IncludeMode)
	}
	cfg.ToolInclude.Tools[tool] = models.IncludeMode(mode)
	if err := t.config.SaveToolServer(cfg); err != nil {
		return errorResult("Error: %v", err)
	}

	return jsonResult(struct {
		Server string `json:"server"`
		Tool   string `json:"tool"`
		Mode   string `json:"mode"`
	}{server, tool, mode})
}

func (t *InclusionToolset) setServerIncludeMode(args map[string]any) (mcp.ToolsetResult, error) {
	server, _ := stringArg(args, "server")
	mode, _ := stringArg(args, "mode")

	cfg, ok := t.config.GetToolServer(server)
	if !ok {
		return errorResult("Error: server %q not configured", server)
	}
	if cfg.ToolInclude == nil {
		cfg.ToolInclude = &mcp.ToolInclude{}
	}
	cfg.ToolInclude.ServerDefault = models.IncludeMode(mode)
	if err := t.config.SaveToolServer(cfg); err != nil {
		return errorResult("Error: %v", err)
	}

	return jsonResult(struct {
		Server string `json:"server"`
		Mode   string `json:"mode"`
	}{server, mode})
}
