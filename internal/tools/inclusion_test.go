package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/tsparklabs/tspark/internal/mcp"
	"github.com/tsparklabs/tspark/pkg/models"
)

// fileToolset is a tiny toolset served over the internal transport to give
// the manager a real client with a known catalog.
type fileToolset struct{}

func (fileToolset) Version() string { return "0.0.1" }

func (fileToolset) Tools() []mcp.Tool {
	return []mcp.Tool{
		{Name: "read", Description: "Read a file", InputSchema: json.RawMessage(`{"type":"object"}`)},
		{Name: "write", Description: "Write a file"},
	}
}

func (fileToolset) Call(ctx context.Context, tool string, args json.RawMessage) (mcp.ToolsetResult, error) {
	return textResult("ok")
}

// fakeConfigStore backs ServerConfigStore with a map and records saves.
type fakeConfigStore struct {
	servers map[string]*mcp.ServerConfig
	saved   []*mcp.ServerConfig
}

func (s *fakeConfigStore) GetToolServer(name string) (*mcp.ServerConfig, bool) {
	cfg, ok := s.servers[name]
	return cfg, ok
}

func (s *fakeConfigStore) SaveToolServer(cfg *mcp.ServerConfig) error {
	s.servers[cfg.Name] = cfg
	s.saved = append(s.saved, cfg)
	return nil
}

// fakeScope implements mcp.SessionScope over a set.
type fakeScope struct {
	included map[string]bool
}

func newFakeScope() *fakeScope { return &fakeScope{included: make(map[string]bool)} }

func (s *fakeScope) ID() string { return "session-1" }

func (s *fakeScope) IncludedTools() []models.ToolRef {
	var out []models.ToolRef
	for key := range s.included {
		server, tool, _ := strings.Cut(key, "/")
		out = append(out, models.ToolRef{ServerName: server, ToolName: tool})
	}
	return out
}

func (s *fakeScope) IncludeTool(server, tool string) { s.included[server+"/"+tool] = true }
func (s *fakeScope) ExcludeTool(server, tool string) { delete(s.included, server+"/"+tool) }

func newInclusionFixture(t *testing.T) (*InclusionToolset, *fakeConfigStore) {
	t.Helper()

	cfg := &mcp.ServerConfig{Name: "files", Type: mcp.TransportInternal, Toolset: "test"}
	client, err := mcp.NewClient(cfg, mcp.ClientOptions{
		Toolsets: mcp.ToolsetResolverFunc(func(string) (mcp.Toolset, error) { return fileToolset{}, nil }),
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if _, err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Disconnect() })

	mgr := mcp.NewManager(nil)
	mgr.UpdateClient("files", client)

	store := &fakeConfigStore{servers: map[string]*mcp.ServerConfig{
		"files": {
			Name: "files",
			Type: mcp.TransportInternal,
			ToolInclude: &mcp.ToolInclude{
				ServerDefault: models.IncludeManual,
				Tools:         map[string]models.IncludeMode{"read": models.IncludeAlways},
			},
		},
	}}
	return NewInclusionToolset(mgr, store, nil), store
}

func TestInclusionListTools(t *testing.T) {
	ts, _ := newInclusionFixture(t)

	res, err := ts.Call(context.Background(), "listTools", nil)
	if err != nil {
		t.Fatalf("listTools error = %v", err)
	}
	if res.IsError {
		t.Fatalf("listTools failed: %s", res.Content[0].Text)
	}
	var list []toolInfo
	if err := json.Unmarshal([]byte(res.Content[0].Text), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].Tool != "read" || list[0].IncludeMode != "always" {
		t.Errorf("first = %+v", list[0])
	}
	if list[1].Tool != "write" || list[1].IncludeMode != "manual" {
		t.Errorf("second = %+v", list[1])
	}
}

func TestInclusionGetTool(t *testing.T) {
	ts, _ := newInclusionFixture(t)

	res, _ := ts.Call(context.Background(), "getTool", json.RawMessage(`{"server": "files", "tool": "read"}`))
	if res.IsError {
		t.Fatalf("getTool failed: %s", res.Content[0].Text)
	}
	var info toolInfo
	if err := json.Unmarshal([]byte(res.Content[0].Text), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Server != "files" || info.Tool != "read" || len(info.InputSchema) == 0 {
		t.Errorf("info = %+v", info)
	}

	res, _ = ts.Call(context.Background(), "getTool", json.RawMessage(`{"server": "files", "tool": "nope"}`))
	if !res.IsError {
		t.Error("unknown tool should fail")
	}
	res, _ = ts.Call(context.Background(), "getTool", json.RawMessage(`{"server": "nope", "tool": "read"}`))
	if !res.IsError {
		t.Error("unknown server should fail")
	}
}

func TestInclusionRequiresSession(t *testing.T) {
	ts, _ := newInclusionFixture(t)

	for _, tc := range []struct {
		tool string
		args string
	}{
		{"listContextTools", `{}`},
		{"includeTool", `{"server": "files", "tool": "read"}`},
		{"excludeTool", `{"server": "files", "tool": "read"}`},
		{"includeServer", `{"server": "files"}`},
		{"excludeServer", `{"server": "files"}`},
	} {
		t.Run(tc.tool, func(t *testing.T) {
			res, err := ts.Call(context.Background(), tc.tool, json.RawMessage(tc.args))
			if err != nil {
				t.Fatalf("Call error = %v", err)
			}
			if !res.IsError {
				t.Fatal("expected error without session")
			}
			if res.Content[0].Text != "Chat session not found" {
				t.Errorf("message = %q", res.Content[0].Text)
			}
		})
	}
}

func TestInclusionIncludeExcludeTool(t *testing.T) {
	ts, _ := newInclusionFixture(t)
	scope := newFakeScope()
	ctx := mcp.WithSession(context.Background(), scope)

	res, _ := ts.Call(ctx, "includeTool", json.RawMessage(`{"server": "files", "tool": "write"}`))
	if res.IsError {
		t.Fatalf("includeTool failed: %s", res.Content[0].Text)
	}
	if !scope.included["files/write"] {
		t.Error("tool not added to scope")
	}

	res, _ = ts.Call(ctx, "listContextTools", nil)
	var refs []models.ToolRef
	if err := json.Unmarshal([]byte(res.Content[0].Text), &refs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(refs) != 1 || refs[0].ToolName != "write" {
		t.Errorf("context tools = %+v", refs)
	}

	res, _ = ts.Call(ctx, "excludeTool", json.RawMessage(`{"server": "files", "tool": "write"}`))
	if res.IsError {
		t.Fatalf("excludeTool failed: %s", res.Content[0].Text)
	}
	if scope.included["files/write"] {
		t.Error("tool not removed from scope")
	}

	res, _ = ts.Call(ctx, "includeTool", json.RawMessage(`{"server": "nope", "tool": "x"}`))
	if !res.IsError {
		t.Error("unknown server should fail")
	}
}

func TestInclusionServerWide(t *testing.T) {
	ts, _ := newInclusionFixture(t)
	scope := newFakeScope()
	ctx := mcp.WithSession(context.Background(), scope)

	res, _ := ts.Call(ctx, "includeServer", json.RawMessage(`{"server": "files"}`))
	if res.IsError {
		t.Fatalf("includeServer failed: %s", res.Content[0].Text)
	}
	if len(scope.included) != 2 {
		t.Errorf("included = %v, want both tools", scope.included)
	}

	res, _ = ts.Call(ctx, "excludeServer", json.RawMessage(`{"server": "files"}`))
	if res.IsError {
		t.Fatalf("excludeServer failed: %s", res.Content[0].Text)
	}
	if len(scope.included) != 0 {
		t.Errorf("included = %v, want empty", scope.included)
	}
}

func TestInclusionSetToolIncludeMode(t *testing.T) {
	ts, store := newInclusionFixture(t)

	res, _ := ts.Call(context.Background(), "setToolIncludeMode",
		json.RawMessage(`{"server": "files", "tool": "write", "mode": "agent"}`))
	if res.IsError {
		t.Fatalf("setToolIncludeMode failed: %s", res.Content[0].Text)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saves = %d, want 1", len(store.saved))
	}
	if got := store.servers["files"].IncludeModeFor("write"); got != models.IncludeAgent {
		t.Errorf("mode = %v, want agent", got)
	}

	res, _ = ts.Call(context.Background(), "setToolIncludeMode",
		json.RawMessage(`{"server": "files", "tool": "write", "mode": "sometimes"}`))
	if !res.IsError {
		t.Error("mode outside enum should be rejected")
	}
}

func TestInclusionSetServerIncludeMode(t *testing.T) {
	ts, store := newInclusionFixture(t)

	res, _ := ts.Call(context.Background(), "setServerIncludeMode",
		json.RawMessage(`{"server": "files", "mode": "always"}`))
	if res.IsError {
		t.Fatalf("setServerIncludeMode failed: %s", res.Content[0].Text)
	}
	if store.servers["files"].ToolInclude.ServerDefault != models.IncludeAlways {
		t.Error("server default not updated")
	}
	// Per-tool override still wins.
	if got := store.servers["files"].IncludeModeFor("read"); got != models.IncludeAlways {
		t.Errorf("read mode = %v", got)
	}
}

func TestResolver(t *testing.T) {
	inc, _ := newInclusionFixture(t)
	r := NewResolver(nil, nil, inc)

	ts, err := r.Resolve(ToolsetTools)
	if err != nil {
		t.Fatalf("Resolve(tools) error = %v", err)
	}
	if ts != mcp.Toolset(inc) {
		t.Error("resolved wrong toolset")
	}
	if _, err := r.Resolve(ToolsetRules); err == nil {
		t.Error("unregistered toolset should not resolve")
	}

	rules := newRuleToolset(t)
	r.Register(ToolsetRules, rules)
	if got, _ := r.Resolve(ToolsetRules); got != mcp.Toolset(rules) {
		t.Error("registered toolset not returned")
	}
}
