package mcp

import (
	"testing"

	"github.com/tsparklabs/tspark/pkg/models"
)

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{
			name: "valid stdio",
			cfg:  ServerConfig{Name: "files", Type: TransportStdio, Command: "mcp-files", Args: []string{"--root", "/tmp"}},
		},
		{
			name:    "stdio missing command",
			cfg:     ServerConfig{Name: "files", Type: TransportStdio},
			wantErr: true,
		},
		{
			name:    "stdio shell expression rejected",
			cfg:     ServerConfig{Name: "files", Type: TransportStdio, Command: "mcp-files | tee log"},
			wantErr: true,
		},
		{
			name: "valid sse",
			cfg:  ServerConfig{Name: "remote", Type: TransportSSE, URL: "https://tools.example.com/mcp"},
		},
		{
			name:    "sse relative url",
			cfg:     ServerConfig{Name: "remote", Type: TransportSSE, URL: "/mcp"},
			wantErr: true,
		},
		{
			name:    "sse non-http scheme",
			cfg:     ServerConfig{Name: "remote", Type: TransportSSE, URL: "ftp://tools.example.com"},
			wantErr: true,
		},
		{
			name: "valid internal",
			cfg:  ServerConfig{Name: "builtin", Type: TransportInternal, Toolset: "references"},
		},
		{
			name:    "internal missing toolset",
			cfg:     ServerConfig{Name: "builtin", Type: TransportInternal},
			wantErr: true,
		},
		{
			name:    "unknown transport",
			cfg:     ServerConfig{Name: "odd", Type: "carrier-pigeon"},
			wantErr: true,
		},
		{
			name:    "whitespace in name",
			cfg:     ServerConfig{Name: "my server", Type: TransportStdio, Command: "echo"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestServerConfigClone(t *testing.T) {
	cfg := &ServerConfig{
		Name:    "files",
		Type:    TransportStdio,
		Command: "mcp-files",
		Args:    []string{"--root", "/tmp"},
		Env:     map[string]string{"DEBUG": "1"},
		ToolInclude: &ToolInclude{
			ServerDefault: models.IncludeManual,
			Tools:         map[string]models.IncludeMode{"read": models.IncludeAlways},
		},
		Permissions: &Permissions{
			DefaultPermission: PermissionRequired,
			ToolPermissions:   map[string]ToolPermission{"read": {Permission: PermissionNotRequired}},
		},
	}

	clone := cfg.Clone()
	clone.Args[0] = "--other"
	clone.Env["DEBUG"] = "0"
	clone.ToolInclude.Tools["read"] = models.IncludeManual
	clone.Permissions.ToolPermissions["read"] = ToolPermission{Permission: PermissionRequired}

	if cfg.Args[0] != "--root" {
		t.Error("clone aliased Args")
	}
	if cfg.Env["DEBUG"] != "1" {
		t.Error("clone aliased Env")
	}
	if cfg.ToolInclude.Tools["read"] != models.IncludeAlways {
		t.Error("clone aliased ToolInclude.Tools")
	}
	if cfg.Permissions.ToolPermissions["read"].Permission != PermissionNotRequired {
		t.Error("clone aliased Permissions.ToolPermissions")
	}
}

func TestIncludeModeFor(t *testing.T) {
	cfg := &ServerConfig{
		Name: "files",
		ToolInclude: &ToolInclude{
			ServerDefault: models.IncludeAgent,
			Tools: map[string]models.IncludeMode{
				"read": models.IncludeAlways,
			},
		},
	}

	if got := cfg.IncludeModeFor("read"); got != models.IncludeAlways {
		t.Errorf("per-tool override: got %q, want %q", got, models.IncludeAlways)
	}
	if got := cfg.IncludeModeFor("write"); got != models.IncludeAgent {
		t.Errorf("server default: got %q, want %q", got, models.IncludeAgent)
	}

	bare := &ServerConfig{Name: "bare"}
	if got := bare.IncludeModeFor("anything"); got != models.IncludeManual {
		t.Errorf("unconfigured: got %q, want %q", got, models.IncludeManual)
	}
}

func TestToolApproval(t *testing.T) {
	cfg := &ServerConfig{
		Name: "files",
		Permissions: &Permissions{
			DefaultPermission: PermissionRequired,
			ToolPermissions: map[string]ToolPermission{
				"read": {Permission: PermissionNotRequired},
			},
		},
	}

	if got := cfg.ToolApproval("read"); got == nil || *got != false {
		t.Errorf("per-tool notRequired: got %v, want false", got)
	}
	if got := cfg.ToolApproval("write"); got == nil || *got != true {
		t.Errorf("server default required: got %v, want true", got)
	}

	bare := &ServerConfig{Name: "bare"}
	if got := bare.ToolApproval("read"); got != nil {
		t.Errorf("no permissions configured: got %v, want nil", got)
	}
}

func TestCallToolResultText(t *testing.T) {
	tests := []struct {
		name   string
		result CallToolResult
		want   string
	}{
		{
			name:   "single text part",
			result: CallToolResult{Content: []ContentPart{TextPart("hello")}},
			want:   "hello",
		},
		{
			name: "multiple text parts joined",
			result: CallToolResult{Content: []ContentPart{
				TextPart("one"),
				TextPart("two"),
			}},
			want: "one\ntwo",
		},
		{
			name: "non-text parts skipped",
			result: CallToolResult{Content: []ContentPart{
				{Type: "image", Data: "abc", MimeType: "image/png"},
				TextPart("caption"),
			}},
			want: "caption",
		},
		{
			name:   "empty content",
			result: CallToolResult{},
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Text(); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCallToolResultTextNonTextOnly(t *testing.T) {
	result := CallToolResult{Content: []ContentPart{
		{Type: "image", Data: "abc", MimeType: "image/png"},
	}}

	got := result.Text()
	if got == "" {
		t.Fatal("expected JSON fallback for non-text content, got empty string")
	}
}

func TestCallToolResultErrorMessage(t *testing.T) {
	transportErr := CallToolResult{Err: "connection refused", IsError: true, Content: []ContentPart{TextPart("boom")}}
	if got := transportErr.ErrorMessage(); got != "connection refused" {
		t.Errorf("transport error wins: got %q", got)
	}

	serverErr := CallToolResult{IsError: true, Content: []ContentPart{TextPart("bad arguments")}}
	if got := serverErr.ErrorMessage(); got != "bad arguments" {
		t.Errorf("server error text: got %q", got)
	}

	ok := CallToolResult{Content: []ContentPart{TextPart("fine")}}
	if got := ok.ErrorMessage(); got != "" {
		t.Errorf("success: got %q, want empty", got)
	}
}
