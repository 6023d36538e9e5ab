package models

// Tool permission modes for SessionSettings.ToolPermission.
const (
	ToolPermissionAlways = "always"
	ToolPermissionNever  = "never"
	ToolPermissionTool   = "tool"
)

// SessionSettings is the per-session generation and policy configuration.
// Values are seeded from workspace settings at session creation and may be
// overridden per session; bounds are enforced at mutation time by the
// session, not here.
type SessionSettings struct {
	MaxChatTurns    int     `json:"maxChatTurns"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	ToolPermission  string  `json:"toolPermission"`

	// Context retrieval knobs surfaced to adapters; no adapter in this
	// module consumes them.
	ContextTopK         int     `json:"contextTopK"`
	ContextTopN         int     `json:"contextTopN"`
	ContextIncludeScore float64 `json:"contextIncludeScore"`
}
