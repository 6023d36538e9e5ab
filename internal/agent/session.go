// Package agent hosts the session turn engine and the façade front-ends
// drive. A Session owns its transcript and scope; the Agent owns the shared
// workspace, stores, tool-server clients, and provider registry.
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/tsparklabs/tspark/internal/agent/providers"
	"github.com/tsparklabs/tspark/internal/fragments"
	"github.com/tsparklabs/tspark/internal/workspace"
	"github.com/tsparklabs/tspark/pkg/models"
)

// Session is one chat context: transcript, scope, settings, and the selected
// model. HandleMessage is single-flight per session; scope accessors are safe
// to call concurrently, including from internal toolsets during a turn.
type Session struct {
	agent *Agent
	id    string

	mu      sync.Mutex
	busy    bool
	cancel  context.CancelFunc
	adapter providers.Adapter

	providerID string
	modelID    string
	settings   models.SessionSettings

	messages   []models.ChatMessage
	lastSyncID int64

	rulesInScope      []string
	referencesInScope []string
	includedTools     []models.ToolRef

	// approvals is the session's allow-session grant set, keyed by the
	// mangled (server, tool) pair. It only grows.
	approvals map[string]bool
}

// SessionOptions selects the model and overrides workspace-default settings
// at session creation. Zero-valued fields fall back to workspace settings.
type SessionOptions struct {
	ModelProvider string
	ModelID       string

	MaxChatTurns        int
	MaxOutputTokens     int
	Temperature         *float64
	TopP                *float64
	ToolPermission      string
	ContextTopK         int
	ContextTopN         int
	ContextIncludeScore *float64
}

// ID implements mcp.SessionScope.
func (s *Session) ID() string { return s.id }

// Settings returns a copy of the session's current settings.
func (s *Session) Settings() models.SessionSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Model reports the currently selected provider and model.
func (s *Session) Model() (providerID, modelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.providerID, s.modelID
}

// LastSyncID reports the current sync point; it advances by one for every
// appended message.
func (s *Session) LastSyncID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSyncID
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func approvalKey(server, tool string) string { return server + "/" + tool }

// IsApprovalRequired resolves the approval cascade for one tool call:
// session grants first, then the session's toolPermission mode, then the
// server config's per-tool and default permissions, defaulting to required.
func (s *Session) IsApprovalRequired(server, tool string) bool {
	s.mu.Lock()
	granted := s.approvals[approvalKey(server, tool)]
	mode := s.settings.ToolPermission
	s.mu.Unlock()

	if granted {
		return false
	}
	switch mode {
	case models.ToolPermissionAlways:
		return true
	case models.ToolPermissionNever:
		return false
	}
	if cfg, ok := s.agent.ws.GetToolServer(server); ok {
		if required := cfg.ToolApproval(tool); required != nil {
			return *required
		}
	}
	return true
}

// MarkApproved records an allow-session grant for (server, tool).
func (s *Session) MarkApproved(server, tool string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals[approvalKey(server, tool)] = true
}

// IncludedTools implements mcp.SessionScope.
func (s *Session) IncludedTools() []models.ToolRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ToolRef, len(s.includedTools))
	copy(out, s.includedTools)
	return out
}

// GetIncludedTools is the façade-facing alias for IncludedTools.
func (s *Session) GetIncludedTools() []models.ToolRef { return s.IncludedTools() }

// IncludeTool adds (server, tool) to the session's tool scope. Adding an
// already-included tool is a no-op; insertion order is preserved.
func (s *Session) IncludeTool(server, tool string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ref := range s.includedTools {
		if ref.ServerName == server && ref.ToolName == tool {
			return
		}
	}
	s.includedTools = append(s.includedTools, models.ToolRef{ServerName: server, ToolName: tool})
}

// ExcludeTool removes (server, tool) from the session's tool scope.
func (s *Session) ExcludeTool(server, tool string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ref := range s.includedTools {
		if ref.ServerName == server && ref.ToolName == tool {
			s.includedTools = append(s.includedTools[:i], s.includedTools[i+1:]...)
			return
		}
	}
}

// AddTool and RemoveTool are the façade-facing names for tool scope edits.
func (s *Session) AddTool(server, tool string)    { s.IncludeTool(server, tool) }
func (s *Session) RemoveTool(server, tool string) { s.ExcludeTool(server, tool) }

// AddRule brings a named rule into scope. The rule must exist.
func (s *Session) AddRule(name string) error {
	return s.addFragment(s.agent.rules, name)
}

// RemoveRule drops a rule from scope. Unknown names are a no-op.
func (s *Session) RemoveRule(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rulesInScope = removeName(s.rulesInScope, name)
}

// AddReference brings a named reference into scope. The reference must exist.
func (s *Session) AddReference(name string) error {
	return s.addFragment(s.agent.references, name)
}

// RemoveReference drops a reference from scope. Unknown names are a no-op.
func (s *Session) RemoveReference(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.referencesInScope = removeName(s.referencesInScope, name)
}

func (s *Session) addFragment(store *fragments.Store, name string) error {
	if _, err := store.Get(name); err != nil {
		return fmt.Errorf("add %s: %w", store.Kind(), err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch store.Kind() {
	case models.FragmentRule:
		s.rulesInScope = appendName(s.rulesInScope, name)
	default:
		s.referencesInScope = appendName(s.referencesInScope, name)
	}
	return nil
}

func appendName(names []string, name string) []string {
	for _, n := range names {
		if n == name {
			return names
		}
	}
	return append(names, name)
}

func removeName(names []string, name string) []string {
	for i, n := range names {
		if n == name {
			return append(names[:i], names[i+1:]...)
		}
	}
	return names
}

// RulesInScope returns the rule names in insertion order.
func (s *Session) RulesInScope() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.rulesInScope))
	copy(out, s.rulesInScope)
	return out
}

// ReferencesInScope returns the reference names in insertion order.
func (s *Session) ReferencesInScope() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.referencesInScope))
	copy(out, s.referencesInScope)
	return out
}

// SessionState is the JSON-serializable snapshot of a session for
// front-ends. It is a copy, not live state.
type SessionState struct {
	ID                string                 `json:"id"`
	ProviderID        string                 `json:"providerId,omitempty"`
	ModelID           string                 `json:"modelId,omitempty"`
	Settings          models.SessionSettings `json:"settings"`
	Messages          []models.ChatMessage   `json:"messages"`
	LastSyncID        int64                  `json:"lastSyncId"`
	RulesInScope      []string               `json:"rulesInScope"`
	ReferencesInScope []string               `json:"referencesInScope"`
	IncludedTools     []models.ToolRef       `json:"includedTools"`
	Approvals         []string               `json:"approvals"`
}

// Snapshot returns a copy of the full session state.
func (s *Session) Snapshot() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := SessionState{
		ID:                s.id,
		ProviderID:        s.providerID,
		ModelID:           s.modelID,
		Settings:          s.settings,
		Messages:          append([]models.ChatMessage(nil), s.messages...),
		LastSyncID:        s.lastSyncID,
		RulesInScope:      append([]string(nil), s.rulesInScope...),
		ReferencesInScope: append([]string(nil), s.referencesInScope...),
		IncludedTools:     append([]models.ToolRef(nil), s.includedTools...),
	}
	for key := range s.approvals {
		state.Approvals = append(state.Approvals, key)
	}
	return state
}

// GetState is the API-surface alias for Snapshot.
func (s *Session) GetState() SessionState { return s.Snapshot() }

// appendLocked appends msg and advances the sync point. Callers hold s.mu.
func (s *Session) appendLocked(msg models.ChatMessage) {
	s.messages = append(s.messages, msg)
	s.lastSyncID++
}

// settingsFromWorkspace seeds session settings from the workspace document.
func settingsFromWorkspace(ws *workspace.Workspace) models.SessionSettings {
	settings := ws.Settings()
	return models.SessionSettings{
		MaxChatTurns:        workspace.SettingInt(settings, workspace.SettingMaxChatTurns),
		MaxOutputTokens:     workspace.SettingInt(settings, workspace.SettingMaxOutputTokens),
		Temperature:         workspace.SettingFloat(settings, workspace.SettingTemperature),
		TopP:                workspace.SettingFloat(settings, workspace.SettingTopP),
		ToolPermission:      workspace.SettingString(settings, workspace.SettingToolPermission),
		ContextTopK:         workspace.SettingInt(settings, workspace.SettingContextTopK),
		ContextTopN:         workspace.SettingInt(settings, workspace.SettingContextTopN),
		ContextIncludeScore: workspace.SettingFloat(settings, workspace.SettingContextIncludeScore),
	}
}

// applyOptions overlays non-zero option fields on top of the seeded settings.
func (s *Session) applyOptions(opts SessionOptions) {
	s.providerID = opts.ModelProvider
	s.modelID = opts.ModelID
	if opts.MaxChatTurns > 0 {
		s.settings.MaxChatTurns = opts.MaxChatTurns
	}
	if opts.MaxOutputTokens > 0 {
		s.settings.MaxOutputTokens = opts.MaxOutputTokens
	}
	if opts.Temperature != nil {
		s.settings.Temperature = *opts.Temperature
	}
	if opts.TopP != nil {
		s.settings.TopP = *opts.TopP
	}
	if opts.ToolPermission != "" {
		s.settings.ToolPermission = opts.ToolPermission
	}
	if opts.ContextTopK > 0 {
		s.settings.ContextTopK = opts.ContextTopK
	}
	if opts.ContextTopN > 0 {
		s.settings.ContextTopN = opts.ContextTopN
	}
	if opts.ContextIncludeScore != nil {
		s.settings.ContextIncludeScore = *opts.ContextIncludeScore
	}
}
