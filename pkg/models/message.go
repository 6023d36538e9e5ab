package models

import (
	"encoding/json"
	"time"
)

// Role indicates the chat message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
	RoleError     Role = "error"
	RoleAssistant Role = "assistant"
	RoleApproval  Role = "approval"
)

// ChatMessage is one entry in a session transcript. It is a tagged variant:
// user/system/error messages carry Content, assistant messages carry Reply,
// and approval messages carry Decisions.
type ChatMessage struct {
	Role      Role               `json:"role"`
	Content   string             `json:"content,omitempty"`
	Reply     *ModelReply        `json:"reply,omitempty"`
	Decisions []ToolCallApproval `json:"decisions,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// UserMessage builds a user-role chat message.
func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: text, CreatedAt: time.Now()}
}

// SystemMessage builds a system-role chat message.
func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: text, CreatedAt: time.Now()}
}

// ErrorMessage builds an error-role chat message.
func ErrorMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleError, Content: text, CreatedAt: time.Now()}
}

// ApprovalMessage builds an approval-role chat message carrying the caller's
// decisions for a pending tool-call set.
func ApprovalMessage(decisions []ToolCallApproval) ChatMessage {
	return ChatMessage{Role: RoleApproval, Decisions: decisions, CreatedAt: time.Now()}
}

// ModelReply is the normalized result of one adapter invocation: the ordered
// turns the provider produced plus any tool calls still awaiting approval.
type ModelReply struct {
	Timestamp        time.Time     `json:"timestamp"`
	Turns            []Turn        `json:"turns"`
	PendingToolCalls []PendingCall `json:"pendingToolCalls,omitempty"`
}

// HasPending reports whether the reply ended with calls awaiting approval.
func (r *ModelReply) HasPending() bool {
	return r != nil && len(r.PendingToolCalls) > 0
}

// Turn is the output of a single provider call: text and/or executed tool
// calls, the provider-reported token usage, and an optional terminal error.
type Turn struct {
	Results      []TurnResult `json:"results,omitempty"`
	Error        string       `json:"error,omitempty"`
	InputTokens  int64        `json:"inputTokens"`
	OutputTokens int64        `json:"outputTokens"`
}

// Text concatenates the turn's text results.
func (t Turn) Text() string {
	var out string
	for _, r := range t.Results {
		if r.Type == TurnResultText {
			out += r.Text
		}
	}
	return out
}

// TurnResultType discriminates TurnResult variants.
type TurnResultType string

const (
	TurnResultText     TurnResultType = "text"
	TurnResultToolCall TurnResultType = "toolCall"
)

// TurnResult is one item in a turn: a text part or an executed tool call.
type TurnResult struct {
	Type     TurnResultType `json:"type"`
	Text     string         `json:"text,omitempty"`
	ToolCall *ExecutedCall  `json:"toolCall,omitempty"`
}

// TextResult builds a text turn result.
func TextResult(text string) TurnResult {
	return TurnResult{Type: TurnResultText, Text: text}
}

// ToolCallResult builds a tool-call turn result.
func ToolCallResult(call *ExecutedCall) TurnResult {
	return TurnResult{Type: TurnResultToolCall, ToolCall: call}
}

// ExecutedCall records a dispatched tool call and its outcome. Output and
// Error are both populated for denied calls so the transcript shows the
// refusal the model saw.
type ExecutedCall struct {
	ServerName string          `json:"serverName"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args,omitempty"`
	ToolCallID string          `json:"toolCallId"`
	Output     string          `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	ElapsedMs  int64           `json:"elapsedMs"`
}

// PendingCall is a model-requested tool call that requires an approval
// decision before it may execute.
type PendingCall struct {
	ServerName string          `json:"serverName"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args,omitempty"`
	ToolCallID string          `json:"toolCallId"`
}

// ApprovalDecision is the caller's verdict on a pending tool call.
type ApprovalDecision string

const (
	ApprovalAllowSession ApprovalDecision = "allow-session"
	ApprovalAllowOnce    ApprovalDecision = "allow-once"
	ApprovalDeny         ApprovalDecision = "deny"
)

// ToolCallApproval pairs a pending call's identity with a decision.
type ToolCallApproval struct {
	ServerName string           `json:"serverName"`
	ToolName   string           `json:"toolName"`
	ToolCallID string           `json:"toolCallId"`
	Args       json.RawMessage  `json:"args,omitempty"`
	Decision   ApprovalDecision `json:"decision"`
}

// MessageUpdate is the engine's per-submission result: the messages appended
// by this call plus the post-call sync point and scope snapshots.
type MessageUpdate struct {
	Updates           []ChatMessage `json:"updates"`
	LastSyncID        int64         `json:"lastSyncId"`
	ReferencesInScope []string      `json:"referencesInScope"`
	RulesInScope      []string      `json:"rulesInScope"`
}

// ToolRef identifies a tool by the (server, tool) pair that is its identity
// everywhere inside the agent. The flattened wire form exists only at the
// provider boundary.
type ToolRef struct {
	ServerName string `json:"serverName"`
	ToolName   string `json:"toolName"`
}

// Model describes one selectable model offered by a provider.
type Model struct {
	ProviderID  string `json:"providerId"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Source      string `json:"source"`
	Description string `json:"description,omitempty"`
}

// Model sources.
const (
	ModelSourceStatic  = "static"
	ModelSourceFetched = "fetched"
)
