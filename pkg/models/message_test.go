package models

import (
	"encoding/json"
	"testing"
)

func TestRole_Constants(t *testing.T) {
	tests := []struct {
		constant Role
		expected string
	}{
		{RoleUser, "user"},
		{RoleSystem, "system"},
		{RoleError, "error"},
		{RoleAssistant, "assistant"},
		{RoleApproval, "approval"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}

func TestApprovalDecision_Constants(t *testing.T) {
	if string(ApprovalAllowSession) != "allow-session" {
		t.Errorf("ApprovalAllowSession = %q", ApprovalAllowSession)
	}
	if string(ApprovalAllowOnce) != "allow-once" {
		t.Errorf("ApprovalAllowOnce = %q", ApprovalAllowOnce)
	}
	if string(ApprovalDeny) != "deny" {
		t.Errorf("ApprovalDeny = %q", ApprovalDeny)
	}
}

func TestTurn_Text(t *testing.T) {
	tests := []struct {
		name string
		turn Turn
		want string
	}{
		{
			name: "empty turn",
			turn: Turn{},
			want: "",
		},
		{
			name: "single text",
			turn: Turn{Results: []TurnResult{TextResult("hello")}},
			want: "hello",
		},
		{
			name: "text parts concatenate in order",
			turn: Turn{Results: []TurnResult{TextResult("a"), TextResult("b")}},
			want: "ab",
		},
		{
			name: "tool calls are skipped",
			turn: Turn{Results: []TurnResult{
				TextResult("before "),
				ToolCallResult(&ExecutedCall{ServerName: "fs", ToolName: "read"}),
				TextResult("after"),
			}},
			want: "before after",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.turn.Text(); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestModelReply_HasPending(t *testing.T) {
	var nilReply *ModelReply
	if nilReply.HasPending() {
		t.Error("nil reply should not report pending calls")
	}

	reply := &ModelReply{Turns: []Turn{{}}}
	if reply.HasPending() {
		t.Error("reply without pending calls reported pending")
	}

	reply.PendingToolCalls = []PendingCall{{ServerName: "fs", ToolName: "delete", ToolCallID: "x"}}
	if !reply.HasPending() {
		t.Error("reply with pending calls reported none")
	}
}

func TestChatMessage_VariantWireShape(t *testing.T) {
	// A user message must not leak assistant/approval fields and vice versa;
	// front-ends dispatch on role plus the one populated payload field.
	user := UserMessage("hi")
	data, err := json.Marshal(user)
	if err != nil {
		t.Fatalf("marshal user message: %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if _, ok := decoded["reply"]; ok {
		t.Error("user message serialized a reply field")
	}
	if _, ok := decoded["decisions"]; ok {
		t.Error("user message serialized a decisions field")
	}

	assistant := ChatMessage{Role: RoleAssistant, Reply: &ModelReply{Turns: []Turn{{Results: []TurnResult{TextResult("hi")}}}}}
	data, err = json.Marshal(assistant)
	if err != nil {
		t.Fatalf("marshal assistant message: %v", err)
	}
	var back ChatMessage
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal assistant message: %v", err)
	}
	if back.Role != RoleAssistant || back.Reply == nil {
		t.Fatalf("assistant round trip lost reply: %+v", back)
	}
	if got := back.Reply.Turns[0].Text(); got != "hi" {
		t.Errorf("round-tripped text = %q, want %q", got, "hi")
	}
}

func TestExecutedCall_DeniedShape(t *testing.T) {
	call := ExecutedCall{
		ServerName: "fs",
		ToolName:   "delete",
		ToolCallID: "x",
		Output:     "Tool call denied",
		Error:      "Tool call denied",
	}
	if call.Output != call.Error {
		t.Error("denied calls carry the denial in both output and error")
	}
}
