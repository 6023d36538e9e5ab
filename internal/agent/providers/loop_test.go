package providers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/tsparklabs/tspark/internal/backoff"
	"github.com/tsparklabs/tspark/internal/mcp"
	"github.com/tsparklabs/tspark/pkg/models"
)

// fakeSession implements SessionHandle for loop tests.
type fakeSession struct {
	settings models.SessionSettings
	approval map[string]bool
	approved []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		settings: models.SessionSettings{MaxChatTurns: 25, MaxOutputTokens: 4096},
		approval: make(map[string]bool),
	}
}

func (s *fakeSession) ID() string                       { return "session-1" }
func (s *fakeSession) IncludedTools() []models.ToolRef  { return nil }
func (s *fakeSession) IncludeTool(server, tool string)  {}
func (s *fakeSession) ExcludeTool(server, tool string)  {}
func (s *fakeSession) Settings() models.SessionSettings { return s.settings }

func (s *fakeSession) IsApprovalRequired(server, tool string) bool {
	return s.approval[server+"/"+tool]
}

func (s *fakeSession) MarkApproved(server, tool string) {
	s.approved = append(s.approved, server+"/"+tool)
	s.approval[server+"/"+tool] = false
}

// fakeDispatcher records calls and serves canned results.
type fakeDispatcher struct {
	servers []string
	results map[string]*mcp.CallToolResult
	calls   []string
}

func (d *fakeDispatcher) CallTool(ctx context.Context, mangled string, args json.RawMessage, session mcp.SessionScope) *mcp.CallToolResult {
	d.calls = append(d.calls, mangled)
	if r, ok := d.results[mangled]; ok {
		return r
	}
	return &mcp.CallToolResult{Content: []mcp.ContentPart{mcp.TextPart("ok")}, ElapsedMs: 3}
}

func (d *fakeDispatcher) UnmangleToolName(mangled string) (string, string, bool) {
	for _, s := range d.servers {
		if strings.HasPrefix(mangled, s+"_") && len(mangled) > len(s)+1 {
			return s, mangled[len(s)+1:], true
		}
	}
	return "", "", false
}

// scriptedConversation returns pre-built invocations in order.
type scriptedConversation struct {
	script  []*invocation
	errs    []error
	invokes int
	results []*models.ExecutedCall
	block   bool
}

func (c *scriptedConversation) invoke(ctx context.Context) (*invocation, error) {
	if c.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	i := c.invokes
	c.invokes++
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i < len(c.script) {
		return c.script[i], nil
	}
	return &invocation{parts: []invocationPart{{text: "done"}}}, nil
}

func (c *scriptedConversation) appendToolResult(call *models.ExecutedCall) {
	c.results = append(c.results, call)
}

func testLoopConfig(d Dispatcher) loopConfig {
	return loopConfig{
		providerID: "test",
		dispatcher: d,
		logger:     slog.Default(),
		policy:     backoff.Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1},
	}
}

func textInvocation(text string, in, out int64) *invocation {
	return &invocation{parts: []invocationPart{{text: text}}, inputTokens: in, outputTokens: out}
}

func callInvocation(id, name string, args string) *invocation {
	return &invocation{parts: []invocationPart{
		{call: &toolUse{id: id, name: name, args: []byte(args)}},
	}}
}

func TestRunLoop_TextOnly(t *testing.T) {
	d := &fakeDispatcher{servers: []string{"files"}}
	conv := &scriptedConversation{script: []*invocation{textInvocation("hello", 10, 5)}}
	req := &Request{Session: newFakeSession(), Messages: []models.ChatMessage{models.UserMessage("hi")}}

	reply := runLoop(context.Background(), testLoopConfig(d), conv, req)

	if len(reply.Turns) != 1 {
		t.Fatalf("turns = %d, want 1", len(reply.Turns))
	}
	turn := reply.Turns[0]
	if turn.Text() != "hello" || turn.InputTokens != 10 || turn.OutputTokens != 5 {
		t.Errorf("turn = %+v", turn)
	}
	if reply.HasPending() {
		t.Error("unexpected pending calls")
	}
	if len(d.calls) != 0 {
		t.Errorf("dispatched %v, want none", d.calls)
	}
}

func TestRunLoop_ToolCallThenText(t *testing.T) {
	d := &fakeDispatcher{servers: []string{"files"}}
	conv := &scriptedConversation{script: []*invocation{
		callInvocation("c1", "files_read", `{"path":"a.txt"}`),
		textInvocation("contents say hi", 0, 0),
	}}
	req := &Request{Session: newFakeSession()}

	reply := runLoop(context.Background(), testLoopConfig(d), conv, req)

	if len(reply.Turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(reply.Turns))
	}
	var call *models.ExecutedCall
	for _, r := range reply.Turns[0].Results {
		if r.Type == models.TurnResultToolCall {
			call = r.ToolCall
		}
	}
	if call == nil {
		t.Fatal("no executed call in first turn")
	}
	if call.ServerName != "files" || call.ToolName != "read" || call.Output != "ok" {
		t.Errorf("call = %+v", call)
	}
	if len(conv.results) != 1 {
		t.Errorf("conversation saw %d results, want 1", len(conv.results))
	}
	if d.calls[0] != "files_read" {
		t.Errorf("dispatched %v", d.calls)
	}
}

func TestRunLoop_ApprovalRequired(t *testing.T) {
	d := &fakeDispatcher{servers: []string{"files"}}
	session := newFakeSession()
	session.approval["files/write"] = true
	conv := &scriptedConversation{script: []*invocation{
		callInvocation("c1", "files_write", `{"path":"a"}`),
	}}

	reply := runLoop(context.Background(), testLoopConfig(d), conv, &Request{Session: session})

	if !reply.HasPending() {
		t.Fatal("expected pending call")
	}
	pc := reply.PendingToolCalls[0]
	if pc.ServerName != "files" || pc.ToolName != "write" || pc.ToolCallID != "c1" {
		t.Errorf("pending = %+v", pc)
	}
	if len(d.calls) != 0 {
		t.Errorf("dispatched %v before approval", d.calls)
	}
	if len(reply.Turns) != 1 {
		t.Errorf("turns = %d, want 1", len(reply.Turns))
	}
}

func TestRunLoop_PendingShortCircuitsLaterCalls(t *testing.T) {
	// Once one call awaits approval, later calls in the same response wait
	// too, even when they would not need approval on their own.
	d := &fakeDispatcher{servers: []string{"files"}}
	session := newFakeSession()
	session.approval["files/write"] = true
	conv := &scriptedConversation{script: []*invocation{
		{parts: []invocationPart{
			{call: &toolUse{id: "c1", name: "files_write", args: []byte(`{}`)}},
			{call: &toolUse{id: "c2", name: "files_read", args: []byte(`{}`)}},
		}},
	}}

	reply := runLoop(context.Background(), testLoopConfig(d), conv, &Request{Session: session})

	if len(reply.PendingToolCalls) != 2 {
		t.Fatalf("pending = %d, want 2", len(reply.PendingToolCalls))
	}
	if len(d.calls) != 0 {
		t.Errorf("dispatched %v, want none", d.calls)
	}
}

func TestRunLoop_MaxTurnsReached(t *testing.T) {
	d := &fakeDispatcher{servers: []string{"files"}}
	session := newFakeSession()
	session.settings.MaxChatTurns = 2
	conv := &scriptedConversation{script: []*invocation{
		callInvocation("c1", "files_read", `{}`),
		callInvocation("c2", "files_read", `{}`),
		callInvocation("c3", "files_read", `{}`),
	}}

	reply := runLoop(context.Background(), testLoopConfig(d), conv, &Request{Session: session})

	last := reply.Turns[len(reply.Turns)-1]
	if last.Error != "Maximum number of tool uses reached" {
		t.Errorf("terminal error = %q", last.Error)
	}
	if conv.invokes != 2 {
		t.Errorf("invokes = %d, want 2", conv.invokes)
	}
}

func TestRunLoop_ApprovalReplay(t *testing.T) {
	d := &fakeDispatcher{servers: []string{"files"}}
	session := newFakeSession()
	conv := &scriptedConversation{script: []*invocation{textInvocation("after approval", 0, 0)}}

	messages := []models.ChatMessage{
		models.UserMessage("do things"),
		models.ApprovalMessage([]models.ToolCallApproval{
			{ServerName: "files", ToolName: "write", ToolCallID: "c1", Args: []byte(`{}`), Decision: models.ApprovalAllowOnce},
			{ServerName: "files", ToolName: "delete", ToolCallID: "c2", Args: []byte(`{}`), Decision: models.ApprovalDeny},
			{ServerName: "files", ToolName: "move", ToolCallID: "c3", Args: []byte(`{}`), Decision: models.ApprovalAllowSession},
		}),
	}

	reply := runLoop(context.Background(), testLoopConfig(d), conv, &Request{Session: session, Messages: messages})

	if len(reply.Turns) != 2 {
		t.Fatalf("turns = %d, want 2 (replay + model)", len(reply.Turns))
	}
	replay := reply.Turns[0]
	if len(replay.Results) != 3 {
		t.Fatalf("replay results = %d, want 3", len(replay.Results))
	}
	denied := replay.Results[1].ToolCall
	if denied.Output != deniedMessage || denied.Error != deniedMessage {
		t.Errorf("denied call = %+v", denied)
	}
	if len(d.calls) != 2 {
		t.Errorf("dispatched %v, want write and move only", d.calls)
	}
	if len(session.approved) != 1 || session.approved[0] != "files/move" {
		t.Errorf("approved = %v, want files/move", session.approved)
	}
	// All three outcomes must reach the conversation before the next invoke.
	if len(conv.results) != 3 {
		t.Errorf("conversation saw %d results, want 3", len(conv.results))
	}
}

func TestRunLoop_TruncatedResponse(t *testing.T) {
	d := &fakeDispatcher{servers: []string{"files"}}
	conv := &scriptedConversation{script: []*invocation{
		{parts: []invocationPart{{text: "partial"}}, truncated: true},
	}}

	reply := runLoop(context.Background(), testLoopConfig(d), conv, &Request{Session: newFakeSession()})

	if len(reply.Turns) != 1 {
		t.Fatalf("turns = %d, want 1", len(reply.Turns))
	}
	if reply.Turns[0].Error != "Maximum output tokens reached" {
		t.Errorf("error = %q", reply.Turns[0].Error)
	}
}

func TestRunLoop_TerminalProviderError(t *testing.T) {
	d := &fakeDispatcher{servers: []string{"files"}}
	conv := &scriptedConversation{errs: []error{
		&Error{Provider: "test", Reason: ReasonAuth, Message: "invalid api key"},
	}}

	reply := runLoop(context.Background(), testLoopConfig(d), conv, &Request{Session: newFakeSession()})

	if len(reply.Turns) != 1 {
		t.Fatalf("turns = %d, want 1", len(reply.Turns))
	}
	want := "Error: Failed to generate response from test - invalid api key"
	if reply.Turns[0].Error != want {
		t.Errorf("error = %q, want %q", reply.Turns[0].Error, want)
	}
	if conv.invokes != 1 {
		t.Errorf("invokes = %d, non-retryable error should not retry", conv.invokes)
	}
}

func TestRunLoop_RetriesTransientErrors(t *testing.T) {
	d := &fakeDispatcher{servers: []string{"files"}}
	conv := &scriptedConversation{
		errs:   []error{&Error{Provider: "test", Reason: ReasonRateLimit, Message: "429"}, nil},
		script: []*invocation{nil, textInvocation("recovered", 0, 0)},
	}

	reply := runLoop(context.Background(), testLoopConfig(d), conv, &Request{Session: newFakeSession()})

	if conv.invokes != 2 {
		t.Fatalf("invokes = %d, want 2", conv.invokes)
	}
	if reply.Turns[0].Error != "" {
		t.Errorf("error = %q, want success after retry", reply.Turns[0].Error)
	}
}

func TestRunLoop_Watchdog(t *testing.T) {
	// A model call that never returns is cut off by the per-call watchdog
	// even though the caller's context stays live.
	d := &fakeDispatcher{servers: []string{"files"}}
	cfg := testLoopConfig(d)
	cfg.timeout = 20 * time.Millisecond
	conv := &scriptedConversation{block: true}

	reply := runLoop(context.Background(), cfg, conv, &Request{Session: newFakeSession()})

	if len(reply.Turns) != 1 {
		t.Fatalf("turns = %d, want 1", len(reply.Turns))
	}
	if reply.Turns[0].Error != "Request timed out" {
		t.Errorf("error = %q, want watchdog message", reply.Turns[0].Error)
	}
}

// slowDispatcher delays every tool call, failing it if the dispatch context
// expires first.
type slowDispatcher struct {
	fakeDispatcher
	delay time.Duration
}

func (d *slowDispatcher) CallTool(ctx context.Context, mangled string, args json.RawMessage, session mcp.SessionScope) *mcp.CallToolResult {
	select {
	case <-ctx.Done():
		return &mcp.CallToolResult{Err: "tool context expired: " + ctx.Err().Error()}
	case <-time.After(d.delay):
	}
	return d.fakeDispatcher.CallTool(ctx, mangled, args, session)
}

func TestRunLoop_WatchdogIsPerModelCall(t *testing.T) {
	// A tool call longer than the watchdog sits between two fast model
	// calls. The watchdog covers model calls only and resets for each one,
	// so the whole generation must still complete.
	d := &slowDispatcher{
		fakeDispatcher: fakeDispatcher{servers: []string{"files"}},
		delay:          40 * time.Millisecond,
	}
	cfg := testLoopConfig(d)
	cfg.timeout = 20 * time.Millisecond
	conv := &scriptedConversation{script: []*invocation{
		callInvocation("c1", "files_read", `{"path":"a.txt"}`),
		textInvocation("done", 0, 0),
	}}

	reply := runLoop(context.Background(), cfg, conv, &Request{Session: newFakeSession()})

	if conv.invokes != 2 {
		t.Fatalf("invokes = %d, want 2", conv.invokes)
	}
	var call *models.ExecutedCall
	for _, r := range reply.Turns[0].Results {
		if r.Type == models.TurnResultToolCall {
			call = r.ToolCall
		}
	}
	if call == nil {
		t.Fatal("no executed call in first turn")
	}
	if call.Error != "" || call.Output != "ok" {
		t.Errorf("tool call cut short: %+v", call)
	}
	last := reply.Turns[len(reply.Turns)-1]
	if last.Error != "" || last.Text() != "done" {
		t.Errorf("final turn = %+v, want clean completion", last)
	}
}

func TestRunLoop_UnknownToolDispatchesAnyway(t *testing.T) {
	d := &fakeDispatcher{
		servers: []string{"files"},
		results: map[string]*mcp.CallToolResult{
			"mystery_tool": {Err: `unknown tool "mystery_tool": no configured server matches`},
		},
	}
	conv := &scriptedConversation{script: []*invocation{
		callInvocation("c1", "mystery_tool", `{}`),
		textInvocation("noted", 0, 0),
	}}

	reply := runLoop(context.Background(), testLoopConfig(d), conv, &Request{Session: newFakeSession()})

	var call *models.ExecutedCall
	for _, r := range reply.Turns[0].Results {
		if r.Type == models.TurnResultToolCall {
			call = r.ToolCall
		}
	}
	if call == nil {
		t.Fatal("no executed call recorded")
	}
	if call.ToolName != "mystery_tool" || call.Error == "" {
		t.Errorf("call = %+v, want raw name with error", call)
	}
}

func TestRunLoop_ParentCancellationIsNotTimeout(t *testing.T) {
	d := &fakeDispatcher{servers: []string{"files"}}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	conv := &scriptedConversation{block: true}

	reply := runLoop(ctx, testLoopConfig(d), conv, &Request{Session: newFakeSession()})

	if len(reply.Turns) != 1 {
		t.Fatalf("turns = %d, want 1", len(reply.Turns))
	}
	if reply.Turns[0].Error == "Request timed out" {
		t.Error("caller cancellation reported as watchdog timeout")
	}
	if !errors.Is(ctx.Err(), context.Canceled) {
		t.Fatal("test setup: parent not cancelled")
	}
}
