package agent

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/tsparklabs/tspark/internal/agent/providers"
	"github.com/tsparklabs/tspark/internal/observability"
	"github.com/tsparklabs/tspark/internal/mcp"
	"github.com/tsparklabs/tspark/internal/usage"
	"github.com/tsparklabs/tspark/internal/workspace"
	"github.com/tsparklabs/tspark/pkg/models"
)

// fragmentToken matches the inline @ref:<name> / @rule:<name> scope tokens.
var fragmentToken = regexp.MustCompile(`@(ref|rule):([A-Za-z0-9_-]+)`)

// HandleText submits plain user text; see HandleMessage.
func (s *Session) HandleText(ctx context.Context, text string) (*models.MessageUpdate, error) {
	return s.HandleMessage(ctx, models.UserMessage(text))
}

// HandleMessage drives one full turn cycle: resolve inline scope tokens,
// assemble the provider context, invoke the adapter, and append the input and
// assistant reply to the transcript. It accepts user and approval messages
// and is single-flight per session; a concurrent call fails with
// ErrReentrantCall.
func (s *Session) HandleMessage(ctx context.Context, input models.ChatMessage) (*models.MessageUpdate, error) {
	if input.Role != models.RoleUser && input.Role != models.RoleApproval {
		err := fmt.Errorf("%w: got role %q", ErrInvalidInput, input.Role)
		s.countError(err)
		return nil, err
	}

	cctx, err := s.begin(ctx)
	if err != nil {
		s.countError(err)
		return nil, err
	}
	defer s.finish()

	if tracer := s.agent.tracer; tracer != nil {
		var span trace.Span
		cctx, span = tracer.StartHandleMessage(cctx, s.id)
		defer span.End()
	}

	switch input.Role {
	case models.RoleApproval:
		input.Decisions, err = s.normalizeApprovals(input.Decisions)
		if err != nil {
			s.countError(err)
			return nil, err
		}
	default:
		input.Content = s.resolveRefs(input.Content)
	}

	adapter, err := s.currentAdapter(cctx)
	if err != nil {
		s.countError(err)
		return nil, err
	}

	req := &providers.Request{
		Session:  s,
		Messages: append(s.buildContext(), input),
		Tools:    s.toolSpecs(),
	}

	s.agent.logger.Info("handling message",
		"session", s.id, "role", string(input.Role),
		"provider", adapter.ProviderID(), "model", adapter.ModelID())

	reply := s.generate(cctx, adapter, req)
	s.recordUsage(ctx, adapter, reply)

	assistant := models.ChatMessage{
		Role:      models.RoleAssistant,
		Reply:     reply,
		CreatedAt: reply.Timestamp,
	}

	s.mu.Lock()
	s.appendLocked(input)
	s.appendLocked(assistant)
	update := &models.MessageUpdate{
		Updates:           []models.ChatMessage{input, assistant},
		LastSyncID:        s.lastSyncID,
		ReferencesInScope: append([]string(nil), s.referencesInScope...),
		RulesInScope:      append([]string(nil), s.rulesInScope...),
	}
	s.mu.Unlock()

	return update, nil
}

// generate runs the adapter call wrapped in the observability surfaces: a
// provider span and the request/token counters.
func (s *Session) generate(ctx context.Context, adapter providers.Adapter, req *providers.Request) *models.ModelReply {
	var span trace.Span
	if tracer := s.agent.tracer; tracer != nil {
		ctx, span = tracer.StartProviderCall(ctx, adapter.ProviderID(), adapter.ModelID())
	}

	start := time.Now()
	reply := adapter.GenerateResponse(ctx, req)

	var input, output int64
	status := "ok"
	for _, turn := range reply.Turns {
		input += turn.InputTokens
		output += turn.OutputTokens
		if turn.Error != "" {
			status = "error"
		}
	}
	if m := s.agent.metrics; m != nil {
		m.ObserveProviderCall(adapter.ProviderID(), adapter.ModelID(), status, time.Since(start))
		m.ObserveTokens(adapter.ProviderID(), adapter.ModelID(), input, output)
		for _, turn := range reply.Turns {
			for _, res := range turn.Results {
				if res.Type != models.TurnResultToolCall || res.ToolCall == nil {
					continue
				}
				callStatus := "ok"
				if res.ToolCall.Error != "" {
					callStatus = "error"
				}
				m.ObserveToolCall(res.ToolCall.ServerName, res.ToolCall.ToolName, callStatus,
					time.Duration(res.ToolCall.ElapsedMs)*time.Millisecond)
			}
		}
	}
	if span != nil {
		observability.EndWithTokens(span, input, output)
	}
	return reply
}

// countError bumps the error-kind counter for a failed submission.
func (s *Session) countError(err error) {
	if m := s.agent.metrics; m != nil {
		m.CountError(string(KindOf(err)))
	}
}

// begin claims the session for one turn and arms cancellation so a session
// delete can abort the in-flight provider call.
func (s *Session) begin(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return nil, ErrReentrantCall
	}
	cctx, cancel := context.WithCancel(ctx)
	s.busy = true
	s.cancel = cancel
	return cctx, nil
}

func (s *Session) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.busy = false
}

// abort cancels an in-flight turn, if any. Called on session deletion.
func (s *Session) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// currentAdapter returns the cached adapter, creating it on first use after
// a model switch.
func (s *Session) currentAdapter(ctx context.Context) (providers.Adapter, error) {
	s.mu.Lock()
	adapter, pid, model := s.adapter, s.providerID, s.modelID
	s.mu.Unlock()

	if adapter != nil {
		return adapter, nil
	}
	if pid == "" || model == "" {
		return nil, ErrNoModel
	}
	adapter, err := s.agent.registry.CreateAdapter(ctx, pid, model)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.adapter = adapter
	s.mu.Unlock()
	return adapter, nil
}

// normalizeApprovals checks the decisions against the pending set of the last
// assistant reply. The decision set must cover exactly the pending tool-call
// IDs; each returned decision carries the pending call's identity and args so
// downstream replay never trusts caller-supplied routing.
func (s *Session) normalizeApprovals(decisions []models.ToolCallApproval) ([]models.ToolCallApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []models.PendingCall
	if n := len(s.messages); n > 0 {
		if last := s.messages[n-1]; last.Role == models.RoleAssistant && last.Reply.HasPending() {
			pending = last.Reply.PendingToolCalls
		}
	}
	if len(pending) == 0 {
		return nil, fmt.Errorf("%w: no tool calls awaiting approval", ErrApprovalMismatch)
	}
	if len(decisions) != len(pending) {
		return nil, fmt.Errorf("%w: got %d decisions for %d pending calls",
			ErrApprovalMismatch, len(decisions), len(pending))
	}

	byID := make(map[string]models.ToolCallApproval, len(decisions))
	for _, d := range decisions {
		if _, dup := byID[d.ToolCallID]; dup {
			return nil, fmt.Errorf("%w: duplicate decision for call %q", ErrApprovalMismatch, d.ToolCallID)
		}
		byID[d.ToolCallID] = d
	}

	out := make([]models.ToolCallApproval, 0, len(pending))
	for _, p := range pending {
		d, ok := byID[p.ToolCallID]
		if !ok {
			return nil, fmt.Errorf("%w: no decision for call %q", ErrApprovalMismatch, p.ToolCallID)
		}
		out = append(out, models.ToolCallApproval{
			ServerName: p.ServerName,
			ToolName:   p.ToolName,
			ToolCallID: p.ToolCallID,
			Args:       p.Args,
			Decision:   d.Decision,
		})
	}
	return out, nil
}

// resolveRefs pulls @ref:/@rule: tokens out of the user text, brings named
// fragments into scope when they exist, and returns the cleaned text.
func (s *Session) resolveRefs(text string) string {
	matches := fragmentToken.FindAllStringSubmatch(text, -1)
	for _, m := range matches {
		kind, name := m[1], m[2]
		store := s.agent.references
		if kind == "rule" {
			store = s.agent.rules
		}
		if !store.Exists(name) {
			continue
		}
		s.mu.Lock()
		if kind == "rule" {
			s.rulesInScope = appendName(s.rulesInScope, name)
		} else {
			s.referencesInScope = appendName(s.referencesInScope, name)
		}
		s.mu.Unlock()
	}
	if len(matches) == 0 {
		return text
	}
	return collapseSpaces(fragmentToken.ReplaceAllString(text, ""))
}

var spaceRuns = regexp.MustCompile(`[ \t]{2,}`)

// collapseSpaces tidies the holes token removal leaves: runs of blanks become
// one space and line ends are trimmed.
func collapseSpaces(text string) string {
	lines := strings.Split(spaceRuns.ReplaceAllString(text, " "), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(strings.TrimLeft(line, " "), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// buildContext assembles the ordered provider message list: system prompt,
// prior non-system transcript, then in-scope references and rules as
// pseudo-user messages. The caller appends the new input last.
func (s *Session) buildContext() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ChatMessage
	if prompt := s.agent.ws.GetSystemPrompt(); strings.TrimSpace(prompt) != "" {
		out = append(out, models.ChatMessage{Role: models.RoleSystem, Content: prompt})
	}
	for _, msg := range s.messages {
		if msg.Role == models.RoleSystem {
			continue
		}
		out = append(out, msg)
	}
	// Fragments that no longer resolve are dropped with a warning; they stay
	// in scope in case the file comes back.
	for _, name := range s.referencesInScope {
		f, err := s.agent.references.Get(name)
		if err != nil {
			s.agent.logger.Warn("dropping unresolvable reference from context",
				"session", s.id, "name", name, "error", err)
			continue
		}
		out = append(out, models.ChatMessage{Role: models.RoleUser, Content: "Reference: " + f.Text})
	}
	for _, name := range s.rulesInScope {
		f, err := s.agent.rules.Get(name)
		if err != nil {
			s.agent.logger.Warn("dropping unresolvable rule from context",
				"session", s.id, "name", name, "error", err)
			continue
		}
		out = append(out, models.ChatMessage{Role: models.RoleUser, Content: "Rule: " + f.Text})
	}
	return out
}

// toolSpecs resolves the session's included tools against the live server
// catalogs. Tools whose server or definition is gone are skipped.
func (s *Session) toolSpecs() []providers.ToolSpec {
	refs := s.IncludedTools()
	var out []providers.ToolSpec
	for _, ref := range refs {
		client, ok := s.agent.manager.GetClient(ref.ServerName)
		if !ok {
			continue
		}
		for _, tool := range client.ListTools() {
			if tool.Name != ref.ToolName {
				continue
			}
			out = append(out, providers.ToolSpec{
				Name:        mcp.MangleToolName(ref.ServerName, tool.Name),
				Description: tool.Description,
				InputSchema: tool.InputSchema,
			})
			break
		}
	}
	return out
}

// recordUsage writes per-turn token counts to the ledger. Recording failures
// are logged, never surfaced.
func (s *Session) recordUsage(ctx context.Context, adapter providers.Adapter, reply *models.ModelReply) {
	ledger := s.agent.usage
	if ledger == nil || reply == nil {
		return
	}
	for _, turn := range reply.Turns {
		if turn.InputTokens == 0 && turn.OutputTokens == 0 {
			continue
		}
		rec := usage.Record{
			SessionID:    s.id,
			ProviderID:   adapter.ProviderID(),
			ModelID:      adapter.ModelID(),
			InputTokens:  turn.InputTokens,
			OutputTokens: turn.OutputTokens,
		}
		if err := ledger.Record(ctx, rec); err != nil {
			s.agent.logger.Warn("usage record failed", "session", s.id, "error", err)
		}
	}
}

// SwitchModel selects the provider and model for subsequent turns. The
// provider must be known and installed. A synthetic system message records
// the switch.
func (s *Session) SwitchModel(pid, modelID string) error {
	if _, ok := s.agent.registry.Descriptor(pid); !ok {
		return fmt.Errorf("%w: %s", providers.ErrUnknownProvider, pid)
	}
	if !s.agent.ws.IsInstalled(pid) {
		return fmt.Errorf("%w: %s", providers.ErrNotInstalled, pid)
	}

	s.mu.Lock()
	s.providerID = pid
	s.modelID = modelID
	s.adapter = nil
	s.appendLocked(models.SystemMessage(fmt.Sprintf("Model switched to %s:%s", pid, modelID)))
	s.mu.Unlock()

	if err := s.agent.ws.SetMostRecentModel(pid, modelID); err != nil {
		s.agent.logger.Warn("persist most recent model", "error", err)
	}
	return nil
}

// ClearModel drops the model selection; the next turn fails until a model is
// chosen again.
func (s *Session) ClearModel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providerID = ""
	s.modelID = ""
	s.adapter = nil
	s.appendLocked(models.SystemMessage("Model cleared"))
}

// UpdateSettings applies a partial settings map after bounds validation. All
// keys validate before any apply, and a synthetic system message records the
// change set.
func (s *Session) UpdateSettings(partial map[string]any) error {
	validated := make(map[string]any, len(partial))
	for key, value := range partial {
		if _, known := workspace.SettingSpecFor(key); !known {
			return fmt.Errorf("%w: unknown setting %q", workspace.ErrInvalidSetting, key)
		}
		normalized, err := workspace.ValidateSetting(key, value)
		if err != nil {
			return err
		}
		validated[key] = normalized
	}
	if len(validated) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []string
	for key, value := range validated {
		switch key {
		case workspace.SettingMaxChatTurns:
			s.settings.MaxChatTurns = value.(int)
		case workspace.SettingMaxOutputTokens:
			s.settings.MaxOutputTokens = value.(int)
		case workspace.SettingTemperature:
			s.settings.Temperature = value.(float64)
		case workspace.SettingTopP:
			s.settings.TopP = value.(float64)
		case workspace.SettingToolPermission:
			s.settings.ToolPermission = value.(string)
		case workspace.SettingContextTopK:
			s.settings.ContextTopK = value.(int)
		case workspace.SettingContextTopN:
			s.settings.ContextTopN = value.(int)
		case workspace.SettingContextIncludeScore:
			s.settings.ContextIncludeScore = value.(float64)
		default:
			return fmt.Errorf("%w: %s is not a session setting", workspace.ErrInvalidSetting, key)
		}
		changed = append(changed, fmt.Sprintf("%s=%v", key, value))
	}

	sort.Strings(changed)
	s.appendLocked(models.SystemMessage("Settings updated: " + strings.Join(changed, ", ")))
	return nil
}
