package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tsparklabs/tspark/internal/backoff"
	"github.com/tsparklabs/tspark/pkg/models"
)

const (
	// defaultCallTimeout bounds a single model call. Tool dispatch runs on
	// the caller's context; tool servers carry their own timeouts.
	defaultCallTimeout = 60 * time.Second

	// maxCallAttempts is how often a single provider call is retried on
	// transient failures before the turn is reported as failed.
	maxCallAttempts = 3

	deniedMessage = "Tool call denied"
)

// conversation is the provider-native side of one generation: it holds the
// translated history and speaks the vendor wire format. The shared loop
// drives it and owns all tool dispatch, approval, and termination rules.
type conversation interface {
	// invoke sends the accumulated exchange to the provider, appends the
	// assistant output to the native history, and reports it.
	invoke(ctx context.Context) (*invocation, error)

	// appendToolResult records an executed call's outcome so the next
	// invoke carries it.
	appendToolResult(call *models.ExecutedCall)
}

// invocation is one provider response in neutral form.
type invocation struct {
	parts        []invocationPart
	inputTokens  int64
	outputTokens int64

	// truncated is set when the provider stopped at the output token limit.
	truncated bool
}

// invocationPart is one ordered element of a provider response: text, or a
// requested tool call.
type invocationPart struct {
	text string
	call *toolUse
}

// toolUse is a model-requested tool call in wire form.
type toolUse struct {
	id   string
	name string
	args []byte
}

// loopConfig is the shared machinery every adapter's loop runs with.
type loopConfig struct {
	providerID string
	dispatcher Dispatcher
	logger     *slog.Logger
	timeout    time.Duration
	policy     backoff.Policy
}

func (c loopConfig) callTimeout() time.Duration {
	if c.timeout > 0 {
		return c.timeout
	}
	return defaultCallTimeout
}

// runLoop drives one generation to completion: replay any trailing approval
// decisions, then alternate provider calls and tool dispatch until the model
// stops requesting tools, a call needs approval, the turn budget runs out,
// the watchdog fires, or the provider fails terminally.
func runLoop(ctx context.Context, cfg loopConfig, conv conversation, req *Request) *models.ModelReply {
	reply := &models.ModelReply{Timestamp: time.Now()}
	settings := req.Session.Settings()

	maxTurns := settings.MaxChatTurns
	if maxTurns <= 0 {
		maxTurns = 25
	}

	// Decisions on the trailing approval message resolve before the
	// provider sees anything new. This does not consume a chat turn.
	if decisions := trailingApprovals(req.Messages); len(decisions) > 0 {
		turn := models.Turn{}
		for _, d := range decisions {
			call := cfg.resolveDecision(ctx, req.Session, d)
			turn.Results = append(turn.Results, models.ToolCallResult(call))
			conv.appendToolResult(call)
		}
		reply.Turns = append(reply.Turns, turn)
	}

	for calls := 0; ; calls++ {
		if calls >= maxTurns {
			reply.Turns = append(reply.Turns, models.Turn{Error: "Maximum number of tool uses reached"})
			break
		}

		inv, err := invokeWithRetry(ctx, cfg, conv)
		if err != nil {
			reply.Turns = append(reply.Turns, models.Turn{Error: terminalError(ctx, cfg.providerID, err)})
			break
		}

		turn := models.Turn{InputTokens: inv.inputTokens, OutputTokens: inv.outputTokens}
		hasToolUse := false
		pendingMode := false

		for _, p := range inv.parts {
			if p.call == nil {
				if p.text != "" {
					turn.Results = append(turn.Results, models.TextResult(p.text))
				}
				continue
			}
			hasToolUse = true
			use := p.call

			server, tool, known := cfg.dispatcher.UnmangleToolName(use.name)

			// Once one call awaits approval, every later call in the same
			// response waits with it so the decision set is complete.
			if known && (pendingMode || req.Session.IsApprovalRequired(server, tool)) {
				pendingMode = true
				reply.PendingToolCalls = append(reply.PendingToolCalls, models.PendingCall{
					ServerName: server,
					ToolName:   tool,
					Args:       use.args,
					ToolCallID: use.id,
				})
				continue
			}

			call := cfg.executeCall(ctx, req.Session, server, tool, use)
			turn.Results = append(turn.Results, models.ToolCallResult(call))
			conv.appendToolResult(call)
		}

		if inv.truncated {
			turn.Error = "Maximum output tokens reached"
		}
		reply.Turns = append(reply.Turns, turn)

		if len(reply.PendingToolCalls) > 0 || !hasToolUse || turn.Error != "" {
			break
		}
	}

	return reply
}

// invokeWithRetry retries transient provider failures. Every attempt runs
// under its own watchdog so a stalled call cannot consume the budget of the
// next one. Non-retryable failures surface immediately.
func invokeWithRetry(ctx context.Context, cfg loopConfig, conv conversation) (*invocation, error) {
	return backoff.Retry(ctx, cfg.policy, maxCallAttempts, func(attempt int) (*invocation, error) {
		cctx, cancel := context.WithTimeout(ctx, cfg.callTimeout())
		defer cancel()
		inv, err := conv.invoke(cctx)
		if err != nil {
			if !IsRetryable(err) {
				return nil, backoff.Permanent(err)
			}
			cfg.logger.Warn("provider call failed, retrying",
				"provider", cfg.providerID, "attempt", attempt, "error", err)
		}
		return inv, err
	})
}

// executeCall dispatches one approved (or approval-exempt) tool call.
// Unknown wire names dispatch anyway so the failure lands in the result the
// model sees.
func (c loopConfig) executeCall(ctx context.Context, session SessionHandle, server, tool string, use *toolUse) *models.ExecutedCall {
	result := c.dispatcher.CallTool(ctx, use.name, use.args, session)

	call := &models.ExecutedCall{
		ServerName: server,
		ToolName:   tool,
		Args:       use.args,
		ToolCallID: use.id,
		Output:     result.Text(),
		Error:      result.ErrorMessage(),
		ElapsedMs:  result.ElapsedMs,
	}
	if call.ToolName == "" {
		call.ToolName = use.name
	}
	return call
}

// resolveDecision turns one approval decision into an executed call: denials
// record the refusal, approvals dispatch.
func (c loopConfig) resolveDecision(ctx context.Context, session SessionHandle, d models.ToolCallApproval) *models.ExecutedCall {
	if d.Decision == models.ApprovalDeny {
		return &models.ExecutedCall{
			ServerName: d.ServerName,
			ToolName:   d.ToolName,
			Args:       d.Args,
			ToolCallID: d.ToolCallID,
			Output:     deniedMessage,
			Error:      deniedMessage,
		}
	}
	if d.Decision == models.ApprovalAllowSession {
		session.MarkApproved(d.ServerName, d.ToolName)
	}
	return c.executeCall(ctx, session, d.ServerName, d.ToolName, &toolUse{
		id:   d.ToolCallID,
		name: wireName(d.ServerName, d.ToolName),
		args: d.Args,
	})
}

// trailingApprovals returns the decisions when the submission that triggered
// this generation was an approval message.
func trailingApprovals(messages []models.ChatMessage) []models.ToolCallApproval {
	if len(messages) == 0 {
		return nil
	}
	last := messages[len(messages)-1]
	if last.Role != models.RoleApproval {
		return nil
	}
	return last.Decisions
}

// terminalError formats the turn error for a failed generation. A deadline
// error while the caller's context is still live means the per-call watchdog
// fired.
func terminalError(parent context.Context, providerID string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return "Request timed out"
	}
	return fmt.Sprintf("Error: Failed to generate response from %s - %s", providerID, errMessage(err))
}
