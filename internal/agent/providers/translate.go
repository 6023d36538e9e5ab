package providers

import (
	"github.com/tsparklabs/tspark/internal/mcp"
	"github.com/tsparklabs/tspark/pkg/models"
)

// historyVisitor receives the neutral expansion of a session transcript.
// Each adapter implements it to build its native message history.
type historyVisitor interface {
	system(text string)
	userText(text string)
	assistantText(text string)
	toolUse(id, wireName string, args []byte)
	toolResult(call *models.ExecutedCall)
}

// walkMessages expands the transcript into the events a provider history is
// built from. Assistant replies unfold into their text and tool-call parts;
// a reply's pending calls emit their tool-use now so that when a later reply
// carries the resolved calls only the results are emitted. Approval messages
// themselves are silent: their effect is visible through those resolved
// calls.
func walkMessages(messages []models.ChatMessage, v historyVisitor) {
	pending := make(map[string]bool)

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			v.system(msg.Content)

		case models.RoleUser, models.RoleError:
			v.userText(msg.Content)

		case models.RoleAssistant:
			if msg.Reply == nil {
				continue
			}
			for _, turn := range msg.Reply.Turns {
				for _, r := range turn.Results {
					switch r.Type {
					case models.TurnResultText:
						v.assistantText(r.Text)
					case models.TurnResultToolCall:
						call := r.ToolCall
						if pending[call.ToolCallID] {
							delete(pending, call.ToolCallID)
						} else {
							v.toolUse(call.ToolCallID, wireName(call.ServerName, call.ToolName), call.Args)
						}
						v.toolResult(call)
					}
				}
			}
			for _, pc := range msg.Reply.PendingToolCalls {
				v.toolUse(pc.ToolCallID, wireName(pc.ServerName, pc.ToolName), pc.Args)
				pending[pc.ToolCallID] = true
			}

		case models.RoleApproval:
		}
	}
}

// wireName flattens a (server, tool) pair into the provider-visible name.
// Calls that never resolved to a known server keep their raw name.
func wireName(server, tool string) string {
	if server == "" {
		return tool
	}
	return mcp.MangleToolName(server, tool)
}

// resultContent is the text a provider's tool-result block carries: the
// failure if the call failed, else the output.
func resultContent(call *models.ExecutedCall) (text string, isError bool) {
	if call.Error != "" {
		if call.Output != "" && call.Output != call.Error {
			return call.Output, true
		}
		return call.Error, true
	}
	return call.Output, false
}
