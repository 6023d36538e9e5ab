package providers

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tsparklabs/tspark/pkg/models"
)

// anthropicAdapter generates through the Anthropic Messages API.
type anthropicAdapter struct {
	client anthropic.Client
	model  string
	loop   loopConfig
}

func newAnthropicAdapter(apiKey, model string, loop loopConfig) *anthropicAdapter {
	return &anthropicAdapter{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		loop:   loop,
	}
}

func (a *anthropicAdapter) ProviderID() string { return ProviderAnthropic }
func (a *anthropicAdapter) ModelID() string    { return a.model }

func (a *anthropicAdapter) GenerateResponse(ctx context.Context, req *Request) *models.ModelReply {
	conv := newAnthropicConversation(a, req)
	return runLoop(ctx, a.loop, conv, req)
}

// anthropicConversation holds the translated history. Anthropic enforces
// strict user/assistant alternation, so consecutive same-role blocks
// coalesce into one message and tool results buffer until the next invoke.
type anthropicConversation struct {
	adapter      *anthropicAdapter
	settings     models.SessionSettings
	systemPrompt string
	messages     []anthropic.MessageParam
	tools        []anthropic.ToolUnionParam

	curRole   string
	curBlocks []anthropic.ContentBlockParamUnion
	pending   []anthropic.ContentBlockParamUnion
}

func newAnthropicConversation(a *anthropicAdapter, req *Request) *anthropicConversation {
	c := &anthropicConversation{
		adapter:  a,
		settings: req.Session.Settings(),
		tools:    anthropicTools(req.Tools),
	}
	walkMessages(req.Messages, c)
	c.flushRole()
	return c
}

func anthropicTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		var schema anthropic.ToolInputSchemaParam
		if len(spec.InputSchema) > 0 {
			var raw map[string]any
			if err := json.Unmarshal(spec.InputSchema, &raw); err == nil {
				if props, ok := raw["properties"]; ok {
					schema.Properties = props
				}
				if req, ok := raw["required"].([]any); ok {
					for _, r := range req {
						if s, ok := r.(string); ok {
							schema.Required = append(schema.Required, s)
						}
					}
				}
			}
		}
		tool := anthropic.ToolUnionParamOfTool(schema, spec.Name)
		if spec.Description != "" {
			tool.OfTool.Description = anthropic.String(spec.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}

// historyVisitor

func (c *anthropicConversation) system(text string) {
	if c.systemPrompt == "" {
		c.systemPrompt = text
		return
	}
	c.systemPrompt += "\n\n" + text
}

func (c *anthropicConversation) userText(text string) {
	if text == "" {
		return
	}
	c.appendBlock("user", anthropic.NewTextBlock(text))
}

func (c *anthropicConversation) assistantText(text string) {
	if text == "" {
		return
	}
	c.appendBlock("assistant", anthropic.NewTextBlock(text))
}

func (c *anthropicConversation) toolUse(id, wireName string, args []byte) {
	input := json.RawMessage(args)
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	c.appendBlock("assistant", anthropic.NewToolUseBlock(id, input, wireName))
}

func (c *anthropicConversation) toolResult(call *models.ExecutedCall) {
	text, isError := resultContent(call)
	c.appendBlock("user", anthropic.NewToolResultBlock(call.ToolCallID, text, isError))
}

func (c *anthropicConversation) appendBlock(role string, block anthropic.ContentBlockParamUnion) {
	if role != c.curRole {
		c.flushRole()
		c.curRole = role
	}
	c.curBlocks = append(c.curBlocks, block)
}

func (c *anthropicConversation) flushRole() {
	if len(c.curBlocks) == 0 {
		return
	}
	if c.curRole == "assistant" {
		c.messages = append(c.messages, anthropic.NewAssistantMessage(c.curBlocks...))
	} else {
		c.messages = append(c.messages, anthropic.NewUserMessage(c.curBlocks...))
	}
	c.curBlocks = nil
	c.curRole = ""
}

// conversation

func (c *anthropicConversation) appendToolResult(call *models.ExecutedCall) {
	text, isError := resultContent(call)
	c.pending = append(c.pending, anthropic.NewToolResultBlock(call.ToolCallID, text, isError))
}

func (c *anthropicConversation) invoke(ctx context.Context) (*invocation, error) {
	if len(c.pending) > 0 {
		c.messages = append(c.messages, anthropic.NewUserMessage(c.pending...))
		c.pending = nil
	}

	maxTokens := int64(c.settings.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.adapter.model),
		MaxTokens:   maxTokens,
		Messages:    c.messages,
		Temperature: anthropic.Float(c.settings.Temperature),
		TopP:        anthropic.Float(c.settings.TopP),
	}
	if c.systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.systemPrompt}}
	}
	if len(c.tools) > 0 {
		params.Tools = c.tools
	}

	msg, err := c.adapter.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapError(ProviderAnthropic, c.adapter.model, err)
	}

	inv := &invocation{
		inputTokens:  msg.Usage.InputTokens,
		outputTokens: msg.Usage.OutputTokens,
		truncated:    msg.StopReason == anthropic.StopReasonMaxTokens,
	}

	var blocks []anthropic.ContentBlockParamUnion
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			inv.parts = append(inv.parts, invocationPart{text: b.Text})
			blocks = append(blocks, anthropic.NewTextBlock(b.Text))
		case anthropic.ToolUseBlock:
			args := []byte(b.Input)
			inv.parts = append(inv.parts, invocationPart{call: &toolUse{
				id:   b.ID,
				name: b.Name,
				args: args,
			}})
			blocks = append(blocks, anthropic.NewToolUseBlock(b.ID, b.Input, b.Name))
		}
	}
	if len(blocks) > 0 {
		c.messages = append(c.messages, anthropic.NewAssistantMessage(blocks...))
	}

	return inv, nil
}

// anthropicModels is the static catalog. The Anthropic API offers model
// listing but the stable aliases below cover what the runtime targets.
func anthropicModels() []models.Model {
	return []models.Model{
		{ProviderID: ProviderAnthropic, ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5", Source: models.ModelSourceStatic},
		{ProviderID: ProviderAnthropic, ID: "claude-haiku-4-5", Name: "Claude Haiku 4.5", Source: models.ModelSourceStatic},
		{ProviderID: ProviderAnthropic, ID: "claude-opus-4-1", Name: "Claude Opus 4.1", Source: models.ModelSourceStatic},
		{ProviderID: ProviderAnthropic, ID: "claude-3-5-haiku-latest", Name: "Claude 3.5 Haiku", Source: models.ModelSourceStatic},
	}
}
