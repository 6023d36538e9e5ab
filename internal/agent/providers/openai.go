package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tsparklabs/tspark/pkg/models"
)

// openaiAdapter generates through the OpenAI chat completions API.
type openaiAdapter struct {
	client *openai.Client
	model  string
	loop   loopConfig
}

func newOpenAIAdapter(apiKey, model string, loop loopConfig) *openaiAdapter {
	return &openaiAdapter{
		client: openai.NewClient(apiKey),
		model:  model,
		loop:   loop,
	}
}

func (a *openaiAdapter) ProviderID() string { return ProviderOpenAI }
func (a *openaiAdapter) ModelID() string    { return a.model }

func (a *openaiAdapter) GenerateResponse(ctx context.Context, req *Request) *models.ModelReply {
	conv := newOpenAIConversation(a, req)
	return runLoop(ctx, a.loop, conv, req)
}

// openaiConversation holds the translated history. OpenAI carries tool calls
// on the assistant message and each result as its own tool-role message, so
// consecutive assistant-side parts collapse into one message.
type openaiConversation struct {
	adapter  *openaiAdapter
	settings models.SessionSettings
	messages []openai.ChatCompletionMessage
	tools    []openai.Tool

	// assistant under construction during history translation
	cur *openai.ChatCompletionMessage
}

func newOpenAIConversation(a *openaiAdapter, req *Request) *openaiConversation {
	c := &openaiConversation{
		adapter:  a,
		settings: req.Session.Settings(),
		tools:    openaiTools(req.Tools),
	}
	walkMessages(req.Messages, c)
	c.flushAssistant()
	return c
}

func openaiTools(specs []ToolSpec) []openai.Tool {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]openai.Tool, 0, len(specs))
	for _, spec := range specs {
		var schema map[string]any
		if err := json.Unmarshal(spec.InputSchema, &schema); err != nil || schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  schema,
			},
		})
	}
	return tools
}

// historyVisitor

func (c *openaiConversation) system(text string) {
	c.flushAssistant()
	c.messages = append(c.messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: text,
	})
}

func (c *openaiConversation) userText(text string) {
	if text == "" {
		return
	}
	c.flushAssistant()
	c.messages = append(c.messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
}

func (c *openaiConversation) assistantText(text string) {
	if text == "" {
		return
	}
	msg := c.assistant()
	if msg.Content != "" {
		msg.Content += "\n"
	}
	msg.Content += text
}

func (c *openaiConversation) toolUse(id, wireName string, args []byte) {
	arguments := string(args)
	if arguments == "" {
		arguments = "{}"
	}
	msg := c.assistant()
	msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
		ID:   id,
		Type: openai.ToolTypeFunction,
		Function: openai.FunctionCall{
			Name:      wireName,
			Arguments: arguments,
		},
	})
}

func (c *openaiConversation) toolResult(call *models.ExecutedCall) {
	c.flushAssistant()
	c.appendToolResult(call)
}

func (c *openaiConversation) assistant() *openai.ChatCompletionMessage {
	if c.cur == nil {
		c.cur = &openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
	}
	return c.cur
}

func (c *openaiConversation) flushAssistant() {
	if c.cur == nil {
		return
	}
	c.messages = append(c.messages, *c.cur)
	c.cur = nil
}

// conversation

func (c *openaiConversation) appendToolResult(call *models.ExecutedCall) {
	text, _ := resultContent(call)
	c.messages = append(c.messages, openai.ChatCompletionMessage{
		Role:       openai.ChatMessageRoleTool,
		Content:    text,
		ToolCallID: call.ToolCallID,
	})
}

func (c *openaiConversation) invoke(ctx context.Context) (*invocation, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       c.adapter.model,
		Messages:    c.messages,
		Temperature: float32(c.settings.Temperature),
		TopP:        float32(c.settings.TopP),
	}
	if c.settings.MaxOutputTokens > 0 {
		chatReq.MaxTokens = c.settings.MaxOutputTokens
	}
	if len(c.tools) > 0 {
		chatReq.Tools = c.tools
	}

	resp, err := c.adapter.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, wrapError(ProviderOpenAI, c.adapter.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, wrapError(ProviderOpenAI, c.adapter.model, fmt.Errorf("empty response: no choices"))
	}

	choice := resp.Choices[0]
	inv := &invocation{
		inputTokens:  int64(resp.Usage.PromptTokens),
		outputTokens: int64(resp.Usage.CompletionTokens),
		truncated:    choice.FinishReason == openai.FinishReasonLength,
	}
	if choice.Message.Content != "" {
		inv.parts = append(inv.parts, invocationPart{text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		inv.parts = append(inv.parts, invocationPart{call: &toolUse{
			id:   tc.ID,
			name: tc.Function.Name,
			args: []byte(tc.Function.Arguments),
		}})
	}

	c.messages = append(c.messages, choice.Message)
	return inv, nil
}

// openaiListModels fetches the live model catalog and keeps the chat-capable
// gpt-* entries.
func openaiListModels(ctx context.Context, apiKey string) ([]models.Model, error) {
	client := openai.NewClient(apiKey)
	list, err := client.ListModels(ctx)
	if err != nil {
		return nil, wrapError(ProviderOpenAI, "", err)
	}

	var out []models.Model
	for _, m := range list.Models {
		if !strings.HasPrefix(m.ID, "gpt-") && !strings.HasPrefix(m.ID, "o1") && !strings.HasPrefix(m.ID, "o3") {
			continue
		}
		out = append(out, models.Model{
			ProviderID: ProviderOpenAI,
			ID:         m.ID,
			Name:       m.ID,
			Source:     models.ModelSourceFetched,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
