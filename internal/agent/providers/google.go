package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/tsparklabs/tspark/pkg/models"
)

// googleAdapter generates through the Gemini API.
type googleAdapter struct {
	client *genai.Client
	model  string
	loop   loopConfig
}

func newGoogleAdapter(ctx context.Context, apiKey, model string, loop loopConfig) (*googleAdapter, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return &googleAdapter{client: client, model: model, loop: loop}, nil
}

func (a *googleAdapter) ProviderID() string { return ProviderGoogle }
func (a *googleAdapter) ModelID() string    { return a.model }

func (a *googleAdapter) GenerateResponse(ctx context.Context, req *Request) *models.ModelReply {
	conv := newGoogleConversation(a, req)
	return runLoop(ctx, a.loop, conv, req)
}

// googleConversation holds the translated history. Gemini takes the system
// prompt out of band, names (not IDs) bind function responses to calls, and
// the wire does not mint call IDs, so the conversation generates its own and
// tracks the id-to-name mapping.
type googleConversation struct {
	adapter      *googleAdapter
	settings     models.SessionSettings
	systemPrompt string
	history      []*genai.Content
	tools        []*genai.Tool

	curRole  genai.Role
	curParts []*genai.Part
	pending  []*genai.Part

	callNames map[string]string
}

func newGoogleConversation(a *googleAdapter, req *Request) *googleConversation {
	c := &googleConversation{
		adapter:   a,
		settings:  req.Session.Settings(),
		tools:     googleTools(req.Tools),
		callNames: make(map[string]string),
	}
	walkMessages(req.Messages, c)
	c.flushRole()
	return c
}

func googleTools(specs []ToolSpec) []*genai.Tool {
	if len(specs) == 0 {
		return nil
	}
	declarations := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		var schemaMap map[string]any
		if err := json.Unmarshal(spec.InputSchema, &schemaMap); err != nil {
			schemaMap = map[string]any{"type": "object"}
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  googleSchema(schemaMap),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// googleSchema converts a JSON Schema map into Gemini's schema type. Only
// the subset tool servers emit is mapped.
func googleSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = googleSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = googleSchema(items)
	}
	return schema
}

// historyVisitor

func (c *googleConversation) system(text string) {
	if c.systemPrompt == "" {
		c.systemPrompt = text
		return
	}
	c.systemPrompt += "\n\n" + text
}

func (c *googleConversation) userText(text string) {
	if text == "" {
		return
	}
	c.appendPart(genai.RoleUser, &genai.Part{Text: text})
}

func (c *googleConversation) assistantText(text string) {
	if text == "" {
		return
	}
	c.appendPart(genai.RoleModel, &genai.Part{Text: text})
}

func (c *googleConversation) toolUse(id, wireName string, args []byte) {
	c.callNames[id] = wireName
	var argMap map[string]any
	if err := json.Unmarshal(args, &argMap); err != nil {
		argMap = make(map[string]any)
	}
	c.appendPart(genai.RoleModel, &genai.Part{
		FunctionCall: &genai.FunctionCall{Name: wireName, Args: argMap},
	})
}

func (c *googleConversation) toolResult(call *models.ExecutedCall) {
	c.appendPart(genai.RoleUser, c.responsePart(call))
}

func (c *googleConversation) responsePart(call *models.ExecutedCall) *genai.Part {
	text, isError := resultContent(call)
	var response map[string]any
	if err := json.Unmarshal([]byte(text), &response); err != nil || response == nil {
		response = map[string]any{"result": text}
		if isError {
			response["error"] = true
		}
	}
	name := c.callNames[call.ToolCallID]
	if name == "" {
		name = wireName(call.ServerName, call.ToolName)
	}
	return &genai.Part{
		FunctionResponse: &genai.FunctionResponse{Name: name, Response: response},
	}
}

func (c *googleConversation) appendPart(role genai.Role, part *genai.Part) {
	if role != c.curRole {
		c.flushRole()
		c.curRole = role
	}
	c.curParts = append(c.curParts, part)
}

func (c *googleConversation) flushRole() {
	if len(c.curParts) == 0 {
		return
	}
	c.history = append(c.history, &genai.Content{Role: string(c.curRole), Parts: c.curParts})
	c.curParts = nil
	c.curRole = ""
}

// conversation

func (c *googleConversation) appendToolResult(call *models.ExecutedCall) {
	c.pending = append(c.pending, c.responsePart(call))
}

func (c *googleConversation) invoke(ctx context.Context) (*invocation, error) {
	if len(c.pending) > 0 {
		c.history = append(c.history, &genai.Content{Role: string(genai.RoleUser), Parts: c.pending})
		c.pending = nil
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(c.settings.Temperature)),
		TopP:        genai.Ptr(float32(c.settings.TopP)),
	}
	if c.systemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: c.systemPrompt}},
		}
	}
	if c.settings.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(c.settings.MaxOutputTokens)
	}
	if len(c.tools) > 0 {
		config.Tools = c.tools
	}

	resp, err := c.adapter.client.Models.GenerateContent(ctx, c.adapter.model, c.history, config)
	if err != nil {
		return nil, wrapError(ProviderGoogle, c.adapter.model, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, wrapError(ProviderGoogle, c.adapter.model, fmt.Errorf("empty response: no candidates"))
	}

	candidate := resp.Candidates[0]
	inv := &invocation{truncated: candidate.FinishReason == genai.FinishReasonMaxTokens}
	if resp.UsageMetadata != nil {
		inv.inputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		inv.outputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}

	var parts []*genai.Part
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" {
			inv.parts = append(inv.parts, invocationPart{text: part.Text})
			parts = append(parts, &genai.Part{Text: part.Text})
		}
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				args = []byte("{}")
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			c.callNames[id] = part.FunctionCall.Name
			inv.parts = append(inv.parts, invocationPart{call: &toolUse{
				id:   id,
				name: part.FunctionCall.Name,
				args: args,
			}})
			parts = append(parts, &genai.Part{FunctionCall: part.FunctionCall})
		}
	}
	if len(parts) > 0 {
		c.history = append(c.history, &genai.Content{Role: string(genai.RoleModel), Parts: parts})
	}

	return inv, nil
}

// googleModels is the static catalog.
func googleModels() []models.Model {
	return []models.Model{
		{ProviderID: ProviderGoogle, ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", Source: models.ModelSourceStatic},
		{ProviderID: ProviderGoogle, ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", Source: models.ModelSourceStatic},
		{ProviderID: ProviderGoogle, ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", Source: models.ModelSourceStatic},
		{ProviderID: ProviderGoogle, ID: "gemini-2.0-flash-lite", Name: "Gemini 2.0 Flash Lite", Source: models.ModelSourceStatic},
	}
}
