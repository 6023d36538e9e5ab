// Package tools implements the in-process toolsets the model can drive:
// rule and reference management and session tool-inclusion management. They
// serve through the internal transport like any other tool server.
package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tsparklabs/tspark/internal/mcp"
)

// toolDef pairs a tool's wire description with its compiled argument schema.
type toolDef struct {
	tool   mcp.Tool
	schema *jsonschema.Schema
}

// defineTool compiles the schema at construction time. Schemas are source
// literals, so failure to compile is a programmer error.
func defineTool(name, description, schema string) toolDef {
	compiled, err := jsonschema.CompileString(name+".json", schema)
	if err != nil {
		panic(fmt.Sprintf("tools: bad schema for %s: %v", name, err))
	}
	return toolDef{
		tool: mcp.Tool{
			Name:        name,
			Description: description,
			InputSchema: json.RawMessage(schema),
		},
		schema: compiled,
	}
}

// decodeArgs validates args against the tool's schema and returns the
// decoded object. Empty args mean an empty object.
func (d toolDef) decodeArgs(args json.RawMessage) (map[string]any, error) {
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage(`{}`)
	}
	var value any
	if err := json.Unmarshal(args, &value); err != nil {
		return nil, fmt.Errorf("arguments are not valid JSON: %v", err)
	}
	if err := d.schema.Validate(value); err != nil {
		return nil, err
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("arguments must be an object")
	}
	return obj, nil
}

// textResult builds a plain text toolset result.
func textResult(text string) (mcp.ToolsetResult, error) {
	return mcp.ToolsetResult{Content: []mcp.ContentPart{mcp.TextPart(text)}}, nil
}

// errorResult reports a failure in-band as the text part the model sees.
func errorResult(format string, args ...any) (mcp.ToolsetResult, error) {
	return mcp.ToolsetResult{
		Content: []mcp.ContentPart{mcp.TextPart(fmt.Sprintf(format, args...))},
		IsError: true,
	}, nil
}

// jsonResult encodes v as the single text part. Struct encoding keeps field
// order fixed so output is deterministic.
func jsonResult(v any) (mcp.ToolsetResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult("Error: encode result: %v", err)
	}
	return textResult(string(data))
}

// stringArg returns an optional string argument.
func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok
}

// intArg returns an optional integer argument. The schema has already
// constrained it to an integral number.
func intArg(args map[string]any, key string) (int, bool) {
	v, ok := args[key].(float64)
	if !ok {
		return 0, false
	}
	return int(v), true
}

// boolArg returns an optional boolean argument.
func boolArg(args map[string]any, key string) (bool, bool) {
	v, ok := args[key].(bool)
	return v, ok
}
