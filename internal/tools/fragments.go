package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tsparklabs/tspark/internal/fragments"
	"github.com/tsparklabs/tspark/internal/mcp"
	"github.com/tsparklabs/tspark/pkg/models"
)

const fragmentToolsetVersion = "1.0.0"

// FragmentToolset exposes one fragment store's CRUD as tools. The rules and
// references stores each get their own instance; only the names differ.
type FragmentToolset struct {
	store *fragments.Store
	defs  map[string]toolDef
	order []string
}

// NewFragmentToolset builds the toolset for a store's kind.
func NewFragmentToolset(store *fragments.Store) *FragmentToolset {
	kind := string(store.Kind()) // "rule" or "reference"
	singular := strings.ToUpper(kind[:1]) + kind[1:]
	plural := singular + "s"

	nameProp := `"name": {"type": "string", "pattern": "^[A-Za-z0-9_-]+$", "description": "Unique name"}`
	metaProps := nameProp + `,
		"text": {"type": "string", "description": "Body text"},
		"description": {"type": "string"},
		"priorityLevel": {"type": "integer", "minimum": 0, "maximum": 999},
		"enabled": {"type": "boolean"},
		"include": {"type": "string", "enum": ["always", "manual", "agent"]}`

	ts := &FragmentToolset{store: store, defs: make(map[string]toolDef)}
	add := func(def toolDef) {
		ts.defs[def.tool.Name] = def
		ts.order = append(ts.order, def.tool.Name)
	}

	add(defineTool("create"+singular,
		fmt.Sprintf("Create a new %s with the given name and text.", kind),
		fmt.Sprintf(`{
			"type": "object",
			"properties": {%s},
			"required": ["name", "text"],
			"additionalProperties": false
		}`, metaProps)))

	add(defineTool("get"+singular,
		fmt.Sprintf("Fetch one %s including its body text.", kind),
		fmt.Sprintf(`{
			"type": "object",
			"properties": {%s},
			"required": ["name"],
			"additionalProperties": false
		}`, nameProp)))

	add(defineTool("update"+singular,
		fmt.Sprintf("Update an existing %s. Omitted fields keep their value.", kind),
		fmt.Sprintf(`{
			"type": "object",
			"properties": {%s},
			"required": ["name"],
			"additionalProperties": false
		}`, metaProps)))

	add(defineTool("delete"+singular,
		fmt.Sprintf("Delete a %s by name.", kind),
		fmt.Sprintf(`{
			"type": "object",
			"properties": {%s},
			"required": ["name"],
			"additionalProperties": false
		}`, nameProp)))

	add(defineTool("list"+plural,
		fmt.Sprintf("List all %ss without their body text.", kind),
		`{"type": "object", "properties": {}, "additionalProperties": false}`))

	return ts
}

func (t *FragmentToolset) Version() string { return fragmentToolsetVersion }

func (t *FragmentToolset) Tools() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.defs[name].tool)
	}
	return out
}

func (t *FragmentToolset) Call(ctx context.Context, tool string, args json.RawMessage) (mcp.ToolsetResult, error) {
	def, ok := t.defs[tool]
	if !ok {
		return errorResult("Error: unknown tool %q", tool)
	}
	decoded, err := def.decodeArgs(args)
	if err != nil {
		return errorResult("Error: invalid arguments for %s: %v", tool, err)
	}

	switch {
	case strings.HasPrefix(tool, "create"):
		return t.create(decoded)
	case strings.HasPrefix(tool, "get"):
		return t.get(decoded)
	case strings.HasPrefix(tool, "update"):
		return t.update(decoded)
	case strings.HasPrefix(tool, "delete"):
		return t.delete(decoded)
	default:
		return t.list()
	}
}

func (t *FragmentToolset) create(args map[string]any) (mcp.ToolsetResult, error) {
	f := &models.Fragment{Enabled: true}
	enabledSet, prioritySet := t.apply(f, args)
	f.ApplyDefaults(enabledSet, prioritySet)

	if err := t.store.Create(f); err != nil {
		if errors.Is(err, fragments.ErrDuplicateName) {
			return errorResult("Error: a %s named %q already exists", t.store.Kind(), f.Name)
		}
		return errorResult("Error: %v", err)
	}
	return jsonResult(f.Summary())
}

func (t *FragmentToolset) get(args map[string]any) (mcp.ToolsetResult, error) {
	name, _ := stringArg(args, "name")
	f, err := t.store.Get(name)
	if err != nil {
		return errorResult("Error: %v", err)
	}
	return jsonResult(f)
}

func (t *FragmentToolset) update(args map[string]any) (mcp.ToolsetResult, error) {
	name, _ := stringArg(args, "name")
	f, err := t.store.Get(name)
	if err != nil {
		return errorResult("Error: %v", err)
	}

	t.apply(f, args)
	if err := t.store.Update(f); err != nil {
		return errorResult("Error: %v", err)
	}
	return jsonResult(f.Summary())
}

func (t *FragmentToolset) delete(args map[string]any) (mcp.ToolsetResult, error) {
	name, _ := stringArg(args, "name")
	if err := t.store.Delete(name); err != nil {
		return errorResult("Error: %v", err)
	}
	return jsonResult(struct {
		Name    string `json:"name"`
		Deleted bool   `json:"deleted"`
	}{name, true})
}

func (t *FragmentToolset) list() (mcp.ToolsetResult, error) {
	all, err := t.store.List()
	if err != nil {
		return errorResult("Error: %v", err)
	}
	summaries := make([]models.Fragment, 0, len(all))
	for _, f := range all {
		summaries = append(summaries, f.Summary())
	}
	return jsonResult(summaries)
}

// apply copies the provided argument fields onto the fragment and reports
// whether enabled and priorityLevel were given explicitly.
func (t *FragmentToolset) apply(f *models.Fragment, args map[string]any) (enabledSet, prioritySet bool) {
	if v, ok := stringArg(args, "name"); ok {
		f.Name = v
	}
	if v, ok := stringArg(args, "text"); ok {
		f.Text = v
	}
	if v, ok := stringArg(args, "description"); ok {
		f.Description = v
	}
	if v, ok := intArg(args, "priorityLevel"); ok {
		f.PriorityLevel = v
		prioritySet = true
	}
	if v, ok := boolArg(args, "enabled"); ok {
		f.Enabled = v
		enabledSet = true
	}
	if v, ok := stringArg(args, "include"); ok {
		f.Include = models.IncludeMode(v)
	}
	return enabledSet, prioritySet
}
