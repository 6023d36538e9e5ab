package tools

import (
	"fmt"
	"sync"

	"github.com/tsparklabs/tspark/internal/mcp"
)

// Built-in toolset names the internal transport can target.
const (
	ToolsetRules      = "rules"
	ToolsetReferences = "references"
	ToolsetTools      = "tools"
)

// Resolver hands out the built-in toolsets by name.
type Resolver struct {
	mu   sync.RWMutex
	sets map[string]mcp.Toolset
}

// NewResolver builds a resolver over the given toolsets. Nil entries are
// skipped so callers can wire only the toolsets they have stores for.
func NewResolver(rules, references, tools mcp.Toolset) *Resolver {
	r := &Resolver{sets: make(map[string]mcp.Toolset)}
	register := func(name string, ts mcp.Toolset) {
		if ts != nil {
			r.sets[name] = ts
		}
	}
	register(ToolsetRules, rules)
	register(ToolsetReferences, references)
	register(ToolsetTools, tools)
	return r
}

// Register adds or replaces a toolset under name.
func (r *Resolver) Register(name string, ts mcp.Toolset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets[name] = ts
}

// Resolve implements mcp.ToolsetResolver.
func (r *Resolver) Resolve(name string) (mcp.Toolset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts, ok := r.sets[name]
	if !ok {
		return nil, fmt.Errorf("unknown toolset %q", name)
	}
	return ts, nil
}
