// Tool registration and lookup.
//
// Information Hiding:
// - Storage and locking internal
// - Schema translation to provider definitions internal

package tools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/laundryguy77/PeanutChat-sub000/llm"
)

// Registry holds the tools a turn may dispatch. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool. Names are unique; registering a duplicate errors.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Metadata().Name
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool '%s' already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	return tool, exists
}

// Has reports whether a tool name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Definitions returns LLM tool definitions for every registered
// tool, in sorted name order, ready to pass on a stream request.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, toolDefinition(r.tools[name].Metadata()))
	}
	return defs
}

// toolDefinition translates tool metadata into the JSON-schema shape
// providers expect for tool declarations.
func toolDefinition(meta ToolMetadata) llm.ToolDefinition {
	properties := make(map[string]interface{}, len(meta.Parameters))
	var required []string
	for _, p := range meta.Parameters {
		properties[p.Name] = map[string]interface{}{
			"type":        p.ParamType,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return llm.ToolDefinition{
		Name:        meta.Name,
		Description: meta.Description,
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
	}
}

// WithDefaults creates a registry with the builtin tool set.
func WithDefaults() (*Registry, error) {
	registry := NewRegistry()

	builtins := []Tool{
		NewCurrentTimeTool(),
		NewCalculatorTool(),
		NewHTTPFetchTool(DefaultFetchTimeout),
	}

	for _, t := range builtins {
		if err := registry.Register(t); err != nil {
			return nil, fmt.Errorf("failed to register default tools: %w", err)
		}
	}

	return registry, nil
}
