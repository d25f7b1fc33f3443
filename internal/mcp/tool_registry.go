package mcp

import (
	"sort"
	"sync"
)

// ToolCategory groups tools by the backend they act on.
type ToolCategory string

const (
	CategoryTicket   ToolCategory = "ticket"
	CategoryCodeHost ToolCategory = "codehost"
	CategoryCI       ToolCategory = "ci"
	CategoryDeploy   ToolCategory = "deploy"
	CategoryChat     ToolCategory = "chat"
)

// ToolMetadata describes a registered MCP tool.
type ToolMetadata struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Category    ToolCategory `json:"category"`

	// Mutates is true for tools that change tracker, code host or CI state.
	Mutates bool `json:"mutates"`
}

// ToolRegistry holds metadata for the registered tools.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*ToolMetadata
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*ToolMetadata)}
}

// Register adds a tool. Tools without a name are ignored.
func (r *ToolRegistry) Register(tool *ToolMetadata) {
	if tool == nil || tool.Name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

// Get returns the metadata for name.
func (r *ToolRegistry) Get(name string) (*ToolMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all tools sorted by name.
func (r *ToolRegistry) List() []*ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ToolMetadata, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListByCategory returns the tools in category sorted by name.
func (r *ToolRegistry) ListByCategory(category ToolCategory) []*ToolMetadata {
	var out []*ToolMetadata
	for _, tool := range r.List() {
		if tool.Category == category {
			out = append(out, tool)
		}
	}
	return out
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
