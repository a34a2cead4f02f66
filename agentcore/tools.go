package agentcore

import (
	"context"
	"encoding/json"
	"sync"
)

// ToolStatus reports whether a tool execution succeeded.
type ToolStatus string

const (
	ToolOK    ToolStatus = "ok"
	ToolError ToolStatus = "error"
)

// ToolResult is the outcome of executing one tool call.
type ToolResult struct {
	CallID  string     `json:"call_id"`
	Status  ToolStatus `json:"status"`
	Output  string     `json:"output,omitempty"`
	Message string     `json:"message,omitempty"`
}

// ToolExecutor executes a tool with parsed arguments.
type ToolExecutor func(ctx context.Context, args json.RawMessage) (string, error)

// ToolSpec describes a tool for the model (serializable metadata) plus
// its dispatch classification.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
	ReadOnly    bool                   `json:"read_only"`
}

// RegisteredTool pairs a tool spec with its executor.
type RegisteredTool struct {
	Spec     ToolSpec
	Executor ToolExecutor
}

// readOnlyNames is the static classification for well-known tools.
// Unknown tool names default to mutating.
var readOnlyNames = map[string]bool{
	"read_file": true,
	"grep":      true,
	"glob":      true,
	"list_dir":  true,
}

// IsReadOnlyName reports the static read-only classification by name.
func IsReadOnlyName(name string) bool {
	return readOnlyNames[name]
}

// ToolRegistry manages tool registration and lookup.
type ToolRegistry struct {
	tools map[string]*RegisteredTool
	mu    sync.RWMutex
}

// NewToolRegistry creates an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*RegisteredTool)}
}

// Register adds or replaces a tool in the registry.
func (r *ToolRegistry) Register(tool RegisteredTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Spec.Name] = &tool
}

// Unregister removes a tool from the registry.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a registered tool by name, or nil if not found.
func (r *ToolRegistry) Get(name string) *RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// IsMutating reports whether a named tool has side effects. Registered
// tools use their spec's flag; unregistered names fall back to the
// static classification, defaulting to mutating.
func (r *ToolRegistry) IsMutating(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tool, ok := r.tools[name]; ok {
		return !tool.Spec.ReadOnly
	}
	return !IsReadOnlyName(name)
}

// Specs returns all tool specs (for sending to the model).
func (r *ToolRegistry) Specs() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(r.tools))
	for _, tool := range r.tools {
		specs = append(specs, tool.Spec)
	}
	return specs
}

// Names returns the names of all registered tools.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Clone returns a copy of the registry.
func (r *ToolRegistry) Clone() *ToolRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := NewToolRegistry()
	for name, tool := range r.tools {
		cloned := *tool
		clone.tools[name] = &cloned
	}
	return clone
}

// ParseToolArgs unmarshals tool call arguments into a map for
// validation and access.
func ParseToolArgs(raw json.RawMessage) (map[string]interface{}, error) {
	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return args, nil
}
