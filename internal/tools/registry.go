// Package tools defines the tool surface exposed to agents: a registry with
// role-scoped views, the built-in messaging and kernel tool schemas, and the
// self-contained tools (web search, python, artifacts, processes).
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/crewd/internal/providers"
)

// Tool is the interface all tools implement.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Role selects which slice of the registry an agent sees.
type Role int

const (
	// RoleCollaborator sees the general tools only.
	RoleCollaborator Role = iota
	// RoleLeader additionally sees the kernel system tools.
	RoleLeader
)

// Registry holds all registered tools keyed by name. System tools are
// visible to the leader only.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	system map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		system: make(map[string]bool),
	}
}

// Register adds a tool. Re-registering a name replaces the previous tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// RegisterSystem adds a leader-only kernel tool.
func (r *Registry) RegisterSystem(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	r.system[t.Name()] = true
}

// Get returns the tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// IsSystem reports whether name is a kernel system tool.
func (r *Registry) IsSystem(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.system[name]
}

// View returns the tools visible to a role, sorted by name.
func (r *Registry) View(role Role) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for name, t := range r.tools {
		if r.system[name] && role != RoleLeader {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Definitions converts a role's view into provider tool definitions.
func (r *Registry) Definitions(role Role) []providers.ToolDefinition {
	view := r.View(role)
	defs := make([]providers.ToolDefinition, 0, len(view))
	for _, t := range view {
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute dispatches a call to the named tool. Unknown names return an
// error result rather than failing the caller.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	t, ok := r.Get(name)
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}
	return t.Execute(ctx, args)
}

// PromptFragment renders a role's tool catalog for inclusion in a system
// prompt.
func (r *Registry) PromptFragment(role Role) string {
	var sb strings.Builder
	for _, t := range r.View(role) {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", t.Name(), t.Description()))
	}
	return sb.String()
}
