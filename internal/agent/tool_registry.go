package agent

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/clawcore/pkg/models"
)

// MaxToolNameLength is the maximum length of a tool name.
const MaxToolNameLength = 64

type registeredTool struct {
	tool   Tool
	schema *jsonschema.Schema
}

// ToolRegistry holds the declared tools. Registration happens at startup;
// after Seal the registry is read-only and safe for concurrent lookup.
type ToolRegistry struct {
	mu     sync.RWMutex
	tools  map[string]registeredTool
	sealed bool
}

// NewToolRegistry creates a new empty tool registry ready for tool registration.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]registeredTool),
	}
}

// Register adds a tool. Its schema is compiled up front so a malformed schema
// is a configuration error rather than a runtime surprise.
func (r *ToolRegistry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return NewConfigurationError("tools.register", fmt.Sprintf("invalid tool name %q", name), nil)
	}
	schema, err := compileToolSchema(name, tool.Schema())
	if err != nil {
		return NewConfigurationError("tools.register", "invalid tool schema", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrRegistrySealed
	}
	if _, exists := r.tools[name]; exists {
		return NewConfigurationError("tools.register", fmt.Sprintf("tool %q registered twice", name), nil)
	}
	r.tools[name] = registeredTool{tool: tool, schema: schema}
	return nil
}

// Seal freezes the registry.
func (r *ToolRegistry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether Seal has been called.
func (r *ToolRegistry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Get returns a tool by name and a boolean indicating if it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[name]
	return entry.tool, ok
}

func (r *ToolRegistry) lookup(name string) (registeredTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[name]
	return entry, ok
}

// Names returns every declared tool name, sorted.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns the declarations of the tools policy enables, sorted by name.
func (r *ToolRegistry) Specs(policy ToolPolicy) []models.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]models.ToolSpec, 0, len(r.tools))
	for name, entry := range r.tools {
		if !policy.Allows(name) {
			continue
		}
		specs = append(specs, SpecOf(entry.tool))
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// ToolPolicy decides which declared tools an agent may call.
//
// An empty Allow list (or one containing "*") enables every declared tool.
// Deny always wins.
type ToolPolicy struct {
	Allow []string
	Deny  []string
}

// Allows reports whether the named tool is enabled.
func (p ToolPolicy) Allows(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, d := range p.Deny {
		if strings.EqualFold(strings.TrimSpace(d), name) {
			return false
		}
	}
	if len(p.Allow) == 0 {
		return true
	}
	for _, a := range p.Allow {
		a = strings.TrimSpace(a)
		if a == "*" || strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}
