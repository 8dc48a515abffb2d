package agent

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProviderFactory builds a provider from its spec and resolved API key.
type ProviderFactory func(spec ProviderSpec, apiKey string) (LLMProvider, error)

// ProviderRegistry maps provider kinds ("anthropic", "openai", ...) to
// factories.
type ProviderRegistry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

// NewProviderRegistry creates an empty registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{factories: make(map[string]ProviderFactory)}
}

// Register installs a factory for kind. Kinds are case-insensitive.
func (r *ProviderRegistry) Register(kind string, factory ProviderFactory) error {
	kind = normalizeKind(kind)
	if kind == "" || factory == nil {
		return NewConfigurationError("provider.register", "kind and factory are required", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		return NewConfigurationError("provider.register", fmt.Sprintf("provider kind %q already registered", kind), nil)
	}
	r.factories[kind] = factory
	return nil
}

// Has reports whether kind is registered.
func (r *ProviderRegistry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[normalizeKind(kind)]
	return ok
}

// Kinds lists registered kinds, sorted.
func (r *ProviderRegistry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

// Build creates the provider described by spec.
func (r *ProviderRegistry) Build(spec ProviderSpec, apiKey string) (LLMProvider, error) {
	r.mu.RLock()
	factory, ok := r.factories[normalizeKind(spec.Kind)]
	r.mu.RUnlock()
	if !ok {
		return nil, NewConfigurationError("provider.build",
			fmt.Sprintf("provider %q has unknown kind %q (known: %s)", spec.Name, spec.Kind, strings.Join(r.Kinds(), ", ")), nil)
	}
	provider, err := factory(spec, apiKey)
	if err != nil {
		return nil, NewConfigurationError("provider.build", fmt.Sprintf("provider %q", spec.Name), err)
	}
	return provider, nil
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}
