// Package providers adapts vendor LLM APIs to agent.LLMProvider.
package providers

import (
	"context"
	"sort"

	"github.com/haasonsaas/clawcore/internal/agent"
)

// RegisterBuiltins installs every built-in provider kind on reg.
func RegisterBuiltins(reg *agent.ProviderRegistry) error {
	if err := reg.Register("anthropic", func(spec agent.ProviderSpec, apiKey string) (agent.LLMProvider, error) {
		return NewAnthropicProvider(AnthropicConfig{
			Name:    spec.Name,
			APIKey:  apiKey,
			BaseURL: spec.BaseURL,
			Model:   spec.Model,
		})
	}); err != nil {
		return err
	}

	if err := reg.Register("gemini", func(spec agent.ProviderSpec, apiKey string) (agent.LLMProvider, error) {
		return NewGoogleProvider(context.Background(), GoogleConfig{
			Name:    spec.Name,
			APIKey:  apiKey,
			BaseURL: spec.BaseURL,
			Model:   spec.Model,
		})
	}); err != nil {
		return err
	}

	kinds := make([]string, 0, len(openAIKinds))
	for kind := range openAIKinds {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		kind := kind
		if err := reg.Register(kind, func(spec agent.ProviderSpec, apiKey string) (agent.LLMProvider, error) {
			return NewOpenAIProvider(OpenAIConfig{
				Kind:    kind,
				Name:    spec.Name,
				APIKey:  apiKey,
				BaseURL: spec.BaseURL,
				Model:   spec.Model,
			})
		}); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry with the built-in kinds installed.
func NewRegistry() *agent.ProviderRegistry {
	reg := agent.NewProviderRegistry()
	if err := RegisterBuiltins(reg); err != nil {
		// Built-in kinds are unique; a failure here is a programming error.
		panic(err)
	}
	return reg
}
