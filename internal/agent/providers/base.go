package providers

import (
	"context"
	"strings"
	"time"

	"github.com/haasonsaas/clawcore/internal/agent"
	"github.com/haasonsaas/clawcore/internal/backoff"
)

// BaseProvider holds the identity and in-provider retry settings shared by
// every adapter. Retries here cover brief transient blips; switching to
// another provider is the fallback chain's job.
type BaseProvider struct {
	name       string
	model      string
	maxRetries int
	policy     backoff.Policy
}

// NewBaseProvider creates a base provider. maxRetries counts extra attempts
// after the first; zero disables retries.
func NewBaseProvider(name, model string, maxRetries int) BaseProvider {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return BaseProvider{
		name:       name,
		model:      model,
		maxRetries: maxRetries,
		policy:     backoff.Policy{Initial: 500 * time.Millisecond, Max: 4 * time.Second, Factor: 2, Jitter: 0.2},
	}
}

// Name implements agent.LLMProvider.
func (b *BaseProvider) Name() string { return b.name }

// Model returns the configured default model.
func (b *BaseProvider) Model() string { return b.model }

func (b *BaseProvider) modelFor(req *agent.CompletionRequest) string {
	if req != nil && strings.TrimSpace(req.Model) != "" {
		return req.Model
	}
	return b.model
}

// Retry runs op until it succeeds, fails with a non-transient error or the
// retry budget is spent.
func (b *BaseProvider) Retry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			if err := backoff.Sleep(ctx, b.policy.Compute(attempt)); err != nil {
				return err
			}
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		providerErr, ok := GetProviderError(lastErr)
		if !ok || !providerErr.Reason.IsRetryable() {
			return lastErr
		}
	}
	return lastErr
}
