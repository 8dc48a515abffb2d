package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/clawcore/internal/backoff"
	"github.com/haasonsaas/clawcore/internal/observability"
)

const tracerName = "github.com/haasonsaas/clawcore/internal/agent"

// FailoverConfig configures the fallback chain and its cooldowns.
type FailoverConfig struct {
	// FailureThreshold is the consecutive failure count that starts a cooldown.
	FailureThreshold int

	// CooldownInitial is the first cooldown length.
	CooldownInitial time.Duration

	// CooldownFactor multiplies the cooldown for each further failure.
	CooldownFactor float64

	// CooldownMax caps the cooldown length.
	CooldownMax time.Duration

	// PerProviderTimeout bounds each provider attempt.
	PerProviderTimeout time.Duration

	// FailoverOnNonRetryable moves on to the next provider after errors such
	// as auth or invalid request instead of surfacing them immediately.
	FailoverOnNonRetryable bool
}

// DefaultFailoverConfig returns the defaults used when configuration omits them.
func DefaultFailoverConfig() FailoverConfig {
	cooldown := backoff.CooldownPolicy()
	return FailoverConfig{
		FailureThreshold:   1,
		CooldownInitial:    cooldown.Initial,
		CooldownFactor:     cooldown.Factor,
		CooldownMax:        cooldown.Max,
		PerProviderTimeout: 2 * time.Minute,
	}
}

func (c FailoverConfig) withDefaults() FailoverConfig {
	def := DefaultFailoverConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.CooldownInitial <= 0 {
		c.CooldownInitial = def.CooldownInitial
	}
	if c.CooldownFactor < 1 {
		c.CooldownFactor = def.CooldownFactor
	}
	if c.CooldownMax <= 0 {
		c.CooldownMax = def.CooldownMax
	}
	if c.PerProviderTimeout <= 0 {
		c.PerProviderTimeout = def.PerProviderTimeout
	}
	return c
}

// HealthConfig derives the tracker configuration from the failover settings.
func (c FailoverConfig) HealthConfig(clock Clock) HealthConfig {
	c = c.withDefaults()
	return HealthConfig{
		FailureThreshold: c.FailureThreshold,
		Cooldown: backoff.Policy{
			Initial: c.CooldownInitial,
			Max:     c.CooldownMax,
			Factor:  c.CooldownFactor,
		},
		Clock: clock,
	}
}

// Attempt records what happened to one provider during a Complete call.
type Attempt struct {
	Provider string        `json:"provider"`
	Skipped  bool          `json:"skipped,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// ClassifiedError is implemented by provider errors that know whether a
// retry against another provider may succeed.
type ClassifiedError interface {
	error
	Retryable() bool
	FailoverReason() string
}

// FallbackChain tries providers in order, skipping those in cooldown.
type FallbackChain struct {
	providers []LLMProvider
	health    *HealthTracker
	config    FailoverConfig
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// ChainOption configures a FallbackChain.
type ChainOption func(*FallbackChain)

// WithChainMetrics records attempts on m.
func WithChainMetrics(m *observability.Metrics) ChainOption {
	return func(c *FallbackChain) { c.metrics = m }
}

// WithChainLogger sets the chain logger.
func WithChainLogger(l *slog.Logger) ChainOption {
	return func(c *FallbackChain) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewFallbackChain builds a chain over providers sharing the given tracker.
func NewFallbackChain(providers []LLMProvider, health *HealthTracker, config FailoverConfig, opts ...ChainOption) (*FallbackChain, error) {
	if len(providers) == 0 {
		return nil, NewConfigurationError("failover", "fallback chain needs at least one provider", nil)
	}
	if health == nil {
		return nil, NewConfigurationError("failover", "fallback chain needs a health tracker", nil)
	}
	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		if seen[p.Name()] {
			return nil, NewConfigurationError("failover", fmt.Sprintf("provider %q listed twice", p.Name()), nil)
		}
		seen[p.Name()] = true
		health.Register(p.Name())
	}
	c := &FallbackChain{
		providers: append([]LLMProvider(nil), providers...),
		health:    health,
		config:    config.withDefaults(),
		logger:    slog.Default().With("component", "failover"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Providers returns the provider names in chain order.
func (c *FallbackChain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Health returns the shared tracker.
func (c *FallbackChain) Health() *HealthTracker {
	return c.health
}

// Complete returns the first successful provider response. Each provider is
// invoked at most once. When every provider fails or is cooling down a
// provider-unavailable error carrying the attempts is returned.
func (c *FallbackChain) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	attempts := make([]Attempt, 0, len(c.providers))
	var lastErr error

	for _, provider := range c.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := provider.Name()
		model := modelOf(provider, req)

		now := c.health.Now()
		if cooling, until := c.health.CoolingDown(name, now); cooling {
			attempts = append(attempts, Attempt{
				Provider: name,
				Skipped:  true,
				Reason:   "cooldown",
				Error:    fmt.Sprintf("cooling down until %s", until.Format(time.RFC3339)),
			})
			c.metrics.RecordLLMRequest(name, model, "skipped", 0)
			c.logger.Debug("skipping provider in cooldown", "provider", name, "until", until)
			continue
		}

		start := time.Now()
		resp, err := c.attempt(ctx, provider, req)
		elapsed := time.Since(start)
		if err == nil {
			c.health.RecordSuccess(name)
			if resp.Provider == "" {
				resp.Provider = name
			}
			if resp.Model != "" {
				model = resp.Model
			}
			c.metrics.RecordLLMRequest(name, model, "success", elapsed.Seconds())
			c.metrics.RecordTokens(name, model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
			return resp, nil
		}

		// Cancellation of the turn is not the provider's fault.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		reason, retryable := classifyFailure(err)
		c.metrics.RecordLLMRequest(name, model, "error", elapsed.Seconds())
		if until, cooled := c.health.RecordFailure(name, err, reason); cooled {
			c.metrics.RecordCooldown(name)
			c.logger.Warn("provider entered cooldown",
				"provider", name,
				"reason", reason,
				"until", until,
			)
		}
		attempts = append(attempts, Attempt{
			Provider: name,
			Reason:   reason,
			Duration: elapsed,
			Error:    err.Error(),
		})
		lastErr = err

		if !retryable && !c.config.FailoverOnNonRetryable {
			c.logger.Warn("provider failed with non-retryable error",
				"provider", name,
				"reason", reason,
				"error", err,
			)
			return nil, err
		}
		c.logger.Info("provider failed; trying next",
			"provider", name,
			"reason", reason,
			"error", err,
		)
	}

	return nil, NewProviderUnavailableError(attempts, lastErr)
}

type completion struct {
	resp *CompletionResponse
	err  error
}

// attempt runs one provider call under the per-provider timeout. The call
// runs in its own goroutine so a provider that ignores ctx cannot stall the
// chain past its deadline.
func (c *FallbackChain) attempt(ctx context.Context, provider LLMProvider, req *CompletionRequest) (resp *CompletionResponse, err error) {
	ctx, span := observability.StartSpan(ctx, tracerName, "provider.complete",
		attribute.String("provider", provider.Name()),
		attribute.String("model", modelOf(provider, req)),
	)
	defer func() { observability.EndSpan(span, err) }()

	attemptCtx, cancel := context.WithTimeout(ctx, c.config.PerProviderTimeout)
	defer cancel()

	done := make(chan completion, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- completion{err: fmt.Errorf("provider %s panicked: %v", provider.Name(), r)}
			}
		}()
		resp, err := provider.Complete(attemptCtx, req)
		done <- completion{resp: resp, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, NewTimeoutError("provider.complete", provider.Name()+" timed out", out.err)
			}
			return nil, out.err
		}
		if out.resp == nil {
			return nil, fmt.Errorf("provider %s returned no response", provider.Name())
		}
		return out.resp, nil
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewTimeoutError("provider.complete",
			fmt.Sprintf("%s did not respond within %s", provider.Name(), c.config.PerProviderTimeout),
			attemptCtx.Err())
	}
}

// classifyFailure maps an attempt error to a reason and whether the next
// provider may succeed. Unclassified errors are treated as retryable.
func classifyFailure(err error) (string, bool) {
	if IsKind(err, KindTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return "timeout", true
	}
	var classified ClassifiedError
	if errors.As(err, &classified) {
		return classified.FailoverReason(), classified.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return "connection", true
	}
	return "unknown", true
}

// modelLabeler is implemented by providers that know their configured model.
type modelLabeler interface {
	Model() string
}

func modelOf(p LLMProvider, req *CompletionRequest) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	if m, ok := p.(modelLabeler); ok {
		return m.Model()
	}
	return ""
}
