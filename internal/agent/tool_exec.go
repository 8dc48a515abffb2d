package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/clawcore/internal/observability"
	"github.com/haasonsaas/clawcore/pkg/models"
)

// DefaultToolTimeout bounds a tool run when no override is configured.
const DefaultToolTimeout = 30 * time.Second

// ToolExecConfig configures tool execution.
type ToolExecConfig struct {
	// Timeout is the default per-invocation timeout.
	// Default: 30 seconds.
	Timeout time.Duration

	// Overrides maps a tool name to its own timeout.
	Overrides map[string]time.Duration
}

// ToolExecutor validates, authorizes and runs tool calls.
type ToolExecutor struct {
	registry *ToolRegistry
	config   ToolExecConfig
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// ToolExecOption configures a ToolExecutor.
type ToolExecOption func(*ToolExecutor)

// WithToolMetrics records executions on m.
func WithToolMetrics(m *observability.Metrics) ToolExecOption {
	return func(e *ToolExecutor) { e.metrics = m }
}

// WithToolLogger sets the executor logger.
func WithToolLogger(l *slog.Logger) ToolExecOption {
	return func(e *ToolExecutor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewToolExecutor creates an executor over registry.
func NewToolExecutor(registry *ToolRegistry, config ToolExecConfig, opts ...ToolExecOption) *ToolExecutor {
	if config.Timeout <= 0 {
		config.Timeout = DefaultToolTimeout
	}
	e := &ToolExecutor{
		registry: registry,
		config:   config,
		logger:   slog.Default().With("component", "tools"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the underlying registry.
func (e *ToolExecutor) Registry() *ToolRegistry {
	return e.registry
}

func (e *ToolExecutor) timeoutFor(name string) time.Duration {
	if d, ok := e.config.Overrides[name]; ok && d > 0 {
		return d
	}
	return e.config.Timeout
}

// Invoke runs one tool call. Checks happen in a fixed order: unknown tool,
// policy, schema, then execution under a timeout. A panic in the handler is
// recovered into an execution error. The returned error is always an *Error
// unless ctx itself was cancelled.
func (e *ToolExecutor) Invoke(ctx context.Context, call models.ToolCall, ec ExecContext) (result *ToolResult, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, tracerName, "tool.invoke",
		attribute.String("tool", call.Name),
		attribute.String("session_id", ec.SessionID),
	)
	defer func() {
		observability.EndSpan(span, err)
		e.record(call.Name, ec, start, result, err)
	}()

	entry, ok := e.registry.lookup(call.Name)
	if !ok {
		return nil, NewValidationError("tool.invoke", fmt.Sprintf("unknown tool %q", call.Name), ErrToolNotFound)
	}
	if !ec.Policy.Allows(call.Name) {
		return nil, NewDeniedError("tool.invoke", fmt.Sprintf("tool %q is not enabled for agent %q", call.Name, ec.AgentID))
	}
	input, verr := validateToolInput(entry.schema, call.Input)
	if verr != nil {
		return nil, NewValidationError("tool.invoke", call.Name, verr)
	}

	timeout := e.timeoutFor(call.Name)
	toolCtx, cancel := context.WithTimeout(WithExecContext(ctx, ec), timeout)
	defer cancel()

	type outcome struct {
		result *ToolResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("tool panicked",
					"tool", call.Name,
					"session_id", ec.SessionID,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				done <- outcome{err: NewExecutionError("tool.invoke", fmt.Sprintf("%s panicked: %v", call.Name, r), ErrToolPanic)}
			}
		}()
		res, runErr := entry.tool.Execute(toolCtx, input)
		done <- outcome{result: res, err: runErr}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if KindOf(out.err) != "" {
				return nil, out.err
			}
			if errors.Is(toolCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, NewTimeoutError("tool.invoke", fmt.Sprintf("%s timed out after %s", call.Name, timeout), out.err)
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, NewExecutionError("tool.invoke", call.Name, out.err)
		}
		if out.result == nil {
			return &ToolResult{}, nil
		}
		return out.result, nil
	case <-toolCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewTimeoutError("tool.invoke", fmt.Sprintf("%s timed out after %s", call.Name, timeout), toolCtx.Err())
	}
}

func (e *ToolExecutor) record(name string, ec ExecContext, start time.Time, result *ToolResult, err error) {
	elapsed := time.Since(start)
	status := "success"
	switch {
	case err == nil && result != nil && result.IsError:
		status = "error"
	case err != nil:
		status = toolStatus(err)
	}
	e.metrics.RecordToolExecution(name, status, elapsed.Seconds())

	attrs := []any{
		"tool", name,
		"agent_id", ec.AgentID,
		"session_id", ec.SessionID,
		"duration_ms", elapsed.Milliseconds(),
	}
	switch KindOf(err) {
	case "":
		if err != nil {
			e.logger.Debug("tool cancelled", append(attrs, "error", err)...)
		} else {
			e.logger.Debug("tool executed", append(attrs, "is_error", result != nil && result.IsError)...)
		}
	case KindDenied:
		e.logger.Warn("tool call denied", append(attrs, "error", err)...)
	default:
		e.logger.Info("tool call failed", append(attrs, "error", err)...)
	}
}

func toolStatus(err error) string {
	switch KindOf(err) {
	case KindDenied:
		return "denied"
	case KindTimeout:
		return "timeout"
	case KindValidation:
		return "invalid"
	case "":
		return "cancelled"
	default:
		return "error"
	}
}
