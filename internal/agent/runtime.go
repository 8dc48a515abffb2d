package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	agentctx "github.com/haasonsaas/clawcore/internal/agent/context"
	"github.com/haasonsaas/clawcore/internal/observability"
	"github.com/haasonsaas/clawcore/internal/sessions"
	"github.com/haasonsaas/clawcore/pkg/models"
)

const (
	// DefaultMaxToolIterations bounds tool-call rounds per user turn.
	DefaultMaxToolIterations = 20

	// ProviderUnavailableReply is sent when every provider failed.
	ProviderUnavailableReply = "All providers are unavailable right now; please try again later."
)

// Completer runs one model request. *FallbackChain implements it.
type Completer interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// PromptBuilder assembles the prompt for a model call.
type PromptBuilder interface {
	Build(ctx context.Context, in agentctx.Input) (*agentctx.Prompt, error)
}

// Publisher accepts outbound replies. The bus outbound topic implements it.
type Publisher interface {
	Publish(msg *models.OutboundMessage) error
}

// RuntimeConfig describes one agent.
type RuntimeConfig struct {
	AgentID   string
	AgentName string
	Workspace string

	// Model overrides each provider's configured model when set.
	Model       string
	MaxTokens   int
	Temperature float64

	// ContextTokens is the prompt budget. Zero disables history truncation
	// and the rolling summary of dropped turns.
	ContextTokens int

	// MaxToolIterations bounds tool-call rounds per user turn.
	MaxToolIterations int

	// Tools selects which registered tools this agent may use.
	Tools ToolPolicy
}

// Outcome reports what a call to Handle did.
type Outcome struct {
	SessionID string
	// Command is set when the message was a slash command.
	Command string
	// Turns are the turns appended to the session.
	Turns []models.Turn
	// Reply is the published outbound message, if any.
	Reply *models.OutboundMessage
	// Iterations counts tool-call rounds.
	Iterations int
}

// Runtime drives the turn loop for one agent: build the prompt, call the
// fallback chain, run requested tools and feed the results back until the
// model answers in plain text.
//
// Turns for one session are serialized through the Locker in arrival order.
// New turns are buffered and appended in a single batch at the end of the
// turn, so a cancelled turn leaves no partial record behind.
type Runtime struct {
	config  RuntimeConfig
	chain   Completer
	tools   *ToolExecutor
	store   sessions.Store
	locker  sessions.Locker
	states  *StateTracker
	builder PromptBuilder
	out     Publisher
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time

	inflightMu sync.Mutex
	inflight   map[string]*inflightTurn

	summaryMu  sync.Mutex
	summarized map[string]int
}

type inflightTurn struct {
	cancel context.CancelFunc
}

// RuntimeOption customizes a Runtime.
type RuntimeOption func(*Runtime)

// WithPromptBuilder replaces the default context builder.
func WithPromptBuilder(b PromptBuilder) RuntimeOption {
	return func(r *Runtime) { r.builder = b }
}

// WithPublisher sets where replies are published.
func WithPublisher(p Publisher) RuntimeOption {
	return func(r *Runtime) { r.out = p }
}

// WithRuntimeMetrics records turn metrics.
func WithRuntimeMetrics(m *observability.Metrics) RuntimeOption {
	return func(r *Runtime) { r.metrics = m }
}

// WithRuntimeLogger sets the runtime logger.
func WithRuntimeLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) { r.logger = l }
}

// WithStateTracker shares a state tracker across runtimes.
func WithStateTracker(s *StateTracker) RuntimeOption {
	return func(r *Runtime) { r.states = s }
}

// WithRuntimeClock overrides the clock used for turn timestamps.
func WithRuntimeClock(now func() time.Time) RuntimeOption {
	return func(r *Runtime) { r.now = now }
}

// NewRuntime creates a runtime for one agent.
func NewRuntime(config RuntimeConfig, chain Completer, tools *ToolExecutor, store sessions.Store, locker sessions.Locker, opts ...RuntimeOption) (*Runtime, error) {
	if strings.TrimSpace(config.AgentID) == "" {
		return nil, NewConfigurationError("runtime", "agent id is required", nil)
	}
	if chain == nil {
		return nil, NewConfigurationError("runtime", "agent "+config.AgentID+" has no provider chain", nil)
	}
	if store == nil || locker == nil {
		return nil, NewConfigurationError("runtime", "session store and locker are required", nil)
	}
	if config.MaxToolIterations <= 0 {
		config.MaxToolIterations = DefaultMaxToolIterations
	}
	if tools == nil {
		registry := NewToolRegistry()
		registry.Seal()
		tools = NewToolExecutor(registry, ToolExecConfig{})
	}

	r := &Runtime{
		config:     config,
		chain:      chain,
		tools:      tools,
		store:      store,
		locker:     locker,
		now:        time.Now,
		inflight:   map[string]*inflightTurn{},
		summarized: map[string]int{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default().With("component", "agent")
	}
	r.logger = r.logger.With("agent_id", config.AgentID)
	if r.states == nil {
		r.states = NewStateTracker(nil)
	}
	if r.builder == nil {
		r.builder = agentctx.NewBuilder(agentctx.WithLogger(r.logger))
	}
	return r, nil
}

// AgentID returns the agent this runtime serves.
func (r *Runtime) AgentID() string { return r.config.AgentID }

// Config returns the runtime configuration.
func (r *Runtime) Config() RuntimeConfig { return r.config }

// States exposes the state tracker.
func (r *Runtime) States() *StateTracker { return r.states }

// Cancel interrupts the in-flight turn of a session. It reports whether a
// turn was running.
func (r *Runtime) Cancel(sessionID string) bool {
	r.inflightMu.Lock()
	turn, ok := r.inflight[sessionID]
	r.inflightMu.Unlock()
	if !ok {
		return false
	}
	turn.cancel()
	return true
}

func (r *Runtime) register(sessionID string, cancel context.CancelFunc) func() {
	turn := &inflightTurn{cancel: cancel}
	r.inflightMu.Lock()
	r.inflight[sessionID] = turn
	r.inflightMu.Unlock()
	return func() {
		r.inflightMu.Lock()
		if r.inflight[sessionID] == turn {
			delete(r.inflight, sessionID)
		}
		r.inflightMu.Unlock()
		cancel()
	}
}

// Handle processes one inbound message for a session.
//
// The session must already exist in the store. Provider exhaustion and other
// unrecoverable turn errors are reported to the user as an error reply; the
// error is also returned alongside the Outcome. A cancelled turn appends
// nothing and returns an error wrapping ErrTurnCancelled.
func (r *Runtime) Handle(ctx context.Context, sessionID string, msg *models.InboundMessage) (outcome *Outcome, err error) {
	if msg == nil {
		return nil, NewValidationError("handle", "message is required", nil)
	}
	command := parseCommand(msg.Text)
	if command == "/clear" {
		// /clear must not wait behind the turn it is meant to stop.
		if r.Cancel(sessionID) {
			r.logger.Info("cancelled in-flight turn for /clear", "session_id", sessionID)
		}
	}

	if err := r.locker.Lock(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("lock session %s: %w", sessionID, err)
	}
	defer r.locker.Unlock(sessionID)

	turnCtx, cancel := context.WithCancel(ctx)
	release := r.register(sessionID, cancel)
	defer release()

	defer r.states.Set(sessionID, StateIdle)
	done := r.metrics.TurnStarted()
	defer done()

	turnCtx, span := observability.StartSpan(turnCtx, tracerName, "agent.turn",
		attribute.String("agent.id", r.config.AgentID),
		attribute.String("session.id", sessionID),
		attribute.String("message.origin", string(msg.Origin)),
	)
	defer func() { observability.EndSpan(span, err) }()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in agent turn",
				"session_id", sessionID,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			outcome, err = r.fail(ctx, sessionID, msg, NewExecutionError("turn", fmt.Sprintf("panic: %v", rec), nil))
		}
	}()

	if command != "" {
		return r.runCommand(turnCtx, sessionID, msg, command)
	}
	return r.runTurn(turnCtx, ctx, sessionID, msg)
}

func (r *Runtime) runTurn(turnCtx, parent context.Context, sessionID string, msg *models.InboundMessage) (*Outcome, error) {
	session, err := r.store.Get(turnCtx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	history, err := r.store.Load(turnCtx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", sessionID, err)
	}

	ec := ExecContext{
		AgentID:   r.config.AgentID,
		SessionID: sessionID,
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		Workspace: r.config.Workspace,
		Origin:    msg.Origin,
		Policy:    r.config.Tools,
	}
	toolSpecs := r.tools.Registry().Specs(r.config.Tools)

	pending := []models.Turn{{Role: models.RoleUser, Content: msg.Text, CreatedAt: r.now()}}
	outcome := &Outcome{SessionID: sessionID}

	for {
		r.states.Set(sessionID, StateAwaitingModel)
		prompt, err := r.builder.Build(turnCtx, agentctx.Input{
			AgentID:   r.config.AgentID,
			AgentName: r.config.AgentName,
			Workspace: r.config.Workspace,
			Channel:   msg.Channel,
			ChatID:    msg.ChatID,
			Summary:   session.Summary,
			History:   concatTurns(history, pending),
			Tools:     toolSpecs,
			Budget:    agentctx.Budget{MaxTokens: r.config.ContextTokens},
		})
		if err != nil {
			if turnCtx.Err() != nil {
				return r.cancelled(turnCtx, sessionID)
			}
			return r.fail(parent, sessionID, msg, fmt.Errorf("build prompt: %w", err))
		}

		resp, err := r.chain.Complete(turnCtx, &CompletionRequest{
			Model:       r.config.Model,
			System:      prompt.System,
			Messages:    toCompletionMessages(prompt.Messages),
			Tools:       prompt.Tools,
			MaxTokens:   r.config.MaxTokens,
			Temperature: r.config.Temperature,
		})
		if err != nil {
			if turnCtx.Err() != nil {
				return r.cancelled(turnCtx, sessionID)
			}
			return r.fail(parent, sessionID, msg, err)
		}

		if len(resp.ToolCalls) == 0 {
			r.states.Set(sessionID, StateResponding)
			pending = append(pending, models.Turn{Role: models.RoleAssistant, Content: resp.Text, CreatedAt: r.now()})
			return r.complete(turnCtx, sessionID, session.Summary, history, msg, outcome, pending, resp.Text)
		}

		if outcome.Iterations >= r.config.MaxToolIterations {
			r.states.Set(sessionID, StateResponding)
			text := fmt.Sprintf("Tool-call limit exceeded (%d iterations); stopping this turn.", r.config.MaxToolIterations)
			r.logger.Warn("tool-call limit exceeded",
				"session_id", sessionID,
				"iterations", outcome.Iterations,
			)
			pending = append(pending, models.Turn{Role: models.RoleAssistant, Content: text, CreatedAt: r.now()})
			return r.complete(turnCtx, sessionID, session.Summary, history, msg, outcome, pending, text)
		}

		outcome.Iterations++
		r.states.Set(sessionID, StateExecutingTool)
		calls := make([]models.ToolCall, len(resp.ToolCalls))
		for i, call := range resp.ToolCalls {
			if call.ID == "" {
				call.ID = uuid.NewString()
			}
			calls[i] = call
		}
		pending = append(pending, models.Turn{Role: models.RoleAssistant, Content: resp.Text, ToolCalls: calls, CreatedAt: r.now()})

		results := make([]models.ToolResult, 0, len(calls))
		for _, call := range calls {
			result, err := r.tools.Invoke(turnCtx, call, ec)
			if turnCtx.Err() != nil {
				return r.cancelled(turnCtx, sessionID)
			}
			results = append(results, toolResultFor(call, result, err))
		}
		pending = append(pending, models.Turn{Role: models.RoleTool, ToolResults: results, CreatedAt: r.now()})
	}
}

// complete finishes a successful turn and refreshes the session summary.
func (r *Runtime) complete(ctx context.Context, sessionID, summary string, history []models.Turn, msg *models.InboundMessage, outcome *Outcome, pending []models.Turn, text string) (*Outcome, error) {
	outcome, err := r.finish(ctx, sessionID, msg, outcome, pending, text, false)
	if err != nil {
		return outcome, err
	}
	r.summarize(ctx, sessionID, summary, concatTurns(history, pending))
	return outcome, nil
}

// finish appends the buffered turns and publishes the reply.
func (r *Runtime) finish(ctx context.Context, sessionID string, msg *models.InboundMessage, outcome *Outcome, pending []models.Turn, text string, isError bool) (*Outcome, error) {
	if err := r.store.Append(ctx, sessionID, pending...); err != nil {
		if ctx.Err() != nil {
			return r.cancelled(ctx, sessionID)
		}
		return nil, fmt.Errorf("append turns to %s: %w", sessionID, err)
	}
	outcome.Turns = pending

	reply, err := r.publish(sessionID, msg, text, isError)
	outcome.Reply = reply
	if err != nil {
		return outcome, err
	}
	return outcome, nil
}

// fail records the user turn with an error reply and tells the user.
func (r *Runtime) fail(ctx context.Context, sessionID string, msg *models.InboundMessage, cause error) (*Outcome, error) {
	text := ProviderUnavailableReply
	if !IsKind(cause, KindProviderUnavailable) {
		text = "Sorry, I could not complete that request: " + cause.Error()
	}
	r.logger.Error("agent turn failed",
		"session_id", sessionID,
		"kind", string(KindOf(cause)),
		"error", cause,
	)
	turns := []models.Turn{
		{Role: models.RoleUser, Content: msg.Text, CreatedAt: r.now()},
		{Role: models.RoleAssistant, Content: text, CreatedAt: r.now()},
	}
	outcome := &Outcome{SessionID: sessionID}
	// The turn context may be the thing that failed; persist on the caller's.
	outcome, err := r.finish(ctx, sessionID, msg, outcome, turns, text, true)
	if err != nil {
		return outcome, errors.Join(cause, err)
	}
	return outcome, cause
}

func (r *Runtime) cancelled(ctx context.Context, sessionID string) (*Outcome, error) {
	r.logger.Info("agent turn cancelled; discarding partial turn", "session_id", sessionID)
	return &Outcome{SessionID: sessionID}, fmt.Errorf("%w: %v", ErrTurnCancelled, context.Cause(ctx))
}

func (r *Runtime) publish(sessionID string, msg *models.InboundMessage, text string, isError bool) (*models.OutboundMessage, error) {
	reply := &models.OutboundMessage{
		ID:        uuid.NewString(),
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		Text:      text,
		ReplyTo:   msg.ID,
		SessionID: sessionID,
		AgentID:   r.config.AgentID,
		IsError:   isError,
		CreatedAt: r.now(),
	}
	if msg.Origin == models.OriginSubagent {
		// The reply lands in the chat that spawned the task.
		reply.Text = fmt.Sprintf("Subagent %q (%s) reports:\n\n%s", msg.SenderName, r.config.AgentID, text)
		reply.Metadata = map[string]any{"origin": string(models.OriginSubagent), "spawn_id": msg.Metadata["spawn_id"]}
	}
	if r.out == nil {
		return reply, nil
	}
	if err := r.out.Publish(reply); err != nil {
		r.logger.Warn("failed to publish reply",
			"session_id", sessionID,
			"channel", string(msg.Channel),
			"error", err,
		)
		return reply, fmt.Errorf("publish reply: %w", err)
	}
	r.metrics.MessageSent(string(msg.Channel))
	return reply, nil
}

func (r *Runtime) runCommand(ctx context.Context, sessionID string, msg *models.InboundMessage, command string) (*Outcome, error) {
	r.states.Set(sessionID, StateResponding)
	outcome := &Outcome{SessionID: sessionID, Command: command}

	var text string
	switch command {
	case "/clear":
		if err := r.store.Truncate(ctx, sessionID); err != nil {
			return nil, fmt.Errorf("clear session %s: %w", sessionID, err)
		}
		r.markSummarized(sessionID, 0)
		text = "Conversation history cleared."
	case "/help":
		text = helpText
	case "/tools":
		specs := r.tools.Registry().Specs(r.config.Tools)
		names := make([]string, len(specs))
		for i, spec := range specs {
			names[i] = spec.Name
		}
		text = fmt.Sprintf("Tools (%d): %s", len(names), strings.Join(names, ", "))
	case "/status":
		text = r.statusText()
	}

	reply, err := r.publish(sessionID, msg, text, false)
	outcome.Reply = reply
	return outcome, err
}

const helpText = `Available commands:
/help   - Show this help
/clear  - Clear the conversation history
/status - Show provider health
/tools  - List available tools`

type healthReporter interface {
	Health() *HealthTracker
}

func (r *Runtime) statusText() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Agent: %s\n", r.config.AgentID)
	fmt.Fprintf(&sb, "Active turns: %d", r.states.Active())
	hr, ok := r.chain.(healthReporter)
	if !ok || hr.Health() == nil {
		return sb.String()
	}
	sb.WriteString("\nProviders:")
	now := hr.Health().Now()
	for _, h := range hr.Health().Snapshot() {
		status := "available"
		if h.CoolingDownUntil.After(now) {
			status = "cooling down until " + h.CoolingDownUntil.Format(time.RFC3339)
		}
		fmt.Fprintf(&sb, "\n- %s: %s (failures: %d)", h.Name, status, h.ConsecutiveFailures)
	}
	return sb.String()
}

var commands = map[string]bool{"/clear": true, "/help": true, "/status": true, "/tools": true}

func parseCommand(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	cmd := strings.ToLower(fields[0])
	// Telegram appends the bot name in groups: /help@clawbot.
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		cmd = cmd[:at]
	}
	if commands[cmd] {
		return cmd
	}
	return ""
}

// Commands lists the slash commands the runtime handles.
func Commands() []string {
	out := make([]string, 0, len(commands))
	for cmd := range commands {
		out = append(out, cmd)
	}
	sort.Strings(out)
	return out
}

func toolResultFor(call models.ToolCall, result *ToolResult, err error) models.ToolResult {
	if err != nil {
		return models.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
	}
	if result == nil {
		return models.ToolResult{ToolCallID: call.ID}
	}
	return models.ToolResult{ToolCallID: call.ID, Content: result.Content, IsError: result.IsError}
}

func toCompletionMessages(turns []models.Turn) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(turns))
	for _, turn := range turns {
		out = append(out, CompletionMessage{
			Role:        string(turn.Role),
			Content:     turn.Content,
			ToolCalls:   turn.ToolCalls,
			ToolResults: turn.ToolResults,
		})
	}
	return out
}

func concatTurns(history, pending []models.Turn) []models.Turn {
	out := make([]models.Turn, 0, len(history)+len(pending))
	out = append(out, history...)
	return append(out, pending...)
}
