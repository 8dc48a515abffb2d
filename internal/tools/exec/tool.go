// Package exec provides the shell execution tool.
package exec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/clawcore/internal/agent"
	"github.com/haasonsaas/clawcore/internal/tools/files"
	"github.com/haasonsaas/clawcore/internal/tools/security"
	"github.com/haasonsaas/clawcore/pkg/models"
)

const (
	defaultTimeout   = 120 * time.Second
	defaultMaxOutput = 30000
)

// Config controls the exec tool.
type Config struct {
	// Workspace is used when the call carries no agent workspace.
	Workspace           string
	RestrictToWorkspace bool

	// Timeout caps every command. Callers may ask for less, never more.
	Timeout   time.Duration
	MaxOutput int

	// Policy is the command deny list. A nil policy denies nothing.
	Policy *security.CommandPolicy
	Logger *slog.Logger
}

// Tool runs shell commands in the agent workspace.
type Tool struct {
	cfg    Config
	logger *slog.Logger
}

// NewTool creates the exec tool.
func NewTool(cfg Config) *Tool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = defaultMaxOutput
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "tools.exec")
	}
	return &Tool{cfg: cfg, logger: logger}
}

func (t *Tool) Name() string { return "exec" }

func (t *Tool) Description() string {
	return "Execute a shell command in the workspace directory and return its output."
}

func (t *Tool) Capability() models.Capability { return models.CapabilityExec }

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute.",
			},
			"cwd": map[string]interface{}{
				"type":        "string",
				"description": "Working directory (relative to workspace).",
			},
			"timeout_seconds": map[string]interface{}{
				"type":        "integer",
				"description": "Timeout in seconds (default: tool limit).",
				"minimum":     1,
			},
		},
		"required": []string{"command"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Command        string `json:"command"`
		Cwd            string `json:"cwd"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return toolError("command is required"), nil
	}

	// The deny list runs before anything touches the shell.
	if err := t.cfg.Policy.Check(command); err != nil {
		return nil, err
	}

	root := t.cfg.Workspace
	if ec, ok := agent.ExecContextFrom(ctx); ok && ec.Workspace != "" {
		root = ec.Workspace
	}
	cwd := input.Cwd
	if cwd == "" {
		cwd = "."
	}
	// Commands always start inside the workspace, even when file tools may
	// reach outside it.
	dir, err := files.Resolver{Root: root}.Resolve(cwd)
	if err != nil {
		if agent.IsKind(err, agent.KindDenied) {
			return nil, err
		}
		return toolError(err.Error()), nil
	}

	timeout := t.cfg.Timeout
	if requested := time.Duration(input.TimeoutSeconds) * time.Second; requested > 0 && requested < timeout {
		timeout = requested
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := run(runCtx, command, dir, t.cfg.MaxOutput)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			t.logger.Info("command timed out", "timeout", timeout)
			return nil, agent.NewTimeoutError("tools.exec", fmt.Sprintf("Command timed out after %s", timeout), err)
		default:
			return toolError(err.Error()), nil
		}
	}
	t.logger.Debug("command finished", "exit_code", result.ExitCode, "duration", result.Duration)
	return &agent.ToolResult{Content: result.Format(t.cfg.MaxOutput)}, nil
}

func toolError(message string) *agent.ToolResult {
	return &agent.ToolResult{Content: message, IsError: true}
}
