// Package files provides workspace-scoped file tools.
package files

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/clawcore/internal/agent"
	"github.com/haasonsaas/clawcore/pkg/models"
)

// Config controls filesystem tool defaults.
type Config struct {
	// Workspace is used when the call carries no agent workspace.
	Workspace string

	// RestrictToWorkspace confines every path to the workspace.
	RestrictToWorkspace bool

	MaxReadBytes int
}

// Tools returns every file tool built from cfg.
func Tools(cfg Config) []agent.Tool {
	return []agent.Tool{
		NewReadTool(cfg),
		NewWriteTool(cfg),
		NewAppendTool(cfg),
		NewEditTool(cfg),
		NewListTool(cfg),
	}
}

type base struct {
	cfg Config
}

func (b base) Capability() models.Capability { return models.CapabilityFile }

// resolver scopes paths to the workspace of the calling agent.
func (b base) resolver(ctx context.Context) Resolver {
	root := b.cfg.Workspace
	if ec, ok := agent.ExecContextFrom(ctx); ok && ec.Workspace != "" {
		root = ec.Workspace
	}
	return Resolver{Root: root, AllowOutside: !b.cfg.RestrictToWorkspace}
}

func mustSchema(schema map[string]interface{}) json.RawMessage {
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func jsonResult(v interface{}) (*agent.ToolResult, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("encode result: " + err.Error()), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

func toolError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}

// resolveError passes policy errors through so the executor can log denials,
// and turns everything else into a tool-level error.
func resolveError(err error) (*agent.ToolResult, error) {
	if agent.IsKind(err, agent.KindDenied) {
		return nil, err
	}
	return toolError(err.Error()), nil
}
