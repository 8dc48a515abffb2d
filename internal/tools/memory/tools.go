// Package memory exposes the agent memory store as tools.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/clawcore/internal/agent"
	memstore "github.com/haasonsaas/clawcore/internal/memory"
	"github.com/haasonsaas/clawcore/pkg/models"
)

const maxRecentDays = 30

// Store is the subset of the memory store the tools use.
type Store interface {
	ReadLongTerm(ctx context.Context, agentID string) (string, error)
	WriteLongTerm(ctx context.Context, agentID, content string) error
	AppendLongTerm(ctx context.Context, agentID, text string) error
	ReadDaily(ctx context.Context, agentID string, date time.Time) (string, error)
	AppendDaily(ctx context.Context, agentID, text string) error
	RecentDaily(ctx context.Context, agentID string, days int) ([]memstore.DailyNote, error)
}

// ReadTool reads long-term memory or daily notes.
type ReadTool struct {
	store Store
	now   func() time.Time
}

// WriteTool updates long-term memory or appends a daily note.
type WriteTool struct {
	store Store
}

// NewReadTool creates memory_read.
func NewReadTool(store Store) *ReadTool {
	return &ReadTool{store: store, now: time.Now}
}

// NewWriteTool creates memory_write.
func NewWriteTool(store Store) *WriteTool {
	return &WriteTool{store: store}
}

func (t *ReadTool) Name() string                  { return "memory_read" }
func (t *ReadTool) Capability() models.Capability { return models.CapabilityMemory }
func (t *ReadTool) Description() string {
	return "Read your long-term memory (MEMORY.md) or daily notes."
}

func (t *ReadTool) Schema() json.RawMessage {
	return mustSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"scope": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"long_term", "today", "recent"},
				"description": "What to read (default: long_term).",
			},
			"days": map[string]interface{}{
				"type":        "integer",
				"minimum":     1,
				"maximum":     maxRecentDays,
				"description": "Days of notes for scope=recent (default: 7).",
			},
		},
	})
}

func (t *ReadTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Scope string `json:"scope"`
		Days  int    `json:"days"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
		}
	}
	agentID, errResult := agentFrom(ctx)
	if errResult != nil {
		return errResult, nil
	}

	switch strings.ToLower(strings.TrimSpace(input.Scope)) {
	case "", "long_term":
		content, err := t.store.ReadLongTerm(ctx, agentID)
		if err != nil {
			return toolError(err.Error()), nil
		}
		return textOrEmpty(content, "Long-term memory is empty."), nil
	case "today":
		content, err := t.store.ReadDaily(ctx, agentID, t.now())
		if err != nil {
			return toolError(err.Error()), nil
		}
		return textOrEmpty(content, "No notes for today."), nil
	case "recent":
		days := input.Days
		if days <= 0 {
			days = 7
		}
		if days > maxRecentDays {
			days = maxRecentDays
		}
		notes, err := t.store.RecentDaily(ctx, agentID, days)
		if err != nil {
			return toolError(err.Error()), nil
		}
		var sb strings.Builder
		for _, note := range notes {
			fmt.Fprintf(&sb, "## %s\n%s\n", note.Date.Format("2006-01-02"), strings.TrimRight(note.Content, "\n"))
		}
		return textOrEmpty(sb.String(), fmt.Sprintf("No notes in the last %d days.", days)), nil
	default:
		return toolError("scope must be long_term, today or recent"), nil
	}
}

func (t *WriteTool) Name() string                  { return "memory_write" }
func (t *WriteTool) Capability() models.Capability { return models.CapabilityMemory }
func (t *WriteTool) Description() string {
	return "Save to memory: append a fact to long-term memory, replace it entirely, or add a note to today's notes."
}

func (t *WriteTool) Schema() json.RawMessage {
	return mustSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Text to save.",
			},
			"mode": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"append", "replace", "daily"},
				"description": "append (default) or replace long-term memory, or daily to add a note to today.",
			},
		},
		"required": []string{"content"},
	})
}

func (t *WriteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Content string `json:"content"`
		Mode    string `json:"mode"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	agentID, errResult := agentFrom(ctx)
	if errResult != nil {
		return errResult, nil
	}
	mode := strings.ToLower(strings.TrimSpace(input.Mode))
	if strings.TrimSpace(input.Content) == "" && mode != "replace" {
		return toolError("content is required"), nil
	}

	var err error
	switch mode {
	case "", "append":
		mode = "append"
		err = t.store.AppendLongTerm(ctx, agentID, input.Content)
	case "replace":
		err = t.store.WriteLongTerm(ctx, agentID, input.Content)
	case "daily":
		err = t.store.AppendDaily(ctx, agentID, input.Content)
	default:
		return toolError("mode must be append, replace or daily"), nil
	}
	if err != nil {
		return toolError(err.Error()), nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("Memory updated (%s).", mode)}, nil
}

func agentFrom(ctx context.Context) (string, *agent.ToolResult) {
	ec, ok := agent.ExecContextFrom(ctx)
	if !ok || strings.TrimSpace(ec.AgentID) == "" {
		return "", toolError("memory tools need an agent context")
	}
	return ec.AgentID, nil
}

func textOrEmpty(content, empty string) *agent.ToolResult {
	if strings.TrimSpace(content) == "" {
		return &agent.ToolResult{Content: empty}
	}
	return &agent.ToolResult{Content: content}
}

func mustSchema(schema map[string]interface{}) json.RawMessage {
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func toolError(message string) *agent.ToolResult {
	return &agent.ToolResult{Content: message, IsError: true}
}
