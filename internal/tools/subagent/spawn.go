// Package subagent provides the tool that hands a task to another agent.
package subagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/haasonsaas/clawcore/internal/agent"
	"github.com/haasonsaas/clawcore/internal/bus"
	"github.com/haasonsaas/clawcore/pkg/models"
)

// maxLabelRunes bounds the label derived from the task text.
const maxLabelRunes = 50

// Publisher accepts inbound messages. The bus inbound topic implements it.
type Publisher interface {
	Publish(msg *models.InboundMessage) error
}

// Permits reports whether the parent agent may hand a task to target.
type Permits func(parent, target string) bool

// SpawnTool queues a task for an agent as an inbound message. The task runs
// in its own session and the agent's answer is delivered to the chat the
// spawning turn serves.
type SpawnTool struct {
	inbound Publisher
	permits Permits
	now     func() time.Time
}

// NewSpawnTool creates the spawn tool.
func NewSpawnTool(inbound Publisher, permits Permits) *SpawnTool {
	return &SpawnTool{inbound: inbound, permits: permits, now: time.Now}
}

func (t *SpawnTool) Name() string { return "spawn" }

func (t *SpawnTool) Description() string {
	return "Spawn a background subagent to handle a complex or long-running task. " +
		"The subagent runs independently and reports its result in this chat when done."
}

func (t *SpawnTool) Capability() models.Capability { return models.CapabilityMessaging }

func (t *SpawnTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task": map[string]interface{}{
				"type":        "string",
				"description": "Description of the task for the subagent to perform.",
			},
			"label": map[string]interface{}{
				"type":        "string",
				"description": "Short label for the spawned task.",
			},
			"agent_id": map[string]interface{}{
				"type":        "string",
				"description": "Agent that should handle the task. Defaults to the current agent.",
			},
		},
		"required": []string{"task"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *SpawnTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.inbound == nil {
		return toolError("message bus unavailable"), nil
	}
	var input struct {
		Task    string `json:"task"`
		Label   string `json:"label"`
		AgentID string `json:"agent_id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	task := strings.TrimSpace(input.Task)
	if task == "" {
		return toolError("No task provided"), nil
	}

	ec, _ := agent.ExecContextFrom(ctx)
	if ec.AgentID == "" {
		return toolError("spawn requires an agent turn"), nil
	}
	if ec.Origin == models.OriginSubagent {
		return nil, agent.NewDeniedError("tools.spawn", "a subagent task cannot spawn further subagents")
	}
	target := strings.ToLower(strings.TrimSpace(input.AgentID))
	if target == "" {
		target = ec.AgentID
	}
	if t.permits == nil || !t.permits(ec.AgentID, target) {
		return nil, agent.NewDeniedError("tools.spawn", fmt.Sprintf("Agent '%s' is not in the allowed subagent list", target))
	}
	if ec.Channel == "" || ec.ChatID == "" {
		return toolError("no chat to report results to"), nil
	}

	label := strings.TrimSpace(input.Label)
	if label == "" {
		label = shorten(task, maxLabelRunes)
	}
	id := uuid.NewString()
	msg := &models.InboundMessage{
		ID:         id,
		Channel:    ec.Channel,
		ChatID:     ec.ChatID,
		SenderID:   "subagent:" + id[:8],
		SenderName: label,
		Text:       fmt.Sprintf("[Task from agent %s: %s]\n\n%s", ec.AgentID, label, task),
		Origin:     models.OriginSubagent,
		AgentID:    target,
		Metadata: map[string]any{
			"spawn_id":       id,
			"parent_agent":   ec.AgentID,
			"parent_session": ec.SessionID,
		},
		ReceivedAt: t.now(),
	}
	if err := t.inbound.Publish(msg); err != nil {
		if errors.Is(err, bus.ErrBackpressure) {
			return toolError("too many queued messages; try spawning again later"), nil
		}
		return toolError(fmt.Sprintf("spawn: %v", err)), nil
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"status":   "spawned",
		"spawn_id": id,
		"agent_id": target,
		"label":    label,
		"note":     "The subagent runs in the background and reports its result in this chat when complete.",
	}, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

func shorten(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func toolError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
