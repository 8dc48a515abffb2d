// Package message provides the tool that lets an agent send chat messages.
package message

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/clawcore/internal/agent"
	"github.com/haasonsaas/clawcore/pkg/models"
)

// Tool publishes outbound messages onto the bus. Without an explicit
// target it replies to the chat the agent is currently serving.
type Tool struct {
	out agent.Publisher
	now func() time.Time
}

// NewTool creates the message tool.
func NewTool(out agent.Publisher) *Tool {
	return &Tool{out: out, now: time.Now}
}

func (t *Tool) Name() string { return "message" }

func (t *Tool) Description() string {
	return "Send a message to the current chat, or to another channel and chat id."
}

func (t *Tool) Capability() models.Capability { return models.CapabilityMessaging }

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Message text to send.",
			},
			"channel": map[string]interface{}{
				"type":        "string",
				"description": "Channel name (telegram, discord, slack, webchat). Defaults to the current channel.",
			},
			"chat_id": map[string]interface{}{
				"type":        "string",
				"description": "Recipient chat id. Defaults to the current chat.",
			},
		},
		"required": []string{"content"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.out == nil {
		return toolError("message bus unavailable"), nil
	}
	var input struct {
		Content string `json:"content"`
		Channel string `json:"channel"`
		ChatID  string `json:"chat_id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return toolError("content is required"), nil
	}

	ec, _ := agent.ExecContextFrom(ctx)
	channel := models.ChannelType(strings.ToLower(strings.TrimSpace(input.Channel)))
	if channel == "" {
		channel = ec.Channel
	}
	chatID := strings.TrimSpace(input.ChatID)
	if chatID == "" && channel == ec.Channel {
		chatID = ec.ChatID
	}
	if channel == "" || chatID == "" {
		return toolError("no target chat: pass channel and chat_id"), nil
	}

	msg := &models.OutboundMessage{
		ID:        uuid.NewString(),
		Channel:   channel,
		ChatID:    chatID,
		Text:      content,
		SessionID: ec.SessionID,
		AgentID:   ec.AgentID,
		Metadata:  map[string]any{"source": "message_tool"},
		CreatedAt: t.now(),
	}
	if err := t.out.Publish(msg); err != nil {
		return toolError(fmt.Sprintf("send message: %v", err)), nil
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"status":     "sent",
		"message_id": msg.ID,
		"channel":    channel,
		"chat_id":    chatID,
	}, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
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
