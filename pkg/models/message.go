package models

import (
	"encoding/json"
	"time"
)

// ChannelType represents a messaging platform.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelDiscord  ChannelType = "discord"
	ChannelSlack    ChannelType = "slack"
	ChannelWebChat  ChannelType = "webchat"
	ChannelCLI      ChannelType = "cli"
	ChannelSystem   ChannelType = "system"
)

// Origin tags where an inbound message was produced.
type Origin string

const (
	OriginChannel   Origin = "channel"
	OriginCron      Origin = "cron"
	OriginHeartbeat Origin = "heartbeat"
	OriginSystem    Origin = "system"
	OriginSubagent  Origin = "subagent"
)

// Role indicates the turn author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// InboundMessage is what a channel adapter (or a background producer) hands
// to the bus.
type InboundMessage struct {
	ID          string       `json:"id"`
	Channel     ChannelType  `json:"channel"`
	ChatID      string       `json:"chat_id"`
	SenderID    string       `json:"sender_id,omitempty"`
	SenderName  string       `json:"sender_name,omitempty"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Origin      Origin       `json:"origin,omitempty"`
	// AgentID addresses one agent directly and bypasses route matching.
	AgentID    string         `json:"agent_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}

// OutboundMessage is a reply destined for a channel adapter.
type OutboundMessage struct {
	ID        string         `json:"id"`
	Channel   ChannelType    `json:"channel"`
	ChatID    string         `json:"chat_id"`
	Text      string         `json:"text"`
	ReplyTo   string         `json:"reply_to,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Attachment represents a file or media attachment.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // image, audio, video, document
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Turn is one role-tagged entry of a session's append-only history.
type Turn struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Clone returns a deep copy of the turn.
func (t Turn) Clone() Turn {
	out := t
	if len(t.ToolCalls) > 0 {
		out.ToolCalls = make([]ToolCall, len(t.ToolCalls))
		for i, call := range t.ToolCalls {
			out.ToolCalls[i] = call
			if call.Input != nil {
				out.ToolCalls[i].Input = append(json.RawMessage(nil), call.Input...)
			}
		}
	}
	if len(t.ToolResults) > 0 {
		out.ToolResults = append([]ToolResult(nil), t.ToolResults...)
	}
	return out
}

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

// Session represents a conversation thread.
type Session struct {
	ID        string        `json:"id"`
	AgentID   string        `json:"agent_id"`
	Channel   ChannelType   `json:"channel"`
	ChatID    string        `json:"chat_id"`
	Status    SessionStatus `json:"status"`
	Summary   string        `json:"summary,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
