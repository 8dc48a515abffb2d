package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/clawcore/pkg/models"
)

// LLMProvider defines the interface for Large Language Model backends.
//
// Implementations handle the specifics of one vendor API and present a
// single request/response call to the fallback chain.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Multiple goroutines may
// call Complete() simultaneously for different sessions.
type LLMProvider interface {
	// Name returns the configured provider name.
	Name() string

	// Complete sends the prompt and returns the full response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// ProviderSpec is the static description of one provider in a chain.
type ProviderSpec struct {
	Name          string `json:"name"`
	Kind          string `json:"kind"`
	Model         string `json:"model"`
	CredentialRef string `json:"credential_ref,omitempty"`
	BaseURL       string `json:"base_url,omitempty"`
}

// CompletionRequest contains all parameters for an LLM completion request.
//
// Example:
//
//	req := &CompletionRequest{
//	    Model:     "claude-sonnet-4-20250514",
//	    System:    "You are a helpful assistant.",
//	    Messages:  []CompletionMessage{{Role: "user", Content: "hello"}},
//	    MaxTokens: 1024,
//	}
type CompletionRequest struct {
	// Model overrides the provider's configured model when set.
	Model string `json:"model,omitempty"`

	// System is the system prompt.
	System string `json:"system,omitempty"`

	// Messages contains the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools are the declarations the model may call.
	Tools []models.ToolSpec `json:"tools,omitempty"`

	// MaxTokens limits the generated response. Zero means provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature is passed through when non-zero.
	Temperature float64 `json:"temperature,omitempty"`
}

// CompletionMessage represents a single message in a conversation.
//
// Role values: "user", "assistant", "tool"
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionResponse is a complete model reply.
type CompletionResponse struct {
	Text       string            `json:"text,omitempty"`
	ToolCalls  []models.ToolCall `json:"tool_calls,omitempty"`
	StopReason string            `json:"stop_reason,omitempty"`
	Usage      Usage             `json:"usage"`

	// Provider and Model identify who produced the response.
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Usage reports token accounting for one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Tool defines the interface for executable agent tools.
//
// Implementing a Tool:
//
//	type Echo struct{}
//
//	func (Echo) Name() string                   { return "echo" }
//	func (Echo) Description() string            { return "Echoes its input" }
//	func (Echo) Capability() models.Capability  { return models.CapabilityMessaging }
//	func (Echo) Schema() json.RawMessage {
//	    return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`)
//	}
//	func (Echo) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
//	    var in struct{ Text string `json:"text"` }
//	    _ = json.Unmarshal(params, &in)
//	    return &ToolResult{Content: in.Text}, nil
//	}
type Tool interface {
	// Name returns the tool name for LLM function calling.
	Name() string

	// Description returns a natural language description of what the tool does.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage

	// Capability tags the class of side effect the tool performs.
	Capability() models.Capability

	// Execute runs the tool with the given JSON parameters. Implementations
	// must return promptly once ctx is done.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult contains the output from a tool execution.
//
// Errors the model should see are reported with IsError=true rather than as
// Go errors, allowing the model to recover.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// SpecOf returns the model-facing declaration of a tool.
func SpecOf(t Tool) models.ToolSpec {
	return models.ToolSpec{
		Name:        t.Name(),
		Description: t.Description(),
		Schema:      t.Schema(),
		Capability:  t.Capability(),
	}
}
