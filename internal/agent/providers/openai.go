package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/clawcore/internal/agent"
	"github.com/haasonsaas/clawcore/internal/agent/toolconv"
	"github.com/haasonsaas/clawcore/pkg/models"
)

// openAICompatible describes an endpoint speaking the OpenAI chat
// completions protocol.
type openAICompatible struct {
	baseURL      string
	defaultModel string
	keyOptional  bool
}

var openAIKinds = map[string]openAICompatible{
	"openai":     {defaultModel: "gpt-4o"},
	"openrouter": {baseURL: "https://openrouter.ai/api/v1", defaultModel: "anthropic/claude-sonnet-4"},
	"groq":       {baseURL: "https://api.groq.com/openai/v1", defaultModel: "llama-3.3-70b-versatile"},
	"deepseek":   {baseURL: "https://api.deepseek.com/v1", defaultModel: "deepseek-chat"},
	"ollama":     {baseURL: "http://localhost:11434/v1", defaultModel: "llama3.1", keyOptional: true},
}

// OpenAIProvider talks to OpenAI and OpenAI-compatible endpoints.
type OpenAIProvider struct {
	BaseProvider
	client *openai.Client
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	// Kind selects endpoint defaults: openai, openrouter, groq, deepseek or
	// ollama. Default: openai.
	Kind string

	// Name is the configured provider name. Default: Kind.
	Name string

	// APIKey is required except for ollama.
	APIKey string

	// BaseURL overrides the kind's endpoint.
	BaseURL string

	// Model is used when a request does not name one.
	Model string

	// MaxRetries counts extra attempts on transient failures.
	MaxRetries int
}

// NewOpenAIProvider creates an OpenAI-compatible provider.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	kind := strings.ToLower(strings.TrimSpace(config.Kind))
	if kind == "" {
		kind = "openai"
	}
	defaults, ok := openAIKinds[kind]
	if !ok {
		return nil, fmt.Errorf("openai: unsupported kind %q", config.Kind)
	}
	if config.APIKey == "" {
		if !defaults.keyOptional {
			return nil, fmt.Errorf("%s: API key is required", kind)
		}
		// Local servers ignore the key but the client insists on a header.
		config.APIKey = kind
	}
	if config.Name == "" {
		config.Name = kind
	}
	if config.Model == "" {
		config.Model = defaults.defaultModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	switch {
	case strings.TrimSpace(config.BaseURL) != "":
		clientConfig.BaseURL = strings.TrimRight(config.BaseURL, "/")
	case defaults.baseURL != "":
		clientConfig.BaseURL = defaults.baseURL
	}

	return &OpenAIProvider{
		BaseProvider: NewBaseProvider(config.Name, config.Model, config.MaxRetries),
		client:       openai.NewClientWithConfig(clientConfig),
	}, nil
}

// Complete implements agent.LLMProvider.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	model := p.modelFor(req)
	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAIMessages(req.Messages, req.System),
		Tools:    toolconv.ToOpenAITools(req.Tools),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}

	var chatResp openai.ChatCompletionResponse
	err := p.Retry(ctx, func() error {
		var callErr error
		chatResp, callErr = p.client.CreateChatCompletion(ctx, chatReq)
		return p.wrapError(callErr, model)
	})
	if err != nil {
		return nil, err
	}
	if len(chatResp.Choices) == 0 {
		return nil, NewProviderError(p.Name(), model, errors.New("response contained no choices")).WithStatus(502)
	}

	choice := chatResp.Choices[0]
	resp := &agent.CompletionResponse{
		Text:       choice.Message.Content,
		StopReason: string(choice.FinishReason),
		Provider:   p.Name(),
		Model:      chatResp.Model,
		Usage: agent.Usage{
			InputTokens:  chatResp.Usage.PromptTokens,
			OutputTokens: chatResp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, toolCall(tc.ID, tc.Function.Name, json.RawMessage(tc.Function.Arguments)))
	}
	return resp, nil
}

// convertOpenAIMessages prepends the system prompt and expands tool turns
// into one tool message per result, as the protocol requires.
func convertOpenAIMessages(messages []agent.CompletionMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "tool":
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
		case "assistant":
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				args := string(tc.Input)
				if args == "" {
					args = "{}"
				}
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			result = append(result, oaiMsg)
		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    msg.Role,
				Content: msg.Content,
			})
		}
	}
	return result
}

func (p *OpenAIProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr := NewProviderError(p.Name(), model, err).WithStatus(apiErr.HTTPStatusCode)
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
		if apiErr.Code != nil {
			providerErr = providerErr.WithCode(fmt.Sprint(apiErr.Code))
		} else if apiErr.Type != "" {
			providerErr = providerErr.WithCode(apiErr.Type)
		}
		return providerErr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return wrapError(p.Name(), model, err, reqErr.HTTPStatusCode)
	}
	return wrapError(p.Name(), model, err, 0)
}

// toolCall normalizes a provider tool call. Empty arguments become {}.
func toolCall(id, name string, input json.RawMessage) models.ToolCall {
	if len(strings.TrimSpace(string(input))) == 0 || string(input) == "null" {
		input = json.RawMessage(`{}`)
	}
	return models.ToolCall{ID: id, Name: name, Input: input}
}
