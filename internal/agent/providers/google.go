package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/haasonsaas/clawcore/internal/agent"
	"github.com/haasonsaas/clawcore/internal/agent/toolconv"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GoogleProvider talks to the Gemini API through google.golang.org/genai.
type GoogleProvider struct {
	BaseProvider
	client *genai.Client
}

// GoogleConfig configures a GoogleProvider.
type GoogleConfig struct {
	// Name is the configured provider name. Default: "gemini".
	Name string

	// APIKey is required.
	APIKey string

	// BaseURL overrides the API endpoint.
	BaseURL string

	// Model is used when a request does not name one.
	Model string

	// MaxRetries counts extra attempts on transient failures.
	MaxRetries int
}

// NewGoogleProvider creates a Gemini provider.
func NewGoogleProvider(ctx context.Context, config GoogleConfig) (*GoogleProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if config.Name == "" {
		config.Name = "gemini"
	}
	if config.Model == "" {
		config.Model = defaultGeminiModel
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(config.BaseURL) != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}

	return &GoogleProvider{
		BaseProvider: NewBaseProvider(config.Name, config.Model, config.MaxRetries),
		client:       client,
	}, nil
}

// Complete implements agent.LLMProvider.
func (p *GoogleProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	model := p.modelFor(req)
	contents := convertGeminiContents(req.Messages)
	config := buildGeminiConfig(req)

	var genResp *genai.GenerateContentResponse
	err := p.Retry(ctx, func() error {
		var callErr error
		genResp, callErr = p.client.Models.GenerateContent(ctx, model, contents, config)
		return p.wrapError(callErr, model)
	})
	if err != nil {
		return nil, err
	}

	resp := &agent.CompletionResponse{Provider: p.Name(), Model: model}
	if genResp.UsageMetadata != nil {
		resp.Usage = agent.Usage{
			InputTokens:  int(genResp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(genResp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(genResp.Candidates) == 0 || genResp.Candidates[0] == nil {
		return nil, NewProviderError(p.Name(), model, errors.New("response contained no candidates")).WithStatus(http.StatusBadGateway)
	}

	candidate := genResp.Candidates[0]
	resp.StopReason = string(candidate.FinishReason)
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, (&ProviderError{
			Provider: p.Name(),
			Model:    model,
			Reason:   FailoverContentFilter,
			Message:  "response blocked by safety filters",
		})
	}

	var text strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" && !part.Thought {
				text.WriteString(part.Text)
			}
			if fc := part.FunctionCall; fc != nil {
				args, err := json.Marshal(fc.Args)
				if err != nil {
					args = []byte("{}")
				}
				id := fc.ID
				if id == "" {
					// Gemini does not always assign call ids.
					id = "call_" + uuid.NewString()
				}
				resp.ToolCalls = append(resp.ToolCalls, toolCall(id, fc.Name, args))
			}
		}
	}
	resp.Text = text.String()
	return resp, nil
}

// convertGeminiContents maps the transcript to Gemini contents. Tool results
// are sent as function responses named after the call that produced them.
func convertGeminiContents(messages []agent.CompletionMessage) []*genai.Content {
	callNames := make(map[string]string)
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			callNames[tc.ID] = tc.Name
		}
	}

	result := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}
		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == "assistant" {
			content.Role = genai.RoleModel
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			args := map[string]any{}
			if len(tc.Input) > 0 {
				_ = json.Unmarshal(tc.Input, &args)
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args},
			})
		}
		for _, tr := range msg.ToolResults {
			response := map[string]any{"output": tr.Content}
			if tr.IsError {
				response = map[string]any{"error": tr.Content}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       tr.ToolCallID,
					Name:     callNames[tr.ToolCallID],
					Response: response,
				},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result
}

func buildGeminiConfig(req *agent.CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		// #nosec G115 -- bounded by min above
		config.MaxOutputTokens = int32(maxTokens)
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if len(req.Tools) > 0 {
		config.Tools = toolconv.ToGeminiTools(req.Tools)
	}
	return config
}

func (p *GoogleProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return wrapError(p.Name(), model, err, apiErr.Code)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return wrapError(p.Name(), model, err, apiErrPtr.Code)
	}

	status := 0
	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "unauthenticated") || strings.Contains(errMsg, "api key not valid"):
		status = http.StatusUnauthorized
	case strings.Contains(errMsg, "permission denied"):
		status = http.StatusForbidden
	case strings.Contains(errMsg, "resource exhausted"):
		status = http.StatusTooManyRequests
	}
	return wrapError(p.Name(), model, err, status)
}
