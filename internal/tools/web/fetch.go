// Package web provides the web_fetch and web_search tools.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/clawcore/internal/agent"
	"github.com/haasonsaas/clawcore/pkg/models"
)

const (
	defaultMaxChars  = 50000
	maxBodyBytes     = 10 << 20
	maxRedirects     = 5
	fetchTimeout     = 30 * time.Second
	defaultUserAgent = "Mozilla/5.0 (compatible; clawcore/1.0)"
)

// FetchConfig controls web_fetch.
type FetchConfig struct {
	MaxChars int

	// AllowPrivate disables the SSRF guard. Tests only.
	AllowPrivate bool
}

// FetchTool fetches a URL and returns its readable text.
type FetchTool struct {
	cfg    FetchConfig
	client *http.Client
}

// NewFetchTool creates the web_fetch tool.
func NewFetchTool(cfg FetchConfig) *FetchTool {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = defaultMaxChars
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.AllowPrivate {
		transport.Proxy = nil
		transport.DialContext = guardedDialer(10 * time.Second).DialContext
	}
	client := &http.Client{
		Timeout:   fetchTimeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if cfg.AllowPrivate {
				return nil
			}
			_, err := checkURL(req.URL.String())
			return err
		},
	}
	return &FetchTool{cfg: cfg, client: client}
}

func (t *FetchTool) Name() string { return "web_fetch" }

func (t *FetchTool) Description() string {
	return "Fetch a URL and return its readable text content."
}

func (t *FetchTool) Capability() models.Capability { return models.CapabilityNetwork }

func (t *FetchTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "URL to fetch (http/https only).",
			},
			"max_chars": map[string]interface{}{
				"type":        "integer",
				"description": fmt.Sprintf("Maximum characters to return (default: %d).", defaultMaxChars),
				"minimum":     1,
			},
		},
		"required": []string{"url"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *FetchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		URL      string `json:"url"`
		MaxChars int    `json:"max_chars"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.URL) == "" {
		return toolError("Missing required parameter: url"), nil
	}
	limit := t.cfg.MaxChars
	if input.MaxChars > 0 && input.MaxChars < limit {
		limit = input.MaxChars
	}

	content, err := t.fetch(ctx, input.URL)
	if err != nil {
		if errors.Is(err, ErrBlocked) {
			return nil, agent.NewDeniedError("web_fetch", err.Error())
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return toolError(fmt.Sprintf("Fetch failed: %v", err)), nil
	}
	if len(content) > limit {
		content = content[:limit] + "\n... (content truncated)"
	}
	return &agent.ToolResult{Content: content}, nil
}

func (t *FetchTool) fetch(ctx context.Context, rawURL string) (string, error) {
	target := rawURL
	if !t.cfg.AllowPrivate {
		parsed, err := checkURL(rawURL)
		if err != nil {
			return "", err
		}
		target = parsed.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	switch {
	case strings.Contains(contentType, "text/html"), strings.Contains(contentType, "application/xhtml"):
		return htmlToText(string(body))
	case strings.HasPrefix(contentType, "text/"), strings.Contains(contentType, "json"), strings.Contains(contentType, "xml"), contentType == "":
		return string(body), nil
	default:
		return "", fmt.Errorf("unsupported content type: %s", contentType)
	}
}

func toolError(message string) *agent.ToolResult {
	return &agent.ToolResult{Content: message, IsError: true}
}
