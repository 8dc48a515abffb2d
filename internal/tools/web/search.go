package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/clawcore/internal/agent"
	"github.com/haasonsaas/clawcore/pkg/models"
)

// Backend names a search provider.
type Backend string

const (
	BackendBrave      Backend = "brave"
	BackendTavily     Backend = "tavily"
	BackendDuckDuckGo Backend = "duckduckgo"
)

const (
	defaultResultCount = 5
	maxResultCount     = 20
)

// SearchConfig controls web_search. Backends are tried in the order brave,
// tavily, duckduckgo, using the first one that is configured.
type SearchConfig struct {
	BraveAPIKey       string
	TavilyAPIKey      string
	DuckDuckGoEnabled bool

	// Endpoint overrides, used by tests.
	BraveURL      string
	TavilyURL     string
	DuckDuckGoURL string

	HTTPClient *http.Client
}

// SearchResult is one hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchTool queries a web search backend.
type SearchTool struct {
	cfg    SearchConfig
	client *http.Client
}

// NewSearchTool creates the web_search tool.
func NewSearchTool(cfg SearchConfig) *SearchTool {
	if cfg.BraveURL == "" {
		cfg.BraveURL = "https://api.search.brave.com/res/v1/web/search"
	}
	if cfg.TavilyURL == "" {
		cfg.TavilyURL = "https://api.tavily.com/search"
	}
	if cfg.DuckDuckGoURL == "" {
		cfg.DuckDuckGoURL = "https://api.duckduckgo.com/"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &SearchTool{cfg: cfg, client: client}
}

// Backend returns the backend that will serve queries, or "" when none is
// configured.
func (t *SearchTool) Backend() Backend {
	switch {
	case t.cfg.BraveAPIKey != "":
		return BackendBrave
	case t.cfg.TavilyAPIKey != "":
		return BackendTavily
	case t.cfg.DuckDuckGoEnabled:
		return BackendDuckDuckGo
	}
	return ""
}

func (t *SearchTool) Name() string { return "web_search" }

func (t *SearchTool) Description() string {
	return "Search the web. Returns titles, URLs and snippets."
}

func (t *SearchTool) Capability() models.Capability { return models.CapabilityNetwork }

func (t *SearchTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The search query.",
			},
			"num_results": map[string]interface{}{
				"type":        "integer",
				"description": "Number of results (default: 5).",
				"minimum":     1,
				"maximum":     maxResultCount,
			},
		},
		"required": []string{"query"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Query      string `json:"query"`
		NumResults int    `json:"num_results"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return toolError("No query provided"), nil
	}
	count := input.NumResults
	if count <= 0 {
		count = defaultResultCount
	}
	if count > maxResultCount {
		count = maxResultCount
	}

	var (
		results []SearchResult
		err     error
	)
	backend := t.Backend()
	switch backend {
	case BackendBrave:
		results, err = t.searchBrave(ctx, query, count)
	case BackendTavily:
		results, err = t.searchTavily(ctx, query, count)
	case BackendDuckDuckGo:
		results, err = t.searchDuckDuckGo(ctx, query, count)
	default:
		return toolError("web search is not configured"), nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return toolError(fmt.Sprintf("%s search error: %v", backend, err)), nil
	}
	return &agent.ToolResult{Content: formatResults(results)}, nil
}

func formatResults(results []SearchResult) string {
	if len(results) == 0 {
		return "No results found"
	}
	lines := make([]string, 0, len(results))
	for i, r := range results {
		lines = append(lines, fmt.Sprintf("%d. %s\n   %s\n   %s", i+1, r.Title, r.URL, r.Snippet))
	}
	return strings.Join(lines, "\n\n")
}

func (t *SearchTool) searchBrave(ctx context.Context, query string, count int) ([]SearchResult, error) {
	searchURL, err := url.Parse(t.cfg.BraveURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))
	searchURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.cfg.BraveAPIKey)

	var resp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := t.doJSON(req, &resp); err != nil {
		return nil, err
	}
	results := make([]SearchResult, 0, len(resp.Web.Results))
	for _, r := range resp.Web.Results {
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return limit(results, count), nil
}

func (t *SearchTool) searchTavily(ctx context.Context, query string, count int) ([]SearchResult, error) {
	body, err := json.Marshal(map[string]interface{}{
		"query":       query,
		"max_results": count,
		"api_key":     t.cfg.TavilyAPIKey,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.TavilyURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := t.doJSON(req, &resp); err != nil {
		return nil, err
	}
	results := make([]SearchResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return limit(results, count), nil
}

// searchDuckDuckGo uses the Instant Answer API, which needs no key.
func (t *SearchTool) searchDuckDuckGo(ctx context.Context, query string, count int) ([]SearchResult, error) {
	searchURL, err := url.Parse(t.cfg.DuckDuckGoURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	searchURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	var resp struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Heading       string `json:"Heading"`
		RelatedTopics []struct {
			FirstURL string `json:"FirstURL"`
			Text     string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := t.doJSON(req, &resp); err != nil {
		return nil, err
	}

	var results []SearchResult
	if resp.AbstractText != "" && resp.AbstractURL != "" {
		results = append(results, SearchResult{Title: resp.Heading, URL: resp.AbstractURL, Snippet: resp.AbstractText})
	}
	for _, topic := range resp.RelatedTopics {
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		title := topic.Text
		if len(title) > 100 {
			title = title[:100]
		}
		results = append(results, SearchResult{Title: title, URL: topic.FirstURL, Snippet: topic.Text})
	}
	return limit(results, count), nil
}

func (t *SearchTool) doJSON(req *http.Request, out interface{}) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, snippet)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func limit(results []SearchResult, count int) []SearchResult {
	if len(results) > count {
		return results[:count]
	}
	return results
}
