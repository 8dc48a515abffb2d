package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"

	"github.com/haasonsaas/clawcore/internal/agent"
)

func TestHTMLToText(t *testing.T) {
	doc := `<html><head><title>Claw  News</title><style>p{}</style></head>
<body><nav>menu</nav><h1>Release</h1><p>Version <b>2</b> is out.</p>
<ul><li>faster</li><li>safer</li></ul><script>alert(1)</script><footer>legal</footer></body></html>`
	got, err := htmlToText(doc)
	if err != nil {
		t.Fatal(err)
	}
	want := "# Claw News\n\nRelease\n\nVersion 2 is out.\n\n- faster\n- safer"
	if got != want {
		t.Fatalf("htmlToText =\n%q\nwant\n%q", got, want)
	}
}

func TestCheckURL(t *testing.T) {
	blocked := []string{
		"http://localhost/",
		"http://127.0.0.1:8080/",
		"http://10.0.0.1/",
		"http://169.254.169.254/latest/meta-data",
		"http://[::1]/",
		"http://[::ffff:192.168.1.1]/",
		"http://printer.local/",
		"http://metadata.google.internal/",
		"http://100.64.1.1/",
	}
	for _, raw := range blocked {
		if _, err := checkURL(raw); err == nil {
			t.Errorf("checkURL(%q) should be blocked", raw)
		}
	}
	if _, err := checkURL("ftp://example.com/file"); err == nil {
		t.Error("non-http schemes should be rejected")
	}
	if _, err := checkURL("https://example.com/page"); err != nil {
		t.Errorf("public URL rejected: %v", err)
	}
	if !isBlockedAddr(netip.MustParseAddr("0.0.0.0")) || isBlockedAddr(netip.MustParseAddr("93.184.216.34")) {
		t.Error("isBlockedAddr misclassified")
	}
}

func TestFetchDeniesPrivateTargets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("guarded fetch must not reach the server")
	}))
	defer server.Close()

	tool := NewFetchTool(FetchConfig{})
	_, err := tool.Execute(context.Background(), json.RawMessage(`{"url":"`+server.URL+`"}`))
	if !agent.IsKind(err, agent.KindDenied) {
		t.Fatalf("err = %v, want denied", err)
	}
}

func TestFetchExtractsAndTruncates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, "<html><body><p>"+strings.Repeat("x", 100)+"</p></body></html>")
	}))
	defer server.Close()

	tool := NewFetchTool(FetchConfig{AllowPrivate: true, MaxChars: 10})
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"url":"`+server.URL+`"}`))
	if err != nil || res.IsError {
		t.Fatalf("Execute: %v %+v", err, res)
	}
	if res.Content != "xxxxxxxxxx\n... (content truncated)" {
		t.Fatalf("unexpected content %q", res.Content)
	}
}

func TestFetchHTTPError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()
	res, err := NewFetchTool(FetchConfig{AllowPrivate: true}).Execute(context.Background(), json.RawMessage(`{"url":"`+server.URL+`"}`))
	if err != nil || !res.IsError || !strings.Contains(res.Content, "HTTP 404") {
		t.Fatalf("expected 404 tool error, got %v %+v", err, res)
	}
}

func TestSearchBackends(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/brave":
			if r.Header.Get("X-Subscription-Token") != "brave-key" || r.URL.Query().Get("q") != "go generics" {
				t.Errorf("unexpected brave request %s", r.URL)
			}
			_, _ = io.WriteString(w, `{"web":{"results":[{"title":"Go","url":"https://go.dev","description":"The Go language"}]}}`)
		case "/tavily":
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["api_key"] != "tavily-key" || body["max_results"] != float64(2) {
				t.Errorf("unexpected tavily body %v", body)
			}
			_, _ = io.WriteString(w, `{"results":[{"title":"A","url":"https://a.example","content":"first"},{"title":"B","url":"https://b.example","content":"second"},{"title":"C","url":"https://c.example","content":"third"}]}`)
		case "/ddg":
			_, _ = io.WriteString(w, `{"Heading":"Go","AbstractText":"Go is a language","AbstractURL":"https://go.dev","RelatedTopics":[{"FirstURL":"https://golang.org","Text":"Golang"}]}`)
		}
	}))
	defer server.Close()

	tests := []struct {
		name   string
		cfg    SearchConfig
		params string
		want   string
	}{
		{
			name:   "brave",
			cfg:    SearchConfig{BraveAPIKey: "brave-key", TavilyAPIKey: "ignored"},
			params: `{"query":"go generics"}`,
			want:   "1. Go\n   https://go.dev\n   The Go language",
		},
		{
			name:   "tavily",
			cfg:    SearchConfig{TavilyAPIKey: "tavily-key"},
			params: `{"query":"q","num_results":2}`,
			want:   "1. A\n   https://a.example\n   first\n\n2. B\n   https://b.example\n   second",
		},
		{
			name:   "duckduckgo",
			cfg:    SearchConfig{DuckDuckGoEnabled: true},
			params: `{"query":"go"}`,
			want:   "1. Go\n   https://go.dev\n   Go is a language\n\n2. Golang\n   https://golang.org\n   Golang",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.BraveURL = server.URL + "/brave"
			cfg.TavilyURL = server.URL + "/tavily"
			cfg.DuckDuckGoURL = server.URL + "/ddg"
			res, err := NewSearchTool(cfg).Execute(context.Background(), json.RawMessage(tt.params))
			if err != nil || res.IsError {
				t.Fatalf("Execute: %v %+v", err, res)
			}
			if res.Content != tt.want {
				t.Fatalf("content =\n%s\nwant\n%s", res.Content, tt.want)
			}
		})
	}
}

func TestSearchNotConfigured(t *testing.T) {
	res, err := NewSearchTool(SearchConfig{}).Execute(context.Background(), json.RawMessage(`{"query":"x"}`))
	if err != nil || !res.IsError {
		t.Fatalf("expected tool error, got %v %+v", err, res)
	}
}
