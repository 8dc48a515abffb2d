package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"

	"github.com/haasonsaas/clawcore/internal/agent"
	"github.com/haasonsaas/clawcore/internal/bus"
	"github.com/haasonsaas/clawcore/internal/routing"
	"github.com/haasonsaas/clawcore/internal/sessions"
	"github.com/haasonsaas/clawcore/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// Started by package init in the Google client libraries the
		// Gemini provider links in; it lives for the whole process.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

type completerFunc func(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error)

func (f completerFunc) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	return f(ctx, req)
}

func replyWith(text string) completerFunc {
	return func(context.Context, *agent.CompletionRequest) (*agent.CompletionResponse, error) {
		return &agent.CompletionResponse{Text: text}, nil
	}
}

func lastUserText(req *agent.CompletionRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}

type testEnv struct {
	srv   *Server
	bus   *bus.MessageBus
	store sessions.Store
}

func newTestEnv(t *testing.T, completers map[string]agent.Completer, routes []routing.Route, cfg Config) *testEnv {
	t.Helper()
	mb := bus.NewMessageBus(bus.Options{BufferSize: 32})
	store := sessions.NewMemoryStore()
	locker := sessions.NewLocalLocker(0)
	states := agent.NewStateTracker(nil)

	var runtimes []*agent.Runtime
	var known []string
	for id, c := range completers {
		rt, err := agent.NewRuntime(agent.RuntimeConfig{
			AgentID:   id,
			AgentName: id,
			Workspace: t.TempDir(),
		}, c, nil, store, locker,
			agent.WithPublisher(mb.Outbound),
			agent.WithStateTracker(states),
		)
		if err != nil {
			t.Fatalf("NewRuntime(%s): %v", id, err)
		}
		runtimes = append(runtimes, rt)
		known = append(known, id)
	}
	resolver, err := routing.NewResolver(routes, "main", known)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	srv, err := New(Deps{Bus: mb, Resolver: resolver, Store: store, Runtimes: runtimes}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return &testEnv{srv: srv, bus: mb, store: store}
}

func inbound(channel models.ChannelType, chatID, text string) *models.InboundMessage {
	return &models.InboundMessage{
		ID:         "in-" + text,
		Channel:    channel,
		ChatID:     chatID,
		SenderID:   "u1",
		Text:       text,
		Origin:     models.OriginChannel,
		ReceivedAt: time.Now(),
	}
}

func receive(t *testing.T, ch <-chan *models.OutboundMessage) *models.OutboundMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return nil
	}
}

func TestHandleInboundCreatesSessionAndReplies(t *testing.T) {
	env := newTestEnv(t, map[string]agent.Completer{"main": replyWith("hello there")}, nil, Config{})
	out, err := env.bus.Outbound.Subscribe("test")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	msg := inbound(models.ChannelTelegram, "42", "hi")
	if err := env.srv.HandleInbound(context.Background(), msg); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	reply := receive(t, out.C())
	if reply.Text != "hello there" || reply.ChatID != "42" || reply.ReplyTo != msg.ID {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	key := sessions.SessionKey("main", models.ChannelTelegram, "42", "")
	session, err := env.store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get session: %v", err)
	}
	if session.AgentID != "main" || session.Channel != models.ChannelTelegram {
		t.Fatalf("unexpected session: %+v", session)
	}
	turns, err := env.store.Load(context.Background(), key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected user and assistant turns, got %d", len(turns))
	}
}

func TestHandleInboundRoutesToMatchedAgent(t *testing.T) {
	env := newTestEnv(t, map[string]agent.Completer{
		"main": replyWith("from main"),
		"ops":  replyWith("from ops"),
	}, []routing.Route{{Channel: "discord", ChatID: "ops-room", Agent: "ops"}}, Config{})
	out, _ := env.bus.Outbound.Subscribe("test")

	if err := env.srv.HandleInbound(context.Background(), inbound(models.ChannelDiscord, "ops-room", "status?")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if reply := receive(t, out.C()); reply.AgentID != "ops" || reply.Text != "from ops" {
		t.Fatalf("expected ops reply, got %+v", reply)
	}

	if err := env.srv.HandleInbound(context.Background(), inbound(models.ChannelDiscord, "general", "hello")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if reply := receive(t, out.C()); reply.AgentID != "main" {
		t.Fatalf("expected default agent, got %+v", reply)
	}
}

func TestHandleInboundRejectsNil(t *testing.T) {
	env := newTestEnv(t, map[string]agent.Completer{"main": replyWith("x")}, nil, Config{})
	err := env.srv.HandleInbound(context.Background(), nil)
	if !agent.IsKind(err, agent.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRunPreservesPerSessionOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	slow := completerFunc(func(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
		text := lastUserText(req)
		mu.Lock()
		seen = append(seen, text)
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		return &agent.CompletionResponse{Text: "ack " + text}, nil
	})
	env := newTestEnv(t, map[string]agent.Completer{"main": slow}, nil, Config{MaxConcurrent: 4})
	out, _ := env.bus.Outbound.Subscribe("test")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.srv.Run(ctx) }()

	want := []string{"m1", "m2", "m3", "m4", "m5"}
	waitForSubscriber(t, env.bus, bus.TopicInbound, "gateway")
	for _, text := range want {
		if err := env.bus.Inbound.Publish(inbound(models.ChannelTelegram, "7", text)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	var replies []string
	for range want {
		replies = append(replies, receive(t, out.C()).Text)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Fatalf("turn order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"ack m1", "ack m2", "ack m3", "ack m4", "ack m5"}, replies); diff != "" {
		t.Fatalf("reply order mismatch (-want +got):\n%s", diff)
	}
}

func TestRunHandlesSessionsConcurrently(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	release := make(chan struct{})
	blocking := completerFunc(func(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
		arrived.Done()
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &agent.CompletionResponse{Text: "done"}, nil
	})
	env := newTestEnv(t, map[string]agent.Completer{"main": blocking}, nil, Config{MaxConcurrent: 2})
	out, _ := env.bus.Outbound.Subscribe("test")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.srv.Run(ctx) }()
	waitForSubscriber(t, env.bus, bus.TopicInbound, "gateway")

	_ = env.bus.Inbound.Publish(inbound(models.ChannelTelegram, "a", "one"))
	_ = env.bus.Inbound.Publish(inbound(models.ChannelTelegram, "b", "two"))

	both := make(chan struct{})
	go func() {
		arrived.Wait()
		close(both)
	}()
	select {
	case <-both:
	case <-time.After(5 * time.Second):
		t.Fatal("sessions did not run concurrently")
	}
	if got := env.srv.Status().ActiveSessions; got != 2 {
		t.Fatalf("ActiveSessions = %d, want 2", got)
	}
	close(release)
	receive(t, out.C())
	receive(t, out.C())

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestStatusReportsProvidersAndBus(t *testing.T) {
	env := newTestEnv(t, map[string]agent.Completer{"main": replyWith("x")}, nil, Config{Version: "test"})
	health := agent.NewHealthTracker(agent.HealthConfig{})
	health.Register("primary")
	env.srv.deps.Health = health

	st := env.srv.Status()
	if st.Version != "test" || st.ActiveSessions != 0 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if len(st.Providers) != 1 || st.Providers[0].Name != "primary" || !st.Providers[0].Available {
		t.Fatalf("unexpected providers: %+v", st.Providers)
	}
	var topics []string
	for _, topic := range st.Bus {
		topics = append(topics, topic.Name)
	}
	if diff := cmp.Diff([]string{bus.TopicInbound, bus.TopicOutbound}, topics); diff != "" {
		t.Fatalf("bus topics (-want +got):\n%s", diff)
	}
	if len(st.Agents) != 1 || st.Agents[0].ID != "main" {
		t.Fatalf("unexpected agents: %+v", st.Agents)
	}
}

func TestHandlerServesAdminEndpoints(t *testing.T) {
	env := newTestEnv(t, map[string]agent.Completer{"main": replyWith("x")}, nil, Config{})
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "clawcore_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()
	env.srv.deps.Registry = reg

	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	body := get(t, ts.URL+"/healthz", http.StatusOK)
	if strings.TrimSpace(body) != `{"status":"ok"}` {
		t.Fatalf("healthz body = %q", body)
	}

	var st Status
	if err := json.Unmarshal([]byte(get(t, ts.URL+"/status", http.StatusOK)), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if len(st.Agents) != 1 || st.Agents[0].ID != "main" {
		t.Fatalf("unexpected status agents: %+v", st.Agents)
	}

	if metrics := get(t, ts.URL+"/metrics", http.StatusOK); !strings.Contains(metrics, "clawcore_test_total 1") {
		t.Fatalf("metrics missing counter:\n%s", metrics)
	}

	resp, err := http.Post(ts.URL+"/status", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST /status = %d", resp.StatusCode)
	}

	get(t, ts.URL+"/ws", http.StatusNotFound)
}

func TestNewValidatesDeps(t *testing.T) {
	mb := bus.NewMessageBus(bus.Options{})
	defer mb.Close()
	store := sessions.NewMemoryStore()

	if _, err := New(Deps{Bus: mb, Store: store}, Config{}); err == nil {
		t.Fatal("expected error without resolver")
	}

	resolver, err := routing.NewResolver(nil, "main", []string{"main", "other"})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	if _, err := New(Deps{Bus: mb, Store: store, Resolver: resolver}, Config{}); err == nil {
		t.Fatal("expected error without runtimes")
	}

	other, err := agent.NewRuntime(agent.RuntimeConfig{AgentID: "other"}, replyWith("x"), nil, store, sessions.NewLocalLocker(0))
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	if _, err := New(Deps{Bus: mb, Store: store, Resolver: resolver, Runtimes: []*agent.Runtime{other}}, Config{}); err == nil {
		t.Fatal("expected error when the default agent has no runtime")
	}
}

func TestIsClearCommand(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"/clear", true},
		{"  /CLEAR please", true},
		{"/clearall", false},
		{"clear", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isClearCommand(tt.text); got != tt.want {
			t.Errorf("isClearCommand(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func get(t *testing.T, url string, wantStatus int) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s = %d, want %d: %s", url, resp.StatusCode, wantStatus, body)
	}
	return string(body)
}

func waitForSubscriber(t *testing.T, mb *bus.MessageBus, topic, name string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, st := range mb.Stats() {
			if st.Name != topic {
				continue
			}
			for _, sub := range st.Subscribers {
				if sub.Name == name {
					return
				}
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("subscriber %s/%s never attached", topic, name)
}
