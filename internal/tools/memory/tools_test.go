package memory

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/clawcore/internal/agent"
	memstore "github.com/haasonsaas/clawcore/internal/memory"
)

func TestMemoryTools(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	store := memstore.NewStore(map[string]string{"main": t.TempDir()}, memstore.WithClock(func() time.Time { return now }))
	read := NewReadTool(store)
	read.now = func() time.Time { return now }
	write := NewWriteTool(store)
	ctx := agent.WithExecContext(context.Background(), agent.ExecContext{AgentID: "main"})

	steps := []struct {
		tool   agent.Tool
		params string
		want   string
	}{
		{read, `{}`, "Long-term memory is empty."},
		{write, `{"content":"prefers metric units"}`, "Memory updated (append)."},
		{write, `{"content":"call mom","mode":"daily"}`, "Memory updated (daily)."},
		{read, `{"scope":"long_term"}`, "prefers metric units\n"},
		{read, `{"scope":"today"}`, "call mom\n"},
		{read, `{"scope":"recent","days":3}`, "## 2026-05-01\ncall mom\n"},
		{write, `{"content":"# Facts\n","mode":"replace"}`, "Memory updated (replace)."},
		{read, `{}`, "# Facts\n"},
	}
	for i, step := range steps {
		res, err := step.tool.Execute(ctx, json.RawMessage(step.params))
		if err != nil || res.IsError {
			t.Fatalf("step %d (%s %s): %v %+v", i, step.tool.Name(), step.params, err, res)
		}
		if res.Content != step.want {
			t.Fatalf("step %d: content = %q, want %q", i, res.Content, step.want)
		}
	}
}

func TestMemoryToolsRequireAgent(t *testing.T) {
	store := memstore.NewStore(nil)
	res, _ := NewReadTool(store).Execute(context.Background(), json.RawMessage(`{}`))
	if !res.IsError || !strings.Contains(res.Content, "agent context") {
		t.Fatalf("expected agent context error, got %+v", res)
	}
	ctx := agent.WithExecContext(context.Background(), agent.ExecContext{AgentID: "main"})
	res, _ = NewWriteTool(store).Execute(ctx, json.RawMessage(`{"content":"x","mode":"bogus"}`))
	if !res.IsError {
		t.Fatal("unknown mode should fail")
	}
}
