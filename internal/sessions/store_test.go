package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/haasonsaas/clawcore/pkg/models"
)

func storeBackends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"file": func(t *testing.T) Store {
			store, err := NewFileStore(filepath.Join(t.TempDir(), "sessions"))
			if err != nil {
				t.Fatalf("NewFileStore: %v", err)
			}
			return store
		},
		"sqlite": func(t *testing.T) Store {
			store, err := OpenSQLStore(context.Background(), DialectSQLite, filepath.Join(t.TempDir(), "sessions.db"))
			if err != nil {
				t.Fatalf("OpenSQLStore: %v", err)
			}
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
}

var ignoreTurnTime = cmpopts.IgnoreFields(models.Turn{}, "CreatedAt")

func TestStoreRoundTrip(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			id := SessionKey("main", models.ChannelTelegram, "42", "")

			session, err := store.GetOrCreate(ctx, id, "main", models.ChannelTelegram, "42")
			if err != nil {
				t.Fatalf("GetOrCreate: %v", err)
			}
			if session.ID != "agent:main:telegram:42" || session.Status != models.SessionOpen {
				t.Fatalf("unexpected session %+v", session)
			}

			turns := []models.Turn{
				{Role: models.RoleUser, Content: "list files"},
				{
					Role:      models.RoleAssistant,
					ToolCalls: []models.ToolCall{{ID: "c1", Name: "list_files", Input: json.RawMessage(`{"path":"."}`)}},
				},
				{Role: models.RoleTool, ToolResults: []models.ToolResult{{ToolCallID: "c1", Content: "a.txt"}}},
				{Role: models.RoleAssistant, Content: "a.txt"},
			}
			if err := store.Append(ctx, id, turns[:2]...); err != nil {
				t.Fatalf("Append: %v", err)
			}
			if err := store.Append(ctx, id, turns[2:]...); err != nil {
				t.Fatalf("Append: %v", err)
			}

			got, err := store.Load(ctx, id)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if diff := cmp.Diff(turns, got, ignoreTurnTime); diff != "" {
				t.Fatalf("history mismatch (-want +got):\n%s", diff)
			}
			for i, turn := range got {
				if turn.CreatedAt.IsZero() {
					t.Fatalf("turn %d has no timestamp", i)
				}
			}

			again, err := store.GetOrCreate(ctx, id, "other", models.ChannelSlack, "x")
			if err != nil {
				t.Fatalf("GetOrCreate existing: %v", err)
			}
			if again.AgentID != "main" || again.Channel != models.ChannelTelegram {
				t.Fatalf("existing session overwritten: %+v", again)
			}
		})
	}
}

func TestStoreTruncateAndSummary(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			if _, err := store.GetOrCreate(ctx, "s1", "main", models.ChannelCLI, "local"); err != nil {
				t.Fatalf("GetOrCreate: %v", err)
			}
			if err := store.Append(ctx, "s1", models.Turn{Role: models.RoleUser, Content: "hi"}); err != nil {
				t.Fatalf("Append: %v", err)
			}
			if err := store.SetSummary(ctx, "s1", "greeting"); err != nil {
				t.Fatalf("SetSummary: %v", err)
			}
			session, err := store.Get(ctx, "s1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if session.Summary != "greeting" {
				t.Fatalf("summary = %q", session.Summary)
			}

			if err := store.Truncate(ctx, "s1"); err != nil {
				t.Fatalf("Truncate: %v", err)
			}
			turns, err := store.Load(ctx, "s1")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if len(turns) != 0 {
				t.Fatalf("expected empty history, got %d turns", len(turns))
			}
			session, err = store.Get(ctx, "s1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if session.Summary != "" {
				t.Fatalf("summary should be cleared, got %q", session.Summary)
			}
		})
	}
}

func TestStoreUnknownSession(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)

			if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get error = %v, want ErrNotFound", err)
			}
			if _, err := store.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Load error = %v, want ErrNotFound", err)
			}
			if err := store.Append(ctx, "missing", models.Turn{Role: models.RoleUser}); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Append error = %v, want ErrNotFound", err)
			}
			if err := store.Truncate(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Truncate error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreList(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			for i := 0; i < 3; i++ {
				id := fmt.Sprintf("main-%d", i)
				if _, err := store.GetOrCreate(ctx, id, "main", models.ChannelDiscord, id); err != nil {
					t.Fatalf("GetOrCreate: %v", err)
				}
			}
			if _, err := store.GetOrCreate(ctx, "other-0", "other", models.ChannelSlack, "c"); err != nil {
				t.Fatalf("GetOrCreate: %v", err)
			}

			all, err := store.List(ctx, "main", ListOptions{})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(all) != 3 {
				t.Fatalf("expected 3 sessions for main, got %d", len(all))
			}
			page, err := store.List(ctx, "", ListOptions{Limit: 2, Offset: 1})
			if err != nil {
				t.Fatalf("List paged: %v", err)
			}
			if len(page) != 2 {
				t.Fatalf("expected page of 2, got %d", len(page))
			}
			slack, err := store.List(ctx, "", ListOptions{Channel: models.ChannelSlack})
			if err != nil {
				t.Fatalf("List by channel: %v", err)
			}
			if len(slack) != 1 || slack[0].ID != "other-0" {
				t.Fatalf("unexpected channel filter result %+v", slack)
			}
		})
	}
}

func TestStoreConcurrentAppendsKeepBatchesWhole(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			if _, err := store.GetOrCreate(ctx, "s", "main", models.ChannelCLI, "local"); err != nil {
				t.Fatalf("GetOrCreate: %v", err)
			}

			const writers = 8
			var wg sync.WaitGroup
			for w := 0; w < writers; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					batch := []models.Turn{
						{Role: models.RoleUser, Content: fmt.Sprintf("q%d", w)},
						{Role: models.RoleAssistant, Content: fmt.Sprintf("a%d", w)},
					}
					if err := store.Append(ctx, "s", batch...); err != nil {
						t.Errorf("Append: %v", err)
					}
				}(w)
			}
			wg.Wait()

			turns, err := store.Load(ctx, "s")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if len(turns) != writers*2 {
				t.Fatalf("expected %d turns, got %d", writers*2, len(turns))
			}
			for i := 0; i < len(turns); i += 2 {
				q, a := turns[i].Content, turns[i+1].Content
				if q[1:] != a[1:] {
					t.Fatalf("batch interleaved at %d: %q then %q", i, q, a)
				}
			}
		})
	}
}

func TestSessionKey(t *testing.T) {
	if got := SessionKey("main", models.ChannelSlack, "C1", ""); got != "agent:main:slack:C1" {
		t.Fatalf("key = %q", got)
	}
	if got := SessionKey("main", models.ChannelSlack, "C1", "U9"); got != "agent:main:slack:C1:U9" {
		t.Fatalf("key = %q", got)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), Config{Backend: "redis"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
