package files

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/clawcore/internal/agent"
)

func params(t *testing.T, v map[string]interface{}) json.RawMessage {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return payload
}

func TestResolverRejectsEscape(t *testing.T) {
	root := t.TempDir()
	resolver := Resolver{Root: root}
	for _, path := range []string{"../outside.txt", "/etc/passwd", "a/../../b"} {
		if _, err := resolver.Resolve(path); !agent.IsKind(err, agent.KindDenied) {
			t.Fatalf("Resolve(%q) = %v, want denied", path, err)
		}
	}
	if got, err := resolver.Resolve("a/../b.txt"); err != nil || got != filepath.Join(root, "b.txt") {
		t.Fatalf("Resolve inside root = %q, %v", got, err)
	}

	open := Resolver{Root: root, AllowOutside: true}
	if got, err := open.Resolve("/etc/passwd"); err != nil || got != "/etc/passwd" {
		t.Fatalf("unrestricted resolver should allow absolute paths: %q, %v", got, err)
	}
}

func TestResolverRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if _, err := (Resolver{Root: root}).Resolve("link"); !agent.IsKind(err, agent.KindDenied) {
		t.Fatalf("symlink escape should be denied, got %v", err)
	}
}

func TestWriteRejectsNewFileThroughSymlinkedDir(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	cfg := Config{Workspace: root, RestrictToWorkspace: true}
	for name, tool := range map[string]agent.Tool{
		"write":  NewWriteTool(cfg),
		"append": NewAppendTool(cfg),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := tool.Execute(context.Background(), params(t, map[string]interface{}{
				"path": "link/sub/pwned.txt", "content": "escaped",
			}))
			if !agent.IsKind(err, agent.KindDenied) {
				t.Fatalf("write through symlinked dir should be denied, got %v", err)
			}
		})
	}
	if _, err := os.Stat(filepath.Join(outside, "sub")); !os.IsNotExist(err) {
		t.Fatalf("nothing may be created outside the workspace, stat err = %v", err)
	}
}

func TestResolverRejectsDanglingSymlink(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(t.TempDir(), "missing.txt")
	if err := os.Symlink(target, filepath.Join(root, "dangling")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if _, err := (Resolver{Root: root}).Resolve("dangling"); !agent.IsKind(err, agent.KindDenied) {
		t.Fatalf("dangling link leaving the workspace should be denied, got %v", err)
	}
}

func TestResolverAllowsNewPathsInsideWorkspace(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "real"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "alias")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	got, err := (Resolver{Root: root}).Resolve("alias/new/file.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := filepath.Join(root, "alias", "new", "file.txt"); got != want {
		t.Fatalf("Resolve = %q, want %q", got, want)
	}
}

func TestReadWriteAppendEdit(t *testing.T) {
	root := t.TempDir()
	cfg := Config{Workspace: root, RestrictToWorkspace: true}
	ctx := context.Background()

	if res, err := NewWriteTool(cfg).Execute(ctx, params(t, map[string]interface{}{
		"path": "notes/todo.txt", "content": "hello world",
	})); err != nil || res.IsError {
		t.Fatalf("write_file: %v %+v", err, res)
	}
	if res, err := NewAppendTool(cfg).Execute(ctx, params(t, map[string]interface{}{
		"path": "notes/todo.txt", "content": "\nbye world",
	})); err != nil || res.IsError {
		t.Fatalf("append_file: %v %+v", err, res)
	}

	res, err := NewEditTool(cfg).Execute(ctx, params(t, map[string]interface{}{
		"path": "notes/todo.txt", "old_string": "world", "new_string": "claw",
	}))
	if err != nil || !res.IsError || !strings.Contains(res.Content, "occurs 2 times") {
		t.Fatalf("ambiguous edit should fail: %v %+v", err, res)
	}
	res, err = NewEditTool(cfg).Execute(ctx, params(t, map[string]interface{}{
		"path": "notes/todo.txt", "old_string": "hello world", "new_string": "hello claw",
	}))
	if err != nil || res.IsError {
		t.Fatalf("edit_file: %v %+v", err, res)
	}

	res, err = NewReadTool(cfg).Execute(ctx, params(t, map[string]interface{}{"path": "notes/todo.txt"}))
	if err != nil || res.IsError {
		t.Fatalf("read_file: %v %+v", err, res)
	}
	var read struct {
		Content   string `json:"content"`
		Truncated bool   `json:"truncated"`
	}
	if err := json.Unmarshal([]byte(res.Content), &read); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if read.Content != "hello claw\nbye world" || read.Truncated {
		t.Fatalf("unexpected read %+v", read)
	}
}

func TestReadTruncates(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "big.txt"), []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := NewReadTool(Config{Workspace: root, MaxReadBytes: 4}).Execute(context.Background(), params(t, map[string]interface{}{"path": "big.txt"}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Content, `"content": "0123"`) || !strings.Contains(res.Content, `"truncated": true`) {
		t.Fatalf("unexpected result %s", res.Content)
	}
}

func TestListFilesUsesAgentWorkspace(t *testing.T) {
	fallback := t.TempDir()
	workspace := t.TempDir()
	for _, name := range []string{"b.txt", "a.txt"} {
		if err := os.WriteFile(filepath.Join(workspace, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(workspace, "docs"), 0o755); err != nil {
		t.Fatal(err)
	}

	ctx := agent.WithExecContext(context.Background(), agent.ExecContext{AgentID: "main", Workspace: workspace})
	res, err := NewListTool(Config{Workspace: fallback, RestrictToWorkspace: true}).Execute(ctx, json.RawMessage(`{}`))
	if err != nil || res.IsError {
		t.Fatalf("list_files: %v %+v", err, res)
	}
	var out struct {
		Entries []listEntry `json:"entries"`
	}
	if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range out.Entries {
		names = append(names, e.Name)
	}
	if strings.Join(names, ",") != "a.txt,b.txt,docs" {
		t.Fatalf("unexpected entries %v", names)
	}
}

func TestEscapeIsDenied(t *testing.T) {
	cfg := Config{Workspace: t.TempDir(), RestrictToWorkspace: true}
	for _, tool := range Tools(cfg) {
		t.Run(tool.Name(), func(t *testing.T) {
			_, err := tool.Execute(context.Background(), params(t, map[string]interface{}{
				"path": "../escape.txt", "content": "x", "old_string": "a", "new_string": "b",
			}))
			if !agent.IsKind(err, agent.KindDenied) {
				t.Fatalf("err = %v, want denied", err)
			}
		})
	}
}
