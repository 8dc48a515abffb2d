package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func noopTool(name string) *funcTool {
	return &funcTool{name: name, fn: func(context.Context, json.RawMessage) (*ToolResult, error) {
		return &ToolResult{}, nil
	}}
}

func TestToolRegistry_SealAndLookup(t *testing.T) {
	reg := NewToolRegistry()
	for _, name := range []string{"write_file", "exec", "read_file"} {
		if err := reg.Register(noopTool(name)); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	if err := reg.Register(noopTool("exec")); !IsKind(err, KindConfiguration) {
		t.Fatalf("expected duplicate registration error, got %v", err)
	}
	reg.Seal()
	if err := reg.Register(noopTool("late")); !errors.Is(err, ErrRegistrySealed) {
		t.Fatalf("expected ErrRegistrySealed, got %v", err)
	}

	if diff := cmp.Diff([]string{"exec", "read_file", "write_file"}, reg.Names()); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
	if _, ok := reg.Get("read_file"); !ok {
		t.Fatal("expected read_file")
	}
}

func TestToolRegistry_SpecsFollowPolicy(t *testing.T) {
	reg := NewToolRegistry()
	for _, name := range []string{"write_file", "exec", "read_file"} {
		_ = reg.Register(noopTool(name))
	}
	reg.Seal()

	specNames := func(p ToolPolicy) []string {
		var out []string
		for _, s := range reg.Specs(p) {
			out = append(out, s.Name)
		}
		return out
	}

	tests := []struct {
		name   string
		policy ToolPolicy
		want   []string
	}{
		{"empty allow enables all", ToolPolicy{}, []string{"exec", "read_file", "write_file"}},
		{"allow list", ToolPolicy{Allow: []string{"read_file", "EXEC"}}, []string{"exec", "read_file"}},
		{"deny on top", ToolPolicy{Allow: []string{"*"}, Deny: []string{"exec"}}, []string{"read_file", "write_file"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, specNames(tt.policy)); diff != "" {
				t.Fatalf("specs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestToolRegistry_RejectsBadSchema(t *testing.T) {
	reg := NewToolRegistry()
	bad := noopTool("bad")
	bad.schema = `{"type": 12}`
	if err := reg.Register(bad); !IsKind(err, KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
