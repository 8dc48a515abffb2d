package models

import (
	"encoding/json"
	"testing"
)

func TestTurnCloneIsDeep(t *testing.T) {
	original := Turn{
		Role: RoleAssistant,
		ToolCalls: []ToolCall{
			{ID: "call-1", Name: "list_files", Input: json.RawMessage(`{"path":"."}`)},
		},
		ToolResults: []ToolResult{{ToolCallID: "call-1", Content: "a.txt"}},
	}

	clone := original.Clone()
	clone.ToolCalls[0].Input[2] = 'X'
	clone.ToolCalls[0].Name = "changed"
	clone.ToolResults[0].Content = "changed"

	if string(original.ToolCalls[0].Input) != `{"path":"."}` {
		t.Fatalf("input mutated through clone: %s", original.ToolCalls[0].Input)
	}
	if original.ToolCalls[0].Name != "list_files" {
		t.Fatalf("tool call mutated through clone")
	}
	if original.ToolResults[0].Content != "a.txt" {
		t.Fatalf("tool result mutated through clone")
	}
}

func TestTurnCloneEmpty(t *testing.T) {
	clone := Turn{Role: RoleUser, Content: "hi"}.Clone()
	if clone.ToolCalls != nil || clone.ToolResults != nil {
		t.Fatalf("expected nil slices, got %#v", clone)
	}
	if clone.Content != "hi" {
		t.Fatalf("content = %q", clone.Content)
	}
}
