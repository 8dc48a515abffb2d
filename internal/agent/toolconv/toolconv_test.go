package toolconv

import (
	"encoding/json"
	"testing"

	"google.golang.org/genai"

	"github.com/haasonsaas/clawcore/pkg/models"
)

var readFileSpec = models.ToolSpec{
	Name:        "read_file",
	Description: "Read a file",
	Schema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "file path"},
			"mode": {"type": "string", "enum": ["text", "base64"]},
			"lines": {"type": "array", "items": {"type": "integer"}},
			"offset": {"type": ["integer", "null"], "minimum": 0}
		},
		"required": ["path"]
	}`),
}

func TestToAnthropicTools(t *testing.T) {
	tools, err := ToAnthropicTools([]models.ToolSpec{readFileSpec, {Name: "now", Description: "Current time"}})
	if err != nil {
		t.Fatalf("ToAnthropicTools: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	if tools[0].OfTool == nil || tools[0].OfTool.Name != "read_file" {
		t.Fatalf("unexpected first tool %+v", tools[0])
	}
	if _, err := ToAnthropicTool(models.ToolSpec{Name: "bad", Schema: json.RawMessage(`[`)}); err == nil {
		t.Fatal("expected error for invalid schema")
	}
	if tools, err := ToAnthropicTools(nil); err != nil || tools != nil {
		t.Fatalf("empty input: %v %v", tools, err)
	}
}

func TestToOpenAITools(t *testing.T) {
	tools := ToOpenAITools([]models.ToolSpec{readFileSpec, {Name: "broken", Schema: json.RawMessage(`{`)}})
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	params, ok := tools[0].Function.Parameters.(map[string]any)
	if !ok || params["type"] != "object" {
		t.Fatalf("unexpected parameters %#v", tools[0].Function.Parameters)
	}
	fallback, ok := tools[1].Function.Parameters.(map[string]any)
	if !ok || fallback["type"] != "object" {
		t.Fatalf("invalid schema should fall back to an empty object, got %#v", tools[1].Function.Parameters)
	}
}

func TestToGeminiTools(t *testing.T) {
	tools := ToGeminiTools([]models.ToolSpec{readFileSpec})
	if len(tools) != 1 || len(tools[0].FunctionDeclarations) != 1 {
		t.Fatalf("unexpected tools %+v", tools)
	}
	params := tools[0].FunctionDeclarations[0].Parameters
	if params.Type != genai.TypeObject {
		t.Fatalf("type = %q, want OBJECT", params.Type)
	}
	if got := params.Properties["mode"].Enum; len(got) != 2 || got[0] != "text" {
		t.Fatalf("enum not converted: %v", got)
	}
	if params.Properties["lines"].Items.Type != genai.TypeInteger {
		t.Fatalf("array items not converted")
	}
	if len(params.Required) != 1 || params.Required[0] != "path" {
		t.Fatalf("required not converted: %v", params.Required)
	}
	if ToGeminiTools(nil) != nil {
		t.Fatal("expected nil for no specs")
	}
}

func TestToGeminiSchemaNullableType(t *testing.T) {
	schema := ToGeminiSchema(map[string]any{
		"type":    []any{"integer", "null"},
		"minimum": float64(0),
	})
	if schema.Type != genai.TypeInteger {
		t.Fatalf("type = %q, want INTEGER", schema.Type)
	}
	if schema.Nullable == nil || !*schema.Nullable {
		t.Fatal("expected nullable schema")
	}
	if schema.Minimum == nil || *schema.Minimum != 0 {
		t.Fatalf("minimum not converted: %v", schema.Minimum)
	}
}
