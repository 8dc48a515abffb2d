package toolconv

import (
	"encoding/json"
	"strings"

	"google.golang.org/genai"

	"github.com/haasonsaas/clawcore/pkg/models"
)

// ToGeminiTools converts tool declarations to a single Gemini tool holding
// one function declaration per spec. Specs with unparsable schemas are
// skipped.
func ToGeminiTools(specs []models.ToolSpec) []*genai.Tool {
	if len(specs) == 0 {
		return nil
	}

	declarations := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		var schemaMap map[string]any
		if err := json.Unmarshal(schemaOrEmpty(spec.Schema), &schemaMap); err != nil {
			continue
		}

		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  ToGeminiSchema(schemaMap),
		})
	}

	if len(declarations) == 0 {
		return nil
	}

	return []*genai.Tool{
		{
			FunctionDeclarations: declarations,
		},
	}
}

// ToGeminiSchema converts a JSON Schema map to Gemini's Schema type.
// A type list such as ["string", "null"] becomes a nullable scalar.
func ToGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}
	for key, value := range schemaMap {
		switch key {
		case "type":
			applyGeminiType(schema, value)
		case "description":
			schema.Description, _ = value.(string)
		case "format":
			schema.Format, _ = value.(string)
		case "enum":
			schema.Enum = stringList(value)
		case "required":
			schema.Required = stringList(value)
		case "minimum":
			if f, ok := value.(float64); ok {
				schema.Minimum = &f
			}
		case "maximum":
			if f, ok := value.(float64); ok {
				schema.Maximum = &f
			}
		case "items":
			if items, ok := value.(map[string]any); ok {
				schema.Items = ToGeminiSchema(items)
			}
		case "properties":
			props, _ := value.(map[string]any)
			if len(props) == 0 {
				continue
			}
			schema.Properties = make(map[string]*genai.Schema, len(props))
			for name, prop := range props {
				if propMap, ok := prop.(map[string]any); ok {
					schema.Properties[name] = ToGeminiSchema(propMap)
				}
			}
		}
	}
	return schema
}

func applyGeminiType(schema *genai.Schema, value any) {
	switch v := value.(type) {
	case string:
		schema.Type = genai.Type(strings.ToUpper(v))
	case []any:
		for _, item := range v {
			name, _ := item.(string)
			if name == "null" {
				nullable := true
				schema.Nullable = &nullable
				continue
			}
			if name != "" && schema.Type == "" {
				schema.Type = genai.Type(strings.ToUpper(name))
			}
		}
	}
}

func stringList(value any) []string {
	items, _ := value.([]any)
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
