package toolconv

import (
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/clawcore/pkg/models"
)

// ToOpenAITools converts tool declarations to OpenAI function definitions.
// The same shape is accepted by every OpenAI-compatible endpoint.
func ToOpenAITools(specs []models.ToolSpec) []openai.Tool {
	if len(specs) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(specs))
	for i, spec := range specs {
		var schemaMap map[string]any
		if err := json.Unmarshal(schemaOrEmpty(spec.Schema), &schemaMap); err != nil {
			schemaMap = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}

		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

func schemaOrEmpty(schema json.RawMessage) json.RawMessage {
	if len(schema) == 0 {
		return emptyObjectSchema
	}
	return schema
}
