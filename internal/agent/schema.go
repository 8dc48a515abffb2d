package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// compileToolSchema compiles a tool's parameter schema. An empty schema
// accepts any object.
func compileToolSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	if len(bytes.TrimSpace(schema)) == 0 {
		return nil, nil
	}
	compiled, err := jsonschema.CompileString("tool_"+name+".json", string(schema))
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", name, err)
	}
	return compiled, nil
}

// validateToolInput decodes raw arguments and checks them against schema.
// Missing arguments are treated as an empty object.
func validateToolInput(schema *jsonschema.Schema, raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		raw = json.RawMessage(`{}`)
	}
	var payload any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if _, ok := payload.(map[string]any); !ok {
		return nil, fmt.Errorf("arguments must be a JSON object")
	}
	if schema == nil {
		return raw, nil
	}
	if err := schema.Validate(payload); err != nil {
		return nil, fmt.Errorf("arguments do not match schema: %s", summarizeSchemaError(err))
	}
	return raw, nil
}

// summarizeSchemaError flattens a validation error into one line the model
// can act on.
func summarizeSchemaError(err error) string {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	var msgs []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			msgs = append(msgs, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return strings.Join(msgs, "; ")
}
