package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/clawcore/internal/agent"
)

// WriteTool writes or appends to files within the workspace.
type WriteTool struct {
	base
	append bool
}

// NewWriteTool creates the write_file tool, which replaces file contents.
func NewWriteTool(cfg Config) *WriteTool {
	return &WriteTool{base: base{cfg: cfg}}
}

// NewAppendTool creates the append_file tool.
func NewAppendTool(cfg Config) *WriteTool {
	return &WriteTool{base: base{cfg: cfg}, append: true}
}

// Name returns the tool name.
func (t *WriteTool) Name() string {
	if t.append {
		return "append_file"
	}
	return "write_file"
}

// Description returns the tool description.
func (t *WriteTool) Description() string {
	if t.append {
		return "Append content to the end of a file in the workspace, creating it if missing."
	}
	return "Write content to a file in the workspace, replacing any existing content."
}

// Schema returns the JSON schema for the tool parameters.
func (t *WriteTool) Schema() json.RawMessage {
	return mustSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to write (relative to workspace).",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Content to write.",
			},
		},
		"required": []string{"path", "content"},
	})
}

// Execute writes file contents.
func (t *WriteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}

	resolved, err := t.resolver(ctx).Resolve(input.Path)
	if err != nil {
		return resolveError(err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return toolError(fmt.Sprintf("create directory: %v", err)), nil
	}

	flags := os.O_CREATE | os.O_WRONLY
	if t.append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return toolError(fmt.Sprintf("open file: %v", err)), nil
	}
	n, err := file.WriteString(input.Content)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return toolError(fmt.Sprintf("write file: %v", err)), nil
	}

	return jsonResult(map[string]interface{}{
		"path":          input.Path,
		"bytes_written": n,
		"append":        t.append,
	})
}
