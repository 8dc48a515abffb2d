package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/haasonsaas/clawcore/internal/agent"
)

const maxListEntries = 500

// ListTool lists a workspace directory.
type ListTool struct {
	base
}

// NewListTool creates a directory listing tool.
func NewListTool(cfg Config) *ListTool {
	return &ListTool{base: base{cfg: cfg}}
}

// Name returns the tool name.
func (t *ListTool) Name() string {
	return "list_files"
}

// Description returns the tool description.
func (t *ListTool) Description() string {
	return "List the entries of a directory in the workspace."
}

// Schema returns the JSON schema for the tool parameters.
func (t *ListTool) Schema() json.RawMessage {
	return mustSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to list (relative to workspace, default: .).",
			},
		},
	})
}

type listEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// Execute lists the directory.
func (t *ListTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
		}
	}
	if input.Path == "" {
		input.Path = "."
	}

	resolved, err := t.resolver(ctx).Resolve(input.Path)
	if err != nil {
		return resolveError(err)
	}
	dirEntries, err := os.ReadDir(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("read directory: %v", err)), nil
	}

	entries := make([]listEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		entry := listEntry{Name: de.Name(), IsDir: de.IsDir()}
		if info, err := de.Info(); err == nil && !de.IsDir() {
			entry.Size = info.Size()
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	truncated := len(entries) > maxListEntries
	if truncated {
		entries = entries[:maxListEntries]
	}
	return jsonResult(map[string]interface{}{
		"path":      input.Path,
		"entries":   entries,
		"truncated": truncated,
	})
}
