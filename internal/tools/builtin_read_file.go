package tools

import (
	"context"
	"os"
)

// ReadFileTool reads a UTF-8 text file rooted at workspace. Adapted from
// the teacher's internal/tools/filesystem.go ReadFileTool, generalized
// from read_file.py: absolute paths and any path that resolves outside
// workspace are rejected.
type ReadFileTool struct {
	baseTool
	workspace string
}

// NewReadFileTool builds the read_file tool rooted at workspace.
func NewReadFileTool(workspace string) *ReadFileTool {
	return &ReadFileTool{workspace: workspace}
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a file in the workspace" }
func (t *ReadFileTool) AllowedModes() map[Mode]bool {
	return map[Mode]bool{ModeChatSafe: true, ModeCoding: true}
}

func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file, relative to the workspace",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}, tc Context) (map[string]interface{}, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return map[string]interface{}{"error_code": "INVALID_ARGS", "message": "path is required"}, nil
	}

	resolved, err := resolveInWorkspace(path, t.workspace)
	if err != nil {
		return map[string]interface{}{"error_code": "ACCESS_DENIED", "message": err.Error()}, nil
	}

	info, err := os.Stat(resolved)
	if err != nil || info.IsDir() {
		return map[string]interface{}{"error_code": "FILE_NOT_FOUND", "message": "no such file: " + path}, nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return map[string]interface{}{"error_code": "READ_ERROR", "message": err.Error()}, nil
	}

	return map[string]interface{}{
		"content": string(data),
		"path":    path,
		"size":    len(data),
	}, nil
}
