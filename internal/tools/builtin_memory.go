package tools

import (
	"context"
	"fmt"
)

// MemoryWriter is the narrow interface memory_append needs, satisfied by
// internal/memory's daily-note writer. Defined here rather than imported
// to keep this package dependency-free of the memory package's file and
// index plumbing.
type MemoryWriter interface {
	AppendDailyNote(ctx context.Context, text, scopeKey, source string) (path string, err error)
}

// MemorySearchResult is one hit returned by MemorySearcher.Search.
type MemorySearchResult struct {
	Title   string
	Content string
	Tags    []string
}

// MemorySearcher is the narrow interface memory_search needs, satisfied
// by internal/memory's indexer-backed search.
type MemorySearcher interface {
	Search(ctx context.Context, scopeKey, query string, limit int) ([]MemorySearchResult, error)
}

// MemoryAppendTool appends a note to the caller's scoped daily-notes file.
// Risk level is high: it is a write with no undo.
type MemoryAppendTool struct {
	baseTool
	writer MemoryWriter
}

// NewMemoryAppendTool builds the memory_append tool.
func NewMemoryAppendTool(writer MemoryWriter) *MemoryAppendTool {
	return &MemoryAppendTool{writer: writer}
}

func (t *MemoryAppendTool) Name() string        { return "memory_append" }
func (t *MemoryAppendTool) Description() string { return "Append a note to long-term memory" }
func (t *MemoryAppendTool) Group() Group        { return GroupMemory }
func (t *MemoryAppendTool) AllowedModes() map[Mode]bool {
	return map[Mode]bool{ModeChatSafe: true, ModeCoding: true}
}

func (t *MemoryAppendTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{
				"type":        "string",
				"description": "The note text to remember",
			},
		},
		"required": []string{"text"},
	}
}

func (t *MemoryAppendTool) Execute(ctx context.Context, args map[string]interface{}, tc Context) (map[string]interface{}, error) {
	text, _ := args["text"].(string)
	if text == "" {
		return map[string]interface{}{"error_code": "INVALID_ARGS", "message": "text is required"}, nil
	}

	scopeKey := tc.ScopeKey
	if scopeKey == "" {
		scopeKey = "main"
	}

	path, err := t.writer.AppendDailyNote(ctx, text, scopeKey, "user")
	if err != nil {
		return map[string]interface{}{"error_code": "WRITE_ERROR", "message": err.Error()}, nil
	}

	return map[string]interface{}{
		"ok":      true,
		"path":    path,
		"message": "saved to memory",
	}, nil
}

// MemorySearchTool searches the scoped memory index.
type MemorySearchTool struct {
	baseTool
	searcher MemorySearcher
}

// NewMemorySearchTool builds the memory_search tool.
func NewMemorySearchTool(searcher MemorySearcher) *MemorySearchTool {
	return &MemorySearchTool{searcher: searcher}
}

func (t *MemorySearchTool) Name() string        { return "memory_search" }
func (t *MemorySearchTool) Description() string { return "Search long-term memory" }
func (t *MemorySearchTool) Group() Group        { return GroupMemory }
func (t *MemorySearchTool) RiskLevel() RiskLevel { return RiskLow }
func (t *MemorySearchTool) AllowedModes() map[Mode]bool {
	return map[Mode]bool{ModeChatSafe: true, ModeCoding: true}
}

func (t *MemorySearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search query",
			},
		},
		"required": []string{"query"},
	}
}

func (t *MemorySearchTool) Execute(ctx context.Context, args map[string]interface{}, tc Context) (map[string]interface{}, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return map[string]interface{}{"error_code": "INVALID_ARGS", "message": "query is required"}, nil
	}

	scopeKey := tc.ScopeKey
	if scopeKey == "" {
		scopeKey = "main"
	}

	results, err := t.searcher.Search(ctx, scopeKey, query, 10)
	if err != nil {
		return nil, fmt.Errorf("memory_search: %w", err)
	}

	out := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]interface{}{
			"title":   r.Title,
			"content": r.Content,
			"tags":    r.Tags,
		})
	}
	return map[string]interface{}{"results": out}, nil
}
