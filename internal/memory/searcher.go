package memory

import (
	"context"

	"github.com/neomagi/neomagi/internal/promptbuilder"
	"github.com/neomagi/neomagi/internal/store"
	"github.com/neomagi/neomagi/internal/tools"
)

// SearchResult is one hit from the memory index, carrying the full
// store.MemoryEntry fields a caller might want beyond the narrower
// tools.MemorySearchResult / promptbuilder.RecallResult projections.
type SearchResult struct {
	Title      string
	Content    string
	Tags       []string
	SourceType store.MemorySourceType
	Score      float64
}

// Searcher performs scope-aware full-text search against the memory
// index. Scope filtering is mandatory; store.MemoryStore.Search has no
// bypass path (spec §4.11).
type Searcher struct {
	store store.MemoryStore
}

// NewSearcher builds a Searcher over ms.
func NewSearcher(ms store.MemoryStore) *Searcher {
	return &Searcher{store: ms}
}

// Search runs query against the index scoped to scopeKey, capped at
// limit results.
func (s *Searcher) Search(ctx context.Context, scopeKey, query string, limit int) ([]SearchResult, error) {
	entries, err := s.store.Search(ctx, scopeKey, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(entries))
	for _, e := range entries {
		out = append(out, SearchResult{
			Title:      e.Title,
			Content:    e.Content,
			Tags:       e.Tags,
			SourceType: e.SourceType,
		})
	}
	return out, nil
}

// ToolSearcher adapts Searcher to tools.MemorySearcher, the narrow
// interface the memory_search built-in tool depends on.
type ToolSearcher struct {
	searcher *Searcher
}

// NewToolSearcher wraps searcher for the tools package.
func NewToolSearcher(searcher *Searcher) *ToolSearcher {
	return &ToolSearcher{searcher: searcher}
}

// Search implements tools.MemorySearcher.
func (a *ToolSearcher) Search(ctx context.Context, scopeKey, query string, limit int) ([]tools.MemorySearchResult, error) {
	results, err := a.searcher.Search(ctx, scopeKey, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]tools.MemorySearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, tools.MemorySearchResult{Title: r.Title, Content: r.Content, Tags: r.Tags})
	}
	return out, nil
}

// SearchForRecall adapts Search's result shape to the prompt builder's
// memory-recall layer.
func (s *Searcher) SearchForRecall(ctx context.Context, scopeKey, query string, limit int) ([]promptbuilder.RecallResult, error) {
	results, err := s.Search(ctx, scopeKey, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]promptbuilder.RecallResult, 0, len(results))
	for _, r := range results {
		out = append(out, promptbuilder.RecallResult{Title: r.Title, Content: r.Content})
	}
	return out, nil
}
