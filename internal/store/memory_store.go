package store

import "context"

// MemorySourceType tags where a memory entry came from.
type MemorySourceType string

const (
	SourceDailyNote      MemorySourceType = "daily_note"
	SourceCurated        MemorySourceType = "curated"
	SourceFlushCandidate MemorySourceType = "flush_candidate"
)

// MemoryEntry is a row in the indexed memory store (spec §3).
type MemoryEntry struct {
	ScopeKey     string
	SourceType   MemorySourceType
	SourcePath   string // optional
	SourceDate   string // optional, YYYY-MM-DD
	Title        string
	Content      string
	Tags         []string
	Confidence   *float64
}

// MemoryStore is the search-index half of the Memory Writer + Indexer
// (C9). The file-backed daily-notes half lives in internal/memory and has
// no database dependency; this interface is only the delete-then-reinsert
// full-text index spec §4.11/§6 describes.
type MemoryStore interface {
	// Reindex deletes any existing rows for sourcePath (idempotent no-op
	// if none exist) and inserts entries. A source file (a daily note or
	// MEMORY.md) can fan out into several entries; reindexing an
	// unchanged source must not increase the total row count.
	Reindex(ctx context.Context, sourcePath string, entries []MemoryEntry) error

	// IndexEntryDirect inserts a single entry with no prior delete, for
	// the writer's best-effort incremental index after an append.
	IndexEntryDirect(ctx context.Context, entry MemoryEntry) error

	// Search performs a parameterized full-text query with a mandatory
	// scope_key = scopeKey predicate; there is no bypass path. Every
	// returned entry has ScopeKey == scopeKey.
	Search(ctx context.Context, scopeKey, query string, limit int) ([]MemoryEntry, error)
}
