package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/neomagi/neomagi/internal/store"
)

type fakeMemoryStore struct {
	reindexed map[string][]store.MemoryEntry
	direct    []store.MemoryEntry
	searchRes []store.MemoryEntry
}

func newFakeMemoryStore() *fakeMemoryStore {
	return &fakeMemoryStore{reindexed: make(map[string][]store.MemoryEntry)}
}

func (f *fakeMemoryStore) Reindex(ctx context.Context, sourcePath string, entries []store.MemoryEntry) error {
	f.reindexed[sourcePath] = entries
	return nil
}

func (f *fakeMemoryStore) IndexEntryDirect(ctx context.Context, entry store.MemoryEntry) error {
	f.direct = append(f.direct, entry)
	return nil
}

func (f *fakeMemoryStore) Search(ctx context.Context, scopeKey, query string, limit int) ([]store.MemoryEntry, error) {
	return f.searchRes, nil
}

func TestIndexDailyNote_SplitsOnSeparatorAndDefaultsScope(t *testing.T) {
	dir := t.TempDir()
	memoryDir := filepath.Join(dir, "memory")
	os.MkdirAll(memoryDir, 0o755)
	filePath := filepath.Join(memoryDir, "2026-07-30.md")
	content := "---\n[09:00] (source: user, scope: main)\nfirst entry\n---\n[10:00] (source: user, scope: work)\nsecond entry\n"
	os.WriteFile(filePath, []byte(content), 0o644)

	ms := newFakeMemoryStore()
	idx := NewIndexer(dir, ms)
	n, err := idx.IndexDailyNote(context.Background(), filePath, "main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 entries, got %d", n)
	}

	relPath := filepath.Join("memory", "2026-07-30.md")
	entries, ok := ms.reindexed[relPath]
	if !ok || len(entries) != 2 {
		t.Fatalf("expected reindex called with 2 entries for %s, got %v", relPath, ms.reindexed)
	}
	if entries[0].ScopeKey != "main" || entries[1].ScopeKey != "work" {
		t.Fatalf("expected scopes extracted per entry, got %+v", entries)
	}
	if entries[0].Content != "first entry" || entries[1].Content != "second entry" {
		t.Fatalf("expected metadata line stripped, got %+v", entries)
	}
}

func TestIndexDailyNote_UnlabeledEntryDefaultsToGivenScope(t *testing.T) {
	dir := t.TempDir()
	memoryDir := filepath.Join(dir, "memory")
	os.MkdirAll(memoryDir, 0o755)
	filePath := filepath.Join(memoryDir, "2026-07-30.md")
	os.WriteFile(filePath, []byte("legacy entry with no scope metadata"), 0o644)

	ms := newFakeMemoryStore()
	idx := NewIndexer(dir, ms)
	n, err := idx.IndexDailyNote(context.Background(), filePath, "main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 entry, got %d", n)
	}
	relPath := filepath.Join("memory", "2026-07-30.md")
	if ms.reindexed[relPath][0].ScopeKey != "main" {
		t.Fatalf("expected default scope main, got %q", ms.reindexed[relPath][0].ScopeKey)
	}
}

func TestIndexDailyNote_MissingFileReturnsZero(t *testing.T) {
	ms := newFakeMemoryStore()
	idx := NewIndexer(t.TempDir(), ms)
	n, err := idx.IndexDailyNote(context.Background(), filepath.Join(t.TempDir(), "missing.md"), "main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 entries for missing file, got %d", n)
	}
}

func TestIndexCuratedMemory_SplitsByHeaders(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "MEMORY.md")
	content := "## Preferences\nLikes dark mode\n\n## Facts\nUses Go professionally\n"
	os.WriteFile(filePath, []byte(content), 0o644)

	ms := newFakeMemoryStore()
	idx := NewIndexer(dir, ms)
	n, err := idx.IndexCuratedMemory(context.Background(), filePath, "main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 sections, got %d", n)
	}
	entries := ms.reindexed["MEMORY.md"]
	if entries[0].Title != "Preferences" || entries[1].Title != "Facts" {
		t.Fatalf("expected section titles captured, got %+v", entries)
	}
}

func TestReindexAll_WalksDailyNotesAndCuratedMemory(t *testing.T) {
	dir := t.TempDir()
	memoryDir := filepath.Join(dir, "memory")
	os.MkdirAll(memoryDir, 0o755)
	os.WriteFile(filepath.Join(memoryDir, "2026-07-29.md"), []byte("day one note"), 0o644)
	os.WriteFile(filepath.Join(memoryDir, "2026-07-30.md"), []byte("day two note"), 0o644)
	os.WriteFile(filepath.Join(dir, "MEMORY.md"), []byte("## Section\nbody text"), 0o644)

	ms := newFakeMemoryStore()
	idx := NewIndexer(dir, ms)
	total, err := idx.ReindexAll(context.Background(), "main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 entries total (2 daily notes + 1 curated section), got %d", total)
	}
}

func TestIndexEntryDirect_InsertsWithoutDelete(t *testing.T) {
	ms := newFakeMemoryStore()
	idx := NewIndexer(t.TempDir(), ms)
	err := idx.IndexEntryDirect(context.Background(), store.MemoryEntry{ScopeKey: "main", Content: "note"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ms.direct) != 1 {
		t.Fatalf("expected 1 direct insert, got %d", len(ms.direct))
	}
}
