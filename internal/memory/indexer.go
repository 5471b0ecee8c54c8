package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/neomagi/neomagi/internal/store"
)

// Indexer syncs memory files to the Postgres search index. Files are the
// source of truth; the index is a derived, delete-reinsert artifact kept
// in store.MemoryStore (spec §4.11).
type Indexer struct {
	workspaceDir string
	store        store.MemoryStore
}

// NewIndexer builds an Indexer rooted at workspaceDir.
func NewIndexer(workspaceDir string, ms store.MemoryStore) *Indexer {
	return &Indexer{workspaceDir: workspaceDir, store: ms}
}

var entrySplitRE = regexp.MustCompile(`(?m)^---$`)
var metadataLineRE = regexp.MustCompile(`^\[[\d:]+\]`)
var scopeMetaRE = regexp.MustCompile(`scope:\s*(\S+)`)
var dateFilenameRE = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})\.md$`)

// IndexDailyNote parses and indexes one memory/YYYY-MM-DD.md file,
// splitting on "---" separators. Entries without scope metadata index as
// scope_key=defaultScope for legacy compatibility. Returns the number of
// entries indexed.
func (idx *Indexer) IndexDailyNote(ctx context.Context, filePath, defaultScope string) (int, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("memory: read daily note: %w", err)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return 0, nil
	}

	filename := filepath.Base(filePath)
	sourceDate := ""
	if m := dateFilenameRE.FindStringSubmatch(filename); m != nil {
		sourceDate = m[1]
	}
	relPath := idx.relativePath(filePath)

	var entries []store.MemoryEntry
	for _, raw := range entrySplitRE.Split(content, -1) {
		stripped := strings.TrimSpace(raw)
		if stripped == "" {
			continue
		}
		entryScope := extractScope(stripped, defaultScope)
		entryText := extractEntryText(stripped)
		if entryText == "" {
			continue
		}
		entries = append(entries, store.MemoryEntry{
			ScopeKey:   entryScope,
			SourceType: store.SourceDailyNote,
			SourcePath: relPath,
			SourceDate: sourceDate,
			Content:    entryText,
		})
	}

	if err := idx.store.Reindex(ctx, relPath, entries); err != nil {
		return 0, fmt.Errorf("memory: reindex daily note: %w", err)
	}
	return len(entries), nil
}

// IndexCuratedMemory parses and indexes MEMORY.md by markdown headers,
// one ## (or leading #) section per memory_entries row.
func (idx *Indexer) IndexCuratedMemory(ctx context.Context, filePath, scopeKey string) (int, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("memory: read curated memory: %w", err)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return 0, nil
	}

	relPath := idx.relativePath(filePath)
	sections := splitByHeaders(content)

	var entries []store.MemoryEntry
	for _, s := range sections {
		body := strings.TrimSpace(s.body)
		if body == "" {
			continue
		}
		entries = append(entries, store.MemoryEntry{
			ScopeKey:   scopeKey,
			SourceType: store.SourceCurated,
			SourcePath: relPath,
			Title:      s.title,
			Content:    body,
		})
	}

	if err := idx.store.Reindex(ctx, relPath, entries); err != nil {
		return 0, fmt.Errorf("memory: reindex curated memory: %w", err)
	}
	return len(entries), nil
}

// ReindexAll performs a full reindex: memory/*.md then MEMORY.md.
func (idx *Indexer) ReindexAll(ctx context.Context, scopeKey string) (int, error) {
	total := 0
	memoryDir := filepath.Join(idx.workspaceDir, "memory")

	if info, err := os.Stat(memoryDir); err == nil && info.IsDir() {
		entries, err := os.ReadDir(memoryDir)
		if err != nil {
			return total, fmt.Errorf("memory: read memory dir: %w", err)
		}
		var names []string
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			n, err := idx.IndexDailyNote(ctx, filepath.Join(memoryDir, name), scopeKey)
			if err != nil {
				return total, err
			}
			total += n
		}
	}

	memoryMD := filepath.Join(idx.workspaceDir, "MEMORY.md")
	if _, err := os.Stat(memoryMD); err == nil {
		n, err := idx.IndexCuratedMemory(ctx, memoryMD, scopeKey)
		if err != nil {
			return total, err
		}
		total += n
	}

	return total, nil
}

// IndexEntryDirect inserts a single entry with no prior delete, used by
// the writer's best-effort index-after-append path.
func (idx *Indexer) IndexEntryDirect(ctx context.Context, entry store.MemoryEntry) error {
	return idx.store.IndexEntryDirect(ctx, entry)
}

func (idx *Indexer) relativePath(filePath string) string {
	rel, err := filepath.Rel(idx.workspaceDir, filePath)
	if err != nil {
		return filePath
	}
	return rel
}

func extractScope(entryText, defaultScope string) string {
	if m := scopeMetaRE.FindStringSubmatch(entryText); m != nil {
		return strings.TrimSuffix(m[1], ")")
	}
	return defaultScope
}

func extractEntryText(entryText string) string {
	lines := strings.Split(entryText, "\n")
	var content []string
	for _, line := range lines {
		if metadataLineRE.MatchString(line) {
			continue
		}
		content = append(content, line)
	}
	return strings.TrimSpace(strings.Join(content, "\n"))
}

type headerSection struct {
	title string
	body  string
}

// splitByHeaders splits markdown content by "## " (or a leading "# ")
// headers into (title, body) sections.
func splitByHeaders(content string) []headerSection {
	var sections []headerSection
	var title string
	var body []string

	flush := func() {
		if title != "" || len(body) > 0 {
			sections = append(sections, headerSection{title: title, body: strings.Join(body, "\n")})
		}
	}

	for _, line := range strings.Split(content, "\n") {
		switch {
		case strings.HasPrefix(line, "## "):
			flush()
			title = strings.TrimSpace(line[3:])
			body = nil
		case strings.HasPrefix(line, "# ") && title == "":
			title = strings.TrimSpace(line[2:])
			body = nil
		default:
			body = append(body, line)
		}
	}
	flush()
	return sections
}
