package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/neomagi/neomagi/internal/store"
)

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

// ErrMemoryWrite is returned when an append would push a daily note file
// past its byte budget.
const ErrMemoryWrite = sentinelError("memory write rejected: daily note would exceed size limit")

// ResolvedCandidate is a flush candidate with its scope already resolved,
// the boundary type the Agent Loop hands to Writer.ProcessFlushCandidates
// (mirrors the original's agent-layer -> memory-layer mapping step).
type ResolvedCandidate struct {
	CandidateText   string
	ScopeKey        string
	SourceSessionID string
	Confidence      float64
}

// Writer appends entries to workspace daily notes files and, best-effort,
// indexes them for search. Source of truth is the file; the index is a
// derived artifact (spec §4.11).
type Writer struct {
	workspaceDir      string
	maxDailyNoteBytes int
	indexer           *Indexer
}

// NewWriter builds a Writer rooted at workspaceDir. indexer may be nil,
// in which case writes succeed without indexing.
func NewWriter(workspaceDir string, maxDailyNoteBytes int, indexer *Indexer) *Writer {
	if maxDailyNoteBytes <= 0 {
		maxDailyNoteBytes = 1 << 20
	}
	return &Writer{workspaceDir: workspaceDir, maxDailyNoteBytes: maxDailyNoteBytes, indexer: indexer}
}

// AppendDailyNote appends a timestamped, scope-tagged entry to
// memory/YYYY-MM-DD.md, creating the file and directory if needed.
// Implements tools.MemoryWriter.
func (w *Writer) AppendDailyNote(ctx context.Context, text, scopeKey, source string) (string, error) {
	if scopeKey == "" {
		scopeKey = "main"
	}

	today := time.Now().UTC().Format("2006-01-02")
	memoryDir := filepath.Join(w.workspaceDir, "memory")
	if err := os.MkdirAll(memoryDir, 0o755); err != nil {
		return "", fmt.Errorf("memory: mkdir: %w", err)
	}
	filename := today + ".md"
	filePath := filepath.Join(memoryDir, filename)

	now := time.Now().UTC()
	entry := fmt.Sprintf("---\n[%s] (source: %s, scope: %s)\n%s\n", now.Format("15:04"), source, scopeKey, text)
	entryBytes := []byte(entry)

	var currentSize int64
	if info, err := os.Stat(filePath); err == nil {
		currentSize = info.Size()
	}
	if currentSize+int64(len(entryBytes)) > int64(w.maxDailyNoteBytes) {
		return "", fmt.Errorf("memory: %s: %w", filename, ErrMemoryWrite)
	}

	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("memory: open: %w", err)
	}
	if _, err := f.Write(entryBytes); err != nil {
		f.Close()
		return "", fmt.Errorf("memory: write: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("memory: close: %w", err)
	}

	if w.indexer != nil {
		relPath := filepath.Join("memory", filename)
		if err := w.indexer.IndexEntryDirect(ctx, store.MemoryEntry{
			ScopeKey:   scopeKey,
			SourceType: store.SourceDailyNote,
			SourcePath: relPath,
			SourceDate: today,
			Content:    text,
		}); err != nil {
			// Best-effort: index failure must not block the write path.
			_ = err
		}
	}

	return filePath, nil
}

// ProcessFlushCandidates filters candidates by minConfidence and
// non-empty text, persisting the rest to today's daily note. It stops at
// the first ErrMemoryWrite, since that signals the file limit is reached
// and further appends will fail the same way. Returns the count written.
func (w *Writer) ProcessFlushCandidates(ctx context.Context, candidates []ResolvedCandidate, minConfidence float64) (int, error) {
	written := 0
	for _, c := range candidates {
		if c.Confidence < minConfidence {
			continue
		}
		if strings.TrimSpace(c.CandidateText) == "" {
			continue
		}

		if _, err := w.AppendDailyNote(ctx, c.CandidateText, c.ScopeKey, "compaction_flush"); err != nil {
			if errors.Is(err, ErrMemoryWrite) {
				break
			}
			return written, err
		}
		written++
	}
	return written, nil
}
