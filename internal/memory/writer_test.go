package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAppendDailyNote_CreatesFileWithMetadataLine(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, 0, nil)

	path, err := w.AppendDailyNote(context.Background(), "likes dark mode", "main", "user")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "likes dark mode") {
		t.Fatalf("expected entry text present: %s", content)
	}
	if !strings.Contains(content, "scope: main") {
		t.Fatalf("expected scope metadata present: %s", content)
	}
}

func TestAppendDailyNote_AppendsToExistingFile(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, 0, nil)
	ctx := context.Background()

	w.AppendDailyNote(ctx, "first note", "main", "user")
	path, err := w.AppendDailyNote(ctx, "second note", "main", "user")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ := os.ReadFile(path)
	content := string(data)
	if !strings.Contains(content, "first note") || !strings.Contains(content, "second note") {
		t.Fatalf("expected both entries present: %s", content)
	}
}

func TestAppendDailyNote_RejectsOverSizeBudget(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, 10, nil)

	_, err := w.AppendDailyNote(context.Background(), "this note is far longer than ten bytes", "main", "user")
	if !errors.Is(err, ErrMemoryWrite) {
		t.Fatalf("expected ErrMemoryWrite, got %v", err)
	}
}

func TestAppendDailyNote_DefaultsToMainScope(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, 0, nil)
	path, err := w.AppendDailyNote(context.Background(), "note", "", "user")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "scope: main") {
		t.Fatalf("expected default scope main: %s", string(data))
	}
}

func TestProcessFlushCandidates_FiltersBelowMinConfidence(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, 0, nil)
	candidates := []ResolvedCandidate{
		{CandidateText: "low signal", ScopeKey: "main", Confidence: 0.2},
		{CandidateText: "high signal note", ScopeKey: "main", Confidence: 0.9},
	}
	written, err := w.ProcessFlushCandidates(context.Background(), candidates, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if written != 1 {
		t.Fatalf("expected 1 written, got %d", written)
	}

	today := time.Now().UTC().Format("2006-01-02") + ".md"
	data, _ := os.ReadFile(filepath.Join(dir, "memory", today))
	if strings.Contains(string(data), "low signal") {
		t.Fatalf("expected low-confidence candidate skipped: %s", string(data))
	}
}

func TestProcessFlushCandidates_SkipsEmptyText(t *testing.T) {
	w := NewWriter(t.TempDir(), 0, nil)
	written, err := w.ProcessFlushCandidates(context.Background(), []ResolvedCandidate{
		{CandidateText: "   ", ScopeKey: "main", Confidence: 0.9},
	}, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if written != 0 {
		t.Fatalf("expected 0 written for blank text, got %d", written)
	}
}

func TestProcessFlushCandidates_StopsAtSizeLimit(t *testing.T) {
	w := NewWriter(t.TempDir(), 20, nil)
	candidates := []ResolvedCandidate{
		{CandidateText: "first note here", ScopeKey: "main", Confidence: 0.9},
		{CandidateText: "second note here", ScopeKey: "main", Confidence: 0.9},
	}
	written, err := w.ProcessFlushCandidates(context.Background(), candidates, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if written >= len(candidates) {
		t.Fatalf("expected write to stop before exhausting candidates, wrote %d", written)
	}
}
