package curator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/neomagi/neomagi/internal/providers"
)

type fakeProvider struct {
	response string
	err      error
}

func (f *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &providers.ChatResponse{Content: f.response}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return f.Chat(ctx, req)
}

func (f *fakeProvider) DefaultModel() string { return "fake-model" }
func (f *fakeProvider) Name() string         { return "fake" }

func TestConsolidate_NoNotesIsNoChanges(t *testing.T) {
	result, err := Consolidate(context.Background(), &fakeProvider{}, nil, "old content", 4000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "no_changes" {
		t.Fatalf("expected no_changes, got %s", result.Status)
	}
}

func TestConsolidate_IdenticalProposalIsNoChanges(t *testing.T) {
	current := "## Preferences\nUser likes concise answers."
	provider := &fakeProvider{response: current}
	notes := []DailyNote{{Date: "2026-07-30", Content: "user asked for brevity again"}}

	result, err := Consolidate(context.Background(), provider, notes, current, 4000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "no_changes" {
		t.Fatalf("expected no_changes when proposal matches current content, got %s", result.Status)
	}
}

func TestConsolidate_UpdatedProposalReportsSectionDelta(t *testing.T) {
	current := "## Preferences\nUser likes concise answers."
	proposed := "## Preferences\nUser likes concise answers.\n\n## Schedule\nUser is usually offline after 10pm."
	provider := &fakeProvider{response: proposed}
	notes := []DailyNote{{Date: "2026-07-30", Content: "mentioned being offline after 10pm"}}

	result, err := Consolidate(context.Background(), provider, notes, current, 4000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "updated" {
		t.Fatalf("expected updated, got %s", result.Status)
	}
	if result.AdditionsCount != 1 {
		t.Fatalf("expected 1 added section, got %d", result.AdditionsCount)
	}
	if result.RemovalsCount != 0 {
		t.Fatalf("expected 0 removed sections, got %d", result.RemovalsCount)
	}
	if result.Truncated {
		t.Fatal("did not expect truncation")
	}
}

func TestConsolidate_TruncatesOversizedProposal(t *testing.T) {
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'x'
	}
	provider := &fakeProvider{response: string(long)}
	notes := []DailyNote{{Date: "2026-07-30", Content: "lots of detail"}}

	result, err := Consolidate(context.Background(), provider, notes, "", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Truncated {
		t.Fatal("expected truncation")
	}
	if len(result.NewContent) != 10 {
		t.Fatalf("expected content truncated to 10 chars, got %d", len(result.NewContent))
	}
}

func TestConsolidate_PropagatesProviderError(t *testing.T) {
	provider := &fakeProvider{err: context.DeadlineExceeded}
	notes := []DailyNote{{Date: "2026-07-30", Content: "anything"}}

	_, err := Consolidate(context.Background(), provider, notes, "", 4000)
	if err == nil {
		t.Fatal("expected error to propagate")
	}
}

func TestReadRecentDailyNotes_MissingMemoryDirReturnsEmpty(t *testing.T) {
	notes, err := ReadRecentDailyNotes(t.TempDir(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if notes != nil {
		t.Fatalf("expected nil notes, got %v", notes)
	}
}

func TestReadRecentDailyNotes_SkipsMissingAndEmptyFiles(t *testing.T) {
	workspace := t.TempDir()
	memoryDir := filepath.Join(workspace, "memory")
	if err := os.MkdirAll(memoryDir, 0o755); err != nil {
		t.Fatal(err)
	}

	today := time.Now().Format("2006-01-02")
	if err := os.WriteFile(filepath.Join(memoryDir, today+".md"), []byte("had a productive day"), 0o644); err != nil {
		t.Fatal(err)
	}

	notes, err := ReadRecentDailyNotes(workspace, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("expected 1 note, got %d", len(notes))
	}
	if notes[0].Content != "had a productive day" {
		t.Fatalf("unexpected content: %q", notes[0].Content)
	}
}

func TestValidateSchedule_RejectsEmptyAndInvalid(t *testing.T) {
	if err := ValidateSchedule(""); err == nil {
		t.Fatal("expected error for empty schedule")
	}
	if err := ValidateSchedule("not a cron expr"); err == nil {
		t.Fatal("expected error for malformed cron expression")
	}
}

func TestValidateSchedule_AcceptsValidCron(t *testing.T) {
	if err := ValidateSchedule("0 3 * * *"); err != nil {
		t.Fatalf("expected valid daily-at-3am cron to pass, got %v", err)
	}
}

