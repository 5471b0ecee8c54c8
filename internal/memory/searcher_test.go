package memory

import (
	"context"
	"testing"

	"github.com/neomagi/neomagi/internal/store"
)

func TestSearcher_Search_MapsEntries(t *testing.T) {
	ms := newFakeMemoryStore()
	ms.searchRes = []store.MemoryEntry{
		{Title: "t1", Content: "c1", Tags: []string{"fact"}, SourceType: store.SourceDailyNote},
	}
	s := NewSearcher(ms)
	results, err := s.Search(context.Background(), "main", "query", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Title != "t1" || results[0].Content != "c1" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestToolSearcher_ImplementsToolsInterface(t *testing.T) {
	ms := newFakeMemoryStore()
	ms.searchRes = []store.MemoryEntry{{Title: "t1", Content: "c1"}}
	ts := NewToolSearcher(NewSearcher(ms))

	results, err := ts.Search(context.Background(), "main", "query", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Title != "t1" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestSearcher_SearchForRecall_MapsToPromptBuilderShape(t *testing.T) {
	ms := newFakeMemoryStore()
	ms.searchRes = []store.MemoryEntry{{Title: "t1", Content: "c1"}}
	s := NewSearcher(ms)

	results, err := s.SearchForRecall(context.Background(), "main", "query", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Title != "t1" || results[0].Content != "c1" {
		t.Fatalf("unexpected results: %+v", results)
	}
}
