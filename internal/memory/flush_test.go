package memory

import "testing"

func turn(seq int64, content string) FlushTurn {
	return FlushTurn{Messages: []FlushMessage{
		{Role: "user", Content: content, Seq: seq},
		{Role: "assistant", Content: "ok", Seq: seq + 1},
	}}
}

func TestGenerate_EmptyTurnsYieldsNoCandidates(t *testing.T) {
	g := NewGenerator(GeneratorLimits{})
	if got := g.Generate(nil, "main"); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestGenerate_ExplicitPreferenceHighConfidence(t *testing.T) {
	g := NewGenerator(GeneratorLimits{})
	got := g.Generate([]FlushTurn{turn(0, "Remember that I always prefer dark mode")}, "s1")
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if got[0].Confidence < 0.8 {
		t.Fatalf("expected high confidence, got %f", got[0].Confidence)
	}
}

func TestGenerate_ChineseExplicitPreference(t *testing.T) {
	g := NewGenerator(GeneratorLimits{})
	got := g.Generate([]FlushTurn{turn(0, "我喜欢用 Python 写代码，请记住这一点")}, "s1")
	if len(got) != 1 || got[0].Confidence < 0.8 {
		t.Fatalf("expected high-confidence candidate, got %+v", got)
	}
	found := false
	for _, tag := range got[0].ConstraintTags {
		if tag == "user_preference" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected user_preference tag, got %v", got[0].ConstraintTags)
	}
}

func TestGenerate_SafetyBoundaryTag(t *testing.T) {
	g := NewGenerator(GeneratorLimits{})
	got := g.Generate([]FlushTurn{turn(0, "永远不要删除我的文件")}, "s1")
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	found := false
	for _, tag := range got[0].ConstraintTags {
		if tag == "safety_boundary" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected safety_boundary tag, got %v", got[0].ConstraintTags)
	}
}

func TestGenerate_DecisionConfirmationMediumConfidence(t *testing.T) {
	g := NewGenerator(GeneratorLimits{})
	got := g.Generate([]FlushTurn{turn(0, "We decided to use Postgres for storage")}, "s1")
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if got[0].Confidence < 0.5 || got[0].Confidence > 0.7 {
		t.Fatalf("expected medium confidence, got %f", got[0].Confidence)
	}
}

func TestGenerate_CasualAcknowledmentSkipped(t *testing.T) {
	g := NewGenerator(GeneratorLimits{})
	got := g.Generate([]FlushTurn{turn(0, "thanks")}, "s1")
	if len(got) != 0 {
		t.Fatalf("expected casual ack skipped, got %+v", got)
	}
}

func TestGenerate_ShortGeneralTextSkipped(t *testing.T) {
	g := NewGenerator(GeneratorLimits{})
	got := g.Generate([]FlushTurn{turn(0, "ok sure")}, "s1")
	if len(got) != 0 {
		t.Fatalf("expected short unremarkable text skipped, got %+v", got)
	}
}

func TestGenerate_RespectsMaxCandidates(t *testing.T) {
	g := NewGenerator(GeneratorLimits{MaxCandidates: 1})
	turns := []FlushTurn{
		turn(0, "Remember that I always prefer dark mode"),
		turn(2, "Remember that I always prefer vim keybindings"),
	}
	got := g.Generate(turns, "s1")
	if len(got) != 1 {
		t.Fatalf("expected cap at 1 candidate, got %d", len(got))
	}
}

func TestGenerate_TruncatesLongTextUTF8Safe(t *testing.T) {
	g := NewGenerator(GeneratorLimits{MaxTextBytes: 10})
	longText := "Remember 日本語のテキスト that I always prefer"
	got := g.Generate([]FlushTurn{turn(0, longText)}, "s1")
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if len(got[0].CandidateText) > 10 {
		t.Fatalf("expected truncation to <=10 bytes, got %d", len(got[0].CandidateText))
	}
	for _, r := range got[0].CandidateText {
		if r == '�' {
			t.Fatal("expected no invalid UTF-8 replacement rune from truncation")
		}
	}
}

func TestGenerate_ConfidenceClampedToUnitInterval(t *testing.T) {
	_, conf := classify("Remember that I always prefer dark mode")
	if conf < 0 || conf > 1 {
		t.Fatalf("expected confidence in [0,1], got %f", conf)
	}
}
