package guardrail

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/neomagi/neomagi/internal/tools"
)

func writeWorkspaceFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadContract_ExtractsHeadingsAndBoldItems(t *testing.T) {
	dir := t.TempDir()
	writeWorkspaceFile(t, dir, "AGENTS.md", "# Be Honest\n\nsome text\n\n- **Never lie**: to the user\n")

	c := LoadContract(dir)
	if len(c.Anchors) != 2 {
		t.Fatalf("expected 2 anchors, got %v", c.Anchors)
	}
	if c.Anchors[0] != "Be Honest" || c.Anchors[1] != "Never lie" {
		t.Fatalf("unexpected anchors: %v", c.Anchors)
	}
	if c.SourceHash == "" {
		t.Fatal("expected non-empty source hash")
	}
}

func TestLoadContract_NoSourceFiles(t *testing.T) {
	dir := t.TempDir()
	c := LoadContract(dir)
	if len(c.Anchors) != 0 {
		t.Fatalf("expected no anchors, got %v", c.Anchors)
	}
}

func TestMaybeRefresh_SkipsWhenHashUnchanged(t *testing.T) {
	dir := t.TempDir()
	writeWorkspaceFile(t, dir, "AGENTS.md", "# Anchor One\n")
	c := LoadContract(dir)

	refreshed := MaybeRefresh(&c, dir)
	if len(refreshed.Anchors) != 1 || refreshed.Anchors[0] != "Anchor One" {
		t.Fatalf("unexpected refresh result: %v", refreshed)
	}

	writeWorkspaceFile(t, dir, "AGENTS.md", "# Anchor One\n# Anchor Two\n")
	refreshed = MaybeRefresh(&c, dir)
	if len(refreshed.Anchors) != 2 {
		t.Fatalf("expected refresh to pick up new anchor, got %v", refreshed.Anchors)
	}
}

func TestCheckPreLLM_NoContract(t *testing.T) {
	r := CheckPreLLM(CoreSafetyContract{}, "anything")
	if r.Passed || r.ErrorCode != ErrCodeContractUnavailable {
		t.Fatalf("expected contract unavailable, got %+v", r)
	}
}

func TestCheckPreLLM_MissingAnchor(t *testing.T) {
	c := CoreSafetyContract{Anchors: []string{"Be Honest", "Never lie"}}
	r := CheckPreLLM(c, "system prompt mentions Be Honest only")
	if r.Passed {
		t.Fatal("expected guard to fail")
	}
	if len(r.MissingAnchors) != 1 || r.MissingAnchors[0] != "Never lie" {
		t.Fatalf("unexpected missing anchors: %v", r.MissingAnchors)
	}
}

func TestCheckPreLLM_AllAnchorsPresent(t *testing.T) {
	c := CoreSafetyContract{Anchors: []string{"Be Honest"}}
	r := CheckPreLLM(c, "...Be Honest...")
	if !r.Passed {
		t.Fatalf("expected pass, got %+v", r)
	}
}

func TestCheckPreTool_PassedGuardAlwaysProceeds(t *testing.T) {
	if res := CheckPreTool(CheckResult{Passed: true}, "read_file", tools.RiskHigh); res != nil {
		t.Fatalf("expected proceed, got %+v", res)
	}
}

func TestCheckPreTool_HighRiskBlockedOnFailure(t *testing.T) {
	guardState := CheckResult{ErrorCode: ErrCodeAnchorMissing, Detail: "1 anchor(s) not visible"}
	res := CheckPreTool(guardState, "memory_append", tools.RiskHigh)
	if res == nil || res.Passed {
		t.Fatal("expected high-risk tool to be blocked")
	}
	if res.ErrorCode != ErrCodeAnchorMissing {
		t.Fatalf("expected error code propagated, got %q", res.ErrorCode)
	}
}

func TestCheckPreTool_LowRiskDegradesButProceeds(t *testing.T) {
	guardState := CheckResult{ErrorCode: ErrCodeAnchorMissing}
	res := CheckPreTool(guardState, "current_time", tools.RiskLow)
	if res != nil {
		t.Fatalf("expected low-risk tool to proceed, got %+v", res)
	}
}
