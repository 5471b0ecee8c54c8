// Package guardrail implements the two-checkpoint Core Safety Contract
// gate: a pre-LLM visibility check and a pre-tool risk-gated block,
// grounded on original_source/src/agent/guardrail.py and adapted into the
// teacher's structured-logging idiom (log/slog in place of structlog).
package guardrail

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/neomagi/neomagi/internal/tools"
)

// Error codes surfaced on the pre-LLM/pre-tool guard boundary.
const (
	ErrCodeAnchorMissing      = "GUARD_ANCHOR_MISSING"
	ErrCodeConstraintViolated = "GUARD_CONSTRAINT_VIOLATED"
	ErrCodeContractUnavailable = "GUARD_CONTRACT_UNAVAILABLE"
)

// ContractSourceFiles are the workspace anchor files the contract is
// extracted from, in the order their content is hashed and scanned.
var ContractSourceFiles = []string{"AGENTS.md", "USER.md", "SOUL.md"}

// CoreSafetyContract is the immutable set of anchor phrases that must
// remain visible in every execution context, plus the hash of the source
// files it was extracted from (used to detect mid-run edits).
type CoreSafetyContract struct {
	Anchors     []string
	Constraints []string
	SourceHash  string
}

// CheckResult is the outcome of one guard checkpoint.
type CheckResult struct {
	Passed              bool
	MissingAnchors      []string
	ViolatedConstraints []string
	ErrorCode           string
	Detail              string
}

func computeSourceHash(workspaceDir string) string {
	h := sha256.New()
	for _, name := range ContractSourceFiles {
		data, err := os.ReadFile(filepath.Join(workspaceDir, name))
		if err != nil {
			continue
		}
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// extractAnchors pulls first-level headings ("# Heading") and bold-labeled
// list items ("- **Label**: ...") out of content.
func extractAnchors(content string) []string {
	var anchors []string
	for _, line := range strings.Split(content, "\n") {
		stripped := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(stripped, "# ") && len(stripped) > 2:
			anchors = append(anchors, strings.TrimSpace(stripped[2:]))
		case strings.HasPrefix(stripped, "- **"):
			rest := stripped[4:]
			if end := strings.Index(rest, "**"); end > 0 {
				anchors = append(anchors, strings.TrimSpace(rest[:end]))
			}
		}
	}
	return anchors
}

// LoadContract reads ContractSourceFiles from workspaceDir and extracts
// anchors. A contract with no anchors is returned, never an error, when no
// source files exist.
func LoadContract(workspaceDir string) CoreSafetyContract {
	var anchors []string
	for _, name := range ContractSourceFiles {
		data, err := os.ReadFile(filepath.Join(workspaceDir, name))
		if err != nil {
			continue
		}
		anchors = append(anchors, extractAnchors(string(data))...)
	}
	return CoreSafetyContract{Anchors: anchors, SourceHash: computeSourceHash(workspaceDir)}
}

// MaybeRefresh reloads the contract only if the source files' combined
// hash has changed since current was loaded. current may be nil.
func MaybeRefresh(current *CoreSafetyContract, workspaceDir string) CoreSafetyContract {
	newHash := computeSourceHash(workspaceDir)
	if current != nil && current.SourceHash == newHash {
		return *current
	}
	slog.Info("guardrail contract refreshed", "previous_hash", hashOrNone(current))
	return LoadContract(workspaceDir)
}

func hashOrNone(c *CoreSafetyContract) string {
	if c == nil {
		return "none"
	}
	return c.SourceHash
}

// CheckPreLLM verifies every contract anchor appears as a substring of
// executionContext. Detection-only: it never blocks the LLM call, only
// reports the result for CheckPreTool to consume.
func CheckPreLLM(contract CoreSafetyContract, executionContext string) CheckResult {
	if len(contract.Anchors) == 0 {
		slog.Warn("guardrail warning", "error_code", ErrCodeContractUnavailable, "detail", "no contract loaded or empty anchors")
		return CheckResult{ErrorCode: ErrCodeContractUnavailable, Detail: "no contract loaded or empty anchors"}
	}

	var missing []string
	for _, a := range contract.Anchors {
		if !strings.Contains(executionContext, a) {
			missing = append(missing, a)
		}
	}
	if len(missing) > 0 {
		logged := missing
		if len(logged) > 5 {
			logged = logged[:5]
		}
		slog.Warn("guardrail warning", "error_code", ErrCodeAnchorMissing, "missing_count", len(missing), "missing_anchors", logged)
		return CheckResult{
			MissingAnchors: missing,
			ErrorCode:      ErrCodeAnchorMissing,
			Detail:         "anchor(s) not visible in execution context",
		}
	}

	return CheckResult{Passed: true}
}

// CheckPreTool gates tool execution on the pre-LLM guard state and the
// tool's risk level. A nil result means proceed; a non-nil result means
// block, carrying the error code the tool-denied event reports.
func CheckPreTool(guardState CheckResult, toolName string, riskLevel tools.RiskLevel) *CheckResult {
	if guardState.Passed {
		return nil
	}

	if riskLevel == tools.RiskHigh {
		errorCode := guardState.ErrorCode
		if errorCode == "" {
			errorCode = ErrCodeAnchorMissing
		}
		logged := guardState.MissingAnchors
		if len(logged) > 5 {
			logged = logged[:5]
		}
		slog.Warn("guardrail blocked", "tool", toolName, "risk_level", riskLevel, "error_code", errorCode, "missing_anchors", logged)
		return &CheckResult{
			MissingAnchors: guardState.MissingAnchors,
			ErrorCode:      errorCode,
			Detail:         "high-risk tool '" + toolName + "' blocked: " + guardState.Detail,
		}
	}

	slog.Warn("guardrail degraded", "tool", toolName, "risk_level", riskLevel, "error_code", guardState.ErrorCode)
	return nil
}
