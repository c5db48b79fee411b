package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/oogisoogi/ctxhooks/internal/config"
)

// ReviewResult is the adversarial-review verdict.
type ReviewResult struct {
	Valid               bool           `json:"valid"`
	Step                int            `json:"step"`
	Verdict             string         `json:"verdict"`
	IssuesCount         int            `json:"issues_count"`
	CriticalCount       int            `json:"critical_count"`
	WarningCount        int            `json:"warning_count"`
	SuggestionCount     int            `json:"suggestion_count"`
	ReviewerPacs        int            `json:"reviewer_pacs"`
	PacsDimensions      map[string]int `json:"pacs_dimensions"`
	GeneratorPacs       int            `json:"generator_pacs"`
	PacsDelta           int            `json:"pacs_delta"`
	NeedsReconciliation bool           `json:"needs_reconciliation"`
	SequenceValid       *bool          `json:"sequence_valid,omitempty"`
	Warnings            []string       `json:"warnings"`
}

// ReviewPath maps a step to its review report.
func ReviewPath(projectDir string, step int) string {
	return filepath.Join(projectDir, config.GateDirs["review"], fmt.Sprintf("step-%d-review.md", step))
}

var (
	verdictLine = regexp.MustCompile(`(?im)^\s*(?:\*\*)?Verdict(?:\*\*)?\s*:\s*(?:\*\*)?(PASS|FAIL)`)

	// requiredReviewSections are the four mandatory report sections.
	requiredReviewSections = []string{"Pre-mortem", "Issues Found", "Independent pACS", "Verdict"}

	severityWord = regexp.MustCompile(`\b(Critical|Warning|Suggestion)\b`)
)

// Review runs the R1–R5 checks plus verdict parsing and the pACS delta.
func Review(projectDir string, step int) ReviewResult {
	res := ReviewResult{Step: step, PacsDimensions: map[string]int{}, Warnings: []string{}}
	path := ReviewPath(projectDir, step)

	content, warnings := checkFile(path, 100, "R1", "R2")
	if len(warnings) > 0 {
		res.Warnings = warnings
		return res
	}

	res.Valid = true

	for _, name := range requiredReviewSections {
		if !strings.Contains(content, name) {
			res.Valid = false
			res.Warnings = append(res.Warnings, fmt.Sprintf("R3 FAIL: required section %q missing", name))
		}
	}

	if m := verdictLine.FindStringSubmatch(content); m != nil {
		res.Verdict = strings.ToUpper(m[1])
	} else {
		res.Valid = false
		res.Warnings = append(res.Warnings, "R4 FAIL: no explicit PASS/FAIL verdict")
	}

	issues := issueRows(content)
	res.IssuesCount = len(issues)
	if res.IssuesCount == 0 {
		// Rubber-stamp prevention: a review that found literally nothing is
		// not a review.
		res.Valid = false
		res.Warnings = append(res.Warnings, "R5 FAIL: no issue rows found (rubber-stamp review)")
	}

	for _, row := range issues {
		switch severityWord.FindString(row) {
		case "Critical":
			res.CriticalCount++
		case "Warning":
			res.WarningCount++
		case "Suggestion":
			res.SuggestionCount++
		}
	}

	// Reviewer pACS from the report itself.
	for _, m := range dimensionRow.FindAllStringSubmatch(content, -1) {
		if score, err := strconv.Atoi(m[2]); err == nil && score <= 100 {
			res.PacsDimensions[m[1]] = score
		}
	}
	if score, ok := reportedScore(content); ok {
		res.ReviewerPacs = score
	}

	// Generator pACS from the step's own pACS log; delta ≥ threshold
	// requires reconciliation.
	if genContent, ok := readText(PacsLogPath(projectDir, step, "general")); ok {
		if score, ok := reportedScore(genContent); ok {
			res.GeneratorPacs = score
			res.PacsDelta = res.GeneratorPacs - res.ReviewerPacs
			if res.PacsDelta < 0 {
				res.PacsDelta = -res.PacsDelta
			}
			res.NeedsReconciliation = res.PacsDelta >= config.PacsDeltaThreshold
			if res.NeedsReconciliation {
				res.Warnings = append(res.Warnings, fmt.Sprintf(
					"R WARN: pACS delta %d >= %d between generator (%d) and reviewer (%d), reconciliation needed",
					res.PacsDelta, config.PacsDeltaThreshold, res.GeneratorPacs, res.ReviewerPacs))
			}
		}
	}

	return res
}

// issueRows collects the data rows of the Issues Found section: table rows
// (header and separator skipped) and bullet items.
func issueRows(content string) []string {
	lines := strings.Split(content, "\n")
	start := -1
	for i, line := range lines {
		if strings.Contains(line, "Issues Found") {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}

	var rows []string
	for _, line := range lines[start+1:] {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			break
		}
		switch {
		case strings.HasPrefix(trimmed, "|"):
			if isTableDataRow(trimmed) {
				rows = append(rows, trimmed)
			}
		case strings.HasPrefix(trimmed, "- "):
			rows = append(rows, trimmed)
		}
	}
	return rows
}

// isTableDataRow excludes separator rows and the header row.
func isTableDataRow(row string) bool {
	inner := strings.Trim(row, "|")
	if strings.TrimLeft(inner, " -:|") == "" {
		return false
	}
	lower := strings.ToLower(inner)
	return !strings.Contains(lower, "severity") || !strings.Contains(lower, "issue")
}

// SequenceResult is the review→translation ordering verdict.
type SequenceResult struct {
	Valid   bool
	Warning string
}

// ReviewSequence checks that the step was translated only after its review
// passed. A non-PASS verdict (or a missing party) fails the sequence; a
// translation older than the review only warns, because fixing a verdict
// in place always bumps the review's mtime past an otherwise-valid
// translation.
func ReviewSequence(projectDir string, step int) SequenceResult {
	reviewPath := ReviewPath(projectDir, step)
	reviewInfo, err := os.Stat(reviewPath)
	if err != nil {
		return SequenceResult{Valid: false, Warning: fmt.Sprintf("SEQ FAIL: step %d review report missing", step)}
	}

	content, ok := readText(reviewPath)
	if !ok {
		return SequenceResult{Valid: false, Warning: fmt.Sprintf("SEQ FAIL: step %d review report unreadable", step)}
	}
	m := verdictLine.FindStringSubmatch(content)
	if m == nil || strings.ToUpper(m[1]) != "PASS" {
		return SequenceResult{Valid: false, Warning: fmt.Sprintf("SEQ FAIL: step %d translated without a PASS review verdict", step)}
	}

	translationPath, found := TranslationPath(projectDir, step)
	if !found {
		return SequenceResult{Valid: false, Warning: fmt.Sprintf("SEQ FAIL: step %d translation file not found", step)}
	}
	translationInfo, err := os.Stat(translationPath)
	if err != nil {
		return SequenceResult{Valid: false, Warning: fmt.Sprintf("SEQ FAIL: step %d translation file unreadable", step)}
	}

	if translationInfo.ModTime().Before(reviewInfo.ModTime()) {
		return SequenceResult{Valid: true, Warning: fmt.Sprintf(
			"SEQ WARN: step %d translation predates the review report; the translation may be stale", step)}
	}
	return SequenceResult{Valid: true}
}
