package validate

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/oogisoogi/ctxhooks/internal/config"
)

// VerificationResult is the verification-log verdict.
type VerificationResult struct {
	Valid    bool     `json:"valid"`
	Step     int      `json:"step"`
	Criteria int      `json:"criteria"`
	Warnings []string `json:"warnings"`
}

// VerificationPath maps a step to its verification log.
func VerificationPath(projectDir string, step int) string {
	return filepath.Join(projectDir, config.GateDirs["verification"], fmt.Sprintf("step-%d-verification.md", step))
}

var (
	// criterionToken is the PASS/FAIL token looked for on checklist items
	// and table data rows.
	criterionToken = regexp.MustCompile(`\b(PASS|FAIL)\b`)

	overallLine = regexp.MustCompile(`(?im)^\s*(?:\*\*)?(?:Overall|Result|결과)(?:\*\*)?\s*:\s*(?:\*\*)?(PASS|FAIL)`)
)

// Verification runs the V1a–V1c checks: existence and size, per-criterion
// PASS/FAIL extraction (checklist or table form), and logical consistency —
// any criterion FAIL forces the overall verdict to FAIL.
func Verification(projectDir string, step int) VerificationResult {
	res := VerificationResult{Step: step, Warnings: []string{}}
	path := VerificationPath(projectDir, step)

	content, warnings := checkFile(path, 50, "V1a", "V1a")
	if len(warnings) > 0 {
		res.Warnings = warnings
		return res
	}

	res.Valid = true

	overall := ""
	if m := overallLine.FindStringSubmatch(content); m != nil {
		overall = strings.ToUpper(m[1])
	}

	anyFail := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if overallLine.MatchString(line) {
			continue
		}
		isChecklist := strings.HasPrefix(trimmed, "- ")
		isTableRow := strings.HasPrefix(trimmed, "|") && isTableDataRow(trimmed) && !isTableHeaderRow(trimmed)
		if !isChecklist && !isTableRow {
			continue
		}
		m := criterionToken.FindString(trimmed)
		if m == "" {
			continue
		}
		res.Criteria++
		if m == "FAIL" {
			anyFail = true
		}
	}

	if res.Criteria == 0 {
		res.Valid = false
		res.Warnings = append(res.Warnings, "V1b FAIL: no per-criterion PASS/FAIL entries found")
		return res
	}

	if anyFail && overall == "PASS" {
		res.Valid = false
		res.Warnings = append(res.Warnings, "V1c FAIL: a criterion is FAIL but the overall verdict claims PASS")
	}

	return res
}

// isTableHeaderRow skips the header of a criteria table.
func isTableHeaderRow(row string) bool {
	lower := strings.ToLower(row)
	return strings.Contains(lower, "criterion") || strings.Contains(lower, "criteria") ||
		strings.Contains(lower, "기준")
}
