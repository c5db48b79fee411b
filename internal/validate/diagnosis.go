package validate

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/oogisoogi/ctxhooks/internal/config"
	"github.com/oogisoogi/ctxhooks/internal/fsatomic"
)

// DiagnosisResult is the post-validation verdict for an LLM-written
// diagnosis log.
type DiagnosisResult struct {
	Valid    bool     `json:"valid"`
	Step     int      `json:"step"`
	Gate     string   `json:"gate"`
	Warnings []string `json:"warnings"`
}

// DiagnosisPath maps a step and gate to the diagnosis log the assistant is
// expected to write after a gate failure.
func DiagnosisPath(projectDir string, step int, gate string) string {
	return filepath.Join(projectDir, config.GateDirs[gate], fmt.Sprintf("step-%d-diagnosis.md", step))
}

var (
	gateField     = regexp.MustCompile(`(?im)^\s*(?:\*\*)?Gate(?:\*\*)?\s*:\s*(\w+)`)
	selectedField = regexp.MustCompile(`(?im)^\s*(?:\*\*)?Selected(?:\*\*)?\s*:\s*(H[1-3])`)

	// hypothesisItem matches an enumerated hypothesis bullet. Mentions of
	// HN elsewhere (the Selected line included) do not count as "listed".
	hypothesisItem = regexp.MustCompile(`(?m)^\s*[-*]\s*(H[1-3])\b`)
	stepMention    = regexp.MustCompile(`\bstep-(\d+)\b`)
	evidenceHead   = regexp.MustCompile(`(?im)^#{1,4}\s*Evidence\b`)
	actionPlanHead = regexp.MustCompile(`(?im)^#{1,4}\s*Action Plan\b`)
	priorDiagRef   = regexp.MustCompile(`(?i)previous diagnosis|prior diagnosis|이전 진단`)
)

// Diagnosis runs the AD1–AD10 checks on a diagnosis log.
func Diagnosis(projectDir string, step int, gate string) DiagnosisResult {
	res := DiagnosisResult{Step: step, Gate: gate, Warnings: []string{}}
	path := DiagnosisPath(projectDir, step, gate)

	content, warnings := checkFile(path, 100, "AD1", "AD2")
	if len(warnings) > 0 {
		res.Warnings = warnings
		return res
	}

	res.Valid = true

	if m := gateField.FindStringSubmatch(content); m == nil || !strings.EqualFold(m[1], gate) {
		res.Valid = false
		res.Warnings = append(res.Warnings, fmt.Sprintf("AD3 FAIL: gate field missing or does not match %q", gate))
	}

	selected := ""
	if m := selectedField.FindStringSubmatch(content); m != nil {
		selected = m[1]
	} else {
		res.Valid = false
		res.Warnings = append(res.Warnings, "AD4 FAIL: no selected hypothesis (Selected: H1|H2|H3)")
	}

	if !hasSectionItems(content, evidenceHead) {
		res.Valid = false
		res.Warnings = append(res.Warnings, "AD5 FAIL: evidence section missing or empty")
	}

	if !actionPlanHead.MatchString(content) {
		res.Valid = false
		res.Warnings = append(res.Warnings, "AD6 FAIL: Action Plan section missing")
	}

	for _, m := range stepMention.FindAllStringSubmatch(content, -1) {
		n, _ := strconv.Atoi(m[1]) //nolint:errcheck // digits guaranteed by regex
		if n > step {
			res.Valid = false
			res.Warnings = append(res.Warnings, fmt.Sprintf("AD7 FAIL: forward reference to step-%d from step %d diagnosis", n, step))
			break
		}
	}

	listed := map[string]bool{}
	for _, m := range hypothesisItem.FindAllStringSubmatch(content, -1) {
		listed[m[1]] = true
	}
	if len(listed) < 2 {
		res.Valid = false
		res.Warnings = append(res.Warnings, fmt.Sprintf("AD8 FAIL: %d hypotheses listed, minimum 2", len(listed)))
	}

	if selected != "" && !listed[selected] {
		res.Valid = false
		res.Warnings = append(res.Warnings, fmt.Sprintf("AD9 FAIL: selected hypothesis %s not among the listed hypotheses", selected))
	}

	retries := fsatomic.ReadInt(config.CounterPath(projectDir, step, gate))
	if retries > 0 && !priorDiagRef.MatchString(content) {
		res.Valid = false
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"AD10 FAIL: retry %d diagnosis does not reference the previous diagnosis", retries))
	}

	return res
}

// hasSectionItems reports whether the section opened by head contains at
// least one bullet item before the next heading.
func hasSectionItems(content string, head *regexp.Regexp) bool {
	loc := head.FindStringIndex(content)
	if loc == nil {
		return false
	}
	rest := content[loc[1]:]
	for _, line := range strings.Split(rest, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return false
		}
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			return true
		}
	}
	return false
}
