// Package validate implements the deterministic quality-gate checkers.
// Every validator is a pure function of on-disk state plus its arguments,
// returns a JSON-marshalable result with at least {valid, warnings}, and
// embeds a stable check code (R3, CT5, PA7, ...) in each warning so the
// orchestrator can parse outcomes without guessing at prose.
package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/oogisoogi/ctxhooks/internal/sot"
)

// MinStepOutputSize is the L0 anti-skip floor for step outputs.
const MinStepOutputSize = 100

// readText loads a file as a string; the bool is false when unreadable.
func readText(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// checkFile runs the shared existence and minimum-size checks, emitting
// warnings under the given codes. Content is returned when readable.
func checkFile(path string, minSize int, existCode, sizeCode string) (string, []string) {
	info, err := os.Stat(path)
	if err != nil {
		return "", []string{fmt.Sprintf("%s FAIL: %s does not exist", existCode, path)}
	}
	if info.Size() < int64(minSize) {
		return "", []string{fmt.Sprintf("%s FAIL: %s is %d bytes, minimum %d", sizeCode, path, info.Size(), minSize)}
	}
	content, ok := readText(path)
	if !ok {
		return "", []string{fmt.Sprintf("%s FAIL: %s is unreadable", existCode, path)}
	}
	return content, nil
}

// StepOutputPath resolves a step's output file: the SOT declaration first,
// then the conventional outputs/ locations. The bool is false when nothing
// is found.
func StepOutputPath(projectDir string, step int) (string, bool) {
	if state, ok := sot.ReadAutopilot(projectDir); ok {
		if declared, ok := state.StepOutput(step); ok {
			path := declared
			if !filepath.IsAbs(path) {
				path = filepath.Join(projectDir, declared)
			}
			if _, err := os.Stat(path); err == nil {
				return path, true
			}
		}
	}

	direct := filepath.Join(projectDir, "outputs", fmt.Sprintf("step-%d.md", step))
	if _, err := os.Stat(direct); err == nil {
		return direct, true
	}

	matches, _ := filepath.Glob(filepath.Join(projectDir, "outputs", fmt.Sprintf("step-%d-*.md", step))) //nolint:errcheck // pattern is constant-shaped
	sort.Strings(matches)
	if len(matches) > 0 {
		return matches[0], true
	}
	return "", false
}

// L0Result is the step-output anti-skip verdict.
type L0Result struct {
	Valid    bool     `json:"valid"`
	Step     int      `json:"step"`
	Path     string   `json:"path,omitempty"`
	Warnings []string `json:"warnings"`
}

// StepOutput runs the L0a–L0c anti-skip checks on a step's output file.
func StepOutput(projectDir string, step int) L0Result {
	res := L0Result{Step: step, Warnings: []string{}}

	path, found := StepOutputPath(projectDir, step)
	if !found {
		res.Warnings = append(res.Warnings, fmt.Sprintf("L0a FAIL: step %d output file not found", step))
		return res
	}
	res.Path = path

	content, warnings := checkFile(path, MinStepOutputSize, "L0a", "L0b")
	if len(warnings) > 0 {
		res.Warnings = append(res.Warnings, warnings...)
		return res
	}
	if strings.TrimSpace(content) == "" {
		res.Warnings = append(res.Warnings, fmt.Sprintf("L0c FAIL: step %d output is whitespace-only", step))
		return res
	}

	res.Valid = true
	return res
}

// markdown structure counters shared by the translation checks.

var (
	headingLine = regexp.MustCompile(`(?m)^#{1,6}\s`)
	fenceLine   = regexp.MustCompile(`(?m)^\x60\x60\x60`)
	inlineLink  = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
)

func countHeadings(content string) int {
	return len(headingLine.FindAllString(content, -1))
}

func countFences(content string) int {
	return len(fenceLine.FindAllString(content, -1))
}

// slugify reduces a heading to its comparable id: links and backticks are
// stripped, everything non-alphanumeric collapses to single hyphens.
func slugify(heading string) string {
	s := strings.TrimLeft(heading, "# ")
	s = inlineLink.ReplaceAllString(s, "$1")
	s = strings.ReplaceAll(s, "`", "")
	s = strings.ToLower(s)

	var b strings.Builder
	lastHyphen := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.Trim(b.String(), "-")
}

// headingSlugs collects the slug of every heading in a document.
func headingSlugs(content string) map[string]bool {
	slugs := make(map[string]bool)
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "#") {
			if slug := slugify(line); slug != "" {
				slugs[slug] = true
			}
		}
	}
	return slugs
}
