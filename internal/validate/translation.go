package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oogisoogi/ctxhooks/internal/sot"
)

// TranslationResult is the translation-output verdict.
type TranslationResult struct {
	Valid            bool     `json:"valid"`
	Step             int      `json:"step"`
	TranslationValid bool     `json:"translation_valid"`
	GlossaryValid    bool     `json:"glossary_valid"`
	Path             string   `json:"path,omitempty"`
	Warnings         []string `json:"warnings"`
}

// glossaryWindow is the T8 freshness bound between the glossary and the
// translation it supposedly informed.
const glossaryWindow = time.Hour

// TranslationPath discovers a step's translation through the fixed 3-tier
// fallback: the SOT's explicit ko output, the legacy translations/
// directory, then a sibling *.ko.md next to the step output. The SOT
// declaration wins when several candidates exist.
func TranslationPath(projectDir string, step int) (string, bool) {
	// Tier 1: SOT outputs.step-N-ko.
	if state, ok := sot.ReadAutopilot(projectDir); ok {
		if declared, ok := state.StepTranslation(step); ok {
			path := declared
			if !filepath.IsAbs(path) {
				path = filepath.Join(projectDir, declared)
			}
			if _, err := os.Stat(path); err == nil {
				return path, true
			}
		}
	}

	// Tier 2: legacy translations/ directory.
	matches, _ := filepath.Glob(filepath.Join(projectDir, "translations", fmt.Sprintf("step-%d*.ko.md", step))) //nolint:errcheck // pattern is constant-shaped
	sort.Strings(matches)
	if len(matches) > 0 {
		return matches[0], true
	}

	// Tier 3: sibling next to the English output.
	if outputPath, ok := StepOutputPath(projectDir, step); ok {
		sibling := strings.TrimSuffix(outputPath, ".md") + ".ko.md"
		if _, err := os.Stat(sibling); err == nil {
			return sibling, true
		}
	}

	return "", false
}

// Translation runs the T1–T7 structural checks on a step's translation.
func Translation(projectDir string, step int) TranslationResult {
	res := TranslationResult{Step: step, GlossaryValid: true, Warnings: []string{}}

	path, found := TranslationPath(projectDir, step)
	if !found {
		res.Warnings = append(res.Warnings, fmt.Sprintf("T1 FAIL: step %d translation file not found", step))
		return res
	}
	res.Path = path

	content, warnings := checkFile(path, 100, "T1", "T2")
	if len(warnings) > 0 {
		res.Warnings = append(res.Warnings, warnings...)
		return res
	}

	res.TranslationValid = true

	sourcePath, sourceOK := englishSource(projectDir, step, path)
	if !sourceOK {
		res.TranslationValid = false
		res.Warnings = append(res.Warnings, fmt.Sprintf("T3 FAIL: English source for step %d not found", step))
	}

	if !strings.HasSuffix(path, ".ko.md") {
		res.TranslationValid = false
		res.Warnings = append(res.Warnings, fmt.Sprintf("T4 FAIL: %s does not end with .ko.md", path))
	}

	if strings.TrimSpace(content) == "" {
		res.TranslationValid = false
		res.Warnings = append(res.Warnings, "T5 FAIL: translation is whitespace-only")
	}

	if sourceOK {
		if source, ok := readText(sourcePath); ok {
			srcHeadings := countHeadings(source)
			dstHeadings := countHeadings(content)
			if !within20Percent(srcHeadings, dstHeadings) {
				res.TranslationValid = false
				res.Warnings = append(res.Warnings, fmt.Sprintf(
					"T6 FAIL: heading count %d deviates more than 20%% from source %d", dstHeadings, srcHeadings))
			}
			if countFences(source) != countFences(content) {
				res.TranslationValid = false
				res.Warnings = append(res.Warnings, fmt.Sprintf(
					"T7 FAIL: code-fence count %d != source %d", countFences(content), countFences(source)))
			}
		}
	}

	res.Valid = res.TranslationValid
	return res
}

// englishSource locates the original the translation was made from: the
// step's declared output, else the same path minus the .ko infix.
func englishSource(projectDir string, step int, translationPath string) (string, bool) {
	if path, ok := StepOutputPath(projectDir, step); ok {
		return path, true
	}
	if strings.HasSuffix(translationPath, ".ko.md") {
		sibling := strings.TrimSuffix(translationPath, ".ko.md") + ".md"
		if _, err := os.Stat(sibling); err == nil {
			return sibling, true
		}
	}
	return "", false
}

func within20Percent(source, translated int) bool {
	if source == 0 {
		return translated == 0
	}
	diff := translated - source
	if diff < 0 {
		diff = -diff
	}
	return float64(diff)/float64(source) <= 0.2
}

// GlossaryFreshness runs T8: when a glossary exists, its mtime must be
// within one hour of the translation's. Absent glossaries pass.
func GlossaryFreshness(projectDir string, step int) (bool, string) {
	glossaryPath := filepath.Join(projectDir, "translations", "glossary.md")
	glossaryInfo, err := os.Stat(glossaryPath)
	if err != nil {
		return true, ""
	}

	translationPath, found := TranslationPath(projectDir, step)
	if !found {
		return true, ""
	}
	translationInfo, err := os.Stat(translationPath)
	if err != nil {
		return true, ""
	}

	gap := translationInfo.ModTime().Sub(glossaryInfo.ModTime())
	if gap < 0 {
		gap = -gap
	}
	if gap > glossaryWindow {
		return false, fmt.Sprintf(
			"T8 FAIL: glossary is %s away from the step %d translation, limit %s",
			gap.Round(time.Minute), step, glossaryWindow)
	}
	return true, ""
}
