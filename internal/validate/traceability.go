package validate

import (
	"fmt"
	"regexp"
	"strconv"
)

// TraceabilityResult is the cross-step traceability verdict.
type TraceabilityResult struct {
	Valid         bool     `json:"valid"`
	Step          int      `json:"step"`
	TraceCount    int      `json:"trace_count"`
	VerifiedCount int      `json:"verified_count"`
	Warnings      []string `json:"warnings"`
}

// traceMarker matches [trace:step-N:section-id] with an optional locator
// tail: [trace:step-N:section-id:locator].
var traceMarker = regexp.MustCompile(`\[trace:step-(\d+):([\w-]+)(?::([^\]\s]+))?\]`)

// minTraceDensity is the CT4 floor.
const minTraceDensity = 3

// Traceability runs the CT1–CT5 checks on a step's output markers.
func Traceability(projectDir string, step int) TraceabilityResult {
	res := TraceabilityResult{Step: step, Warnings: []string{}}

	outputPath, found := StepOutputPath(projectDir, step)
	if !found {
		res.Warnings = append(res.Warnings, fmt.Sprintf("CT1 FAIL: step %d output file not found", step))
		return res
	}
	content, ok := readText(outputPath)
	if !ok {
		res.Warnings = append(res.Warnings, fmt.Sprintf("CT1 FAIL: step %d output unreadable", step))
		return res
	}

	markers := traceMarker.FindAllStringSubmatch(content, -1)
	res.TraceCount = len(markers)
	res.Valid = true

	if res.TraceCount == 0 {
		res.Valid = false
		res.Warnings = append(res.Warnings, fmt.Sprintf("CT1 FAIL: no [trace:step-N:...] markers in step %d output", step))
		return res
	}

	// Source contents are cached per referenced step for the slug check.
	sources := map[int]map[string]bool{}

	for _, m := range markers {
		refStep, _ := strconv.Atoi(m[1]) //nolint:errcheck // digits guaranteed by regex
		sectionID := m[2]

		// CT5: forward references are fabricated provenance.
		if refStep >= step {
			res.Valid = false
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"CT5 FAIL: forward reference [trace:step-%d:%s] from step %d", refStep, sectionID, step))
			continue
		}

		refPath, refFound := StepOutputPath(projectDir, refStep)
		if !refFound {
			res.Valid = false
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"CT2 FAIL: referenced step %d output does not exist", refStep))
			continue
		}

		slugs, cached := sources[refStep]
		if !cached {
			if refContent, ok := readText(refPath); ok {
				slugs = headingSlugs(refContent)
			}
			sources[refStep] = slugs
		}
		if slugs != nil && !slugs[sectionID] {
			// Warning only: slug matching is heuristic against inline markup.
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"CT3 WARN: section id %q not found among step %d headings", sectionID, refStep))
			continue
		}

		res.VerifiedCount++
	}

	if res.TraceCount < minTraceDensity {
		res.Valid = false
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"CT4 FAIL: %d trace markers, minimum %d", res.TraceCount, minTraceDensity))
	}

	res.Warnings = append(res.Warnings, fmt.Sprintf(
		"CT INFO: trace_count=%d verified_count=%d", res.TraceCount, res.VerifiedCount))
	return res
}
