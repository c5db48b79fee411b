package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/oogisoogi/ctxhooks/internal/config"
	"github.com/oogisoogi/ctxhooks/internal/sot"
	"github.com/oogisoogi/ctxhooks/internal/transcript"
	"github.com/oogisoogi/ctxhooks/internal/validate"
)

// The stop hook ends with a bank of independent safety-net scanners. Each
// logs its findings to stderr and returns; one scanner failing never stops
// the others, and none of them can fail the hook.
func runSafetyNets(projectDir string, entries []transcript.Entry) {
	scanners := []func(string, []transcript.Entry){
		scanMissingReviews,
		scanMissingTranslations,
		scanMissingVerifications,
		scanWorkflowValidatorWiring,
		scanDiagnosisGaps,
		scanULWCompliance,
	}
	for _, scan := range scanners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					fmt.Fprintf(os.Stderr, "safety net panic: %v\n", r)
				}
			}()
			scan(projectDir, entries)
		}()
	}
}

// completedSteps lists the steps with a declared output, bounded by the
// current step so in-flight work does not warn.
func completedSteps(projectDir string) []int {
	state, ok := sot.ReadAutopilot(projectDir)
	if !ok {
		return nil
	}
	var steps []int
	for _, step := range declaredSteps(state) {
		if step < state.CurrentStep {
			steps = append(steps, step)
		}
	}
	return steps
}

func scanMissingReviews(projectDir string, _ []transcript.Entry) {
	for _, step := range completedSteps(projectDir) {
		if _, err := os.Stat(validate.ReviewPath(projectDir, step)); err != nil {
			fmt.Fprintf(os.Stderr, "SAFETY NET: step %d has output but no review report\n", step)
		}
	}
}

func scanMissingTranslations(projectDir string, _ []transcript.Entry) {
	for _, step := range completedSteps(projectDir) {
		if _, found := validate.TranslationPath(projectDir, step); !found {
			fmt.Fprintf(os.Stderr, "SAFETY NET: step %d has output but no translation\n", step)
		}
	}
}

func scanMissingVerifications(projectDir string, _ []transcript.Entry) {
	for _, step := range completedSteps(projectDir) {
		if _, err := os.Stat(validate.VerificationPath(projectDir, step)); err != nil {
			fmt.Fprintf(os.Stderr, "SAFETY NET: step %d has output but no verification log\n", step)
		}
	}
}

// scanWorkflowValidatorWiring re-runs the W7/W8 consistency checks on the
// project's workflow file: declared checks without validator invocations
// rot silently.
func scanWorkflowValidatorWiring(projectDir string, _ []transcript.Entry) {
	path := filepath.Join(projectDir, "workflow.md")
	if _, err := os.Stat(path); err != nil {
		return
	}
	res := validate.Workflow(path)
	for _, w := range res.Warnings {
		if len(w) >= 2 && (w[:2] == "W7" || w[:2] == "W8") {
			fmt.Fprintln(os.Stderr, "SAFETY NET: "+w)
		}
	}
}

// scanDiagnosisGaps flags retry counters that grew without a matching
// diagnosis log: retrying without diagnosing is how budgets burn.
func scanDiagnosisGaps(projectDir string, _ []transcript.Entry) {
	for gate := range config.GateDirs {
		for _, counter := range scanGateCounters(projectDir)[gate] {
			if counter.Retries == 0 {
				continue
			}
			if _, err := os.Stat(validate.DiagnosisPath(projectDir, counter.Step, gate)); err != nil {
				fmt.Fprintf(os.Stderr,
					"SAFETY NET: %s step %d has %d retries but no diagnosis log\n",
					gate, counter.Step, counter.Retries)
			}
		}
	}
}

// scanULWCompliance warns when an Ultrawork session is stopping with the
// last tool activity in an error state.
func scanULWCompliance(projectDir string, entries []transcript.Entry) {
	if !validate.DetectULW(projectDir) {
		return
	}
	results := transcript.ResultByID(entries)
	uses := transcript.ToolUses(entries)
	for i := len(uses) - 1; i >= 0; i-- {
		result, ok := results[uses[i].ToolUseID]
		if !ok {
			continue
		}
		if result.IsError {
			fmt.Fprintf(os.Stderr,
				"SAFETY NET: ULW active but the last resolved tool call failed (%s)\n",
				uses[i].Summary)
		}
		return
	}
}
