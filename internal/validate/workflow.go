package validate

import (
	"fmt"
	"strings"
)

// WorkflowResult is the workflow.md DNA-inheritance verdict.
type WorkflowResult struct {
	Valid        bool     `json:"valid"`
	WorkflowPath string   `json:"workflow_path"`
	Warnings     []string `json:"warnings"`
}

// minWorkflowSize is the W2 floor.
const minWorkflowSize = 500

// minPatternRows is the W4 floor for the Inherited Patterns table.
const minPatternRows = 3

// Workflow runs the W1–W8 checks on a generated workflow file. W7 and W8
// verify that declared verification criteria actually wire up their
// post-processing validators: declaring a check without invoking its
// validator is how gates silently rot.
func Workflow(workflowPath string) WorkflowResult {
	res := WorkflowResult{WorkflowPath: workflowPath, Warnings: []string{}}

	content, warnings := checkFile(workflowPath, minWorkflowSize, "W1", "W2")
	if len(warnings) > 0 {
		res.Warnings = warnings
		return res
	}

	res.Valid = true

	if !strings.Contains(content, "Inherited-DNA") && !strings.Contains(content, "Inherited DNA") {
		res.Valid = false
		res.Warnings = append(res.Warnings, "W3 FAIL: Inherited-DNA header missing")
	}

	if rows := inheritedPatternRows(content); rows < minPatternRows {
		res.Valid = false
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"W4 FAIL: Inherited Patterns table has %d data rows, minimum %d", rows, minPatternRows))
	}

	if !strings.Contains(content, "Constitutional Principles") {
		res.Valid = false
		res.Warnings = append(res.Warnings, "W5 FAIL: Constitutional Principles section missing")
	}

	if !strings.Contains(content, "Coding Anchor Points") && !strings.Contains(content, "CAP") {
		res.Valid = false
		res.Warnings = append(res.Warnings, "W6 FAIL: Coding Anchor Points reference missing")
	}

	if declaresTraceability(content) && !invokesValidator(content, "traceability") {
		res.Valid = false
		res.Warnings = append(res.Warnings,
			"W7 FAIL: workflow declares cross-step traceability verification but never invokes the traceability validator")
	}

	if declaresDomainKnowledge(content) && !invokesValidator(content, "domain-knowledge") {
		res.Valid = false
		res.Warnings = append(res.Warnings,
			"W8 FAIL: workflow references domain knowledge but never invokes the domain-knowledge validator")
	}

	return res
}

// inheritedPatternRows counts data rows of the Inherited Patterns table.
func inheritedPatternRows(content string) int {
	lines := strings.Split(content, "\n")
	start := -1
	for i, line := range lines {
		if strings.Contains(line, "Inherited Patterns") || strings.Contains(line, "Inherited-Patterns") {
			start = i
			break
		}
	}
	if start < 0 {
		return 0
	}

	rows := 0
	inTable := false
	for _, line := range lines[start+1:] {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			break
		}
		if !strings.HasPrefix(trimmed, "|") {
			if inTable {
				break
			}
			continue
		}
		inTable = true
		if isTableDataRow(trimmed) && !isPatternHeaderRow(trimmed) {
			rows++
		}
	}
	return rows
}

func isPatternHeaderRow(row string) bool {
	lower := strings.ToLower(row)
	return strings.Contains(lower, "pattern") && strings.Contains(lower, "source")
}

func declaresTraceability(content string) bool {
	lower := strings.ToLower(content)
	return strings.Contains(lower, "cross-step traceability") || strings.Contains(lower, "trace:step-")
}

func declaresDomainKnowledge(content string) bool {
	lower := strings.ToLower(content)
	return strings.Contains(lower, "domain knowledge") || strings.Contains(lower, "domain-knowledge") ||
		strings.Contains(lower, "[dks:")
}

// invokesValidator looks for an invocation of the named validator in any of
// its spellings (subcommand or legacy script name).
func invokesValidator(content, name string) bool {
	lower := strings.ToLower(content)
	underscore := strings.ReplaceAll(name, "-", "_")
	return strings.Contains(lower, "validate "+name) ||
		strings.Contains(lower, "validate-"+name) ||
		strings.Contains(lower, "validate_"+underscore)
}
