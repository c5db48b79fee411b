package facts

import (
	"regexp"

	"github.com/oogisoogi/ctxhooks/internal/transcript"
)

// Error type labels of the fixed taxonomy.
const (
	ErrEditMismatch    = "edit_mismatch"
	ErrFileNotFound    = "file_not_found"
	ErrPermission      = "permission"
	ErrSyntax          = "syntax"
	ErrTimeout         = "timeout"
	ErrDependency      = "dependency"
	ErrTypeError       = "type_error"
	ErrValueError      = "value_error"
	ErrConnection      = "connection"
	ErrMemory          = "memory"
	ErrGit             = "git_error"
	ErrCommandNotFound = "command_not_found"
	ErrUnknown         = "unknown"
)

// errorTaxonomy maps error text to a label, first match wins. edit_mismatch
// and command_not_found precede file_not_found because their messages also
// contain "not found".
var errorTaxonomy = []struct {
	label string
	re    *regexp.Regexp
}{
	{ErrEditMismatch, regexp.MustCompile(`(?i)old_string|string to replace|not found in (?:the )?file|found multiple matches`)},
	{ErrCommandNotFound, regexp.MustCompile(`(?i)command not found|not recognized as an internal`)},
	{ErrFileNotFound, regexp.MustCompile(`(?i)no such file|filenotfounderror|enoent|not found`)},
	{ErrPermission, regexp.MustCompile(`(?i)permission denied|eacces|operation not permitted`)},
	{ErrSyntax, regexp.MustCompile(`(?i)syntax ?error|unexpected token|invalid syntax`)},
	{ErrTimeout, regexp.MustCompile(`(?i)timed? ?out|deadline exceeded`)},
	{ErrDependency, regexp.MustCompile(`(?i)module not found|no module named|cannot find (?:module|package)|unresolved import`)},
	{ErrTypeError, regexp.MustCompile(`(?i)type ?error|mismatched types|cannot use .+ as .+ value`)},
	{ErrValueError, regexp.MustCompile(`(?i)value ?error|invalid (?:value|argument|literal)`)},
	{ErrConnection, regexp.MustCompile(`(?i)connection (?:refused|reset|timed out)|network is unreachable`)},
	{ErrMemory, regexp.MustCompile(`(?i)out of memory|memoryerror|cannot allocate memory`)},
	{ErrGit, regexp.MustCompile(`(?i)fatal: |merge conflict|git error`)},
}

// ClassifyError maps an error message to its taxonomy label.
func ClassifyError(message string) string {
	for _, t := range errorTaxonomy {
		if t.re.MatchString(message) {
			return t.label
		}
	}
	return ErrUnknown
}

// Resolution records the tool event that appears to have fixed an error.
type Resolution struct {
	Tool string `json:"tool"`
	File string `json:"file,omitempty"`
}

// ErrorPattern is one classified tool failure, with its resolution when a
// later success on the same file is found nearby.
type ErrorPattern struct {
	Type       string      `json:"type"`
	Tool       string      `json:"tool"`
	File       string      `json:"file,omitempty"`
	Message    string      `json:"message"`
	Resolution *Resolution `json:"resolution,omitempty"`
}

// resolutionLookahead bounds how many subsequent entries are scanned for a
// resolving success.
const resolutionLookahead = 5

// ErrorPatterns walks the error-flagged tool results, classifies each
// against the taxonomy, and attempts resolution matching: a successful
// Edit/Write/Bash result on the same file within the next few entries.
func ErrorPatterns(entries []transcript.Entry) []ErrorPattern {
	uses := useByID(entries)

	var patterns []ErrorPattern
	for i, e := range entries {
		if e.Kind != transcript.KindToolResult || !e.IsError {
			continue
		}

		use := uses[e.ToolUseID]
		p := ErrorPattern{
			Type:    ClassifyError(e.Content),
			Tool:    use.ToolName,
			File:    use.FilePath,
			Message: clip(e.Content, 300),
		}
		p.Resolution = findResolution(entries, i, use.FilePath, uses)
		patterns = append(patterns, p)
	}
	return patterns
}

// findResolution scans the entries after index i for a successful result
// whose tool use is Edit/Write/Bash on the same file.
func findResolution(entries []transcript.Entry, i int, file string, uses map[string]transcript.Entry) *Resolution {
	end := i + 1 + resolutionLookahead
	if end > len(entries) {
		end = len(entries)
	}
	for _, e := range entries[i+1 : end] {
		if e.Kind != transcript.KindToolResult || e.IsError {
			continue
		}
		use, ok := uses[e.ToolUseID]
		if !ok {
			continue
		}
		switch use.ToolName {
		case "Edit", "Write", "Bash":
		default:
			continue
		}
		if file != "" && use.FilePath != "" && use.FilePath != file {
			continue
		}
		return &Resolution{Tool: use.ToolName, File: use.FilePath}
	}
	return nil
}

// useByID indexes tool uses by their id.
func useByID(entries []transcript.Entry) map[string]transcript.Entry {
	uses := make(map[string]transcript.Entry)
	for _, e := range entries {
		if e.Kind == transcript.KindToolUse && e.ToolUseID != "" {
			uses[e.ToolUseID] = e
		}
	}
	return uses
}

// SuccessPattern is a successful edit-then-verify sequence: one or more
// Edit/Write successes followed by a successful Bash command.
type SuccessPattern struct {
	Files   []string `json:"files"`
	Command string   `json:"command"`
}

// SuccessPatterns captures Edit|Write → Bash sequences. Read tools do not
// break a sequence; any other tool resets the accumulated files.
func SuccessPatterns(entries []transcript.Entry) []SuccessPattern {
	results := transcript.ResultByID(entries)

	var patterns []SuccessPattern
	var pending []string

	for _, e := range entries {
		if e.Kind != transcript.KindToolUse {
			continue
		}
		result, matched := results[e.ToolUseID]
		ok := matched && !result.IsError

		switch e.ToolName {
		case "Edit", "Write":
			if ok && e.FilePath != "" {
				pending = append(pending, e.FilePath)
			}
		case "Bash":
			if ok && len(pending) > 0 {
				patterns = append(patterns, SuccessPattern{Files: pending, Command: e.Command})
			}
			pending = nil
		case "Read":
			// reads between edit and verify are routine
		default:
			pending = nil
		}
	}
	return patterns
}
