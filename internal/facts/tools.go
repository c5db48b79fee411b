// Package facts derives structured session facts from parsed transcript
// entries. Every extractor is a pure function of its inputs (plus, for the
// completion and git extractors, the current filesystem state); none of
// them interpret intent.
package facts

import (
	"sort"

	"github.com/oogisoogi/ctxhooks/internal/transcript"
)

// FileOp aggregates the edit activity on one file.
type FileOp struct {
	// Path is the file path as given to the tool.
	Path string

	// LastTool is the tool that classifies the file. Write overrides an
	// earlier Edit on the same path.
	LastTool string

	// LastSummary is the summary of the most recent operation.
	LastSummary string

	// Count is the total number of edit events on the path.
	Count int

	// Details holds the per-edit summaries in order.
	Details []string
}

// FileOperations returns the modified files in first-occurrence order.
func FileOperations(entries []transcript.Entry) []FileOp {
	index := make(map[string]int)
	var ops []FileOp

	for _, e := range entries {
		if e.Kind != transcript.KindToolUse || e.FilePath == "" {
			continue
		}
		if e.ToolName != "Write" && e.ToolName != "Edit" {
			continue
		}

		i, seen := index[e.FilePath]
		if !seen {
			index[e.FilePath] = len(ops)
			ops = append(ops, FileOp{Path: e.FilePath})
			i = len(ops) - 1
		}

		op := &ops[i]
		op.Count++
		op.Details = append(op.Details, e.Summary)
		op.LastSummary = e.Summary
		// Later tool wins for classification; Write is terminal for a path.
		if op.LastTool != "Write" {
			op.LastTool = e.ToolName
		}
	}

	return ops
}

// ReadOp counts the Read accesses to one file.
type ReadOp struct {
	Path  string
	Count int
}

// ReadOperations returns the read files sorted by count descending, then
// path ascending.
func ReadOperations(entries []transcript.Entry) []ReadOp {
	counts := make(map[string]int)
	for _, e := range entries {
		if e.Kind == transcript.KindToolUse && e.ToolName == "Read" && e.FilePath != "" {
			counts[e.FilePath]++
		}
	}

	ops := make([]ReadOp, 0, len(counts))
	for path, count := range counts {
		ops = append(ops, ReadOp{Path: path, Count: count})
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Count != ops[j].Count {
			return ops[i].Count > ops[j].Count
		}
		return ops[i].Path < ops[j].Path
	})
	return ops
}

// Commands returns every Bash command in order.
func Commands(entries []transcript.Entry) []string {
	var cmds []string
	for _, e := range entries {
		if e.Kind == transcript.KindToolUse && e.ToolName == "Bash" && e.Command != "" {
			cmds = append(cmds, e.Command)
		}
	}
	return cmds
}
