package facts

import (
	"os"
	"path/filepath"
	"time"

	"github.com/oogisoogi/ctxhooks/internal/transcript"
)

// ToolStat counts the outcomes of one tool across the session.
type ToolStat struct {
	Calls   int
	Success int
	Fail    int
}

// FileCheck records the on-disk state of a modified file at snapshot time.
type FileCheck struct {
	Path    string
	Exists  bool
	ModTime time.Time
}

// Activity is one tool event for the recent-activity ledger.
type Activity struct {
	Timestamp time.Time
	Summary   string
	IsError   bool
}

// Completion is the observable ground truth of the session: matched tool
// call outcomes, file existence on disk, and the session timeline. Success
// and failure here are facts from the runtime, not model claims.
type Completion struct {
	// ToolStats covers Edit, Write and Bash.
	ToolStats map[string]ToolStat

	// FileChecks verifies each modified file's current state on disk.
	FileChecks []FileCheck

	// FirstAt and LastAt bound the session timeline.
	FirstAt time.Time
	LastAt  time.Time

	// Recent holds the last 10 tool activities in order, errors marked.
	Recent []Activity
}

// completionTools lists the tools whose outcomes are tallied.
var completionTools = []string{"Edit", "Write", "Bash"}

// CompletionState matches every tool use to its result by tool_use_id and
// verifies modified files against the filesystem rooted at projectDir.
func CompletionState(entries []transcript.Entry, projectDir string) Completion {
	c := Completion{ToolStats: make(map[string]ToolStat)}
	for _, tool := range completionTools {
		c.ToolStats[tool] = ToolStat{}
	}

	results := transcript.ResultByID(entries)

	var recent []Activity
	for _, e := range entries {
		if !e.Timestamp.IsZero() {
			if c.FirstAt.IsZero() || e.Timestamp.Before(c.FirstAt) {
				c.FirstAt = e.Timestamp
			}
			if e.Timestamp.After(c.LastAt) {
				c.LastAt = e.Timestamp
			}
		}
		if e.Kind != transcript.KindToolUse {
			continue
		}

		result, matched := results[e.ToolUseID]
		isError := matched && result.IsError

		if stat, tracked := c.ToolStats[e.ToolName]; tracked {
			stat.Calls++
			if matched {
				if isError {
					stat.Fail++
				} else {
					stat.Success++
				}
			}
			c.ToolStats[e.ToolName] = stat
		}

		recent = append(recent, Activity{Timestamp: e.Timestamp, Summary: e.Summary, IsError: isError})
	}

	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	c.Recent = recent

	for _, op := range FileOperations(entries) {
		check := FileCheck{Path: op.Path}
		path := op.Path
		if !filepath.IsAbs(path) && projectDir != "" {
			path = filepath.Join(projectDir, path)
		}
		if info, err := os.Stat(path); err == nil {
			check.Exists = true
			check.ModTime = info.ModTime()
		}
		c.FileChecks = append(c.FileChecks, check)
	}

	return c
}
