// Package worklog accumulates one structured record per tool use in
// work_log.jsonl. The file is append-only under an advisory lock while a
// session is live and truncated to a short tail after each full save.
package worklog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/oogisoogi/ctxhooks/internal/config"
	"github.com/oogisoogi/ctxhooks/internal/fsatomic"
	"github.com/oogisoogi/ctxhooks/internal/sot"
)

// KeepTail is how many entries survive the post-save truncation.
const KeepTail = 10

// Entry is one work-log record.
type Entry struct {
	Timestamp     string `json:"timestamp"`
	SessionID     string `json:"session_id"`
	ToolName      string `json:"tool_name"`
	Summary       string `json:"summary"`
	FilePath      string `json:"file_path"`
	Command       string `json:"command,omitempty"`
	AutopilotOn   bool   `json:"autopilot_active,omitempty"`
	AutopilotStep int    `json:"autopilot_step,omitempty"`
}

// Build constructs the entry for one tool invocation from the hook payload.
// The autopilot fields are only resolved when a SOT file exists (fast path:
// no YAML parse on projects without a workflow).
func Build(toolName string, toolInput map[string]any, sessionID, projectDir string, now time.Time) Entry {
	e := Entry{
		Timestamp: now.Format("2006-01-02 15:04:05"),
		SessionID: sessionID,
		ToolName:  toolName,
	}

	str := func(key string) string {
		s, _ := toolInput[key].(string)
		return s
	}

	switch toolName {
	case "Write":
		e.FilePath = str("file_path")
		lines := strings.Count(str("content"), "\n") + 1
		e.Summary = fmt.Sprintf("Write %s (%d lines)", e.FilePath, lines)
	case "Edit":
		e.FilePath = str("file_path")
		e.Summary = fmt.Sprintf("Edit %s: %q → %q",
			e.FilePath, firstLine(str("old_string"), 60), firstLine(str("new_string"), 60))
	case "Bash":
		e.Command = str("command")
		e.Summary = "Bash: " + clip(e.Command, 150)
		if desc := str("description"); desc != "" {
			e.Summary += " (" + desc + ")"
		}
	case "Task":
		e.Summary = fmt.Sprintf("Task (%s): %s", str("subagent_type"), str("description"))
	default:
		data, _ := json.Marshal(toolInput)
		e.Summary = toolName + ": " + clip(string(data), 150)
	}

	if projectDir != "" && sotExists(projectDir) {
		if state, ok := sot.ReadAutopilot(projectDir); ok {
			e.AutopilotOn = true
			e.AutopilotStep = state.CurrentStep
		}
	}

	return e
}

func sotExists(projectDir string) bool {
	for _, path := range config.SOTPaths(projectDir) {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}

// Path returns the work-log location for a project root.
func Path(projectDir string) string {
	return filepath.Join(config.SnapshotDir(projectDir), config.WorkLogFile)
}

// Append writes one entry under the shared advisory lock.
func Append(projectDir string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return fsatomic.AppendWithLock(Path(projectDir), append(data, '\n'))
}

// Load reads all entries; malformed lines are skipped, a missing file reads
// as empty.
func Load(projectDir string) []Entry {
	f, err := os.Open(Path(projectDir))
	if err != nil {
		return nil
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // read-only
	}()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

// TruncateTail rewrites the log to its last KeepTail entries under the same
// lock the appenders take, so a concurrent post-tool hook cannot interleave.
func TruncateTail(projectDir string) error {
	path := Path(projectDir)
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	lock := flock.New(path)
	if err := lock.Lock(); err != nil {
		return err
	}
	defer func() {
		_ = lock.Unlock() //nolint:errcheck // unlock best-effort
	}()

	entries := Load(projectDir)
	if len(entries) > KeepTail {
		entries = entries[len(entries)-KeepTail:]
	}

	var b strings.Builder
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		b.Write(data)
		b.WriteByte('\n')
	}

	// Rewrite in place rather than rename: appenders lock this inode, and a
	// rename would silently move their lock target out from under them.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // sync already called, close best-effort
	}()
	if _, err := f.WriteString(b.String()); err != nil {
		return err
	}
	return f.Sync()
}

func firstLine(s string, limit int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return clip(s, limit)
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
