package archive

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oogisoogi/ctxhooks/internal/config"
	"github.com/oogisoogi/ctxhooks/internal/facts"
	"github.com/oogisoogi/ctxhooks/internal/transcript"
)

// BuildRecord assembles the per-session fact record from parsed entries.
// Pure extraction: every field is a deterministic function of the inputs.
func BuildRecord(sessionID string, projectDir string, entries []transcript.Entry, snapshotContent string, tokenEstimate int, now time.Time) Record {
	rec := Record{
		SessionID:       sessionID,
		Timestamp:       now.Format(time.RFC3339),
		TokenEstimate:   tokenEstimate,
		SessionDuration: len(entries),
	}

	if users := transcript.UserMessages(entries); len(users) > 0 {
		rec.UserTask = clip(firstNonCommand(users), 300)
	}

	ops := facts.FileOperations(entries)
	for _, op := range ops {
		rec.ModifiedFiles = append(rec.ModifiedFiles, op.Path)
		rec.ModifiedFilesDetail = append(rec.ModifiedFilesDetail, op.LastSummary)
	}
	for _, r := range facts.ReadOperations(entries) {
		rec.ReadFiles = append(rec.ReadFiles, r.Path)
	}

	seen := make(map[string]bool)
	for _, e := range transcript.ToolUses(entries) {
		rec.ToolSequence = append(rec.ToolSequence, e.ToolName)
		if !seen[e.ToolName] {
			seen[e.ToolName] = true
			rec.ToolsUsed = append(rec.ToolsUsed, e.ToolName)
		}
	}
	if len(rec.ToolSequence) > 100 {
		rec.ToolSequence = rec.ToolSequence[len(rec.ToolSequence)-100:]
	}

	for _, d := range facts.Decisions(entries) {
		rec.DesignDecisions = append(rec.DesignDecisions, d.Text)
	}
	rec.ErrorPatterns = facts.ErrorPatterns(entries)
	rec.SuccessPatterns = facts.SuccessPatterns(entries)
	rec.Phase, rec.PhaseFlow = facts.Phases(entries)

	completion := facts.CompletionState(entries, projectDir)
	rec.FinalStatus = finalStatus(completion)
	rec.CompletionSummary = completionSummary(completion)

	rec.Tags = PathTags(rec.ModifiedFiles)
	rec.PrimaryLanguage = primaryLanguage(rec.ModifiedFiles)
	rec.ULWActive = config.ULWPattern.MatchString(snapshotContent)
	rec.DiagnosisPatterns = diagnosisPatterns(projectDir)

	rec.ValidateDefaults()
	return rec
}

var diagnosisFilePattern = regexp.MustCompile(`^step-(\d+)-diagnosis\.md$`)

var diagnosisSelected = regexp.MustCompile(`(?m)^\s*(?:\*\*)?Selected(?:\*\*)?\s*:\s*(H[1-3])`)

// diagnosisPatterns records which hypothesis each gate diagnosis settled
// on, as "gate:step-N:HX" strings for cross-session retrieval.
func diagnosisPatterns(projectDir string) []string {
	if projectDir == "" {
		return nil
	}
	var patterns []string
	gates := make([]string, 0, len(config.GateDirs))
	for gate := range config.GateDirs {
		gates = append(gates, gate)
	}
	sort.Strings(gates)

	for _, gate := range gates {
		dir := filepath.Join(projectDir, config.GateDirs[gate])
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			m := diagnosisFilePattern.FindStringSubmatch(e.Name())
			if m == nil {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				continue
			}
			if sel := diagnosisSelected.FindSubmatch(data); sel != nil {
				patterns = append(patterns, gate+":step-"+m[1]+":"+string(sel[1]))
			}
		}
	}
	return patterns
}

// firstNonCommand returns the first user message that is not a slash
// command, falling back to the first message.
func firstNonCommand(users []transcript.Entry) string {
	for _, u := range users {
		if !strings.HasPrefix(strings.TrimSpace(u.Text), "/") {
			return u.Text
		}
	}
	return users[0].Text
}

// finalStatus is derived from observed tool outcomes only.
func finalStatus(c facts.Completion) string {
	calls, fails := 0, 0
	for _, stat := range c.ToolStats {
		calls += stat.Calls
		fails += stat.Fail
	}
	switch {
	case calls == 0:
		return "no_tool_activity"
	case fails == 0:
		return "clean"
	default:
		// errors occurred; whether the tail recovered is visible in Recent
		for _, a := range c.Recent {
			if a.IsError {
				return "ended_with_errors"
			}
		}
		return "recovered"
	}
}

func completionSummary(c facts.Completion) string {
	var parts []string
	for _, tool := range []string{"Edit", "Write", "Bash"} {
		stat := c.ToolStats[tool]
		if stat.Calls == 0 {
			continue
		}
		parts = append(parts, tool+": "+strconv.Itoa(stat.Calls)+" calls, "+strconv.Itoa(stat.Success)+" ok, "+strconv.Itoa(stat.Fail)+" failed")
	}
	return strings.Join(parts, "; ")
}

// extensionLanguages maps file extensions to tag/language names.
var extensionLanguages = map[string]string{
	".go":   "go",
	".py":   "python",
	".ts":   "typescript",
	".tsx":  "typescript",
	".js":   "javascript",
	".jsx":  "javascript",
	".rs":   "rust",
	".java": "java",
	".rb":   "ruby",
	".md":   "markdown",
	".yaml": "yaml",
	".yml":  "yaml",
	".sh":   "shell",
	".sql":  "sql",
}

// PathTags derives retrieval tags from file paths: language names plus
// first-level directory names, deduplicated in first-seen order.
func PathTags(paths []string) []string {
	var tags []string
	seen := make(map[string]bool)
	add := func(tag string) {
		if tag != "" && !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}

	for _, path := range paths {
		add(extensionLanguages[strings.ToLower(filepath.Ext(path))])
		parts := strings.Split(filepath.ToSlash(path), "/")
		if len(parts) > 1 {
			dir := parts[0]
			if dir != "" && dir != "." && dir != ".." {
				add(dir)
			}
		}
	}
	return tags
}

// primaryLanguage is the most frequent language among modified files; ties
// resolve to the first seen.
func primaryLanguage(paths []string) string {
	counts := make(map[string]int)
	var order []string
	for _, path := range paths {
		lang := extensionLanguages[strings.ToLower(filepath.Ext(path))]
		if lang == "" {
			continue
		}
		if counts[lang] == 0 {
			order = append(order, lang)
		}
		counts[lang]++
	}
	best := ""
	for _, lang := range order {
		if best == "" || counts[lang] > counts[best] {
			best = lang
		}
	}
	return best
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
