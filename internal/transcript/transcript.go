// Package transcript parses the append-only Claude Code conversation log
// into typed entries. Parsing is deterministic structure extraction only:
// no free-form text is interpreted, and every field comes from a concrete
// JSON location.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Kind discriminates the entry variants.
type Kind string

const (
	// KindUser is a user text message.
	KindUser Kind = "user"

	// KindAssistantText is an assistant text block.
	KindAssistantText Kind = "assistant_text"

	// KindToolUse is an assistant tool invocation.
	KindToolUse Kind = "tool_use"

	// KindToolResult is the runtime's report of a prior tool call outcome.
	KindToolResult Kind = "tool_result"
)

// Entry is one parsed transcript event. Fields beyond Kind and Timestamp
// are populated per variant and immutable after parse.
type Entry struct {
	Kind      Kind
	Timestamp time.Time

	// Text is the message body for user and assistant text entries.
	Text string

	// SystemInjected marks user messages wrapped in <...> tags, which the
	// host injects rather than the human. They stay in the raw stream but
	// are excluded from the user-visible view.
	SystemInjected bool

	// ToolUseID links a tool_use to its tool_result. Orphaned results are
	// kept, not dropped.
	ToolUseID string

	// ToolName, Summary and the typed fields below describe a tool_use.
	ToolName    string
	Summary     string
	FilePath    string
	LineCount   int
	Command     string
	Description string

	// IsError and Content describe a tool_result.
	IsError bool
	Content string
}

// Tool-result bodies are truncated to one of two budgets depending on
// whether an error pattern is present: errors keep more context.
const (
	// ResultErrorBudget is the truncation limit for error-bearing results.
	ResultErrorBudget = 3072

	// ResultNormalBudget is the truncation limit for ordinary results.
	ResultNormalBudget = 1536
)

// errorIndicators is the fixed substring set that marks a tool result (or
// any text) as error-bearing. Shared with the completion-state extractor.
var errorIndicators = []string{
	"Error:",
	"error:",
	"FAILED",
	"failed",
	"not found",
	"Permission denied",
	"No such file",
	"Traceback",
}

// ContainsErrorPattern reports whether s carries any of the fixed error
// indicator substrings.
func ContainsErrorPattern(s string) bool {
	for _, ind := range errorIndicators {
		if strings.Contains(s, ind) {
			return true
		}
	}
	return false
}

// rawLine mirrors the transcript JSONL shape for the two interpreted types.
type rawLine struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Message   *struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"message,omitempty"`
}

// ParseFile reads the transcript at path. A missing file yields an empty
// slice; malformed lines are skipped silently; a partial trailing line
// (mid-write by the host) is tolerated.
func ParseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // read-only
	}()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		entries = append(entries, parseLine(line)...)
	}
	// Scanner errors (oversized or cut-off lines) end the parse but keep
	// what was read so far.
	return entries, nil
}

// parseLine converts one JSONL line into zero or more entries.
func parseLine(line []byte) []Entry {
	var raw rawLine
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil
	}
	if raw.Message == nil {
		return nil
	}

	ts := parseTimestamp(raw.Timestamp)
	switch raw.Type {
	case "user":
		return parseUserContent(ts, raw.Message.Content)
	case "assistant":
		return parseAssistantContent(ts, raw.Message.Content)
	default:
		// progress, file-history-snapshot, system: not interpreted.
		return nil
	}
}

var timestampFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
}

func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if ts, err := time.Parse(format, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// parseUserContent handles both the plain-string and block-list content
// shapes of a user message.
func parseUserContent(ts time.Time, content any) []Entry {
	switch c := content.(type) {
	case string:
		return []Entry{userEntry(ts, c)}
	case []any:
		var entries []Entry
		var text strings.Builder
		for _, block := range c {
			m, ok := block.(map[string]any)
			if !ok {
				continue
			}
			switch m["type"] {
			case "text":
				if t, ok := m["text"].(string); ok {
					text.WriteString(t)
				}
			case "tool_result":
				entries = append(entries, toolResultEntry(ts, m))
			}
		}
		if text.Len() > 0 {
			entries = append([]Entry{userEntry(ts, text.String())}, entries...)
		}
		return entries
	default:
		return nil
	}
}

func userEntry(ts time.Time, text string) Entry {
	trimmed := strings.TrimSpace(text)
	injected := strings.HasPrefix(trimmed, "<") && strings.HasSuffix(trimmed, ">")
	return Entry{Kind: KindUser, Timestamp: ts, Text: text, SystemInjected: injected}
}

func toolResultEntry(ts time.Time, block map[string]any) Entry {
	e := Entry{Kind: KindToolResult, Timestamp: ts}
	e.ToolUseID, _ = block["tool_use_id"].(string)
	e.IsError, _ = block["is_error"].(bool)

	body := resultBody(block["content"])
	budget := ResultNormalBudget
	if e.IsError || ContainsErrorPattern(body) {
		budget = ResultErrorBudget
	}
	e.Content = truncate(body, budget)
	return e
}

// resultBody flattens a tool_result content field, which is either a plain
// string or a list of text blocks.
func resultBody(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []any:
		var b strings.Builder
		for _, item := range c {
			if m, ok := item.(map[string]any); ok {
				if t, ok := m["text"].(string); ok {
					b.WriteString(t)
				}
			}
		}
		return b.String()
	default:
		return ""
	}
}

// parseAssistantContent handles both content shapes of an assistant message.
func parseAssistantContent(ts time.Time, content any) []Entry {
	switch c := content.(type) {
	case string:
		if c == "" {
			return nil
		}
		return []Entry{{Kind: KindAssistantText, Timestamp: ts, Text: c}}
	case []any:
		var entries []Entry
		for _, block := range c {
			m, ok := block.(map[string]any)
			if !ok {
				continue
			}
			switch m["type"] {
			case "text":
				if t, ok := m["text"].(string); ok && t != "" {
					entries = append(entries, Entry{Kind: KindAssistantText, Timestamp: ts, Text: t})
				}
			case "tool_use":
				if e, ok := toolUseEntry(ts, m); ok {
					entries = append(entries, e)
				}
			}
		}
		return entries
	default:
		return nil
	}
}

// toolUseEntry extracts the typed fields for a tool_use block. Extraction
// is per-tool and structural: no parsing of free-form text.
func toolUseEntry(ts time.Time, block map[string]any) (Entry, bool) {
	name, _ := block["name"].(string)
	if name == "" {
		return Entry{}, false
	}

	e := Entry{Kind: KindToolUse, Timestamp: ts, ToolName: name}
	e.ToolUseID, _ = block["id"].(string)

	input, _ := block["input"].(map[string]any)
	switch name {
	case "Write":
		e.FilePath = stringField(input, "file_path")
		if content := stringField(input, "content"); content != "" {
			e.LineCount = strings.Count(content, "\n") + 1
		}
		e.Summary = fmt.Sprintf("Write %s (%d lines)", e.FilePath, e.LineCount)
	case "Edit":
		e.FilePath = stringField(input, "file_path")
		oldPrev := headLines(stringField(input, "old_string"), 5, 200)
		newPrev := headLines(stringField(input, "new_string"), 5, 200)
		e.Summary = fmt.Sprintf("Edit %s: %q → %q", e.FilePath, oldPrev, newPrev)
	case "Bash":
		e.Command = stringField(input, "command")
		e.Description = stringField(input, "description")
		e.Summary = "Bash: " + truncate(e.Command, 150)
		if e.Description != "" {
			e.Summary += " (" + e.Description + ")"
		}
	case "Read":
		e.FilePath = stringField(input, "file_path")
		e.Summary = "Read " + e.FilePath
	case "Task":
		e.Summary = fmt.Sprintf("Task (%s): %s",
			stringField(input, "subagent_type"), stringField(input, "description"))
	case "Grep":
		e.Summary = "Grep: " + stringField(input, "pattern")
	case "Glob":
		e.Summary = "Glob: " + stringField(input, "pattern")
	case "WebSearch":
		e.Summary = "WebSearch: " + stringField(input, "query")
	case "WebFetch":
		e.Summary = "WebFetch: " + stringField(input, "url")
	default:
		e.Summary = name + ": " + summarizeInput(input)
	}
	return e, true
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// summarizeInput renders an unknown tool's input as compact JSON.
func summarizeInput(input map[string]any) string {
	if len(input) == 0 {
		return "{}"
	}
	data, err := json.Marshal(input)
	if err != nil {
		return "{}"
	}
	return truncate(string(data), 150)
}

// headLines keeps the first n lines of s, each truncated to maxLen total.
func headLines(s string, n, maxLen int) string {
	if s == "" {
		return ""
	}
	lines := strings.SplitN(s, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return truncate(strings.Join(lines, "\n"), maxLen)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}

// UserMessages returns the user-visible view: user entries with system
// injections filtered out.
func UserMessages(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Kind == KindUser && !e.SystemInjected && strings.TrimSpace(e.Text) != "" {
			out = append(out, e)
		}
	}
	return out
}

// AssistantTexts returns all assistant text entries in order.
func AssistantTexts(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Kind == KindAssistantText {
			out = append(out, e)
		}
	}
	return out
}

// ToolUses returns all tool_use entries in order.
func ToolUses(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Kind == KindToolUse {
			out = append(out, e)
		}
	}
	return out
}

// ResultByID indexes tool results by tool_use_id. Later results win, which
// matches the append-only transcript where a retried id never reappears.
func ResultByID(entries []Entry) map[string]Entry {
	results := make(map[string]Entry)
	for _, e := range entries {
		if e.Kind == KindToolResult && e.ToolUseID != "" {
			results[e.ToolUseID] = e
		}
	}
	return results
}
