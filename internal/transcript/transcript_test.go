package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTranscript(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseFile_UserAndAssistantText(t *testing.T) {
	path := writeTranscript(t,
		`{"type":"user","timestamp":"2026-07-01T10:00:00.000Z","message":{"role":"user","content":"Fix the bug"}}`,
		`{"type":"assistant","timestamp":"2026-07-01T10:00:05.000Z","message":{"role":"assistant","content":[{"type":"text","text":"Looking at it now."}]}}`,
	)

	entries, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Kind != KindUser || entries[0].Text != "Fix the bug" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Kind != KindAssistantText || entries[1].Text != "Looking at it now." {
		t.Errorf("second entry = %+v", entries[1])
	}
}

func TestParseFile_MissingFile(t *testing.T) {
	entries, err := ParseFile(filepath.Join(t.TempDir(), "nope.jsonl"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if entries != nil {
		t.Errorf("entries = %v, want nil", entries)
	}
}

func TestParseFile_SkipsMalformedAndUninterpreted(t *testing.T) {
	path := writeTranscript(t,
		`{not json`,
		`{"type":"progress","data":{}}`,
		`{"type":"file-history-snapshot","snapshot":{}}`,
		`{"type":"user","timestamp":"2026-07-01T10:00:00.000Z","message":{"role":"user","content":"hi"}}`,
	)

	entries, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}
}

func TestParseFile_ToolUseTypedFields(t *testing.T) {
	path := writeTranscript(t,
		`{"type":"assistant","timestamp":"2026-07-01T10:00:00.000Z","message":{"role":"assistant","content":[`+
			`{"type":"tool_use","id":"t1","name":"Write","input":{"file_path":"main.go","content":"a\nb\nc"}},`+
			`{"type":"tool_use","id":"t2","name":"Bash","input":{"command":"go test ./...","description":"run tests"}},`+
			`{"type":"tool_use","id":"t3","name":"Edit","input":{"file_path":"util.go","old_string":"old line","new_string":"new line"}},`+
			`{"type":"tool_use","id":"t4","name":"Read","input":{"file_path":"doc.md"}}]}}`,
	)

	entries, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(entries))
	}

	write := entries[0]
	if write.ToolName != "Write" || write.FilePath != "main.go" || write.LineCount != 3 {
		t.Errorf("Write entry = %+v", write)
	}
	bash := entries[1]
	if bash.Command != "go test ./..." || bash.Description != "run tests" {
		t.Errorf("Bash entry = %+v", bash)
	}
	if !strings.Contains(bash.Summary, "go test") || !strings.Contains(bash.Summary, "run tests") {
		t.Errorf("Bash summary = %q", bash.Summary)
	}
	edit := entries[2]
	if edit.FilePath != "util.go" || !strings.Contains(edit.Summary, "old line") {
		t.Errorf("Edit entry = %+v", edit)
	}
	if entries[3].Summary != "Read doc.md" {
		t.Errorf("Read summary = %q", entries[3].Summary)
	}
}

func TestParseFile_ToolResultTruncationBudgets(t *testing.T) {
	longOK := strings.Repeat("x", 5000)
	longErr := "Error: " + strings.Repeat("y", 5000)

	path := writeTranscript(t,
		`{"type":"user","timestamp":"2026-07-01T10:00:00.000Z","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","is_error":false,"content":"`+longOK+`"}]}}`,
		`{"type":"user","timestamp":"2026-07-01T10:00:01.000Z","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t2","is_error":true,"content":"`+longErr+`"}]}}`,
	)

	entries, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	if n := len(entries[0].Content); n > ResultNormalBudget+4 {
		t.Errorf("normal result length = %d, want ≤ %d", n, ResultNormalBudget+4)
	}
	if n := len(entries[1].Content); n <= ResultNormalBudget || n > ResultErrorBudget+4 {
		t.Errorf("error result length = %d, want in (%d, %d]", n, ResultNormalBudget, ResultErrorBudget+4)
	}
	if !entries[1].IsError {
		t.Error("is_error not carried through")
	}
}

func TestUserMessages_FiltersSystemInjected(t *testing.T) {
	path := writeTranscript(t,
		`{"type":"user","timestamp":"2026-07-01T10:00:00.000Z","message":{"role":"user","content":"<system-reminder>noise</system-reminder>"}}`,
		`{"type":"user","timestamp":"2026-07-01T10:00:01.000Z","message":{"role":"user","content":"real request"}}`,
	)

	entries, _ := ParseFile(path)
	if len(entries) != 2 {
		t.Fatalf("raw entries = %d, want 2 (injected kept in raw stream)", len(entries))
	}

	visible := UserMessages(entries)
	if len(visible) != 1 || visible[0].Text != "real request" {
		t.Errorf("visible = %+v, want only the real request", visible)
	}
}

func TestContainsErrorPattern(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"Error: boom", true},
		{"build failed", true},
		{"Permission denied", true},
		{"Traceback (most recent call last)", true},
		{"all green", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ContainsErrorPattern(tt.in); got != tt.want {
			t.Errorf("ContainsErrorPattern(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestResultByID_OrphansTolerated(t *testing.T) {
	path := writeTranscript(t,
		`{"type":"assistant","timestamp":"2026-07-01T10:00:00.000Z","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}]}}`,
		`{"type":"user","timestamp":"2026-07-01T10:00:01.000Z","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","is_error":false,"content":"ok"}]}}`,
		`{"type":"user","timestamp":"2026-07-01T10:00:02.000Z","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"orphan","is_error":true,"content":"late"}]}}`,
	)

	entries, _ := ParseFile(path)
	results := ResultByID(entries)
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 (orphans kept)", len(results))
	}
	if _, ok := results["orphan"]; !ok {
		t.Error("orphaned result dropped")
	}
}
