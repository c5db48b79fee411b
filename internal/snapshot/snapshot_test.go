package snapshot

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/oogisoogi/ctxhooks/internal/config"
	"github.com/oogisoogi/ctxhooks/internal/transcript"
)

func user(text string) transcript.Entry {
	return transcript.Entry{Kind: transcript.KindUser, Timestamp: now(), Text: text}
}

func assistantText(text string) transcript.Entry {
	return transcript.Entry{Kind: transcript.KindAssistantText, Timestamp: now(), Text: text}
}

func edit(id, path string) transcript.Entry {
	return transcript.Entry{
		Kind: transcript.KindToolUse, Timestamp: now(),
		ToolUseID: id, ToolName: "Edit", FilePath: path,
		Summary: "Edit " + path,
	}
}

func bash(id, cmd string) transcript.Entry {
	return transcript.Entry{
		Kind: transcript.KindToolUse, Timestamp: now(),
		ToolUseID: id, ToolName: "Bash", Command: cmd,
		Summary: "Bash: " + cmd,
	}
}

func result(id string, isError bool) transcript.Entry {
	return transcript.Entry{Kind: transcript.KindToolResult, ToolUseID: id, IsError: isError, Content: "out"}
}

func now() time.Time {
	return time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
}

func baseInput(entries []transcript.Entry) Input {
	return Input{
		SessionID:  "sess-123",
		Trigger:    "stop",
		ProjectDir: "",
		Entries:    entries,
		Now:        now(),
	}
}

func TestRender_ContainsContractSections(t *testing.T) {
	entries := []transcript.Entry{
		user("Build the parser"),
		edit("1", "parser.go"),
		result("1", false),
		bash("2", "go test ./..."),
		result("2", false),
		assistantText(strings.Repeat("Implementation details. ", 20)),
		user("now also handle empty files"),
	}

	out := Render(baseInput(entries))

	for _, want := range []string{
		"# Context Recovery — Session sess-123",
		secCurrentTask,
		secSOT,
		secResume,
		secCompletion,
		secModified,
		secUserHistory,
		secStats,
		secCommands,
		ImmortalMarker,
		"Build the parser",
		"**마지막 사용자 지시:**",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("snapshot missing %q", want)
		}
	}
}

func TestRender_SlashCommandsFiltered(t *testing.T) {
	entries := []transcript.Entry{
		user("/clear"),
		user("Fix the race in the watcher"),
	}
	out := Render(baseInput(entries))
	if !strings.Contains(out, "Fix the race in the watcher") {
		t.Error("first non-command message should be the task")
	}
	// The task section must not lead with the slash command.
	taskStart := strings.Index(out, secCurrentTask)
	taskEnd := strings.Index(out[taskStart:], "Fix the race")
	if strings.Contains(out[taskStart:taskStart+taskEnd], "/clear") {
		t.Error("slash command leaked into the task section")
	}
}

func TestRender_ULWSection(t *testing.T) {
	entries := []transcript.Entry{user("ulw: finish everything tonight")}
	out := Render(baseInput(entries))
	if !strings.Contains(out, secULW) {
		t.Fatal("ULW section missing")
	}
	if !config.ULWPattern.MatchString(out) {
		t.Error("ULW section must satisfy the canonical detection pattern")
	}
}

func TestRender_ErrorMarkedInCompletion(t *testing.T) {
	entries := []transcript.Entry{
		edit("1", "a.go"),
		result("1", true),
	}
	out := Render(baseInput(entries))
	if !strings.Contains(out, "← ERROR") {
		t.Error("failed activity not marked in the completion ledger")
	}
}

// Snapshot size property: any transcript renders within the budget.
func TestRender_SizeBudgetProperty(t *testing.T) {
	var entries []transcript.Entry
	long := strings.Repeat("response text with PASS and ## headers\n", 30)
	for i := 0; i < 800; i++ {
		id := fmt.Sprintf("t%d", i)
		entries = append(entries,
			user(fmt.Sprintf("request %d: %s", i, strings.Repeat("detail ", 40))),
			edit(id, fmt.Sprintf("file%d.go", i%40)),
			result(id, i%7 == 0),
			bash("b"+id, fmt.Sprintf("go test ./pkg%d/... -run 'TestCase%d' %s", i, i, strings.Repeat("-v ", 30))),
			assistantText(long))
	}

	out := Render(baseInput(entries))
	if len(out) > config.SnapshotSizeBudget {
		t.Fatalf("rendered snapshot is %d chars, budget %d", len(out), config.SnapshotSizeBudget)
	}
	if !strings.Contains(out, "compression-audit:") {
		t.Error("compressed snapshot must end with the audit comment")
	}
	if !strings.Contains(out, secCurrentTask) {
		t.Error("IMMORTAL current-task section lost under compression")
	}
}

func TestCompress_PhasesEmitAudit(t *testing.T) {
	var b strings.Builder
	b.WriteString("# Context Recovery — Session x\n\n")
	b.WriteString(secCommands + "\n\n")
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, "- `command %d %s`\n", i, strings.Repeat("x", 400))
	}

	out := Compress(b.String(), 20000)
	if len(out) > 20000 {
		t.Fatalf("compressed to %d, budget 20000", len(out))
	}
	if !strings.Contains(out, "compression-audit:") {
		t.Fatal("audit comment missing")
	}
	if !strings.Contains(out, "개 항목 생략") {
		t.Error("commands omission marker missing")
	}
	if !strings.Contains(out, "dedup:") || !strings.Contains(out, "commands:") {
		t.Error("audit must name the phases that ran")
	}
}

func TestCompress_DedupPhase(t *testing.T) {
	content := "## 목록\n- same item\n- same item\n- same item\n- other\n"
	out := phaseDedup(content)
	if strings.Count(out, "- same item") != 1 {
		t.Errorf("dedup failed: %q", out)
	}
	if !strings.Contains(out, "- other") {
		t.Error("distinct item dropped")
	}
}

func TestCompress_StatsRemoved(t *testing.T) {
	content := "## A\n\nbody\n\n" + secStats + "\n\n- 도구 호출: 5\n\n## B\n\nkeep\n"
	out := phaseStats(content)
	if strings.Contains(out, "도구 호출") {
		t.Error("stats content survived")
	}
	if !strings.Contains(out, "keep") {
		t.Error("following section damaged")
	}
}

// IMMORTAL preservation: the hard truncate keeps marked sections, and the
// boundary detection is marker-first — a plain section between two
// IMMORTAL ones does not flip the later IMMORTALs.
func TestHardTruncate_MarkerFirstBoundaries(t *testing.T) {
	var b strings.Builder
	b.WriteString("# Head\n\n")
	b.WriteString("## First Immortal\n" + ImmortalMarker + " first -->\nkeep-first\n\n")
	b.WriteString("## Plain Section\n" + strings.Repeat("filler line\n", 500))
	b.WriteString("## Second Immortal\n" + ImmortalMarker + " second -->\nkeep-second\n\n")
	b.WriteString("## Tail Plain\n" + strings.Repeat("tail filler\n", 500))

	out := phaseHardTruncate(b.String(), 2000)
	if len(out) > 2100 {
		t.Fatalf("hard truncate overshot: %d", len(out))
	}
	if !strings.Contains(out, "keep-first") || !strings.Contains(out, "keep-second") {
		t.Error("IMMORTAL content lost")
	}
	if !strings.Contains(out, "압축되었습니다") {
		t.Error("truncation notice missing")
	}
}

func TestHardTruncate_ImmortalOverflowIsVisible(t *testing.T) {
	content := "## Only Immortal\n" + ImmortalMarker + " only -->\n" + strings.Repeat("immortal line\n", 1000)
	out := phaseHardTruncate(content, 1000)
	if len(out) > 1100 {
		t.Fatalf("overflowed: %d", len(out))
	}
	if !strings.Contains(out, "압축되었습니다") {
		t.Error("visible notice required when IMMORTAL itself is cut")
	}
}

func TestResponseCompression_StructureAware(t *testing.T) {
	structured := strings.Repeat("| a | b |\nPASS line\n", 100)
	out := compressResponse(structured, 500)
	if len(out) > 700 {
		t.Errorf("compressed length = %d", len(out))
	}
	if !strings.Contains(out, "구조 보존") {
		t.Error("structure-preserving marker missing")
	}

	prose := strings.Repeat("plain words only here ", 100)
	out = compressResponse(prose, 500)
	if strings.Contains(out, "구조 보존") {
		t.Error("plain prose should use the aggressive marker")
	}
}
