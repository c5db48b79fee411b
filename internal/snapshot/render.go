// Package snapshot renders the bounded markdown snapshot that serves as the
// session's external memory, compresses it to budget, and manages the
// on-disk snapshot lifecycle (dedup windows, rotation, guards).
//
// Sections are tiered by survival priority: IMMORTAL sections carry a
// machine-readable marker comment and outlive every compression phase short
// of the absolute last resort; CRITICAL sections shrink under pressure;
// SACRIFICABLE sections are the first to go.
package snapshot

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/oogisoogi/ctxhooks/internal/config"
	"github.com/oogisoogi/ctxhooks/internal/facts"
	"github.com/oogisoogi/ctxhooks/internal/sot"
	"github.com/oogisoogi/ctxhooks/internal/transcript"
	"github.com/oogisoogi/ctxhooks/internal/worklog"
)

// ImmortalMarker is the prefix of the marker comment that opens every
// IMMORTAL section. The compressor keys on it, so its exact shape is part
// of the snapshot file contract.
const ImmortalMarker = "<!-- IMMORTAL:"

// Section header titles. The Korean titles are part of the on-disk contract
// (the restore hook and the retry validator match on them).
const (
	secCurrentTask = "## 현재 작업 (Current Task)"
	secNextStep    = "## 다음 단계 (Next Step)"
	secSOT         = "## SOT 상태 (Workflow State)"
	secAutopilot   = "## Autopilot 상태"
	secGates       = "## 품질 게이트 상태"
	secTeam        = "## Agent Team 상태"
	secULW         = "## ULW 상태"
	secDecisions   = "## 주요 설계 결정"
	secResume      = "## 복원 지시"
	secCompletion  = "## 결정론적 완료 상태"
	secGit         = "## Git 변경 상태"
	secModified    = "## 수정된 파일"
	secReferenced  = "## 참조된 파일"
	secUserHistory = "## 사용자 요청 이력"
	secResponses   = "## Claude 핵심 응답"
	secStats       = "## 대화 통계"
	secCommands    = "## 실행된 명령"
	secWorkLog     = "## 작업 로그 요약"
)

// currentTaskCap bounds the verbatim user message in the task section.
const currentTaskCap = 3000

// Input bundles everything the renderer consumes. All fields are gathered
// read-only by the caller.
type Input struct {
	SessionID  string
	Trigger    string
	ProjectDir string
	Entries    []transcript.Entry
	WorkLog    []worklog.Entry
	SOT        sot.Capture
	Autopilot  *sot.AutopilotState
	Git        facts.GitState
	GitLines   map[string]facts.LineCounts
	GateState  map[string][]GateCounter
	Now        time.Time
}

// GateCounter is one retry counter observed under a gate's log directory.
type GateCounter struct {
	Step    int
	Retries int
}

// Render assembles the snapshot in tier order and compresses it when the
// result exceeds the size budget.
func Render(in Input) string {
	var b strings.Builder

	// Header.
	fmt.Fprintf(&b, "# Context Recovery — Session %s\n\n", in.SessionID)
	fmt.Fprintf(&b, "> Saved: %s | Trigger: %s\n", in.Now.Format("2006-01-02 15:04:05"), in.Trigger)
	phase, flow := facts.Phases(in.Entries)
	if flow != "" && strings.Contains(flow, "→") {
		fmt.Fprintf(&b, "> Phase flow: %s\n", flow)
	} else {
		fmt.Fprintf(&b, "> Phase: %s\n", phase)
	}
	b.WriteString("\n")

	// IMMORTAL tier.
	writeCurrentTask(&b, in.Entries)
	writeNextStep(&b, in.Entries)
	writeSOT(&b, in.SOT)
	writeAutopilot(&b, in.Autopilot)
	writeGates(&b, in.GateState)
	writeTeam(&b, in.SOT)
	writeULW(&b, in.Entries)
	writeDecisions(&b, in.Entries)
	writeResume(&b, in)
	writeCompletion(&b, in.Entries, in.ProjectDir)
	writeGit(&b, in.Git)

	// CRITICAL tier.
	writeModifiedFiles(&b, in.Entries)
	writeReferencedFiles(&b, in.Entries)
	writeUserHistory(&b, in.Entries)
	writeKeyResponses(&b, in.Entries)

	// SACRIFICABLE tier.
	writeStats(&b, in)
	writeCommands(&b, in.Entries)
	writeWorkLog(&b, in.WorkLog)

	out := b.String()
	if len(out) > config.SnapshotSizeBudget {
		out = Compress(out, config.SnapshotSizeBudget)
	}
	return out
}

func immortal(b *strings.Builder, title, slug string) {
	b.WriteString(title + "\n")
	b.WriteString(ImmortalMarker + " " + slug + " -->\n\n")
}

func section(b *strings.Builder, title string) {
	b.WriteString(title + "\n\n")
}

// slash commands are filtered from the task view.
func isSlashCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

// writeCurrentTask prints the first non-command user message verbatim and,
// when the latest meaningful message differs, appends it as the latest
// instruction.
func writeCurrentTask(b *strings.Builder, entries []transcript.Entry) {
	users := transcript.UserMessages(entries)

	immortal(b, secCurrentTask, "current-task")
	if len(users) == 0 {
		b.WriteString("(사용자 메시지 없음)\n\n")
		return
	}

	first := ""
	for _, u := range users {
		if !isSlashCommand(u.Text) {
			first = u.Text
			break
		}
	}
	if first == "" {
		first = users[0].Text
	}
	b.WriteString(clip(first, currentTaskCap) + "\n\n")

	last := ""
	for i := len(users) - 1; i >= 0; i-- {
		if !isSlashCommand(users[i].Text) {
			last = users[i].Text
			break
		}
	}
	if last != "" && last != first {
		b.WriteString("**마지막 사용자 지시:** " + clip(last, 1000) + "\n\n")
	}
}

// nextStepPatterns find a forward-looking line in recent assistant text.
var nextStepPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?im)^.*\bnext,\s.*$`),
	regexp.MustCompile(`(?im)^.*\bnow\s.*$`),
	regexp.MustCompile(`(?im)^.*\bthen\s.*$`),
	regexp.MustCompile(`(?m)^.*다음(?:으로|은|엔)?\s.*$`),
	regexp.MustCompile(`(?m)^.*이제\s.*$`),
}

// writeNextStep scans the last up to 5 assistant texts, newest first, and
// promotes the first match to its own section. Omitted when nothing
// matches.
func writeNextStep(b *strings.Builder, entries []transcript.Entry) {
	texts := transcript.AssistantTexts(entries)
	start := len(texts) - 5
	if start < 0 {
		start = 0
	}
	for i := len(texts) - 1; i >= start; i-- {
		for _, re := range nextStepPatterns {
			if m := re.FindString(texts[i].Text); m != "" {
				immortal(b, secNextStep, "next-step")
				b.WriteString(strings.TrimSpace(clip(m, 300)) + "\n\n")
				return
			}
		}
	}
}

func writeSOT(b *strings.Builder, capture sot.Capture) {
	immortal(b, secSOT, "sot-state")
	if !capture.Found {
		b.WriteString("SOT 파일 없음\n\n")
		return
	}
	fmt.Fprintf(b, "- 파일: %s\n", capture.Path)
	fmt.Fprintf(b, "- 수정 시각: %s\n\n", capture.ModTime.Format(time.RFC3339))
	b.WriteString("```yaml\n" + strings.TrimRight(capture.Content, "\n") + "\n```\n\n")
}

func writeAutopilot(b *strings.Builder, state *sot.AutopilotState) {
	if state == nil {
		return
	}
	immortal(b, secAutopilot, "autopilot")
	fmt.Fprintf(b, "- 워크플로우: %s\n", state.WorkflowName)
	fmt.Fprintf(b, "- 현재 단계: Step %d / %d\n", state.CurrentStep, state.TotalSteps)
	fmt.Fprintf(b, "- 상태: %s\n", state.Status)
	if len(state.AutoApprovedSteps) > 0 {
		fmt.Fprintf(b, "- 자동 승인된 단계: %v\n", state.AutoApprovedSteps)
	}
	b.WriteString("\n")
}

func writeGates(b *strings.Builder, gates map[string][]GateCounter) {
	if len(gates) == 0 {
		return
	}
	immortal(b, secGates, "quality-gates")
	names := make([]string, 0, len(gates))
	for name := range gates {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		counters := gates[name]
		sort.Slice(counters, func(i, j int) bool { return counters[i].Step < counters[j].Step })
		for _, c := range counters {
			fmt.Fprintf(b, "- %s step %d: %d retries used\n", name, c.Step, c.Retries)
		}
	}
	b.WriteString("\n")
}

// writeTeam surfaces active-team lines from the SOT when present. The SOT
// is the only deterministic source of team state.
func writeTeam(b *strings.Builder, capture sot.Capture) {
	if !capture.Found || !strings.Contains(capture.Content, "active_team") {
		return
	}
	immortal(b, secTeam, "agent-team")
	for _, line := range strings.Split(capture.Content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.Contains(trimmed, "active_team") ||
			strings.Contains(trimmed, "tasks_pending") ||
			strings.Contains(trimmed, "tasks_completed") {
			b.WriteString("- " + trimmed + "\n")
		}
	}
	b.WriteString("\n")
}

// ulwRequest detects an Ultrawork activation in the user's own messages.
var ulwRequest = regexp.MustCompile(`(?i)\bulw\b|ultrawork`)

func writeULW(b *strings.Builder, entries []transcript.Entry) {
	active := false
	for _, u := range transcript.UserMessages(entries) {
		if ulwRequest.MatchString(u.Text) {
			active = true
			break
		}
	}
	if !active {
		return
	}
	immortal(b, secULW, "ulw-mode")
	b.WriteString("Ultrawork Mode State: ACTIVE\n")
	b.WriteString("- 모든 Task 100% 완료까지 계속 (Sisyphus Mode)\n")
	b.WriteString("- 재시도 예산 상향 적용\n\n")
}

func writeDecisions(b *strings.Builder, entries []transcript.Entry) {
	decisions := facts.Decisions(entries)
	if len(decisions) == 0 {
		return
	}
	immortal(b, secDecisions, "design-decisions")
	for _, d := range decisions {
		fmt.Fprintf(b, "- [%s] %s\n", d.Tier, d.Text)
	}
	b.WriteString("\n")
}

func writeResume(b *strings.Builder, in Input) {
	immortal(b, secResume, "resume-protocol")
	fmt.Fprintf(b, "- 세션: %s | 트리거: %s | 항목 수: %d\n",
		in.SessionID, in.Trigger, len(in.Entries))

	ops := facts.FileOperations(in.Entries)
	if len(ops) > 0 {
		b.WriteString("- 수정 파일 (git 라인 수):\n")
		for _, op := range ops {
			if lc, ok := in.GitLines[op.Path]; ok {
				fmt.Fprintf(b, "  - `%s` (+%d/-%d)\n", op.Path, lc.Added, lc.Deleted)
			} else {
				fmt.Fprintf(b, "  - `%s`\n", op.Path)
			}
		}
	}
	reads := facts.ReadOperations(in.Entries)
	if len(reads) > 0 {
		b.WriteString("- 참조 파일:")
		for i, r := range reads {
			if i >= 10 {
				break
			}
			b.WriteString(" `" + r.Path + "`")
		}
		b.WriteString("\n")
	}
	b.WriteString("- 위 파일들을 Read하여 맥락을 복원한 뒤 작업을 계속하세요.\n\n")
}

func writeCompletion(b *strings.Builder, entries []transcript.Entry, projectDir string) {
	c := facts.CompletionState(entries, projectDir)

	immortal(b, secCompletion, "completion-state")
	for _, tool := range []string{"Edit", "Write", "Bash"} {
		stat := c.ToolStats[tool]
		if stat.Calls == 0 {
			continue
		}
		fmt.Fprintf(b, "- %s: %d회 호출 → %d 성공, %d 실패\n", tool, stat.Calls, stat.Success, stat.Fail)
	}

	if len(c.FileChecks) > 0 {
		b.WriteString("\n| 파일 | 존재 | 수정 시각 |\n|---|---|---|\n")
		for _, check := range c.FileChecks {
			mark := "✗"
			mtime := "-"
			if check.Exists {
				mark = "✓"
				mtime = check.ModTime.Format("15:04:05")
			}
			fmt.Fprintf(b, "| `%s` | %s | %s |\n", check.Path, mark, mtime)
		}
	}

	if !c.FirstAt.IsZero() {
		fmt.Fprintf(b, "\n- 타임라인: %s ~ %s\n",
			c.FirstAt.Format("15:04:05"), c.LastAt.Format("15:04:05"))
	}

	if len(c.Recent) > 0 {
		b.WriteString("\n최근 도구 활동:\n")
		for _, a := range c.Recent {
			line := "- " + a.Summary
			if a.IsError {
				line += " ← ERROR"
			}
			b.WriteString(line + "\n")
		}
	}
	b.WriteString("\n")
}

func writeGit(b *strings.Builder, git facts.GitState) {
	if !git.Available {
		return
	}
	immortal(b, secGit, "git-state")
	if git.StatusPorcelain != "" {
		b.WriteString("```\n" + strings.TrimRight(git.StatusPorcelain, "\n") + "\n```\n\n")
	}
	if git.DiffStat != "" {
		b.WriteString("Diff stat:\n```\n" + strings.TrimRight(git.DiffStat, "\n") + "\n```\n\n")
	}
	if git.RecentCommits != "" {
		b.WriteString("최근 커밋:\n```\n" + strings.TrimRight(git.RecentCommits, "\n") + "\n```\n\n")
	}
	if git.DiffDetail != "" {
		b.WriteString("### Diff 상세\n\n```diff\n" + strings.TrimRight(git.DiffDetail, "\n") + "\n```\n\n")
	}
}

func writeModifiedFiles(b *strings.Builder, entries []transcript.Entry) {
	ops := facts.FileOperations(entries)
	if len(ops) == 0 {
		return
	}
	section(b, secModified)
	b.WriteString("| 파일 | 도구 | 횟수 |\n|---|---|---|\n")
	for _, op := range ops {
		fmt.Fprintf(b, "| `%s` | %s | %d |\n", op.Path, op.LastTool, op.Count)
	}
	b.WriteString("\n")
	for _, op := range ops {
		fmt.Fprintf(b, "### `%s`\n\n", op.Path)
		for _, d := range op.Details {
			b.WriteString("- " + d + "\n")
		}
		b.WriteString("\n")
	}
}

func writeReferencedFiles(b *strings.Builder, entries []transcript.Entry) {
	reads := facts.ReadOperations(entries)
	if len(reads) == 0 {
		return
	}
	section(b, secReferenced)
	b.WriteString("| 파일 | 횟수 |\n|---|---|\n")
	for _, r := range reads {
		fmt.Fprintf(b, "| `%s` | %d |\n", r.Path, r.Count)
	}
	b.WriteString("\n")
}

func writeUserHistory(b *strings.Builder, entries []transcript.Entry) {
	users := transcript.UserMessages(entries)
	if len(users) == 0 {
		return
	}
	section(b, secUserHistory)
	for i, u := range users {
		fmt.Fprintf(b, "%d. [%s] %s\n", i+1, u.Timestamp.Format("15:04:05"), clip(oneLine(u.Text), 300))
	}
	b.WriteString("\n")
}

func writeStats(b *strings.Builder, in Input) {
	section(b, secStats)
	users := transcript.UserMessages(in.Entries)
	assistants := transcript.AssistantTexts(in.Entries)
	tools := transcript.ToolUses(in.Entries)
	fmt.Fprintf(b, "- 사용자 메시지: %d\n", len(users))
	fmt.Fprintf(b, "- Claude 응답: %d\n", len(assistants))
	fmt.Fprintf(b, "- 도구 호출: %d\n", len(tools))
	fmt.Fprintf(b, "- 전체 항목: %d\n", len(in.Entries))
	b.WriteString("\n")
}

func writeCommands(b *strings.Builder, entries []transcript.Entry) {
	cmds := facts.Commands(entries)
	if len(cmds) == 0 {
		return
	}
	section(b, secCommands)
	for _, cmd := range cmds {
		b.WriteString("- `" + clip(oneLine(cmd), 200) + "`\n")
	}
	b.WriteString("\n")
}

func writeWorkLog(b *strings.Builder, entries []worklog.Entry) {
	if len(entries) == 0 {
		return
	}
	section(b, secWorkLog)
	for _, e := range entries {
		fmt.Fprintf(b, "- [%s] %s\n", e.Timestamp, clip(oneLine(e.Summary), 200))
	}
	b.WriteString("\n")
}

func oneLine(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
