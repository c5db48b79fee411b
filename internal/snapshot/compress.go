package snapshot

import (
	"fmt"
	"strings"
)

// Compression phase names, in execution order. Earlier phases are cheaper
// and cost less information; the order is fixed and part of the audit
// contract.
var compressionPhases = []struct {
	name  string
	apply func(string) string
}{
	{"dedup", phaseDedup},
	{"commands", phaseCommands},
	{"worklog", phaseWorkLog},
	{"stats", phaseStats},
	{"gitdiff", phaseGitDiff},
	{"responses", phaseResponses},
}

// auditReserve keeps room for the truncation notice and the audit comment
// inside the budget.
const auditReserve = 300

// Compress shrinks content under budget by running the fixed phase
// sequence, checking the size after every phase. The result always ends
// with a single-line machine-readable audit comment listing bytes removed
// per phase and the final size.
func Compress(content string, budget int) string {
	var audit []string

	for _, phase := range compressionPhases {
		before := len(content)
		content = phase.apply(content)
		audit = append(audit, fmt.Sprintf("%s:%d", phase.name, before-len(content)))
		if len(content) <= budget-auditReserve {
			return content + auditComment(audit, len(content), budget)
		}
	}

	// Absolute last resort.
	before := len(content)
	content = phaseHardTruncate(content, budget-auditReserve)
	audit = append(audit, fmt.Sprintf("truncate:%d", before-len(content)))

	return content + auditComment(audit, len(content), budget)
}

func auditComment(audit []string, size, budget int) string {
	return fmt.Sprintf("\n<!-- compression-audit: %s | final:%dch/%dch -->\n",
		strings.Join(audit, "|"), size, budget)
}

// phaseDedup drops consecutive identical list items.
func phaseDedup(content string) string {
	lines := strings.Split(content, "\n")
	out := lines[:0]
	prev := ""
	for _, line := range lines {
		if strings.HasPrefix(line, "- ") && line == prev {
			continue
		}
		out = append(out, line)
		prev = line
	}
	return strings.Join(out, "\n")
}

// phaseCommands keeps the first 3 and last 5 command items with an omission
// marker between.
func phaseCommands(content string) string {
	return reduceSectionItems(content, secCommands, 3, 5)
}

// phaseWorkLog keeps the last 10 work-log items.
func phaseWorkLog(content string) string {
	return reduceSectionItems(content, secWorkLog, 0, 10)
}

// phaseStats removes the statistics section entirely; it is regeneratable
// from the transcript.
func phaseStats(content string) string {
	start, end := sectionRange(content, secStats)
	return removeRange(content, start, end)
}

// phaseGitDiff removes the detailed diff subsection, keeping stat and
// commits.
func phaseGitDiff(content string) string {
	lines := strings.Split(content, "\n")
	start := -1
	for i, line := range lines {
		if strings.HasPrefix(line, "### Diff 상세") {
			start = i
			break
		}
	}
	if start < 0 {
		return content
	}
	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if strings.HasPrefix(lines[i], "## ") {
			end = i
			break
		}
	}
	return strings.Join(append(lines[:start:start], lines[end:]...), "\n")
}

// phaseResponses recompresses each response block over 500 chars to a
// structure-aware head+tail.
func phaseResponses(content string) string {
	start, end := sectionRange(content, secResponses)
	if start < 0 {
		return content
	}

	lines := strings.Split(content, "\n")
	sectionLines := lines[start:end]

	// Split the section into blocks at response headers.
	var out []string
	var block []string
	flush := func() {
		if len(block) == 0 {
			return
		}
		text := strings.Join(block, "\n")
		if len(text) > 500 {
			text = compressResponse(text, 500)
		}
		out = append(out, strings.Split(text, "\n")...)
		block = nil
	}
	for _, line := range sectionLines {
		if strings.HasPrefix(line, "### 응답") || strings.HasPrefix(line, "## ") {
			flush()
			out = append(out, line)
			continue
		}
		block = append(block, line)
	}
	flush()

	rebuilt := append(lines[:start:start], out...)
	rebuilt = append(rebuilt, lines[end:]...)
	return strings.Join(rebuilt, "\n")
}

// phaseHardTruncate is the last resort: it keeps every IMMORTAL line and as
// much non-IMMORTAL prefix as fits. Boundary detection is marker-first — a
// section is IMMORTAL iff its own header is followed by an IMMORTAL marker,
// so a non-IMMORTAL section between two IMMORTAL ones never flips the
// sections after it.
func phaseHardTruncate(content string, budget int) string {
	lines := strings.Split(content, "\n")
	immortalFlags := classifyImmortal(lines)

	immortalSize := 0
	for i, line := range lines {
		if immortalFlags[i] {
			immortalSize += len(line) + 1
		}
	}

	const notice = "\n⚠ 스냅샷이 압축되었습니다 — 비우선 섹션이 제거되었습니다.\n"

	if immortalSize >= budget {
		// IMMORTAL alone overflows: truncate IMMORTAL itself, visibly.
		var b strings.Builder
		for i, line := range lines {
			if !immortalFlags[i] {
				continue
			}
			if b.Len()+len(line)+1+len(notice) > budget {
				break
			}
			b.WriteString(line + "\n")
		}
		return b.String() + notice
	}

	var b strings.Builder
	remaining := budget - immortalSize - len(notice)
	prefixOpen := true
	for i, line := range lines {
		if immortalFlags[i] {
			b.WriteString(line + "\n")
			continue
		}
		if prefixOpen && remaining > len(line)+1 {
			b.WriteString(line + "\n")
			remaining -= len(line) + 1
		} else {
			prefixOpen = false
		}
	}
	return b.String() + notice
}

// classifyImmortal flags each line as belonging to an IMMORTAL section.
// The preamble before the first `## ` header (title and save metadata) is
// treated as IMMORTAL: it is the snapshot's identity.
func classifyImmortal(lines []string) []bool {
	flags := make([]bool, len(lines))
	inImmortal := true // preamble
	for i, line := range lines {
		if strings.HasPrefix(line, "## ") {
			inImmortal = headerIsImmortal(lines, i)
		}
		flags[i] = inImmortal
	}
	return flags
}

// headerIsImmortal peeks past a header for its marker comment.
func headerIsImmortal(lines []string, header int) bool {
	for i := header + 1; i < len(lines) && i <= header+2; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, ImmortalMarker) {
			return true
		}
		if trimmed != "" {
			return false
		}
	}
	return false
}

// sectionRange locates [start, end) line indices of a `## ` section, end
// exclusive at the next `## ` header or EOF. start is -1 when absent.
func sectionRange(content, title string) (int, int) {
	lines := strings.Split(content, "\n")
	start := -1
	for i, line := range lines {
		if strings.HasPrefix(line, title) {
			start = i
			break
		}
	}
	if start < 0 {
		return -1, -1
	}
	for i := start + 1; i < len(lines); i++ {
		if strings.HasPrefix(lines[i], "## ") {
			return start, i
		}
	}
	return start, len(lines)
}

// removeRange drops the [start, end) line range; no-op when start < 0.
func removeRange(content string, start, end int) string {
	if start < 0 {
		return content
	}
	lines := strings.Split(content, "\n")
	return strings.Join(append(lines[:start:start], lines[end:]...), "\n")
}

// reduceSectionItems keeps head items from the front and tail items from
// the back of a section's list, with an omission marker.
func reduceSectionItems(content, title string, head, tail int) string {
	start, end := sectionRange(content, title)
	if start < 0 {
		return content
	}

	lines := strings.Split(content, "\n")
	var items []int
	for i := start + 1; i < end; i++ {
		if strings.HasPrefix(lines[i], "- ") {
			items = append(items, i)
		}
	}
	if len(items) <= head+tail {
		return content
	}

	omitted := len(items) - head - tail
	keep := make(map[int]bool)
	for _, i := range items[:head] {
		keep[i] = true
	}
	for _, i := range items[len(items)-tail:] {
		keep[i] = true
	}

	var out []string
	markerPlaced := false
	for i, line := range lines {
		isItem := i > start && i < end && strings.HasPrefix(line, "- ")
		if isItem && !keep[i] {
			if !markerPlaced {
				out = append(out, fmt.Sprintf("…%d개 항목 생략…", omitted))
				markerPlaced = true
			}
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
