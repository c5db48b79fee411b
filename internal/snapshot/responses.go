package snapshot

import (
	"fmt"
	"sort"
	"strings"

	"github.com/oogisoogi/ctxhooks/internal/transcript"
)

// Key-response selection parameters.
const (
	// meaningfulMinChars filters out short acknowledgements.
	meaningfulMinChars = 100

	// keepLastResponses are always included regardless of score.
	keepLastResponses = 3

	// keepTopResponses are added from the remainder by priority score.
	keepTopResponses = 5

	// responseRenderCap is the per-response length above which the renderer
	// applies structure-preserving compression already at assembly time.
	responseRenderCap = 4000
)

// structuralTokens mark a response as carrying structure worth preserving.
var structuralTokens = []string{"Done", "PASS", "FAIL", "TODO", "## ", "# ", "| ", "```"}

// priorityScore ranks a response by its structural density plus length
// bonuses at 500 and 1000 chars.
func priorityScore(text string) int {
	score := 0
	for _, token := range structuralTokens {
		score += strings.Count(text, token)
	}
	if len(text) > 500 {
		score++
	}
	if len(text) > 1000 {
		score += 2
	}
	return score
}

// hasStructure reports whether a response contains any structural token.
func hasStructure(text string) bool {
	for _, token := range structuralTokens {
		if strings.Contains(text, token) {
			return true
		}
	}
	return false
}

// writeKeyResponses selects and emits the top assistant responses: the last
// 3 meaningful texts always, plus the 5 best-scoring of the remainder, in
// chronological order.
func writeKeyResponses(b *strings.Builder, entries []transcript.Entry) {
	var meaningful []transcript.Entry
	for _, e := range transcript.AssistantTexts(entries) {
		if len(e.Text) > meaningfulMinChars {
			meaningful = append(meaningful, e)
		}
	}
	if len(meaningful) == 0 {
		return
	}

	selected := make(map[int]bool)
	lastStart := len(meaningful) - keepLastResponses
	if lastStart < 0 {
		lastStart = 0
	}
	for i := lastStart; i < len(meaningful); i++ {
		selected[i] = true
	}

	type scored struct {
		index int
		score int
	}
	var rest []scored
	for i := 0; i < lastStart; i++ {
		rest = append(rest, scored{index: i, score: priorityScore(meaningful[i].Text)})
	}
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].score > rest[j].score })
	for i := 0; i < len(rest) && i < keepTopResponses; i++ {
		selected[rest[i].index] = true
	}

	section(b, secResponses)
	for i, e := range meaningful {
		if !selected[i] {
			continue
		}
		text := e.Text
		if len(text) > responseRenderCap {
			text = compressResponse(text, responseRenderCap)
		}
		fmt.Fprintf(b, "### 응답 [%s]\n\n%s\n\n", e.Timestamp.Format("15:04:05"), text)
	}
}

// compressResponse shrinks a long response to roughly target chars by
// keeping a head and a tail. Responses with structural tokens get a marker
// noting the preserved structure; plain prose is cut more aggressively.
func compressResponse(text string, target int) string {
	if len(text) <= target {
		return text
	}

	if hasStructure(text) {
		head := target * 2 / 3
		tail := target / 3
		return text[:head] + "\n\n…(구조 보존 압축)…\n\n" + text[len(text)-tail:]
	}

	head := target / 2
	tail := target / 4
	return text[:head] + "\n…(압축됨)…\n" + text[len(text)-tail:]
}
