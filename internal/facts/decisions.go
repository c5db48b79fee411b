package facts

import (
	"regexp"
	"strings"

	"github.com/oogisoogi/ctxhooks/internal/transcript"
)

// DecisionTier orders decision evidence from strongest to weakest.
type DecisionTier string

const (
	// TierMarker is an explicit HTML decision marker.
	TierMarker DecisionTier = "marker"

	// TierLabeled is a bold-labeled decision line.
	TierLabeled DecisionTier = "labeled"

	// TierRationale is a rationale/reason statement.
	TierRationale DecisionTier = "rationale"

	// TierChoice is comparison, trade-off or choice-verb language.
	TierChoice DecisionTier = "choice"

	// TierIntent is implicit intent language. Weakest; noise-filtered and
	// capped separately.
	TierIntent DecisionTier = "intent"
)

// Decision is one extracted design decision.
type Decision struct {
	Tier DecisionTier
	Text string
}

const (
	maxDecisions       = 20
	maxIntentDecisions = 5
	decisionTextLimit  = 200
)

// decisionPatterns pairs each tier with its pre-compiled recognizer, in
// priority order. All matching is line-based.
var decisionPatterns = []struct {
	tier DecisionTier
	re   *regexp.Regexp
}{
	{TierMarker, regexp.MustCompile(`<!--\s*DECISION:\s*(.+?)\s*-->`)},
	{TierLabeled, regexp.MustCompile(`\*\*(?:Decision|결정)\s*:?\*\*:?\s*(.+)`)},
	{TierRationale, regexp.MustCompile(`(?i)\b(?:rationale|reasoning|근거|이유)\s*:\s*(.+)`)},
	{TierChoice, regexp.MustCompile(`(?i)\b(?:chose|decided to|opted for|went with|instead of|trade-?off)\b`)},
	{TierIntent, regexp.MustCompile(`(?i)\b(?:I(?:'ll| will)|let me|going to)\b`)},
}

// intentNoise drops routine narration from the intent tier ("will now
// read", "let me check"), which states workflow mechanics, not decisions.
var intentNoise = regexp.MustCompile(
	`(?i)\b(?:will now (?:read|check|look|run)|let me (?:check|look|read|see|run)|I'?ll (?:check|read|look|start|begin)|going to (?:read|check|look|run))\b`)

// Decisions scans assistant text with the fixed pattern set in priority
// order. Output is capped at 20 decisions with at most 5 from the intent
// tier.
func Decisions(entries []transcript.Entry) []Decision {
	var decisions []Decision
	intentCount := 0

	for _, e := range transcript.AssistantTexts(entries) {
		for _, line := range strings.Split(e.Text, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			tier, text, ok := classifyDecisionLine(line)
			if !ok {
				continue
			}
			if tier == TierIntent {
				if intentCount >= maxIntentDecisions || intentNoise.MatchString(line) {
					continue
				}
				intentCount++
			}

			decisions = append(decisions, Decision{Tier: tier, Text: clip(text, decisionTextLimit)})
			if len(decisions) >= maxDecisions {
				return decisions
			}
		}
	}

	return decisions
}

// classifyDecisionLine returns the strongest tier matching the line.
func classifyDecisionLine(line string) (DecisionTier, string, bool) {
	for _, p := range decisionPatterns {
		m := p.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		text := line
		if len(m) > 1 && strings.TrimSpace(m[1]) != "" {
			text = strings.TrimSpace(m[1])
		}
		return p.tier, text, true
	}
	return "", "", false
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
