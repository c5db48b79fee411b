package facts

import (
	"strings"

	"github.com/oogisoogi/ctxhooks/internal/transcript"
)

// Phase labels for a window of tool activity.
const (
	PhasePlanning       = "planning"
	PhaseOrchestration  = "orchestration"
	PhaseResearch       = "research"
	PhaseImplementation = "implementation"
	PhaseUnknown        = "unknown"
)

// Phase classification windows the tool sequence.
const (
	phaseWindowSize = 20
	phaseWindowStep = phaseWindowSize / 2 // 50% overlap
)

// tool kind groups for the proportion rules.
var (
	planningTools = map[string]bool{"TodoWrite": true, "ExitPlanMode": true, "EnterPlanMode": true}
	researchTools = map[string]bool{"Read": true, "Grep": true, "Glob": true, "WebSearch": true, "WebFetch": true}
	implTools     = map[string]bool{"Edit": true, "Write": true, "Bash": true}
)

// Phases classifies the session. phase is the dominant window label and
// flow is the sequence of window transitions joined by "→".
func Phases(entries []transcript.Entry) (phase, flow string) {
	var tools []string
	for _, e := range transcript.ToolUses(entries) {
		tools = append(tools, e.ToolName)
	}
	if len(tools) == 0 {
		return PhaseUnknown, ""
	}

	var windows []string
	for start := 0; ; start += phaseWindowStep {
		end := start + phaseWindowSize
		if end > len(tools) {
			end = len(tools)
		}
		windows = append(windows, classifyWindow(tools[start:end]))
		if end == len(tools) {
			break
		}
	}

	return dominantPhase(windows), transitionFlow(windows)
}

// classifyWindow applies deterministic proportion rules, checked in a fixed
// order so the result never depends on map iteration.
func classifyWindow(tools []string) string {
	if len(tools) == 0 {
		return PhaseUnknown
	}

	var plan, orch, research, impl int
	for _, tool := range tools {
		switch {
		case tool == "Task":
			orch++
		case planningTools[tool]:
			plan++
		case researchTools[tool]:
			research++
		case implTools[tool]:
			impl++
		}
	}

	total := float64(len(tools))
	switch {
	case float64(orch)/total >= 0.3:
		return PhaseOrchestration
	case float64(plan)/total >= 0.2:
		return PhasePlanning
	case float64(impl)/total >= 0.5:
		return PhaseImplementation
	case float64(research)/total >= 0.6:
		return PhaseResearch
	default:
		return PhaseUnknown
	}
}

// dominantPhase picks the most frequent window label; ties resolve to the
// later-occurring label (the session's more recent character).
func dominantPhase(windows []string) string {
	counts := make(map[string]int)
	for _, w := range windows {
		counts[w]++
	}
	best := PhaseUnknown
	bestCount := 0
	for _, w := range windows {
		if counts[w] >= bestCount {
			best = w
			bestCount = counts[w]
		}
	}
	return best
}

// transitionFlow collapses consecutive duplicates into a transition chain.
func transitionFlow(windows []string) string {
	var seq []string
	for _, w := range windows {
		if len(seq) == 0 || seq[len(seq)-1] != w {
			seq = append(seq, w)
		}
	}
	return strings.Join(seq, "→")
}
