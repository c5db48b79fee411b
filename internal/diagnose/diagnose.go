// Package diagnose gathers the deterministic evidence bundle consumed by
// the LLM diagnosis step after a quality-gate failure. It is a context
// gatherer only: JSON out, no writes, no judgment — the hypothesis ranking
// is rule-based priority, not a conclusion.
package diagnose

import (
	"fmt"
	"os"
	"regexp"

	"github.com/oogisoogi/ctxhooks/internal/config"
	"github.com/oogisoogi/ctxhooks/internal/fsatomic"
	"github.com/oogisoogi/ctxhooks/internal/validate"
)

// Context is the full pre-analysis bundle.
type Context struct {
	Step               int                   `json:"step"`
	Gate               string                `json:"gate"`
	RetryHistory       RetryHistory          `json:"retry_history"`
	UpstreamEvidence   map[string]StepHealth `json:"upstream_evidence"`
	HypothesisPriority []Hypothesis          `json:"hypothesis_priority"`
	FastPath           FastPath              `json:"fast_path"`
	RawEvidence        RawEvidence           `json:"raw_evidence"`
}

// RetryHistory reports the per-gate counters for the failing step. The
// retry limits here mirror the retry-budget validator's constants; that
// validator stays the single integer authority.
type RetryHistory struct {
	Counters   map[string]int `json:"counters"`
	MaxRetries int            `json:"max_retries"`
	ULWActive  bool           `json:"ulw_active"`
}

// StepHealth is the deterministic health of one upstream step output.
type StepHealth struct {
	Exists bool   `json:"exists"`
	Size   int64  `json:"size"`
	Path   string `json:"path,omitempty"`
}

// Hypothesis is one rule-ranked failure hypothesis.
type Hypothesis struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Priority int    `json:"priority"`
	Evidence string `json:"evidence"`
}

// FastPath marks the conditions under which the orchestrator may skip the
// full LLM diagnosis.
type FastPath struct {
	Eligible bool     `json:"eligible"`
	Reasons  []string `json:"reasons"`
}

// RawEvidence carries bounded log excerpts for the LLM to read.
type RawEvidence struct {
	GateLogTail   string `json:"gate_log_tail,omitempty"`
	OutputHead    string `json:"output_head,omitempty"`
	DiagnosisTail string `json:"diagnosis_tail,omitempty"`
}

// excerpt bounds for raw evidence.
const (
	tailExcerpt = 1200
	headExcerpt = 800
)

var selectedHypothesis = regexp.MustCompile(`(?im)^\s*(?:\*\*)?Selected(?:\*\*)?\s*:\s*(H[1-3])`)

// Gather builds the evidence bundle for a failed step and gate.
func Gather(projectDir string, step int, gate string) Context {
	ctx := Context{
		Step:             step,
		Gate:             gate,
		UpstreamEvidence: map[string]StepHealth{},
	}

	ulw := validate.DetectULW(projectDir)
	maxRetries := config.DefaultMaxRetries
	if ulw {
		maxRetries = config.ULWMaxRetries
	}
	ctx.RetryHistory = RetryHistory{
		Counters:   map[string]int{},
		MaxRetries: maxRetries,
		ULWActive:  ulw,
	}
	for _, g := range config.ValidGates {
		ctx.RetryHistory.Counters[g] = fsatomic.ReadInt(config.CounterPath(projectDir, step, g))
	}

	// Upstream output health, one entry per prior step.
	upstreamProblems := 0
	for prior := 1; prior < step; prior++ {
		key := fmt.Sprintf("step-%d", prior)
		health := stepHealth(projectDir, prior)
		ctx.UpstreamEvidence[key] = health
		if !health.Exists || health.Size < validate.MinStepOutputSize {
			upstreamProblems++
		}
	}

	current := stepHealth(projectDir, step)
	retries := ctx.RetryHistory.Counters[gate]

	// Rule-based hypothesis priorities.
	h1 := Hypothesis{ID: "H1", Label: "upstream output quality", Priority: 1,
		Evidence: fmt.Sprintf("%d upstream step outputs missing or tiny", upstreamProblems)}
	if upstreamProblems > 0 {
		h1.Priority = 3
	}

	h2 := Hypothesis{ID: "H2", Label: "current-step output gap", Priority: 2,
		Evidence: fmt.Sprintf("current output exists=%v size=%d", current.Exists, current.Size)}
	if !current.Exists || current.Size < validate.MinStepOutputSize {
		h2.Priority = 3
	}

	h3 := Hypothesis{ID: "H3", Label: "criteria misinterpretation", Priority: 1,
		Evidence: fmt.Sprintf("%d retries on gate %s", retries, gate)}
	if retries >= 2 {
		h3.Priority = 2
	}

	ctx.HypothesisPriority = orderByPriority([]Hypothesis{h1, h2, h3})

	// Fast-path eligibility.
	var reasons []string
	if !current.Exists {
		reasons = append(reasons, "FP1: step output missing entirely")
	} else if current.Size < validate.MinStepOutputSize {
		reasons = append(reasons, fmt.Sprintf("FP2: step output only %d bytes", current.Size))
	}
	if repeatedHypothesis(projectDir, step, gate) {
		reasons = append(reasons, "FP3: same hypothesis selected twice in a row")
	}
	ctx.FastPath = FastPath{Eligible: len(reasons) > 0, Reasons: reasons}
	if ctx.FastPath.Reasons == nil {
		ctx.FastPath.Reasons = []string{}
	}

	ctx.RawEvidence = rawEvidence(projectDir, step, gate, current)
	return ctx
}

func stepHealth(projectDir string, step int) StepHealth {
	path, found := validate.StepOutputPath(projectDir, step)
	if !found {
		return StepHealth{}
	}
	info, err := os.Stat(path)
	if err != nil {
		return StepHealth{Path: path}
	}
	return StepHealth{Exists: true, Size: info.Size(), Path: path}
}

// orderByPriority sorts descending by priority, stable on the H1<H2<H3
// input order.
func orderByPriority(hs []Hypothesis) []Hypothesis {
	out := make([]Hypothesis, 0, len(hs))
	for priority := 3; priority >= 1; priority-- {
		for _, h := range hs {
			if h.Priority == priority {
				out = append(out, h)
			}
		}
	}
	return out
}

// repeatedHypothesis reports whether the step's diagnosis log shows the
// same hypothesis selected in its last two selections.
func repeatedHypothesis(projectDir string, step int, gate string) bool {
	data, err := os.ReadFile(validate.DiagnosisPath(projectDir, step, gate))
	if err != nil {
		return false
	}
	matches := selectedHypothesis.FindAllStringSubmatch(string(data), -1)
	if len(matches) < 2 {
		return false
	}
	last := matches[len(matches)-1][1]
	prev := matches[len(matches)-2][1]
	return last == prev
}

func rawEvidence(projectDir string, step int, gate string, current StepHealth) RawEvidence {
	var raw RawEvidence

	gateLog := gateLogPath(projectDir, step, gate)
	if data, err := os.ReadFile(gateLog); err == nil {
		raw.GateLogTail = tail(string(data), tailExcerpt)
	}
	if current.Path != "" {
		if data, err := os.ReadFile(current.Path); err == nil {
			raw.OutputHead = head(string(data), headExcerpt)
		}
	}
	if data, err := os.ReadFile(validate.DiagnosisPath(projectDir, step, gate)); err == nil {
		raw.DiagnosisTail = tail(string(data), tailExcerpt)
	}
	return raw
}

// gateLogPath points at the gate's own log for the step.
func gateLogPath(projectDir string, step int, gate string) string {
	switch gate {
	case "verification":
		return validate.VerificationPath(projectDir, step)
	case "pacs":
		return validate.PacsLogPath(projectDir, step, "general")
	default:
		return validate.ReviewPath(projectDir, step)
	}
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
