package validate

import (
	"os"
	"path/filepath"

	"github.com/oogisoogi/ctxhooks/internal/config"
	"github.com/oogisoogi/ctxhooks/internal/fsatomic"
)

// RetryMode selects how the retry-budget validator treats the counter.
type RetryMode int

const (
	// RetryCheck reads the counter without modifying it.
	RetryCheck RetryMode = iota

	// RetryCheckAndIncrement atomically consumes one retry iff the budget
	// allows. The counter stays unchanged when exhausted.
	RetryCheckAndIncrement

	// RetryIncrement unconditionally increments (legacy mode).
	RetryIncrement
)

// RetryResult is the retry-budget verdict. This validator is the single
// integer authority for retry limits; the diagnosis pre-analysis and the
// setup sync check must agree with config.DefaultMaxRetries and
// config.ULWMaxRetries.
type RetryResult struct {
	Valid           bool              `json:"valid"`
	CanRetry        bool              `json:"can_retry"`
	RetriesUsed     int               `json:"retries_used"`
	MaxRetries      int               `json:"max_retries"`
	BudgetRemaining int               `json:"budget_remaining"`
	ULWActive       bool              `json:"ulw_active"`
	Gate            string            `json:"gate"`
	Step            int               `json:"step"`
	Incremented     bool              `json:"incremented"`
	Checks          map[string]string `json:"checks"`
	Warnings        []string          `json:"warnings"`
}

// DetectULW reports Ultrawork mode from the latest snapshot. A stale
// snapshot can yield a false positive; that errs in the safe direction
// (more retries allowed).
func DetectULW(projectDir string) bool {
	path := filepath.Join(config.SnapshotDir(projectDir), config.LatestSnapshot)
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return config.ULWPattern.Match(data)
}

// RetryBudget runs the RB1–RB3 checks and, per mode, consumes budget.
func RetryBudget(projectDir string, step int, gate string, mode RetryMode) RetryResult {
	ulw := DetectULW(projectDir)
	maxRetries := config.DefaultMaxRetries
	if ulw {
		maxRetries = config.ULWMaxRetries
	}

	counterPath := config.CounterPath(projectDir, step, gate)

	res := RetryResult{
		Valid:      true,
		MaxRetries: maxRetries,
		ULWActive:  ulw,
		Gate:       gate,
		Step:       step,
		Warnings:   []string{},
	}

	switch mode {
	case RetryCheckAndIncrement:
		used := fsatomic.ReadInt(counterPath)
		res.CanRetry = used < maxRetries
		if res.CanRetry {
			used++
			if err := fsatomic.WriteInt(counterPath, used); err == nil {
				res.Incremented = true
			}
		}
		res.RetriesUsed = used
	case RetryIncrement:
		used := fsatomic.ReadInt(counterPath) + 1
		_ = fsatomic.WriteInt(counterPath, used) //nolint:errcheck // best-effort legacy mode
		res.RetriesUsed = used
		res.CanRetry = used < maxRetries
		res.Incremented = true
	default:
		res.RetriesUsed = fsatomic.ReadInt(counterPath)
		res.CanRetry = res.RetriesUsed < maxRetries
	}

	res.BudgetRemaining = maxRetries - res.RetriesUsed
	if res.BudgetRemaining < 0 {
		res.BudgetRemaining = 0
	}

	rb3 := "PASS"
	if !res.CanRetry {
		rb3 = "FAIL"
	}
	res.Checks = map[string]string{
		"RB1_counter_read":     "PASS",
		"RB2_ulw_detection":    "PASS",
		"RB3_budget_remaining": rb3,
	}
	return res
}
