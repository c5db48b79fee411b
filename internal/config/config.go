// Package config defines the shared constants of the context preservation
// layer: directory layout, size budgets, retry limits and detection patterns.
//
// Some constants are intentionally duplicated in the low-latency pre-tool
// guard commands, which must stay self-contained for startup cost. Every
// duplicate carries a "D-7" comment naming its authority here, and
// `ctxhooks setup maintenance` compares the values recorded in on-disk
// artifacts against these authorities (checks DC-1..DC-4).
package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"time"
)

// Directory and file layout under the project root.
const (
	// SnapshotDirName is the snapshot directory relative to the project root.
	SnapshotDirName = ".claude/context-snapshots"

	// LatestSnapshot is the singleton snapshot filename.
	LatestSnapshot = "latest.md"

	// SessionsDirName holds per-session archive files under the snapshot dir.
	SessionsDirName = "sessions"

	// WorkLogFile accumulates one structured entry per tool use.
	WorkLogFile = "work_log.jsonl"

	// KnowledgeIndexFile is the bounded cross-session fact index.
	KnowledgeIndexFile = "knowledge-index.jsonl"

	// RiskScoresFile caches per-file risk scores, recomputed at session start.
	RiskScoresFile = "risk-scores.json"

	// OffsetFile tracks the transcript byte offset of the last stop-hook save.
	OffsetFile = ".last_save_offset"

	// TDDGuardFile toggles the test-file edit guard when present in the root.
	TDDGuardFile = ".tdd-guard"
)

// Snapshot size and save cadence.
const (
	// SnapshotSizeBudget is the maximum rendered snapshot size in characters.
	// The compressor runs whenever a snapshot exceeds it. Authority for DC-4,
	// which compares it with the budget in latest.md's compression audit.
	SnapshotSizeBudget = 100000

	// DedupWindow skips a save when latest.md was written this recently.
	DedupWindow = 5 * time.Second

	// DedupWindowStop is the wider window for the stop hook, which fires on
	// every assistant response.
	DedupWindowStop = 30 * time.Second

	// StopGrowthThreshold is the minimum transcript growth in bytes before
	// the stop hook re-saves.
	StopGrowthThreshold = 5 * 1024

	// MinRichSnapshotSize marks a snapshot worth protecting from an empty
	// overwrite, and the restore-time quality floor for latest.md.
	MinRichSnapshotSize = 3000
)

// Token estimation.
const (
	// TokenCapacity is the assumed context window in tokens.
	TokenCapacity = 200000

	// SaveThresholdRatio triggers a proactive save when estimated usage
	// crosses this fraction of TokenCapacity.
	SaveThresholdRatio = 0.75
)

// Retry budgets. Authority for DC-1: the same two limits appear in the
// diagnosis pre-analysis and the setup documentation check.
const (
	// DefaultMaxRetries is the per-step, per-gate retry budget.
	DefaultMaxRetries = 10

	// ULWMaxRetries is the raised budget while Ultrawork mode is active.
	ULWMaxRetries = 15
)

// ULWPattern detects Ultrawork mode from the latest snapshot content.
var ULWPattern = regexp.MustCompile(`ULW 상태|Ultrawork Mode State`)

// Risk scoring. Duplicated in `guard risk`, which is self-contained for
// startup latency. Authority for DC-2, which compares RiskThreshold with the
// threshold recorded in risk-scores.json.
const (
	// RiskThreshold is the minimum risk score that produces a warning.
	RiskThreshold = 3.0

	// RiskMinSessions is the cold-start floor: below this many indexed
	// sessions no risk data is produced or consumed.
	RiskMinSessions = 5

	// RiskCacheMaxAge is how old risk-scores.json may be before the guard
	// treats it as stale.
	RiskCacheMaxAge = 2 * time.Hour
)

// SOTFilenames lists the workflow state-of-truth candidates, checked in
// order, relative to the project root. The SOT is read-only to every
// command in this module.
var SOTFilenames = []string{
	".claude/state.yaml",
	".claude/state.yml",
}

// Retention limits.
const (
	// KnowledgeIndexKeep bounds knowledge-index.jsonl to the newest records.
	KnowledgeIndexKeep = 200

	// SessionArchiveKeep bounds the sessions/ directory to the newest files.
	SessionArchiveKeep = 20
)

// SnapshotRetention maps a save trigger to how many timestamped snapshots
// of that trigger are kept. Unknown triggers fall back to DefaultRetention.
var SnapshotRetention = map[string]int{
	"precompact": 3,
	"sessionend": 3,
	"threshold":  2,
	"stop":       5,
}

// DefaultRetention applies to triggers absent from SnapshotRetention.
const DefaultRetention = 3

// Quality-gate layout.
var (
	// GateDirs maps a gate name to its log directory under the project root.
	GateDirs = map[string]string{
		"verification": "verification-logs",
		"pacs":         "pacs-logs",
		"review":       "review-logs",
	}

	// ValidGates lists the accepted --gate values in canonical order.
	ValidGates = []string{"verification", "pacs", "review"}
)

// pACS thresholds.
const (
	// PacsDeltaThreshold is the generator/reviewer score gap that requires
	// reconciliation.
	PacsDeltaThreshold = 15

	// PacsRedThreshold is the score below which a step may not advance.
	PacsRedThreshold = 50
)

// SnapshotDir returns the snapshot directory for a project root.
func SnapshotDir(projectDir string) string {
	return filepath.Join(projectDir, filepath.FromSlash(SnapshotDirName))
}

// SessionsDir returns the session archive directory for a project root.
func SessionsDir(projectDir string) string {
	return filepath.Join(SnapshotDir(projectDir), SessionsDirName)
}

// SOTPaths returns the SOT candidate paths for a project root, in priority
// order.
func SOTPaths(projectDir string) []string {
	paths := make([]string, 0, len(SOTFilenames))
	for _, name := range SOTFilenames {
		paths = append(paths, filepath.Join(projectDir, filepath.FromSlash(name)))
	}
	return paths
}

// CounterPath returns the retry counter file for a step and gate, or the
// empty string for an unknown gate.
func CounterPath(projectDir string, step int, gate string) string {
	dir, ok := GateDirs[gate]
	if !ok {
		return ""
	}
	return filepath.Join(projectDir, dir, fmt.Sprintf(".step-%d-retry-count", step))
}

// IsValidGate reports whether gate is one of the known quality gates.
func IsValidGate(gate string) bool {
	_, ok := GateDirs[gate]
	return ok
}
