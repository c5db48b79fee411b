package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oogisoogi/ctxhooks/internal/hookio"
)

// This guard runs before every Edit/Write and is kept self-contained: it
// parses risk-scores.json with local types and local constants instead of
// importing the risk and config packages. D-7: the constants below are
// intentional duplicates; their authorities live in internal/config, and
// `setup maintenance` check DC-2 compares the threshold recorded in the cache
// the risk aggregator actually wrote against config.RiskThreshold.
const (
	riskGuardThreshold   = 3.0             // D-7: config.RiskThreshold
	riskGuardMinSessions = 5               // D-7: config.RiskMinSessions
	riskGuardCacheMaxAge = 2 * time.Hour   // D-7: config.RiskCacheMaxAge
	riskGuardCacheFile   = ".claude/context-snapshots/risk-scores.json" // D-7: config layout
)

// riskGuardEntry mirrors the per-file cache shape.
type riskGuardEntry struct {
	RiskScore        float64        `json:"risk_score"`
	ErrorCount       int            `json:"error_count"`
	ErrorTypes       map[string]int `json:"error_types"`
	LastErrorSession string         `json:"last_error_session"`
	ResolutionRate   float64        `json:"resolution_rate"`
}

// riskGuardCache mirrors the cache top level.
type riskGuardCache struct {
	DataSessions int                       `json:"data_sessions"`
	Files        map[string]riskGuardEntry `json:"files"`
}

// runRiskGuard warns (stderr only, always exit 0) when the incoming file
// has a risk score at or above threshold. Missing, stale or cold-start
// caches exit silently.
func runRiskGuard() error {
	env := hookio.ReadEnvelope(os.Stdin)
	filePath := env.InputString("file_path")
	if filePath == "" {
		return nil
	}

	projectDir := os.Getenv("CLAUDE_PROJECT_DIR")
	if projectDir == "" {
		projectDir = env.Cwd
	}
	if projectDir == "" {
		return nil
	}

	cachePath := filepath.Join(projectDir, filepath.FromSlash(riskGuardCacheFile))
	info, err := os.Stat(cachePath)
	if err != nil || time.Since(info.ModTime()) > riskGuardCacheMaxAge {
		return nil
	}

	data, err := os.ReadFile(cachePath)
	if err != nil {
		return nil
	}
	var cache riskGuardCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil
	}
	if cache.DataSessions < riskGuardMinSessions {
		return nil
	}

	rel := filePath
	if r, err := filepath.Rel(projectDir, filePath); err == nil && !strings.HasPrefix(r, "..") {
		rel = filepath.ToSlash(r)
	}

	entry, ok := cache.Files[rel]
	if !ok {
		// Basename fallback: error patterns often store bare filenames.
		base := filepath.Base(rel)
		var keys []string
		for path := range cache.Files {
			if filepath.Base(path) == base {
				keys = append(keys, path)
			}
		}
		if len(keys) == 0 {
			return nil
		}
		sort.Strings(keys)
		entry = cache.Files[keys[0]]
	}

	if entry.RiskScore < riskGuardThreshold {
		return nil
	}

	fmt.Fprintf(os.Stderr,
		"PREDICTIVE WARNING: %s — risk score %.1f\n"+
			"  Past errors: %d (%s)\n"+
			"  Resolution rate: %.0f%% | Last error: %s\n"+
			"  Recommendation: Review past error patterns before editing. Pay extra attention to %s issues.\n",
		rel, entry.RiskScore,
		entry.ErrorCount, formatErrorTypes(entry.ErrorTypes),
		entry.ResolutionRate*100, orUnknown(entry.LastErrorSession),
		topErrorType(entry.ErrorTypes))
	return nil
}

// formatErrorTypes renders "type:count" pairs, most frequent first.
func formatErrorTypes(types map[string]int) string {
	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if types[names[i]] != types[names[j]] {
			return types[names[i]] > types[names[j]]
		}
		return names[i] < names[j]
	})
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s:%d", name, types[name]))
	}
	return strings.Join(parts, ", ")
}

func topErrorType(types map[string]int) string {
	best, bestCount := "unknown", 0
	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if types[name] > bestCount {
			best, bestCount = name, types[name]
		}
	}
	return best
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
