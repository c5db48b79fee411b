// Package risk aggregates the knowledge archive's error history into
// per-file risk scores: weighted by error type, decayed by record age.
// The result is cached in risk-scores.json at session start and consumed
// by the predictive pre-tool guard.
package risk

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/oogisoogi/ctxhooks/internal/archive"
	"github.com/oogisoogi/ctxhooks/internal/config"
)

// FileRisk is the aggregated error history of one file.
type FileRisk struct {
	RiskScore        float64        `json:"risk_score"`
	ErrorCount       int            `json:"error_count"`
	ErrorTypes       map[string]int `json:"error_types"`
	LastErrorSession string         `json:"last_error_session"`
	ResolutionRate   float64        `json:"resolution_rate"`
}

// Scores is the full risk-scores.json structure.
type Scores struct {
	GeneratedAt   string              `json:"generated_at"`
	DataSessions  int                 `json:"data_sessions"`
	ProjectDir    string              `json:"project_dir"`
	RiskThreshold float64             `json:"risk_threshold"`
	Files         map[string]FileRisk `json:"files"`
	TopRiskFiles  []string            `json:"top_risk_files"`
}

// typeWeights scores each taxonomy label by how predictive it is of future
// trouble in the same file.
var typeWeights = map[string]float64{
	"edit_mismatch":     2.0,
	"dependency":        2.5,
	"type_error":        1.5,
	"syntax":            1.0,
	"value_error":       1.0,
	"git_error":         1.0,
	"timeout":           0.5,
	"file_not_found":    0.5,
	"permission":        0.5,
	"connection":        0.3,
	"memory":            0.3,
	"command_not_found": 0.3,
	"unknown":           0.7,
}

// errorSpreadFiles bounds how many of a session's modified files absorb an
// error pattern that names no file of its own.
const errorSpreadFiles = 5

// topRiskCap bounds top_risk_files.
const topRiskCap = 10

// recencyWeight decays a record's contribution by age. Unparseable
// timestamps get the conservative oldest weight.
func recencyWeight(timestamp string, now time.Time) float64 {
	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return 0.25
	}
	age := now.Sub(ts)
	switch {
	case age <= 30*24*time.Hour:
		return 1.0
	case age <= 90*24*time.Hour:
		return 0.5
	default:
		return 0.25
	}
}

// Compute aggregates the records into risk scores. Below the cold-start
// floor it returns an empty structure with only the session count filled.
func Compute(records []archive.Record, projectDir string, now time.Time) Scores {
	scores := Scores{
		GeneratedAt:   now.Format(time.RFC3339),
		DataSessions:  len(records),
		ProjectDir:    projectDir,
		RiskThreshold: config.RiskThreshold,
		Files:         map[string]FileRisk{},
		TopRiskFiles:  []string{},
	}
	if len(records) < config.RiskMinSessions {
		return scores
	}

	tallies := make(map[string]*tally)

	for _, rec := range records {
		weight := recencyWeight(rec.Timestamp, now)
		for _, ep := range rec.ErrorPatterns {
			targets := errorTargets(ep.File, rec.ModifiedFiles)
			for _, target := range targets {
				rel := normalize(target, projectDir)
				if rel == "" {
					continue
				}
				t := tallies[rel]
				if t == nil {
					t = &tally{risk: FileRisk{ErrorTypes: map[string]int{}}}
					tallies[rel] = t
				}
				t.risk.RiskScore += typeWeight(ep.Type) * weight
				t.risk.ErrorCount++
				t.risk.ErrorTypes[ep.Type]++
				t.risk.LastErrorSession = rec.SessionID
				if ep.Resolution != nil {
					t.resolved++
				}
			}
		}
	}

	mergeBasenames(tallies)

	for path, t := range tallies {
		if t.risk.ErrorCount > 0 {
			t.risk.ResolutionRate = float64(t.resolved) / float64(t.risk.ErrorCount)
		}
		scores.Files[path] = t.risk
	}

	scores.TopRiskFiles = topRisk(scores.Files, config.RiskThreshold)
	return scores
}

// errorTargets picks the files an error pattern charges: its own file when
// named, otherwise the session's first few modified files.
func errorTargets(file string, modified []string) []string {
	if file != "" {
		return []string{file}
	}
	if len(modified) > errorSpreadFiles {
		modified = modified[:errorSpreadFiles]
	}
	return modified
}

func typeWeight(errType string) float64 {
	if w, ok := typeWeights[errType]; ok {
		return w
	}
	return typeWeights["unknown"]
}

// normalize converts a path to project-relative form; paths outside the
// project stay as given.
func normalize(path, projectDir string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) && projectDir != "" {
		if rel, err := filepath.Rel(projectDir, path); err == nil && !isOutside(rel) {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(path)
}

func isOutside(rel string) bool {
	return rel == ".." || len(rel) >= 3 && rel[:3] == "../"
}

// tally accumulates one file's risk during aggregation.
type tally struct {
	risk     FileRisk
	resolved int
}

// mergeBasenames merges entries sharing a basename into the longest (most
// specific) path, summing scores and counts. Error patterns often record
// bare filenames while the session's modified list has full paths.
func mergeBasenames(tallies map[string]*tally) {
	groups := make(map[string][]string)
	for path := range tallies {
		base := filepath.Base(path)
		groups[base] = append(groups[base], path)
	}

	for _, paths := range groups {
		if len(paths) < 2 {
			continue
		}
		// Longest path is the canonical one; ties break lexically for
		// determinism.
		sort.Slice(paths, func(i, j int) bool {
			if len(paths[i]) != len(paths[j]) {
				return len(paths[i]) > len(paths[j])
			}
			return paths[i] < paths[j]
		})
		canon := tallies[paths[0]]
		for _, path := range paths[1:] {
			t := tallies[path]
			canon.risk.RiskScore += t.risk.RiskScore
			canon.risk.ErrorCount += t.risk.ErrorCount
			for errType, n := range t.risk.ErrorTypes {
				canon.risk.ErrorTypes[errType] += n
			}
			if canon.risk.LastErrorSession == "" {
				canon.risk.LastErrorSession = t.risk.LastErrorSession
			}
			canon.resolved += t.resolved
			delete(tallies, path)
		}
	}
}

// topRisk returns the files at or above threshold, sorted by score
// descending (ties by path for determinism), capped.
func topRisk(files map[string]FileRisk, threshold float64) []string {
	var top []string
	for path, fr := range files {
		if fr.RiskScore >= threshold {
			top = append(top, path)
		}
	}
	sort.Slice(top, func(i, j int) bool {
		si, sj := files[top[i]].RiskScore, files[top[j]].RiskScore
		if si != sj {
			return si > sj
		}
		return top[i] < top[j]
	})
	if len(top) > topRiskCap {
		top = top[:topRiskCap]
	}
	return top
}

// Validate runs the RS1–RS6 self-checks on a computed result before it is
// written. Each violation yields one warning.
func Validate(s Scores) []string {
	var warnings []string

	if s.GeneratedAt == "" || s.Files == nil || s.TopRiskFiles == nil {
		warnings = append(warnings, "RS1 FAIL: required keys missing")
	}
	for path, fr := range s.Files {
		if fr.RiskScore < 0 {
			warnings = append(warnings, fmt.Sprintf("RS2 FAIL: %s risk_score %.2f < 0", path, fr.RiskScore))
		}
		sum := 0
		for _, n := range fr.ErrorTypes {
			sum += n
		}
		if fr.ErrorCount < sum {
			warnings = append(warnings, fmt.Sprintf("RS3 FAIL: %s error_count %d < sum(error_types) %d", path, fr.ErrorCount, sum))
		}
		if fr.ResolutionRate < 0 || fr.ResolutionRate > 1 {
			warnings = append(warnings, fmt.Sprintf("RS4 FAIL: %s resolution_rate %.2f out of [0,1]", path, fr.ResolutionRate))
		}
	}
	for i, path := range s.TopRiskFiles {
		fr, ok := s.Files[path]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("RS5 FAIL: top_risk_files entry %s absent from files", path))
			continue
		}
		if i > 0 {
			if prev, ok := s.Files[s.TopRiskFiles[i-1]]; ok && fr.RiskScore > prev.RiskScore {
				warnings = append(warnings, "RS6 FAIL: top_risk_files not sorted descending")
			}
		}
	}

	return warnings
}

// Lookup finds the risk entry for a file path: exact project-relative match
// first, then basename fallback.
func Lookup(s Scores, filePath, projectDir string) (FileRisk, string, bool) {
	rel := normalize(filePath, projectDir)
	if fr, ok := s.Files[rel]; ok {
		return fr, rel, true
	}

	base := filepath.Base(rel)
	var keys []string
	for path := range s.Files {
		if filepath.Base(path) == base {
			keys = append(keys, path)
		}
	}
	if len(keys) == 0 {
		return FileRisk{}, "", false
	}
	sort.Strings(keys)
	return s.Files[keys[0]], keys[0], true
}
