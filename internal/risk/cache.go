package risk

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/oogisoogi/ctxhooks/internal/config"
	"github.com/oogisoogi/ctxhooks/internal/fsatomic"
)

// CachePath returns the risk-scores.json location for a project root.
func CachePath(projectDir string) string {
	return filepath.Join(config.SnapshotDir(projectDir), config.RiskScoresFile)
}

// WriteCache atomically persists the scores.
func WriteCache(projectDir string, s Scores) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return fsatomic.WriteFile(CachePath(projectDir), data)
}

// ReadCache loads the scores from path. Readers must tolerate a missing or
// unreadable cache: the second return is false and the scores are empty.
func ReadCache(path string) (Scores, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scores{}, false
	}
	var s Scores
	if err := json.Unmarshal(data, &s); err != nil {
		return Scores{}, false
	}
	return s, true
}

// CacheFresh reports whether the cache file is younger than the staleness
// bound.
func CacheFresh(path string, now time.Time) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return now.Sub(info.ModTime()) < config.RiskCacheMaxAge
}
