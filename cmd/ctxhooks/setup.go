package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/oogisoogi/ctxhooks/internal/archive"
	"github.com/oogisoogi/ctxhooks/internal/config"
	"github.com/oogisoogi/ctxhooks/internal/fsatomic"
	"github.com/oogisoogi/ctxhooks/internal/risk"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Infrastructure validation and warn-only housekeeping",
}

var setupInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Validate the hook infrastructure of a project",
	Run: func(cmd *cobra.Command, args []string) {
		runSetupInit(validatorProjectDir())
	},
}

var setupMaintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Report stale artifacts and constant drift (never deletes)",
	Run: func(cmd *cobra.Command, args []string) {
		runSetupMaintenance(validatorProjectDir())
	},
}

func init() {
	setupCmd.AddCommand(setupInitCmd, setupMaintenanceCmd)
	rootCmd.AddCommand(setupCmd)
}

// sotWritePattern is the heuristic static check that no configured hook
// command writes at the SOT: a state-file mention co-occurring with a
// shell write operator.
var sotWritePattern = regexp.MustCompile(`state\.ya?ml`)

var shellWriteOps = []string{">", ">>", "tee ", "mv ", "cp ", "sed -i"}

// runSetupInit validates infrastructure, not workflow state: directories,
// ignore rules, hook wiring, and the SOT write-safety heuristic.
func runSetupInit(projectDir string) {
	report := func(ok bool, msg string) {
		mark := "[OK]"
		if !ok {
			mark = "[WARN]"
		}
		fmt.Printf("%s %s\n", mark, msg)
	}

	snapshotDir := config.SnapshotDir(projectDir)
	err := os.MkdirAll(filepath.Join(snapshotDir, config.SessionsDirName), 0o700)
	report(err == nil, fmt.Sprintf("runtime directories under %s", snapshotDir))

	gitignore, _ := os.ReadFile(filepath.Join(projectDir, ".gitignore")) //nolint:errcheck // absence handled below
	report(strings.Contains(string(gitignore), "context-snapshots"),
		".gitignore mentions the context-snapshots directory")

	settingsPath := filepath.Join(projectDir, ".claude", "settings.json")
	settings, err := os.ReadFile(settingsPath)
	if err != nil {
		report(false, "no .claude/settings.json — hooks are not wired")
	} else {
		report(strings.Contains(string(settings), "ctxhooks"),
			"settings.json routes lifecycle events to ctxhooks")

		// SOT write-safety heuristic: a hook command that names the state
		// file next to a write operator is a misconfiguration.
		safe := true
		for _, line := range strings.Split(string(settings), "\n") {
			if !sotWritePattern.MatchString(line) {
				continue
			}
			for _, op := range shellWriteOps {
				if strings.Contains(line, op) {
					safe = false
				}
			}
		}
		report(safe, "no configured hook writes at the SOT file")
	}

	// SOT, when present, must at least parse.
	for _, path := range config.SOTPaths(projectDir) {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var out map[string]any
		report(yaml.Unmarshal(data, &out) == nil, fmt.Sprintf("SOT %s parses as YAML", path))
		break
	}
}

// staleArchiveAge marks session archives old enough to report.
const staleArchiveAge = 30 * 24 * time.Hour

// workLogSizeCap is the report threshold for a runaway work log.
const workLogSizeCap = 1 << 20

// auditBudget extracts the recorded size budget from a compression audit
// line.
var auditBudget = regexp.MustCompile(`final:\d+ch/(\d+)ch`)

// runSetupMaintenance reports problems and constant drift; it deletes
// nothing. Deletion stays a human decision.
func runSetupMaintenance(projectDir string) {
	warn := func(format string, args ...any) {
		fmt.Printf("[WARN] "+format+"\n", args...)
	}
	snapshotDir := config.SnapshotDir(projectDir)

	// Stale session archives.
	sessionsDir := config.SessionsDir(projectDir)
	if entries, err := os.ReadDir(sessionsDir); err == nil {
		for _, e := range entries {
			info, err := e.Info()
			if err != nil {
				continue
			}
			if time.Since(info.ModTime()) > staleArchiveAge {
				warn("stale session archive (>30d): %s", e.Name())
			}
		}
	}

	// Malformed knowledge-index lines.
	indexPath := archive.IndexPath(projectDir)
	if data, err := os.ReadFile(indexPath); err == nil {
		for i, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
				warn("knowledge-index line %d is malformed", i+1)
			}
		}
	}

	// Runaway work log.
	if info, err := os.Stat(filepath.Join(snapshotDir, config.WorkLogFile)); err == nil {
		if info.Size() > workLogSizeCap {
			warn("work log is %d bytes (>1MB); a full save should have truncated it", info.Size())
		}
	}

	runConstantSyncChecks(projectDir, warn)
}

// runConstantSyncChecks are the DC-1..DC-4 cross-file checks: the constants
// this module intentionally duplicates (D-7) leave fingerprints in on-disk
// artifacts, and drift between an artifact and the config authority means
// some copy is out of sync.
func runConstantSyncChecks(projectDir string, warn func(string, ...any)) {
	// DC-1: no retry counter may exceed the single-authority maximum.
	for gate, dir := range config.GateDirs {
		matches, _ := filepath.Glob(filepath.Join(projectDir, dir, ".step-*-retry-count")) //nolint:errcheck // constant-shaped pattern
		for _, path := range matches {
			if n := fsatomic.ReadInt(path); n > config.ULWMaxRetries {
				warn("DC-1: %s counter %s holds %d, above the retry authority max %d",
					gate, filepath.Base(path), n, config.ULWMaxRetries)
			}
		}
	}

	// DC-2: the risk cache must carry the authority threshold.
	cachePath := risk.CachePath(projectDir)
	if scores, ok := risk.ReadCache(cachePath); ok {
		if scores.RiskThreshold != config.RiskThreshold {
			warn("DC-2: risk-scores.json threshold %.1f != authority %.1f (a duplicated constant drifted)",
				scores.RiskThreshold, config.RiskThreshold)
		}
		// DC-3: the cache's session count must match the index it was
		// built from.
		records := archive.All(archive.IndexPath(projectDir))
		if scores.DataSessions > len(records) {
			warn("DC-3: risk-scores.json claims %d sessions but the index holds %d",
				scores.DataSessions, len(records))
		}
	}

	// DC-4: a compression audit must record the authority size budget.
	latest, err := os.ReadFile(filepath.Join(config.SnapshotDir(projectDir), config.LatestSnapshot))
	if err == nil {
		if m := auditBudget.FindSubmatch(latest); m != nil {
			recorded, _ := strconv.Atoi(string(m[1])) //nolint:errcheck // digits guaranteed by regex
			if recorded != config.SnapshotSizeBudget {
				warn("DC-4: snapshot audit budget %d != authority %d", recorded, config.SnapshotSizeBudget)
			}
		}
	}
}
