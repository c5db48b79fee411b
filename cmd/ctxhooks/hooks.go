package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/oogisoogi/ctxhooks/internal/config"
	"github.com/oogisoogi/ctxhooks/internal/facts"
	"github.com/oogisoogi/ctxhooks/internal/fsatomic"
	"github.com/oogisoogi/ctxhooks/internal/hookio"
	"github.com/oogisoogi/ctxhooks/internal/snapshot"
	"github.com/oogisoogi/ctxhooks/internal/sot"
	"github.com/oogisoogi/ctxhooks/internal/tokens"
	"github.com/oogisoogi/ctxhooks/internal/transcript"
	"github.com/oogisoogi/ctxhooks/internal/worklog"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Lifecycle hook entry points (stdin JSON, never blocking)",
}

var saveTrigger string

var hookStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Incremental snapshot when the assistant stops responding",
	Run: func(cmd *cobra.Command, args []string) {
		hookio.Run(runStopHook)
	},
}

var hookPostToolCmd = &cobra.Command{
	Use:   "post-tool",
	Short: "Append a work-log entry; proactive save past the token threshold",
	Run: func(cmd *cobra.Command, args []string) {
		hookio.Run(runPostToolHook)
	},
}

var hookSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Full snapshot save (pre-compact / session-end / threshold)",
	Run: func(cmd *cobra.Command, args []string) {
		hookio.Run(runSaveHook)
	},
}

var hookRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Session-start context restore pointer (RLM)",
	Run: func(cmd *cobra.Command, args []string) {
		hookio.Run(runRestoreHook)
	},
}

func init() {
	hookSaveCmd.Flags().StringVar(&saveTrigger, "trigger", "precompact",
		"Save trigger: precompact, sessionend or threshold")
	hookCmd.AddCommand(hookStopCmd, hookPostToolCmd, hookSaveCmd, hookRestoreCmd)
	rootCmd.AddCommand(hookCmd)
}

// gatherInput collects everything the renderer needs, read-only.
func gatherInput(env hookio.Envelope, projectDir, trigger string, entries []transcript.Entry) snapshot.Input {
	in := snapshot.Input{
		SessionID:  env.SessionID,
		Trigger:    trigger,
		ProjectDir: projectDir,
		Entries:    entries,
		WorkLog:    worklog.Load(projectDir),
		SOT:        sot.Read(projectDir),
		Git:        facts.CaptureGit(projectDir, nil),
		GitLines:   facts.GitLineCounts(projectDir, nil),
		GateState:  scanGateCounters(projectDir),
		Now:        time.Now(),
	}
	if in.SessionID == "" {
		in.SessionID = "unknown"
	}
	if state, ok := sot.ReadAutopilot(projectDir); ok {
		in.Autopilot = &state
	}
	return in
}

// counterFilePattern extracts the step number from a retry counter name.
var counterFilePattern = regexp.MustCompile(`^\.step-(\d+)-retry-count$`)

// scanGateCounters reads every retry counter under the gate log dirs.
func scanGateCounters(projectDir string) map[string][]snapshot.GateCounter {
	gates := make(map[string][]snapshot.GateCounter)
	for gate, dir := range config.GateDirs {
		files, err := os.ReadDir(filepath.Join(projectDir, dir))
		if err != nil {
			continue
		}
		for _, f := range files {
			m := counterFilePattern.FindStringSubmatch(f.Name())
			if m == nil {
				continue
			}
			step, _ := strconv.Atoi(m[1]) //nolint:errcheck // digits guaranteed by regex
			retries := fsatomic.ReadInt(filepath.Join(projectDir, dir, f.Name()))
			gates[gate] = append(gates[gate], snapshot.GateCounter{Step: step, Retries: retries})
		}
	}
	return gates
}

// runStopHook is the guard-all incremental save: only when the transcript
// grew enough since the last save, followed by the non-blocking safety-net
// scans.
func runStopHook() error {
	env := hookio.ReadEnvelope(os.Stdin)
	if env.StopHookActive {
		return nil // hook-triggered continuation; saving again would loop
	}

	projectDir := resolveProjectDir(env)
	snapshotDir := config.SnapshotDir(projectDir)

	if env.TranscriptPath == "" {
		return nil
	}
	info, err := os.Stat(env.TranscriptPath)
	if err != nil {
		return nil
	}

	offsetPath := filepath.Join(snapshotDir, config.OffsetFile)
	lastSize := int64(fsatomic.ReadInt(offsetPath))
	if lastSize > 0 && info.Size()-lastSize < config.StopGrowthThreshold {
		return nil
	}

	entries, err := transcript.ParseFile(env.TranscriptPath)
	if err != nil || len(entries) == 0 {
		return nil
	}

	in := gatherInput(env, projectDir, "stop", entries)
	result, err := snapshot.Save(in, env.TranscriptPath)
	if err != nil {
		return err
	}
	if !result.Skipped {
		_ = fsatomic.WriteInt(offsetPath, int(info.Size())) //nolint:errcheck // offset is best-effort
	}

	runSafetyNets(projectDir, entries)
	return nil
}

// runSaveHook is the full-save path shared by pre-compact and session-end
// (and the threshold trigger when invoked externally).
func runSaveHook() error {
	env := hookio.ReadEnvelope(os.Stdin)
	projectDir := resolveProjectDir(env)

	entries, err := transcript.ParseFile(env.TranscriptPath)
	if err != nil {
		entries = nil
	}

	in := gatherInput(env, projectDir, saveTrigger, entries)
	result, err := snapshot.Save(in, env.TranscriptPath)
	if err != nil {
		return err
	}
	if !result.Skipped {
		fmt.Printf("Context saved: %s\n", result.SnapshotPath)
	}
	return nil
}

// runPostToolHook appends the work-log entry and, past the 75% token
// threshold, invokes the save path in-process (no subprocess, no stdin
// re-plumbing).
func runPostToolHook() error {
	env := hookio.ReadEnvelope(os.Stdin)
	if env.ToolName == "" {
		return nil
	}
	projectDir := resolveProjectDir(env)

	entry := worklog.Build(env.ToolName, env.ToolInput, env.SessionID, projectDir, time.Now())
	if err := worklog.Append(projectDir, entry); err != nil {
		fmt.Fprintf(os.Stderr, "work log append failed: %v\n", err)
	}

	est := tokens.Estimate(env.TranscriptPath, nil)
	if !est.OverThreshold {
		return nil
	}

	entries, err := transcript.ParseFile(env.TranscriptPath)
	if err != nil || len(entries) == 0 {
		return nil
	}
	in := gatherInput(env, projectDir, "threshold", entries)
	_, err = snapshot.Save(in, env.TranscriptPath)
	return err
}
