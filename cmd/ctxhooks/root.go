package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/oogisoogi/ctxhooks/internal/hookio"
)

var (
	// Global flags
	projectDirFlag string
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "ctxhooks",
	Short: "Context preservation and quality-gate layer for AI coding sessions",
	Long: `ctxhooks wraps an AI coding assistant with external memory and
deterministic quality gates.

Hook entry points (wired into the host's lifecycle events):
  hook stop         incremental snapshot when the assistant stops
  hook post-tool    work-log append + token-threshold save
  hook save         full save (pre-compact, session-end, threshold)
  hook restore      session-start context pointer (RLM)

Pre-tool guards:
  guard bash        block destructive commands (exit 2)
  guard test-file   block test edits under TDD mode (exit 2)
  guard risk        warn about historically error-prone files

Validators (invoked by the workflow orchestrator, JSON on stdout):
  validate retry-budget | review | translation | pacs | verification |
           traceability | domain-knowledge | workflow | diagnosis
  diagnose          pre-analysis evidence bundle after a gate failure

Setup:
  setup init        infrastructure health validation
  setup maintenance warn-only housekeeping and constant-sync checks`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectDirFlag, "project-dir", "",
		"Project root (default: $CLAUDE_PROJECT_DIR, then hook cwd, then cwd)")
}

// resolveProjectDir applies the flag override on top of the standard
// envelope resolution.
func resolveProjectDir(env hookio.Envelope) string {
	if projectDirFlag != "" {
		return projectDirFlag
	}
	return hookio.ProjectDir(env)
}
