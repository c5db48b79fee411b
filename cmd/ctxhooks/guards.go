package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/oogisoogi/ctxhooks/internal/guard"
	"github.com/oogisoogi/ctxhooks/internal/hookio"
)

var guardCmd = &cobra.Command{
	Use:   "guard",
	Short: "Pre-tool guards (exit 2 blocks, everything else proceeds)",
}

var guardBashCmd = &cobra.Command{
	Use:   "bash",
	Short: "Block destructive shell commands before they run",
	Run: func(cmd *cobra.Command, args []string) {
		hookio.Run(runBashGuard)
	},
}

var guardTestFileCmd = &cobra.Command{
	Use:   "test-file",
	Short: "Block test-file edits while .tdd-guard is present",
	Run: func(cmd *cobra.Command, args []string) {
		hookio.Run(runTestFileGuard)
	},
}

var guardRiskCmd = &cobra.Command{
	Use:   "risk",
	Short: "Warn about historically error-prone files (never blocks)",
	Run: func(cmd *cobra.Command, args []string) {
		hookio.Run(runRiskGuard)
	},
}

func init() {
	guardCmd.AddCommand(guardBashCmd, guardTestFileCmd, guardRiskCmd)
	rootCmd.AddCommand(guardCmd)
}

// runBashGuard blocks destructive git and rm commands. A match exits 2
// with the self-correction message; anything else, including malformed
// input, proceeds.
func runBashGuard() error {
	env := hookio.ReadEnvelope(os.Stdin)
	command := env.InputString("command")
	if command == "" {
		return nil
	}

	if msg := guard.CheckCommand(command); msg != "" {
		preview := command
		if len(preview) > 200 {
			preview = preview[:200]
		}
		return hookio.Blocked{Message: fmt.Sprintf(
			"DESTRUCTIVE COMMAND BLOCKED: %s\nCommand was: %s", msg, preview)}
	}
	return nil
}

// runTestFileGuard blocks Edit/Write on test files while the .tdd-guard
// toggle file exists in the project root.
func runTestFileGuard() error {
	env := hookio.ReadEnvelope(os.Stdin)
	projectDir := resolveProjectDir(env)

	// Fast path: no toggle file, no work.
	if _, err := os.Stat(filepath.Join(projectDir, ".tdd-guard")); err != nil {
		return nil
	}

	filePath := env.InputString("file_path")
	if filePath == "" {
		return nil
	}

	if guard.IsTestFile(filePath) {
		return hookio.Blocked{Message: fmt.Sprintf(
			"TEST FILE EDIT BLOCKED: %s\nBlocked file: %s", guard.TestFileBlockMessage, filePath)}
	}
	return nil
}
