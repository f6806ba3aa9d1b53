package main

import (
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/alphie/internal/version"
)

// checkAgentAvailable is only needed as a fallback notice; the default agent
// plugin talks to the Anthropic API directly, but users running without
// ANTHROPIC_API_KEY set commonly still have the Claude Code CLI
// installed and configured, so point at it when neither is available.
func checkAgentAvailable() error {
	if _, err := exec.LookPath("claude"); err != nil {
		return fmt.Errorf("no agent backend detected: set ANTHROPIC_API_KEY, or install the Claude Code CLI:\n" +
			"  npm install -g @anthropic-ai/claude-code")
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "parallel-engine",
	Short: "Parallel execution engine for autonomous coding agents",
	Long: `parallel-engine orchestrates autonomous coding agents against a task backlog.

Core capabilities:
- Analyzes a task backlog into dependency groups (DAG)
- Runs ready tasks in parallel, each in an isolated git worktree
- Merges completed work back in topological order
- Classifies and resolves merge conflicts, escalating only what it can't

Available commands:
  run        Run the engine against a task backlog
  status     List worktree directories left on disk
  cleanup    Remove orphaned worktrees
  config     View or modify engine configuration
  version    Show version information

Use "parallel-engine [command] --help" for more information about a command.`,
}

func init() {
	rootCmd.Version = version.Get()
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
