package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/alphie/internal/config"
	"github.com/ShayCichocki/alphie/internal/git"
	"github.com/ShayCichocki/alphie/internal/worktree"
)

var (
	cleanupForce       bool
	cleanupWorktreeDir string
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove worktree directories left behind by a crashed or interrupted run",
	Long: `Cleanup removes every worktree directory under the configured worktree
directory. Since the worktree pool only lives for one 'run' invocation,
a fresh process has no record of which ones are still in use — only run
this between runs, never while one is in progress.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().StringVar(&cleanupWorktreeDir, "worktree-dir", "", "Worktree directory to clean (defaults to engine config)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	repoPath, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	dir := cleanupWorktreeDir
	if dir == "" {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		dir = cfg.Engine.WorktreeDir
	}

	if !cleanupForce {
		fmt.Printf("Remove all worktrees under %q? [y/N] ", dir)
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Cleanup cancelled.")
			return nil
		}
	}

	runner := git.NewRunner(repoPath)
	wtManager, err := worktree.New(repoPath, runner, nil, worktree.Config{WorktreeDir: dir})
	if err != nil {
		return fmt.Errorf("create worktree manager: %w", err)
	}

	removed, err := wtManager.PruneOrphaned()
	if err != nil {
		return fmt.Errorf("prune worktrees: %w", err)
	}
	if len(removed) == 0 {
		fmt.Println("Nothing to clean up.")
		return nil
	}
	fmt.Printf("Removed %d worktree(s):\n", len(removed))
	for _, path := range removed {
		fmt.Printf("  - %s\n", path)
	}
	return nil
}
