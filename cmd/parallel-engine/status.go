package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/alphie/internal/config"
)

var statusWorktreeDir string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List worktree directories left on disk",
	Long: `Status lists the worktree directories present under the configured
worktree directory. A worktree pool only exists for the lifetime of one
'run' invocation, so every directory a fresh process sees here is a
candidate for 'parallel-engine cleanup' to prune.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusWorktreeDir, "worktree-dir", "", "Worktree directory to inspect (defaults to engine config)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	repoPath, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	dir := statusWorktreeDir
	if dir == "" {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		dir = cfg.Engine.WorktreeDir
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(repoPath, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No worktree directory found; nothing has run yet.")
			return nil
		}
		return fmt.Errorf("read worktree directory: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No worktrees on disk.")
		return nil
	}

	fmt.Printf("%d worktree director(ies) under %s:\n", len(entries), dir)
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Printf("  - %s\n", entry.Name())
		}
	}
	fmt.Println("\nRun 'parallel-engine cleanup' to remove them if no run is in progress.")
	return nil
}
