package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/alphie/internal/agentplugin"
	"github.com/ShayCichocki/alphie/internal/api"
	"github.com/ShayCichocki/alphie/internal/config"
	"github.com/ShayCichocki/alphie/internal/executor"
	"github.com/ShayCichocki/alphie/internal/git"
	"github.com/ShayCichocki/alphie/internal/tracker"
	"github.com/ShayCichocki/alphie/internal/worker"
	"github.com/ShayCichocki/alphie/internal/worktree"
	"github.com/ShayCichocki/alphie/pkg/models"
)

var (
	runTasksPath  string
	runMaxWorkers int
	runModel      string
	runTaskIDs    []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine against a task backlog",
	Long: `Run analyzes the task backlog's dependency graph and executes ready
tasks in parallel, each agent working inside its own git worktree.
Completed work is merged back in topological order; conflicts the
resolver can't classify confidently are left for a human to resolve.

The backlog is a JSON or YAML file of tasks (--tasks); pass a .db
path instead (--tasks backlog.db) to use the SQLite-backed tracker for
larger backlogs.`,
	RunE: runEngine,
}

func init() {
	runCmd.Flags().StringVar(&runTasksPath, "tasks", "", "Path to the task backlog (.json, .yaml, or .db)")
	runCmd.Flags().IntVar(&runMaxWorkers, "max-workers", 0, "Override engine.max_workers from config")
	runCmd.Flags().StringVar(&runModel, "model", "", "Override the Anthropic model used by the default agent plugin")
	runCmd.Flags().StringSliceVar(&runTaskIDs, "task-ids", nil, "Restrict the run to these task IDs (comma-separated)")
	runCmd.MarkFlagRequired("tasks")
}

func runEngine(cmd *cobra.Command, args []string) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic in run: %v", r)
		}
	}()

	repoPath, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if runMaxWorkers > 0 {
		cfg.Engine.MaxWorkers = runMaxWorkers
	}
	if cfg.Anthropic.APIKey == "" && os.Getenv("ANTHROPIC_API_KEY") == "" {
		if err := checkAgentAvailable(); err != nil {
			return err
		}
	}

	tk, err := openTracker(runTasksPath)
	if err != nil {
		return fmt.Errorf("open task backlog: %w", err)
	}
	if closer, ok := tk.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	runner := git.NewRunner(repoPath)

	wtManager, err := worktree.New(repoPath, runner, nil, worktree.Config{
		MaxWorkers:         cfg.Engine.MaxWorkers,
		WorktreeDir:        cfg.Engine.WorktreeDir,
		MinFreeMemoryMB:    cfg.Engine.MinFreeMemoryMB,
		MaxCPUUtilization:  cfg.Engine.MaxCPUUtilization,
		SkipResourceChecks: cfg.Engine.MinFreeMemoryMB == 0 && cfg.Engine.MaxCPUUtilization == 0,
	})
	if err != nil {
		return fmt.Errorf("create worktree manager: %w", err)
	}
	if _, err := wtManager.PruneOrphaned(); err != nil {
		fmt.Printf("warning: prune orphaned worktrees: %v\n", err)
	}

	engineFactory, cleanupAgent, err := buildEngineFactory(cfg, repoPath)
	if err != nil {
		return err
	}
	defer cleanupAgent()

	execCfg := cfg.Engine.ToExecutorConfig()
	execCfg.FilteredTaskIDs = runTaskIDs

	newGit := func(path string) git.Runner { return git.NewRunner(path) }
	ex, err := executor.New(repoPath, runner, tk, wtManager, engineFactory, newGit, execCfg)
	if err != nil {
		return fmt.Errorf("create executor: %w", err)
	}

	ex.Subscribe("cli", printEvent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nreceived interrupt, stopping...")
		ex.Stop()
		cancel()
	}()

	result, err := ex.Execute(ctx)
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}

	fmt.Printf("\n%s tasks completed, %s tasks failed (state: %s)\n",
		color.GreenString("%d", result.TasksCompleted),
		color.RedString("%d", result.TasksFailed),
		result.State)
	if result.PendingConflicts > 0 {
		fmt.Printf("%d merge conflict(s) left unresolved:\n", result.PendingConflicts)
		for _, id := range ex.PendingConflictIDs() {
			fmt.Printf("  - %s\n", id)
		}
	}
	return nil
}

// openTracker picks a tracker backend from the backlog file's extension:
// .db gets the SQLite-backed tracker, anything else the JSON/YAML file
// tracker.
func openTracker(path string) (executor.Tracker, error) {
	if len(path) > 3 && path[len(path)-3:] == ".db" {
		return tracker.NewSQLite(path)
	}

	format := tracker.FormatJSON
	if len(path) > 5 && (path[len(path)-5:] == ".yaml" || path[len(path)-4:] == ".yml") {
		format = tracker.FormatYAML
	}
	return tracker.NewFile(path, format)
}

// buildEngineFactory wires the bundled Anthropic agent plugin into an
// executor.EngineFactory that ignores the per-task argument: every task
// gets an iteration engine backed by the same API client.
func buildEngineFactory(cfg *config.Config, repoPath string) (executor.EngineFactory, func(), error) {
	model := anthropic.ModelClaudeSonnet4_20250514
	if runModel != "" {
		model = anthropic.Model(runModel)
	}

	client, err := api.NewClient(api.ClientConfig{
		Model:  model,
		APIKey: cfg.Anthropic.APIKey,
	})
	if err != nil {
		return nil, func() {}, fmt.Errorf("create Anthropic client: %w", err)
	}

	notifs, err := api.NewNotificationManager(repoPath)
	if err != nil {
		notifs = nil
	}

	agent := agentplugin.NewAnthropicAgent(client, notifs)
	if avail, err := agent.Detect(context.Background()); err != nil || !avail.Available {
		return nil, func() {}, fmt.Errorf("agent plugin unavailable: %v (detect error: %v)", avail, err)
	}

	engine := agentplugin.NewIterationEngine(agent)
	factory := func(task models.Task) worker.IterationEngine {
		return engine
	}
	return factory, func() {}, nil
}

func printEvent(evt executor.Event) {
	switch evt.Type {
	case executor.EventWorkerStarted:
		fmt.Printf("[%s] started: %s\n", color.CyanString("worker"), evt.Message)
	case executor.EventWorkerCompleted:
		fmt.Printf("[%s] done: %s\n", color.GreenString("worker"), evt.Message)
	case executor.EventWorkerFailed:
		fmt.Printf("[%s] failed: %s: %v\n", color.RedString("worker"), evt.Message, evt.Err)
	case executor.EventMergeSucceeded:
		fmt.Printf("[%s] %s\n", color.GreenString("merge"), evt.Message)
	case executor.EventMergeConflicted:
		fmt.Printf("[%s] %s\n", color.YellowString("conflict"), evt.Message)
	case executor.EventMergeFailed:
		fmt.Printf("[%s] %s: %v\n", color.RedString("merge"), evt.Message, evt.Err)
	case executor.EventParallelGroupStarted:
		fmt.Printf("[%s] %s\n", color.BlueString("group"), evt.Message)
	case executor.EventParallelCompleted, executor.EventParallelFailed, executor.EventParallelInterrupted:
		fmt.Printf("[%s] %s\n", color.MagentaString("session"), evt.Message)
	}
}
