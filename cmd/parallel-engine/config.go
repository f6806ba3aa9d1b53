package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/alphie/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "View or modify engine configuration",
	Long: `Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/alphie/config.yaml; a
.alphie.yaml in the current directory or a parent overrides it.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

func displayAllConfig(cfg *config.Config) {
	apiKeyDisplay := "(not set)"
	if cfg.Anthropic.APIKey != "" {
		apiKeyDisplay = "****"
	}

	fmt.Printf("anthropic.api_key: %s\n", apiKeyDisplay)
	fmt.Printf("engine.max_workers: %d\n", cfg.Engine.MaxWorkers)
	fmt.Printf("engine.worktree_dir: %s\n", cfg.Engine.WorktreeDir)
	fmt.Printf("engine.max_iterations_per_worker: %d\n", cfg.Engine.MaxIterationsPerWorker)
	fmt.Printf("engine.iteration_delay_ms: %d\n", cfg.Engine.IterationDelayMs)
	fmt.Printf("engine.ai_conflict_resolution: %t\n", cfg.Engine.AIConflictResolution)
	fmt.Printf("engine.max_requeue_count: %d\n", cfg.Engine.MaxRequeueCount)
	fmt.Printf("engine.direct_merge: %t\n", cfg.Engine.DirectMerge)
	fmt.Printf("engine.confidence_threshold: %g\n", cfg.Engine.ConfidenceThreshold)
	fmt.Printf("engine.min_free_memory_mb: %d\n", cfg.Engine.MinFreeMemoryMB)
	fmt.Printf("engine.max_cpu_utilization: %g\n", cfg.Engine.MaxCPUUtilization)
	fmt.Printf("engine.namespace: %s\n", cfg.Engine.Namespace)
}

func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		if cfg.Anthropic.APIKey == "" {
			return "(not set)", nil
		}
		return "****", nil
	case "engine.max_workers":
		return strconv.Itoa(cfg.Engine.MaxWorkers), nil
	case "engine.worktree_dir":
		return cfg.Engine.WorktreeDir, nil
	case "engine.max_iterations_per_worker":
		return strconv.Itoa(cfg.Engine.MaxIterationsPerWorker), nil
	case "engine.iteration_delay_ms":
		return strconv.Itoa(cfg.Engine.IterationDelayMs), nil
	case "engine.ai_conflict_resolution":
		return strconv.FormatBool(cfg.Engine.AIConflictResolution), nil
	case "engine.max_requeue_count":
		return strconv.Itoa(cfg.Engine.MaxRequeueCount), nil
	case "engine.direct_merge":
		return strconv.FormatBool(cfg.Engine.DirectMerge), nil
	case "engine.confidence_threshold":
		return strconv.FormatFloat(cfg.Engine.ConfidenceThreshold, 'g', -1, 64), nil
	case "engine.min_free_memory_mb":
		return strconv.Itoa(cfg.Engine.MinFreeMemoryMB), nil
	case "engine.max_cpu_utilization":
		return strconv.FormatFloat(cfg.Engine.MaxCPUUtilization, 'g', -1, 64), nil
	case "engine.namespace":
		return cfg.Engine.Namespace, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "engine.max_workers":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_workers: %w", err)
		}
		cfg.Engine.MaxWorkers = n
	case "engine.worktree_dir":
		cfg.Engine.WorktreeDir = value
	case "engine.max_iterations_per_worker":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_iterations_per_worker: %w", err)
		}
		cfg.Engine.MaxIterationsPerWorker = n
	case "engine.iteration_delay_ms":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for iteration_delay_ms: %w", err)
		}
		cfg.Engine.IterationDelayMs = n
	case "engine.ai_conflict_resolution":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for ai_conflict_resolution: %w", err)
		}
		cfg.Engine.AIConflictResolution = b
	case "engine.max_requeue_count":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_requeue_count: %w", err)
		}
		cfg.Engine.MaxRequeueCount = n
	case "engine.direct_merge":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for direct_merge: %w", err)
		}
		cfg.Engine.DirectMerge = b
	case "engine.confidence_threshold":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for confidence_threshold: %w", err)
		}
		cfg.Engine.ConfidenceThreshold = f
	case "engine.min_free_memory_mb":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for min_free_memory_mb: %w", err)
		}
		cfg.Engine.MinFreeMemoryMB = n
	case "engine.max_cpu_utilization":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for max_cpu_utilization: %w", err)
		}
		cfg.Engine.MaxCPUUtilization = f
	case "engine.namespace":
		cfg.Engine.Namespace = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
