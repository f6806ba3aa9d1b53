// Package config handles configuration loading and management for the
// engine. It supports XDG config paths, project-level overrides, and
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/alphie/internal/executor"
)

// Config holds all configuration for the engine.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Engine    EngineConfig    `mapstructure:"engine"`
}

// EngineConfig holds the parallel execution engine's tunables (the
// config surface spec.md §6 names: maxWorkers, worktreeDir,
// maxIterationsPerWorker, iterationDelay, aiConflictResolution,
// maxRequeueCount, directMerge, confidenceThreshold, minFreeMemoryMB,
// maxCpuUtilization).
type EngineConfig struct {
	MaxWorkers             int     `mapstructure:"max_workers"`
	WorktreeDir            string  `mapstructure:"worktree_dir"`
	MaxIterationsPerWorker int     `mapstructure:"max_iterations_per_worker"`
	IterationDelayMs       int     `mapstructure:"iteration_delay_ms"`
	AIConflictResolution   bool    `mapstructure:"ai_conflict_resolution"`
	MaxRequeueCount        int     `mapstructure:"max_requeue_count"`
	DirectMerge            bool    `mapstructure:"direct_merge"`
	ConfidenceThreshold    float64 `mapstructure:"confidence_threshold"`
	MinFreeMemoryMB        int     `mapstructure:"min_free_memory_mb"`
	MaxCPUUtilization      float64 `mapstructure:"max_cpu_utilization"`
	Namespace              string  `mapstructure:"namespace"`
}

// ToExecutorConfig translates the loaded engine config into
// internal/executor.Config. FilteredTaskIDs isn't a persisted config
// value (it's a per-invocation CLI filter), so callers set it
// separately on the returned value when needed.
func (e EngineConfig) ToExecutorConfig() executor.Config {
	return executor.Config{
		MaxWorkers:             e.MaxWorkers,
		WorktreeDir:            e.WorktreeDir,
		MaxIterationsPerWorker: e.MaxIterationsPerWorker,
		IterationDelay:         time.Duration(e.IterationDelayMs) * time.Millisecond,
		AIConflictResolution:   e.AIConflictResolution,
		MaxRequeueCount:        e.MaxRequeueCount,
		DirectMerge:            e.DirectMerge,
		ConfidenceThreshold:    e.ConfidenceThreshold,
		MinFreeMemoryMB:        e.MinFreeMemoryMB,
		MaxCPUUtilization:      e.MaxCPUUtilization,
		Namespace:              e.Namespace,
	}
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.alphie.yaml in current directory or parent)
// 3. User config (~/.config/alphie/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Load user config from XDG path
	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Merge project config (takes precedence)
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	// Environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("")

	// Map specific environment variables
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	// Expand environment variable references in api_key
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)

	v.Set("engine.max_workers", cfg.Engine.MaxWorkers)
	v.Set("engine.worktree_dir", cfg.Engine.WorktreeDir)
	v.Set("engine.max_iterations_per_worker", cfg.Engine.MaxIterationsPerWorker)
	v.Set("engine.iteration_delay_ms", cfg.Engine.IterationDelayMs)
	v.Set("engine.ai_conflict_resolution", cfg.Engine.AIConflictResolution)
	v.Set("engine.max_requeue_count", cfg.Engine.MaxRequeueCount)
	v.Set("engine.direct_merge", cfg.Engine.DirectMerge)
	v.Set("engine.confidence_threshold", cfg.Engine.ConfidenceThreshold)
	v.Set("engine.min_free_memory_mb", cfg.Engine.MinFreeMemoryMB)
	v.Set("engine.max_cpu_utilization", cfg.Engine.MaxCPUUtilization)
	v.Set("engine.namespace", cfg.Engine.Namespace)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	// Anthropic defaults
	v.SetDefault("anthropic.api_key", "")

	// Engine defaults (mirrors internal/executor.Config.withDefaults)
	v.SetDefault("engine.max_workers", 3)
	v.SetDefault("engine.worktree_dir", ".parallel-engine/worktrees")
	v.SetDefault("engine.max_iterations_per_worker", 1)
	v.SetDefault("engine.iteration_delay_ms", 0)
	v.SetDefault("engine.ai_conflict_resolution", true)
	v.SetDefault("engine.max_requeue_count", 1)
	v.SetDefault("engine.direct_merge", false)
	v.SetDefault("engine.confidence_threshold", 0.8)
	v.SetDefault("engine.min_free_memory_mb", 0)
	v.SetDefault("engine.max_cpu_utilization", 0)
	v.SetDefault("engine.namespace", ".parallel-engine")
}

// getUserConfigDir returns the XDG config directory for Alphie.
func getUserConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "alphie")
	}

	// Fall back to ~/.config/alphie
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "alphie")
	}
	return filepath.Join(home, ".config", "alphie")
}

// findProjectConfig searches for .alphie.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".alphie.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			APIKey: "",
		},
		Engine: EngineConfig{
			MaxWorkers:             3,
			WorktreeDir:            ".parallel-engine/worktrees",
			MaxIterationsPerWorker: 1,
			AIConflictResolution:   true,
			MaxRequeueCount:        1,
			ConfidenceThreshold:    0.8,
			Namespace:              ".parallel-engine",
		},
	}
}
