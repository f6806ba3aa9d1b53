package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Engine.MaxWorkers != 3 {
		t.Errorf("expected engine.max_workers 3, got %d", cfg.Engine.MaxWorkers)
	}
	if cfg.Engine.Namespace != ".parallel-engine" {
		t.Errorf("expected engine.namespace '.parallel-engine', got %q", cfg.Engine.Namespace)
	}
	if !cfg.Engine.AIConflictResolution {
		t.Error("expected engine.ai_conflict_resolution to be true")
	}
	if cfg.Engine.ConfidenceThreshold != 0.8 {
		t.Errorf("expected engine.confidence_threshold 0.8, got %v", cfg.Engine.ConfidenceThreshold)
	}
}

func TestEngineConfig_ToExecutorConfig(t *testing.T) {
	cfg := Default()
	cfg.Engine.IterationDelayMs = 500

	exec := cfg.Engine.ToExecutorConfig()
	if exec.MaxWorkers != cfg.Engine.MaxWorkers {
		t.Errorf("expected MaxWorkers %d, got %d", cfg.Engine.MaxWorkers, exec.MaxWorkers)
	}
	if exec.IterationDelay != 500*time.Millisecond {
		t.Errorf("expected IterationDelay 500ms, got %v", exec.IterationDelay)
	}
	if exec.Namespace != cfg.Engine.Namespace {
		t.Errorf("expected Namespace %q, got %q", cfg.Engine.Namespace, exec.Namespace)
	}
}

func TestLoadFromPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
anthropic:
  api_key: test-key
engine:
  max_workers: 5
  namespace: custom-namespace
  confidence_threshold: 0.9
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Anthropic.APIKey != "test-key" {
		t.Errorf("expected api_key 'test-key', got %q", cfg.Anthropic.APIKey)
	}
	if cfg.Engine.MaxWorkers != 5 {
		t.Errorf("expected engine.max_workers 5, got %d", cfg.Engine.MaxWorkers)
	}
	if cfg.Engine.Namespace != "custom-namespace" {
		t.Errorf("expected engine.namespace 'custom-namespace', got %q", cfg.Engine.Namespace)
	}
	if cfg.Engine.ConfidenceThreshold != 0.9 {
		t.Errorf("expected engine.confidence_threshold 0.9, got %v", cfg.Engine.ConfidenceThreshold)
	}
}

func TestExpandEnv(t *testing.T) {
	os.Setenv("TEST_VAR", "expanded-value")
	defer os.Unsetenv("TEST_VAR")

	result := expandEnv("${TEST_VAR}")
	if result != "expanded-value" {
		t.Errorf("expected 'expanded-value', got %q", result)
	}

	result = expandEnv("prefix-${TEST_VAR}-suffix")
	if result != "prefix-expanded-value-suffix" {
		t.Errorf("expected 'prefix-expanded-value-suffix', got %q", result)
	}
}

func TestGetUserConfigDir(t *testing.T) {
	os.Setenv("XDG_CONFIG_HOME", "/custom/config")
	defer os.Unsetenv("XDG_CONFIG_HOME")

	dir := getUserConfigDir()
	expected := "/custom/config/alphie"
	if dir != expected {
		t.Errorf("expected %q, got %q", expected, dir)
	}
}
