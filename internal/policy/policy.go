// Package policy defines configurable policy parameters for the
// executor's internal behavior. This centralizes magic numbers and
// threshold values that are not part of the user-facing engine config
// (internal/config.EngineConfig) but still benefit from being
// adjustable and testable in one place.
//
// Only the Collision fields WaitQueueTimeout, MaxLocksPerAgent and
// MaxWaitQueueLength are read, by internal/lockmanager. The remaining
// fields are loaded and validated, but no component in this module reads
// them.
package policy

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config contains all configurable policy parameters for the executor.
type Config struct {
	// Scheduling policies
	Scheduling SchedulingPolicy `yaml:"scheduling"`

	// Lock/collision detection policies
	Collision CollisionPolicy `yaml:"collision"`

	// Run loop policies
	Loop LoopPolicy `yaml:"loop"`

	// Merge queue policies
	Merge MergePolicy `yaml:"merge"`
}

// SchedulingPolicy controls worker spawn behavior.
type SchedulingPolicy struct {
	// SpawnStagger is the delay between spawning parallel workers, to
	// avoid agent-CLI/API contention when a batch starts at once.
	SpawnStagger time.Duration `yaml:"spawn_stagger"`
}

// CollisionPolicy controls file-lock hotspot detection.
type CollisionPolicy struct {
	// HotspotThreshold is the number of acquisitions before a path is
	// considered a hotspot requiring serialized access.
	HotspotThreshold int `yaml:"hotspot_threshold"`

	// MaxAgentsPerTopLevel is the maximum concurrent workers allowed to
	// hold locks under the same top-level directory.
	MaxAgentsPerTopLevel int `yaml:"max_agents_per_top_level"`

	// WaitQueueTimeout bounds how long an agent waits for a contended
	// lock before lockmanager.Acquire gives up with ErrWaitTimeout.
	WaitQueueTimeout time.Duration `yaml:"wait_queue_timeout"`

	// MaxLocksPerAgent is the per-agent quota on concurrently held locks.
	MaxLocksPerAgent int `yaml:"max_locks_per_agent"`

	// MaxWaitQueueLength bounds how many agents may queue for a single
	// contended resource before further acquisitions fail fast.
	MaxWaitQueueLength int `yaml:"max_wait_queue_length"`
}

// LoopPolicy controls the executor's scheduling loop.
type LoopPolicy struct {
	// PollInterval is the delay between schedule checks when no tasks
	// are currently ready.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// MergePolicy controls merge queue behavior.
type MergePolicy struct {
	// QueueBufferSize is the buffer size for the merge result channel.
	QueueBufferSize int `yaml:"queue_buffer_size"`
}

// Default returns the default policy configuration.
func Default() *Config {
	return &Config{
		Scheduling: SchedulingPolicy{
			SpawnStagger: 2 * time.Second,
		},
		Collision: CollisionPolicy{
			HotspotThreshold:     3,
			MaxAgentsPerTopLevel: 2,
			WaitQueueTimeout:     30 * time.Second,
			MaxLocksPerAgent:     4,
			MaxWaitQueueLength:   8,
		},
		Loop: LoopPolicy{
			PollInterval: 100 * time.Millisecond,
		},
		Merge: MergePolicy{
			QueueBufferSize: 100,
		},
	}
}

// Validate clamps out-of-range values to their defaults rather than
// failing outright, since a bad policy override shouldn't stop a run.
func (c *Config) Validate() error {
	d := Default()
	if c.Collision.HotspotThreshold < 1 {
		c.Collision.HotspotThreshold = d.Collision.HotspotThreshold
	}
	if c.Collision.MaxAgentsPerTopLevel < 1 {
		c.Collision.MaxAgentsPerTopLevel = d.Collision.MaxAgentsPerTopLevel
	}
	if c.Collision.WaitQueueTimeout < time.Second {
		c.Collision.WaitQueueTimeout = d.Collision.WaitQueueTimeout
	}
	if c.Collision.MaxLocksPerAgent < 1 {
		c.Collision.MaxLocksPerAgent = d.Collision.MaxLocksPerAgent
	}
	if c.Collision.MaxWaitQueueLength < 1 {
		c.Collision.MaxWaitQueueLength = d.Collision.MaxWaitQueueLength
	}
	if c.Loop.PollInterval < 10*time.Millisecond {
		c.Loop.PollInterval = d.Loop.PollInterval
	}
	if c.Scheduling.SpawnStagger < 0 {
		c.Scheduling.SpawnStagger = d.Scheduling.SpawnStagger
	}
	if c.Merge.QueueBufferSize < 1 {
		c.Merge.QueueBufferSize = d.Merge.QueueBufferSize
	}
	return nil
}

// LoadFromFile reads a YAML policy override file on top of the
// defaults. Missing fields keep their default values.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing policy file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
