// Package config provides static engine configuration loading and
// validation.
package config

import "time"

// Mode selects how budget violations are enforced.
type Mode string

const (
	// ModeStrict refuses dispatches that would cross the budget.
	ModeStrict Mode = "strict"
	// ModeSoft allows them but emits warnings.
	ModeSoft Mode = "soft"
)

// Config is the root configuration structure, loaded from YAML.
type Config struct {
	// Execution.
	MaxWorkers    int           `yaml:"max_workers"`
	TaskTimeout   time.Duration `yaml:"task_timeout"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"` // bound on engine shutdown
	WorkingDir    string        `yaml:"working_dir"`
	TaskFile      string        `yaml:"task_file"`

	// External tool.
	ClaudeCommand string   `yaml:"claude_command"`
	ClaudeArgs    []string `yaml:"claude_args"`
	APIKeyEnv     string   `yaml:"api_key_env"`

	// Retry and circuit breaking.
	Retry   RetryConfig   `yaml:"retry"`
	Breaker BreakerConfig `yaml:"breaker"`

	// Budget.
	Budget BudgetConfig `yaml:"budget"`

	// Checkpointing.
	Checkpoint CheckpointConfig `yaml:"checkpoint"`

	// Review pass.
	ReviewMaxDepth int `yaml:"review_max_depth"`

	// Logging: zerolog level name (trace..error).
	LogLevel string `yaml:"log_level"`
}

// RetryConfig is the per-task retry schedule.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// BreakerConfig is the per-executor circuit breaker tuning.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenCooldown     time.Duration `yaml:"open_cooldown"`
	MaxCooldown      time.Duration `yaml:"max_cooldown"`
}

// BudgetConfig bounds token spend. Zero limits disable the check.
type BudgetConfig struct {
	TotalLimit       int64 `yaml:"total_limit"`
	PerTaskLimit     int64 `yaml:"per_task_limit"`
	WarningThreshold int   `yaml:"warning_threshold"` // percent of total
	Mode             Mode  `yaml:"mode"`
}

// CheckpointConfig locates and ages the checkpoint store.
type CheckpointConfig struct {
	Dir        string        `yaml:"dir"`
	StaleAfter time.Duration `yaml:"stale_after"`
	MaxAge     time.Duration `yaml:"max_age"` // GC horizon for finished checkpoints
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		MaxWorkers:    3,
		TaskTimeout:   30 * time.Minute,
		ShutdownGrace: 30 * time.Second,
		WorkingDir:    ".",
		TaskFile:      "tasks.json",
		ClaudeCommand: "claude",
		APIKeyEnv:     "ANTHROPIC_API_KEY",
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  2 * time.Second,
			MaxDelay:   60 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			OpenCooldown:     60 * time.Second,
			MaxCooldown:      600 * time.Second,
		},
		Budget: BudgetConfig{
			WarningThreshold: 80,
			Mode:             ModeStrict,
		},
		Checkpoint: CheckpointConfig{
			Dir:        "checkpoints",
			StaleAfter: 24 * time.Hour,
			MaxAge:     30 * 24 * time.Hour,
		},
		ReviewMaxDepth: 3,
		LogLevel:       "info",
	}
}
