package config

import "fmt"

// Validator validates engine configurations.
type Validator struct{}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks every option range. Returns nil if valid, or an error
// describing the first violation.
func (v *Validator) Validate(cfg *Config) error {
	if cfg == nil {
		return ErrConfigEmpty
	}

	if cfg.MaxWorkers < 1 || cfg.MaxWorkers > 32 {
		return fmt.Errorf("max_workers=%d: %w", cfg.MaxWorkers, ErrWorkersRange)
	}
	if cfg.TaskTimeout <= 0 {
		return fmt.Errorf("task_timeout=%s: %w", cfg.TaskTimeout, ErrTimeoutRange)
	}
	if cfg.ShutdownGrace <= 0 {
		return fmt.Errorf("shutdown_grace=%s: %w", cfg.ShutdownGrace, ErrGraceRange)
	}
	if cfg.ClaudeCommand == "" {
		return ErrCommandEmpty
	}
	if cfg.TaskFile == "" {
		return ErrTaskFileEmpty
	}

	if cfg.Retry.MaxRetries < 0 {
		return fmt.Errorf("max_retries=%d: %w", cfg.Retry.MaxRetries, ErrRetriesRange)
	}
	if cfg.Retry.BaseDelay > cfg.Retry.MaxDelay {
		return fmt.Errorf("base_delay=%s max_delay=%s: %w", cfg.Retry.BaseDelay, cfg.Retry.MaxDelay, ErrDelayOrder)
	}

	if cfg.Breaker.FailureThreshold < 1 || cfg.Breaker.OpenCooldown <= 0 || cfg.Breaker.MaxCooldown < cfg.Breaker.OpenCooldown {
		return fmt.Errorf("failure_threshold=%d open_cooldown=%s max_cooldown=%s: %w",
			cfg.Breaker.FailureThreshold, cfg.Breaker.OpenCooldown, cfg.Breaker.MaxCooldown, ErrBreakerRange)
	}

	if cfg.Budget.TotalLimit < 0 || cfg.Budget.PerTaskLimit < 0 {
		return fmt.Errorf("total_limit=%d per_task_limit=%d: %w",
			cfg.Budget.TotalLimit, cfg.Budget.PerTaskLimit, ErrBudgetNegative)
	}
	if cfg.Budget.WarningThreshold < 0 || cfg.Budget.WarningThreshold > 100 {
		return fmt.Errorf("warning_threshold=%d: %w", cfg.Budget.WarningThreshold, ErrThresholdRange)
	}
	switch cfg.Budget.Mode {
	case ModeStrict, ModeSoft:
	default:
		return fmt.Errorf("mode=%q: %w", cfg.Budget.Mode, ErrUnknownMode)
	}

	if cfg.ReviewMaxDepth < 0 {
		return fmt.Errorf("review_max_depth=%d: %w", cfg.ReviewMaxDepth, ErrReviewDepthRange)
	}

	return nil
}
