package config

import "errors"

// Sentinel errors for engine configuration validation.
var (
	// ErrConfigEmpty is returned when the config data is empty (zero bytes).
	ErrConfigEmpty = errors.New("configuration is empty")

	// ErrWorkersRange is returned when max_workers is outside 1..32.
	ErrWorkersRange = errors.New("max_workers must be between 1 and 32")

	// ErrRetriesRange is returned when max_retries is negative.
	ErrRetriesRange = errors.New("max_retries must not be negative")

	// ErrDelayOrder is returned when base_delay exceeds max_delay.
	ErrDelayOrder = errors.New("base_delay must not exceed max_delay")

	// ErrTimeoutRange is returned when task_timeout is not positive.
	ErrTimeoutRange = errors.New("task_timeout must be positive")

	// ErrGraceRange is returned when shutdown_grace is not positive.
	ErrGraceRange = errors.New("shutdown_grace must be positive")

	// ErrThresholdRange is returned when warning_threshold is outside 0..100.
	ErrThresholdRange = errors.New("warning_threshold must be between 0 and 100")

	// ErrBudgetNegative is returned when a budget limit is negative.
	ErrBudgetNegative = errors.New("budget limits must not be negative")

	// ErrUnknownMode is returned when budget mode is neither strict nor soft.
	ErrUnknownMode = errors.New("budget mode must be strict or soft")

	// ErrCommandEmpty is returned when claude_command is empty.
	ErrCommandEmpty = errors.New("claude_command is required")

	// ErrTaskFileEmpty is returned when task_file is empty.
	ErrTaskFileEmpty = errors.New("task_file is required")

	// ErrBreakerRange is returned when breaker tuning is not positive.
	ErrBreakerRange = errors.New("breaker thresholds and cooldowns must be positive")

	// ErrReviewDepthRange is returned when review_max_depth is negative.
	ErrReviewDepthRange = errors.New("review_max_depth must not be negative")

	// ErrCredentialMissing is returned when the API credential is absent
	// or implausibly short.
	ErrCredentialMissing = errors.New("api credential missing or too short")
)
