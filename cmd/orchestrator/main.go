// Package main provides the entry point for the orchestrator binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/anthropics/claude-orchestrator/engine/config"
	"github.com/anthropics/claude-orchestrator/engine/contracts"
	"github.com/anthropics/claude-orchestrator/engine/internal/checkpoint"
	"github.com/anthropics/claude-orchestrator/engine/internal/claude"
	"github.com/anthropics/claude-orchestrator/engine/internal/cost"
	"github.com/anthropics/claude-orchestrator/engine/internal/events"
	"github.com/anthropics/claude-orchestrator/engine/internal/orchestration"
	"github.com/anthropics/claude-orchestrator/engine/internal/retry"
	"github.com/anthropics/claude-orchestrator/engine/internal/store"
)

// Exit codes form the scripting contract of the binary.
const (
	exitOK          = 0
	exitTaskFailed  = 2
	exitBudget      = 3
	exitConfig      = 4
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", "", "path to the YAML configuration file")
	taskFile := flag.String("tasks", "", "path to the task file (overrides config)")
	workDir := flag.String("workdir", "", "working directory handed to the tool (overrides config)")
	flag.Parse()

	// .env is a convenience for local runs; absence is not an error.
	_ = godotenv.Load()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfig
	}
	if *taskFile != "" {
		cfg.TaskFile = *taskFile
	}
	if *workDir != "" {
		cfg.WorkingDir = *workDir
	}
	if _, err := cfg.Credential(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfig
	}

	logger := newLogger(cfg.LogLevel)
	log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := runEngine(ctx, cfg, logger)
	switch {
	case errors.Is(err, context.Canceled):
		logger.Warn().Msg("interrupted, state persisted for resume")
		return exitInterrupted
	case errors.Is(err, contracts.ErrBudgetExhausted):
		logger.Error().Err(err).Msg("token budget exhausted")
		return exitBudget
	case err != nil:
		logger.Error().Err(err).Msg("engine failed")
		return exitConfig
	}

	if report.Failed > 0 || report.Blocked > 0 {
		return exitTaskFailed
	}
	return exitOK
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, config.NewValidator().Validate(cfg)
	}
	return config.NewLoader().LoadFromFile(path)
}

func runEngine(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*orchestration.Report, error) {
	sink := events.NewLogSink(logger)

	taskStore, err := store.Open(cfg.TaskFile, sink, logger)
	if err != nil {
		return nil, err
	}
	checkpoints, err := checkpoint.Open(cfg.Checkpoint.Dir, logger)
	if err != nil {
		return nil, err
	}
	if removed, err := checkpoints.GC(cfg.Checkpoint.MaxAge); err != nil {
		logger.Warn().Err(err).Msg("checkpoint gc failed")
	} else if removed > 0 {
		logger.Info().Int("removed", removed).Msg("old checkpoints collected")
	}

	tracker := cost.NewTracker()
	governor := cost.NewGovernor(cost.GovernorConfig{
		TotalLimit:       contracts.TokenCount(cfg.Budget.TotalLimit),
		PerTaskLimit:     contracts.TokenCount(cfg.Budget.PerTaskLimit),
		WarningThreshold: cfg.Budget.WarningThreshold,
		Mode:             cost.Mode(cfg.Budget.Mode),
	}, tracker, sink, logger)

	invoker := claude.NewSubprocess(claude.ToolConfig{
		Command: cfg.ClaudeCommand,
		Args:    cfg.ClaudeArgs,
		Timeout: cfg.TaskTimeout,
	}, logger)

	engine := orchestration.NewEngine(orchestration.Options{
		Workers: cfg.MaxWorkers,
		WorkDir: cfg.WorkingDir,
		Policy: retry.Policy{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay,
			MaxDelay:   cfg.Retry.MaxDelay,
		},
		Breaker: retry.BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			OpenCooldown:     cfg.Breaker.OpenCooldown,
			MaxCooldown:      cfg.Breaker.MaxCooldown,
		},
		ReviewMaxDepth: cfg.ReviewMaxDepth,
		StaleAfter:     cfg.Checkpoint.StaleAfter,
		ShutdownGrace:  cfg.ShutdownGrace,
	}, orchestration.Deps{
		Store:       taskStore,
		Checkpoints: checkpoints,
		Governor:    governor,
		Estimator:   cost.NewTokenEstimator(),
		Invoker:     invoker,
		Sink:        sink,
	}, logger)

	report, runErr := engine.Run(ctx)

	// Usage and task state survive whatever ended the run.
	usagePath := filepath.Join(cfg.Checkpoint.Dir, "usage.json")
	if err := tracker.Persist(usagePath); err != nil {
		logger.Warn().Err(err).Str("path", usagePath).Msg("persisting usage failed")
	}
	if err := taskStore.Flush(); err != nil {
		logger.Warn().Err(err).Msg("flushing task store failed")
	}
	return report, runErr
}

// newLogger builds the process logger: console output on a terminal,
// JSON lines otherwise.
func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	var out = zerolog.New(os.Stderr)
	if isatty.IsTerminal(os.Stderr.Fd()) {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	return out.Level(lvl).With().Timestamp().Logger()
}
