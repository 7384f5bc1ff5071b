package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoader_Defaults(t *testing.T) {
	cfg, err := NewLoader().LoadFromBytes([]byte("log_level: info\n"))
	if err != nil {
		t.Fatalf("LoadFromBytes() error = %v", err)
	}
	if cfg.MaxWorkers != 3 || cfg.TaskTimeout != 30*time.Minute || cfg.ShutdownGrace != 30*time.Second {
		t.Errorf("execution defaults not applied: %+v", cfg)
	}
	if cfg.Retry.MaxRetries != 3 || cfg.Retry.BaseDelay != 2*time.Second {
		t.Errorf("retry defaults not applied: %+v", cfg.Retry)
	}
	if cfg.ClaudeCommand != "claude" || cfg.APIKeyEnv != "ANTHROPIC_API_KEY" {
		t.Errorf("tool defaults not applied: %+v", cfg)
	}
	if cfg.Budget.Mode != ModeStrict || cfg.Budget.WarningThreshold != 80 {
		t.Errorf("budget defaults not applied: %+v", cfg.Budget)
	}
}

func TestLoader_Overrides(t *testing.T) {
	raw := `
max_workers: 8
task_timeout: 5m
claude_command: claude-next
retry:
  max_retries: 1
  base_delay: 500ms
  max_delay: 10s
budget:
  total_limit: 200000
  warning_threshold: 90
  mode: soft
breaker:
  failure_threshold: 3
  open_cooldown: 30s
  max_cooldown: 300s
review_max_depth: 1
`
	cfg, err := NewLoader().LoadFromBytes([]byte(raw))
	if err != nil {
		t.Fatalf("LoadFromBytes() error = %v", err)
	}
	if cfg.MaxWorkers != 8 || cfg.TaskTimeout != 5*time.Minute {
		t.Errorf("execution overrides: %+v", cfg)
	}
	if cfg.Retry.MaxRetries != 1 || cfg.Retry.BaseDelay != 500*time.Millisecond {
		t.Errorf("retry overrides: %+v", cfg.Retry)
	}
	if cfg.Budget.TotalLimit != 200000 || cfg.Budget.Mode != ModeSoft {
		t.Errorf("budget overrides: %+v", cfg.Budget)
	}
	if cfg.ReviewMaxDepth != 1 {
		t.Errorf("ReviewMaxDepth = %d", cfg.ReviewMaxDepth)
	}
}

func TestLoader_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"unknown key", "surprise: true\n"},
		{"malformed yaml", "max_workers: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLoader().LoadFromBytes([]byte(tt.raw)); err == nil {
				t.Error("LoadFromBytes() accepted bad input")
			}
		})
	}
}

func TestLoader_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	if err := os.WriteFile(path, []byte("max_workers: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := NewLoader().LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.MaxWorkers != 2 {
		t.Errorf("MaxWorkers = %d", cfg.MaxWorkers)
	}

	if _, err := NewLoader().LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadFromFile() on missing file succeeded")
	}
}

func TestCredential(t *testing.T) {
	cfg := Default()
	cfg.APIKeyEnv = "ORCH_TEST_KEY"

	t.Setenv("ORCH_TEST_KEY", "")
	if _, err := cfg.Credential(); !errors.Is(err, ErrCredentialMissing) {
		t.Errorf("empty credential error = %v", err)
	}

	t.Setenv("ORCH_TEST_KEY", "short")
	if _, err := cfg.Credential(); !errors.Is(err, ErrCredentialMissing) {
		t.Errorf("short credential error = %v", err)
	}

	t.Setenv("ORCH_TEST_KEY", "sk-test-0123456789")
	key, err := cfg.Credential()
	if err != nil || key != "sk-test-0123456789" {
		t.Errorf("Credential() = %q, %v", key, err)
	}
}
