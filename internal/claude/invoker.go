package claude

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/anthropics/claude-orchestrator/engine/contracts"
)

// ToolConfig describes how the external tool is launched.
type ToolConfig struct {
	// Command is the executable name or path.
	Command string
	// Args are fixed arguments passed before the working directory.
	Args []string
	// Timeout bounds one invocation. Zero means no deadline.
	Timeout time.Duration
	// GraceDelay is how long a signalled process gets to exit before it
	// is killed.
	GraceDelay time.Duration
}

// Subprocess runs the tool as a child process per invocation: prompt on
// stdin, structured header plus free text on stdout.
type Subprocess struct {
	cfg ToolConfig
	log zerolog.Logger
}

var _ contracts.Invoker = (*Subprocess)(nil)

// NewSubprocess creates a Subprocess invoker.
func NewSubprocess(cfg ToolConfig, log zerolog.Logger) *Subprocess {
	if cfg.GraceDelay <= 0 {
		cfg.GraceDelay = 5 * time.Second
	}
	return &Subprocess{cfg: cfg, log: log.With().Str("component", "tool").Logger()}
}

// Invoke runs one tool invocation to completion. The child inherits the
// parent environment, including the API credential. On timeout the child
// is signalled SIGTERM and killed after the grace delay.
func (s *Subprocess) Invoke(ctx context.Context, req contracts.InvokeRequest) (*contracts.ToolOutput, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	args := append(append([]string(nil), s.cfg.Args...), req.WorkDir)
	cmd := exec.CommandContext(ctx, s.cfg.Command, args...)
	cmd.Dir = req.WorkDir
	cmd.Env = os.Environ()
	cmd.Stdin = strings.NewReader(req.Prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = s.cfg.GraceDelay

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	s.log.Debug().
		Str("task", string(req.TaskID)).
		Dur("elapsed", elapsed).
		Int("stdout_bytes", stdout.Len()).
		Err(runErr).
		Msg("tool invocation finished")

	if ctx.Err() != nil {
		return nil, fmt.Errorf("task %s: tool timed out after %s: %w", req.TaskID, elapsed.Round(time.Millisecond), ctx.Err())
	}
	if runErr != nil {
		// A failed run may still carry a parseable header; recover it so
		// tokens spent on the failure are accounted for.
		out, parseErr := ParseOutput(stdout.String())
		if parseErr != nil {
			out = nil
		}
		return out, fmt.Errorf("task %s: tool exited with error: %v: %s", req.TaskID, runErr, truncate(stderr.String(), 400))
	}
	return ParseOutput(stdout.String())
}

// Scripted is an Invoker driven by canned responses, keyed by task. It
// stands in for the real tool in planner and pool tests.
type Scripted struct {
	mu      sync.Mutex
	Outputs map[contracts.TaskID][]ScriptStep
	calls   map[contracts.TaskID]int
	order   []contracts.TaskID
	prompts map[contracts.TaskID][]string
}

// ScriptStep is one canned invocation result. Steps for a task are
// consumed in order; the last step repeats.
type ScriptStep struct {
	Out   *contracts.ToolOutput
	Err   error
	Delay time.Duration
}

var _ contracts.Invoker = (*Scripted)(nil)

// NewScripted creates an empty Scripted invoker.
func NewScripted() *Scripted {
	return &Scripted{
		Outputs: make(map[contracts.TaskID][]ScriptStep),
		calls:   make(map[contracts.TaskID]int),
		prompts: make(map[contracts.TaskID][]string),
	}
}

// Script appends canned steps for a task.
func (s *Scripted) Script(id contracts.TaskID, steps ...ScriptStep) {
	s.Outputs[id] = append(s.Outputs[id], steps...)
}

// Invoke returns the next canned step for the task.
func (s *Scripted) Invoke(ctx context.Context, req contracts.InvokeRequest) (*contracts.ToolOutput, error) {
	s.mu.Lock()
	steps := s.Outputs[req.TaskID]
	n := s.calls[req.TaskID]
	s.calls[req.TaskID]++
	s.order = append(s.order, req.TaskID)
	s.prompts[req.TaskID] = append(s.prompts[req.TaskID], req.Prompt)
	s.mu.Unlock()

	if len(steps) == 0 {
		return nil, fmt.Errorf("task %s: no scripted response: %w", req.TaskID, contracts.ErrProtocol)
	}
	if n >= len(steps) {
		n = len(steps) - 1
	}
	step := steps[n]
	if step.Delay > 0 {
		select {
		case <-time.After(step.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if step.Err != nil {
		return step.Out, step.Err
	}
	return step.Out, nil
}

// Calls returns how many times the task was invoked.
func (s *Scripted) Calls(id contracts.TaskID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

// Prompts returns the prompts the task was invoked with.
func (s *Scripted) Prompts(id contracts.TaskID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts[id]...)
}

// Order returns the invocation order across all tasks.
func (s *Scripted) Order() []contracts.TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]contracts.TaskID(nil), s.order...)
}
