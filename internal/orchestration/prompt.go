package orchestration

import (
	"fmt"
	"strings"

	"github.com/anthropics/claude-orchestrator/engine/contracts"
)

// defaultPromptBytes caps the assembled prompt. Dependency results are
// the compressible part; task description and retry context always fit.
const defaultPromptBytes = 64 << 10

// PromptBuilder assembles the tool prompt for one task: its description,
// the results of its completed dependencies, and the retry context from
// a previous failed or interrupted attempt.
type PromptBuilder struct {
	store    contracts.TaskStore
	maxBytes int
}

// NewPromptBuilder creates a PromptBuilder over the task store.
func NewPromptBuilder(store contracts.TaskStore) *PromptBuilder {
	return &PromptBuilder{store: store, maxBytes: defaultPromptBytes}
}

// Build assembles the prompt for the task. Dependency results are
// compacted to an even share of the remaining byte budget, newest text
// kept, so one verbose dependency cannot starve the others.
func (b *PromptBuilder) Build(task *contracts.Task) (string, error) {
	if task == nil {
		return "", contracts.ErrInvalidInput
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Task %s: %s\n\n%s\n", task.ID, task.Title, strings.TrimSpace(task.Description))

	if task.RetryContext != "" || task.LastError != nil {
		sb.WriteString("\n## Previous attempt\n")
		if task.RetryContext != "" {
			sb.WriteString(task.RetryContext + "\n")
		}
		if task.LastError != nil {
			fmt.Fprintf(&sb, "error (%s): %s\n", task.LastError.Kind, task.LastError.Message)
		}
	}

	if len(task.Dependencies) > 0 {
		budget := b.maxBytes - sb.Len()
		share := budget / len(task.Dependencies)
		sb.WriteString("\n## Completed dependencies\n")
		for _, depID := range task.Dependencies {
			dep, err := b.store.Get(depID)
			if err != nil {
				return "", fmt.Errorf("dependency %s of task %s: %w", depID, task.ID, err)
			}
			fmt.Fprintf(&sb, "\n### %s: %s\n", dep.ID, dep.Title)
			if dep.Result != nil {
				sb.WriteString(compact(dep.Result.Text, share) + "\n")
			}
		}
	}
	return sb.String(), nil
}

// compact trims text to limit bytes, keeping the tail. The end of a tool
// transcript carries the conclusions.
func compact(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || len(text) <= limit {
		return text
	}
	const marker = "[...truncated]\n"
	if limit <= len(marker) {
		return text[len(text)-limit:]
	}
	return marker + text[len(text)-(limit-len(marker)):]
}
