// Package claude spawns the external LLM command-line tool and parses its
// output contract.
package claude

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/claude-orchestrator/engine/contracts"
)

// header is the machine-readable metadata block: the first non-empty
// stdout line, a single-line JSON object. Pointer fields distinguish
// absent from zero so required keys can be enforced.
type header struct {
	TokensUsed    *int64          `json:"tokens_used"`
	CreatedFiles  []string        `json:"created_files"`
	ModifiedFiles []string        `json:"modified_files"`
	NewTasks      []newTaskHeader `json:"new_tasks"`
}

type newTaskHeader struct {
	ID           contracts.TaskID    `json:"id"`
	Title        string              `json:"title"`
	Description  string              `json:"description"`
	Dependencies []contracts.TaskID  `json:"dependencies"`
	Priority     *contracts.Priority `json:"priority"`
}

// ParseOutput parses tool stdout: the leading structured header followed
// by free-form explanatory text. Malformed headers are a protocol error;
// nothing is heuristically coerced.
func ParseOutput(raw string) (*contracts.ToolOutput, error) {
	headerLine, rest, err := splitHeader(raw)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(strings.NewReader(headerLine))
	dec.DisallowUnknownFields()
	var h header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("decoding header %q: %v: %w", truncate(headerLine, 120), err, contracts.ErrProtocol)
	}
	if h.TokensUsed == nil {
		return nil, fmt.Errorf("header missing tokens_used: %w", contracts.ErrProtocol)
	}
	if *h.TokensUsed < 0 {
		return nil, fmt.Errorf("negative tokens_used %d: %w", *h.TokensUsed, contracts.ErrProtocol)
	}

	out := &contracts.ToolOutput{
		TokensUsed:    contracts.TokenCount(*h.TokensUsed),
		CreatedFiles:  h.CreatedFiles,
		ModifiedFiles: h.ModifiedFiles,
		Text:          strings.TrimSpace(rest),
	}
	for _, nt := range h.NewTasks {
		if nt.ID == "" || nt.Description == "" {
			return nil, fmt.Errorf("new task missing id or description: %w", contracts.ErrProtocol)
		}
		prio := contracts.PriorityMedium
		if nt.Priority != nil {
			prio = *nt.Priority
		}
		out.NewTasks = append(out.NewTasks, contracts.NewTaskSpec{
			ID:           nt.ID,
			Title:        nt.Title,
			Description:  nt.Description,
			Dependencies: nt.Dependencies,
			Priority:     prio,
		})
	}
	return out, nil
}

// splitHeader returns the first non-empty line and everything after it.
func splitHeader(raw string) (string, string, error) {
	rest := raw
	for {
		line, tail, found := strings.Cut(rest, "\n")
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			if !strings.HasPrefix(trimmed, "{") {
				return "", "", fmt.Errorf("output does not start with a header object: %w", contracts.ErrProtocol)
			}
			return trimmed, tail, nil
		}
		if !found {
			return "", "", fmt.Errorf("empty tool output: %w", contracts.ErrProtocol)
		}
		rest = tail
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
