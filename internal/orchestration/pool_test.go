package orchestration

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/anthropics/claude-orchestrator/engine/contracts"
)

func TestPool_ValidateFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "real.go"), []byte("package real\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "empty.go"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	p := &Pool{cfg: PoolConfig{WorkDir: dir}}

	tests := []struct {
		name    string
		out     *contracts.ToolOutput
		wantErr error
	}{
		{
			name: "all claims hold",
			out: &contracts.ToolOutput{
				CreatedFiles:  []string{"real.go"},
				ModifiedFiles: []string{"real.go"},
			},
		},
		{
			name: "no claims",
			out:  &contracts.ToolOutput{},
		},
		{
			name:    "created file missing",
			out:     &contracts.ToolOutput{CreatedFiles: []string{"ghost.go"}},
			wantErr: contracts.ErrValidation,
		},
		{
			name:    "modified file missing",
			out:     &contracts.ToolOutput{ModifiedFiles: []string{"ghost.go"}},
			wantErr: contracts.ErrValidation,
		},
		{
			name:    "created file empty",
			out:     &contracts.ToolOutput{CreatedFiles: []string{"empty.go"}},
			wantErr: contracts.ErrValidation,
		},
		{
			name:    "modified file empty",
			out:     &contracts.ToolOutput{ModifiedFiles: []string{"empty.go"}},
			wantErr: contracts.ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := p.validateFiles(tt.out); !errors.Is(err, tt.wantErr) {
				t.Errorf("validateFiles() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
