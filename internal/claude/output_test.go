package claude

import (
	"errors"
	"testing"

	"github.com/anthropics/claude-orchestrator/engine/contracts"
)

func TestParseOutput(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    func(*testing.T, *contracts.ToolOutput)
		wantErr error
	}{
		{
			name: "header and text",
			raw: `{"tokens_used":42,"created_files":["a.go"],"modified_files":["b.go"]}
did the thing
second line`,
			want: func(t *testing.T, out *contracts.ToolOutput) {
				if out.TokensUsed != 42 {
					t.Errorf("TokensUsed = %d, want 42", out.TokensUsed)
				}
				if len(out.CreatedFiles) != 1 || out.CreatedFiles[0] != "a.go" {
					t.Errorf("CreatedFiles = %v", out.CreatedFiles)
				}
				if out.Text != "did the thing\nsecond line" {
					t.Errorf("Text = %q", out.Text)
				}
			},
		},
		{
			name: "leading blank lines skipped",
			raw:  "\n\n  \n{\"tokens_used\":1}\nok",
			want: func(t *testing.T, out *contracts.ToolOutput) {
				if out.TokensUsed != 1 || out.Text != "ok" {
					t.Errorf("out = %+v", out)
				}
			},
		},
		{
			name: "header only",
			raw:  `{"tokens_used":7}`,
			want: func(t *testing.T, out *contracts.ToolOutput) {
				if out.TokensUsed != 7 || out.Text != "" {
					t.Errorf("out = %+v", out)
				}
			},
		},
		{
			name: "new tasks with default priority",
			raw:  `{"tokens_used":5,"new_tasks":[{"id":"t9","title":"follow up","description":"fix the tests","dependencies":["t1"]}]}`,
			want: func(t *testing.T, out *contracts.ToolOutput) {
				if len(out.NewTasks) != 1 {
					t.Fatalf("NewTasks = %v", out.NewTasks)
				}
				nt := out.NewTasks[0]
				if nt.ID != "t9" || nt.Priority != contracts.PriorityMedium {
					t.Errorf("new task = %+v", nt)
				}
			},
		},
		{
			name: "new task explicit priority",
			raw:  `{"tokens_used":5,"new_tasks":[{"id":"t9","description":"d","priority":"high"}]}`,
			want: func(t *testing.T, out *contracts.ToolOutput) {
				if out.NewTasks[0].Priority != contracts.PriorityHigh {
					t.Errorf("priority = %v", out.NewTasks[0].Priority)
				}
			},
		},
		{"empty output", "", nil, contracts.ErrProtocol},
		{"blank output", "\n\n  \n", nil, contracts.ErrProtocol},
		{"no header object", "just prose, no header", nil, contracts.ErrProtocol},
		{"malformed json", `{"tokens_used":`, nil, contracts.ErrProtocol},
		{"unknown header field", `{"tokens_used":1,"surprise":true}`, nil, contracts.ErrProtocol},
		{"missing tokens_used", `{"created_files":[]}`, nil, contracts.ErrProtocol},
		{"negative tokens_used", `{"tokens_used":-1}`, nil, contracts.ErrProtocol},
		{"new task missing id", `{"tokens_used":1,"new_tasks":[{"description":"d"}]}`, nil, contracts.ErrProtocol},
		{"new task missing description", `{"tokens_used":1,"new_tasks":[{"id":"t9"}]}`, nil, contracts.ErrProtocol},
		{"new task bad priority", `{"tokens_used":1,"new_tasks":[{"id":"t9","description":"d","priority":"urgent"}]}`, nil, contracts.ErrProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ParseOutput(tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseOutput() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseOutput() error = %v", err)
			}
			tt.want(t, out)
		})
	}
}

func TestScripted_StepsConsumeInOrder(t *testing.T) {
	s := NewScripted()
	s.Script("t1",
		ScriptStep{Err: errors.New("flaky")},
		ScriptStep{Out: &contracts.ToolOutput{TokensUsed: 10}},
	)

	req := contracts.InvokeRequest{TaskID: "t1"}
	if _, err := s.Invoke(t.Context(), req); err == nil {
		t.Fatal("first call should fail")
	}
	out, err := s.Invoke(t.Context(), req)
	if err != nil || out.TokensUsed != 10 {
		t.Fatalf("second call = %v, %v", out, err)
	}
	// Last step repeats.
	if _, err := s.Invoke(t.Context(), req); err != nil {
		t.Fatalf("third call = %v", err)
	}
	if s.Calls("t1") != 3 {
		t.Errorf("Calls = %d, want 3", s.Calls("t1"))
	}
}
