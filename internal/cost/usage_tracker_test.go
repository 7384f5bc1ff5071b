package cost

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/anthropics/claude-orchestrator/engine/contracts"
)

func TestTracker_Add(t *testing.T) {
	tr := NewTracker()
	tr.Add("a", 10)
	tr.Add("a", 5)
	tr.Add("b", 1)
	tr.Add("c", 0)  // ignored
	tr.Add("c", -3) // ignored

	if got := tr.Total(); got != 16 {
		t.Errorf("Total() = %d, want 16", got)
	}
	if got := tr.Task("a"); got != 15 {
		t.Errorf("Task(a) = %d, want 15", got)
	}
	if got := tr.Task("c"); got != 0 {
		t.Errorf("Task(c) = %d, want 0", got)
	}
}

func TestTracker_SnapshotIsCopy(t *testing.T) {
	tr := NewTracker()
	tr.Add("a", 10)

	snap := tr.Snapshot()
	snap.PerTask["a"] = 999
	if tr.Task("a") != 10 {
		t.Error("Snapshot() aliased internal state")
	}
	if snap.ResetAt.IsZero() {
		t.Error("ResetAt not set")
	}
}

func TestTracker_Persist(t *testing.T) {
	tr := NewTracker()
	tr.Add("a", 123)

	path := filepath.Join(t.TempDir(), "usage.json")
	if err := tr.Persist(path); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var snap contracts.BudgetSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("persisted snapshot not valid JSON: %v", err)
	}
	if snap.TokensUsed != 123 || snap.PerTask["a"] != 123 {
		t.Errorf("persisted snapshot = %+v", snap)
	}
}

func TestTokenEstimator(t *testing.T) {
	e := NewTokenEstimator()
	tests := []struct {
		prompt string
		want   contracts.TokenCount
	}{
		{"", 0},
		{"ab", 1}, // non-empty input always costs at least one token
		{"12345678", 2},
		{string(make([]byte, 4000)), 1000},
	}
	for _, tt := range tests {
		if got := e.Estimate(tt.prompt); got != tt.want {
			t.Errorf("Estimate(len %d) = %d, want %d", len(tt.prompt), got, tt.want)
		}
	}
}
