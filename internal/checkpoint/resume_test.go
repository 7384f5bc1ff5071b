package checkpoint

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/anthropics/claude-orchestrator/engine/contracts"
	"github.com/anthropics/claude-orchestrator/engine/internal/store"
)

func resumeFixture(t *testing.T) (*store.Store, *Store) {
	t.Helper()
	tasks, err := store.Open(filepath.Join(t.TempDir(), "tasks.json"), nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	cps, _ := testCheckpointStore(t)
	return tasks, cps
}

func TestResume_FreshCheckpoint(t *testing.T) {
	tasks, cps := resumeFixture(t)
	if err := tasks.Put(&contracts.Task{ID: "t", Status: contracts.TaskRunning}); err != nil {
		t.Fatal(err)
	}

	cps.now = func() time.Time { return time.Now().Add(-time.Hour) }
	cp, err := cps.Create("t", 2, "writing tests", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := cps.Activate(cp.ID); err != nil {
		t.Fatal(err)
	}

	report, err := Resume(tasks, cps, 24*time.Hour, zerolog.Nop())
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if len(report.Resumed) != 1 || report.Resumed[0] != "t" {
		t.Fatalf("Resumed = %v, want [t]", report.Resumed)
	}

	got, _ := tasks.Get("t")
	if got.Status != contracts.TaskReady {
		t.Errorf("status = %s, want ready", got.Status)
	}
	if !strings.HasPrefix(got.RetryContext, RestoredMarker) {
		t.Errorf("RetryContext = %q, want %s prefix", got.RetryContext, RestoredMarker)
	}

	// Interrupted checkpoint ends RESTORED via legal transitions.
	latest, err := cps.Latest("t")
	if err != nil {
		t.Fatal(err)
	}
	if latest.State != contracts.CheckpointRestored {
		t.Errorf("checkpoint state = %s, want restored", latest.State)
	}
}

func TestResume_StaleCheckpoint(t *testing.T) {
	tasks, cps := resumeFixture(t)
	if err := tasks.Put(&contracts.Task{ID: "t", Status: contracts.TaskRunning}); err != nil {
		t.Fatal(err)
	}

	cps.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	cp, _ := cps.Create("t", 1, "", nil, "")
	if err := cps.Activate(cp.ID); err != nil {
		t.Fatal(err)
	}

	report, err := Resume(tasks, cps, 24*time.Hour, zerolog.Nop())
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if len(report.Staled) != 1 {
		t.Fatalf("Staled = %v, want one entry", report.Staled)
	}

	got, _ := tasks.Get("t")
	if got.Status != contracts.TaskFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.LastError == nil || got.LastError.Kind != contracts.KindStaleCheckpoint {
		t.Errorf("LastError = %+v, want stale_checkpoint", got.LastError)
	}
}

func TestResume_NoCheckpoint(t *testing.T) {
	tasks, cps := resumeFixture(t)
	if err := tasks.Put(&contracts.Task{ID: "t", Status: contracts.TaskRunning}); err != nil {
		t.Fatal(err)
	}

	report, err := Resume(tasks, cps, 24*time.Hour, zerolog.Nop())
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if len(report.Staled) != 1 {
		t.Fatalf("Staled = %v, want one entry", report.Staled)
	}
	got, _ := tasks.Get("t")
	if got.Status != contracts.TaskFailed {
		t.Errorf("status = %s, want failed (never left in running)", got.Status)
	}
}

func TestResume_UntouchedTasksUnchanged(t *testing.T) {
	tasks, cps := resumeFixture(t)
	tasks.Put(&contracts.Task{ID: "done", Status: contracts.TaskCompleted})
	tasks.Put(&contracts.Task{ID: "waiting", Status: contracts.TaskPending})

	report, err := Resume(tasks, cps, 24*time.Hour, zerolog.Nop())
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if len(report.Resumed)+len(report.Staled) != 0 {
		t.Fatalf("report = %+v, want empty", report)
	}
	done, _ := tasks.Get("done")
	waiting, _ := tasks.Get("waiting")
	if done.Status != contracts.TaskCompleted || waiting.Status != contracts.TaskPending {
		t.Error("resume touched tasks that were not running")
	}
}
