package store

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/anthropics/claude-orchestrator/engine/contracts"
)

func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.json")
	s, err := Open(path, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s, path
}

func mustPut(t *testing.T, s *Store, task *contracts.Task) {
	t.Helper()
	if err := s.Put(task); err != nil {
		t.Fatalf("Put(%s) error = %v", task.ID, err)
	}
}

func TestStore_PutGet(t *testing.T) {
	s, _ := testStore(t)

	task := &contracts.Task{
		ID:          "task-1",
		Title:       "first",
		Description: "do the thing",
		Status:      contracts.TaskPending,
		Priority:    contracts.PriorityHigh,
	}
	mustPut(t, s, task)

	got, err := s.Get("task-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != "first" || got.Status != contracts.TaskPending {
		t.Errorf("Get() = %+v", got)
	}
	if got.Version != 1 {
		t.Errorf("Version = %d, want 1", got.Version)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}

	// Returned task is a copy: mutating it must not affect the store.
	got.Title = "mutated"
	again, _ := s.Get("task-1")
	if again.Title != "first" {
		t.Error("Get() returned aliased task state")
	}
}

func TestStore_GetNotFound(t *testing.T) {
	s, _ := testStore(t)
	if _, err := s.Get("missing"); !errors.Is(err, contracts.ErrTaskNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrTaskNotFound", err)
	}
}

func TestStore_PutValidation(t *testing.T) {
	s, _ := testStore(t)
	mustPut(t, s, &contracts.Task{ID: "a"})

	tests := []struct {
		name    string
		task    *contracts.Task
		wantErr error
	}{
		{"nil task", nil, contracts.ErrInvalidInput},
		{"empty id", &contracts.Task{}, contracts.ErrInvalidInput},
		{"self dependency", &contracts.Task{ID: "x", Dependencies: []contracts.TaskID{"x"}}, contracts.ErrInvalidInput},
		{"missing dependency", &contracts.Task{ID: "y", Dependencies: []contracts.TaskID{"ghost"}}, contracts.ErrTaskNotFound},
		{"valid dependency", &contracts.Task{ID: "b", Dependencies: []contracts.TaskID{"a"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Put(tt.task)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Put() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStore_ListOrdering(t *testing.T) {
	s, _ := testStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Same created_at ties break by id; otherwise ascending created_at.
	mustPut(t, s, &contracts.Task{ID: "c", CreatedAt: base})
	mustPut(t, s, &contracts.Task{ID: "a", CreatedAt: base.Add(time.Hour)})
	mustPut(t, s, &contracts.Task{ID: "b", CreatedAt: base})

	got, err := s.List(contracts.Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var ids []contracts.TaskID
	for _, task := range got {
		ids = append(ids, task.ID)
	}
	want := []contracts.TaskID{"b", "c", "a"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("List() order = %v, want %v", ids, want)
	}
}

func TestStore_ListFilter(t *testing.T) {
	s, _ := testStore(t)
	mustPut(t, s, &contracts.Task{ID: "p", Status: contracts.TaskPending})
	mustPut(t, s, &contracts.Task{ID: "q", Status: contracts.TaskCompleted})

	status := contracts.TaskPending
	got, err := s.List(contracts.Filter{Status: &status})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "p" {
		t.Errorf("List(pending) = %v", got)
	}
}

func TestStore_Transition(t *testing.T) {
	tests := []struct {
		name    string
		from    contracts.TaskStatus
		to      contracts.TaskStatus
		current contracts.TaskStatus
		wantErr error
	}{
		{"pending to ready", contracts.TaskPending, contracts.TaskReady, contracts.TaskPending, nil},
		{"ready to running", contracts.TaskReady, contracts.TaskRunning, contracts.TaskReady, nil},
		{"running to completed", contracts.TaskRunning, contracts.TaskCompleted, contracts.TaskRunning, nil},
		{"running to failed", contracts.TaskRunning, contracts.TaskFailed, contracts.TaskRunning, nil},
		{"running released to ready", contracts.TaskRunning, contracts.TaskReady, contracts.TaskRunning, nil},
		{"failed retried to ready", contracts.TaskFailed, contracts.TaskReady, contracts.TaskFailed, nil},
		{"pending to blocked", contracts.TaskPending, contracts.TaskBlocked, contracts.TaskPending, nil},
		{"pending cycle member to failed", contracts.TaskPending, contracts.TaskFailed, contracts.TaskPending, nil},
		{"no-op same status", contracts.TaskReady, contracts.TaskReady, contracts.TaskReady, nil},
		{"pending to completed disallowed", contracts.TaskPending, contracts.TaskCompleted, contracts.TaskPending, contracts.ErrInvalidTransition},
		{"completed is terminal", contracts.TaskCompleted, contracts.TaskReady, contracts.TaskCompleted, contracts.ErrInvalidTransition},
		{"blocked is terminal", contracts.TaskBlocked, contracts.TaskReady, contracts.TaskBlocked, contracts.ErrInvalidTransition},
		{"lost cas race", contracts.TaskReady, contracts.TaskRunning, contracts.TaskRunning, contracts.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := testStore(t)
			mustPut(t, s, &contracts.Task{ID: "t", Status: tt.current})

			err := s.Transition("t", tt.from, tt.to, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Transition() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && tt.from != tt.to {
				got, _ := s.Get("t")
				if got.Status != tt.to {
					t.Errorf("status = %s, want %s", got.Status, tt.to)
				}
			}
		})
	}
}

func TestStore_TransitionNoOpSkipsMutate(t *testing.T) {
	s, _ := testStore(t)
	mustPut(t, s, &contracts.Task{ID: "t", Status: contracts.TaskReady})

	called := false
	if err := s.Transition("t", contracts.TaskReady, contracts.TaskReady, func(*contracts.Task) { called = true }); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if called {
		t.Error("mutate applied on no-op transition")
	}
	got, _ := s.Get("t")
	if got.Version != 1 {
		t.Errorf("no-op bumped version to %d", got.Version)
	}
}

func TestStore_TransitionMutate(t *testing.T) {
	s, _ := testStore(t)
	mustPut(t, s, &contracts.Task{ID: "t", Status: contracts.TaskRunning})

	err := s.Transition("t", contracts.TaskRunning, contracts.TaskFailed, func(task *contracts.Task) {
		task.Attempts++
		task.LastError = &contracts.ErrorRecord{Kind: contracts.KindTransient, Message: "boom"}
	})
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	got, _ := s.Get("t")
	if got.Attempts != 1 || got.LastError == nil || got.LastError.Kind != contracts.KindTransient {
		t.Errorf("mutate not applied: %+v", got)
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}
}

func TestStore_ProgressObserved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	rec := &recordingProgress{}
	s, err := Open(path, rec, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	mustPut(t, s, &contracts.Task{ID: "t", Status: contracts.TaskPending})

	if err := s.Transition("t", contracts.TaskPending, contracts.TaskReady, nil); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if len(rec.seen) != 1 || rec.seen[0] != "t:pending->ready" {
		t.Errorf("progress = %v", rec.seen)
	}
}

type recordingProgress struct {
	seen []string
}

func (r *recordingProgress) Observe(id contracts.TaskID, from, to contracts.TaskStatus) {
	r.seen = append(r.seen, string(id)+":"+from.String()+"->"+to.String())
}

func TestStore_RoundTrip(t *testing.T) {
	s, path := testStore(t)
	task := &contracts.Task{
		ID:           "task-1",
		Title:        "round trip",
		Description:  "serialize then reload",
		Status:       contracts.TaskFailed,
		Priority:     contracts.PriorityLow,
		Dependencies: nil,
		Attempts:     2,
		LastError:    &contracts.ErrorRecord{Kind: contracts.KindValidationFailure, Message: "missing file", At: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)},
		Result:       &contracts.TaskResult{Text: "partial", CreatedFiles: []string{"a.go"}, TokensUsed: 42},
		RetryContext: "attempt 2 failed: missing file",
	}
	mustPut(t, s, task)

	reopened, err := Open(path, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	got, err := reopened.Get("task-1")
	if err != nil {
		t.Fatalf("Get() after reload error = %v", err)
	}
	orig, _ := s.Get("task-1")
	if !reflect.DeepEqual(normalize(got), normalize(orig)) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, orig)
	}
}

// normalize strips monotonic clock readings so DeepEqual compares wall time.
func normalize(t *contracts.Task) *contracts.Task {
	c := t.Clone()
	c.CreatedAt = c.CreatedAt.Round(0).UTC()
	c.UpdatedAt = c.UpdatedAt.Round(0).UTC()
	return c
}

func TestOpen_CorruptFile(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "this is not json"},
		{"unknown status", `{"tasks":[{"id":"t","status":"paused","priority":"high","attempts":0,"created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}]}`},
		{"empty id", `{"tasks":[{"id":"","status":"pending","priority":"low","attempts":0,"created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tasks.json")
			if err := os.WriteFile(path, []byte(tt.data), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := Open(path, nil, zerolog.Nop())
			if !errors.Is(err, contracts.ErrStoreCorrupt) {
				t.Errorf("Open() error = %v, want ErrStoreCorrupt", err)
			}
			if !IsFatal(err) {
				t.Error("corrupt store must be fatal")
			}
		})
	}
}

func TestStore_BatchUpdate(t *testing.T) {
	s, _ := testStore(t)
	mustPut(t, s, &contracts.Task{ID: "a", Status: contracts.TaskPending})
	mustPut(t, s, &contracts.Task{ID: "b", Status: contracts.TaskPending})

	err := s.BatchUpdate([]contracts.TaskID{"a", "b"}, func(task *contracts.Task) {
		task.Status = contracts.TaskBlocked
	})
	if err != nil {
		t.Fatalf("BatchUpdate() error = %v", err)
	}
	for _, id := range []contracts.TaskID{"a", "b"} {
		got, _ := s.Get(id)
		if got.Status != contracts.TaskBlocked {
			t.Errorf("task %s status = %s, want blocked", id, got.Status)
		}
	}

	if err := s.BatchUpdate([]contracts.TaskID{"a", "ghost"}, func(*contracts.Task) {}); !errors.Is(err, contracts.ErrTaskNotFound) {
		t.Errorf("BatchUpdate(ghost) error = %v, want ErrTaskNotFound", err)
	}
}
