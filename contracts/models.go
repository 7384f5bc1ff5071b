package contracts

import "time"

// Task represents a single unit of work in the store.
type Task struct {
	ID           TaskID       `json:"id"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Status       TaskStatus   `json:"status"`
	Priority     Priority     `json:"priority"`
	Dependencies []TaskID     `json:"dependencies,omitempty"`
	Attempts     int          `json:"attempts"`
	LastError    *ErrorRecord `json:"last_error,omitempty"`
	Result       *TaskResult  `json:"result,omitempty"`
	RetryContext string       `json:"retry_context,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`

	// Version backs the store's compare-and-swap; bumped on every mutation.
	Version int64 `json:"version,omitempty"`
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Dependencies = append([]TaskID(nil), t.Dependencies...)
	if t.LastError != nil {
		e := *t.LastError
		c.LastError = &e
	}
	if t.Result != nil {
		c.Result = t.Result.Clone()
	}
	return &c
}

// TaskResult represents the output of a completed task.
type TaskResult struct {
	Text          string     `json:"text"`
	CreatedFiles  []string   `json:"created_files,omitempty"`
	ModifiedFiles []string   `json:"modified_files,omitempty"`
	TokensUsed    TokenCount `json:"tokens_used"`
}

// Clone returns a deep copy of the result.
func (r *TaskResult) Clone() *TaskResult {
	if r == nil {
		return nil
	}
	c := *r
	c.CreatedFiles = append([]string(nil), r.CreatedFiles...)
	c.ModifiedFiles = append([]string(nil), r.ModifiedFiles...)
	return &c
}

// ErrorRecord is a structured error captured on a task or checkpoint.
type ErrorRecord struct {
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Checkpoint is a durable per-step snapshot of a task's execution context.
type Checkpoint struct {
	ID          CheckpointID      `json:"checkpoint_id"`
	TaskID      TaskID            `json:"task_id"`
	Step        int               `json:"step_number"` // 1-based
	TotalSteps  int               `json:"total_steps,omitempty"`
	Description string            `json:"step_description,omitempty"`
	State       CheckpointState   `json:"state"`
	Data        map[string]string `json:"data,omitempty"`
	Error       *ErrorRecord      `json:"error,omitempty"`
	ParentID    CheckpointID      `json:"parent_checkpoint_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// DeepCopy returns a deep copy of the checkpoint.
func (c *Checkpoint) DeepCopy() *Checkpoint {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Data != nil {
		cp.Data = make(map[string]string, len(c.Data))
		for k, v := range c.Data {
			cp.Data[k] = v
		}
	}
	if c.Error != nil {
		e := *c.Error
		cp.Error = &e
	}
	return &cp
}

// InvokeRequest is one outbound invocation of the external LLM tool.
type InvokeRequest struct {
	TaskID  TaskID
	Prompt  string
	WorkDir string
}

// NewTaskSpec is a follow-up task emitted by the review pass.
type NewTaskSpec struct {
	ID           TaskID   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Dependencies []TaskID `json:"dependencies,omitempty"`
	Priority     Priority `json:"priority"`
}

// ToolOutput is the parsed output of one tool invocation: the structured
// header fields plus the free-form remainder.
type ToolOutput struct {
	TokensUsed    TokenCount    `json:"tokens_used"`
	CreatedFiles  []string      `json:"created_files,omitempty"`
	ModifiedFiles []string      `json:"modified_files,omitempty"`
	NewTasks      []NewTaskSpec `json:"new_tasks,omitempty"`
	Text          string        `json:"-"`
}

// BudgetSnapshot is the governor's view of cumulative usage, persisted at
// shutdown.
type BudgetSnapshot struct {
	TokensUsed TokenCount               `json:"tokens_used"`
	PerTask    map[TaskID]TokenCount    `json:"per_task,omitempty"`
	ResetAt    time.Time                `json:"reset_at"`
	Events     map[string]time.Time     `json:"events,omitempty"` // emitted warnings, idempotence marker
}

// EventType labels a terminal engine event.
type EventType string

const (
	EventTaskCompleted   EventType = "task_completed"
	EventTaskFailed      EventType = "task_failed"
	EventTaskBlocked     EventType = "task_blocked"
	EventBudgetWarning   EventType = "budget_warning"
	EventBudgetExhausted EventType = "budget_exhausted"
	EventShutdown        EventType = "shutdown"
)

// Event is one terminal notification delivered to the EventSink.
type Event struct {
	ID      string    `json:"id"` // uuid
	Type    EventType `json:"type"`
	TaskID  TaskID    `json:"task_id,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Filter selects tasks from the store. Zero value matches everything.
type Filter struct {
	Status   *TaskStatus
	Priority *Priority
}

// Match reports whether the task satisfies the filter.
func (f Filter) Match(t *Task) bool {
	if t == nil {
		return false
	}
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.Priority != nil && t.Priority != *f.Priority {
		return false
	}
	return true
}

// CheckpointFilter selects checkpoints. Zero value matches everything.
type CheckpointFilter struct {
	TaskID TaskID
	State  *CheckpointState
}
