package task

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// TaskType discriminates leaves from jobs within the single tasks table.
type TaskType string

const (
	TypeTask TaskType = "TASK"
	TypeJob  TaskType = "JOB"
)

// Task is the persistent unit of execution. A row with task_type=JOB is a job:
// it owns children via parent_id and its status is the fold of their statuses.
// A row with task_type=TASK is a leaf whose kind selects a registered action.
//
// The adjacency fields (Parent, Children, UpstreamLinks, DownstreamLinks) are
// not mapped by gorm; the repository reconstructs them when loading a graph.
type Task struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TaskType   TaskType       `gorm:"column:task_type;not null;index" json:"task_type"`
	Kind       string         `gorm:"column:kind;not null;index" json:"kind"`
	Name       string         `gorm:"column:name" json:"name,omitempty"`
	Status     Status         `gorm:"column:status;not null;index" json:"status"`
	Error      string         `gorm:"column:error" json:"error,omitempty"`
	Input      datatypes.JSON `gorm:"column:input;type:jsonb" json:"input,omitempty"`
	Output     datatypes.JSON `gorm:"column:output;type:jsonb" json:"output,omitempty"`
	StartedAt  *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
	ParentID   *uuid.UUID     `gorm:"type:uuid;column:parent_id;index" json:"parent_id,omitempty"`
	CreatedAt  time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null" json:"updated_at"`

	Parent          *Task             `gorm:"-" json:"-"`
	Children        []*Task           `gorm:"-" json:"children,omitempty"`
	UpstreamLinks   []*TaskDependency `gorm:"-" json:"-"`
	DownstreamLinks []*TaskDependency `gorm:"-" json:"-"`
}

func (Task) TableName() string { return "tasks" }

// New constructs a leaf task in its initial state.
func New(kind, name string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:        uuid.New(),
		TaskType:  TypeTask,
		Kind:      kind,
		Name:      name,
		Status:    StatusScheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewJob constructs a job task. Jobs have no action of their own; their kind
// names the job family and is not looked up in the action registry.
func NewJob(kind, name string) *Task {
	j := New(kind, name)
	j.TaskType = TypeJob
	return j
}

func (t *Task) IsJob() bool { return t.TaskType == TypeJob }

func (t *Task) IsFinished() bool { return t.Status.IsFinal() }

// IsRunnable reports whether the engine may execute this task now: not
// finished, not already running, and every upstream producer succeeded.
func (t *Task) IsRunnable() bool {
	if t.IsFinished() || t.Status == StatusRunning {
		return false
	}
	for _, up := range t.Upstream() {
		if up.Status != StatusSuccess {
			return false
		}
	}
	return true
}

// Upstream returns the producer tasks of this task in edge-declaration order.
func (t *Task) Upstream() []*Task {
	out := make([]*Task, 0, len(t.UpstreamLinks))
	for _, link := range t.UpstreamLinks {
		if link.UpstreamTask != nil {
			out = append(out, link.UpstreamTask)
		}
	}
	return out
}

// Downstream returns the tasks that depend on this task.
func (t *Task) Downstream() []*Task {
	out := make([]*Task, 0, len(t.DownstreamLinks))
	for _, link := range t.DownstreamLinks {
		if link.Task != nil {
			out = append(out, link.Task)
		}
	}
	return out
}

// Start stamps started_at with the current time and clears finished_at. Every
// call re-stamps, so a retried task keeps its most recent execution window.
func (t *Task) Start() {
	now := time.Now().UTC()
	t.StartedAt = &now
	t.FinishedAt = nil
}

// Finish stamps finished_at.
func (t *Task) Finish() {
	now := time.Now().UTC()
	t.FinishedAt = &now
}

func (t *Task) Duration() *time.Duration {
	if t.StartedAt == nil || t.FinishedAt == nil {
		return nil
	}
	d := t.FinishedAt.Sub(*t.StartedAt)
	return &d
}

// AddChild attaches children to a job.
func (t *Task) AddChild(children ...*Task) error {
	if !t.IsJob() {
		return fmt.Errorf("task %s (%s): only jobs can have children", t.Name, t.Kind)
	}
	for _, c := range children {
		c.Parent = t
		id := t.ID
		c.ParentID = &id
		t.Children = append(t.Children, c)
	}
	return nil
}

// SetInput marshals v into the input column. A nil v clears it.
func (t *Task) SetInput(v any) error {
	raw, err := marshalPayload(v)
	if err != nil {
		return fmt.Errorf("marshal input for %s: %w", t.Name, err)
	}
	t.Input = raw
	return nil
}

// SetOutput marshals v into the output column. A nil v clears it.
func (t *Task) SetOutput(v any) error {
	raw, err := marshalPayload(v)
	if err != nil {
		return fmt.Errorf("marshal output for %s: %w", t.Name, err)
	}
	t.Output = raw
	return nil
}

// InputValue decodes the input column into a generic value.
func (t *Task) InputValue() (any, error) { return unmarshalPayload(t.Input) }

// OutputValue decodes the output column into a generic value.
func (t *Task) OutputValue() (any, error) { return unmarshalPayload(t.Output) }

// UnmarshalInput decodes the input column into a typed destination. Unknown
// fields round-trip unchanged because the column keeps the raw JSON.
func (t *Task) UnmarshalInput(dst any) error {
	if len(t.Input) == 0 {
		return fmt.Errorf("task %s: input is empty", t.Name)
	}
	return json.Unmarshal(t.Input, dst)
}

func marshalPayload(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func unmarshalPayload(raw datatypes.JSON) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
