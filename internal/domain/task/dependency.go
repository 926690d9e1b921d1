package task

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// MapperConfig references a registered mapper function for CUSTOM merges.
// Module is recorded for provenance; Name is the registry lookup key.
type MapperConfig struct {
	Module string `json:"module"`
	Name   string `json:"name"`
}

// TaskDependency is a directed edge between two tasks of the same enclosing
// job: UpstreamTaskID produces, TaskID consumes. The edge carries the merge
// strategy applied when the downstream task's input is assembled.
type TaskDependency struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TaskID         uuid.UUID      `gorm:"type:uuid;column:task_id;not null;index" json:"task_id"`
	UpstreamTaskID uuid.UUID      `gorm:"type:uuid;column:upstream_task_id;not null;index" json:"upstream_task_id"`
	JobID          *uuid.UUID     `gorm:"type:uuid;column:job_id;index" json:"job_id,omitempty"`
	MergeStrategy  MergeStrategy  `gorm:"column:merge_strategy;not null" json:"merge_strategy"`
	MapperConfig   datatypes.JSON `gorm:"column:mapper_config;type:jsonb" json:"mapper_config,omitempty"`
	Ordinal        int            `gorm:"column:ordinal;not null" json:"ordinal"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`

	Task         *Task `gorm:"-" json:"-"`
	UpstreamTask *Task `gorm:"-" json:"-"`
}

func (TaskDependency) TableName() string { return "task_dependencies" }

// Mapper decodes the mapper_config column. Returns nil when no mapper is set.
func (d *TaskDependency) Mapper() (*MapperConfig, error) {
	if len(d.MapperConfig) == 0 || string(d.MapperConfig) == "null" {
		return nil, nil
	}
	var cfg MapperConfig
	if err := json.Unmarshal(d.MapperConfig, &cfg); err != nil {
		return nil, fmt.Errorf("decode mapper config: %w", err)
	}
	return &cfg, nil
}

// DependencyOption configures an edge created by AddUpstream.
type DependencyOption func(*dependencyOptions)

type dependencyOptions struct {
	strategy MergeStrategy
	mapper   *MapperConfig
}

// WithMergeStrategy sets the edge's merge strategy. Default is REPLACE.
func WithMergeStrategy(s MergeStrategy) DependencyOption {
	return func(o *dependencyOptions) { o.strategy = s }
}

// WithMapper sets the CUSTOM mapper reference for the edge. Only valid
// together with MergeCustom.
func WithMapper(module, name string) DependencyOption {
	return func(o *dependencyOptions) { o.mapper = &MapperConfig{Module: module, Name: name} }
}

// AddUpstream declares that this task depends on the given producers. Edges
// must stay within one enclosing job; duplicates are skipped.
func (t *Task) AddUpstream(producers []*Task, opts ...DependencyOption) error {
	o := dependencyOptions{strategy: MergeReplace}
	for _, opt := range opts {
		opt(&o)
	}
	if o.mapper != nil && o.strategy != MergeCustom {
		return fmt.Errorf("mapper can only be used with merge strategy %q", MergeCustom)
	}

	var mapperJSON datatypes.JSON
	if o.mapper != nil {
		b, err := json.Marshal(o.mapper)
		if err != nil {
			return fmt.Errorf("encode mapper config: %w", err)
		}
		mapperJSON = datatypes.JSON(b)
	}

	for _, up := range producers {
		if t.hasUpstream(up.ID) {
			continue
		}
		if !sameJob(t, up) {
			return fmt.Errorf("dependency %s -> %s crosses job boundaries", up.Name, t.Name)
		}
		dep := &TaskDependency{
			ID:             uuid.New(),
			TaskID:         t.ID,
			UpstreamTaskID: up.ID,
			JobID:          t.ParentID,
			MergeStrategy:  o.strategy,
			MapperConfig:   mapperJSON,
			Ordinal:        len(t.UpstreamLinks),
			CreatedAt:      time.Now().UTC(),
			Task:           t,
			UpstreamTask:   up,
		}
		t.UpstreamLinks = append(t.UpstreamLinks, dep)
		up.DownstreamLinks = append(up.DownstreamLinks, dep)
	}
	return nil
}

// AddDownstream declares that the given consumers depend on this task, with
// the default REPLACE strategy.
func (t *Task) AddDownstream(consumers ...*Task) error {
	for _, down := range consumers {
		if err := down.AddUpstream([]*Task{t}); err != nil {
			return err
		}
	}
	return nil
}

func (t *Task) hasUpstream(id uuid.UUID) bool {
	for _, link := range t.UpstreamLinks {
		if link.UpstreamTaskID == id {
			return true
		}
	}
	return false
}

func sameJob(a, b *Task) bool {
	if a.ParentID == nil || b.ParentID == nil {
		return false
	}
	return *a.ParentID == *b.ParentID
}
