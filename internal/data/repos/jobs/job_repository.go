package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lounis13/taskflow/internal/domain/task"
	pkgerrors "github.com/lounis13/taskflow/internal/pkg/errors"
	"github.com/lounis13/taskflow/internal/pkg/logger"
)

// JobRepository is the persistence session the engine drives. It behaves like
// an ORM unit of work: Stage marks a mutated task, Flush writes the staged rows
// inside the open transaction, and Commit makes them durable; the next call
// that needs the database opens a fresh transaction.
//
// The engine invokes Stage/Flush/Commit after every observable transition, so
// restart always sees the last consistent state.
type JobRepository interface {
	Get(ctx context.Context, jobID uuid.UUID, loadGraph bool) (*task.Task, error)
	GetTask(ctx context.Context, taskID uuid.UUID) (*task.Task, error)
	GetAll(ctx context.Context, loadGraph bool) ([]*task.Task, error)
	Add(ctx context.Context, root *task.Task) error
	Stage(t *task.Task)
	Flush(ctx context.Context) error
	Commit(ctx context.Context) error
	Refresh(ctx context.Context, t *task.Task) error
}

type jobRepository struct {
	db  *gorm.DB
	log *logger.Logger

	mu     sync.Mutex
	tx     *gorm.DB
	staged map[uuid.UUID]*task.Task
}

func NewJobRepository(db *gorm.DB, baseLog *logger.Logger) JobRepository {
	return &jobRepository{
		db:     db,
		log:    baseLog.With("repo", "JobRepository"),
		staged: make(map[uuid.UUID]*task.Task),
	}
}

// session returns the open transaction, starting one when needed.
func (r *jobRepository) session(ctx context.Context) (*gorm.DB, error) {
	if r.tx == nil {
		tx := r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return nil, fmt.Errorf("begin transaction: %w", tx.Error)
		}
		r.tx = tx
	}
	return r.tx.WithContext(ctx), nil
}

func (r *jobRepository) Get(ctx context.Context, jobID uuid.UUID, loadGraph bool) (*task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, err := r.session(ctx)
	if err != nil {
		return nil, err
	}

	var root task.Task
	if err := tx.Where("id = ?", jobID).First(&root).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("job %s: %w", jobID, pkgerrors.ErrNotFound)
		}
		return nil, err
	}
	if !root.IsJob() {
		return nil, fmt.Errorf("task %s is not a job: %w", jobID, pkgerrors.ErrInvalidArgument)
	}
	if !loadGraph {
		return &root, nil
	}
	if err := r.hydrate(tx, &root); err != nil {
		return nil, err
	}
	return &root, nil
}

func (r *jobRepository) GetTask(ctx context.Context, taskID uuid.UUID) (*task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, err := r.session(ctx)
	if err != nil {
		return nil, err
	}
	var t task.Task
	if err := tx.Where("id = ?", taskID).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("task %s: %w", taskID, pkgerrors.ErrNotFound)
		}
		return nil, err
	}
	return &t, nil
}

func (r *jobRepository) GetAll(ctx context.Context, loadGraph bool) ([]*task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, err := r.session(ctx)
	if err != nil {
		return nil, err
	}
	var roots []*task.Task
	if err := tx.
		Where("task_type = ? AND parent_id IS NULL", task.TypeJob).
		Order("created_at ASC").
		Find(&roots).Error; err != nil {
		return nil, err
	}
	if loadGraph {
		for _, root := range roots {
			if err := r.hydrate(tx, root); err != nil {
				return nil, err
			}
		}
	}
	return roots, nil
}

// hydrate loads the full child tree plus dependency links and reconstructs the
// in-memory adjacency the engine walks.
func (r *jobRepository) hydrate(tx *gorm.DB, root *task.Task) error {
	byID := map[uuid.UUID]*task.Task{root.ID: root}
	frontier := []uuid.UUID{root.ID}
	for len(frontier) > 0 {
		var level []*task.Task
		if err := tx.
			Where("parent_id IN ?", frontier).
			Order("created_at ASC").
			Find(&level).Error; err != nil {
			return fmt.Errorf("load children: %w", err)
		}
		frontier = frontier[:0]
		for _, t := range level {
			byID[t.ID] = t
			parent := byID[*t.ParentID]
			t.Parent = parent
			parent.Children = append(parent.Children, t)
			if t.IsJob() {
				frontier = append(frontier, t.ID)
			}
		}
	}

	ids := make([]uuid.UUID, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	var links []*task.TaskDependency
	if err := tx.
		Where("task_id IN ?", ids).
		Order("task_id, ordinal ASC").
		Find(&links).Error; err != nil {
		return fmt.Errorf("load dependencies: %w", err)
	}
	for _, link := range links {
		down, okDown := byID[link.TaskID]
		up, okUp := byID[link.UpstreamTaskID]
		if !okDown || !okUp {
			// Edges are intra-job; anything else is stale data we ignore.
			r.log.Warn("skipping dependency with endpoint outside the graph", "dependency_id", link.ID)
			continue
		}
		link.Task = down
		link.UpstreamTask = up
		down.UpstreamLinks = append(down.UpstreamLinks, link)
		up.DownstreamLinks = append(up.DownstreamLinks, link)
	}
	return nil
}

// Add persists a newly constructed job tree: every task of the tree plus its
// dependency edges. The caller commits.
func (r *jobRepository) Add(ctx context.Context, root *task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, err := r.session(ctx)
	if err != nil {
		return err
	}

	var tasks []*task.Task
	var links []*task.TaskDependency
	stack := []*task.Task{root}
	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		tasks = append(tasks, t)
		links = append(links, t.UpstreamLinks...)
		stack = append(stack, t.Children...)
	}

	for _, t := range tasks {
		if err := tx.Create(t).Error; err != nil {
			return fmt.Errorf("create task %s: %w", t.Name, err)
		}
	}
	for _, link := range links {
		if err := tx.Create(link).Error; err != nil {
			return fmt.Errorf("create dependency %s: %w", link.ID, err)
		}
	}
	return nil
}

// Stage marks a task for the next flush.
func (r *jobRepository) Stage(t *task.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staged[t.ID] = t
}

// Flush writes the mutable columns of every staged task.
func (r *jobRepository) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.staged) == 0 {
		return nil
	}
	tx, err := r.session(ctx)
	if err != nil {
		return err
	}
	for id, t := range r.staged {
		t.UpdatedAt = time.Now().UTC()
		err := tx.Model(&task.Task{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":      t.Status,
				"error":       t.Error,
				"input":       t.Input,
				"output":      t.Output,
				"started_at":  t.StartedAt,
				"finished_at": t.FinishedAt,
				"updated_at":  t.UpdatedAt,
			}).Error
		if err != nil {
			return fmt.Errorf("flush task %s: %w", t.Name, err)
		}
		delete(r.staged, id)
	}
	return nil
}

// Commit makes the flushed writes durable and closes the open transaction; the
// next call that needs the database begins a fresh one.
func (r *jobRepository) Commit(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tx == nil {
		return nil
	}
	if err := r.tx.Commit().Error; err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	r.tx = nil
	return nil
}

// Refresh reloads a task's mutable columns from storage.
func (r *jobRepository) Refresh(ctx context.Context, t *task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, err := r.session(ctx)
	if err != nil {
		return err
	}
	var fresh task.Task
	if err := tx.Where("id = ?", t.ID).First(&fresh).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("task %s: %w", t.ID, pkgerrors.ErrNotFound)
		}
		return err
	}
	t.Status = fresh.Status
	t.Error = fresh.Error
	t.Input = fresh.Input
	t.Output = fresh.Output
	t.StartedAt = fresh.StartedAt
	t.FinishedAt = fresh.FinishedAt
	t.UpdatedAt = fresh.UpdatedAt
	return nil
}
