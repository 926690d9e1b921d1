package reactive

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lounis13/taskflow/internal/domain/task"
	pkgerrors "github.com/lounis13/taskflow/internal/pkg/errors"
	"github.com/lounis13/taskflow/internal/pkg/logger"
)

func testLogger() *logger.Logger {
	return &logger.Logger{SugaredLogger: zap.NewNop().Sugar()}
}

type commitRecord struct {
	TaskID uuid.UUID
	Name   string
	Status task.Status
}

// memoryRepo is an in-memory JobRepository that records every flushed status
// so tests can assert on the durable transition log.
type memoryRepo struct {
	mu     sync.Mutex
	root   *task.Task
	tasks  map[uuid.UUID]*task.Task
	staged map[uuid.UUID]*task.Task

	commitLog []commitRecord

	flushing   atomic.Bool
	overlapped atomic.Bool
	failFlush  atomic.Bool
}

func newMemoryRepo(root *task.Task) *memoryRepo {
	r := &memoryRepo{
		root:   root,
		tasks:  make(map[uuid.UUID]*task.Task),
		staged: make(map[uuid.UUID]*task.Task),
	}
	var walk func(t *task.Task)
	walk = func(t *task.Task) {
		r.tasks[t.ID] = t
		for _, c := range t.Children {
			walk(c)
		}
	}
	walk(root)
	return r
}

func (r *memoryRepo) Get(ctx context.Context, jobID uuid.UUID, loadGraph bool) (*task.Task, error) {
	if jobID != r.root.ID {
		return nil, fmt.Errorf("job %s: %w", jobID, pkgerrors.ErrNotFound)
	}
	return r.root, nil
}

func (r *memoryRepo) GetTask(ctx context.Context, taskID uuid.UUID) (*task.Task, error) {
	t, ok := r.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, pkgerrors.ErrNotFound)
	}
	return t, nil
}

func (r *memoryRepo) GetAll(ctx context.Context, loadGraph bool) ([]*task.Task, error) {
	return []*task.Task{r.root}, nil
}

func (r *memoryRepo) Add(ctx context.Context, root *task.Task) error {
	return nil
}

func (r *memoryRepo) Stage(t *task.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staged[t.ID] = t
}

func (r *memoryRepo) Flush(ctx context.Context) error {
	if !r.flushing.CompareAndSwap(false, true) {
		r.overlapped.Store(true)
	}
	defer r.flushing.Store(false)
	if r.failFlush.Load() {
		return fmt.Errorf("flush rejected")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.staged {
		r.commitLog = append(r.commitLog, commitRecord{TaskID: t.ID, Name: t.Name, Status: t.Status})
		delete(r.staged, id)
	}
	return nil
}

func (r *memoryRepo) Commit(ctx context.Context) error { return nil }

func (r *memoryRepo) Refresh(ctx context.Context, t *task.Task) error { return nil }

func (r *memoryRepo) statusCounts(taskID uuid.UUID) map[task.Status]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[task.Status]int{}
	for _, rec := range r.commitLog {
		if rec.TaskID == taskID {
			counts[rec.Status]++
		}
	}
	return counts
}

func testEngine(tb testing.TB, repo *memoryRepo, actions *task.ActionRegistry, mappers *task.MapperRegistry) *Engine {
	tb.Helper()
	return NewEngine(repo, actions, mappers, repo.root.ID, Config{RetrySettleDelay: 5 * time.Millisecond}, testLogger())
}

func runEngine(tb testing.TB, e *Engine) {
	tb.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Run(ctx); err != nil {
		tb.Fatalf("engine run: %v", err)
	}
}

func mustAddChild(tb testing.TB, job *task.Task, children ...*task.Task) {
	tb.Helper()
	if err := job.AddChild(children...); err != nil {
		tb.Fatalf("AddChild: %v", err)
	}
}

func mustAddUpstream(tb testing.TB, t *task.Task, ups []*task.Task, opts ...task.DependencyOption) {
	tb.Helper()
	if err := t.AddUpstream(ups, opts...); err != nil {
		tb.Fatalf("AddUpstream: %v", err)
	}
}

func assertFinal(tb testing.TB, t *task.Task, want task.Status) {
	tb.Helper()
	if t.Status != want {
		tb.Fatalf("task %s: status = %s, want %s", t.Name, t.Status, want)
	}
	if !want.IsFinal() {
		return
	}
	if t.FinishedAt == nil {
		tb.Fatalf("task %s: finished_at not set", t.Name)
	}
	if t.StartedAt != nil && t.StartedAt.After(*t.FinishedAt) {
		tb.Fatalf("task %s: started_at %v after finished_at %v", t.Name, t.StartedAt, t.FinishedAt)
	}
}
