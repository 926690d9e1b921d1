package reactive

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	jobsrepo "github.com/lounis13/taskflow/internal/data/repos/jobs"
	"github.com/lounis13/taskflow/internal/domain/task"
	"github.com/lounis13/taskflow/internal/pkg/logger"
)

// Config carries the engine's tunables.
type Config struct {
	// RetrySettleDelay paces the two emissions of a targeted retry so the
	// graph quiesces between the RETRY wave and the RUN wave.
	RetrySettleDelay time.Duration
}

func DefaultConfig() Config {
	return Config{RetrySettleDelay: 2 * time.Second}
}

// Engine drives one persisted job through its reactive graph: it loads the
// graph, wires the nodes, fires the initial event, commits every transition
// through the repository, and terminates when the root reaches a final status.
type Engine struct {
	repo    jobsrepo.JobRepository
	actions *task.ActionRegistry
	mappers *task.MapperRegistry
	jobID   uuid.UUID
	cfg     Config
	log     *logger.Logger

	onEvent func(Event)

	// mu serialises every task mutation and commit within this job.
	mu      sync.Mutex
	running atomic.Bool

	doneOnce sync.Once
	done     chan struct{}
	runErr   error
}

// EngineOption customises an engine at construction.
type EngineOption func(*Engine)

// WithEventObserver registers a callback invoked for every event observed on
// the root job's stream (used to fan job progress out to notifiers).
func WithEventObserver(fn func(Event)) EngineOption {
	return func(e *Engine) { e.onEvent = fn }
}

func NewEngine(repo jobsrepo.JobRepository, actions *task.ActionRegistry, mappers *task.MapperRegistry, jobID uuid.UUID, cfg Config, log *logger.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		repo:    repo,
		actions: actions,
		mappers: mappers,
		jobID:   jobID,
		cfg:     cfg,
		log:     log.With("component", "ReactiveEngine", "job_id", jobID.String()),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the job from its persisted state until the root is final.
func (e *Engine) Run(ctx context.Context) error {
	return e.drive(ctx, func(ctx context.Context, g *Graph) error {
		g.Root().Start(ctx)
		return nil
	})
}

// Retry reopens one finished task of the job and waits for the graph to
// converge again. The RETRY wave propagates upward through status folding and
// downward through the subject chain to the task's descendants.
func (e *Engine) Retry(ctx context.Context, taskID uuid.UUID) error {
	return e.drive(ctx, func(ctx context.Context, g *Graph) error {
		if _, err := e.repo.GetTask(ctx, taskID); err != nil {
			return fmt.Errorf("load retry target: %w", err)
		}
		n := g.Node(taskID)
		if n == nil {
			return fmt.Errorf("task %s does not belong to job %s", taskID, e.jobID)
		}
		go n.Retry(ctx)
		return nil
	})
}

func (e *Engine) drive(ctx context.Context, kickoff func(context.Context, *Graph) error) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("engine for job %s is already running", e.jobID)
	}
	defer e.running.Store(false)
	e.done = make(chan struct{})
	e.doneOnce = sync.Once{}
	e.runErr = nil

	root, err := e.repo.Get(ctx, e.jobID, true)
	if err != nil {
		return fmt.Errorf("load job %s: %w", e.jobID, err)
	}
	graph, err := Build(root, &nodeDeps{
		lock:     &e.mu,
		onChange: e.commitTask,
		actions:  e.actions,
		mappers:  e.mappers,
		settle:   e.cfg.RetrySettleDelay,
		log:      e.log,
		fail:     e.fail,
	})
	if err != nil {
		return fmt.Errorf("build reactive graph: %w", err)
	}

	sub := graph.Root().Out().Subscribe(e.observeRoot)
	defer func() {
		sub.Unsubscribe()
		graph.Stop()
	}()

	graph.Wire(ctx)
	if err := kickoff(ctx, graph); err != nil {
		return err
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return e.runErr
}

func (e *Engine) observeRoot(ev Event) {
	e.log.Debug("root event", "event", ev.Type, "status", ev.Task.Status)
	if e.onEvent != nil {
		e.onEvent(ev)
	}
	if ev.Task.IsFinished() && ev.Type == EventRun {
		e.log.Info("job completed", "status", ev.Task.Status)
		e.signalDone(nil)
	}
}

// fail terminates the run on an error the graph could not absorb as a task
// transition (the stream-error path).
func (e *Engine) fail(err error) {
	e.log.Error("job stream error", "error", err)
	e.signalDone(err)
}

func (e *Engine) signalDone(err error) {
	e.doneOnce.Do(func() {
		e.runErr = err
		close(e.done)
	})
}

// commitTask is the on-change callback injected into every node: stage the
// mutated task, then flush and commit so the transition is durable before the
// graph proceeds.
func (e *Engine) commitTask(ctx context.Context, t *task.Task) error {
	e.repo.Stage(t)
	if err := e.repo.Flush(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", t.Name, err)
	}
	if err := e.repo.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", t.Name, err)
	}
	return nil
}

// EngineRegistry guards against two concurrent run/retry calls for one job
// producing two engines: the second caller reuses the first engine.
type EngineRegistry struct {
	mu      sync.Mutex
	engines map[uuid.UUID]*Engine
}

func NewEngineRegistry() *EngineRegistry {
	return &EngineRegistry{engines: make(map[uuid.UUID]*Engine)}
}

// GetOrCreate returns the active engine for the job, creating one with the
// factory when absent.
func (r *EngineRegistry) GetOrCreate(jobID uuid.UUID, factory func() *Engine) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[jobID]; ok {
		return e
	}
	e := factory()
	r.engines[jobID] = e
	return e
}

func (r *EngineRegistry) Get(jobID uuid.UUID) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[jobID]
	return e, ok
}

func (r *EngineRegistry) Delete(jobID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, jobID)
}
