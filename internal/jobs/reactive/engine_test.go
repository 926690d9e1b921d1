package reactive

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lounis13/taskflow/internal/domain/task"
)

func registerStatic(tb testing.TB, actions *task.ActionRegistry, kind string, output any) {
	tb.Helper()
	if err := actions.Register(kind, func(ctx context.Context, t *task.Task) (any, error) {
		return output, nil
	}); err != nil {
		tb.Fatalf("register %s: %v", kind, err)
	}
}

func TestTwoTaskChain(t *testing.T) {
	actions := task.NewActionRegistry()
	registerStatic(t, actions, "test.produce", map[string]any{"v": 1})
	if err := actions.Register("test.consume", func(ctx context.Context, tk *task.Task) (any, error) {
		return tk.InputValue()
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	job := task.NewJob("test.job", "J")
	a := task.New("test.produce", "A")
	b := task.New("test.consume", "B")
	mustAddChild(t, job, a, b)
	mustAddUpstream(t, b, []*task.Task{a})

	repo := newMemoryRepo(job)
	runEngine(t, testEngine(t, repo, actions, task.NewMapperRegistry()))

	assertFinal(t, a, task.StatusSuccess)
	assertFinal(t, b, task.StatusSuccess)
	assertFinal(t, job, task.StatusSuccess)

	aOut, err := a.OutputValue()
	if err != nil {
		t.Fatalf("OutputValue: %v", err)
	}
	want := map[string]any{"v": float64(1)}
	if !reflect.DeepEqual(aOut, want) {
		t.Fatalf("A output = %v, want %v", aOut, want)
	}
	bIn, err := b.InputValue()
	if err != nil {
		t.Fatalf("InputValue: %v", err)
	}
	if !reflect.DeepEqual(bIn, want) {
		t.Fatalf("B input = %v, want %v", bIn, want)
	}

	// Job status equals the fold of its children at termination.
	folded := task.ComputeStatus([]task.Status{a.Status, b.Status})
	if job.Status != folded {
		t.Fatalf("job status %s != computed %s", job.Status, folded)
	}
}

func TestFanInWithCustomMapper(t *testing.T) {
	actions := task.NewActionRegistry()
	registerStatic(t, actions, "test.a", map[string]any{"k": "a"})
	registerStatic(t, actions, "test.b", map[string]any{"k": "b"})
	if err := actions.Register("test.c", func(ctx context.Context, tk *task.Task) (any, error) {
		return tk.InputValue()
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	mappers := task.NewMapperRegistry()
	if err := mappers.Register("pick_first", func(outputs []any) (any, error) {
		return outputs[0], nil
	}); err != nil {
		t.Fatalf("register mapper: %v", err)
	}

	job := task.NewJob("test.job", "J")
	a := task.New("test.a", "A")
	b := task.New("test.b", "B")
	c := task.New("test.c", "C")
	mustAddChild(t, job, a, b, c)
	mustAddUpstream(t, c, []*task.Task{a, b},
		task.WithMergeStrategy(task.MergeCustom),
		task.WithMapper("tests", "pick_first"),
	)

	repo := newMemoryRepo(job)
	runEngine(t, testEngine(t, repo, actions, mappers))

	assertFinal(t, a, task.StatusSuccess)
	assertFinal(t, b, task.StatusSuccess)
	assertFinal(t, c, task.StatusSuccess)
	assertFinal(t, job, task.StatusSuccess)

	cIn, err := c.InputValue()
	if err != nil {
		t.Fatalf("InputValue: %v", err)
	}
	want := map[string]any{"k": "a"}
	if !reflect.DeepEqual(cIn, want) {
		t.Fatalf("C input = %v, want %v", cIn, want)
	}
}

func TestFailureIsolation(t *testing.T) {
	actions := task.NewActionRegistry()
	if err := actions.Register("test.boom", func(ctx context.Context, tk *task.Task) (any, error) {
		return nil, fmt.Errorf("exploded")
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	registerStatic(t, actions, "test.ok", map[string]any{"done": true})

	job := task.NewJob("test.job", "J")
	a := task.New("test.boom", "A")
	b := task.New("test.ok", "B")
	mustAddChild(t, job, a, b)

	repo := newMemoryRepo(job)
	runEngine(t, testEngine(t, repo, actions, task.NewMapperRegistry()))

	assertFinal(t, a, task.StatusFailed)
	if !strings.Contains(a.Error, "exploded") {
		t.Fatalf("A error = %q, want it to mention the failure", a.Error)
	}
	assertFinal(t, b, task.StatusSuccess)
	assertFinal(t, job, task.StatusFailed)
}

func TestMergeFailureFailsDownstreamTask(t *testing.T) {
	actions := task.NewActionRegistry()
	registerStatic(t, actions, "test.up", map[string]any{"v": 1})
	registerStatic(t, actions, "test.down", map[string]any{"v": 2})

	job := task.NewJob("test.job", "J")
	a := task.New("test.up", "A")
	b := task.New("test.down", "B")
	mustAddChild(t, job, a, b)
	// CUSTOM without a registered mapper is a merge failure on B.
	mustAddUpstream(t, b, []*task.Task{a},
		task.WithMergeStrategy(task.MergeCustom),
		task.WithMapper("tests", "missing"),
	)

	repo := newMemoryRepo(job)
	runEngine(t, testEngine(t, repo, actions, task.NewMapperRegistry()))

	assertFinal(t, a, task.StatusSuccess)
	assertFinal(t, b, task.StatusFailed)
	if !strings.Contains(b.Error, "missing") {
		t.Fatalf("B error = %q, want mapper lookup failure", b.Error)
	}
	assertFinal(t, job, task.StatusFailed)
}

func TestRetryPropagation(t *testing.T) {
	counts := map[string]*atomic.Int32{}
	actions := task.NewActionRegistry()
	register := func(kind, name string) {
		c := &atomic.Int32{}
		counts[name] = c
		if err := actions.Register(kind, func(ctx context.Context, tk *task.Task) (any, error) {
			c.Add(1)
			return map[string]any{"ran": name}, nil
		}); err != nil {
			t.Fatalf("register %s: %v", kind, err)
		}
	}
	register("test.build_candidate", "BuildCandidate")
	register("test.build_reference", "BuildReference")
	register("test.candidate_pricing", "CandidatePricing")
	register("test.reference_pricing", "ReferencePricing")

	job := task.NewJob("test.night_batch", "NightBatch")
	buildCandidate := task.New("test.build_candidate", "BuildCandidate")
	buildReference := task.New("test.build_reference", "BuildReference")
	candidatePricing := task.New("test.candidate_pricing", "CandidatePricing")
	referencePricing := task.New("test.reference_pricing", "ReferencePricing")
	mustAddChild(t, job, buildCandidate, buildReference, candidatePricing, referencePricing)
	mustAddUpstream(t, candidatePricing, []*task.Task{buildCandidate})
	mustAddUpstream(t, referencePricing, []*task.Task{buildReference})

	repo := newMemoryRepo(job)
	engine := testEngine(t, repo, actions, task.NewMapperRegistry())
	runEngine(t, engine)

	for name, c := range counts {
		if c.Load() != 1 {
			t.Fatalf("%s executed %d times after first run, want 1", name, c.Load())
		}
	}
	assertFinal(t, job, task.StatusSuccess)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := engine.Retry(ctx, buildCandidate.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}

	if got := counts["BuildCandidate"].Load(); got != 2 {
		t.Fatalf("BuildCandidate executed %d times, want 2", got)
	}
	if got := counts["CandidatePricing"].Load(); got != 2 {
		t.Fatalf("CandidatePricing executed %d times, want 2", got)
	}
	if got := counts["BuildReference"].Load(); got != 1 {
		t.Fatalf("BuildReference executed %d times, want 1", got)
	}
	if got := counts["ReferencePricing"].Load(); got != 1 {
		t.Fatalf("ReferencePricing executed %d times, want 1", got)
	}

	assertFinal(t, buildCandidate, task.StatusSuccess)
	assertFinal(t, candidatePricing, task.StatusSuccess)
	assertFinal(t, job, task.StatusSuccess)

	// The retried task passed through READY_TO_RETRY on its way back.
	if repo.statusCounts(buildCandidate.ID)[task.StatusReadyToRetry] == 0 {
		t.Fatalf("expected a durable READY_TO_RETRY transition for BuildCandidate")
	}
}

func TestConcurrencySafety(t *testing.T) {
	actions := task.NewActionRegistry()
	registerStatic(t, actions, "test.seed", map[string]any{"seed": true})
	if err := actions.Register("test.fan", func(ctx context.Context, tk *task.Task) (any, error) {
		time.Sleep(time.Millisecond)
		return map[string]any{"ok": true}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	job := task.NewJob("test.job", "J")
	seed := task.New("test.seed", "Seed")
	mustAddChild(t, job, seed)
	leaves := make([]*task.Task, 0, 10)
	for i := 0; i < 10; i++ {
		leaf := task.New("test.fan", fmt.Sprintf("Leaf-%d", i))
		mustAddChild(t, job, leaf)
		mustAddUpstream(t, leaf, []*task.Task{seed})
		leaves = append(leaves, leaf)
	}

	repo := newMemoryRepo(job)
	runEngine(t, testEngine(t, repo, actions, task.NewMapperRegistry()))

	if repo.overlapped.Load() {
		t.Fatalf("two flushes overlapped; the job lock must serialise commits")
	}
	for _, leaf := range leaves {
		assertFinal(t, leaf, task.StatusSuccess)
		counts := repo.statusCounts(leaf.ID)
		if counts[task.StatusRunning] != 1 {
			t.Fatalf("%s: %d RUNNING transitions, want 1", leaf.Name, counts[task.StatusRunning])
		}
		if counts[task.StatusSuccess] != 1 {
			t.Fatalf("%s: %d SUCCESS transitions, want 1", leaf.Name, counts[task.StatusSuccess])
		}
	}
	assertFinal(t, job, task.StatusSuccess)
}

func TestKindRegistryMissAbortsRun(t *testing.T) {
	actions := task.NewActionRegistry()

	job := task.NewJob("test.job", "J")
	a := task.New("test.unregistered", "A")
	mustAddChild(t, job, a)

	repo := newMemoryRepo(job)
	engine := testEngine(t, repo, actions, task.NewMapperRegistry())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := engine.Run(ctx)
	if err == nil || !strings.Contains(err.Error(), "test.unregistered") {
		t.Fatalf("expected unregistered-kind error, got %v", err)
	}
	if len(repo.commitLog) != 0 {
		t.Fatalf("expected no task state mutated, got %d commits", len(repo.commitLog))
	}
	if a.Status != task.StatusScheduled {
		t.Fatalf("task status mutated to %s", a.Status)
	}
}

func TestCommitFailureFailsTask(t *testing.T) {
	actions := task.NewActionRegistry()
	registerStatic(t, actions, "test.ok", map[string]any{"ok": true})

	job := task.NewJob("test.job", "J")
	a := task.New("test.ok", "A")
	mustAddChild(t, job, a)

	repo := newMemoryRepo(job)
	repo.failFlush.Store(true)
	engine := testEngine(t, repo, actions, task.NewMapperRegistry())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// The run terminates through the stream-error path once even the failure
	// state cannot be committed.
	if err := engine.Run(ctx); err == nil {
		t.Fatalf("expected run to surface the commit failure")
	}
	if a.Status != task.StatusFailed {
		t.Fatalf("task status = %s, want FAILED", a.Status)
	}
}

func TestRunMissingJobFails(t *testing.T) {
	actions := task.NewActionRegistry()
	job := task.NewJob("test.job", "J")
	leaf := task.New("test.x", "X")
	registerStatic(t, actions, "test.x", nil)
	mustAddChild(t, job, leaf)
	repo := newMemoryRepo(job)

	other := task.NewJob("test.job", "Other")
	engine := NewEngine(repo, actions, task.NewMapperRegistry(), other.ID, Config{}, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := engine.Run(ctx); err == nil {
		t.Fatalf("expected error for unknown job id")
	}
}

func TestEngineRegistryReusesActiveEngine(t *testing.T) {
	reg := NewEngineRegistry()
	job := task.NewJob("test.job", "J")
	repo := newMemoryRepo(job)

	calls := 0
	factory := func() *Engine {
		calls++
		return NewEngine(repo, task.NewActionRegistry(), task.NewMapperRegistry(), job.ID, Config{}, testLogger())
	}
	e1 := reg.GetOrCreate(job.ID, factory)
	e2 := reg.GetOrCreate(job.ID, factory)
	if e1 != e2 {
		t.Fatalf("expected the same engine for one job id")
	}
	if calls != 1 {
		t.Fatalf("factory called %d times, want 1", calls)
	}
	reg.Delete(job.ID)
	if _, ok := reg.Get(job.ID); ok {
		t.Fatalf("expected engine to be deregistered")
	}
}
