package reactive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lounis13/taskflow/internal/domain/task"
	"github.com/lounis13/taskflow/internal/pkg/logger"
)

const mailboxSize = 256

// nodeDeps is everything the engine injects into a node: the job-wide lock,
// the commit callback, the registries, and the error sink for failures that
// cannot be expressed as a task transition.
type nodeDeps struct {
	lock     *sync.Mutex
	onChange func(ctx context.Context, t *task.Task) error
	actions  *task.ActionRegistry
	mappers  *task.MapperRegistry
	settle   time.Duration
	log      *logger.Logger
	fail     func(err error)
}

// node is the common surface of leaf and job nodes inside a wired graph.
type node interface {
	Task() *task.Task
	// SubjectRef is the node's own event subject (self events: NONE initial,
	// RETRY/RUN during targeted retries, job start triggers).
	SubjectRef() *Subject[Event]
	// Out carries the node's handler results; downstream nodes and parents
	// combine over it.
	Out() *Subject[Event]
	setLinks(parent node, upstream []node)
	setDeps(deps *nodeDeps)
	wire(ctx context.Context)
	// Retry reopens a finished node: READY_TO_RETRY, a RETRY emission for the
	// descendants, then a RUN emission to re-execute.
	Retry(ctx context.Context)
	stop()
}

// TaskNode drives one leaf task through its state machine. Its input stream is
// the combination of its own subject with either its parent's subject (when it
// has no upstream) or the out streams of its upstream nodes.
type TaskNode struct {
	task     *task.Task
	subject  *Subject[Event]
	out      *Subject[Event]
	parent   node
	upstream []node

	deps    *nodeDeps
	mailbox chan []Event
	quit    chan struct{}
	subs    []*Subscription
	wg      sync.WaitGroup
}

func newTaskNode(t *task.Task) *TaskNode {
	return &TaskNode{
		task:    t,
		subject: NewBehaviorSubject(Event{Task: t, Type: EventNone}),
		out:     NewSubject[Event](),
		mailbox: make(chan []Event, mailboxSize),
		quit:    make(chan struct{}),
	}
}

func (n *TaskNode) Task() *task.Task            { return n.task }
func (n *TaskNode) SubjectRef() *Subject[Event] { return n.subject }
func (n *TaskNode) Out() *Subject[Event]        { return n.out }

func (n *TaskNode) setLinks(parent node, upstream []node) {
	n.parent = parent
	n.upstream = upstream
}

func (n *TaskNode) setDeps(deps *nodeDeps) { n.deps = deps }

func (n *TaskNode) wire(ctx context.Context) {
	sources := []*Subject[Event]{n.subject}
	if len(n.upstream) == 0 {
		if n.parent != nil {
			sources = append(sources, n.parent.SubjectRef())
		}
	} else {
		for _, up := range n.upstream {
			sources = append(sources, up.Out())
		}
	}
	n.subs = append(n.subs, CombineLatest(sources, n.enqueue(n.mailbox)))

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.consume(n.mailbox, func(events []Event) {
			n.out.Next(n.handle(ctx, events))
		})
	}()
}

// consume drains a mailbox in arrival order. On shutdown the pending backlog
// is still processed so in-flight work reaches a final state before teardown.
func (n *TaskNode) consume(box chan []Event, process func([]Event)) {
	for {
		select {
		case events := <-box:
			process(events)
		case <-n.quit:
			for {
				select {
				case events := <-box:
					process(events)
				default:
					return
				}
			}
		}
	}
}

func (n *TaskNode) enqueue(box chan []Event) func([]Event) {
	return func(events []Event) {
		select {
		case box <- events:
		default:
			select {
			case box <- events:
			case <-n.quit:
			}
		}
	}
}

// handle implements the leaf handler contract: a quiescent SETUP pass, a RETRY
// reopening, or an execution attempt guarded by the runnable predicate.
func (n *TaskNode) handle(ctx context.Context, events []Event) Event {
	n.deps.log.Debug("task node handling events", "task", n.task.Name, "events", eventTypes(events))

	if isSetup(events) {
		return Event{Task: n.task, Type: EventSetup}
	}
	if isRetry(events) && n.subject.Value().Type != EventRun {
		if err := n.setStatus(ctx, task.StatusReadyToRetry, ""); err != nil {
			return n.failTask(ctx, err)
		}
		return Event{Task: n.task, Type: EventRetry}
	}
	if n.task.IsRunnable() {
		if err := n.execute(ctx); err != nil {
			return n.failTask(ctx, err)
		}
	}
	return Event{Task: n.task, Type: EventRun}
}

// execute refreshes the merged input, runs the action outside the lock, then
// records output + SUCCESS. Every mutation is committed before the next step.
func (n *TaskNode) execute(ctx context.Context) error {
	if err := n.refreshInput(ctx); err != nil {
		return err
	}
	if err := n.markRunning(ctx); err != nil {
		return err
	}

	action, ok := n.deps.actions.Get(n.task.Kind)
	if !ok {
		return fmt.Errorf("no action registered for kind %q", n.task.Kind)
	}
	output, err := runAction(ctx, action, n.task)
	if err != nil {
		return err
	}

	return n.markSucceeded(ctx, output)
}

func runAction(ctx context.Context, action task.ActionFunc, t *task.Task) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action for %s panicked: %v", t.Name, r)
		}
	}()
	return action(ctx, t)
}

func (n *TaskNode) refreshInput(ctx context.Context) error {
	n.deps.lock.Lock()
	defer n.deps.lock.Unlock()
	if err := task.PrepareInput(n.task, n.deps.mappers); err != nil {
		return err
	}
	return n.deps.onChange(ctx, n.task)
}

func (n *TaskNode) markRunning(ctx context.Context) error {
	n.deps.lock.Lock()
	defer n.deps.lock.Unlock()
	n.task.Status = task.StatusRunning
	n.task.Error = ""
	n.task.Start()
	n.deps.log.Debug("task running", "task", n.task.Name)
	return n.deps.onChange(ctx, n.task)
}

func (n *TaskNode) markSucceeded(ctx context.Context, output any) error {
	n.deps.lock.Lock()
	defer n.deps.lock.Unlock()
	if err := n.task.SetOutput(output); err != nil {
		return err
	}
	n.task.Status = task.StatusSuccess
	n.task.Finish()
	n.deps.log.Debug("task succeeded", "task", n.task.Name)
	return n.deps.onChange(ctx, n.task)
}

// setStatus commits a bare status change; no-op when the status is unchanged.
func (n *TaskNode) setStatus(ctx context.Context, status task.Status, errMsg string) error {
	n.deps.lock.Lock()
	defer n.deps.lock.Unlock()
	if n.task.Status == status && n.task.Error == errMsg {
		return nil
	}
	n.task.Status = status
	n.task.Error = errMsg
	if !status.IsFinal() && n.task.FinishedAt != nil {
		n.task.FinishedAt = nil
	}
	n.deps.log.Debug("task status changed", "task", n.task.Name, "status", status)
	return n.deps.onChange(ctx, n.task)
}

// failTask records a failure on the task. If even that commit fails the error
// is surfaced to the engine, mirroring a stream error.
func (n *TaskNode) failTask(ctx context.Context, cause error) Event {
	n.deps.log.Warn("task failed", "task", n.task.Name, "error", cause)
	n.deps.lock.Lock()
	n.task.Status = task.StatusFailed
	n.task.Error = cause.Error()
	n.task.Finish()
	err := n.deps.onChange(ctx, n.task)
	n.deps.lock.Unlock()
	if err != nil {
		n.deps.fail(fmt.Errorf("commit failure state of %s: %w", n.task.Name, err))
	}
	return Event{Task: n.task, Type: EventFailed}
}

func (n *TaskNode) Retry(ctx context.Context) {
	n.settle(ctx)
	n.deps.log.Info("retrying task", "task", n.task.Name)
	if err := n.setStatus(ctx, task.StatusReadyToRetry, ""); err != nil {
		n.deps.fail(err)
		return
	}
	n.subject.Next(Event{Task: n.task, Type: EventRetry})
	n.settle(ctx)
	n.subject.Next(Event{Task: n.task, Type: EventRun})
}

// settle paces retry emissions so observers of the previous wave quiesce
// before the next one.
func (n *TaskNode) settle(ctx context.Context) {
	if n.deps.settle <= 0 {
		return
	}
	select {
	case <-time.After(n.deps.settle):
	case <-ctx.Done():
	}
}

func (n *TaskNode) stop() {
	for _, sub := range n.subs {
		sub.Unsubscribe()
	}
	close(n.quit)
	n.wg.Wait()
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}
