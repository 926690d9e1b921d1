package reactive

import (
	"context"

	"github.com/lounis13/taskflow/internal/domain/task"
)

// JobNode composes child nodes. It has no action of its own: its status is a
// pure fold of its children's statuses, and its subject is the start trigger
// its upstream-less children listen to.
type JobNode struct {
	*TaskNode
	children []node

	// triggerOut carries the classified start events. For a sub-job the
	// handler combine only fires once the trigger has emitted at least once;
	// the root's trigger is primed, so its combine is never gated.
	triggerOut *Subject[Event]
	triggerBox chan []Event
}

func newJobNode(t *task.Task) *JobNode {
	return &JobNode{
		TaskNode:   newTaskNode(t),
		triggerBox: make(chan []Event, mailboxSize),
	}
}

func (n *JobNode) setChildren(children []node) { n.children = children }

func (n *JobNode) wire(ctx context.Context) {
	n.wireTrigger(ctx)

	sources := make([]*Subject[Event], 0, len(n.children)+1)
	sources = append(sources, n.triggerOut)
	for _, child := range n.children {
		sources = append(sources, child.Out())
	}
	n.subs = append(n.subs, CombineLatest(sources, n.enqueue(n.mailbox)))

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.consume(n.mailbox, func(events []Event) {
			// Drop the trigger element; only child events feed the fold.
			n.out.Next(n.handleChildren(ctx, events[1:]))
		})
	}()
}

// wireTrigger builds the job's start stream. The engine starts a root job
// directly via Start; a sub-job is started by its parent's subject or, when it
// has upstream producers, by the combination of their out streams.
func (n *JobNode) wireTrigger(ctx context.Context) {
	if n.parent == nil && len(n.upstream) == 0 {
		// Root job: a constant trigger so the handler combine is never gated.
		n.triggerOut = NewBehaviorSubject(Event{Task: n.task, Type: EventNone})
		return
	}

	n.triggerOut = NewSubject[Event]()
	var sources []*Subject[Event]
	if len(n.upstream) == 0 {
		sources = []*Subject[Event]{n.parent.SubjectRef()}
	} else {
		for _, up := range n.upstream {
			sources = append(sources, up.Out())
		}
	}
	n.subs = append(n.subs, CombineLatest(sources, n.enqueue(n.triggerBox)))

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.consume(n.triggerBox, func(events []Event) {
			n.triggerOut.Next(n.startSubJob(ctx, events))
		})
	}()
}

// startSubJob classifies the incoming upstream/parent events and publishes the
// corresponding event on the job's own subject, which cascades to its
// children. No user code runs here.
func (n *JobNode) startSubJob(ctx context.Context, events []Event) Event {
	n.deps.log.Debug("job trigger", "job", n.task.Name, "events", eventTypes(events))

	if isRetry(events) {
		if err := n.setStatus(ctx, task.StatusReadyToRetry, ""); err != nil {
			return n.failTask(ctx, err)
		}
		return n.publish(EventRetry)
	}
	if isSetup(events) || !n.task.IsRunnable() {
		return n.publish(EventSetup)
	}

	if err := n.refreshInput(ctx); err != nil {
		return n.failTask(ctx, err)
	}
	if err := n.markStarted(ctx); err != nil {
		return n.failTask(ctx, err)
	}
	return n.publish(EventRun)
}

func (n *JobNode) publish(t EventType) Event {
	ev := Event{Task: n.task, Type: t}
	n.subject.Next(ev)
	return ev
}

func (n *JobNode) markStarted(ctx context.Context) error {
	n.deps.lock.Lock()
	defer n.deps.lock.Unlock()
	n.task.Start()
	return n.deps.onChange(ctx, n.task)
}

// handleChildren folds the children's statuses into the job status, stamps
// finished_at and the aggregated output when the fold turns final, and relays
// RETRY / SETUP / RUN to the job's own observers.
func (n *JobNode) handleChildren(ctx context.Context, events []Event) Event {
	n.deps.log.Debug("job node handling child events", "job", n.task.Name, "events", eventTypes(events))

	statuses := make([]task.Status, 0, len(events))
	for _, ev := range events {
		statuses = append(statuses, ev.Task.Status)
	}
	folded := task.ComputeStatus(statuses)

	if err := n.applyFold(ctx, folded); err != nil {
		return n.failTask(ctx, err)
	}

	switch {
	case isRetry(events):
		return Event{Task: n.task, Type: EventRetry}
	case isSetup(events):
		return Event{Task: n.task, Type: EventSetup}
	default:
		return Event{Task: n.task, Type: EventRun}
	}
}

func (n *JobNode) applyFold(ctx context.Context, folded task.Status) error {
	n.deps.lock.Lock()
	defer n.deps.lock.Unlock()
	if n.task.Status == folded {
		return nil
	}
	if folded.IsFinal() {
		n.task.Finish()
		if err := n.task.SetOutput(n.childOutputs()); err != nil {
			return err
		}
	} else if n.task.FinishedAt != nil {
		n.task.FinishedAt = nil
	}
	n.task.Status = folded
	n.deps.log.Debug("job status changed", "job", n.task.Name, "status", folded)
	return n.deps.onChange(ctx, n.task)
}

// childOutputs assembles the job's observable output: the list of its
// children's outputs in declaration order.
func (n *JobNode) childOutputs() []any {
	outs := make([]any, 0, len(n.children))
	for _, child := range n.children {
		v, err := child.Task().OutputValue()
		if err != nil {
			v = nil
		}
		outs = append(outs, v)
	}
	return outs
}

// Start stamps and commits the root job's start, then publishes the initial
// RUN event. A failed start commit is logged and the RUN event still goes out:
// a persistent repository failure then surfaces through the first task handler
// whose commit fails, which marks that task FAILED.
func (n *JobNode) Start(ctx context.Context) {
	n.deps.log.Info("starting job", "job", n.task.Name)
	if err := n.markStarted(ctx); err != nil {
		n.deps.log.Warn("commit of job start failed", "job", n.task.Name, "error", err)
	}
	n.publish(EventRun)
}
