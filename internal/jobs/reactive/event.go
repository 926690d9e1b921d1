package reactive

import (
	"github.com/lounis13/taskflow/internal/domain/task"
)

// EventType classifies what a node is telling its observers.
//
// Semantics:
//   - none: initial value of a node's subject, nothing has happened
//   - setup: quiescent pass, ancestors have not asked this node to run yet
//   - start: the real execution signal
//   - retry: reopen a finished task and its descendants
//   - failed: the node's work raised
//   - finished: reserved terminal marker
type EventType string

const (
	EventNone     EventType = "none"
	EventSetup    EventType = "setup"
	EventRun      EventType = "start"
	EventRetry    EventType = "retry"
	EventFailed   EventType = "failed"
	EventFinished EventType = "finished"
)

// Event is the unit propagated through the reactive graph.
type Event struct {
	Task *task.Task
	Type EventType
}

func isSetup(events []Event) bool {
	for _, ev := range events {
		if ev.Type != EventSetup && ev.Type != EventNone {
			return false
		}
	}
	return true
}

func isRetry(events []Event) bool {
	for _, ev := range events {
		if ev.Type == EventRetry {
			return true
		}
	}
	return false
}
