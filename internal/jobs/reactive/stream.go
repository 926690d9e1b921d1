package reactive

import (
	"sync"
)

// A minimal behavior-subject + combine-latest implementation, just enough for
// the execution graph: each node holds one "latest event" per input and
// recomputes whenever any of them changes.

// Subscription detaches a subscriber from its source.
type Subscription struct {
	once   sync.Once
	cancel func()
}

func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Subject is a multicast stream of values that remembers the latest one: a
// subscriber attaching after an emission is immediately brought up to date.
// That keeps graph wiring order-insensitive — a combine over node outputs
// observes "the latest event per input" no matter when it attaches. A behavior
// subject additionally starts with an initial value.
type Subject[T any] struct {
	mu       sync.Mutex
	subs     map[int]func(T)
	nextID   int
	value    T
	hasValue bool
}

// NewSubject returns a subject with no current value; subscribers see the
// first value published after it exists.
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{subs: make(map[int]func(T))}
}

// NewBehaviorSubject returns a subject primed with an initial value that is
// replayed to every new subscriber.
func NewBehaviorSubject[T any](initial T) *Subject[T] {
	s := NewSubject[T]()
	s.value = initial
	s.hasValue = true
	return s
}

// Next publishes v to all current subscribers and records it as the latest
// value. Subscriber callbacks run on the caller's goroutine, outside the
// subject lock.
func (s *Subject[T]) Next(v T) {
	s.mu.Lock()
	s.value = v
	s.hasValue = true
	fns := make([]func(T), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// Value returns the latest published value (zero value if none yet).
func (s *Subject[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Subscribe attaches fn. If the subject already has a value it is delivered
// immediately on the subscribing goroutine.
func (s *Subject[T]) Subscribe(fn func(T)) *Subscription {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	replay := s.hasValue
	current := s.value
	s.mu.Unlock()

	if replay {
		fn(current)
	}
	return &Subscription{cancel: func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}}
}

// CombineLatest subscribes to every source and invokes fn with a snapshot of
// the latest value per source each time any source emits, once all sources
// have emitted at least once. The snapshot preserves source order.
func CombineLatest[T any](sources []*Subject[T], fn func([]T)) *Subscription {
	state := &combineState[T]{
		latest: make([]T, len(sources)),
		seen:   make([]bool, len(sources)),
		fn:     fn,
	}
	subs := make([]*Subscription, 0, len(sources))
	for i, src := range sources {
		idx := i
		subs = append(subs, src.Subscribe(func(v T) {
			state.emit(idx, v)
		}))
	}
	return &Subscription{cancel: func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}}
}

type combineState[T any] struct {
	mu     sync.Mutex
	latest []T
	seen   []bool
	ready  int
	fn     func([]T)
}

// emit records the latest value for one source and, once every source has
// emitted, delivers a snapshot. Delivery happens under the combine lock so
// snapshots arrive in capture order; fn must hand off quickly (the nodes
// enqueue into a mailbox).
func (c *combineState[T]) emit(i int, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest[i] = v
	if !c.seen[i] {
		c.seen[i] = true
		c.ready++
	}
	if c.ready < len(c.latest) {
		return
	}
	snapshot := make([]T, len(c.latest))
	copy(snapshot, c.latest)
	c.fn(snapshot)
}
