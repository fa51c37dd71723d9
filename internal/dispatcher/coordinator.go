package dispatcher

import (
	"sync"

	"github.com/JakeFAU/family-crawler/internal/crawler"
)

// Outcome is the result of one Poll.
type Outcome int

// Poll outcomes.
const (
	// OutcomeWork means an item was dequeued and the worker is now ACTIVE.
	OutcomeWork Outcome = iota
	// OutcomeEmpty means nothing was available; the caller should back off.
	OutcomeEmpty
	// OutcomeDone means every worker is idle and no more work can appear.
	OutcomeDone
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWork:
		return "work"
	case OutcomeEmpty:
		return "empty"
	case OutcomeDone:
		return "done"
	default:
		return "unknown"
	}
}

// Source is a non-blocking work source.
type Source[T any] interface {
	TryPop() (T, bool)
}

// Coordinator implements idle consensus for a fixed set of workers sharing a
// source. Each worker owns one state slot; idle always equals the number of
// slots in StateIdle. Completion is declared once every slot is idle while
// the coordinator is armed, and stays declared.
type Coordinator struct {
	mu       sync.Mutex
	states   []crawler.WorkerState
	idle     int
	armed    bool
	done     bool
	observer func(idle, workers int)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithObserver registers a callback invoked (under the coordinator lock)
// whenever the idle count changes.
func WithObserver(fn func(idle, workers int)) Option {
	return func(c *Coordinator) {
		c.observer = fn
	}
}

// NewCoordinator builds a coordinator for n workers. An unarmed coordinator
// never marks workers idle and never declares completion until Arm is called.
func NewCoordinator(n int, armed bool, opts ...Option) *Coordinator {
	if n < 1 {
		n = 1
	}
	c := &Coordinator{
		states: make([]crawler.WorkerState, n),
		armed:  armed,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Poll pops from src on behalf of worker id. Dequeue and the IDLE→ACTIVE
// transition happen under the same lock as the termination check, so
// completion can never be observed while a dequeued item is unowned.
func Poll[T any](c *Coordinator, id int, src Source[T]) (T, Outcome) {
	var zero T
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return zero, OutcomeDone
	}
	if item, ok := src.TryPop(); ok {
		c.activateLocked(id)
		return item, OutcomeWork
	}
	if !c.armed {
		return zero, OutcomeEmpty
	}
	c.idleLocked(id)
	if c.idle == len(c.states) {
		c.done = true
		return zero, OutcomeDone
	}
	return zero, OutcomeEmpty
}

// Arm enables idle transitions and completion.
func (c *Coordinator) Arm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armed = true
}

// Workers returns the number of slots.
func (c *Coordinator) Workers() int {
	return len(c.states)
}

// IdleCount returns the number of idle workers.
func (c *Coordinator) IdleCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idle
}

// State returns the state of worker id.
func (c *Coordinator) State(id int) crawler.WorkerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[id]
}

// Done reports whether completion has been declared.
func (c *Coordinator) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Coordinator) activateLocked(id int) {
	switch c.states[id] {
	case crawler.StateActive:
		return
	case crawler.StateIdle:
		c.idle--
		c.notifyLocked()
	}
	c.states[id] = crawler.StateActive
}

func (c *Coordinator) idleLocked(id int) {
	if c.states[id] == crawler.StateIdle {
		return
	}
	c.states[id] = crawler.StateIdle
	c.idle++
	c.notifyLocked()
}

func (c *Coordinator) notifyLocked() {
	if c.observer != nil {
		c.observer(c.idle, len(c.states))
	}
}
