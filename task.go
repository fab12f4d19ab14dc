package loopwire

import (
	"fmt"

	"go.uber.org/atomic"
)

// State is a Task's position in the Fresh/Running/Suspended/Terminated
// state machine.
type State int32

const (
	StateFresh State = iota
	StateRunning
	StateSuspended
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Body is the straight-line protocol code a Task runs. It receives the Task
// itself so it can call Suspend at well-defined points.
type Body func(t *Task) error

// Task is a cooperative fiber. It is backed by one goroutine and a pair of
// unbuffered rendezvous channels rather than a real stackful coroutine: the
// goroutine IS the stack, and channel handoff IS the suspend/resume
// transition. Because the handoff channels are unbuffered, driver and body
// rendezvous one at a time by construction, which is exactly the "never
// concurrently" ownership rule a shared reader/writer pair needs.
//
// Goroutines plus channel handoff is the idiomatic Go rendering of a
// manually-coded coroutine state machine; no ecosystem library offers a
// stackful coroutine primitive to build this on instead.
type Task struct {
	fn         Body
	state      atomic.Int32
	resumeCh   chan error
	suspendCh  chan struct{}
	doneCh     chan error
	lastEvents Events
}

// NewTask creates a Fresh task running fn once started.
func NewTask(fn Body) *Task {
	t := &Task{fn: fn}
	t.state.Store(int32(StateFresh))
	t.makeChannels()
	return t
}

func (t *Task) makeChannels() {
	t.resumeCh = make(chan error)
	t.suspendCh = make(chan struct{})
	t.doneCh = make(chan error, 1)
}

// State returns the task's current state.
func (t *Task) State() State { return State(t.state.Load()) }

// SetLastEvents records the notifier event mask that triggered the Start or
// Resume call currently driving this task, so a suspended FiberReader or
// FiberWriter can tell a clean drain apart from a peer hangup or error
// reported alongside the same readiness notification. The driver (a Client's
// Handle) is expected to call this before Start/Resume; Task itself never
// inspects or acts on the mask.
func (t *Task) SetLastEvents(ev Events) { t.lastEvents = ev }

// LastEvents returns the event mask most recently recorded by
// SetLastEvents.
func (t *Task) LastEvents() Events { return t.lastEvents }

// Start launches the task's goroutine from Fresh and runs it until its first
// Suspend call or return. It panics with a KindInvariant Failure if the task
// is not Fresh.
func (t *Task) Start() (suspended bool, err error) {
	if t.State() != StateFresh {
		invariant("Task.Start", "start called on a task that is not fresh")
	}
	t.state.Store(int32(StateRunning))
	go t.run()
	return t.awaitHandoff()
}

func (t *Task) run() {
	defer func() {
		if r := recover(); r != nil {
			if fail, ok := r.(*Error); ok {
				t.finish(fail)
				return
			}
			t.finish(fmt.Errorf("task panic: %v", r))
		}
	}()
	t.finish(t.fn(t))
}

func (t *Task) finish(err error) {
	t.state.Store(int32(StateTerminated))
	t.doneCh <- err
}

func (t *Task) awaitHandoff() (suspended bool, err error) {
	select {
	case <-t.suspendCh:
		t.state.Store(int32(StateSuspended))
		return true, nil
	case e := <-t.doneCh:
		return false, e
	}
}

// Resume resumes a Suspended task with an optional injected failure
// (cancellation) and runs it until its next Suspend call or return. Resuming
// a Terminated task is a logic error (ErrTaskTerminated); resuming from any
// state other than Suspended is also an invariant violation.
func (t *Task) Resume(inject error) (suspended bool, err error) {
	switch t.State() {
	case StateTerminated:
		panic(ErrTaskTerminated)
	case StateSuspended:
	default:
		invariant("Task.Resume", "resume called on a task that is not suspended")
	}
	t.state.Store(int32(StateRunning))
	t.resumeCh <- inject
	return t.awaitHandoff()
}

// Suspend is the sole suspension primitive: it yields control to the driver
// and blocks until Resume is called, returning whatever error Resume
// injected (nil for an ordinary resume).
func (t *Task) Suspend() error {
	t.suspendCh <- struct{}{}
	return <-t.resumeCh
}

// Cancel repeatedly resumes a Suspended task with failure until it
// terminates. Go cannot reclaim a parked goroutine without an active resume
// (unlike a true stackful coroutine, whose stack the owner can simply
// free), so dropping a task and reclaiming its stack is realized here as
// resuming it with a cancellation failure until it exits on its own —
// well-behaved Body implementations check Suspend's error and return
// promptly. Cancel is a no-op if the task is already Terminated.
func (t *Task) Cancel(failure *Error) error {
	for t.State() == StateSuspended {
		suspended, err := t.Resume(failure)
		if !suspended {
			return err
		}
	}
	return nil
}

// Reset rearms a Terminated task with (optionally) a new body, returning it
// to Fresh. Resetting a task that has not terminated is an invariant
// violation.
func (t *Task) Reset(fn Body) {
	if t.State() != StateTerminated {
		invariant("Task.Reset", "reset called on a task that has not terminated")
	}
	if fn != nil {
		t.fn = fn
	}
	t.makeChannels()
	t.state.Store(int32(StateFresh))
}
