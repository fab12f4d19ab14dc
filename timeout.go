package loopwire

import (
	"container/heap"
	"math"
	"time"
)

// expiryNode pairs an absolute deadline with a back-pointer to its
// registration. It lives only inside the manager's heap; one-to-one with an
// armed Registration.
type expiryNode struct {
	deadlineUs int64
	reg        *Registration
	heapIndex  int
}

// expiryHeap is a container/heap.Interface ordering nodes by deadline,
// the same "order by deadline, pop minimum" job gaio's timedHeap solves the
// same way — nothing in the ecosystem does it better for this shape.
type expiryHeap []*expiryNode

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].deadlineUs < h[j].deadlineUs }
func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *expiryHeap) Push(x any) {
	node := x.(*expiryNode)
	node.heapIndex = len(*h)
	*h = append(*h, node)
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	node := old[n-1]
	old[n-1] = nil
	node.heapIndex = -1
	*h = old[:n-1]
	return node
}

// Registration is a handle binding one client's deadline to the manager,
// exclusively owned by that client.
type Registration struct {
	manager  *TimeoutManager
	client   TimeoutClient
	node     *expiryNode
	timedOut bool
	firing   bool
}

// Armed reports whether this registration currently holds a live expiry node.
func (r *Registration) Armed() bool { return r.node != nil }

// TimedOut reports whether Timeout() has already fired on this registration.
func (r *Registration) TimedOut() bool { return r.timedOut }

// TimeoutManager owns the expiry index, hands out Registrations, and fires
// Timeout() callbacks on expiry. It keeps no opinion about how "now" advances
// or how a next-deadline timer is armed externally; those are injected so the
// Dispatcher (or a test) fully controls scheduling.
type TimeoutManager struct {
	index    expiryHeap
	now      func() int64
	onChange func(nextDeadlineUs int64, armed bool)
}

// TimeoutManagerOption configures a TimeoutManager at construction.
type TimeoutManagerOption func(*TimeoutManager)

// WithNowFunc overrides the manager's clock; primarily for tests that need
// deterministic deadlines.
func WithNowFunc(now func() int64) TimeoutManagerOption {
	return func(m *TimeoutManager) { m.now = now }
}

// WithDeadlineChangeHook installs a hook invoked whenever the minimum
// deadline changes, so a driver (the Dispatcher) can re-arm its wait against
// the new minimum.
func WithDeadlineChangeHook(hook func(nextDeadlineUs int64, armed bool)) TimeoutManagerOption {
	return func(m *TimeoutManager) { m.onChange = hook }
}

// NewTimeoutManager creates an empty TimeoutManager.
func NewTimeoutManager(opts ...TimeoutManagerOption) *TimeoutManager {
	m := &TimeoutManager{now: nowMicros}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func nowMicros() int64 { return time.Now().UnixMicro() }

// NoDeadline is the sentinel NextDeadlineUs/UsLeft return when the index is
// empty.
const NoDeadline = int64(math.MaxInt64)

// Register arms a deadline of now()+timeoutUs for client and returns its
// Registration. A zero or negative timeoutUs is ignored; the returned
// Registration is simply unarmed.
func (m *TimeoutManager) Register(client TimeoutClient, timeoutUs int64) *Registration {
	reg := &Registration{manager: m, client: client}
	if timeoutUs <= 0 {
		return reg
	}

	before := m.minDeadlineLocked()
	node := &expiryNode{deadlineUs: m.now() + timeoutUs, reg: reg}
	reg.node = node
	heap.Push(&m.index, node)
	m.notifyIfChanged(before)
	return reg
}

// Unregister removes reg's node if present. It is a no-op if reg is already
// unarmed. Calling it from inside reg's own Timeout() callback is a
// programmer error and panics with a KindInvariant Failure.
func (m *TimeoutManager) Unregister(reg *Registration) {
	if reg == nil {
		return
	}
	if reg.firing {
		invariant("TimeoutManager.Unregister", "registration unregistered itself from inside its own Timeout() callback")
	}
	if reg.node == nil {
		return
	}

	before := m.minDeadlineLocked()
	heap.Remove(&m.index, reg.node.heapIndex)
	reg.node = nil
	m.notifyIfChanged(before)
}

// Check fires Timeout() on every registration whose deadline is <= now
// (expressed in microseconds since epoch, matching Register's units).
//
// Every due node is first popped out of the heap, then — once the heap is
// back in a quiescent state — each registration's client.Timeout() is
// invoked. This avoids mutating the index while iterating it: popping
// already is the unregistration, so there is nothing left to undo
// afterwards.
func (m *TimeoutManager) Check() {
	now := m.now()
	before := m.minDeadlineLocked()

	var fired []*Registration
	for len(m.index) > 0 && m.index[0].deadlineUs <= now {
		node := heap.Pop(&m.index).(*expiryNode)
		reg := node.reg
		reg.node = nil
		reg.timedOut = true
		fired = append(fired, reg)
	}

	for _, reg := range fired {
		reg.firing = true
		reg.client.Timeout()
		reg.firing = false
	}

	m.notifyIfChanged(before)
}

// NextDeadlineUs returns the minimum armed deadline, or NoDeadline if empty.
func (m *TimeoutManager) NextDeadlineUs() int64 {
	if len(m.index) == 0 {
		return NoDeadline
	}
	return m.index[0].deadlineUs
}

// UsLeft returns max(0, next_deadline-now), or NoDeadline if empty.
func (m *TimeoutManager) UsLeft() int64 {
	next := m.NextDeadlineUs()
	if next == NoDeadline {
		return NoDeadline
	}
	left := next - m.now()
	if left < 0 {
		return 0
	}
	return left
}

func (m *TimeoutManager) minDeadlineLocked() int64 {
	if len(m.index) == 0 {
		return NoDeadline
	}
	return m.index[0].deadlineUs
}

func (m *TimeoutManager) notifyIfChanged(before int64) {
	if m.onChange == nil {
		return
	}
	after := m.minDeadlineLocked()
	if after != before {
		m.onChange(after, after != NoDeadline)
	}
}
