package loopwire

import (
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// registration is the Dispatcher's bookkeeping for one live Client: the one
// Client object a given fd currently belongs to, plus its optional timeout
// binding. loopwire dispatches whole-client readiness, leaving per-operation
// queuing to Task/FiberReader.
type registration struct {
	client     Client
	timeoutReg *Registration
	finalized  bool
}

// Dispatcher owns the readiness notifier, maintains the live client set,
// and runs the event loop.
type Dispatcher struct {
	poller poller
	byFD   map[int]*registration

	timeoutMgr *TimeoutManager

	deferredUnregister []*registration

	shuttingDown atomic.Bool
	liveCount    atomic.Int64

	waitCapUs int64
	logger    *zap.Logger

	eventBuf []pollerEvent
}

// DispatcherOption configures a Dispatcher at construction.
type DispatcherOption func(*Dispatcher)

// WithLogger installs a *zap.Logger for diagnostics. Defaults to
// zap.NewNop().
func WithLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithPollWaitCap bounds how long a single poller.wait call may block, even
// if no deadline is armed. A negative value (the default) means no cap.
func WithPollWaitCap(capUs int64) DispatcherOption {
	return func(d *Dispatcher) { d.waitCapUs = capUs }
}

// NewDispatcher creates a Dispatcher with its own OS readiness notifier.
func NewDispatcher(opts ...DispatcherOption) (*Dispatcher, error) {
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		poller:    p,
		byFD:      make(map[int]*registration),
		waitCapUs: -1,
		logger:    zap.NewNop(),
	}
	d.timeoutMgr = NewTimeoutManager()
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Register adds client to the live set. It is idempotent on the
// (descriptor, client) pair. If the descriptor is already registered to a
// different client, that client is silently replaced — its finalizer is
// deliberately NOT invoked — and a diagnostic is logged.
func (d *Dispatcher) Register(client Client) error {
	if d.shuttingDown.Load() {
		return ErrDispatcherClosed
	}
	fd := client.Descriptor()
	interest := client.Events() | mandatory

	if existing, ok := d.byFD[fd]; ok {
		if existing.client == client {
			return d.poller.modify(fd, interest)
		}
		d.logger.Warn("register overwrote a live client without finalizing it",
			zap.Int("fd", fd), zap.Any("oldKey", existing.client.Key()), zap.Any("newKey", client.Key()))
		d.detach(existing)
		return d.attach(client, interest)
	}
	return d.attach(client, interest)
}

func (d *Dispatcher) attach(client Client, interest Events) error {
	fd := client.Descriptor()
	if err := d.poller.add(fd, interest); err != nil {
		return err
	}
	d.byFD[fd] = &registration{client: client}
	d.liveCount.Inc()
	return nil
}

func (d *Dispatcher) detach(reg *registration) {
	fd := reg.client.Descriptor()
	_ = d.poller.remove(fd)
	if reg.timeoutReg != nil {
		if reg.timeoutReg.Armed() {
			d.timeoutMgr.Unregister(reg.timeoutReg)
		}
		reg.timeoutReg = nil
	}
	delete(d.byFD, fd)
	d.liveCount.Dec()
}

// Unregister removes client from the live set immediately and clears its
// deadline. Safe to call from inside client's own Handle. Guarantees exactly
// one Finalize call.
func (d *Dispatcher) Unregister(client Client) {
	reg, ok := d.byFD[client.Descriptor()]
	if !ok || reg.client != client || reg.finalized {
		return
	}
	d.finalize(reg)
}

func (d *Dispatcher) finalize(reg *registration) {
	d.detach(reg)
	reg.finalized = true
	reg.client.Finalize()
}

// UnregisterAfterSelect defers Unregister to the end of the current dispatch
// cycle, for use from within an external callback that has already
// invalidated the descriptor.
func (d *Dispatcher) UnregisterAfterSelect(client Client) {
	reg, ok := d.byFD[client.Descriptor()]
	if !ok || reg.client != client || reg.finalized {
		return
	}
	d.deferredUnregister = append(d.deferredUnregister, reg)
}

// SetTimeout binds a deadline (in microseconds) to client, which must
// implement TimeoutClient. Calling it on a client that does not is an
// invariant violation.
func (d *Dispatcher) SetTimeout(client Client, microseconds int64) {
	tc, ok := client.(TimeoutClient)
	if !ok {
		invariant("Dispatcher.SetTimeout", "client does not implement TimeoutClient")
	}
	reg, ok := d.byFD[client.Descriptor()]
	if !ok || reg.client != client {
		invariant("Dispatcher.SetTimeout", "client is not registered")
	}
	if reg.timeoutReg != nil {
		d.timeoutMgr.Unregister(reg.timeoutReg)
	}
	reg.timeoutReg = d.timeoutMgr.Register(tc, microseconds)
}

// ClearTimeout unbinds client's deadline, if any.
func (d *Dispatcher) ClearTimeout(client Client) {
	reg, ok := d.byFD[client.Descriptor()]
	if !ok || reg.client != client || reg.timeoutReg == nil {
		return
	}
	d.timeoutMgr.Unregister(reg.timeoutReg)
	reg.timeoutReg = nil
}

// Shutdown causes EventLoop to return at its next top-of-loop check.
func (d *Dispatcher) Shutdown() {
	d.shuttingDown.Store(true)
}

// Close finalizes every still-live client and then releases the underlying
// notifier. Finalize reports no errors, so the returned error is the
// notifier's own close error (collected with multierr), if any.
func (d *Dispatcher) Close() error {
	var err error
	for _, reg := range d.byFD {
		if !reg.finalized {
			d.finalize(reg)
		}
	}
	err = multierr.Append(err, d.poller.close())
	return err
}

// EventLoop runs until the live set is empty or Shutdown has been observed.
func (d *Dispatcher) EventLoop() error {
	for {
		if d.shuttingDown.Load() || len(d.byFD) == 0 {
			return nil
		}

		waitUs := d.computeWaitUs()
		events, err := d.poller.wait(waitUs, d.eventBuf[:0])
		if err != nil {
			return err
		}
		d.eventBuf = events

		for _, pe := range events {
			d.dispatchEvent(pe)
		}
		d.flushDeferredUnregister()
		d.timeoutMgr.Check()
	}
}

func (d *Dispatcher) computeWaitUs() int64 {
	next := d.timeoutMgr.UsLeft()
	if next == NoDeadline {
		return d.waitCapUs
	}
	if d.waitCapUs >= 0 && next > d.waitCapUs {
		return d.waitCapUs
	}
	return next
}

func (d *Dispatcher) dispatchEvent(pe pollerEvent) {
	reg, ok := d.byFD[pe.fd]
	if !ok {
		return // deferred-unregister race: skip silently
	}

	ev := pe.events
	urgent := ev&(Readable|Writable) != 0
	if ev&(Error|Hangup|InvalidHandle) != 0 && !urgent {
		d.reportErr(reg, classifyNotifierEvents(ev), ev)
		d.finalize(reg)
		return
	}

	stay := d.safeHandle(reg, ev)
	if !stay && !reg.finalized {
		d.finalize(reg)
	}
}

func (d *Dispatcher) safeHandle(reg *registration, ev Events) (stay bool) {
	defer func() {
		if r := recover(); r != nil {
			failure, ok := r.(*Error)
			if !ok {
				failure = NewError("Client.Handle", KindIO, "panic in handler")
			}
			d.reportErr(reg, failure, ev)
			stay = false
		}
	}()
	return reg.client.Handle(ev)
}

func (d *Dispatcher) reportErr(reg *registration, failure *Error, ev Events) {
	d.logger.Error("client reported failure", zap.Any("key", reg.client.Key()), zap.Error(failure))
	reg.client.Err(failure, ev)
}

func (d *Dispatcher) flushDeferredUnregister() {
	if len(d.deferredUnregister) == 0 {
		return
	}
	pending := d.deferredUnregister
	d.deferredUnregister = nil
	for _, reg := range pending {
		if !reg.finalized {
			d.finalize(reg)
		}
	}
}

func classifyNotifierEvents(ev Events) *Error {
	switch {
	case ev&InvalidHandle != 0:
		return NewError("dispatcher", KindIO, "invalid descriptor")
	case ev&Hangup != 0:
		return NewError("dispatcher", KindRemoteHangup, "descriptor hung up")
	default:
		return NewError("dispatcher", KindIO, "descriptor reported error")
	}
}

// notifierFailure reports the Failure classifyNotifierEvents would raise for
// the event mask task last recorded via SetLastEvents, or nil if that mask
// carries none of Error/Hangup/InvalidHandle. FiberReader and FiberWriter use
// this to upgrade an otherwise-ambiguous zero-length read or blocked write
// into the more specific failure the triggering notification already
// reported, rather than always assuming a clean end-of-flow.
func notifierFailure(task *Task) *Error {
	if ev := task.LastEvents(); ev&(Error|Hangup|InvalidHandle) != 0 {
		return classifyNotifierEvents(ev)
	}
	return nil
}

// LiveClientCount returns the number of currently registered clients.
func (d *Dispatcher) LiveClientCount() int64 { return d.liveCount.Load() }
