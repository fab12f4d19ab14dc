package loopwire

import "syscall"

// FiberWriter presents a suspending, byte-oriented write interface over a
// non-blocking descriptor, mirroring FiberReader's shape. The same
// EAGAIN/EWOULDBLOCK/EINTR retry-vs-suspend decision tree gaio's tryWrite
// uses is lifted here from one-shot completion handling into a
// suspend/resume loop driven by a *Task.
type FiberWriter struct {
	fd        int
	task      *Task
	corked    bool
	autoFlush bool
	blockHook func(Events)
}

// SetBlockHook installs a callback invoked with Writable immediately before
// the writer suspends its task waiting for the descriptor to drain — see
// FiberReader.SetBlockHook.
func (w *FiberWriter) SetBlockHook(hook func(Events)) {
	w.blockHook = hook
}

func (w *FiberWriter) suspend() error {
	if w.blockHook != nil {
		w.blockHook(Writable)
	}
	return w.task.Suspend()
}

// WriterOption configures a FiberWriter at construction.
type WriterOption func(*FiberWriter)

// WithAutoFlush causes Send to Flush automatically after a corked write
// completes.
func WithAutoFlush(enabled bool) WriterOption {
	return func(w *FiberWriter) { w.autoFlush = enabled }
}

// NewFiberWriter creates a FiberWriter over fd, suspending on task.
func NewFiberWriter(fd int, task *Task, opts ...WriterOption) *FiberWriter {
	w := &FiberWriter{fd: fd, task: task}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Send writes all of buf, suspending on EAGAIN until the descriptor becomes
// writable again. If the writer is corked and auto-flush is enabled, a
// successful Send is followed by Flush.
func (w *FiberWriter) Send(buf []byte) error {
	if failure := notifierFailure(w.task); failure != nil {
		return failure
	}
	sent := 0
	for sent < len(buf) {
		n, err := syscall.Write(w.fd, buf[sent:])
		if err == nil {
			sent += n
			continue
		}
		if err == syscall.EINTR {
			continue
		}
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			if injected := w.suspend(); injected != nil {
				return injected
			}
			if failure := notifierFailure(w.task); failure != nil {
				return failure
			}
			continue
		}
		if errno, ok := err.(syscall.Errno); ok {
			return NewErrno("Send", errno)
		}
		return NewError("Send", KindIO, err.Error())
	}
	if w.corked && w.autoFlush {
		return w.Flush()
	}
	return nil
}

// Cork enables or disables corking: while corked, the kernel delays
// transmission of small writes to coalesce them into fewer packets
// (TCP_CORK on Linux, TCP_NOPUSH on the BSD family).
func (w *FiberWriter) Cork(enable bool) error {
	if err := setCork(w.fd, enable); err != nil {
		return err
	}
	w.corked = enable
	return nil
}

// Flush forces any corked, buffered data out onto the wire immediately.
// It is a no-op when the writer is not corked.
func (w *FiberWriter) Flush() error {
	if !w.corked {
		return nil
	}
	if err := setCork(w.fd, false); err != nil {
		return err
	}
	return setCork(w.fd, true)
}

// Reset clears the corked flag without touching the socket option,
// for reuse of a FiberWriter against a fresh descriptor.
func (w *FiberWriter) Reset() {
	w.corked = false
}
