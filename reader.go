package loopwire

import (
	"syscall"
	"unsafe"
)

// FiberReader presents a suspending, byte-oriented read interface over a
// non-blocking descriptor. It is driven from inside a *Task's Body: whenever
// the underlying syscall would block, it calls Suspend and relies on its
// owning Client to Resume it once the Dispatcher reports Readable again (or
// to inject a Failure, e.g. on a bare hangup).
//
// The EAGAIN/EWOULDBLOCK/EINTR retry-vs-suspend decision tree, and the rule
// that a zero-length read with no error means end of stream, follow the same
// shape a one-shot non-blocking read loop always takes; here it is lifted
// into a suspend/resume loop driven by a *Task instead of a one-shot
// completion callback.
type FiberReader struct {
	fd        int
	task      *Task
	buf       []byte
	consumed  int
	available int
	blockHook func(Events)
}

// SetBlockHook installs a callback invoked with Readable immediately before
// the reader suspends its task waiting for more data — the same
// "notification glue" shape as TimeoutManager's deadline-change hook,
// letting an owning Client keep its interest mask in sync with what
// direction its task is actually blocked on.
func (r *FiberReader) SetBlockHook(hook func(Events)) {
	r.blockHook = hook
}

func (r *FiberReader) suspend() error {
	if r.blockHook != nil {
		r.blockHook(Readable)
	}
	return r.task.Suspend()
}

// NewFiberReader creates a FiberReader over fd with an internal buffer of
// capacity bytes, suspending on task.
func NewFiberReader(fd int, task *Task, capacity int) *FiberReader {
	if capacity <= 0 {
		panic("loopwire: FiberReader capacity must be positive")
	}
	return &FiberReader{fd: fd, task: task, buf: make([]byte, capacity)}
}

// Capacity returns the reader's internal buffer size.
func (r *FiberReader) Capacity() int { return len(r.buf) }

// Reset drops both cursors; any buffered bytes are discarded.
func (r *FiberReader) Reset() {
	r.consumed, r.available = 0, 0
}

// Receive performs one syscall read into the internal buffer's free region,
// returning the number of newly buffered bytes. It suspends (once per
// EAGAIN) until the descriptor becomes readable again.
func (r *FiberReader) Receive() (int, error) {
	if r.available == cap(r.buf) {
		if r.consumed != r.available {
			invariant("FiberReader.Receive", "buffer exhausted with unconsumed bytes still pending")
		}
		r.Reset()
	}

	for {
		n, err := syscall.Read(r.fd, r.buf[r.available:cap(r.buf)])
		if err == nil {
			if n == 0 {
				if failure := notifierFailure(r.task); failure != nil {
					return 0, failure
				}
				return 0, NewError("Receive", KindEndOfFlow, "end of stream")
			}
			r.available += n
			return n, nil
		}
		if err == syscall.EINTR {
			continue
		}
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			if injected := r.suspend(); injected != nil {
				return 0, injected
			}
			continue
		}
		if errno, ok := err.(syscall.Errno); ok {
			return 0, NewErrno("Receive", errno)
		}
		return 0, NewError("Receive", KindIO, err.Error())
	}
}

// ReadRaw fills out fully, reading directly from the descriptor (bypassing
// the internal buffer beyond whatever was already pending) and suspending
// as needed. It fails if len(out) exceeds the reader's capacity.
func (r *FiberReader) ReadRaw(out []byte) error {
	if len(out) > cap(r.buf) {
		return ErrBufferTooLarge
	}

	filled := 0
	if r.available > r.consumed {
		filled = copy(out, r.buf[r.consumed:r.available])
		r.consumed += filled
	}

	for filled < len(out) {
		n, err := syscall.Read(r.fd, out[filled:])
		if err == nil {
			if n == 0 {
				if failure := notifierFailure(r.task); failure != nil {
					return failure
				}
				return NewError("ReadRaw", KindEndOfFlow, "end of stream")
			}
			filled += n
			continue
		}
		if err == syscall.EINTR {
			continue
		}
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			if injected := r.suspend(); injected != nil {
				return injected
			}
			continue
		}
		if errno, ok := err.(syscall.Errno); ok {
			return NewErrno("ReadRaw", errno)
		}
		return NewError("ReadRaw", KindIO, err.Error())
	}
	return nil
}

// Consume calls f once with the currently buffered unconsumed bytes, if any.
// f returns k: if k <= len(slice), f consumed exactly k bytes and Consume
// reports finished (true). If k > len(slice), f needs more data than is
// currently buffered; Consume compacts the unconsumed region to the front
// of the buffer and reports not-finished (false) so the caller can Receive
// more before trying again.
func (r *FiberReader) Consume(f func([]byte) int) (finished bool) {
	if r.available <= r.consumed {
		return false
	}
	slice := r.buf[r.consumed:r.available]
	k := f(slice)
	if k <= len(slice) {
		r.consumed += k
		return true
	}
	n := copy(r.buf, r.buf[r.consumed:r.available])
	r.consumed, r.available = 0, n
	return false
}

// ReadConsume loops Receive+Consume until f reports finished, and returns
// any Failure raised along the way (end-of-flow, hangup, I/O error, or an
// injected cancellation/timeout).
func (r *FiberReader) ReadConsume(f func([]byte) int) error {
	for {
		if r.Consume(f) {
			return nil
		}
		if _, err := r.Receive(); err != nil {
			return err
		}
	}
}

// ReadValue consumes exactly sizeof(T) bytes and returns a bitwise copy of
// them as T. T must be a fixed-size type (numeric, array, or a struct of
// such) — loopwire reads raw memory layout rather than using a
// self-describing codec, since the wire format here is defined entirely by
// T's in-memory shape.
func ReadValue[T any](r *FiberReader) (T, error) {
	var v T
	size := int(unsafe.Sizeof(v))
	buf := make([]byte, size)
	if err := r.ReadRaw(buf); err != nil {
		return v, err
	}
	v = *(*T)(unsafe.Pointer(&buf[0]))
	return v, nil
}
