package loopwire

import (
	"errors"
	"fmt"
	"syscall"
)

// Kind categorizes a Failure: end of stream, remote hangup, I/O error,
// timeout, protocol violation, or an invariant violation for programmer
// errors that must crash rather than be swallowed.
type Kind string

const (
	// KindEndOfFlow means the peer ended the stream in an orderly way.
	KindEndOfFlow Kind = "end of flow"
	// KindRemoteHangup means the peer hung up without any orderly EOF.
	KindRemoteHangup Kind = "remote hangup"
	// KindIO means a local or kernel-reported I/O failure occurred.
	KindIO Kind = "io error"
	// KindTimeout means a deadline passed while suspended or awaiting data.
	KindTimeout Kind = "timeout"
	// KindProtocol means a higher layer's consumer delegate rejected input.
	KindProtocol Kind = "protocol violation"
	// KindInvariant means a programmer error was detected; never swallowed.
	KindInvariant Kind = "invariant violation"
)

// Error is loopwire's concrete Failure type: an operation name, a
// high-level Kind, an optional wrapped errno, a message, and an Inner error
// for errors.Is/As chaining.
type Error struct {
	Op    string
	Kind  Kind
	Errno syscall.Errno
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op == "" {
		return fmt.Sprintf("loopwire: %s", msg)
	}
	if e.Errno != 0 {
		return fmt.Sprintf("loopwire: %s: %s (errno=%d)", e.Op, msg, e.Errno)
	}
	return fmt.Sprintf("loopwire: %s: %s", e.Op, msg)
}

// Unwrap supports errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is lets errors.Is match on Kind alone, ignoring Op/Msg/Inner.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == te.Kind
}

// NewError builds a Failure with no wrapped cause.
func NewError(op string, kind Kind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// NewErrno builds an I/O Failure carrying an errno, mapping a handful of
// errnos to more specific kinds.
func NewErrno(op string, errno syscall.Errno) *Error {
	return &Error{Op: op, Kind: classifyErrno(errno), Errno: errno, Msg: errno.Error()}
}

func classifyErrno(errno syscall.Errno) Kind {
	switch errno {
	case syscall.ETIMEDOUT:
		return KindTimeout
	case syscall.ECONNRESET, syscall.EPIPE:
		return KindRemoteHangup
	default:
		return KindIO
	}
}

// WrapProtocol wraps an error raised by a reader's consumer delegate as a
// protocol violation.
func WrapProtocol(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if pe, ok := inner.(*Error); ok {
		return pe
	}
	return &Error{Op: op, Kind: KindProtocol, Msg: inner.Error(), Inner: inner}
}

// IsKind reports whether err is a *Error of the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// invariant panics with a KindInvariant Failure; programmer errors crash
// with a diagnostic and are never swallowed.
func invariant(op, msg string) {
	panic(&Error{Op: op, Kind: KindInvariant, Msg: msg})
}

var (
	// ErrDispatcherClosed is returned by operations attempted after Shutdown.
	ErrDispatcherClosed = NewError("dispatcher", KindInvariant, "dispatcher closed")
	// ErrTaskTerminated is the logic error from resuming a terminated Task.
	ErrTaskTerminated = NewError("task", KindInvariant, "resume of terminated task")
	// ErrBufferTooLarge is returned by ReadRaw when out_buf exceeds capacity.
	ErrBufferTooLarge = NewError("reader", KindInvariant, "buffer larger than reader capacity")
)
