package loopwire

import (
	"net"
	"syscall"
)

// DupFD duplicates conn's underlying file descriptor via its SyscallConn,
// closes conn, and returns the duplicate, the same trick gaio's dupconn
// uses so a reactor can own a descriptor whose lifetime is independent of
// net.Conn's GC-driven finalizer. The duplicate is already set non-blocking
// by the runtime's net package and stays that way across dup(2).
func DupFD(conn net.Conn) (int, error) {
	sc, ok := conn.(interface {
		SyscallConn() (syscall.RawConn, error)
	})
	if !ok {
		return -1, NewError("DupFD", KindIO, "connection does not expose SyscallConn")
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return -1, NewErrno("SyscallConn", errnoOf(err))
	}

	var newfd int
	var dupErr error
	ctrlErr := rc.Control(func(fd uintptr) {
		newfd, dupErr = syscall.Dup(int(fd))
	})
	if ctrlErr != nil {
		return -1, NewErrno("RawConn.Control", errnoOf(ctrlErr))
	}
	if dupErr != nil {
		return -1, NewErrno("Dup", errnoOf(dupErr))
	}

	_ = conn.Close()
	return newfd, nil
}

func errnoOf(err error) syscall.Errno {
	if errno, ok := err.(syscall.Errno); ok {
		return errno
	}
	return syscall.EIO
}
