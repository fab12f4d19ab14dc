//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package loopwire

import "golang.org/x/sys/unix"

// setCork toggles TCP_NOPUSH, the BSD-family equivalent of Linux's
// TCP_CORK, used by FiberWriter.Flush to force buffered data out.
func setCork(fd int, enable bool) error {
	val := 0
	if enable {
		val = 1
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NOPUSH, val); err != nil {
		return NewErrno("setsockopt(TCP_NOPUSH)", err.(unix.Errno))
	}
	return nil
}
