//go:build linux

package loopwire

import "golang.org/x/sys/unix"

// setCork toggles TCP_CORK, the Linux mechanism FiberWriter.Flush uses to
// force a coalesced write out onto the wire.
func setCork(fd int, enable bool) error {
	val := 0
	if enable {
		val = 1
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_CORK, val); err != nil {
		return NewErrno("setsockopt(TCP_CORK)", err.(unix.Errno))
	}
	return nil
}
