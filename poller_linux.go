//go:build linux

package loopwire

import (
	"golang.org/x/sys/unix"
)

// epollPoller is the Linux poller backend, following gaio's
// openPoll()/pfd.Watch()/pfd.Wait() usage pattern but built directly on
// golang.org/x/sys/unix instead of raw syscall numbers, for the portable
// constants and structs plain "syscall" doesn't expose.
type epollPoller struct {
	epfd int
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, NewErrno("EpollCreate1", err.(unix.Errno))
	}
	return &epollPoller{epfd: epfd}, nil
}

func toEpollEvents(interest Events) uint32 {
	var ev uint32 = unix.EPOLLERR | unix.EPOLLHUP | unix.EPOLLRDHUP
	if interest&Readable != 0 {
		ev |= unix.EPOLLIN
	}
	if interest&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func fromEpollEvents(ev uint32) Events {
	var e Events
	if ev&unix.EPOLLIN != 0 {
		e |= Readable
	}
	if ev&unix.EPOLLOUT != 0 {
		e |= Writable
	}
	if ev&unix.EPOLLERR != 0 {
		e |= Error
	}
	if ev&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		e |= Hangup
	}
	return e
}

func (p *epollPoller) add(fd int, interest Events) error {
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return NewErrno("EpollCtl(ADD)", err.(unix.Errno))
	}
	return nil
}

func (p *epollPoller) modify(fd int, interest Events) error {
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return NewErrno("EpollCtl(MOD)", err.(unix.Errno))
	}
	return nil
}

func (p *epollPoller) remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		if err == unix.ENOENT || err == unix.EBADF {
			return nil
		}
		return NewErrno("EpollCtl(DEL)", err.(unix.Errno))
	}
	return nil
}

func (p *epollPoller) wait(waitUs int64, dst []pollerEvent) ([]pollerEvent, error) {
	waitMs := -1
	if waitUs >= 0 {
		waitMs = int(waitUs / 1000)
		if waitMs == 0 && waitUs > 0 {
			waitMs = 1
		}
	}

	var raw [maxPollerEvents]unix.EpollEvent
	n, err := unix.EpollWait(p.epfd, raw[:], waitMs)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, NewErrno("EpollWait", err.(unix.Errno))
	}
	for i := 0; i < n; i++ {
		dst = append(dst, pollerEvent{fd: int(raw[i].Fd), events: fromEpollEvents(raw[i].Events)})
	}
	return dst, nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.epfd)
}
