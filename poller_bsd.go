//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package loopwire

import (
	"sync"

	"golang.org/x/sys/unix"
)

// kqueuePoller is the BSD-family poller backend (darwin/dragonfly/freebsd/
// netbsd/openbsd), built behind the same "linux || darwin || ..." build-tag
// split gaio itself uses to separate epoll from kqueue.
type kqueuePoller struct {
	kq int

	mu       sync.Mutex
	interest map[int]Events // last-registered interest per fd, to diff on modify
}

func newPoller() (poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, NewErrno("Kqueue", err.(unix.Errno))
	}
	return &kqueuePoller{kq: kq, interest: make(map[int]Events)}, nil
}

func (p *kqueuePoller) changeFilters(fd int, old, want Events) error {
	var changes []unix.Kevent_t
	addFilter := func(filter int16, flags uint16) {
		changes = append(changes, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: filter,
			Flags:  flags,
		})
	}

	wantRead := want&Readable != 0
	hadRead := old&Readable != 0
	if wantRead && !hadRead {
		addFilter(unix.EVFILT_READ, unix.EV_ADD|unix.EV_CLEAR)
	} else if !wantRead && hadRead {
		addFilter(unix.EVFILT_READ, unix.EV_DELETE)
	}

	wantWrite := want&Writable != 0
	hadWrite := old&Writable != 0
	if wantWrite && !hadWrite {
		addFilter(unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_CLEAR)
	} else if !wantWrite && hadWrite {
		addFilter(unix.EVFILT_WRITE, unix.EV_DELETE)
	}

	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	if err != nil {
		return NewErrno("Kevent(change)", err.(unix.Errno))
	}
	return nil
}

func (p *kqueuePoller) add(fd int, interest Events) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.changeFilters(fd, 0, interest); err != nil {
		return err
	}
	p.interest[fd] = interest
	return nil
}

func (p *kqueuePoller) modify(fd int, interest Events) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.interest[fd]
	if err := p.changeFilters(fd, old, interest); err != nil {
		return err
	}
	p.interest[fd] = interest
	return nil
}

func (p *kqueuePoller) remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	old, ok := p.interest[fd]
	if !ok {
		return nil
	}
	err := p.changeFilters(fd, old, 0)
	delete(p.interest, fd)
	return err
}

func (p *kqueuePoller) wait(waitUs int64, dst []pollerEvent) ([]pollerEvent, error) {
	var ts *unix.Timespec
	if waitUs >= 0 {
		t := unix.NsecToTimespec(waitUs * 1000)
		ts = &t
	}

	var raw [maxPollerEvents]unix.Kevent_t
	n, err := unix.Kevent(p.kq, nil, raw[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, NewErrno("Kevent(wait)", err.(unix.Errno))
	}

	byFD := make(map[int]Events, n)
	for i := 0; i < n; i++ {
		ev := raw[i]
		fd := int(ev.Ident)
		var e Events
		switch ev.Filter {
		case unix.EVFILT_READ:
			e |= Readable
		case unix.EVFILT_WRITE:
			e |= Writable
		}
		if ev.Flags&unix.EV_EOF != 0 {
			e |= Hangup
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			e |= Error
		}
		byFD[fd] |= e
	}
	for fd, e := range byFD {
		dst = append(dst, pollerEvent{fd: fd, events: e})
	}
	return dst, nil
}

func (p *kqueuePoller) close() error {
	return unix.Close(p.kq)
}
