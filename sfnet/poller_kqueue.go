//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package sfnet

import (
	"golang.org/x/sys/unix"
)

// kqueuePoller mirrors epollPoller's contract on BSD-family kernels, grounded
// on the same build-tag split gaio uses for its watcher
// ("linux || darwin || netbsd || freebsd || openbsd || dragonfly") for
// exactly this reason: one readiness primitive per OS family, same external
// behavior.
type kqueuePoller struct {
	kq int
	// writable tracks which fds currently have an EVFILT_WRITE filter
	// registered, since kqueue requires an explicit delete rather than a
	// single combined event update like epoll's EPOLL_CTL_MOD.
	writable map[int]bool
}

func newPoller() (poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueuePoller{kq: kq, writable: make(map[int]bool)}, nil
}

func (p *kqueuePoller) add(fd int, writable bool) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD},
	}
	if writable {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD})
		p.writable[fd] = true
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) modify(fd int, writable bool) error {
	if writable == p.writable[fd] {
		return nil
	}
	flag := uint16(unix.EV_ADD)
	if !writable {
		flag = unix.EV_DELETE
	}
	changes := []unix.Kevent_t{{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flag}}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	if err != nil && writable {
		return err
	}
	p.writable[fd] = writable
	return nil
}

func (p *kqueuePoller) remove(fd int) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
	}
	if p.writable[fd] {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE})
		delete(p.writable, fd)
	}
	_, _ = unix.Kevent(p.kq, changes, nil, nil)
	return nil
}

func (p *kqueuePoller) wait(dst []pollEvent, timeoutMs int) ([]pollEvent, error) {
	raw := make([]unix.Kevent_t, 256)
	var ts unix.Timespec
	tsp := &ts
	if timeoutMs < 0 {
		tsp = nil
	} else {
		ts = unix.NsecToTimespec(int64(timeoutMs) * 1e6)
	}

	n, err := unix.Kevent(p.kq, nil, raw, tsp)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}

	// Coalesce read/write events for the same fd, matching epoll's single
	// combined-event-per-fd delivery so the reactor's dispatch loop need
	// not know which poller backs it.
	merged := make(map[int]pollEventKind, n)
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		fd := int(raw[i].Ident)
		if _, ok := merged[fd]; !ok {
			order = append(order, fd)
		}
		switch raw[i].Filter {
		case unix.EVFILT_READ:
			merged[fd] |= eventRead
		case unix.EVFILT_WRITE:
			merged[fd] |= eventWrite
		}
		if raw[i].Flags&unix.EV_EOF != 0 {
			merged[fd] |= eventHangup
		}
		if raw[i].Flags&unix.EV_ERROR != 0 {
			merged[fd] |= eventError
		}
	}
	for _, fd := range order {
		dst = append(dst, pollEvent{fd: fd, events: merged[fd]})
	}
	return dst, nil
}

func (p *kqueuePoller) close() error {
	return unix.Close(p.kq)
}
