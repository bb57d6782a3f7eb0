//go:build linux

package sfnet

import (
	"golang.org/x/sys/unix"
)

// epollPoller is the Linux readiness poller backing a single reactor. The
// handoff pipe's read end and every connected task fd are registered here
// with EPOLLIN always set, and EPOLLOUT added/removed as a task enters and
// leaves SENDING. Registrations are level-triggered (no EPOLLET).
type epollPoller struct {
	epfd int
}

func newPoller() (poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{epfd: fd}, nil
}

func eventMask(writable bool) uint32 {
	mask := uint32(unix.EPOLLIN | unix.EPOLLRDHUP)
	if writable {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (p *epollPoller) add(fd int, writable bool) error {
	ev := unix.EpollEvent{Events: eventMask(writable), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) modify(fd int, writable bool) error {
	ev := unix.EpollEvent{Events: eventMask(writable), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	return err
}

func (p *epollPoller) wait(dst []pollEvent, timeoutMs int) ([]pollEvent, error) {
	raw := make([]unix.EpollEvent, 256)
	n, err := unix.EpollWait(p.epfd, raw, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}

	for i := 0; i < n; i++ {
		var kind pollEventKind
		e := raw[i].Events
		if e&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
			kind |= eventRead
		}
		if e&unix.EPOLLOUT != 0 {
			kind |= eventWrite
		}
		if e&(unix.EPOLLERR) != 0 {
			kind |= eventError
		}
		if e&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			kind |= eventHangup
		}
		dst = append(dst, pollEvent{fd: int(raw[i].Fd), events: kind})
	}
	return dst, nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.epfd)
}
