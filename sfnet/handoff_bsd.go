//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package sfnet

import "golang.org/x/sys/unix"

func newHandoffPipe() (*handoffPipe, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return nil, err
		}
		flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
		if err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return nil, err
		}
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, flags|unix.FD_CLOEXEC); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return nil, err
		}
	}
	return &handoffPipe{readFD: fds[0], writeFD: fds[1]}, nil
}
