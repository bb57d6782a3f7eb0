//go:build linux

package sfnet

import "golang.org/x/sys/unix"

func newHandoffPipe() (*handoffPipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	return &handoffPipe{readFD: fds[0], writeFD: fds[1]}, nil
}
