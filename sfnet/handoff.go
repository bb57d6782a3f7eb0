package sfnet

import "golang.org/x/sys/unix"

// handoffPipe is a real OS pipe, not a Go channel: the write end is shared by
// every accept goroutine that hashes a new connection to this reactor, and
// the read end is registered directly in the reactor's own poller for
// EPOLLIN/EVFILT_READ, so a newly accepted connection wakes the reactor
// through the exact same readiness path as any other fd. A Go channel
// cannot be waited on by an epoll/kqueue fd set, which is the whole reason
// this exists instead of the obvious `chan *Task`.
//
// The payload is the task's pool index, not a pointer: a raw pointer value
// written as bytes into a kernel pipe would be invisible to the garbage
// collector for as long as it sits in the pipe's kernel buffer.
type handoffPipe struct {
	readFD  int
	writeFD int
}

// newHandoffPipe is platform-specific (see handoff_linux.go, handoff_bsd.go):
// Pipe2 with O_NONBLOCK exists only on Linux in golang.org/x/sys/unix, so the
// BSD family falls back to Pipe followed by explicit fcntl flag-setting.

// send writes a task index to the pipe. Called from an accept goroutine, so
// it races with the reactor goroutine only on the kernel pipe buffer itself,
// which is safe by construction.
//
// A short write is completed by writing the remaining bytes, so an index is
// never left half-written in the pipe (in practice an 8-byte write below
// PIPE_BUF never occurs short). EINTR and EAGAIN are retried; any other
// error is returned, and the caller drops just this connection.
func (h *handoffPipe) send(taskIndex int) error {
	var buf [8]byte
	putUint64(buf[:], uint64(taskIndex))
	for written := 0; written < len(buf); {
		n, err := unix.Write(h.writeFD, buf[written:])
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return err
		}
		written += n
	}
	return nil
}

// drain reads as many complete 8-byte indices as are currently available and
// appends them to dst. Called from the owning reactor goroutine only, after
// the poller reports the read end ready.
func (h *handoffPipe) drain(dst []int) ([]int, error) {
	var buf [4096]byte
	for {
		n, err := unix.Read(h.readFD, buf[:])
		if err != nil {
			if err == unix.EAGAIN {
				return dst, nil
			}
			if err == unix.EINTR {
				continue
			}
			return dst, err
		}
		if n == 0 {
			return dst, nil
		}
		for off := 0; off+8 <= n; off += 8 {
			dst = append(dst, int(getUint64(buf[off:off+8])))
		}
		if n < len(buf) {
			return dst, nil
		}
	}
}

func (h *handoffPipe) close() {
	unix.Close(h.readFD)
	unix.Close(h.writeFD)
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
