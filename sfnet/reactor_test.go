package sfnet

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// echoCallbacks is a minimal protocol for exercising the reactor's
// read/dispatch/write loop over a real socket: a single-byte header holds
// the body length, and DealTask echoes the body back verbatim.
func echoCallbacks() Callbacks {
	return Callbacks{
		SetBodyLength: func(t *Task) {
			buf := t.HeaderBytes()
			if len(buf) < 1 {
				return
			}
			t.SetLength(1, int(buf[0]))
		},
		DealTask: func(t *Task) {
			resp := append([]byte(nil), t.Body()...)
			t.SetResponse(resp, false)
		},
	}
}

// newTestReactor wires one reactor against a real connected socket pair,
// with the server end already registered as if accepted, and starts
// r.run in the background. The caller drives the client end directly
// with os.File, the same raw-fd path a real peer would use.
func newTestReactor(t *testing.T) (r *Reactor, client *os.File, cancel context.CancelFunc) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	serverFD, clientFD := fds[0], fds[1]

	if err := unix.SetNonblock(serverFD, true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}

	cfg := DefaultConfig()
	cfg.ProtoHeaderSize = 1
	cfg.NetworkTimeout = time.Minute
	cfg.PollTimeout = 50 * time.Millisecond

	pool, err := newTaskPool(cfg.MaxConnections, 1, cfg.MinBufSize, cfg.MaxBufSize)
	if err != nil {
		t.Fatalf("newTaskPool: %v", err)
	}

	clock := newCoarseClock()
	clock.start()

	reactor, err := newReactor(0, cfg, echoCallbacks(), pool, newMetrics(), clock, zap.NewNop())
	if err != nil {
		t.Fatalf("newReactor: %v", err)
	}

	task := pool.pop()
	task.fd = serverFD
	task.reactor = reactor
	task.touch(clock.now())
	if err := reactor.pl.add(task.fd, false); err != nil {
		t.Fatalf("register task fd: %v", err)
	}
	reactor.byFD[task.fd] = task
	reactor.wheel.schedule(task)

	ctx, cancelFn := context.WithCancel(context.Background())
	go reactor.run(ctx)

	t.Cleanup(func() {
		cancelFn()
		clock.Stop()
	})

	return reactor, os.NewFile(uintptr(clientFD), "test-client"), cancelFn
}

// TestReactor_SingleReadDeliversHeaderAndBodyTogether covers the case
// where a single recv() hands the reactor the whole request (a short
// header immediately followed by its body in one packet, the common case
// over a real TCP socket) and confirms AWAITING_BODY dispatches without
// issuing a second, zero-length read.
func TestReactor_SingleReadDeliversHeaderAndBodyTogether(t *testing.T) {
	_, client, _ := newTestReactor(t)
	defer client.Close()

	request := append([]byte{5}, []byte("hello")...)
	if _, err := client.Write(request); err != nil {
		t.Fatalf("client write: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp := make([]byte, 5)
	n, err := readFull(client, resp)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(resp[:n]) != "hello" {
		t.Fatalf("expected echoed body %q, got %q", "hello", resp[:n])
	}
}

// TestReactor_HeaderAndBodyArriveSeparately exercises the ordinary
// AWAITING_HEADER -> AWAITING_BODY path where the body arrives in a later
// read, to confirm the scenario-1 fix didn't regress the multi-read case.
func TestReactor_HeaderAndBodyArriveSeparately(t *testing.T) {
	_, client, _ := newTestReactor(t)
	defer client.Close()

	if _, err := client.Write([]byte{3}); err != nil {
		t.Fatalf("client write header: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := client.Write([]byte("abc")); err != nil {
		t.Fatalf("client write body: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp := make([]byte, 3)
	n, err := readFull(client, resp)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(resp[:n]) != "abc" {
		t.Fatalf("expected echoed body %q, got %q", "abc", resp[:n])
	}
}

// TestReactor_KeepAliveServesSecondRequest confirms a task is reusable for
// a second request on the same connection after a full round trip.
func TestReactor_KeepAliveServesSecondRequest(t *testing.T) {
	_, client, _ := newTestReactor(t)
	defer client.Close()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))

	for _, body := range []string{"first", "second"} {
		req := append([]byte{byte(len(body))}, []byte(body)...)
		if _, err := client.Write(req); err != nil {
			t.Fatalf("client write: %v", err)
		}
		resp := make([]byte, len(body))
		n, err := readFull(client, resp)
		if err != nil {
			t.Fatalf("client read: %v", err)
		}
		if string(resp[:n]) != body {
			t.Fatalf("expected echoed body %q, got %q", body, resp[:n])
		}
	}
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}
