package sfnet

import (
	"context"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// listenerSet holds the outer (public) and, when distinct, inner (trusted)
// listening sockets, implementing the bind-address and accept-thread
// allocation rules.
type listenerSet struct {
	outer *net.TCPListener
	inner *net.TCPListener // nil when collapsed into outer (same port)
}

func newListenerSet(cfg Config) (*listenerSet, error) {
	addr := cfg.bindAddr()

	outer, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP(addr), Port: cfg.OuterPort})
	if err != nil {
		return nil, err
	}

	if cfg.InnerPort == cfg.OuterPort {
		return &listenerSet{outer: outer}, nil
	}

	inner, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP(addr), Port: cfg.InnerPort})
	if err != nil {
		outer.Close()
		return nil, err
	}
	return &listenerSet{outer: outer, inner: inner}, nil
}

func (ls *listenerSet) close() {
	if ls.outer != nil {
		ls.outer.Close()
	}
	if ls.inner != nil {
		ls.inner.Close()
	}
}

// acceptPlane runs the configured number of accept goroutines against each
// listener and hashes every accepted connection to a reactor by fd mod W.
//
// Thread allocation: when the inner and outer
// ports differ, the inner listener gets the full AcceptThreads count and the
// outer listener gets AcceptThreads-1 dedicated goroutines plus the caller's
// own goroutine servicing it inline; when the ports are equal there is only
// one listener and it simply gets AcceptThreads goroutines, one of which is
// the caller's.
type acceptPlane struct {
	cfg       Config
	cb        Callbacks
	pool      *taskPool
	reactors  []*Reactor
	metrics   *metrics
	log       *zap.Logger
	listeners *listenerSet
}

func newAcceptPlane(cfg Config, cb Callbacks, pool *taskPool, reactors []*Reactor, m *metrics, log *zap.Logger, ls *listenerSet) *acceptPlane {
	return &acceptPlane{cfg: cfg, cb: cb, pool: pool, reactors: reactors, metrics: m, log: log, listeners: ls}
}

// run launches the background accept goroutines and then services the outer
// listener on the calling goroutine until ctx is cancelled. Server.Start
// calls it on a goroutine of its own, so the outer accept loop does not run
// on the goroutine that called Start.
func (a *acceptPlane) run(ctx context.Context) {
	if a.listeners.inner != nil {
		for i := 1; i < a.cfg.AcceptThreads; i++ {
			go a.acceptLoop(ctx, a.listeners.inner, true)
		}
		go a.acceptLoop(ctx, a.listeners.inner, true)
		for i := 1; i < a.cfg.AcceptThreads; i++ {
			go a.acceptLoop(ctx, a.listeners.outer, false)
		}
		a.acceptLoop(ctx, a.listeners.outer, false)
		return
	}

	for i := 1; i < a.cfg.AcceptThreads; i++ {
		go a.acceptLoop(ctx, a.listeners.outer, false)
	}
	a.acceptLoop(ctx, a.listeners.outer, false)
}

func (a *acceptPlane) acceptLoop(ctx context.Context, ln *net.TCPListener, isInner bool) {
	listenerLabel := "outer"
	if isInner {
		listenerLabel = "inner"
	}

	for {
		if ctx.Err() != nil {
			return
		}

		ln.SetDeadline(deadlineFor(ctx))
		conn, err := ln.AcceptTCP()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			a.log.Warn("accept failed", zap.String("listener", listenerLabel), zap.Error(err))
			continue
		}

		a.handle(conn, isInner, listenerLabel)
	}
}

func (a *acceptPlane) handle(conn *net.TCPConn, isInner bool, listenerLabel string) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return
	}

	var fd int
	var dupErr error
	ctrlErr := rawConn.Control(func(fdPtr uintptr) {
		fd, dupErr = syscall.Dup(int(fdPtr))
	})
	conn.Close() // the duplicate fd keeps the connection alive; the *net.TCPConn wrapper is no longer needed
	if ctrlErr != nil || dupErr != nil {
		return
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return
	}

	t := a.pool.pop()
	if t == nil {
		unix.Close(fd)
		if a.metrics != nil {
			a.metrics.connsRejected.WithLabelValues(listenerLabel).Inc()
		}
		return
	}

	t.fd = fd
	t.clientIP = peerIP(fd)
	t.isInner = isInner
	t.readState = AwaitingHeader

	reactorIndex := fd % len(a.reactors)
	target := a.reactors[reactorIndex]
	t.reactor = target

	if a.cb.AcceptDone != nil {
		a.cb.AcceptDone(t, isInner)
	}

	if a.metrics != nil {
		a.metrics.connsAccepted.WithLabelValues(listenerLabel).Inc()
	}

	if err := target.handoff.send(t.index); err != nil {
		a.log.Error("handoff send failed, dropping connection", zap.Int("reactor", reactorIndex), zap.Error(err))
		unix.Close(fd)
		t.fd = -1
		a.pool.push(t)
	}
}

func peerIP(fd int) string {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return ""
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(a.Addr[:]).String()
	case *unix.SockaddrInet6:
		return net.IP(a.Addr[:]).String()
	default:
		return ""
	}
}

// deadlineFor returns a short rolling deadline so AcceptTCP periodically
// returns and lets the loop observe ctx cancellation, since net.Listener has
// no native context support.
func deadlineFor(ctx context.Context) time.Time {
	return time.Now().Add(acceptPollInterval)
}

const acceptPollInterval = 250 * time.Millisecond
