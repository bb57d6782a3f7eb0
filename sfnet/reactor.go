package sfnet

import (
	"context"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Reactor owns one readiness poller, one timer wheel, and the connections
// hashed to it by the accept plane. Everything
// below run() executes on exactly one goroutine; the only cross-goroutine
// entry point is the handoff pipe's write end, held by the accept threads.
type Reactor struct {
	index int

	cfg Config
	cb  Callbacks

	pl      poller
	wheel   *timerWheel
	clock   *coarseClock
	handoff *handoffPipe

	pool    *taskPool
	metrics *metrics
	log     *zap.Logger

	// byFD maps a live connection's fd to its task. Only ever read or
	// written from run()'s goroutine.
	byFD map[int]*Task

	// extra is per-reactor embedder state from Callbacks.AllocThreadExtraData.
	extra interface{}

	lastTick int64 // coarse second at which the wheel last advanced
}

func newReactor(index int, cfg Config, cb Callbacks, pool *taskPool, m *metrics, clock *coarseClock, log *zap.Logger) (*Reactor, error) {
	pl, err := newPoller()
	if err != nil {
		return nil, err
	}
	hp, err := newHandoffPipe()
	if err != nil {
		pl.close()
		return nil, err
	}
	if err := pl.add(hp.readFD, false); err != nil {
		pl.close()
		hp.close()
		return nil, err
	}

	r := &Reactor{
		index:   index,
		cfg:     cfg,
		cb:      cb,
		pl:      pl,
		wheel:   newTimerWheel(int(cfg.NetworkTimeout.Seconds())),
		clock:   clock,
		handoff: hp,
		pool:    pool,
		metrics: m,
		log:     log.With(zap.Int("reactor", index)),
		byFD:    make(map[int]*Task),
	}
	if cb.AllocThreadExtraData != nil {
		r.extra = cb.AllocThreadExtraData(index)
	}
	return r, nil
}

// handoffWriteFD is what accept goroutines need to hash a new connection to
// this reactor; everything else about the reactor stays private to run().
func (r *Reactor) handoffWriteFD() int { return r.handoff.writeFD }

// run is the reactor's main loop: wait, drain handoffs, service ready fds,
// advance the timer wheel, run the embedder's slow-path hook, repeat until
// ctx is cancelled.
func (r *Reactor) run(ctx context.Context) {
	r.lastTick = r.clock.now() / 1000

	events := make([]pollEvent, 0, 256)
	indices := make([]int, 0, 64)

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return
		default:
		}

		var err error
		events = events[:0]
		events, err = r.pl.wait(events, int(r.cfg.PollTimeout.Milliseconds()))
		if err != nil {
			r.log.Error("poll wait failed", zap.Error(err))
			continue
		}

		for _, ev := range events {
			if ev.fd == r.handoff.readFD {
				indices = indices[:0]
				indices, err = r.handoff.drain(indices)
				if err != nil {
					r.log.Error("handoff drain failed", zap.Error(err))
					continue
				}
				for _, idx := range indices {
					r.acceptTask(idx)
				}
				continue
			}
			r.serviceTask(ev)
		}

		r.advanceTimers()

		if r.cb.ThreadLoopCallback != nil {
			r.cb.ThreadLoopCallback(r)
		}
	}
}

// acceptTask registers a freshly handed-off task's fd in the poller and
// arms its idle timer. The task's fields were already filled in by the
// accept goroutine before the index was written to the handoff pipe.
func (r *Reactor) acceptTask(idx int) {
	t := r.pool.tasks[idx]
	t.reactor = r
	t.touch(r.clock.now())

	if err := r.pl.add(t.fd, false); err != nil {
		r.log.Warn("failed to register accepted fd", zap.Int("fd", t.fd), zap.Error(err))
		r.closeTask(t, "register_failed")
		return
	}
	r.byFD[t.fd] = t
	r.wheel.schedule(t)
	if r.metrics != nil {
		r.metrics.reactorQueue.WithLabelValues(reactorLabel(r.index)).Set(float64(len(r.byFD)))
	}
}

// serviceTask drives one ready fd through the state machine:
// AWAITING_HEADER -> AWAITING_BODY -> DISPATCHED -> SENDING, looping
// back to AWAITING_HEADER on keep-alive or exiting to CLOSING.
func (r *Reactor) serviceTask(ev pollEvent) {
	t, ok := r.byFD[ev.fd]
	if !ok {
		return
	}

	if ev.events&(eventError|eventHangup) != 0 && ev.events&eventRead == 0 {
		r.closeTask(t, "hangup")
		return
	}

	if ev.events&eventRead != 0 && t.readState != Closing {
		r.handleReadable(t)
	}
	if t.readState == Closing {
		r.closeTask(t, "protocol")
		return
	}
	if ev.events&eventWrite != 0 && t.writeState == Sending {
		r.handleWritable(t)
	}
}

// handleReadable drives AWAITING_HEADER and AWAITING_BODY. Header parsing
// is delimiter-driven rather than a fixed byte count: after every read
// that adds header bytes, SetBodyLength is asked whether it can now
// determine the body length. Config.ProtoHeaderSize is only the minimum
// growth increment while the answer is still unknown — a protocol with a
// truly fixed header size simply calls Task.SetLength as soon as exactly
// that many bytes are buffered, which behaves identically to a fixed-size
// framing contract.
func (r *Reactor) handleReadable(t *Task) {
	for {
		switch t.readState {
		case AwaitingHeader:
			if !r.growReadBuf(t, len(t.readBuf)+r.cfg.ProtoHeaderSize) {
				t.readState = Closing
				return
			}
			n, err := unix.Read(t.fd, t.readBuf[t.offset:len(t.readBuf)])
			if !r.afterRead(t, n, err) {
				return
			}
			r.cb.SetBodyLength(t)
			if t.length == headerIncomplete {
				continue // embedder needs more header bytes
			}
			if t.length < 0 || t.headerSize+t.length > r.cfg.MaxBufSize {
				t.readState = Closing
				return
			}
			if !r.growReadBuf(t, t.headerSize+t.length) {
				t.readState = Closing
				return
			}
			if t.length == 0 {
				t.readState = Dispatched
				r.dispatch(t)
				return
			}
			t.readState = AwaitingBody

		case AwaitingBody:
			end := t.headerSize + t.length
			if t.offset >= end {
				// The AwaitingHeader read above already delivered the
				// whole body in the same syscall (the common case for
				// small requests) — a zero-length unix.Read would
				// return (0, nil) here and afterRead would misread
				// that as a peer close.
				t.readState = Dispatched
				r.dispatch(t)
				return
			}
			n, err := unix.Read(t.fd, t.readBuf[t.offset:end])
			if !r.afterRead(t, n, err) {
				return
			}
			if t.offset < end {
				return
			}
			t.readState = Dispatched
			r.dispatch(t)
			return

		default:
			return
		}
	}
}

// growReadBuf ensures t.readBuf has room for at least `want` bytes, capped
// by Config.MaxBufSize. Returns false if want exceeds that cap (protocol
// violation: header or declared body too large).
func (r *Reactor) growReadBuf(t *Task, want int) bool {
	if want > r.cfg.MaxBufSize {
		return false
	}
	if want <= len(t.readBuf) {
		return true
	}
	if want <= cap(t.readBuf) {
		t.readBuf = t.readBuf[:want]
		return true
	}
	grown := make([]byte, want)
	copy(grown, t.readBuf[:t.offset])
	t.readBuf = grown
	return true
}

// afterRead folds a single read(2) result into the task's offset and
// reports whether the caller should keep looping. A zero-length result
// marks a peer-closed connection as CLOSING rather than surfacing EOF as an
// error, covering the edge case of a peer closing mid-header or mid-body.
func (r *Reactor) afterRead(t *Task, n int, err error) bool {
	if n > 0 {
		t.offset += n
		t.touch(r.clock.now())
		r.wheel.schedule(t)
	}
	if err != nil {
		if err == unix.EAGAIN {
			return false
		}
		if err == unix.EINTR {
			return true
		}
		t.readState = Closing
		return false
	}
	if n == 0 {
		t.readState = Closing
		return false
	}
	return true
}

// dispatch invokes the embedder's request handler and reacts to whichever
// of SetResponse/NoResponse/RequestClose it called.
func (r *Reactor) dispatch(t *Task) {
	r.cb.DealTask(t)

	switch {
	case t.readState == Closing:
		return
	case t.writeState == Sending:
		if err := r.pl.modify(t.fd, true); err != nil {
			r.log.Warn("failed to arm writability", zap.Int("fd", t.fd), zap.Error(err))
			t.readState = Closing
			return
		}
		r.handleWritable(t)
	default:
		t.resetForNextRequest()
	}
}

func (r *Reactor) handleWritable(t *Task) {
	for t.bytesDone < t.writeLength {
		n, err := unix.Write(t.fd, t.writeBuf[t.bytesDone:t.writeLength])
		if n > 0 {
			t.bytesDone += n
			t.touch(r.clock.now())
			r.wheel.schedule(t)
		}
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			if err == unix.EINTR {
				continue
			}
			t.readState = Closing
			return
		}
	}

	t.writeState = WriteIdle
	if err := r.pl.modify(t.fd, false); err != nil {
		r.log.Warn("failed to disarm writability", zap.Int("fd", t.fd), zap.Error(err))
	}
	if t.closeAfterWrite {
		t.readState = Closing
		return
	}
	t.resetForNextRequest()
}

// advanceTimers ticks the wheel forward once per elapsed coarse second
// (coarse-clock driven, not per-iteration) and expires tasks whose bucket
// came due, re-checking each against its real last-active deadline before
// declaring a timeout.
func (r *Reactor) advanceTimers() {
	nowSec := r.clock.now() / 1000
	for r.lastTick < nowSec {
		r.lastTick++
		for _, t := range r.wheel.advance() {
			idleMs := r.clock.now() - t.lastActiveMs.Load()
			if idleMs < r.cfg.NetworkTimeout.Milliseconds() {
				r.wheel.schedule(t)
				continue
			}
			if r.metrics != nil {
				r.metrics.timeouts.WithLabelValues(reactorLabel(r.index)).Inc()
			}
			if r.cb.TimeoutCallback != nil {
				r.cb.TimeoutCallback(t)
			} else {
				t.RequestClose()
			}
			if t.readState == Closing {
				r.closeTask(t, "timeout")
			}
		}
	}
}

func (r *Reactor) closeTask(t *Task, reason string) {
	r.wheel.cancel(t)
	r.pl.remove(t.fd)
	delete(r.byFD, t.fd)

	if r.cb.TaskCleanup != nil {
		r.cb.TaskCleanup(t)
	}

	unix.Close(t.fd)
	t.fd = -1

	if r.metrics != nil {
		r.metrics.connsClosed.WithLabelValues(reason).Inc()
		r.metrics.reactorQueue.WithLabelValues(reactorLabel(r.index)).Set(float64(len(r.byFD)))
	}

	r.pool.push(t)
}

// shutdown closes every connection this reactor still owns. Invoked once,
// from run(), after ctx is cancelled.
func (r *Reactor) shutdown() {
	for _, t := range r.byFD {
		r.closeTask(t, "shutdown")
	}
	r.pl.close()
	r.handoff.close()
}

func reactorLabel(index int) string {
	return strconv.Itoa(index)
}
