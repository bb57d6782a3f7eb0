package sfnet

import (
	"container/list"
	"sync/atomic"
)

// ReadState is the per-connection read-side state.
type ReadState int32

const (
	AwaitingHeader ReadState = iota
	AwaitingBody
	Dispatched
	Closing
)

func (s ReadState) String() string {
	switch s {
	case AwaitingHeader:
		return "awaiting_header"
	case AwaitingBody:
		return "awaiting_body"
	case Dispatched:
		return "dispatched"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// WriteState is the per-connection write-side state.
type WriteState int32

const (
	WriteIdle WriteState = iota
	Sending
)

// Task is the per-connection context drawn from the pool.
//
// A task is either free (on the pool's free list) or owned by exactly one
// reactor. Once a task is handed off to a reactor via the accept plane, every
// field below is touched only by that reactor's goroutine — the task pool's
// free list is the only part of a task's lifecycle that is shared across
// goroutines.
type Task struct {
	// index is this task's slot in the pool's backing slice. It never
	// changes once allocated and is what actually travels down the
	// handoff pipe (a raw pointer cannot safely be carried as an integer
	// payload through a kernel pipe in a garbage-collected runtime).
	index int

	fd       int
	clientIP string

	// reactor is the back-reference set once, at accept time, before the
	// task is pushed into the handoff channel; read-only afterward. It is
	// a plain pointer pinned by the reactor's lifetime, never a
	// shared-ownership handle.
	reactor *Reactor

	readBuf  []byte
	writeBuf []byte

	readState  ReadState
	writeState WriteState

	offset     int // read cursor into readBuf
	length     int // declared body length, set by SetBodyLength; -1 while header parsing is still incomplete
	headerSize int // bytes consumed as header, captured at the moment SetLength is called
	bytesDone  int // progress cursor for the current read or write

	writeLength int // total bytes to flush for the current response

	lastActiveMs atomic.Int64

	// timerElem is this task's node in its reactor's timer wheel, nil if
	// not currently scheduled. Owned by the reactor goroutine; lets the
	// wheel move a task on access in O(1).
	timerElem   *list.Element
	timerBucket int

	// closeAfterWrite marks that the embedder requested connection close
	// once the current response finishes flushing.
	closeAfterWrite bool

	// isInner records which listener accepted this connection.
	isInner bool

	// Arg is reserved for the embedder's own per-connection state.
	Arg interface{}
}

// FD returns the task's connected socket descriptor, or -1 if released.
func (t *Task) FD() int { return t.fd }

// ClientIP returns the printable peer address.
func (t *Task) ClientIP() string { return t.clientIP }

// IsInner reports whether this task was accepted on the inner listener.
func (t *Task) IsInner() bool { return t.isInner }

// ReadState returns the task's current read-side state.
func (t *Task) ReadState() ReadState { return t.readState }

// headerIncomplete is length's sentinel value while SetBodyLength has not
// yet seen enough buffered bytes to determine the body size. A protocol
// with a fixed, known-upfront header size never observes this value from
// the outside — it calls SetLength as soon as HeaderBytes reaches that
// size — but delimiter-based framing (a netstring's digit run, a
// blank-line-terminated request) may need several reactor iterations of
// growing buffered header before it can call SetLength at all.
const headerIncomplete = -1

// SetLength is called by the embedder's SetBodyLength callback once it can
// determine both the header/body boundary and the body length from what's
// buffered so far. headerLen is where the header ends within HeaderBytes
// (not necessarily all of it — a single read commonly delivers header and
// body together, so the boundary must come from the embedder's own parse
// position rather than from however many bytes happened to arrive).
func (t *Task) SetLength(headerLen, bodyLen int) {
	t.headerSize = headerLen
	t.length = bodyLen
}

// HeaderBytes returns every byte read so far this request, for
// SetBodyLength to inspect. It grows across calls if SetBodyLength returns
// without calling SetLength (not enough buffered yet to parse the header).
func (t *Task) HeaderBytes() []byte {
	return t.readBuf[:t.offset]
}

// Body returns the declared-length body slice once fully received.
func (t *Task) Body() []byte {
	return t.readBuf[t.headerSize : t.headerSize+t.length]
}

// SetResponse copies resp into the task's write buffer and arms SENDING.
// close, when true, requests the connection be closed once the response is
// flushed.
func (t *Task) SetResponse(resp []byte, close bool) {
	if cap(t.writeBuf) < len(resp) {
		t.writeBuf = make([]byte, len(resp))
	}
	t.writeBuf = t.writeBuf[:len(resp)]
	copy(t.writeBuf, resp)
	t.writeLength = len(resp)
	t.bytesDone = 0
	t.writeState = Sending
	t.closeAfterWrite = close
}

// NoResponse re-arms AWAITING_HEADER without sending anything (DISPATCHED
// transition (b)).
func (t *Task) NoResponse() {
	t.resetForNextRequest()
}

// RequestClose marks the task for close without writing a response
// (DISPATCHED transition (c) taken immediately, no SENDING phase).
func (t *Task) RequestClose() {
	t.readState = Closing
}

func (t *Task) resetForNextRequest() {
	t.offset = 0
	t.length = headerIncomplete
	t.headerSize = 0
	t.bytesDone = 0
	t.readState = AwaitingHeader
}

func (t *Task) touch(nowMs int64) {
	t.lastActiveMs.Store(nowMs)
}
