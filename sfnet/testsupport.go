package sfnet

// NewTestTask constructs a detached Task for exercising an embedder's
// Callbacks without a running Server — no reactor, poller, or socket is
// involved. isInner marks which listener the simulated connection arrived
// on; data is fed into the task's read buffer as if it had just arrived
// off the wire.
func NewTestTask(isInner bool, data []byte) *Task {
	t := &Task{
		fd:         -1,
		isInner:    isInner,
		readState:  AwaitingHeader,
		length:     headerIncomplete,
		readBuf:    make([]byte, len(data)),
		headerSize: 0,
	}
	copy(t.readBuf, data)
	t.offset = len(data)
	return t
}

// Response returns whatever SetResponse last wrote, for test assertions.
func (t *Task) Response() []byte {
	return t.writeBuf[:t.writeLength]
}

// CloseRequested reports whether the task was marked for close, either via
// RequestClose or SetResponse(..., true).
func (t *Task) CloseRequested() bool {
	return t.readState == Closing || t.closeAfterWrite
}
