package sfnet

import "time"

// Callbacks is the embedder's capability set: everything a protocol-specific
// service supplies to plug into the framework. Held as a single struct value by the
// core rather than as package-level function variables, so multiple
// independent sfnet.Server instances never clobber each other's handlers.
type Callbacks struct {
	// AllocThreadExtraData returns per-reactor private state, called once
	// per reactor on the main goroutine before it starts.
	AllocThreadExtraData func(reactorIndex int) interface{}

	// ThreadLoopCallback runs once per reactor iteration, after timer
	// expiry processing, for embedder slow-path maintenance.
	ThreadLoopCallback func(r *Reactor)

	// AcceptDone is a post-accept hook to initialize per-connection state.
	// isInner reports whether the connection arrived on the inner
	// listener.
	AcceptDone func(t *Task, isInner bool)

	// SetBodyLength parses the header already buffered in t (see
	// Task.HeaderBytes) and calls t.SetLength with the declared body
	// size.
	SetBodyLength func(t *Task)

	// DealTask handles a fully received request. It must end by calling
	// exactly one of t.SetResponse, t.NoResponse, or t.RequestClose.
	DealTask func(t *Task)

	// TaskCleanup releases embedder-owned per-connection resources
	// before the task is returned to the pool.
	TaskCleanup func(t *Task)

	// TimeoutCallback is invoked on idle expiry, typically transitioning
	// the task to CLOSING by calling t.RequestClose.
	TimeoutCallback func(t *Task)

	// LogSync flushes any buffered log writer (e.g. zap.Logger.Sync). When
	// set, it is registered on the framework's own scheduler at
	// Config.SyncLogBuffInterval.
	LogSync func() error

	// LogRotate rotates the active log file. When set and
	// Config.LogRotateEnabled is true, it is registered on the scheduler
	// to run once daily at midnight.
	LogRotate func(now time.Time)

	// LogDeleteOldFiles removes rotated log files older than keepDays.
	// When set and Config.LogRotateEnabled is true with a positive
	// Config.LogFileKeepDays, it is registered on the scheduler to run
	// once daily, one hour after midnight.
	LogDeleteOldFiles func(now time.Time, keepDays int)
}

func (c Callbacks) validate() error {
	if c.SetBodyLength == nil {
		return errRequiredCallback("SetBodyLength")
	}
	if c.DealTask == nil {
		return errRequiredCallback("DealTask")
	}
	return nil
}

type errRequiredCallback string

func (e errRequiredCallback) Error() string {
	return "sfnet: required callback not set: " + string(e)
}
