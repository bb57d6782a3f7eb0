package sfnet

import (
	"fmt"
	"time"
)

// Config holds the listener, pooling, and threading parameters. Unlike the
// embedder's own Config (environment-variable driven, see socketmap.Config),
// this one is meant to be constructed directly by the binary wiring the
// framework together — the framework itself is a library, not a process.
type Config struct {
	// OuterBindAddr/OuterPort is the public listener.
	OuterBindAddr string
	OuterPort     int

	// InnerBindAddr/InnerPort is the trusted/intra-cluster listener. Set
	// InnerPort equal to OuterPort to collapse to a single listener.
	InnerBindAddr string
	InnerPort     int

	// AcceptThreads is the number of accept goroutines devoted to the
	// inner listener when ports differ.
	AcceptThreads int

	// WorkerThreads is the reactor count, W.
	WorkerThreads int

	// MinBufSize/MaxBufSize bound every task's read/write buffers.
	MinBufSize int
	MaxBufSize int

	// MaxConnections bounds total live tasks across all reactors.
	MaxConnections int

	// NetworkTimeout is the per-connection idle timeout.
	NetworkTimeout time.Duration

	// ProtoHeaderSize is how many bytes the read buffer grows by on each
	// read attempt while the embedder's SetBodyLength has not yet found the
	// end of the header (see Reactor.handleReadable).
	ProtoHeaderSize int

	// PollTimeout bounds how long a reactor blocks in the poller between
	// iterations; it also governs responsiveness of shutdown and timer
	// advancement.
	PollTimeout time.Duration

	// SyncLogBuffInterval governs how often the framework's own log-sync
	// scheduler entry invokes Callbacks.LogSync (e.g. flushing zap's
	// buffered writer). Always registered when LogSync is set.
	SyncLogBuffInterval time.Duration

	// LogRotateEnabled registers a daily scheduler entry, fired at
	// midnight, that invokes Callbacks.LogRotate.
	LogRotateEnabled bool

	// LogFileKeepDays, when positive and LogRotateEnabled is set,
	// registers a second daily scheduler entry, fired one hour after
	// midnight, that invokes Callbacks.LogDeleteOldFiles with this value.
	LogFileKeepDays int
}

// DefaultConfig returns sane, overridable zero-value fallbacks.
func DefaultConfig() Config {
	return Config{
		AcceptThreads:       2,
		WorkerThreads:       4,
		MinBufSize:          4096,
		MaxBufSize:          64 * 1024,
		MaxConnections:      1000,
		NetworkTimeout:      30 * time.Second,
		ProtoHeaderSize:     8,
		PollTimeout:         time.Second,
		SyncLogBuffInterval: time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.AcceptThreads <= 0 {
		c.AcceptThreads = d.AcceptThreads
	}
	if c.WorkerThreads <= 0 {
		c.WorkerThreads = d.WorkerThreads
	}
	if c.MinBufSize <= 0 {
		c.MinBufSize = d.MinBufSize
	}
	if c.MaxBufSize <= 0 {
		c.MaxBufSize = d.MaxBufSize
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = d.MaxConnections
	}
	if c.NetworkTimeout <= 0 {
		c.NetworkTimeout = d.NetworkTimeout
	}
	if c.ProtoHeaderSize <= 0 {
		c.ProtoHeaderSize = d.ProtoHeaderSize
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = d.PollTimeout
	}
	if c.SyncLogBuffInterval <= 0 {
		c.SyncLogBuffInterval = d.SyncLogBuffInterval
	}
	if c.InnerPort == 0 {
		c.InnerPort = c.OuterPort
	}
}

func (c Config) validate() error {
	if c.MaxBufSize < c.MinBufSize {
		return fmt.Errorf("sfnet: max_buf_size (%d) must be >= min_buf_size (%d)", c.MaxBufSize, c.MinBufSize)
	}
	if c.ProtoHeaderSize >= c.MaxBufSize {
		return fmt.Errorf("sfnet: proto_header_size (%d) must be < max_buf_size (%d)", c.ProtoHeaderSize, c.MaxBufSize)
	}
	if c.WorkerThreads <= 0 {
		return fmt.Errorf("sfnet: worker_threads must be positive")
	}
	if c.OuterPort == 0 {
		return fmt.Errorf("sfnet: outer_port must be set")
	}
	return nil
}

// bindAddr resolves the address to bind: if both outer and inner bind
// addresses are set, bind the wildcard address; else use whichever is
// non-empty.
func (c Config) bindAddr() string {
	if c.OuterBindAddr != "" && c.InnerBindAddr != "" {
		return ""
	}
	if c.OuterBindAddr != "" {
		return c.OuterBindAddr
	}
	return c.InnerBindAddr
}
