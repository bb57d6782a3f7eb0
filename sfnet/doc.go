// Package sfnet implements a multi-reactor, non-blocking TCP server
// framework: an accept plane hashes new connections across a fixed set of
// worker reactors, each driving its own readiness poller, timer wheel, and
// per-connection state machine. Protocol behavior is supplied by an
// embedder through Callbacks; sfnet itself is transport- and
// framing-agnostic.
package sfnet
