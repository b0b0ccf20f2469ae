// Package reactor provides a single-threaded, readiness-based I/O
// multiplexer built on platform-native event notification:
//   - Linux: epoll
//   - Darwin/BSD: kqueue
//
// A Reactor has no internal locking. Every method — Add, Modify, Remove,
// and Wait — must be called from exactly one goroutine. This matches the
// cooperative, single-threaded model of the worker that owns it: all
// mutation of check state happens on that same goroutine, so no
// synchronization is needed between registration changes and dispatch.
//
// Always call Remove before closing a file descriptor; delivering a
// stale event against a recycled fd is a caller bug, not a Reactor one.
package reactor

import "time"

// Events is a bitmask of readiness conditions.
type Events uint32

const (
	// Read indicates the file descriptor is ready for reading.
	Read Events = 1 << iota
	// Write indicates the file descriptor is ready for writing.
	Write
	// PeerHup indicates the peer performed an orderly shutdown of its
	// write half (EPOLLRDHUP on Linux). kqueue does not distinguish this
	// from a full hangup, so on Darwin both are reported as PeerHup.
	PeerHup
	// Hup indicates the local end of the connection hung up.
	Hup
	// Error indicates an error condition on the file descriptor.
	Error
)

func (e Events) has(f Events) bool { return e&f != 0 }

// Callback is invoked with the events that became ready for a registered
// file descriptor. It runs on the goroutine that called Wait.
type Callback func(Events)

// WaitTimeout bounds a single Wait call so that callers relying on
// periodic work (e.g. a once-a-second expiry sweep) never stall longer
// than this even with no I/O activity.
const WaitTimeout = time.Second
