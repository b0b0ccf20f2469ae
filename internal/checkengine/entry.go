// Package checkengine drives the per-socket HTTP check state machine,
// the check table and keep-alive pool backing it, the recovery path for
// connections lent out of the pool, the expiry sweeper, and the
// coordinator that wires all of it to a reactor.
package checkengine

import (
	"time"

	"github.com/alepersan/hckworker/internal/proto"
)

// State is the per-socket progress of one HTTP check.
type State int

const (
	// StateConnecting follows a classical (non-TFO) connect: on builds
	// without TFO, and on the TFO fallback redials. The socket is
	// mid-connect and not yet known to be writable.
	StateConnecting State = iota
	// StateWriting is sending the fixed HEAD request.
	StateWriting
	// StateReadingStatus is accumulating bytes up to and including the
	// status line's first digit.
	StateReadingStatus
	// StateReadingHeaders is scanning for the header-terminating blank
	// line after a valid status digit has been seen.
	StateReadingHeaders
	// StateKeepAlive is an idle, pooled, post-success connection.
	StateKeepAlive
	// StateRecovery is a pooled connection just lent to a new check,
	// not yet proven alive.
	StateRecovery
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateWriting:
		return "writing"
	case StateReadingStatus:
		return "reading_status"
	case StateReadingHeaders:
		return "reading_headers"
	case StateKeepAlive:
		return "keepalive"
	case StateRecovery:
		return "recovery"
	default:
		return "unknown"
	}
}

// NoClient is the sentinel ClientFD value meaning "no client is waiting
// on this check".
const NoClient = -1

// Entry is the per-outbound-socket check record.
type Entry struct {
	RemoteAddr proto.RemoteAddress
	AddrLen    uint32
	RemoteFD   int
	ClientFD   int
	State      State
	Position   int
	ExpiresAt  time.Time
	First      bool
	TFO        bool
}

// HasClient reports whether a verdict written for this entry would reach
// a live client.
func (e *Entry) HasClient() bool { return e.ClientFD != NoClient }

// Deadlines bound how long an entry may sit in each phase before the
// sweeper fails it. They are fixed constants, never configurable.
const (
	DeadlineFreshDial = 4 * time.Second
	DeadlineRecovery  = 3 * time.Second
	DeadlineKeepAlive = 60 * time.Second
)

// Table indexes Entry values by their current RemoteFD. The key must be
// re-bound whenever RemoteFD changes (a TFO fallback redial) — see
// Rebind. Pool reuse keeps the same fd and needs no re-bind.
type Table struct {
	entries map[int]*Entry
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{entries: make(map[int]*Entry)}
}

// Put registers e under its current RemoteFD.
func (t *Table) Put(e *Entry) {
	t.entries[e.RemoteFD] = e
}

// Get looks up the entry for fd.
func (t *Table) Get(fd int) (*Entry, bool) {
	e, ok := t.entries[fd]
	return e, ok
}

// Delete removes fd's entry.
func (t *Table) Delete(fd int) {
	delete(t.entries, fd)
}

// Rebind moves e from oldFD to e.RemoteFD (which the caller must have
// already updated), preserving the invariant that the table key always
// matches the entry's current fd. Used when a fallback redial swaps in
// a new outbound fd for an entry still in flight.
func (t *Table) Rebind(oldFD int, e *Entry) {
	delete(t.entries, oldFD)
	t.entries[e.RemoteFD] = e
}

// Len returns the number of tracked entries.
func (t *Table) Len() int { return len(t.entries) }

// Each calls fn for every entry. fn must not mutate the table's keys
// directly (use Delete/Rebind); Each is used by the sweeper, which is
// safe because it defers removal decisions to the caller via fn.
func (t *Table) Each(fn func(fd int, e *Entry)) {
	for fd, e := range t.entries {
		fn(fd, e)
	}
}
