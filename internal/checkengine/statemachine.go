package checkengine

import (
	"golang.org/x/sys/unix"

	"github.com/alepersan/hckworker/internal/proto"
	"github.com/alepersan/hckworker/internal/reactor"
)

// httpRequest is the only outbound byte sequence a check ever sends.
const httpRequest = "HEAD / HTTP/1.0\r\nConnection:Keep-Alive\r\n\r\n"

// statusPrefixLen is len("HTTP/1.0 "); the byte immediately after it is
// the status line's first digit.
const statusPrefixLen = len("HTTP/1.0 ")

// readChunk bounds a single outbound read(2) call.
const readChunk = 512

// action tells the caller what to do with an entry after one step.
type action int

const (
	actionRearm       action = iota // stay; re-arm the reactor for the entry's new state
	actionVerdict                   // entry finished; verdict carries the result
	actionEvictSilent               // KeepAlive peer close: destroy, no verdict
	actionRedialPlain               // Connecting failed with tfo set: redial without TFO
)

type stepResult struct {
	action  action
	verdict proto.Verdict
}

// armFor returns the readiness mask an entry needs for its current
// state.
func armFor(s State) reactor.Events {
	switch s {
	case StateConnecting:
		return reactor.Read | reactor.Write
	case StateWriting, StateRecovery:
		return reactor.Write
	case StateReadingStatus, StateReadingHeaders, StateKeepAlive:
		return reactor.Read
	default:
		return 0
	}
}

func hungUp(events reactor.Events) bool {
	return events.has(reactor.Hup) || events.has(reactor.PeerHup) || events.has(reactor.Error)
}

// failOrRetry answers the fail-vs-retry question that recurs at every
// error point in the state machine: a freshly dialled connection fails
// outright, a reused one asks the client to retry on a new socket.
func failOrRetry(e *Entry) stepResult {
	if e.First {
		return stepResult{action: actionVerdict, verdict: proto.VerdictFail}
	}
	return stepResult{action: actionVerdict, verdict: proto.VerdictRetry}
}

// stepOutbound advances e given the readiness events delivered for its
// RemoteFD. It performs the read/write syscalls itself: the parsing
// progress (Position) is entry-local and has no separate buffer owner.
func stepOutbound(e *Entry, events reactor.Events) stepResult {
	switch e.State {
	case StateConnecting:
		return stepConnecting(e, events)
	case StateWriting:
		return stepWriting(e, events)
	case StateReadingStatus:
		return stepReadingStatus(e, events)
	case StateReadingHeaders:
		return stepReadingHeaders(e, events)
	case StateKeepAlive:
		return stepKeepAlive(e, events)
	case StateRecovery:
		return stepRecovery(e, events)
	default:
		return stepResult{action: actionVerdict, verdict: proto.VerdictFail}
	}
}

func stepConnecting(e *Entry, events reactor.Events) stepResult {
	if events.has(reactor.Read) || events.has(reactor.Write) {
		e.State = StateWriting
		e.Position = 0
		return stepResult{action: actionRearm}
	}
	if e.TFO {
		return stepResult{action: actionRedialPlain}
	}
	return stepResult{action: actionVerdict, verdict: proto.VerdictFail}
}

func stepWriting(e *Entry, events reactor.Events) stepResult {
	remaining := []byte(httpRequest)[e.Position:]
	n, err := unix.Write(e.RemoteFD, remaining)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			if hungUp(events) {
				return failOrRetry(e)
			}
			return stepResult{action: actionRearm}
		}
		return failOrRetry(e)
	}
	if n == 0 {
		return failOrRetry(e)
	}
	e.Position += n
	if e.Position >= len(httpRequest) {
		e.State = StateReadingStatus
		e.Position = 0
	}
	return stepResult{action: actionRearm}
}

// scanHeaderEnd runs the header-terminator scan rule over data,
// continuing a consecutive-\n streak carried in from a previous call.
// '\r' is transparent; any other byte resets the streak to zero;
// reaching two means end of headers.
func scanHeaderEnd(data []byte, streak int) (done bool, newStreak int) {
	for _, b := range data {
		switch b {
		case '\n':
			streak++
			if streak >= 2 {
				return true, streak
			}
		case '\r':
		default:
			streak = 0
		}
	}
	return false, streak
}

func stepReadingStatus(e *Entry, events reactor.Events) stepResult {
	var chunk [readChunk]byte
	n, err := unix.Read(e.RemoteFD, chunk[:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			if hungUp(events) {
				return failOrRetry(e)
			}
			return stepResult{action: actionRearm}
		}
		return failOrRetry(e)
	}
	if n == 0 {
		return failOrRetry(e)
	}
	data := chunk[:n]

	need := statusPrefixLen + 1 - e.Position
	if need > len(data) {
		e.Position += len(data)
		return stepResult{action: actionRearm}
	}
	digit := data[need-1]
	if digit < '1' || digit > '4' {
		return stepResult{action: actionVerdict, verdict: proto.VerdictFail}
	}
	data = data[need:]
	e.Position = 0

	done, streak := scanHeaderEnd(data, e.Position)
	if done {
		return stepResult{action: actionVerdict, verdict: proto.VerdictOK}
	}
	e.Position = streak
	e.State = StateReadingHeaders
	return stepResult{action: actionRearm}
}

func stepReadingHeaders(e *Entry, events reactor.Events) stepResult {
	var chunk [readChunk]byte
	n, err := unix.Read(e.RemoteFD, chunk[:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			if hungUp(events) {
				return failOrRetry(e)
			}
			return stepResult{action: actionRearm}
		}
		return failOrRetry(e)
	}
	if n == 0 {
		return failOrRetry(e)
	}
	done, streak := scanHeaderEnd(chunk[:n], e.Position)
	if done {
		return stepResult{action: actionVerdict, verdict: proto.VerdictOK}
	}
	e.Position = streak
	return stepResult{action: actionRearm}
}

// stepKeepAlive is armed for Read only; any wakeup at all, readable
// data or a hangup, means the peer closed an idle pooled connection.
func stepKeepAlive(e *Entry, events reactor.Events) stepResult {
	return stepResult{action: actionEvictSilent}
}

func stepRecovery(e *Entry, events reactor.Events) stepResult {
	if hungUp(events) {
		return stepResult{action: actionVerdict, verdict: proto.VerdictRetry}
	}
	e.State = StateWriting
	e.Position = 0
	return stepResult{action: actionRearm}
}
