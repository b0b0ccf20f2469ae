//go:build linux

package reactor

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// maxEvents bounds how many ready events a single epoll_wait call can
// return in one batch.
const maxEvents = 256

// Standard errors returned by Reactor methods.
var (
	ErrAlreadyRegistered = errors.New("reactor: fd already registered")
	ErrNotRegistered     = errors.New("reactor: fd not registered")
	ErrClosed            = errors.New("reactor: closed")
)

type fdEntry struct {
	cb     Callback
	events Events
	active bool
}

// Reactor multiplexes readiness notifications for a set of file
// descriptors using epoll. See the package doc for the threading
// contract: not safe for concurrent use.
type Reactor struct {
	epfd     int
	fds      map[int]*fdEntry
	eventBuf [maxEvents]unix.EpollEvent
	closed   bool
}

// New creates and initializes an epoll instance.
func New() (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Reactor{
		epfd: epfd,
		fds:  make(map[int]*fdEntry),
	}, nil
}

// Close closes the underlying epoll instance. It does not close any of
// the registered file descriptors.
func (r *Reactor) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return unix.Close(r.epfd)
}

// Add registers fd for the given events, invoking cb on every readiness
// notification until Remove is called.
func (r *Reactor) Add(fd int, events Events, cb Callback) error {
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.fds[fd]; ok {
		return ErrAlreadyRegistered
	}
	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return err
	}
	r.fds[fd] = &fdEntry{cb: cb, events: events, active: true}
	return nil
}

// Modify changes the events a registered fd is watched for.
func (r *Reactor) Modify(fd int, events Events) error {
	if r.closed {
		return ErrClosed
	}
	entry, ok := r.fds[fd]
	if !ok {
		return ErrNotRegistered
	}
	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return err
	}
	entry.events = events
	return nil
}

// Remove stops monitoring fd. It must be called before the caller
// closes fd, and before fd's number can be reused by the OS.
func (r *Reactor) Remove(fd int) error {
	if _, ok := r.fds[fd]; !ok {
		return ErrNotRegistered
	}
	delete(r.fds, fd)
	if r.closed {
		return nil
	}
	// EPOLL_CTL_DEL on an fd the kernel already dropped (e.g. closed
	// without Remove first, a caller bug) returns ENOENT; ignore it,
	// the registration bookkeeping above is already consistent.
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && err != unix.ENOENT {
		return err
	}
	return nil
}

// Wait blocks for up to timeout for readiness events, dispatching each
// to its registered callback, and returns the number of events the
// kernel reported (events for fds no longer registered are skipped but
// still counted). A timeout <= 0 polls without blocking. Wait returns
// (0, nil) on EINTR so callers can simply loop.
func (r *Reactor) Wait(timeout time.Duration) (int, error) {
	if r.closed {
		return 0, ErrClosed
	}
	ms := int(timeout / time.Millisecond)
	if ms < 0 {
		ms = 0
	}
	n, err := unix.EpollWait(r.epfd, r.eventBuf[:], ms)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		fd := int(r.eventBuf[i].Fd)
		entry, ok := r.fds[fd]
		if !ok || !entry.active || entry.cb == nil {
			continue
		}
		entry.cb(epollToEvents(r.eventBuf[i].Events))
	}
	return n, nil
}

func eventsToEpoll(events Events) uint32 {
	// EPOLLHUP and EPOLLERR are always reported by the kernel regardless
	// of the requested mask; EPOLLRDHUP must be requested explicitly, and
	// callers always want it so they can detect a peer-closed idle
	// connection promptly even while only armed for Read.
	e := uint32(unix.EPOLLRDHUP)
	if events.has(Read) {
		e |= unix.EPOLLIN
	}
	if events.has(Write) {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToEvents(e uint32) Events {
	var events Events
	if e&unix.EPOLLIN != 0 {
		events |= Read
	}
	if e&unix.EPOLLOUT != 0 {
		events |= Write
	}
	if e&unix.EPOLLRDHUP != 0 {
		events |= PeerHup
	}
	if e&unix.EPOLLHUP != 0 {
		events |= Hup
	}
	if e&unix.EPOLLERR != 0 {
		events |= Error
	}
	return events
}
