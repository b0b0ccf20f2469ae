//go:build darwin

package reactor

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

const maxEvents = 256

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
// descriptors using kqueue. See the package doc for the threading
// contract: not safe for concurrent use.
type Reactor struct {
	kq       int
	fds      map[int]*fdEntry
	eventBuf [maxEvents]unix.Kevent_t
	closed   bool
}

// New creates and initializes a kqueue instance.
func New() (*Reactor, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &Reactor{kq: kq, fds: make(map[int]*fdEntry)}, nil
}

// Close closes the underlying kqueue instance.
func (r *Reactor) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return unix.Close(r.kq)
}

// Add registers fd for the given events.
func (r *Reactor) Add(fd int, events Events, cb Callback) error {
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.fds[fd]; ok {
		return ErrAlreadyRegistered
	}
	if kevs := eventsToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE); len(kevs) > 0 {
		if _, err := unix.Kevent(r.kq, kevs, nil, nil); err != nil {
			return err
		}
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
	old := entry.events
	if del := old &^ events; del != 0 {
		if kevs := eventsToKevents(fd, del, unix.EV_DELETE); len(kevs) > 0 {
			_, _ = unix.Kevent(r.kq, kevs, nil, nil)
		}
	}
	if add := events &^ old; add != 0 {
		if kevs := eventsToKevents(fd, add, unix.EV_ADD|unix.EV_ENABLE); len(kevs) > 0 {
			if _, err := unix.Kevent(r.kq, kevs, nil, nil); err != nil {
				return err
			}
		}
	}
	entry.events = events
	return nil
}

// Remove stops monitoring fd.
func (r *Reactor) Remove(fd int) error {
	entry, ok := r.fds[fd]
	if !ok {
		return ErrNotRegistered
	}
	delete(r.fds, fd)
	if r.closed {
		return nil
	}
	if kevs := eventsToKevents(fd, entry.events, unix.EV_DELETE); len(kevs) > 0 {
		_, _ = unix.Kevent(r.kq, kevs, nil, nil)
	}
	return nil
}

// Wait blocks for up to timeout for readiness events, dispatching each
// to its registered callback, and returns the number of events the
// kernel reported (events for fds no longer registered are skipped but
// still counted).
func (r *Reactor) Wait(timeout time.Duration) (int, error) {
	if r.closed {
		return 0, ErrClosed
	}
	ts := unix.NsecToTimespec(timeout.Nanoseconds())
	n, err := unix.Kevent(r.kq, nil, r.eventBuf[:], &ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		fd := int(r.eventBuf[i].Ident)
		entry, ok := r.fds[fd]
		if !ok || !entry.active || entry.cb == nil {
			continue
		}
		entry.cb(keventToEvents(&r.eventBuf[i]))
	}
	return n, nil
}

func eventsToKevents(fd int, events Events, flags uint16) []unix.Kevent_t {
	var kevs []unix.Kevent_t
	if events.has(Read) {
		kevs = append(kevs, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if events.has(Write) {
		kevs = append(kevs, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return kevs
}

// keventToEvents converts a kqueue event to Events. kqueue has no
// equivalent of EPOLLRDHUP: EV_EOF on a read filter covers both "peer
// shut down its write side" and "fully hung up", so it is reported as
// PeerHup here; callers on Darwin cannot distinguish the two.
func keventToEvents(kev *unix.Kevent_t) Events {
	var events Events
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= Read
	case unix.EVFILT_WRITE:
		events |= Write
	}
	if kev.Flags&unix.EV_EOF != 0 {
		events |= PeerHup
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		events |= Error
	}
	return events
}
