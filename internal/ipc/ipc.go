// Package ipc implements the local transport the worker listens on: a
// Unix-domain stream endpoint carrying fixed-size Request and Verdict
// frames (internal/proto), with no length prefix because none is
// needed. The listening socket itself is nonblocking so it can sit in
// a reactor; accepted connections are switched to blocking mode, since
// request frames are read with full-buffer semantics (MSG_WAITALL)
// rather than partial reads spread across event-loop iterations.
package ipc

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/alepersan/hckworker/internal/proto"
)

// listenBacklog is the pending-connection backlog passed to listen(2).
const listenBacklog = 128

// Listener owns the bound, listening Unix-domain socket fd.
type Listener struct {
	fd int
}

// Listen creates, binds, and listens on path. A leading '@' requests
// Linux's abstract namespace; see bindPath for the platform split.
func Listen(path string) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("ipc: socket: %w", err)
	}
	sa := bindPath(path)
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("ipc: bind %q: %w", path, err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("ipc: listen %q: %w", path, err)
	}
	return &Listener{fd: fd}, nil
}

// FD returns the listener's raw file descriptor, for reactor
// registration.
func (l *Listener) FD() int { return l.fd }

// Accept accepts one pending connection and switches it to blocking
// mode. It returns unix.EAGAIN when no connection is pending — callers
// should loop until they see it, since a single readiness wakeup can
// carry several pending connections.
func (l *Listener) Accept() (int, error) {
	fd, _, err := unix.Accept(l.fd)
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("ipc: clearing nonblocking mode: %w", err)
	}
	return fd, nil
}

// Close closes the listening socket.
func (l *Listener) Close() error { return unix.Close(l.fd) }

// ReadRequest performs a full-frame, WAITALL-semantics read of one
// Request from fd. A short read (including a zero-byte EOF) is treated
// as a dropped client, matching the "frame must arrive whole" contract.
func ReadRequest(fd int) (proto.Request, error) {
	var buf [proto.RequestSize]byte
	n, _, _, _, err := unix.Recvmsg(fd, buf[:], nil, unix.MSG_WAITALL)
	if err != nil {
		return proto.Request{}, err
	}
	if n != proto.RequestSize {
		return proto.Request{}, fmt.Errorf("ipc: short request frame (%d of %d bytes)", n, proto.RequestSize)
	}
	return proto.DecodeRequest(buf[:])
}

// WriteVerdict sends v to fd as a fixed-size frame.
func WriteVerdict(fd int, v proto.Verdict) error {
	buf := v.Bytes()
	n, err := unix.Write(fd, buf[:])
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("ipc: short verdict write (%d of %d bytes)", n, len(buf))
	}
	return nil
}
