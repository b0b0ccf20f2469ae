package checkengine

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// newNonblockingSocket creates a nonblocking SOCK_STREAM socket of the
// address family matching addr.
func newNonblockingSocket(addr *net.TCPAddr) (int, int, error) {
	family := unix.AF_INET
	if addr.IP.To4() == nil {
		family = unix.AF_INET6
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, family, err
	}
	return fd, family, nil
}

func toSockaddr(addr *net.TCPAddr) (unix.Sockaddr, error) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = addr.Port
		copy(sa.Addr[:], ip4)
		return &sa, nil
	}
	ip6 := addr.IP.To16()
	if ip6 == nil {
		return nil, fmt.Errorf("checkengine: invalid IP %v", addr.IP)
	}
	var sa unix.SockaddrInet6
	sa.Port = addr.Port
	copy(sa.Addr[:], ip6)
	return &sa, nil
}

// dialResult describes the outcome of issuing a fresh connection
// attempt: which fd was created, what state the Entry should start in,
// and (for the TFO path) how many request bytes the combined
// connect-and-send already delivered.
type dialResult struct {
	fd       int
	state    State
	position int
}

// dialPlain issues a classical nonblocking connect(2). The returned
// Entry always starts in StateConnecting: readiness (not yet a
// completed handshake) is discovered on the next reactor wakeup.
func dialPlain(addr *net.TCPAddr) (dialResult, error) {
	fd, _, err := newNonblockingSocket(addr)
	if err != nil {
		return dialResult{}, err
	}
	sa, err := toSockaddr(addr)
	if err != nil {
		_ = unix.Close(fd)
		return dialResult{}, err
	}
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS && err != unix.EAGAIN {
		_ = unix.Close(fd)
		return dialResult{}, err
	}
	return dialResult{fd: fd, state: StateConnecting}, nil
}
