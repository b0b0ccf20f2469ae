//go:build linux

package checkengine

import (
	"net"

	"golang.org/x/sys/unix"
)

// tfoAvailable is true on Linux, where TCP_FASTOPEN_CONNECT lets the
// kernel defer the SYN until the first write and piggyback the HEAD
// request on it, collapsing connect-and-send into a single write call.
const tfoAvailable = true

// dialFresh issues a fresh connection attempt for addr, preferring TFO.
// If the platform rejects TFO (old kernel, disabled sysctl) or the
// connect itself fails synchronously, it falls back to a classical
// dial inline, before any Entry exists, so the caller never has to
// distinguish a TFO attempt from a plain one at entry-creation time.
func dialFresh(addr *net.TCPAddr) (dialResult, bool, error) {
	fd, _, err := newNonblockingSocket(addr)
	if err != nil {
		return dialResult{}, false, err
	}

	if optErr := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_FASTOPEN_CONNECT, 1); optErr != nil {
		// Platform rejects TFO outright: fall back to a classical dial
		// on a fresh socket, same as a TFO-unavailable build.
		_ = unix.Close(fd)
		res, dialErr := dialPlain(addr)
		return res, false, dialErr
	}

	sa, err := toSockaddr(addr)
	if err != nil {
		_ = unix.Close(fd)
		return dialResult{}, false, err
	}
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS && err != unix.EAGAIN {
		// Synchronous failure (e.g. ENETUNREACH) even before any data
		// could be queued: retry once, classically, on a fresh socket.
		_ = unix.Close(fd)
		res, dialErr := dialPlain(addr)
		return res, false, dialErr
	}

	// TCP_FASTOPEN_CONNECT defers the handshake to the first write;
	// the entry starts directly in Writing, armed for WRITE.
	return dialResult{fd: fd, state: StateWriting}, true, nil
}
