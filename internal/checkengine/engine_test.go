package checkengine

import (
	"bufio"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/alepersan/hckworker/internal/ipc"
	"github.com/alepersan/hckworker/internal/proto"
	"github.com/alepersan/hckworker/internal/reactor"
	"github.com/alepersan/hckworker/internal/sockaddr"
)

// okBackend accepts TCP connections and answers every HEAD request on
// each with a 200 status line, keeping the connection open so the
// engine's keep-alive pool has something real to reuse.
func okBackend(t *testing.T) (addr *net.TCPAddr, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveKeepAlive(conn, done)
		}
	}()

	return ln.Addr().(*net.TCPAddr), func() {
		close(done)
		ln.Close()
	}
}

func serveKeepAlive(conn net.Conn, done <-chan struct{}) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if line == "\r\n" || line == "\n" {
				break
			}
		}
		select {
		case <-done:
			return
		default:
		}
		if _, err := conn.Write([]byte("HTTP/1.0 200 OK\r\nContent-Length: 0\r\n\r\n")); err != nil {
			return
		}
	}
}

// okThenCloseBackend answers exactly one HEAD request with a valid 200
// response and closes the connection in the same handler invocation,
// the way an HTTP/1.0 server not honoring Connection:Keep-Alive would.
// The kernel commonly reports that close in the very same readiness
// event as the trailing readable bytes, so this exercises the engine's
// coalesced read-then-hangup path end to end.
func okThenCloseBackend(t *testing.T) (addr *net.TCPAddr, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				r := bufio.NewReader(conn)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						conn.Close()
						return
					}
					if line == "\r\n" || line == "\n" {
						break
					}
				}
				conn.Write([]byte("HTTP/1.0 200 OK\r\nContent-Length: 0\r\n\r\n"))
				conn.Close()
			}(conn)
		}
	}()
	return ln.Addr().(*net.TCPAddr), func() { ln.Close() }
}

// failBackend accepts a connection and immediately closes it without
// writing anything.
func failBackend(t *testing.T) (addr *net.TCPAddr, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln.Addr().(*net.TCPAddr), func() { ln.Close() }
}

type testHarness struct {
	t        *testing.T
	rx       *reactor.Reactor
	engine   *Engine
	listener *ipc.Listener
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	rx, err := reactor.New()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "hckworker.sock")
	ln, err := ipc.Listen(path)
	require.NoError(t, err)

	engine := NewEngine(rx, ln, zerolog.Nop(), nil)
	require.NoError(t, engine.Start())

	h := &testHarness{t: t, rx: rx, engine: engine, listener: ln}
	t.Cleanup(func() {
		engine.Shutdown()
		rx.Close()
	})
	return h
}

// dialClient connects a raw fd to the engine's IPC listener.
func (h *testHarness) dialClient(path string) int {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(h.t, err)
	require.NoError(h.t, unix.Connect(fd, &unix.SockaddrUnix{Name: path}))
	return fd
}

// pump drives the reactor until cond is satisfied or attempts run out.
func (h *testHarness) pump(attempts int, cond func() bool) {
	for i := 0; i < attempts && !cond(); i++ {
		_, _ = h.rx.Wait(100 * time.Millisecond)
	}
}

func sendRequest(t *testing.T, fd int, addr *net.TCPAddr) {
	t.Helper()
	rawAddr, addrLen, err := sockaddr.Encode(addr)
	require.NoError(t, err)
	req := proto.Request{Addr: rawAddr, AddrLen: addrLen}
	buf := req.Bytes()
	n, err := unix.Write(fd, buf[:])
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
}

func TestEngine_FreshDialSucceedsAndPools(t *testing.T) {
	addr, stopBackend := okBackend(t)
	defer stopBackend()

	h := newHarness(t)
	clientFD := h.dialClient(socketPathOf(t, h))
	defer unix.Close(clientFD)

	sendRequest(t, clientFD, addr)

	var v proto.Verdict
	var got bool
	h.pump(50, func() bool {
		v, got = readVerdictNonBlocking(clientFD)
		return got
	})
	require.True(t, got, "expected a verdict within the pump budget")
	require.Equal(t, proto.VerdictOK, v)
	require.Equal(t, 1, h.engine.pool.Len())
}

func TestEngine_PoolReuseAnswersSecondCheckWithoutNewDial(t *testing.T) {
	addr, stopBackend := okBackend(t)
	defer stopBackend()

	h := newHarness(t)
	sockPath := socketPathOf(t, h)

	clientFD := h.dialClient(sockPath)
	defer unix.Close(clientFD)
	sendRequest(t, clientFD, addr)
	h.pump(50, func() bool { _, ok := readVerdictNonBlocking(clientFD); return ok })

	poolSizeAfterFirst := h.engine.pool.Len()
	require.Equal(t, 1, poolSizeAfterFirst)

	secondClientFD := h.dialClient(sockPath)
	defer unix.Close(secondClientFD)
	sendRequest(t, secondClientFD, addr)

	var v proto.Verdict
	var got bool
	h.pump(50, func() bool {
		v, got = readVerdictNonBlocking(secondClientFD)
		return got
	})
	require.True(t, got)
	require.Equal(t, proto.VerdictOK, v)
	require.Equal(t, 1, h.engine.table.Len(), "the same outbound connection must be reused, not a second one dialed")
}

func TestEngine_BackendClosesWithoutRespondingFails(t *testing.T) {
	addr, stopBackend := failBackend(t)
	defer stopBackend()

	h := newHarness(t)
	clientFD := h.dialClient(socketPathOf(t, h))
	defer unix.Close(clientFD)

	sendRequest(t, clientFD, addr)

	var v proto.Verdict
	var got bool
	h.pump(50, func() bool {
		v, got = readVerdictNonBlocking(clientFD)
		return got
	})
	require.True(t, got)
	require.Equal(t, proto.VerdictFail, v)
	require.Equal(t, 0, h.engine.pool.Len())
}

// TestEngine_BackendAnswersAndClosesInSameTickStillSucceeds covers a
// target that answers and hangs up without keep-alive: the engine must
// still score the check OK off the buffered response instead of
// discarding it in favor of the coalesced close.
func TestEngine_BackendAnswersAndClosesInSameTickStillSucceeds(t *testing.T) {
	addr, stopBackend := okThenCloseBackend(t)
	defer stopBackend()

	h := newHarness(t)
	clientFD := h.dialClient(socketPathOf(t, h))
	defer unix.Close(clientFD)

	sendRequest(t, clientFD, addr)

	var v proto.Verdict
	var got bool
	h.pump(50, func() bool {
		v, got = readVerdictNonBlocking(clientFD)
		return got
	})
	require.True(t, got, "expected a verdict within the pump budget")
	require.Equal(t, proto.VerdictOK, v)
}

func TestEngine_ClientDisconnectMidCheckStillBuildsPool(t *testing.T) {
	addr, stopBackend := okBackend(t)
	defer stopBackend()

	h := newHarness(t)
	clientFD := h.dialClient(socketPathOf(t, h))
	sendRequest(t, clientFD, addr)
	unix.Close(clientFD)

	h.pump(50, func() bool { return h.engine.pool.Len() > 0 })
	require.Equal(t, 1, h.engine.pool.Len(), "the outbound check must complete and pool even after the client vanishes")
}

// readVerdictNonBlocking polls fd once without blocking the pump loop.
func readVerdictNonBlocking(fd int) (proto.Verdict, bool) {
	_ = unix.SetNonblock(fd, true)
	defer unix.SetNonblock(fd, false)
	var buf [proto.VerdictSize]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil || n != proto.VerdictSize {
		return 0, false
	}
	v, err := proto.DecodeVerdict(buf[:])
	if err != nil {
		return 0, false
	}
	return v, true
}

// socketPathOf is a test-only accessor recovering the path a harness's
// listener bound, since ipc.Listener does not expose it directly.
func socketPathOf(t *testing.T, h *testHarness) string {
	t.Helper()
	sa, err := unix.Getsockname(h.listener.FD())
	require.NoError(t, err)
	su, ok := sa.(*unix.SockaddrUnix)
	require.True(t, ok)
	return su.Name
}
