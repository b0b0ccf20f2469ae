package ipc

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/alepersan/hckworker/internal/proto"
)

func tempSocketPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "hckworker-test.sock")
}

func TestListenAcceptRoundTrip(t *testing.T) {
	path := tempSocketPath(t)
	ln, err := Listen(path)
	require.NoError(t, err)
	defer ln.Close()

	clientFD, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(clientFD)

	err = unix.Connect(clientFD, &unix.SockaddrUnix{Name: path})
	require.NoError(t, err)

	serverFD, err := ln.Accept()
	require.NoError(t, err)
	defer unix.Close(serverFD)

	req := proto.Request{AddrLen: 16}
	req.Addr[0] = 0xAB
	buf := req.Bytes()
	n, err := unix.Write(clientFD, buf[:])
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	got, err := ReadRequest(serverFD)
	require.NoError(t, err)
	require.Equal(t, req, got)

	err = WriteVerdict(serverFD, proto.VerdictOK)
	require.NoError(t, err)

	var vbuf [proto.VerdictSize]byte
	n, err = unix.Read(clientFD, vbuf[:])
	require.NoError(t, err)
	require.Equal(t, proto.VerdictSize, n)
	v, err := proto.DecodeVerdict(vbuf[:])
	require.NoError(t, err)
	require.Equal(t, proto.VerdictOK, v)
}

func TestListenRejectsBadPath(t *testing.T) {
	_, err := Listen("/nonexistent-dir-xyz/socket")
	require.Error(t, err)
}

func TestReadRequestShortFrameErrors(t *testing.T) {
	path := tempSocketPath(t)
	ln, err := Listen(path)
	require.NoError(t, err)
	defer ln.Close()

	clientFD, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(clientFD)
	require.NoError(t, unix.Connect(clientFD, &unix.SockaddrUnix{Name: path}))

	serverFD, err := ln.Accept()
	require.NoError(t, err)
	defer unix.Close(serverFD)

	_, err = unix.Write(clientFD, []byte{1, 2, 3})
	require.NoError(t, err)
	unix.Close(clientFD)

	_, err = ReadRequest(serverFD)
	require.Error(t, err)
}

func TestBindPathAbstractNamespace(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("abstract namespace sockets require Linux")
	}
	sa := bindPath("@hck-test")
	su, ok := sa.(*unix.SockaddrUnix)
	require.True(t, ok)
	require.Equal(t, "\x00hck-test", su.Name)
}
