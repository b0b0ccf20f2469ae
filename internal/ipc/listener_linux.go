//go:build linux

package ipc

import "golang.org/x/sys/unix"

// bindPath builds the sockaddr for path. A path beginning with '@' is
// rewritten to Linux's abstract namespace (a leading NUL byte, no
// filesystem entry, no cleanup required on exit).
func bindPath(path string) unix.Sockaddr {
	sa := &unix.SockaddrUnix{Name: path}
	if len(path) > 0 && path[0] == '@' {
		sa.Name = "\x00" + path[1:]
	}
	return sa
}
