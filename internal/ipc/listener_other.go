//go:build !linux

package ipc

import "golang.org/x/sys/unix"

// bindPath builds the sockaddr for path. Non-Linux platforms have no
// abstract namespace, so a leading '@' is simply stripped and the
// listener binds a real filesystem path instead — development and test
// use only, never the deployment target.
func bindPath(path string) unix.Sockaddr {
	name := path
	if len(name) > 0 && name[0] == '@' {
		name = name[1:]
	}
	return &unix.SockaddrUnix{Name: name}
}
