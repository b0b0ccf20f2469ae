// Package hckclient is the collaborator a monitoring-agent plugin
// shim uses to ask hckworker "is this TCP endpoint serving valid
// HTTP?": it opens an IPC connection, resolves (host, port) on the
// caller's behalf, frames one check per call, and retries exactly once
// when the worker reports a stale pooled connection.
package hckclient

import (
	"context"
	"fmt"
	"net"

	"github.com/alepersan/hckworker/internal/proto"
	"github.com/alepersan/hckworker/internal/sockaddr"
)

// Verdict mirrors the worker's wire codes, plus the client-only
// ClientError value the worker itself never sends.
type Verdict = proto.Verdict

const (
	Fail        = proto.VerdictFail
	OK          = proto.VerdictOK
	ClientError = proto.VerdictClientError
)

// Conn is one IPC connection to the worker. It is not safe for
// concurrent use by multiple goroutines — the plugin shim this mirrors
// keeps one Conn per agent thread.
type Conn struct {
	nc net.Conn
}

// Connect dials the worker's listener at path (abstract on Linux when
// prefixed '@', a plain filesystem path otherwise).
func Connect(ctx context.Context, path string) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "unix", unixAddr(path))
	if err != nil {
		return nil, fmt.Errorf("hckclient: connect: %w", err)
	}
	return &Conn{nc: nc}, nil
}

func unixAddr(path string) string {
	if len(path) > 0 && path[0] == '@' {
		return "@" + path[1:]
	}
	return path
}

// Close closes the underlying IPC connection.
func (c *Conn) Close() error { return c.nc.Close() }

// Probe is the zero-byte liveness check run before issuing a check on
// a connection that may have gone stale since it was last used.
func (c *Conn) Probe() error {
	_, err := c.nc.Write(nil)
	return err
}

// Check resolves (host, port) client-side, frames a Request to the
// worker, and reads back a Verdict. A worker-reported retry (the pool
// lent a stale connection) triggers exactly one re-issue; a second
// retry response, or any transport failure, yields Fail/ClientError.
func (c *Conn) Check(ctx context.Context, host, port string) (Verdict, error) {
	addr, err := resolve(ctx, host, port)
	if err != nil {
		return ClientError, err
	}

	v, err := c.checkOnce(addr)
	if err != nil {
		return ClientError, err
	}
	if v != proto.VerdictRetry {
		return v, nil
	}

	v, err = c.checkOnce(addr)
	if err != nil {
		return ClientError, err
	}
	if v == proto.VerdictRetry {
		// The retry itself came back stale again: the contract caps
		// this at one re-issue, so it's a plain failure from here.
		return Fail, nil
	}
	return v, nil
}

func (c *Conn) checkOnce(addr *net.TCPAddr) (Verdict, error) {
	rawAddr, addrLen, err := sockaddr.Encode(addr)
	if err != nil {
		return ClientError, err
	}
	req := proto.Request{Addr: rawAddr, AddrLen: addrLen}
	if err := req.Marshal(c.nc); err != nil {
		return ClientError, fmt.Errorf("hckclient: write request: %w", err)
	}
	v, err := proto.ReadVerdict(c.nc)
	if err != nil {
		return ClientError, fmt.Errorf("hckclient: read verdict: %w", err)
	}
	return v, nil
}

func resolve(ctx context.Context, host, port string) (*net.TCPAddr, error) {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("hckclient: resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("hckclient: no addresses for %s", host)
	}
	p, err := net.DefaultResolver.LookupPort(ctx, "tcp", port)
	if err != nil {
		return nil, fmt.Errorf("hckclient: resolve port %s: %w", port, err)
	}
	return &net.TCPAddr{IP: ips[0], Port: p}, nil
}
