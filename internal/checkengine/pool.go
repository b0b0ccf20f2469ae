package checkengine

import "github.com/alepersan/hckworker/internal/proto"

// Pool indexes idle, post-success outbound sockets by RemoteAddress. It
// holds no ownership over the underlying Entry — the Table owns that;
// Pool only indexes it. Every value in Pool must be a key of the Table
// whose Entry has State == StateKeepAlive and ClientFD == NoClient.
type Pool struct {
	byAddr map[proto.RemoteAddress]int
}

// NewPool returns an empty Pool.
func NewPool() *Pool {
	return &Pool{byAddr: make(map[proto.RemoteAddress]int)}
}

// Lookup returns the pooled fd for addr, if any. addr must already be
// canonicalised (see proto.RemoteAddress.Canonicalize).
func (p *Pool) Lookup(addr proto.RemoteAddress) (fd int, ok bool) {
	fd, ok = p.byAddr[addr]
	return fd, ok
}

// Remove drops addr's pool membership, e.g. on reuse or eviction. It
// does not touch the Table; the caller is responsible for that.
func (p *Pool) Remove(addr proto.RemoteAddress) {
	delete(p.byAddr, addr)
}

// Insert records fd as the idle connection for addr. If addr is already
// pooled, Insert is a no-op and returns false: the new connection loses
// and stays discarded, the old one stays pooled. The caller must close
// fd and destroy its Table entry when Insert returns false.
func (p *Pool) Insert(addr proto.RemoteAddress, fd int) (inserted bool) {
	if _, exists := p.byAddr[addr]; exists {
		return false
	}
	p.byAddr[addr] = fd
	return true
}

// Len returns the number of pooled connections.
func (p *Pool) Len() int { return len(p.byAddr) }
