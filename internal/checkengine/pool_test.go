package checkengine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alepersan/hckworker/internal/proto"
)

func TestPoolInsertLookupRemove(t *testing.T) {
	p := NewPool()
	var addr proto.RemoteAddress
	addr[0] = 1

	require.True(t, p.Insert(addr, 5))
	fd, ok := p.Lookup(addr)
	require.True(t, ok)
	require.Equal(t, 5, fd)
	require.Equal(t, 1, p.Len())

	p.Remove(addr)
	_, ok = p.Lookup(addr)
	require.False(t, ok)
	require.Equal(t, 0, p.Len())
}

func TestPoolInsertDuplicateAddressLoses(t *testing.T) {
	p := NewPool()
	var addr proto.RemoteAddress
	addr[0] = 2

	require.True(t, p.Insert(addr, 10))
	require.False(t, p.Insert(addr, 11))

	fd, ok := p.Lookup(addr)
	require.True(t, ok)
	require.Equal(t, 10, fd, "the original pooled connection must win, not the new one")
}
