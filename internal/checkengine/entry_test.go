package checkengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEntryHasClient(t *testing.T) {
	e := &Entry{ClientFD: NoClient}
	require.False(t, e.HasClient())
	e.ClientFD = 7
	require.True(t, e.HasClient())
}

func TestTablePutGetDelete(t *testing.T) {
	tbl := NewTable()
	e := &Entry{RemoteFD: 5, State: StateConnecting, ExpiresAt: time.Now()}
	tbl.Put(e)

	got, ok := tbl.Get(5)
	require.True(t, ok)
	require.Same(t, e, got)
	require.Equal(t, 1, tbl.Len())

	tbl.Delete(5)
	_, ok = tbl.Get(5)
	require.False(t, ok)
	require.Equal(t, 0, tbl.Len())
}

func TestTableRebind(t *testing.T) {
	tbl := NewTable()
	e := &Entry{RemoteFD: 5, State: StateConnecting}
	tbl.Put(e)

	e.RemoteFD = 9
	tbl.Rebind(5, e)

	_, ok := tbl.Get(5)
	require.False(t, ok)
	got, ok := tbl.Get(9)
	require.True(t, ok)
	require.Same(t, e, got)
}

func TestTableEach(t *testing.T) {
	tbl := NewTable()
	tbl.Put(&Entry{RemoteFD: 1})
	tbl.Put(&Entry{RemoteFD: 2})

	seen := map[int]bool{}
	tbl.Each(func(fd int, e *Entry) { seen[fd] = true })
	require.Len(t, seen, 2)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "connecting", StateConnecting.String())
	require.Equal(t, "keepalive", StateKeepAlive.String())
	require.Equal(t, "unknown", State(99).String())
}
