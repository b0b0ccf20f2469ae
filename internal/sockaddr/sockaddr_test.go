package sockaddr

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeIPv4(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 18080}
	raw, n, err := Encode(addr)
	require.NoError(t, err)
	require.EqualValues(t, 16, n)

	raw.Canonicalize(n)
	got, err := Decode(raw, n)
	require.NoError(t, err)
	require.Equal(t, addr.Port, got.Port)
	require.True(t, addr.IP.Equal(got.IP))
}

func TestEncodeDecodeIPv6(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("::1"), Port: 443}
	raw, n, err := Encode(addr)
	require.NoError(t, err)
	require.EqualValues(t, 28, n)

	got, err := Decode(raw, n)
	require.NoError(t, err)
	require.Equal(t, addr.Port, got.Port)
	require.True(t, addr.IP.Equal(got.IP))
}

func TestTwoEqualAddressesCanonicalizeEqual(t *testing.T) {
	a1 := &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 80}
	a2 := &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 80}

	r1, n1, err := Encode(a1)
	require.NoError(t, err)
	r2, n2, err := Encode(a2)
	require.NoError(t, err)

	r1.Canonicalize(n1)
	r2.Canonicalize(n2)
	require.Equal(t, r1, r2)
}
