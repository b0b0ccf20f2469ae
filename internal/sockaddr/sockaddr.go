// Package sockaddr converts between Go's net.TCPAddr and the raw,
// fixed-width socket-address bytes carried in a proto.Request. The
// layout mirrors POSIX's sockaddr_in / sockaddr_in6: a 2-byte address
// family, followed by the port in network byte order, followed by the
// address bytes. This lets the worker and pkg/hckclient agree on wire
// bytes without either side depending on syscall-level sockaddr types.
package sockaddr

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/alepersan/hckworker/internal/proto"
)

// Address family tags, matching Linux's AF_INET / AF_INET6. Both ends
// of the transport encode and decode through this package, so the tags
// are used as given on every platform.
const (
	familyINET  = 2
	familyINET6 = 10
)

// Encode packs addr into a RemoteAddress and returns the valid prefix
// length (16 for IPv4, 28 for IPv6).
func Encode(addr *net.TCPAddr) (proto.RemoteAddress, uint32, error) {
	var out proto.RemoteAddress
	ip, ok := netip.AddrFromSlice(addr.IP)
	if !ok {
		return out, 0, fmt.Errorf("sockaddr: invalid IP %v", addr.IP)
	}
	ip = ip.Unmap()

	if ip.Is4() {
		binary.BigEndian.PutUint16(out[0:2], familyINET)
		binary.BigEndian.PutUint16(out[2:4], uint16(addr.Port))
		b := ip.As4()
		copy(out[4:8], b[:])
		return out, 16, nil
	}

	binary.BigEndian.PutUint16(out[0:2], familyINET6)
	binary.BigEndian.PutUint16(out[2:4], uint16(addr.Port))
	// bytes [4:8) are flowinfo, left zero.
	b := ip.As16()
	copy(out[8:24], b[:])
	// bytes [24:28) are scope_id, left zero.
	return out, 28, nil
}

// Decode unpacks a canonicalised RemoteAddress back into a *net.TCPAddr.
func Decode(addr proto.RemoteAddress, addrLen uint32) (*net.TCPAddr, error) {
	family := binary.BigEndian.Uint16(addr[0:2])
	port := int(binary.BigEndian.Uint16(addr[2:4]))

	switch family {
	case familyINET:
		if addrLen < 16 {
			return nil, fmt.Errorf("sockaddr: short IPv4 address (%d bytes)", addrLen)
		}
		ip := netip.AddrFrom4([4]byte(addr[4:8]))
		return &net.TCPAddr{IP: ip.AsSlice(), Port: port}, nil
	case familyINET6:
		if addrLen < 28 {
			return nil, fmt.Errorf("sockaddr: short IPv6 address (%d bytes)", addrLen)
		}
		ip := netip.AddrFrom16([16]byte(addr[8:24]))
		return &net.TCPAddr{IP: ip.AsSlice(), Port: port}, nil
	default:
		return nil, fmt.Errorf("sockaddr: unknown address family %d", family)
	}
}
