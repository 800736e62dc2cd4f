package xnetip

import (
	"math/bits"
	"net/netip"
)

var (
	// AllNodes is the link-local all-nodes multicast group.
	AllNodes = netip.MustParseAddr("ff02::1")
	// AllRouters is the link-local all-routers multicast group.
	AllRouters = netip.MustParseAddr("ff02::2")
	// AllRPLNodes is the link-local all-RPL-nodes multicast group.
	AllRPLNodes = netip.MustParseAddr("ff02::1a")
	// Unspecified is the IPv6 unspecified address.
	Unspecified = netip.IPv6Unspecified()
)

var solicitedNodePrefix = [13]byte{0xff, 0x02, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x01, 0xff}

// SolicitedNode returns the solicited-node multicast group of addr
// (RFC 4291 2.7.1).
func SolicitedNode(addr netip.Addr) netip.Addr {
	src := addr.As16()
	var dst [16]byte
	copy(dst[:], solicitedNodePrefix[:])
	copy(dst[13:], src[13:])
	return netip.AddrFrom16(dst)
}

// IsSolicitedNode reports whether addr is a solicited-node multicast group.
func IsSolicitedNode(addr netip.Addr) bool {
	if !addr.Is6() {
		return false
	}
	b := addr.As16()
	return [13]byte(b[:13]) == solicitedNodePrefix
}

// WithInterfaceID replaces the low 64 bits of addr with iid.
func WithInterfaceID(addr netip.Addr, iid [8]byte) netip.Addr {
	b := addr.As16()
	copy(b[8:], iid[:])
	return netip.AddrFrom16(b)
}

// InterfaceID returns the low 64 bits of addr.
func InterfaceID(addr netip.Addr) [8]byte {
	b := addr.As16()
	return [8]byte(b[8:])
}

// LinkLocal returns the fe80::/64 address with the given interface
// identifier.
func LinkLocal(iid [8]byte) netip.Addr {
	return WithInterfaceID(netip.MustParseAddr("fe80::"), iid)
}

// MulticastMAC returns the Ethernet group address that carries the IPv6
// multicast group addr (RFC 2464 7).
func MulticastMAC(addr netip.Addr) [6]byte {
	b := addr.As16()
	return [6]byte{0x33, 0x33, b[12], b[13], b[14], b[15]}
}

// CommonPrefixLen returns the number of leading bits a and b share.
func CommonPrefixLen(a, b netip.Addr) int {
	x, y := a.As16(), b.As16()
	n := 0
	for idx := range x {
		d := x[idx] ^ y[idx]
		if d != 0 {
			return n + bits.LeadingZeros8(d)
		}
		n += 8
	}
	return n
}
