package lladdr

import (
	"errors"
	"fmt"
	"net"
)

const (
	// EthernetLen is the length of an IEEE 802.3 MAC address.
	EthernetLen = 6
	// IEEE802154Len is the length of an IEEE 802.15.4 long address.
	IEEE802154Len = 8
)

// ErrLength is returned when a link-layer address has an unsupported length.
var ErrLength = errors.New("unsupported link-layer address length")

// Addr is a link-layer address of either 6 or 8 bytes.
//
// The zero value is the absent address. Addr is comparable and can be used
// as a map key.
type Addr struct {
	buf [IEEE802154Len]byte
	len uint8
}

// FromBytes constructs an address from its wire representation.
func FromBytes(b []byte) (Addr, error) {
	switch len(b) {
	case EthernetLen, IEEE802154Len:
	default:
		return Addr{}, fmt.Errorf("%w: %d", ErrLength, len(b))
	}

	a := Addr{len: uint8(len(b))}
	copy(a.buf[:], b)
	return a, nil
}

// Parse parses a colon separated address like "02:00:00:00:00:01".
func Parse(s string) (Addr, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return Addr{}, fmt.Errorf("failed to parse link-layer address %q: %w", s, err)
	}
	return FromBytes(hw)
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Addr {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Len returns the address length in bytes, zero for the absent address.
func (m Addr) Len() int {
	return int(m.len)
}

// IsZero reports whether the address is absent.
func (m Addr) IsZero() bool {
	return m.len == 0
}

// Bytes returns a copy of the address bytes.
func (m Addr) Bytes() []byte {
	b := make([]byte, m.len)
	copy(b, m.buf[:m.len])
	return b
}

// HardwareAddr returns the address as net.HardwareAddr.
func (m Addr) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr(m.Bytes())
}

// EUI64 returns the 64-bit extended unique identifier of this address.
//
// 802.15.4 long addresses are EUI-64 already, MAC-48 addresses are expanded
// by inserting 0xfffe in the middle.
func (m Addr) EUI64() [8]byte {
	var eui [8]byte
	switch m.len {
	case IEEE802154Len:
		copy(eui[:], m.buf[:8])
	case EthernetLen:
		copy(eui[:3], m.buf[:3])
		eui[3] = 0xff
		eui[4] = 0xfe
		copy(eui[5:], m.buf[3:6])
	}
	return eui
}

// InterfaceID returns the modified EUI-64 interface identifier (RFC 4291
// Appendix A), which is the EUI-64 with the universal/local bit inverted.
func (m Addr) InterfaceID() [8]byte {
	iid := m.EUI64()
	iid[0] ^= 0x02
	return iid
}

// FromInterfaceID reverses InterfaceID for an address of the given length.
func FromInterfaceID(iid [8]byte, length int) (Addr, error) {
	iid[0] ^= 0x02
	switch length {
	case IEEE802154Len:
		return FromBytes(iid[:])
	case EthernetLen:
		return FromBytes([]byte{iid[0], iid[1], iid[2], iid[5], iid[6], iid[7]})
	default:
		return Addr{}, fmt.Errorf("%w: %d", ErrLength, length)
	}
}

func (m Addr) String() string {
	if m.len == 0 {
		return "<none>"
	}
	return m.HardwareAddr().String()
}
