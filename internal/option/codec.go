package option

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/yanet-platform/nd6/internal/lladdr"
)

// InfiniteLifetime is the all-ones lifetime value meaning "forever".
const InfiniteLifetime = 0xffffffff

const (
	prefixInfoLen = 4
	mtuLen        = 1
	aroLen        = 2
	rdnssMinLen   = 3
)

const (
	prefixFlagOnLink     = 0x80
	prefixFlagAutonomous = 0x40
)

// LinkAddrSize returns the option size in bytes needed to carry a
// link-layer address of n bytes: 8 for a MAC-48, 16 for an EUI-64.
func LinkAddrSize(n int) int {
	return (2 + n + Unit - 1) / Unit * Unit
}

// DecodeLinkAddr extracts an n-byte link-layer address from an SLLAO or
// TLLAO.
func DecodeLinkAddr(opt Option, n int) (lladdr.Addr, error) {
	if len(opt.Data) < 2+n {
		return lladdr.Addr{}, fmt.Errorf("%w: %s of %d bytes cannot carry a %d byte address",
			ErrBadLength, opt.Type, len(opt.Data), n)
	}
	return lladdr.FromBytes(opt.Data[2 : 2+n])
}

// AppendLinkAddr appends an SLLAO or TLLAO carrying addr, zero padded to a
// multiple of 8 bytes.
func AppendLinkAddr(b []byte, t Type, addr lladdr.Addr) []byte {
	size := LinkAddrSize(addr.Len())
	b = append(b, byte(t), byte(size/Unit))
	b = append(b, addr.Bytes()...)
	for range size - 2 - addr.Len() {
		b = append(b, 0)
	}
	return b
}

// PrefixInfo is the Prefix Information option (RFC 4861 4.6.2).
type PrefixInfo struct {
	PrefixLen         uint8
	OnLink            bool
	Autonomous        bool
	ValidLifetime     uint32
	PreferredLifetime uint32
	Prefix            netip.Addr
}

// Flags returns the L/A flags byte.
func (m PrefixInfo) Flags() uint8 {
	var flags uint8
	if m.OnLink {
		flags |= prefixFlagOnLink
	}
	if m.Autonomous {
		flags |= prefixFlagAutonomous
	}
	return flags
}

// DecodePrefixInfo decodes a Prefix Information option.
func DecodePrefixInfo(opt Option) (PrefixInfo, error) {
	if opt.Len != prefixInfoLen {
		return PrefixInfo{}, fmt.Errorf("%w: PIO length %d", ErrBadLength, opt.Len)
	}
	d := opt.Data
	if d[2] > 128 {
		return PrefixInfo{}, fmt.Errorf("%w: PIO prefix length %d", ErrBadLength, d[2])
	}
	return PrefixInfo{
		PrefixLen:         d[2],
		OnLink:            d[3]&prefixFlagOnLink != 0,
		Autonomous:        d[3]&prefixFlagAutonomous != 0,
		ValidLifetime:     binary.BigEndian.Uint32(d[4:8]),
		PreferredLifetime: binary.BigEndian.Uint32(d[8:12]),
		Prefix:            netip.AddrFrom16([16]byte(d[16:32])),
	}, nil
}

// AppendPrefixInfo appends a Prefix Information option.
func AppendPrefixInfo(b []byte, p PrefixInfo) []byte {
	b = append(b, byte(TypePrefixInfo), prefixInfoLen, p.PrefixLen, p.Flags())
	b = binary.BigEndian.AppendUint32(b, p.ValidLifetime)
	b = binary.BigEndian.AppendUint32(b, p.PreferredLifetime)
	b = append(b, 0, 0, 0, 0)
	addr := p.Prefix.As16()
	return append(b, addr[:]...)
}

// DecodeMTU decodes the MTU option.
func DecodeMTU(opt Option) (uint32, error) {
	if opt.Len != mtuLen {
		return 0, fmt.Errorf("%w: MTU length %d", ErrBadLength, opt.Len)
	}
	return binary.BigEndian.Uint32(opt.Data[4:8]), nil
}

// AppendMTU appends the MTU option.
func AppendMTU(b []byte, mtu uint32) []byte {
	b = append(b, byte(TypeMTU), mtuLen, 0, 0)
	return binary.BigEndian.AppendUint32(b, mtu)
}

// RDNSS is the Recursive DNS Server option (RFC 8106).
type RDNSS struct {
	Lifetime uint32
	Servers  []netip.Addr
}

// DecodeRDNSS decodes the Recursive DNS Server option.
func DecodeRDNSS(opt Option) (RDNSS, error) {
	if opt.Len < rdnssMinLen || (opt.Len-1)%2 != 0 {
		return RDNSS{}, fmt.Errorf("%w: RDNSS length %d", ErrBadLength, opt.Len)
	}
	d := opt.Data
	out := RDNSS{Lifetime: binary.BigEndian.Uint32(d[4:8])}
	for off := 8; off+16 <= len(d); off += 16 {
		out.Servers = append(out.Servers, netip.AddrFrom16([16]byte(d[off:off+16])))
	}
	return out, nil
}

// AppendRDNSS appends a Recursive DNS Server option.
func AppendRDNSS(b []byte, r RDNSS) []byte {
	b = append(b, byte(TypeRDNSS), byte(1+2*len(r.Servers)), 0, 0)
	b = binary.BigEndian.AppendUint32(b, r.Lifetime)
	for _, s := range r.Servers {
		addr := s.As16()
		b = append(b, addr[:]...)
	}
	return b
}

// Status is the Address Registration Option status (RFC 6775 4.1).
type Status uint8

const (
	StatusSuccess   Status = 0
	StatusDuplicate Status = 1
	StatusNCFull    Status = 2
)

func (m Status) String() string {
	switch m {
	case StatusSuccess:
		return "SUCCESS"
	case StatusDuplicate:
		return "DUPLICATE"
	case StatusNCFull:
		return "RTR_NC_FULL"
	default:
		return fmt.Sprintf("STATUS(%d)", uint8(m))
	}
}

// ARO is the Address Registration Option.
//
// Lifetime is expressed in units of 60 seconds.
type ARO struct {
	Status   Status
	Lifetime uint16
	EUI64    [8]byte
}

// DecodeARO decodes an Address Registration Option.
func DecodeARO(opt Option) (ARO, error) {
	if opt.Len != aroLen {
		return ARO{}, fmt.Errorf("%w: ARO length %d", ErrBadLength, opt.Len)
	}
	d := opt.Data
	return ARO{
		Status:   Status(d[2]),
		Lifetime: binary.BigEndian.Uint16(d[6:8]),
		EUI64:    [8]byte(d[8:16]),
	}, nil
}

// AppendARO appends an Address Registration Option with zeroed reserved
// fields.
func AppendARO(b []byte, a ARO) []byte {
	b = append(b, byte(TypeARO), aroLen, byte(a.Status), 0, 0, 0)
	b = binary.BigEndian.AppendUint16(b, a.Lifetime)
	return append(b, a.EUI64[:]...)
}
