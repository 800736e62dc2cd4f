package nd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/yanet-platform/nd6/internal/lladdr"
)

// HopLimit is the hop limit every ND message is sent and received with.
const HopLimit = 255

// ND message types.
const (
	TypeRouterSolicitation    uint8 = layers.ICMPv6TypeRouterSolicitation
	TypeRouterAdvertisement   uint8 = layers.ICMPv6TypeRouterAdvertisement
	TypeNeighborSolicitation  uint8 = layers.ICMPv6TypeNeighborSolicitation
	TypeNeighborAdvertisement uint8 = layers.ICMPv6TypeNeighborAdvertisement
)

var (
	// ErrNotICMPv6 is returned by Decode for non-ICMPv6 datagrams,
	// including ones carrying extension headers.
	ErrNotICMPv6 = errors.New("not an ICMPv6 datagram")
	// ErrChecksum is returned by Decode when the ICMPv6 checksum does not
	// match.
	ErrChecksum = errors.New("bad ICMPv6 checksum")
)

// Packet is an ICMPv6 message together with its IPv6 envelope.
//
// Body holds the message after the 4-byte ICMPv6 header. A Packet owns its
// Body, it never aliases the buffer it was decoded from.
type Packet struct {
	Src      netip.Addr
	Dst      netip.Addr
	HopLimit uint8
	Type     uint8
	Code     uint8
	Body     []byte

	// LinkSrc is the link-layer source of a received packet when known.
	LinkSrc lladdr.Addr
	// LinkDst is the link-layer destination of an outgoing packet. The zero
	// value lets the sender derive it from Dst.
	LinkDst lladdr.Addr
}

// Decode parses an IPv6 datagram carrying an ICMPv6 message and verifies
// its checksum.
func Decode(data []byte) (*Packet, error) {
	var ip6 layers.IPv6
	if err := ip6.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("failed to decode IPv6 header: %w", err)
	}
	if ip6.NextHeader != layers.IPProtocolICMPv6 {
		return nil, fmt.Errorf("%w: next header %s", ErrNotICMPv6, ip6.NextHeader)
	}

	var icmp layers.ICMPv6
	if err := icmp.DecodeFromBytes(ip6.Payload, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("failed to decode ICMPv6 header: %w", err)
	}

	sum, err := checksum(&ip6, icmp.TypeCode, icmp.Payload)
	if err != nil {
		return nil, err
	}
	if sum != icmp.Checksum {
		return nil, fmt.Errorf("%w: got %#04x, want %#04x", ErrChecksum, icmp.Checksum, sum)
	}

	src, _ := netip.AddrFromSlice(ip6.SrcIP)
	dst, _ := netip.AddrFromSlice(ip6.DstIP)
	return &Packet{
		Src:      src,
		Dst:      dst,
		HopLimit: ip6.HopLimit,
		Type:     icmp.TypeCode.Type(),
		Code:     icmp.TypeCode.Code(),
		Body:     slices.Clone(icmp.Payload),
	}, nil
}

// Encode serializes the packet into an IPv6 datagram with a computed
// ICMPv6 checksum.
func (m *Packet) Encode() ([]byte, error) {
	ip6 := m.ipv6()
	icmp := &layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(m.Type, m.Code),
	}
	if err := icmp.SetNetworkLayerForChecksum(ip6); err != nil {
		return nil, fmt.Errorf("failed to set network layer for checksum: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	if err := gopacket.SerializeLayers(buf, opts, ip6, icmp, gopacket.Payload(m.Body)); err != nil {
		return nil, fmt.Errorf("failed to serialize ND message: %w", err)
	}
	return buf.Bytes(), nil
}

func (m *Packet) ipv6() *layers.IPv6 {
	return &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   m.HopLimit,
		SrcIP:      net.IP(m.Src.AsSlice()),
		DstIP:      net.IP(m.Dst.AsSlice()),
	}
}

func checksum(ip6 *layers.IPv6, typeCode layers.ICMPv6TypeCode, payload []byte) (uint16, error) {
	icmp := &layers.ICMPv6{TypeCode: typeCode}
	if err := icmp.SetNetworkLayerForChecksum(ip6); err != nil {
		return 0, fmt.Errorf("failed to set network layer for checksum: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, icmp, gopacket.Payload(payload)); err != nil {
		return 0, fmt.Errorf("failed to compute ICMPv6 checksum: %w", err)
	}
	return binary.BigEndian.Uint16(buf.Bytes()[2:4]), nil
}

// TypeName returns a short name for an ND message type.
func TypeName(t uint8) string {
	switch t {
	case TypeRouterSolicitation:
		return "RS"
	case TypeRouterAdvertisement:
		return "RA"
	case TypeNeighborSolicitation:
		return "NS"
	case TypeNeighborAdvertisement:
		return "NA"
	default:
		return fmt.Sprintf("ICMPv6(%d)", t)
	}
}
