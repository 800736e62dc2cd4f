package xpacket

import (
	"net"
	"net/netip"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"
)

// LayersToIPv6 serializes the layers, computing lengths and checksums, and
// parses the result back starting from the IPv6 header.
func LayersToIPv6(t *testing.T, lyrs ...gopacket.SerializableLayer) gopacket.Packet {
	t.Helper()

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, lyrs...))

	pkt := ParseIPv6Packet(buf.Bytes())
	require.Empty(t, pkt.ErrorLayer(), "%#+v", lyrs)
	return pkt
}

// ICMPv6Datagram builds an IPv6 datagram carrying an ICMPv6 message. The
// body is everything after the type, code and checksum fields.
func ICMPv6Datagram(t *testing.T, src, dst netip.Addr, hopLimit uint8, typ uint8, code uint8, body []byte) []byte {
	t.Helper()

	ip6 := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   hopLimit,
		SrcIP:      net.IP(src.AsSlice()),
		DstIP:      net.IP(dst.AsSlice()),
	}
	icmp := &layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(typ, code),
	}
	require.NoError(t, icmp.SetNetworkLayerForChecksum(ip6))

	return LayersToIPv6(t, ip6, icmp, gopacket.Payload(body)).Data()
}

// ParseIPv6Packet decodes a raw IPv6 datagram.
func ParseIPv6Packet(data []byte) gopacket.Packet {
	return gopacket.NewPacket(
		data,
		layers.LayerTypeIPv6,
		gopacket.Default,
	)
}
