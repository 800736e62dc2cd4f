package nd

import (
	"net"
	"net/netip"
	"testing"

	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanet-platform/nd6/common/go/xnetip"
	"github.com/yanet-platform/nd6/common/go/xpacket"
	"github.com/yanet-platform/nd6/internal/option"
)

func TestDecode(t *testing.T) {
	a := netip.MustParseAddr("fe80::a")
	b := netip.MustParseAddr("fe80::b")
	body := nsBody(b, option.AppendLinkAddr(nil, option.TypeSLLAO, macA))

	data := xpacket.ICMPv6Datagram(t, a, xnetip.SolicitedNode(b), HopLimit, TypeNeighborSolicitation, 0, body)
	pkt, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, a, pkt.Src)
	assert.Equal(t, xnetip.SolicitedNode(b), pkt.Dst)
	assert.Equal(t, uint8(HopLimit), pkt.HopLimit)
	assert.Equal(t, TypeNeighborSolicitation, pkt.Type)
	assert.Zero(t, pkt.Code)
	assert.Equal(t, body, pkt.Body)

	data[len(data)-1] ^= 0xff
	_, err = Decode(data)
	assert.ErrorIs(t, err, ErrChecksum)
	assert.Equal(t, body, pkt.Body, "decoded body does not alias the buffer")
}

func TestDecodeRejectsOtherProtocols(t *testing.T) {
	ip6 := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolUDP,
		HopLimit:   64,
		SrcIP:      net.ParseIP("2001:db8::1"),
		DstIP:      net.ParseIP("2001:db8::2"),
	}
	udp := &layers.UDP{SrcPort: 1000, DstPort: 2000}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip6))

	data := xpacket.LayersToIPv6(t, ip6, udp).Data()
	_, err := Decode(data)
	assert.ErrorIs(t, err, ErrNotICMPv6)

	_, err = Decode([]byte{0x60, 0, 0})
	assert.Error(t, err)
}

func TestEncodeAdvertisement(t *testing.T) {
	b := netip.MustParseAddr("2001:db8::b")
	a := netip.MustParseAddr("2001:db8::a")
	na := NewNA(b, a, b, FlagSolicited|FlagOverride, option.AppendLinkAddr(nil, option.TypeTLLAO, macB))

	data, err := na.Encode()
	require.NoError(t, err)

	pkt := xpacket.ParseIPv6Packet(data)
	require.Nil(t, pkt.ErrorLayer())

	ip6 := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	assert.Equal(t, uint8(HopLimit), ip6.HopLimit)
	assert.Equal(t, layers.IPProtocolICMPv6, ip6.NextHeader)

	adv, ok := pkt.Layer(layers.LayerTypeICMPv6NeighborAdvertisement).(*layers.ICMPv6NeighborAdvertisement)
	require.True(t, ok)
	assert.True(t, adv.Solicited())
	assert.True(t, adv.Override())
	assert.False(t, adv.Router())
	assert.True(t, adv.TargetAddress.Equal(net.IP(b.AsSlice())))
	require.Len(t, adv.Options, 1)
	assert.Equal(t, layers.ICMPv6OptTargetAddress, adv.Options[0].Type)
	assert.Equal(t, macB.Bytes(), adv.Options[0].Data[:6])

	// The encoded datagram decodes back to the same message.
	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, na.Body, back.Body)
	assert.Equal(t, na.Src, back.Src)
	assert.Equal(t, na.Dst, back.Dst)
}
