package link

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yanet-platform/nd6/internal/lladdr"
)

func TestMulticastLinkAddr(t *testing.T) {
	tests := []struct {
		name  string
		group string
		n     int
		want  string
	}{
		{name: "AllNodes", group: "ff02::1", n: lladdr.EthernetLen, want: "33:33:00:00:00:01"},
		{name: "SolicitedNode", group: "ff02::1:ff00:1234", n: lladdr.EthernetLen, want: "33:33:ff:00:12:34"},
		{name: "Mesh", group: "ff02::1a", n: lladdr.IEEE802154Len, want: "ff:ff:ff:ff:ff:ff:ff:ff"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := MulticastLinkAddr(netip.MustParseAddr(test.group), test.n)
			assert.Equal(t, lladdr.MustParse(test.want), got)
		})
	}
}

func TestHtons(t *testing.T) {
	assert.Equal(t, uint16(0xdd86), htons(0x86dd))
}
