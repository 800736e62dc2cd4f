package lladdr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromBytes(t *testing.T) {
	_, err := FromBytes([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrLength)

	a, err := FromBytes([]byte{2, 0, 0, 0, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, EthernetLen, a.Len())
	assert.Equal(t, "02:00:00:00:00:01", a.String())
	assert.True(t, Addr{}.IsZero())
}

func TestEqualityIsByValue(t *testing.T) {
	a := MustParse("02:00:00:00:00:01")
	b := MustParse("02:00:00:00:00:01")
	c := MustParse("02:00:00:00:00:02")

	assert.Equal(t, a, b)
	assert.True(t, a == b)
	assert.False(t, a == c)
}

func TestInterfaceID(t *testing.T) {
	cases := []struct {
		name string
		addr string
		iid  [8]byte
	}{
		{
			name: "MAC48",
			addr: "00:50:56:34:26:7f",
			iid:  [8]byte{0x02, 0x50, 0x56, 0xff, 0xfe, 0x34, 0x26, 0x7f},
		},
		{
			name: "EUI64",
			addr: "00:12:74:01:00:01:01:01",
			iid:  [8]byte{0x02, 0x12, 0x74, 0x01, 0x00, 0x01, 0x01, 0x01},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			a := MustParse(c.addr)
			require.Equal(t, c.iid, a.InterfaceID())

			back, err := FromInterfaceID(a.InterfaceID(), a.Len())
			require.NoError(t, err)
			require.Equal(t, a, back)
		})
	}
}
