package rpl

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yanet-platform/nd6/internal/nd"
)

func TestNewDAO(t *testing.T) {
	topo := NewTopology(1)
	inst, err := topo.AddInstance(InstanceConfig{ID: 30})
	require.NoError(t, err)
	dag := inst.JoinDAG(dodagID, 2*DefaultMinHopRankIncrease)
	parent := dag.AddParent(parentIP, DefaultMinHopRankIncrease)

	src := netip.MustParseAddr("fe80::1")
	pkt, err := NewDAO(src, parent, 7, netip.MustParsePrefix("2001:db8:1:2::/60"), 0)
	require.NoError(t, err)

	assert.Equal(t, TypeControl, pkt.Type)
	assert.Equal(t, CodeDAO, pkt.Code)
	assert.Equal(t, parentIP, pkt.Dst)

	id := dodagID.As16()
	want := []byte{30, 0x40, 0, 7}
	want = append(want, id[:]...)
	want = append(want, 0x05, 10, 0, 60, 0x20, 0x01, 0x0d, 0xb8, 0x00, 0x01, 0x00, 0x00)
	want = append(want, 0x06, 4, 0, 0, 0, 0)
	assert.Equal(t, want, pkt.Body)

	data, err := pkt.Encode()
	require.NoError(t, err)
	back, err := nd.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, pkt.Body, back.Body)

	_, err = NewDAO(src, nil, 1, netip.MustParsePrefix("2001:db8::/64"), 0)
	assert.ErrorIs(t, err, ErrNoParent)
}

func TestSender(t *testing.T) {
	topo := NewTopology(1)
	inst, err := topo.AddInstance(InstanceConfig{ID: 30})
	require.NoError(t, err)
	dag := inst.JoinDAG(dodagID, 2*DefaultMinHopRankIncrease)
	parent := dag.AddParent(parentIP, DefaultMinHopRankIncrease)

	var sent []*nd.Packet
	out := nd.OutputFunc(func(pkt *nd.Packet) {
		sent = append(sent, pkt)
	})
	src := netip.MustParseAddr("fe80::1")
	sender := NewSender(out, func(netip.Addr) netip.Addr { return src }, zap.NewNop().Sugar())

	sender.NoPathDAO(parent, netip.MustParsePrefix("2001:db8::5/128"))
	sender.NoPathDAO(parent, netip.MustParsePrefix("2001:db8::6/128"))
	require.Len(t, sent, 2)
	assert.Equal(t, src, sent[0].Src)
	assert.Equal(t, uint8(1), sent[0].Body[3])
	assert.Equal(t, uint8(2), sent[1].Body[3], "sequence advances")

	sender.NoPathDAO(nil, netip.MustParsePrefix("2001:db8::7/128"))
	assert.Len(t, sent, 2)

	sender.ScheduleDAO(inst)
	assert.True(t, sender.Scheduled(30))
	sender.CancelDAO(inst)
	assert.False(t, sender.Scheduled(30))
}

func TestSenderFlushDAO(t *testing.T) {
	target := netip.MustParsePrefix("2001:db8::5/128")

	tests := []struct {
		name     string
		schedule bool
		parent   bool
		sent     bool
	}{
		{name: "Scheduled", schedule: true, parent: true, sent: true},
		{name: "NotScheduled", schedule: false, parent: true, sent: false},
		{name: "NoParent", schedule: true, parent: false, sent: false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			topo := NewTopology(1)
			inst, err := topo.AddInstance(InstanceConfig{ID: 30, DefaultLifetime: 5, LifetimeUnit: 60})
			require.NoError(t, err)
			dag := inst.JoinDAG(dodagID, 2*DefaultMinHopRankIncrease)
			if test.parent {
				dag.PreferredParent = dag.AddParent(parentIP, DefaultMinHopRankIncrease)
			}

			var sent []*nd.Packet
			out := nd.OutputFunc(func(pkt *nd.Packet) {
				sent = append(sent, pkt)
			})
			src := netip.MustParseAddr("fe80::1")
			sender := NewSender(out, func(netip.Addr) netip.Addr { return src }, zap.NewNop().Sugar())
			if test.schedule {
				sender.ScheduleDAO(inst)
			}

			assert.Equal(t, test.sent, sender.FlushDAO(dag, target))
			if !test.sent {
				assert.Empty(t, sent)
				assert.Equal(t, test.schedule, sender.Scheduled(30), "an unsent refresh stays pending")
				return
			}

			require.Len(t, sent, 1)
			dao := sent[0]
			assert.Equal(t, parentIP, dao.Dst)
			assert.Equal(t, src, dao.Src)
			assert.Equal(t, uint8(1), dao.Body[3])
			assert.Equal(t, uint8(5), dao.Body[len(dao.Body)-1], "path lifetime")
			assert.False(t, sender.Scheduled(30))

			assert.False(t, sender.FlushDAO(dag, target), "a refresh is sent once")
			assert.Len(t, sent, 1)
		})
	}
}
