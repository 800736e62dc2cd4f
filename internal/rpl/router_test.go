package rpl

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanet-platform/nd6/common/go/xnetip"
	"github.com/yanet-platform/nd6/internal/lladdr"
	"github.com/yanet-platform/nd6/internal/nbr"
	"github.com/yanet-platform/nd6/internal/rib"
	"github.com/yanet-platform/nd6/internal/timer"
)

var (
	dodagID  = netip.MustParseAddr("2001:db8::1")
	parentLL = lladdr.MustParse("00:12:4b:00:00:00:00:01")
	parentIP = xnetip.LinkLocal(parentLL.InterfaceID())
	childA   = netip.MustParseAddr("fe80::a")
	childB   = netip.MustParseAddr("fe80::b")
)

type noPath struct {
	parent netip.Addr
	target netip.Prefix
}

type fakeSignaling struct {
	noPaths   []noPath
	scheduled int
	cancelled int
}

func (m *fakeSignaling) NoPathDAO(parent *Parent, target netip.Prefix) {
	m.noPaths = append(m.noPaths, noPath{parent: parent.Addr, target: target})
}

func (m *fakeSignaling) ScheduleDAO(*Instance) {
	m.scheduled++
}

func (m *fakeSignaling) CancelDAO(*Instance) {
	m.cancelled++
}

type fakeBridge struct {
	deleted []netip.Addr
}

func (m *fakeBridge) Delete(addr netip.Addr) bool {
	m.deleted = append(m.deleted, addr)
	return true
}

type fixture struct {
	router *Router
	dag    *DAG
	parent *Parent
	signal *fakeSignaling
	clock  *timer.ManualClock
}

// newFixture builds a non-root node whose preferred parent is parentIP.
// Routes added by the router live for lifetime purge passes.
func newFixture(t *testing.T, lifetime uint8, options ...Option) *fixture {
	t.Helper()

	topo := NewTopology(2)
	inst, err := topo.AddInstance(InstanceConfig{
		ID:              30,
		DefaultLifetime: lifetime,
		LifetimeUnit:    1,
	})
	require.NoError(t, err)

	dag := inst.JoinDAG(dodagID, 3*DefaultMinHopRankIncrease)
	parent := dag.AddParent(parentIP, 2*DefaultMinHopRankIncrease)
	dag.PreferredParent = parent

	clock := timer.NewManualClock(time.Unix(1000, 0))
	signal := &fakeSignaling{}
	options = append([]Option{WithClock(clock)}, options...)
	return &fixture{
		router: NewRouter(topo, rib.NewRIB(16), signal, options...),
		dag:    dag,
		parent: parent,
		signal: signal,
		clock:  clock,
	}
}

func (m *fixture) addRoutes(t *testing.T, nexthop netip.Addr, prefixes ...string) {
	t.Helper()
	for _, p := range prefixes {
		_, err := m.router.AddRoute(m.dag, netip.MustParsePrefix(p), nexthop)
		require.NoError(t, err)
	}
}

func targets(noPaths []noPath) []string {
	out := make([]string, 0, len(noPaths))
	for _, np := range noPaths {
		out = append(out, np.target.String())
	}
	return out
}

func TestPurgeRateLimit(t *testing.T) {
	f := newFixture(t, 1)
	f.addRoutes(t, childA, "2001:db8:1::/64", "2001:db8:2::/64", "2001:db8:3::/64")

	f.router.Purge()
	assert.Zero(t, f.router.Routes().Len(), "every expired route is removed in the same pass")
	require.Len(t, f.signal.noPaths, 1, "exactly one No-Path DAO per pass")
	assert.Equal(t, parentIP, f.signal.noPaths[0].parent)
	assert.Equal(t, 2, f.router.Pending())

	f.router.Purge()
	require.Len(t, f.signal.noPaths, 2)
	f.router.Purge()
	require.Len(t, f.signal.noPaths, 3)
	f.router.Purge()
	require.Len(t, f.signal.noPaths, 3)

	assert.Equal(t, []string{"2001:db8:1::/64", "2001:db8:2::/64", "2001:db8:3::/64"}, targets(f.signal.noPaths))
	assert.Equal(t, uint64(3), f.router.Stats().ExpiredRoutes)
	assert.Equal(t, uint64(3), f.router.Stats().NoPathDAOs)
}

func TestPurgeLifetime(t *testing.T) {
	f := newFixture(t, 3)
	f.addRoutes(t, childA, "2001:db8:1::/64")

	f.router.Purge()
	f.router.Purge()
	assert.Equal(t, 1, f.router.Routes().Len())
	assert.Empty(t, f.signal.noPaths)

	f.router.Purge()
	assert.Zero(t, f.router.Routes().Len())
	assert.Len(t, f.signal.noPaths, 1)
}

func TestPurgeAtRoot(t *testing.T) {
	f := newFixture(t, 1)
	f.dag.Rank = f.dag.Instance.RootRank()
	f.addRoutes(t, childA, "2001:db8:1::/64", "2001:db8:2::/64")

	f.router.Purge()
	f.router.Purge()
	assert.Zero(t, f.router.Routes().Len())
	assert.Empty(t, f.signal.noPaths, "a root sends no DAO")
	assert.Zero(t, f.router.Pending())
}

func TestPurgeWaitsForParent(t *testing.T) {
	f := newFixture(t, 1)
	f.dag.PreferredParent = nil
	f.addRoutes(t, childA, "2001:db8:1::/64")

	f.router.Purge()
	assert.Empty(t, f.signal.noPaths)
	assert.Equal(t, 1, f.router.Pending())

	f.dag.PreferredParent = f.parent
	f.router.Purge()
	assert.Len(t, f.signal.noPaths, 1)
	assert.Zero(t, f.router.Pending())
}

func TestPurgeSkipsRelearned(t *testing.T) {
	f := newFixture(t, 1)
	f.addRoutes(t, childA, "2001:db8:1::/64", "2001:db8:2::/64")

	f.router.Purge()
	require.Len(t, f.signal.noPaths, 1)

	_, err := f.router.Routes().Add(netip.MustParsePrefix("2001:db8:2::/64"), childB, f.dag.Key(), 10, rib.SourceUnicastDAO)
	require.NoError(t, err)

	f.router.Purge()
	assert.Len(t, f.signal.noPaths, 1, "a route learned again is not withdrawn")
	assert.Zero(t, f.router.Pending())
}

func TestNeighborLost(t *testing.T) {
	f := newFixture(t, 10)
	f.dag.AddParent(childA, 4*DefaultMinHopRankIncrease)
	f.addRoutes(t, childA, "2001:db8:1::/64", "2001:db8:2::/64")
	f.addRoutes(t, childB, "2001:db8:3::/64")

	f.router.NeighborLost(childA)

	p, ok := f.dag.Parent(childA)
	require.True(t, ok)
	assert.Equal(t, InfiniteRank, p.Rank)
	assert.NotZero(t, p.Flags&ParentUpdated)

	assert.Equal(t, []string{"2001:db8:1::/64", "2001:db8:2::/64"}, targets(f.signal.noPaths),
		"one No-Path DAO per withdrawn route",
	)
	routes := f.router.Routes().Routes()
	require.Len(t, routes, 1)
	assert.Equal(t, childB, routes[0].NextHop)
	assert.Equal(t, uint64(2), f.router.Stats().WithdrawnRoutes)
}

func TestNeighborLostGateway(t *testing.T) {
	bridge := &fakeBridge{}
	f := newFixture(t, 10, WithGateway(bridge))
	f.addRoutes(t, childA, "2001:db8:1::/64", "2001:db8:2::/64")

	f.router.NeighborLost(childA)

	assert.Zero(t, f.router.Routes().Len())
	assert.Empty(t, f.signal.noPaths, "a gateway withdraws from the bridge instead")
	assert.Equal(t, []netip.Addr{childA}, bridge.deleted)
}

func TestNeighborRemovedHook(t *testing.T) {
	f := newFixture(t, 10)
	f.addRoutes(t, childA, "2001:db8:1::/64")

	cache := nbr.NewCache(4, nbr.WithRemoveHook(f.router.NeighborRemoved))
	_, err := cache.Add(childA, lladdr.MustParse("02:00:00:00:00:0a"), false, nbr.Stale)
	require.NoError(t, err)

	cache.Remove(childA)
	assert.Zero(t, f.router.Routes().Len())
	assert.Len(t, f.signal.noPaths, 1)
}

func TestLinkNeighborStatus(t *testing.T) {
	f := newFixture(t, 10)
	f.addRoutes(t, parentIP, "2001:db8:1::/64")

	f.clock.Advance(time.Second)
	f.router.LinkNeighborStatus(parentLL, StatusOK, 1)
	assert.NotZero(t, f.parent.Flags&ParentUpdated)
	assert.Equal(t, uint16(ETXDivisor), f.parent.LinkMetric, "first sample is taken as is")
	assert.Equal(t, time.Unix(1001, 0), f.parent.LastTx)

	f.router.LinkNeighborStatus(parentLL, StatusNoAck, 0)
	assert.Equal(t, uint16((ETXDivisor*90+10*ETXDivisor*10)/100), f.parent.LinkMetric)
	assert.Equal(t, 1, f.router.Routes().Len(), "a missed ack is not a loss")

	f.router.LinkNeighborStatus(parentLL, StatusLost, 0)
	assert.Equal(t, InfiniteRank, f.parent.Rank)
	assert.Zero(t, f.router.Routes().Len())
}

func TestSetMode(t *testing.T) {
	f := newFixture(t, 10)

	assert.Equal(t, ModeMesh, f.router.SetMode(ModeFeather))
	assert.Equal(t, 1, f.signal.cancelled)
	assert.Equal(t, ModeFeather, f.router.SetMode(ModeMesh))
	assert.Equal(t, 1, f.signal.scheduled)
	assert.Equal(t, ModeMesh, f.router.SetMode(ModeLeaf))
	assert.Equal(t, ModeLeaf, f.router.Mode())
	assert.Equal(t, 1, f.signal.scheduled)
	assert.Equal(t, 1, f.signal.cancelled)

	f.router.SetMode(ModeFeather)
	f.addRoutes(t, childA, "2001:db8:1::/64")
	f.router.NeighborLost(childA)
	assert.Empty(t, f.signal.noPaths, "feather mode stays silent")

	var mode Mode
	require.NoError(t, mode.UnmarshalText([]byte("leaf")))
	assert.Equal(t, ModeLeaf, mode)
	assert.Error(t, mode.UnmarshalText([]byte("star")))
}

func TestAddRoute(t *testing.T) {
	topo := NewTopology(1)
	inst, err := topo.AddInstance(InstanceConfig{ID: 1, DefaultLifetime: 30, LifetimeUnit: 60})
	require.NoError(t, err)
	dag := inst.JoinDAG(dodagID, DefaultMinHopRankIncrease)

	router := NewRouter(topo, rib.NewRIB(1), &fakeSignaling{})
	r, err := router.AddRoute(dag, netip.MustParsePrefix("2001:db8::5/128"), childA)
	require.NoError(t, err)
	assert.Equal(t, uint32(30*60), r.Lifetime)
	assert.Equal(t, rib.SourceInternal, r.LearnedFrom)
	assert.Equal(t, dag.Key(), r.DAG)
	assert.Equal(t, []uint16{5}, router.Sources())

	_, err = router.AddRoute(dag, netip.MustParsePrefix("2001:db8::6/128"), childA)
	assert.ErrorIs(t, err, rib.ErrTableFull)

	assert.Equal(t, 1, router.RemoveRoutesByNextHop(childA, dag))
	assert.Zero(t, router.RemoveRoutes(dag))

	_, err = topo.AddInstance(InstanceConfig{ID: 1})
	assert.ErrorIs(t, err, ErrInstanceExists)
	_, err = topo.AddInstance(InstanceConfig{ID: 2})
	assert.ErrorIs(t, err, ErrTooManyInstances)
}

func TestSourceInfo(t *testing.T) {
	var s SourceInfo
	for id := range uint16(MaxSources) {
		require.True(t, s.Add(id))
	}
	assert.False(t, s.Add(0), "known")
	assert.False(t, s.Add(100), "full")
	assert.Len(t, s.IDs(), MaxSources)

	s.Purge()
	assert.Empty(t, s.IDs())
	assert.Equal(t, uint16(0xbeef), NodeID(netip.MustParseAddr("2001:db8::dead:beef")))
}
