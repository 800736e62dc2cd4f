package nd

import (
	"encoding/binary"
	"math/rand/v2"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanet-platform/nd6/common/go/xnetip"
	"github.com/yanet-platform/nd6/internal/ds6"
	"github.com/yanet-platform/nd6/internal/lladdr"
	"github.com/yanet-platform/nd6/internal/nbr"
	"github.com/yanet-platform/nd6/internal/option"
	"github.com/yanet-platform/nd6/internal/timer"
)

var (
	macA = lladdr.MustParse("02:00:00:00:00:0a")
	macB = lladdr.MustParse("02:00:00:00:00:0b")

	euiRouter = lladdr.MustParse("00:12:74:01:00:01:01:01")
	euiHost   = lladdr.MustParse("00:12:74:02:00:02:02:02")
)

type fixture struct {
	engine    *Engine
	iface     *ds6.Interface
	nbrs      *nbr.Cache
	clock     *timer.ManualClock
	dadFailed []netip.Addr
	sent      []*Packet
}

func newFixture(t *testing.T, ll lladdr.Addr, cfg Config, variant Variant, capacity int) *fixture {
	t.Helper()

	f := &fixture{
		clock: timer.NewManualClock(time.Unix(1_000_000, 0)),
	}
	f.iface = ds6.NewInterface("test0", ll, 1500,
		ds6.WithClock(f.clock),
		ds6.WithRand(rand.New(rand.NewPCG(7, 7))),
	)
	f.nbrs = nbr.NewCache(capacity)
	f.engine = NewEngine(cfg, f.iface, f.nbrs, variant,
		WithDADFailedHook(func(addr netip.Addr) {
			f.dadFailed = append(f.dadFailed, addr)
		}),
	)
	return f
}

func (m *fixture) output() Output {
	return OutputFunc(func(pkt *Packet) {
		m.sent = append(m.sent, pkt)
	})
}

func (m *fixture) addAddr(t *testing.T, addr netip.Addr, tentative bool) {
	t.Helper()
	_, err := m.iface.AddAddr(addr, 0, ds6.AddrManual, tentative)
	require.NoError(t, err)
}

func nsBody(target netip.Addr, opts []byte) []byte {
	b := make([]byte, 4, nsHeaderLen+len(opts))
	b = append(b, target.AsSlice()...)
	return append(b, opts...)
}

func naBody(flags uint8, target netip.Addr, opts []byte) []byte {
	b := []byte{flags, 0, 0, 0}
	b = append(b, target.AsSlice()...)
	return append(b, opts...)
}

func raBody(curHop, flags uint8, lifetime uint16, reachable, retrans uint32, opts []byte) []byte {
	b := []byte{curHop, flags}
	b = binary.BigEndian.AppendUint16(b, lifetime)
	b = binary.BigEndian.AppendUint32(b, reachable)
	b = binary.BigEndian.AppendUint32(b, retrans)
	return append(b, opts...)
}

func packet(typ uint8, src, dst netip.Addr, body []byte) *Packet {
	return &Packet{
		Src:      src,
		Dst:      dst,
		HopLimit: HopLimit,
		Type:     typ,
		Body:     body,
	}
}

// naOf decodes the fixed part of an NA.
func naOf(t *testing.T, pkt *Packet) (uint8, netip.Addr, option.Set) {
	t.Helper()
	require.Equal(t, TypeNeighborAdvertisement, pkt.Type)
	require.GreaterOrEqual(t, len(pkt.Body), naHeaderLen)

	opts, err := option.Parse(pkt.Body[naHeaderLen:])
	require.NoError(t, err)
	return pkt.Body[0], netip.AddrFrom16([16]byte(pkt.Body[4:20])), opts
}

func TestResolutionReply(t *testing.T) {
	f := newFixture(t, macB, DefaultConfig(), Classic(), 8)

	a := netip.MustParseAddr("2001:db8::a")
	b := netip.MustParseAddr("2001:db8::b")
	f.addAddr(t, b, false)

	ns := packet(TypeNeighborSolicitation, a, xnetip.SolicitedNode(b),
		nsBody(b, option.AppendLinkAddr(nil, option.TypeSLLAO, macA)),
	)
	result := f.engine.Input(ns)
	require.Equal(t, ActionReply, result.Action)

	na := result.Reply
	assert.Equal(t, b, na.Src)
	assert.Equal(t, a, na.Dst)
	assert.Equal(t, uint8(HopLimit), na.HopLimit)
	assert.Equal(t, macA, na.LinkDst)

	flags, target, opts := naOf(t, na)
	assert.Equal(t, FlagSolicited|FlagOverride, flags)
	assert.Equal(t, b, target)

	o, ok := opts.First(option.TypeTLLAO)
	require.True(t, ok)
	tllao, err := option.DecodeLinkAddr(o, lladdr.EthernetLen)
	require.NoError(t, err)
	assert.Equal(t, macB, tllao)

	e, ok := f.nbrs.Lookup(a)
	require.True(t, ok, "solicitor is learned from its SLLAO")
	assert.Equal(t, macA, e.LinkAddr)
	assert.Equal(t, nbr.Stale, e.State)

	assert.Equal(t, uint64(1), f.engine.Stats().NS.Recv)
	assert.Equal(t, uint64(1), f.engine.Stats().NA.Sent)
}

func TestRouterFlagInReplies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Router = true
	f := newFixture(t, macB, cfg, Classic(), 8)

	b := netip.MustParseAddr("2001:db8::b")
	f.addAddr(t, b, false)

	result := f.engine.Input(packet(TypeNeighborSolicitation,
		netip.MustParseAddr("2001:db8::a"), b, nsBody(b, nil),
	))
	require.Equal(t, ActionReply, result.Action)
	flags, _, _ := naOf(t, result.Reply)
	assert.Equal(t, FlagRouter|FlagSolicited|FlagOverride, flags)
}

func TestClassicNAReplyDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ClassicNAReply = false
	f := newFixture(t, macB, cfg, Classic(), 8)

	a := netip.MustParseAddr("2001:db8::a")
	b := netip.MustParseAddr("2001:db8::b")
	f.addAddr(t, b, false)

	result := f.engine.Input(packet(TypeNeighborSolicitation, a, xnetip.SolicitedNode(b),
		nsBody(b, option.AppendLinkAddr(nil, option.TypeSLLAO, macA)),
	))
	assert.Equal(t, ActionDiscard, result.Action)
	assert.True(t, f.nbrs.Contains(a), "learning still happens")
}

func TestDAD(t *testing.T) {
	tentative := netip.MustParseAddr("2001:db8::1")
	preferred := netip.MustParseAddr("2001:db8::2")

	f := newFixture(t, macB, DefaultConfig(), Classic(), 8)
	f.addAddr(t, f.iface.LinkLocal(), false)
	f.addAddr(t, tentative, true)
	f.addAddr(t, preferred, false)

	result := f.engine.Input(packet(TypeNeighborSolicitation,
		xnetip.Unspecified, xnetip.SolicitedNode(tentative), nsBody(tentative, nil),
	))
	assert.Equal(t, ActionDiscard, result.Action)
	assert.Equal(t, []netip.Addr{tentative}, f.dadFailed)
	assert.False(t, f.iface.IsMyAddr(tentative))
	assert.Equal(t, uint64(1), f.engine.Stats().DADFailed)

	result = f.engine.Input(packet(TypeNeighborSolicitation,
		xnetip.Unspecified, xnetip.SolicitedNode(preferred), nsBody(preferred, nil),
	))
	require.Equal(t, ActionReply, result.Action)
	assert.Equal(t, xnetip.AllNodes, result.Reply.Dst)
	assert.Equal(t, f.iface.LinkLocal(), result.Reply.Src)
	flags, target, _ := naOf(t, result.Reply)
	assert.Equal(t, preferred, target)
	assert.Equal(t, FlagOverride, flags)
	assert.Len(t, f.dadFailed, 1)
}

func TestDADDefence(t *testing.T) {
	shared := netip.MustParseAddr("2001:db8::5")

	owner := newFixture(t, macA, DefaultConfig(), Classic(), 8)
	owner.addAddr(t, owner.iface.LinkLocal(), false)
	owner.addAddr(t, shared, false)

	joiner := newFixture(t, macB, DefaultConfig(), Classic(), 8)
	joiner.addAddr(t, joiner.iface.LinkLocal(), false)
	joiner.addAddr(t, shared, true)

	joiner.engine.Periodic(joiner.output())
	require.Len(t, joiner.sent, 1)

	result := owner.engine.Input(joiner.sent[0])
	require.Equal(t, ActionReply, result.Action)
	defence := result.Reply
	assert.Equal(t, xnetip.AllNodes, defence.Dst)
	assert.Equal(t, FlagOverride, defence.Body[0], "multicast defence is not solicited")

	result = joiner.engine.Input(defence)
	assert.Equal(t, ActionDiscard, result.Action)
	assert.Equal(t, []netip.Addr{shared}, joiner.dadFailed)
	assert.False(t, joiner.iface.IsMyAddr(shared))
	assert.True(t, owner.iface.IsMyAddr(shared))
}

func TestDADDefenceRouterFlag(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Router = true
	f := newFixture(t, macA, cfg, Classic(), 8)
	f.addAddr(t, f.iface.LinkLocal(), false)
	preferred := netip.MustParseAddr("2001:db8::5")
	f.addAddr(t, preferred, false)

	result := f.engine.Input(packet(TypeNeighborSolicitation,
		xnetip.Unspecified, xnetip.SolicitedNode(preferred), nsBody(preferred, nil),
	))
	require.Equal(t, ActionReply, result.Action)
	assert.Equal(t, FlagRouter|FlagOverride, result.Reply.Body[0])
}

func TestDADFailsOnAdvertisement(t *testing.T) {
	f := newFixture(t, macB, DefaultConfig(), Classic(), 8)
	tentative := netip.MustParseAddr("2001:db8::1")
	f.addAddr(t, tentative, true)

	result := f.engine.Input(packet(TypeNeighborAdvertisement,
		netip.MustParseAddr("fe80::a"), xnetip.AllNodes,
		naBody(FlagOverride, tentative, option.AppendLinkAddr(nil, option.TypeTLLAO, macA)),
	))
	assert.Equal(t, ActionDiscard, result.Action)
	assert.Equal(t, []netip.Addr{tentative}, f.dadFailed)
}

func TestDADProbeOutput(t *testing.T) {
	f := newFixture(t, macB, DefaultConfig(), Classic(), 8)
	ll := f.iface.LinkLocal()
	f.addAddr(t, ll, true)

	f.engine.Periodic(f.output())
	require.Len(t, f.sent, 1)

	probe := f.sent[0]
	assert.Equal(t, TypeNeighborSolicitation, probe.Type)
	assert.Equal(t, xnetip.Unspecified, probe.Src)
	assert.Equal(t, xnetip.SolicitedNode(ll), probe.Dst)
	assert.Len(t, probe.Body, nsHeaderLen, "DAD probe carries no options")

	f.clock.Advance(f.iface.RetransTimer)
	f.engine.Periodic(f.output())
	require.Len(t, f.sent, 1)
	assert.Equal(t, ds6.AddrPreferred, f.iface.LookupAddr(ll).State)
}

func TestMalformedInput(t *testing.T) {
	b := netip.MustParseAddr("2001:db8::b")
	a := netip.MustParseAddr("2001:db8::a")
	sllao := option.AppendLinkAddr(nil, option.TypeSLLAO, macA)

	tests := []struct {
		name string
		pkt  *Packet
	}{
		{
			name: "HopLimit",
			pkt: func() *Packet {
				p := packet(TypeNeighborSolicitation, a, xnetip.SolicitedNode(b), nsBody(b, sllao))
				p.HopLimit = 64
				return p
			}(),
		},
		{
			name: "Code",
			pkt: func() *Packet {
				p := packet(TypeNeighborSolicitation, a, xnetip.SolicitedNode(b), nsBody(b, sllao))
				p.Code = 1
				return p
			}(),
		},
		{
			name: "Truncated",
			pkt:  packet(TypeNeighborSolicitation, a, xnetip.SolicitedNode(b), nsBody(b, nil)[:12]),
		},
		{
			name: "MulticastTarget",
			pkt:  packet(TypeNeighborSolicitation, a, xnetip.SolicitedNode(b), nsBody(xnetip.AllNodes, sllao)),
		},
		{
			name: "ZeroLengthOption",
			pkt:  packet(TypeNeighborSolicitation, a, xnetip.SolicitedNode(b), nsBody(b, []byte{1, 0, 0, 0, 0, 0, 0, 0})),
		},
		{
			name: "TruncatedOption",
			pkt:  packet(TypeNeighborSolicitation, a, xnetip.SolicitedNode(b), nsBody(b, sllao[:6])),
		},
		{
			name: "SLLAOInDAD",
			pkt:  packet(TypeNeighborSolicitation, xnetip.Unspecified, xnetip.SolicitedNode(b), nsBody(b, sllao)),
		},
		{
			name: "SolicitedNAToMulticast",
			pkt: packet(TypeNeighborAdvertisement, a, xnetip.AllNodes,
				naBody(FlagSolicited, a, option.AppendLinkAddr(nil, option.TypeTLLAO, macA))),
		},
		{
			name: "RAFromGlobalSource",
			pkt:  packet(TypeRouterAdvertisement, a, xnetip.AllNodes, raBody(64, 0, 1800, 0, 0, nil)),
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t, macB, DefaultConfig(), Classic(), 8)
			f.addAddr(t, b, false)

			result := f.engine.Input(test.pkt)
			assert.Equal(t, ActionDiscard, result.Action)
			assert.Nil(t, result.Reply)
			assert.Zero(t, f.nbrs.Len(), "malformed input must not change state")
			assert.Empty(t, f.iface.DefaultRouters())
		})
	}
}

func TestNeighborAdvertisement(t *testing.T) {
	target := netip.MustParseAddr("fe80::b")
	tllaoA := option.AppendLinkAddr(nil, option.TypeTLLAO, macA)
	tllaoB := option.AppendLinkAddr(nil, option.TypeTLLAO, macB)

	tests := []struct {
		name      string
		state     nbr.State
		isRouter  bool
		flags     uint8
		opts      []byte
		wantState nbr.State
		wantLL    lladdr.Addr
		wantRtr   bool
	}{
		{
			name:      "IncompleteSolicited",
			state:     nbr.Incomplete,
			flags:     FlagSolicited,
			opts:      tllaoA,
			wantState: nbr.Reachable,
			wantLL:    macA,
		},
		{
			name:      "IncompleteUnsolicited",
			state:     nbr.Incomplete,
			flags:     FlagRouter,
			opts:      tllaoA,
			wantState: nbr.Stale,
			wantLL:    macA,
			wantRtr:   true,
		},
		{
			name:      "IncompleteWithoutTLLAO",
			state:     nbr.Incomplete,
			flags:     FlagSolicited,
			wantState: nbr.Incomplete,
		},
		{
			name:      "ReachableChangedNoOverride",
			state:     nbr.Reachable,
			flags:     FlagSolicited,
			opts:      tllaoB,
			wantState: nbr.Stale,
			wantLL:    macA,
		},
		{
			name:      "StaleChangedNoOverride",
			state:     nbr.Stale,
			flags:     FlagSolicited,
			opts:      tllaoB,
			wantState: nbr.Stale,
			wantLL:    macA,
		},
		{
			name:      "StaleSolicitedSameAddress",
			state:     nbr.Stale,
			flags:     FlagSolicited,
			opts:      tllaoA,
			wantState: nbr.Reachable,
			wantLL:    macA,
		},
		{
			name:      "ReachableOverrideUnsolicited",
			state:     nbr.Reachable,
			flags:     FlagOverride,
			opts:      tllaoB,
			wantState: nbr.Stale,
			wantLL:    macB,
		},
		{
			name:      "StaleOverrideSolicited",
			state:     nbr.Stale,
			flags:     FlagOverride | FlagSolicited,
			opts:      tllaoB,
			wantState: nbr.Reachable,
			wantLL:    macB,
		},
		{
			name:      "RouterFlagLost",
			state:     nbr.Reachable,
			isRouter:  true,
			flags:     FlagOverride,
			wantState: nbr.Reachable,
			wantLL:    macA,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t, macB, DefaultConfig(), Classic(), 8)

			ll := macA
			if test.state == nbr.Incomplete {
				ll = lladdr.Addr{}
			}
			_, err := f.nbrs.Add(target, ll, test.isRouter, test.state)
			require.NoError(t, err)
			_, err = f.iface.AddDefaultRouter(target, time.Minute)
			require.NoError(t, err)

			dst := netip.MustParseAddr("fe80::1")
			if test.flags&FlagSolicited == 0 {
				dst = xnetip.AllNodes
			}
			result := f.engine.Input(packet(TypeNeighborAdvertisement, target, dst, naBody(test.flags, target, test.opts)))
			assert.Equal(t, ActionDiscard, result.Action)

			e, ok := f.nbrs.Lookup(target)
			require.True(t, ok)
			assert.Equal(t, test.wantState, e.State)
			assert.Equal(t, test.wantLL, e.LinkAddr)
			if test.state != nbr.Incomplete || test.opts != nil {
				assert.Equal(t, test.wantRtr, e.IsRouter)
			}
			if test.isRouter {
				assert.Nil(t, f.iface.LookupDefaultRouter(target), "lost router flag removes the default router")
			}
		})
	}
}

func TestResolveAndRetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxUnicastSolicit = 2
	f := newFixture(t, macB, cfg, Classic(), 8)
	f.addAddr(t, f.iface.LinkLocal(), false)

	peer := netip.MustParseAddr("fe80::a")
	ns, err := f.engine.Resolve(peer)
	require.NoError(t, err)
	assert.Equal(t, xnetip.SolicitedNode(peer), ns.Dst)
	assert.Equal(t, f.iface.LinkLocal(), ns.Src)

	opts, err := option.Parse(ns.Body[nsHeaderLen:])
	require.NoError(t, err)
	_, ok := option.Set(opts).First(option.TypeSLLAO)
	assert.True(t, ok)

	f.clock.Advance(f.iface.RetransTimer)
	f.engine.Periodic(f.output())
	require.Len(t, f.sent, 1, "retransmission")

	f.clock.Advance(f.iface.RetransTimer)
	f.engine.Periodic(f.output())
	assert.Len(t, f.sent, 1)
	assert.False(t, f.nbrs.Contains(peer), "unanswered resolution drops the entry")
}

func TestReachableBecomesStale(t *testing.T) {
	f := newFixture(t, macB, DefaultConfig(), Classic(), 8)

	peer := netip.MustParseAddr("fe80::a")
	e, err := f.nbrs.Add(peer, macA, false, nbr.Reachable)
	require.NoError(t, err)
	e.Reachable.Set(f.clock.Now(), f.iface.ReachableTime)

	f.clock.Advance(f.iface.ReachableTime)
	f.engine.Periodic(f.output())
	assert.Equal(t, nbr.Stale, e.State)
}

func TestLinkConfirmed(t *testing.T) {
	tests := []struct {
		name      string
		state     nbr.State
		reg       nbr.RegState
		confirmed bool
	}{
		{name: "Stale", state: nbr.Stale, confirmed: true},
		{name: "Probe", state: nbr.Probe, confirmed: true},
		{name: "Incomplete", state: nbr.Incomplete},
		{name: "Registered", state: nbr.Reachable, reg: nbr.Registered},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t, macB, DefaultConfig(), Classic(), 8)
			e, err := f.nbrs.Add(netip.MustParseAddr("fe80::a"), macA, false, test.state)
			require.NoError(t, err)
			e.RegState = test.reg
			e.Reachable.Set(f.clock.Now(), time.Hour)

			assert.Equal(t, test.confirmed, f.engine.LinkConfirmed(macA))
			if test.confirmed {
				assert.Equal(t, nbr.Reachable, e.State)
				assert.Equal(t, f.iface.ReachableTime, e.Reachable.Interval())
			} else {
				assert.Equal(t, test.state, e.State)
				assert.Equal(t, time.Hour, e.Reachable.Interval())
			}
		})
	}

	f := newFixture(t, macB, DefaultConfig(), Classic(), 8)
	assert.False(t, f.engine.LinkConfirmed(macA), "unknown link address")
}

func TestVariantKindText(t *testing.T) {
	for _, kind := range []VariantKind{VariantClassic, VariantSixLo, VariantRPL} {
		text, err := kind.MarshalText()
		require.NoError(t, err)

		var got VariantKind
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, kind, got)
	}

	var kind VariantKind
	assert.Error(t, kind.UnmarshalText([]byte("bogus")))
}
