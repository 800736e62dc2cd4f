package gateway

import (
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/yanet-platform/nd6/common/go/xnetip"
	"github.com/yanet-platform/nd6/internal/lladdr"
	"github.com/yanet-platform/nd6/internal/nbr"
	"github.com/yanet-platform/nd6/internal/nd"
	"github.com/yanet-platform/nd6/internal/option"
	"github.com/yanet-platform/nd6/internal/timer"
)

const (
	naFlagSolicited = nd.FlagSolicited
	naFlagOverride  = nd.FlagOverride

	ethLinkAddrOptionLen  = 8
	longLinkAddrOptionLen = 16

	// Reserved word plus target address of NS and NA.
	targetMessageLen = 20
)

// PeerIndex answers whether a peer can be proxied.
type PeerIndex interface {
	Proxyable(addr netip.Addr) bool
}

// NeighborIndex exposes a neighbour cache as a PeerIndex: peers with a
// resolved, live entry are proxyable.
type NeighborIndex struct {
	Cache *nbr.Cache
}

// Proxyable implements PeerIndex.
func (m NeighborIndex) Proxyable(addr netip.Addr) bool {
	e, ok := m.Cache.Lookup(addr)
	if !ok {
		return false
	}
	return e.State != nbr.Incomplete && e.State != nbr.GarbageCollectible
}

// Link is a gateway interface.
type Link struct {
	Name     string
	Kind     Kind
	LinkAddr lladdr.Addr
}

// Stats are the bridge counters.
type Stats struct {
	Learned uint64
	Proxied uint64
	Full    uint64
}

// Option is a function that configures the Gateway.
type Option func(*options)

// WithLog configures the Gateway with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithClock sets the clock used to age bridge entries.
func WithClock(clock timer.Clock) Option {
	return func(o *options) {
		o.Clock = clock
	}
}

// WithMeshPeers adds an index of mesh peers answered for in addition to
// the bridge table, typically the mesh neighbour cache.
func WithMeshPeers(peers PeerIndex) Option {
	return func(o *options) {
		o.MeshPeers = peers
	}
}

type options struct {
	Log       *zap.SugaredLogger
	Clock     timer.Clock
	MeshPeers PeerIndex
}

func newOptions() *options {
	return &options{
		Log:   zap.NewNop().Sugar(),
		Clock: timer.SystemClock{},
	}
}

// Gateway answers Neighbor Solicitations on behalf of peers reachable only
// through the other link type.
//
// It keeps no RFC 4861 state: the bridge table only tells which peers are
// proxyable. Not safe for concurrent use.
type Gateway struct {
	table *Table
	mesh  PeerIndex
	stats Stats
	clock timer.Clock
	log   *zap.SugaredLogger
}

// New creates a Gateway over a bridge table.
func New(table *Table, options ...Option) *Gateway {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	return &Gateway{
		table: table,
		mesh:  opts.MeshPeers,
		clock: opts.Clock,
		log:   opts.Log,
	}
}

// Table returns the bridge table.
func (m *Gateway) Table() *Table {
	return m.table
}

// Stats returns a snapshot of the counters.
func (m *Gateway) Stats() Stats {
	return m.stats
}

// Delete withdraws a peer from the bridge.
func (m *Gateway) Delete(addr netip.Addr) bool {
	if !m.table.Delete(addr) {
		return false
	}
	m.log.Debugw("deleted bridge entry", zap.Stringer("addr", addr))
	return true
}

// GC marks peers not seen for maxAge as garbage-collectable.
func (m *Gateway) GC(maxAge time.Duration) int {
	n := m.table.Expire(m.clock.Now(), maxAge)
	if n > 0 {
		m.log.Debugw("expired bridge entries", zap.Int("count", n))
	}
	return n
}

// Input handles an ND message received on link.
//
// Peers are learned from the sources of solicitations and the targets of
// advertisements. A solicitation for a peer of the other side is answered
// with a proxy advertisement carrying the link address of link. Anything
// else is left to the regular ND handling.
func (m *Gateway) Input(link Link, pkt *nd.Packet) nd.Result {
	if link.Kind != KindEthernet && link.Kind != KindIEEE802154 {
		return nd.Result{Action: nd.ActionForward}
	}
	if pkt.HopLimit != nd.HopLimit || pkt.Code != 0 || len(pkt.Body) < targetMessageLen {
		return nd.Result{Action: nd.ActionForward}
	}
	target := netip.AddrFrom16([16]byte(pkt.Body[4:targetMessageLen]))

	switch pkt.Type {
	case nd.TypeNeighborAdvertisement:
		if !target.IsMulticast() {
			m.learn(target, link.Kind)
		}
		return nd.Result{Action: nd.ActionForward}
	case nd.TypeNeighborSolicitation:
		if pkt.Src.IsValid() && !pkt.Src.IsUnspecified() {
			m.learn(pkt.Src, link.Kind)
		}
		if target.IsMulticast() || !m.remote(target, link.Kind) {
			return nd.Result{Action: nd.ActionForward}
		}
		return m.proxy(link, pkt, target)
	default:
		return nd.Result{Action: nd.ActionForward}
	}
}

func (m *Gateway) learn(addr netip.Addr, side Kind) {
	if _, err := m.table.Add(addr, side, m.clock.Now()); err != nil {
		m.stats.Full++
		m.log.Debugw("failed to learn bridge peer", zap.Stringer("addr", addr), zap.Error(err))
		return
	}
	m.stats.Learned++
}

// remote reports whether target is a proxyable peer of the side opposite
// to arrival.
func (m *Gateway) remote(target netip.Addr, arrival Kind) bool {
	if e, ok := m.table.Lookup(target); ok {
		return e.State == StateReachable && e.Side != arrival
	}
	return arrival == KindEthernet && m.mesh != nil && m.mesh.Proxyable(target)
}

func (m *Gateway) proxy(link Link, ns *nd.Packet, target netip.Addr) nd.Result {
	opts, err := linkAddrOption(link)
	if err != nil {
		m.log.Warnw("cannot proxy on link", zap.String("link", link.Name), zap.Error(err))
		return nd.Result{Action: nd.ActionForward}
	}

	dst := ns.Src
	flags := naFlagSolicited | naFlagOverride
	if !dst.IsValid() || dst.IsUnspecified() {
		// Defend the address of the remote peer against DAD.
		dst = xnetip.AllNodes
		flags = naFlagOverride
	}

	m.stats.Proxied++
	m.log.Debugw("proxying neighbor advertisement",
		zap.Stringer("target", target),
		zap.Stringer("dst", dst),
		zap.String("link", link.Name),
	)
	return nd.Result{
		Action: nd.ActionReply,
		Reply:  nd.NewNA(target, dst, target, flags, opts),
	}
}

// linkAddrOption builds the TLLAO of link in the encoding of its medium:
// 8 octets for an 802.3 MAC and 16 octets for an 802.15.4 EUI-64.
func linkAddrOption(link Link) ([]byte, error) {
	want := ethLinkAddrOptionLen
	if link.Kind == KindIEEE802154 {
		want = longLinkAddrOptionLen
	}
	if link.LinkAddr.IsZero() {
		return nil, fmt.Errorf("no link address on %s", link.Name)
	}
	if size := option.LinkAddrSize(link.LinkAddr.Len()); size != want {
		return nil, fmt.Errorf("link address %s does not fit the %d octet option of %s", link.LinkAddr, want, link.Kind)
	}
	return option.AppendLinkAddr(nil, option.TypeTLLAO, link.LinkAddr), nil
}
