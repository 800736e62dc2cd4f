package rpl

import (
	"fmt"
	"net/netip"

	"go.uber.org/zap"

	"github.com/yanet-platform/nd6/common/go/xnetip"
	"github.com/yanet-platform/nd6/internal/lladdr"
	"github.com/yanet-platform/nd6/internal/nbr"
	"github.com/yanet-platform/nd6/internal/rib"
	"github.com/yanet-platform/nd6/internal/timer"
)

// Mode is the RPL participation mode.
type Mode uint8

const (
	// ModeMesh routes for others and advertises itself with DAOs.
	ModeMesh Mode = iota
	// ModeFeather routes for others but sends no DAOs.
	ModeFeather
	// ModeLeaf only joins DODAGs as a leaf.
	ModeLeaf
)

func (m Mode) String() string {
	switch m {
	case ModeMesh:
		return "mesh"
	case ModeFeather:
		return "feather"
	case ModeLeaf:
		return "leaf"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "mesh":
		*m = ModeMesh
	case "feather":
		*m = ModeFeather
	case "leaf":
		*m = ModeLeaf
	default:
		return fmt.Errorf("unknown RPL mode %q", text)
	}
	return nil
}

// Bridge is the proxy-ND bridge a gateway withdraws lost neighbours from.
type Bridge interface {
	Delete(addr netip.Addr) bool
}

// Stats are the route maintenance counters.
type Stats struct {
	NoPathDAOs      uint64
	ExpiredRoutes   uint64
	WithdrawnRoutes uint64
	UpdatedParents  uint64
}

// Option is a function that configures the Router.
type Option func(*options)

// WithLog configures the Router with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithClock sets the clock used to stamp parent transmissions.
func WithClock(clock timer.Clock) Option {
	return func(o *options) {
		o.Clock = clock
	}
}

// WithGateway switches the Router into gateway mode: lost neighbours are
// deleted from the bridge instead of being withdrawn with DAOs.
func WithGateway(bridge Bridge) Option {
	return func(o *options) {
		o.Bridge = bridge
	}
}

type options struct {
	Log    *zap.SugaredLogger
	Clock  timer.Clock
	Bridge Bridge
}

func newOptions() *options {
	return &options{
		Log:   zap.NewNop().Sugar(),
		Clock: timer.SystemClock{},
	}
}

// Router keeps the route table consistent with neighbour reachability.
//
// Not safe for concurrent use.
type Router struct {
	topo    *Topology
	routes  *rib.RIB
	signal  Signaling
	bridge  Bridge
	mode    Mode
	pending []netip.Prefix
	sources SourceInfo
	stats   Stats
	clock   timer.Clock
	log     *zap.SugaredLogger
}

// NewRouter creates the route maintenance over a topology and a route
// table.
func NewRouter(topo *Topology, routes *rib.RIB, signal Signaling, options ...Option) *Router {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	return &Router{
		topo:   topo,
		routes: routes,
		signal: signal,
		bridge: opts.Bridge,
		clock:  opts.Clock,
		log:    opts.Log,
	}
}

// Topology returns the instance table.
func (m *Router) Topology() *Topology {
	return m.topo
}

// Routes returns the route table.
func (m *Router) Routes() *rib.RIB {
	return m.routes
}

// Stats returns a snapshot of the counters.
func (m *Router) Stats() Stats {
	return m.stats
}

// Sources returns the recorded source node IDs.
func (m *Router) Sources() []uint16 {
	return m.sources.IDs()
}

// PurgeSources forgets the recorded source node IDs.
func (m *Router) PurgeSources() {
	m.sources.Purge()
}

// Pending returns the number of queued No-Path DAOs.
func (m *Router) Pending() int {
	return len(m.pending)
}

// Mode returns the participation mode.
func (m *Router) Mode() Mode {
	return m.mode
}

// SetMode switches the participation mode and returns the previous one.
//
// Entering mesh mode schedules a DAO right away, entering feather mode
// cancels the pending one.
func (m *Router) SetMode(mode Mode) Mode {
	old := m.mode
	m.mode = mode

	inst := m.topo.DefaultInstance()
	switch mode {
	case ModeMesh:
		m.log.Infow("switching to mesh mode")
		if inst != nil {
			m.signal.ScheduleDAO(inst)
		}
	case ModeFeather:
		m.log.Infow("switching to feather mode")
		if inst != nil {
			m.signal.CancelDAO(inst)
		}
	}
	return old
}

// AddRoute installs a locally learned route in dag.
func (m *Router) AddRoute(dag *DAG, prefix netip.Prefix, nexthop netip.Addr) (rib.Route, error) {
	r, err := m.routes.Add(prefix, nexthop, dag.Key(), dag.Instance.RouteLifetime(), rib.SourceInternal)
	if err != nil {
		m.log.Warnw("no space for more route entries", zap.Stringer("prefix", prefix))
		return rib.Route{}, fmt.Errorf("failed to add route to %s: %w", prefix, err)
	}

	m.sources.Add(NodeID(prefix.Addr()))
	m.log.Debugw("added route",
		zap.Stringer("prefix", r.Prefix),
		zap.Stringer("nexthop", nexthop),
		zap.Uint32("lifetime", r.Lifetime),
	)
	return r, nil
}

// RemoveRoutes removes every route of dag.
func (m *Router) RemoveRoutes(dag *DAG) int {
	return len(m.routes.RemoveByDAG(dag.Key()))
}

// RemoveRoutesByNextHop removes every route of dag forwarded via nexthop.
func (m *Router) RemoveRoutesByNextHop(nexthop netip.Addr, dag *DAG) int {
	return len(m.routes.RemoveByNextHop(nexthop, dag.Key()))
}

// NeighborRemoved is the neighbour cache removal hook.
func (m *Router) NeighborRemoved(e nbr.Entry) {
	m.NeighborLost(e.Addr)
}

// NeighborLost reacts to the loss of a neighbour: parents with that
// address get an infinite rank and every route through it is withdrawn.
func (m *Router) NeighborLost(addr netip.Addr) {
	m.log.Debugw("removing neighbour", zap.Stringer("addr", addr))

	for _, inst := range m.topo.Instances() {
		p, ok := inst.FindParent(addr)
		if !ok {
			continue
		}
		p.Rank = InfiniteRank
		p.Flags |= ParentUpdated
		m.stats.UpdatedParents++
		m.log.Debugw("parent lost, rank is infinite",
			zap.Uint8("instance", inst.ID),
			zap.Stringer("parent", addr),
		)
	}

	removed := m.routes.RemoveVia(addr)
	m.stats.WithdrawnRoutes += uint64(len(removed))

	if m.bridge != nil {
		if m.bridge.Delete(addr) {
			m.log.Debugw("deleted lost neighbour from the bridge", zap.Stringer("addr", addr))
		}
		return
	}

	for _, r := range removed {
		m.log.Infow("route withdrawn, neighbour unreachable",
			zap.Stringer("prefix", r.Prefix),
			zap.Stringer("nexthop", addr),
		)
		if !m.noPath(r.Prefix) {
			m.enqueue(r.Prefix)
		}
	}
}

// LinkNeighborStatus feeds a link-layer transmission outcome to the
// objective function of every instance the neighbour is a parent in.
//
// A lost link is handled as the loss of the neighbour.
func (m *Router) LinkNeighborStatus(ll lladdr.Addr, status LinkStatus, numTx int) {
	addr := xnetip.LinkLocal(ll.InterfaceID())
	now := m.clock.Now()

	for _, inst := range m.topo.Instances() {
		p, ok := inst.FindParent(addr)
		if !ok {
			continue
		}
		p.Flags |= ParentUpdated
		m.stats.UpdatedParents++
		if inst.OF != nil {
			inst.OF.NeighborLinkCallback(p, status, numTx)
			p.LastTx = now
		}
	}

	if status == StatusLost {
		m.NeighborLost(addr)
	}
}

// Purge ages every route by one lifetime unit and removes the expired
// ones. At most one No-Path DAO goes out per call, the rest wait in a
// queue for later calls.
func (m *Router) Purge() {
	for _, r := range m.routes.Age() {
		m.stats.ExpiredRoutes++
		m.log.Debugw("no more routes", zap.Stringer("prefix", r.Prefix))
		m.enqueue(r.Prefix)
	}

	for len(m.pending) > 0 {
		target := m.pending[0]
		if _, ok := m.routes.Lookup(target); ok {
			// Re-learned while waiting, nothing to withdraw.
			m.pending = m.pending[1:]
			continue
		}
		if m.noPath(target) {
			m.pending = m.pending[1:]
		}
		return
	}
}

func (m *Router) enqueue(target netip.Prefix) {
	m.pending = append(m.pending, target)
	if over := len(m.pending) - m.routes.Cap(); over > 0 {
		m.log.Warnw("dropping queued No-Path DAOs", zap.Int("count", over))
		m.pending = m.pending[over:]
	}
}

// noPath withdraws target toward the preferred parent of the default
// instance. It reports false when the withdrawal has to wait for a parent.
func (m *Router) noPath(target netip.Prefix) bool {
	inst := m.topo.DefaultInstance()
	if inst == nil || inst.CurrentDAG == nil {
		return false
	}

	dag := inst.CurrentDAG
	switch {
	case dag.IsRoot():
		// The root has nobody to report to.
		return true
	case m.mode == ModeFeather:
		return true
	case dag.PreferredParent == nil:
		return false
	}

	m.log.Debugw("generating No-Path DAO",
		zap.Stringer("target", target),
		zap.Stringer("parent", dag.PreferredParent.Addr),
	)
	m.signal.NoPathDAO(dag.PreferredParent, target)
	m.stats.NoPathDAOs++
	return true
}
