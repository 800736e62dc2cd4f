package nd6

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanet-platform/nd6/common/go/xnetip"
	"github.com/yanet-platform/nd6/internal/ds6"
	"github.com/yanet-platform/nd6/internal/gateway"
	"github.com/yanet-platform/nd6/internal/inspect"
	"github.com/yanet-platform/nd6/internal/link"
	"github.com/yanet-platform/nd6/internal/lladdr"
	"github.com/yanet-platform/nd6/internal/metrics"
	"github.com/yanet-platform/nd6/internal/nbr"
	"github.com/yanet-platform/nd6/internal/nd"
	"github.com/yanet-platform/nd6/internal/rib"
	"github.com/yanet-platform/nd6/internal/rpl"
	"github.com/yanet-platform/nd6/internal/timer"
)

// ErrStopped is returned by queries made after the event loop exited.
var ErrStopped = errors.New("daemon is stopped")

const shutdownTimeout = 5 * time.Second

// DaemonOption is a function that configures the Daemon.
type DaemonOption func(*daemonOptions)

type daemonOptions struct {
	Log   *zap.SugaredLogger
	Clock timer.Clock
	Ports []portBinding
}

func newDaemonOptions() *daemonOptions {
	return &daemonOptions{
		Log:   zap.NewNop().Sugar(),
		Clock: timer.SystemClock{},
	}
}

// WithLog sets the logger.
func WithLog(log *zap.SugaredLogger) DaemonOption {
	return func(o *daemonOptions) {
		o.Log = log
	}
}

// WithClock sets the clock driving the protocol timers.
func WithClock(clock timer.Clock) DaemonOption {
	return func(o *daemonOptions) {
		o.Clock = clock
	}
}

// WithPort runs the daemon on port instead of the kernel links selected
// by the configuration.
func WithPort(port Port, cfg InterfaceConfig) DaemonOption {
	return func(o *daemonOptions) {
		o.Ports = append(o.Ports, portBinding{Port: port, cfg: cfg})
	}
}

// iface is the per-link state owned by the event loop.
type iface struct {
	port   Port
	cfg    InterfaceConfig
	engine *nd.Engine
	gw     gateway.Link
	lastRA time.Time
}

func (m *iface) name() string {
	return m.port.Name()
}

// Daemon runs the ND engines of every selected link.
//
// All protocol state is owned by a single event loop goroutine. Readers,
// timers, the netlink monitor and the query endpoints post closures to it.
type Daemon struct {
	cfg   *Config
	ports []portBinding
	clock timer.Clock
	log   *zap.SugaredLogger

	ifaces    []*iface
	byIndex   map[int]*iface
	routes    *rib.RIB
	router    *rpl.Router
	sender    *rpl.Sender
	dag       *rpl.DAG
	mesh      *iface
	bridge    *gateway.Gateway
	lastPurge time.Time

	ops  chan func()
	done chan struct{}
}

// NewDaemon creates a daemon. Sockets are opened by Run.
func NewDaemon(cfg *Config, options ...DaemonOption) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opts := newDaemonOptions()
	for _, o := range options {
		o(opts)
	}

	return &Daemon{
		cfg:     cfg,
		ports:   opts.Ports,
		clock:   opts.Clock,
		log:     opts.Log,
		byIndex: map[int]*iface{},
		routes:  rib.NewRIB(cfg.Routes, rib.WithLog(opts.Log), rib.WithClock(opts.Clock)),
		ops:     make(chan func()),
		done:    make(chan struct{}),
	}, nil
}

// Run serves until ctx is canceled.
func (m *Daemon) Run(ctx context.Context) error {
	ports := m.ports
	if len(ports) == 0 {
		var err error
		if ports, err = openPorts(m.cfg, m.log); err != nil {
			return err
		}
	}
	if err := m.setup(ports); err != nil {
		for _, p := range ports {
			p.Close()
		}
		return err
	}

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		defer close(m.done)
		return m.loop(ctx)
	})
	wg.Go(func() error {
		// Ports stay open until the loop has sent its farewell messages.
		<-m.done
		for _, ifc := range m.ifaces {
			if err := ifc.port.Close(); err != nil {
				m.log.Warnw("failed to close port", zap.String("iface", ifc.name()), zap.Error(err))
			}
		}
		return nil
	})
	for _, ifc := range m.ifaces {
		wg.Go(func() error {
			return m.read(ctx, ifc)
		})
	}

	if m.cfg.Netlink {
		monitor := link.NewMonitor(m, link.WithMonitorLog(m.log))
		wg.Go(func() error {
			return monitor.Run(ctx)
		})
	}
	if m.cfg.Metrics != "" {
		wg.Go(func() error {
			return m.runMetricsServer(ctx)
		})
	}
	if m.cfg.Inspect != "" {
		server := inspect.NewGRPCServer(m.cfg.Inspect, m, m.log)
		wg.Go(func() error {
			return server.Run(ctx)
		})
	}

	return wg.Wait()
}

func (m *Daemon) setup(ports []portBinding) error {
	var mesh *nbr.Cache
	for _, p := range ports {
		ifc, err := m.newIface(p)
		if err != nil {
			return fmt.Errorf("failed to set up %q: %w", p.Name(), err)
		}
		m.ifaces = append(m.ifaces, ifc)
		m.byIndex[p.Index()] = ifc
		if mesh == nil && p.cfg.Kind == gateway.KindIEEE802154 {
			mesh = ifc.engine.Neighbors()
		}

		m.log.Infow("serving interface",
			zap.String("iface", p.Name()),
			zap.Int("index", p.Index()),
			zap.Stringer("lladdr", p.LinkAddr()),
			zap.Stringer("variant", m.cfg.Variant),
			zap.Stringer("kind", p.cfg.Kind),
		)
	}

	if m.cfg.Variant == nd.VariantClassic && !m.cfg.ND.ClassicNAReply {
		m.log.Warnw("classic engine only learns from solicitations, it does not answer them")
	}

	if m.cfg.Gateway.Enabled {
		options := []gateway.Option{
			gateway.WithLog(m.log),
			gateway.WithClock(m.clock),
		}
		if mesh != nil {
			options = append(options, gateway.WithMeshPeers(gateway.NeighborIndex{Cache: mesh}))
		}
		m.bridge = gateway.New(gateway.NewTable(), options...)
	}

	if m.cfg.Variant == nd.VariantRPL {
		return m.setupRPL()
	}
	return nil
}

func (m *Daemon) newIface(p portBinding) (*iface, error) {
	cfg := m.cfg
	ds := ds6.NewInterface(p.Name(), p.LinkAddr(), uint32(p.MTU()),
		ds6.WithLog(m.log),
		ds6.WithClock(m.clock),
		ds6.WithLimits(cfg.Limits),
	)
	ds.SetBaseReachableTime(cfg.BaseReachableTime)
	ds.RetransTimer = cfg.RetransTimer

	if _, err := ds.AddAddr(ds.LinkLocal(), 0, ds6.AddrAutoconf, true); err != nil {
		return nil, fmt.Errorf("failed to add link-local address: %w", err)
	}
	for _, addr := range p.cfg.Addresses {
		if _, err := ds.AddAddr(addr, 0, ds6.AddrManual, true); err != nil {
			return nil, fmt.Errorf("failed to add address %s: %w", addr, err)
		}
	}

	if cfg.ND.Router {
		for _, prefix := range cfg.Prefixes {
			_, err := ds.AddAdvertisedPrefix(prefix.Prefix, prefix.OnLink, prefix.Autonomous,
				seconds(prefix.ValidLifetime), seconds(prefix.PreferredLifetime))
			if err != nil {
				return nil, fmt.Errorf("failed to advertise prefix %s: %w", prefix.Prefix, err)
			}
		}
		for _, ns := range cfg.Nameservers {
			lifetime := uint32(0xffffffff)
			if ns.Lifetime > 0 {
				lifetime = seconds(ns.Lifetime)
			}
			ds.UpdateNameserver(ns.Addr, lifetime)
		}
	}

	var variant nd.Variant
	switch cfg.Variant {
	case nd.VariantClassic:
		variant = nd.Classic()
	case nd.VariantSixLo:
		variant = nd.SixLo()
	case nd.VariantRPL:
		variant = nd.RPL(m.routes)
	default:
		return nil, fmt.Errorf("unsupported variant %s", cfg.Variant)
	}

	name := p.Name()
	cache := nbr.NewCache(cfg.Neighbours, nbr.WithLog(m.log.With(zap.String("iface", name))))
	engine := nd.NewEngine(cfg.ND, ds, cache, variant,
		nd.WithLog(m.log.With(zap.String("iface", name))),
		nd.WithDADFailedHook(func(addr netip.Addr) {
			m.log.Errorw("duplicate address detected", zap.String("iface", name), zap.Stringer("addr", addr))
		}),
	)

	return &iface{
		port:   p.Port,
		cfg:    p.cfg,
		engine: engine,
		gw: gateway.Link{
			Name:     name,
			Kind:     p.cfg.Kind,
			LinkAddr: p.LinkAddr(),
		},
	}, nil
}

func (m *Daemon) setupRPL() error {
	cfg := m.cfg.RPL

	mesh := m.ifaces[0]
	if cfg.Interface != "" {
		idx := slices.IndexFunc(m.ifaces, func(ifc *iface) bool {
			return ifc.name() == cfg.Interface
		})
		if idx < 0 {
			return fmt.Errorf("rpl interface %q is not served", cfg.Interface)
		}
		mesh = m.ifaces[idx]
	}

	topo := rpl.NewTopology(1)
	inst, err := topo.AddInstance(rpl.InstanceConfig{
		ID:                 cfg.Instance,
		MinHopRankIncrease: cfg.MinHopRankIncrease,
		DefaultLifetime:    cfg.DefaultLifetime,
		LifetimeUnit:       cfg.LifetimeUnit,
		OF:                 rpl.MRHOF{},
	})
	if err != nil {
		return fmt.Errorf("failed to add rpl instance: %w", err)
	}

	rank := cfg.Rank
	if cfg.Root {
		rank = inst.RootRank()
	}
	m.dag = inst.JoinDAG(cfg.DODAG, rank)
	if !cfg.Root && cfg.Parent.IsValid() {
		m.dag.PreferredParent = m.dag.AddParent(cfg.Parent, cfg.ParentRank)
	}

	m.mesh = mesh
	m.sender = rpl.NewSender(mesh.output(m), mesh.engine.Interface().SelectSource, m.log)
	options := []rpl.Option{
		rpl.WithLog(m.log),
		rpl.WithClock(m.clock),
	}
	if m.bridge != nil {
		options = append(options, rpl.WithGateway(m.bridge))
	}
	m.router = rpl.NewRouter(topo, m.routes, m.sender, options...)
	m.router.SetMode(cfg.Mode)
	mesh.engine.Neighbors().OnRemove(m.router.NeighborRemoved)

	for _, r := range cfg.Routes {
		if _, err := m.router.AddRoute(m.dag, r.Prefix.Masked(), r.NextHop); err != nil {
			return err
		}
	}

	m.log.Infow("joined DODAG",
		zap.Uint8("instance", inst.ID),
		zap.Stringer("dodag", cfg.DODAG),
		zap.Uint16("rank", rank),
		zap.Stringer("mode", cfg.Mode),
		zap.String("iface", mesh.name()),
	)
	return nil
}

func (m *Daemon) loop(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.PeriodicInterval)
	defer ticker.Stop()

	m.start()
	for {
		select {
		case <-ctx.Done():
			m.stop()
			return nil
		case fn := <-m.ops:
			fn()
		case <-ticker.C:
			m.periodic()
		}
	}
}

// start solicits routers on hosts so that configuration does not wait for
// the next unsolicited advertisement.
func (m *Daemon) start() {
	if m.cfg.ND.Router {
		return
	}
	for _, ifc := range m.ifaces {
		pkt, err := ifc.engine.RSOutput()
		if err != nil {
			if !errors.Is(err, nd.ErrUnsupported) {
				m.log.Warnw("failed to build router solicitation", zap.String("iface", ifc.name()), zap.Error(err))
			}
			continue
		}
		m.send(ifc, pkt, nil)
	}
}

// stop withdraws our registrations before the ports go away.
func (m *Daemon) stop() {
	if m.cfg.Variant != nd.VariantSixLo {
		return
	}
	for _, ifc := range m.ifaces {
		var routers []netip.Addr
		for e := range ifc.engine.Neighbors().Entries() {
			if e.IsRouter && e.RegState == nbr.Registered {
				routers = append(routers, e.Addr)
			}
		}
		for _, addr := range routers {
			pkt, err := ifc.engine.Unregister(addr)
			if err != nil {
				m.log.Warnw("failed to unregister", zap.String("iface", ifc.name()), zap.Stringer("router", addr), zap.Error(err))
				continue
			}
			m.send(ifc, pkt, nil)
		}
	}
}

func (m *Daemon) periodic() {
	now := m.clock.Now()

	for _, ifc := range m.ifaces {
		ifc.engine.Periodic(ifc.output(m))

		if !m.cfg.ND.Router || m.cfg.RAInterval <= 0 || now.Sub(ifc.lastRA) < m.cfg.RAInterval {
			continue
		}
		pkt, err := ifc.engine.RAOutput(netip.Addr{})
		switch {
		case errors.Is(err, nd.ErrUnsupported):
		case errors.Is(err, nd.ErrNoSource):
			// The link-local address is still tentative.
		case err != nil:
			m.log.Warnw("failed to build router advertisement", zap.String("iface", ifc.name()), zap.Error(err))
		default:
			ifc.lastRA = now
			m.send(ifc, pkt, nil)
		}
	}

	if m.bridge != nil {
		m.bridge.GC(m.cfg.Gateway.MaxAge)
	}
	if m.router == nil {
		return
	}
	m.flushDAO()
	if now.Sub(m.lastPurge) >= m.cfg.RPL.PurgeInterval {
		m.lastPurge = now
		m.router.Purge()
		if m.routes.Len() == 0 && len(m.router.Sources()) > 0 {
			// Nobody routes through us anymore.
			m.router.PurgeSources()
		}
	}
}

// flushDAO sends a pending DAO refresh advertising our global address on
// the mesh link.
func (m *Daemon) flushDAO() {
	src := m.mesh.engine.Interface().SelectSource(m.dag.ID)
	if !src.IsGlobalUnicast() {
		return
	}
	m.sender.FlushDAO(m.dag, netip.PrefixFrom(src, src.BitLen()))
}

func (m *Daemon) read(ctx context.Context, ifc *iface) error {
	for {
		pkt, err := ifc.port.Read()
		switch {
		case err == nil:
		case ctx.Err() != nil || errors.Is(err, os.ErrClosed):
			return nil
		case errors.Is(err, link.ErrMalformed):
			m.log.Debugw("dropped malformed datagram", zap.String("iface", ifc.name()), zap.Error(err))
			continue
		default:
			return fmt.Errorf("failed to read from %q: %w", ifc.name(), err)
		}

		if err := m.post(ctx, func() { m.input(ifc, pkt) }); err != nil {
			return nil
		}
	}
}

func (m *Daemon) input(ifc *iface, pkt *nd.Packet) {
	if m.bridge != nil {
		res := m.bridge.Input(ifc.gw, pkt)
		if res.Action == nd.ActionReply {
			m.send(ifc, res.Reply, pkt)
			return
		}
	}

	if xnetip.IsSolicitedNode(pkt.Dst) && !ifc.engine.Interface().IsMySolicitedNode(pkt.Dst) {
		m.log.Debugw("ignored message for a foreign solicited-node group",
			zap.String("iface", ifc.name()),
			zap.String("type", nd.TypeName(pkt.Type)),
			zap.Stringer("dst", pkt.Dst),
		)
		return
	}

	res := ifc.engine.Input(pkt)
	if res.Action == nd.ActionReply {
		m.send(ifc, res.Reply, pkt)
	}
}

func (m *iface) output(d *Daemon) nd.Output {
	return nd.OutputFunc(func(pkt *nd.Packet) {
		d.send(m, pkt, nil)
	})
}

// send transmits pkt on ifc. Unicast packets without a link destination
// get one from the neighbour cache, the request being answered, the
// interface identifier of a link-local destination or the next hop of the
// route to it, in that order. When none is known pkt is dropped and
// address resolution starts.
func (m *Daemon) send(ifc *iface, pkt *nd.Packet, req *nd.Packet) {
	if pkt.LinkDst.IsZero() && !pkt.Dst.IsMulticast() {
		pkt.LinkDst = m.linkDst(ifc, pkt.Dst, req)
		if pkt.LinkDst.IsZero() {
			m.resolve(ifc, pkt)
			return
		}
	}

	if err := ifc.port.Send(pkt); err != nil {
		m.log.Warnw("failed to send",
			zap.String("iface", ifc.name()),
			zap.String("type", nd.TypeName(pkt.Type)),
			zap.Stringer("dst", pkt.Dst),
			zap.Error(err),
		)
	}
}

func (m *Daemon) linkDst(ifc *iface, dst netip.Addr, req *nd.Packet) lladdr.Addr {
	if e, ok := ifc.engine.Neighbors().Lookup(dst); ok && !e.LinkAddr.IsZero() {
		return e.LinkAddr
	}
	if req != nil && req.Src == dst && !req.LinkSrc.IsZero() {
		return req.LinkSrc
	}
	if dst.IsLinkLocalUnicast() {
		ll, err := lladdr.FromInterfaceID(xnetip.InterfaceID(dst), ifc.port.LinkAddr().Len())
		if err == nil {
			return ll
		}
		return lladdr.Addr{}
	}
	if r, ok := m.routes.LongestMatch(dst); ok && r.NextHop.IsLinkLocalUnicast() {
		return m.linkDst(ifc, r.NextHop, nil)
	}
	return lladdr.Addr{}
}

func (m *Daemon) resolve(ifc *iface, pkt *nd.Packet) {
	m.log.Debugw("no link-layer destination, resolving",
		zap.String("iface", ifc.name()),
		zap.String("type", nd.TypeName(pkt.Type)),
		zap.Stringer("dst", pkt.Dst),
	)

	ns, err := ifc.engine.Resolve(pkt.Dst)
	switch {
	case errors.Is(err, nbr.ErrExists):
		// Already being resolved.
	case err != nil:
		m.log.Warnw("failed to start address resolution",
			zap.String("iface", ifc.name()),
			zap.Stringer("dst", pkt.Dst),
			zap.Error(err),
		)
	default:
		m.send(ifc, ns, nil)
	}
}

// post runs fn on the event loop.
func (m *Daemon) post(ctx context.Context, fn func()) error {
	select {
	case m.ops <- fn:
		return nil
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call runs fn on the event loop and waits for it to complete.
func (m *Daemon) call(ctx context.Context, fn func()) error {
	complete := make(chan struct{})
	if err := m.post(ctx, func() {
		defer close(complete)
		fn()
	}); err != nil {
		return err
	}

	select {
	case <-complete:
		return nil
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot implements metrics.Source.
func (m *Daemon) Snapshot(ctx context.Context) (metrics.Snapshot, error) {
	var snap metrics.Snapshot
	err := m.call(ctx, func() {
		snap = m.snapshot()
	})
	return snap, err
}

func (m *Daemon) snapshot() metrics.Snapshot {
	snap := metrics.Snapshot{
		Routes:     m.routes.Len(),
		RouteLimit: m.routes.Cap(),
	}
	for _, ifc := range m.ifaces {
		ds := ifc.engine.Interface()
		snap.Interfaces = append(snap.Interfaces, metrics.Interface{
			Name:       ifc.name(),
			ND:         ifc.engine.Stats(),
			Neighbors:  ifc.engine.Neighbors().Len(),
			Addresses:  len(ds.Addresses()),
			Prefixes:   len(ds.Prefixes()),
			Routers:    len(ds.DefaultRouters()),
			CacheLimit: ifc.engine.Neighbors().Cap(),
		})
	}
	if m.router != nil {
		stats := m.router.Stats()
		snap.RPL = &stats
	}
	if m.bridge != nil {
		stats := m.bridge.Stats()
		snap.Bridge = &stats
		snap.BridgeLen = m.bridge.Table().Len()
	}
	return snap
}

// State implements inspect.Source.
func (m *Daemon) State(ctx context.Context) (inspect.State, error) {
	var state inspect.State
	err := m.call(ctx, func() {
		now := m.clock.Now()
		state.Routes = m.routes.Routes()
		state.DefaultRoutes = m.routes.DefaultRoutes()
		for _, ifc := range m.ifaces {
			state.Interfaces = append(state.Interfaces, inspect.CaptureInterface(ifc.name(), ifc.engine, now))
		}
		if m.bridge != nil {
			state.Bridge = m.bridge.Table().Entries()
		}
		if m.router != nil {
			state.RPL = m.rplState()
		}
	})
	return state, err
}

func (m *Daemon) rplState() *inspect.RPL {
	inst := m.dag.Instance
	out := &inspect.RPL{
		Instance:      inst.ID,
		DODAG:         m.dag.ID,
		Rank:          m.dag.Rank,
		Mode:          m.router.Mode(),
		Sources:       m.router.Sources(),
		DAOScheduled:  m.sender.Scheduled(inst.ID),
		PendingNoPath: m.router.Pending(),
	}
	if p := m.dag.PreferredParent; p != nil {
		out.Parent = p.Addr
	}
	return out
}

// HandleLink implements link.Handler.
func (m *Daemon) HandleLink(ev link.LinkEvent) {
	m.post(context.Background(), func() {
		ifc, ok := m.byIndex[ev.Index]
		if !ok {
			return
		}
		if !ev.Up {
			m.log.Warnw("link is down", zap.String("iface", ifc.name()))
			return
		}
		ds := ifc.engine.Interface()
		if ev.MTU > 0 && uint32(ev.MTU) != ds.LinkMTU {
			m.log.Infow("link MTU changed",
				zap.String("iface", ifc.name()),
				zap.Uint32("old", ds.LinkMTU),
				zap.Int("new", ev.MTU),
			)
			ds.LinkMTU = uint32(ev.MTU)
		}
	})
}

// HandleNeighbour implements link.Handler.
//
// Kernel transmission outcomes confirm neighbour reachability and feed the
// RPL objective function. Neighbours the kernel deleted stop being proxied.
func (m *Daemon) HandleNeighbour(ev link.NeighbourEvent) {
	m.post(context.Background(), func() {
		ifc, ok := m.byIndex[ev.LinkIndex]
		if !ok {
			return
		}

		switch ev.Kind {
		case link.NeighbourUpdated:
			if !ev.LinkAddr.IsZero() {
				ifc.engine.LinkConfirmed(ev.LinkAddr)
			}
			if m.router != nil && !ev.LinkAddr.IsZero() {
				m.router.LinkNeighborStatus(ev.LinkAddr, rpl.StatusOK, 1)
			}
		case link.NeighbourFailed:
			if m.router != nil && !ev.LinkAddr.IsZero() {
				m.router.LinkNeighborStatus(ev.LinkAddr, rpl.StatusLost, 0)
			}
		case link.NeighbourDeleted:
			if m.bridge != nil {
				m.bridge.Delete(ev.Addr)
			}
		}
	})
}

func (m *Daemon) runMetricsServer(ctx context.Context) error {
	server := &http.Server{
		Addr:    m.cfg.Metrics,
		Handler: metrics.Handler(metrics.NewCollector(m)),
	}

	errCh := make(chan error, 1)
	go func() {
		m.log.Infow("exposing metrics", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to serve metrics: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func seconds(d time.Duration) uint32 {
	return uint32(min(d/time.Second, 0xffffffff))
}
