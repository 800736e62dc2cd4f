package nd

import (
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/yanet-platform/nd6/internal/ds6"
	"github.com/yanet-platform/nd6/internal/lladdr"
	"github.com/yanet-platform/nd6/internal/nbr"
)

// Config is the ND protocol configuration of one interface.
type Config struct {
	// Router enables the router role: RS handling and RA emission.
	Router bool `yaml:"router"`
	// CurHopLimit is the hop limit announced in Router Advertisements.
	CurHopLimit uint8 `yaml:"cur_hop_limit"`
	// Managed sets the M flag in Router Advertisements.
	Managed bool `yaml:"managed"`
	// OtherConfig sets the O flag in Router Advertisements.
	OtherConfig bool `yaml:"other_config"`
	// RouterLifetime is the router lifetime announced in Router
	// Advertisements.
	RouterLifetime time.Duration `yaml:"router_lifetime"`
	// RegistrationLifetime is the lifetime requested in the Address
	// Registration Option, rounded down to whole minutes.
	RegistrationLifetime time.Duration `yaml:"registration_lifetime"`
	// RegistrationRefresh is the interval between registration refreshes.
	RegistrationRefresh time.Duration `yaml:"registration_refresh"`
	// MaxUnicastSolicit bounds unanswered registration and resolution
	// solicitations before the neighbour is dropped.
	MaxUnicastSolicit uint8 `yaml:"max_unicast_solicit"`
	// ClassicNAReply makes the classic engine answer solicitations for
	// our addresses. Disabling it only learns from them.
	ClassicNAReply bool `yaml:"classic_na_reply"`
}

// DefaultConfig returns the default ND configuration.
func DefaultConfig() Config {
	return Config{
		Router:               false,
		CurHopLimit:          ds6.DefaultCurHopLimit,
		RouterLifetime:       30 * time.Minute,
		RegistrationLifetime: 60 * time.Minute,
		RegistrationRefresh:  55 * time.Minute,
		MaxUnicastSolicit:    3,
		ClassicNAReply:       true,
	}
}

// Option is a function that configures an Engine.
type Option func(*options)

// WithLog sets the logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithDADFailedHook registers a callback run when one of our addresses is
// found to be a duplicate.
func WithDADFailedHook(fn func(addr netip.Addr)) Option {
	return func(o *options) {
		o.DADFailed = fn
	}
}

type options struct {
	Log       *zap.SugaredLogger
	DADFailed func(addr netip.Addr)
}

func newOptions() *options {
	return &options{
		Log:       zap.NewNop().Sugar(),
		DADFailed: func(netip.Addr) {},
	}
}

// Engine is the ND state machine of one interface.
//
// It consumes decoded ND messages and timer ticks, mutates the interface
// and neighbour state and returns the messages to transmit. It performs no
// I/O and is not safe for concurrent use: the owner serializes calls.
type Engine struct {
	cfg       Config
	iface     *ds6.Interface
	nbrs      *nbr.Cache
	variant   Variant
	dadFailed func(addr netip.Addr)
	stats     Stats
	log       *zap.SugaredLogger
}

// NewEngine creates an engine running the given variant over the interface
// and neighbour cache.
func NewEngine(cfg Config, iface *ds6.Interface, nbrs *nbr.Cache, variant Variant, options ...Option) *Engine {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	if !cfg.ClassicNAReply && variant.Kind() == VariantClassic {
		opts.Log.Warnw("NA replies to neighbour solicitations are disabled",
			zap.String("iface", iface.Name),
		)
	}

	return &Engine{
		cfg:       cfg,
		iface:     iface,
		nbrs:      nbrs,
		variant:   variant,
		dadFailed: opts.DADFailed,
		log:       opts.Log.With(zap.String("iface", iface.Name), zap.Stringer("variant", variant.Kind())),
	}
}

// Interface returns the interface state the engine drives.
func (m *Engine) Interface() *ds6.Interface {
	return m.iface
}

// Neighbors returns the neighbour cache the engine drives.
func (m *Engine) Neighbors() *nbr.Cache {
	return m.nbrs
}

// Variant returns the engine variant.
func (m *Engine) Variant() Variant {
	return m.variant
}

// Stats returns a snapshot of the message counters.
func (m *Engine) Stats() Stats {
	return m.stats
}

// Input handles one inbound ND message.
func (m *Engine) Input(pkt *Packet) Result {
	counters := m.stats.counters(pkt.Type)
	if counters == nil {
		m.log.Debugw("ignored non-ND message", zap.String("type", TypeName(pkt.Type)))
		return discard()
	}
	counters.Recv++

	var result Result
	switch pkt.Type {
	case TypeNeighborSolicitation:
		result = m.nsInput(pkt)
	case TypeNeighborAdvertisement:
		result = m.naInput(pkt)
	case TypeRouterSolicitation:
		result = m.rsInput(pkt)
	case TypeRouterAdvertisement:
		result = m.raInput(pkt)
	}

	switch result.Action {
	case ActionDiscard:
		counters.Drop++
	case ActionForward:
		counters.Forward++
	case ActionReply:
		m.stats.count(result.Reply)
	}
	return result
}

// Resolve starts address resolution for a neighbour not yet in the cache
// and returns the multicast solicitation to send.
func (m *Engine) Resolve(addr netip.Addr) (*Packet, error) {
	e, err := m.nbrs.Add(addr, lladdr.Addr{}, false, nbr.Incomplete)
	if err != nil {
		return nil, err
	}
	e.NSCount = 1
	e.SendNS.Set(m.iface.Now(), m.iface.RetransTimer)
	return m.NSOutput(netip.Addr{}, netip.Addr{}, addr)
}

// LinkConfirmed marks the neighbour owning ll reachable after the link
// layer acknowledged a transmission to it. Entries still being resolved
// keep their state and registrations keep their lifetime. It reports
// whether an entry was refreshed.
func (m *Engine) LinkConfirmed(ll lladdr.Addr) bool {
	e, ok := m.nbrs.LookupByLinkAddr(ll)
	if !ok || e.State == nbr.Incomplete || e.RegState != nbr.Unregistered {
		return false
	}
	m.confirm(e, m.iface.Now())
	m.log.Debugw("link layer confirmed reachability",
		zap.Stringer("addr", e.Addr),
		zap.Stringer("lladdr", ll),
	)
	return true
}

func (m *Engine) failDAD(addr netip.Addr) {
	m.log.Warnw("duplicate address detected", zap.Stringer("addr", addr))
	m.stats.DADFailed++
	m.iface.RemoveAddr(addr)
	m.dadFailed(addr)
}

func (m *Engine) removeDefaultRouter(addr netip.Addr) {
	if m.iface.RemoveDefaultRouter(addr) {
		m.variant.defaultRouterRemoved(m, addr)
	}
}
