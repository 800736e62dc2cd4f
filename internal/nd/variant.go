package nd

import (
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/yanet-platform/nd6/internal/lladdr"
	"github.com/yanet-platform/nd6/internal/nbr"
)

// VariantKind names one of the engine variants.
type VariantKind uint8

const (
	// VariantClassic is plain RFC 4861 Neighbor Discovery.
	VariantClassic VariantKind = iota
	// VariantSixLo is 6LoWPAN ND with address registration (RFC 6775).
	VariantSixLo
	// VariantRPL leaves neighbour discovery to RPL and only keeps the
	// router and prefix lists in sync with Router Advertisements.
	VariantRPL
)

func (m VariantKind) String() string {
	switch m {
	case VariantClassic:
		return "classic"
	case VariantSixLo:
		return "6lo"
	case VariantRPL:
		return "rpl"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m VariantKind) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *VariantKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "classic":
		*m = VariantClassic
	case "6lo":
		*m = VariantSixLo
	case "rpl":
		*m = VariantRPL
	default:
		return fmt.Errorf("unknown ND engine variant %q", text)
	}
	return nil
}

// Variant is the behaviour that differs between engine variants.
//
// Implementations are provided by this package only.
type Variant interface {
	// Kind returns the variant name.
	Kind() VariantKind

	ns(e *Engine, msg *nsMessage) Result
	na(e *Engine, msg *naMessage) Result
	answersRS() bool
	raSourceLinkAddr(e *Engine, src netip.Addr, ll lladdr.Addr)
	defaultRouterRemoved(e *Engine, addr netip.Addr)
	defaultRouterUpdated(e *Engine, addr netip.Addr, lifetime time.Duration)
}

// Classic returns the RFC 4861 variant.
func Classic() Variant {
	return classic{}
}

type classic struct{}

func (classic) Kind() VariantKind {
	return VariantClassic
}

func (classic) ns(e *Engine, msg *nsMessage) Result {
	return e.classicNS(msg)
}

func (classic) na(e *Engine, msg *naMessage) Result {
	return e.classicNA(msg)
}

func (classic) answersRS() bool {
	return true
}

func (classic) raSourceLinkAddr(e *Engine, src netip.Addr, ll lladdr.Addr) {
	e.learnRouter(src, ll)
}

func (classic) defaultRouterRemoved(*Engine, netip.Addr) {}

func (classic) defaultRouterUpdated(*Engine, netip.Addr, time.Duration) {}

// SixLo returns the address registration variant.
func SixLo() Variant {
	return sixLo{}
}

type sixLo struct{}

func (sixLo) Kind() VariantKind {
	return VariantSixLo
}

func (sixLo) ns(e *Engine, msg *nsMessage) Result {
	return e.registrationNS(msg)
}

func (sixLo) na(e *Engine, msg *naMessage) Result {
	if r, ok := e.registrationNA(msg); ok {
		return r
	}
	return e.classicNA(msg)
}

func (sixLo) answersRS() bool {
	return true
}

func (sixLo) raSourceLinkAddr(e *Engine, src netip.Addr, ll lladdr.Addr) {
	e.learnRegistrar(src, ll)
}

func (sixLo) defaultRouterRemoved(*Engine, netip.Addr) {}

func (sixLo) defaultRouterUpdated(*Engine, netip.Addr, time.Duration) {}

// DefaultRoutes receives the default routes the RPL variant learns from
// Router Advertisements.
type DefaultRoutes interface {
	SetDefaultRoute(nexthop netip.Addr, lifetime time.Duration) error
	RemoveDefaultRoute(nexthop netip.Addr) bool
}

// RPL returns the RPL variant. Default routers learned from Router
// Advertisements are mirrored into routes.
func RPL(routes DefaultRoutes) Variant {
	return rplVariant{routes: routes}
}

type rplVariant struct {
	routes DefaultRoutes
}

func (rplVariant) Kind() VariantKind {
	return VariantRPL
}

// RPL neighbours are discovered through DIO/DAO exchange. Solicitations
// only refresh the link-layer address.
func (rplVariant) ns(e *Engine, msg *nsMessage) Result {
	if msg.hasSLLAO {
		e.learnSolicitor(msg.pkt.Src, msg.sllao)
	}
	return discard()
}

func (rplVariant) na(*Engine, *naMessage) Result {
	return discard()
}

func (rplVariant) answersRS() bool {
	return false
}

func (rplVariant) raSourceLinkAddr(e *Engine, src netip.Addr, ll lladdr.Addr) {
	e.learnRouter(src, ll)
}

func (m rplVariant) defaultRouterRemoved(e *Engine, addr netip.Addr) {
	if m.routes.RemoveDefaultRoute(addr) {
		e.log.Debugw("removed default route", zap.Stringer("nexthop", addr))
	}
}

func (m rplVariant) defaultRouterUpdated(e *Engine, addr netip.Addr, lifetime time.Duration) {
	if err := m.routes.SetDefaultRoute(addr, lifetime); err != nil {
		e.log.Warnw("failed to install default route",
			zap.Stringer("nexthop", addr),
			zap.Error(err),
		)
	}
}

// learnSolicitor refreshes the solicitor's cache entry from its SLLAO.
func (m *Engine) learnSolicitor(src netip.Addr, ll lladdr.Addr) {
	e, ok := m.nbrs.Lookup(src)
	switch {
	case !ok:
		if _, err := m.nbrs.Add(src, ll, false, nbr.Stale); err != nil {
			m.log.Debugw("failed to learn neighbour", zap.Stringer("addr", src), zap.Error(err))
		}
	case e.LinkAddr != ll:
		e.LinkAddr = ll
		e.State = nbr.Stale
	case e.State == nbr.Incomplete:
		e.State = nbr.Stale
	}
}

// learnRouter creates or refreshes a router entry from an RA SLLAO.
func (m *Engine) learnRouter(src netip.Addr, ll lladdr.Addr) {
	now := m.iface.Now()

	e, ok := m.nbrs.Lookup(src)
	if !ok {
		e, err := m.nbrs.Add(src, ll, true, nbr.Reachable)
		if err != nil {
			m.log.Debugw("failed to learn router", zap.Stringer("addr", src), zap.Error(err))
			return
		}
		e.Reachable.Set(now, m.iface.ReachableTime)
		return
	}

	if e.State == nbr.Incomplete {
		e.State = nbr.Reachable
		e.Reachable.Set(now, m.iface.ReachableTime)
	}
	if e.LinkAddr != ll {
		e.LinkAddr = ll
		e.State = nbr.Stale
	}
	e.IsRouter = true
}

// learnRegistrar creates or refreshes a router entry from an RA SLLAO and
// schedules address registration with it.
func (m *Engine) learnRegistrar(src netip.Addr, ll lladdr.Addr) {
	now := m.iface.Now()

	e, ok := m.nbrs.Lookup(src)
	if !ok {
		e, err := m.nbrs.Add(src, ll, true, nbr.Reachable)
		if err != nil {
			m.log.Debugw("failed to learn router", zap.Stringer("addr", src), zap.Error(err))
			return
		}
		e.Reachable.Set(now, m.iface.ReachableTime)
		e.RegState = nbr.ToBeRegistered
		e.NSCount = 0
		e.SendNS.Set(now, 0)
		return
	}

	if e.State == nbr.Stale {
		e.State = nbr.Reachable
		e.Reachable.Set(now, m.iface.ReachableTime)
	}
	if e.LinkAddr != ll {
		e.LinkAddr = ll
		e.State = nbr.Reachable
		e.Reachable.Set(now, m.iface.ReachableTime)
	}
	e.IsRouter = true
}
