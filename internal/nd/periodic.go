package nd

import (
	"net/netip"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/yanet-platform/nd6/internal/nbr"
)

// Periodic advances the interface and neighbour timers and sends the
// solicitations that became due: DAD probes, address resolution
// retransmissions and 6Lo registration refreshes.
func (m *Engine) Periodic(out Output) {
	tick := m.iface.Periodic()
	for _, addr := range tick.ExpiredRouters {
		m.variant.defaultRouterRemoved(m, addr)
	}
	for _, addr := range tick.DAD {
		pkt, err := m.nsPacket(netip.Addr{}, netip.Addr{}, addr, 0)
		if err != nil {
			m.log.Debugw("failed to build DAD probe", zap.Stringer("addr", addr), zap.Error(err))
			continue
		}
		m.send(out, pkt)
	}

	now := m.iface.Now()
	for _, e := range slices.Collect(m.nbrs.Entries()) {
		switch {
		case e.IsRouter && m.variant.Kind() == VariantSixLo &&
			(e.RegState == nbr.ToBeRegistered || e.RegState == nbr.Registered):
			m.refreshRegistration(out, e, now)
		case !e.IsRouter && e.RegState == nbr.Registered:
			if e.Reachable.Expired(now) {
				m.log.Debugw("registration expired", zap.Stringer("addr", e.Addr))
				m.nbrs.Remove(e.Addr)
			}
		case e.State == nbr.Incomplete:
			m.retryResolution(out, e, now)
		case e.State == nbr.Reachable && e.Reachable.Expired(now):
			e.State = nbr.Stale
			e.Reachable.Stop()
		}
	}
}

func (m *Engine) refreshRegistration(out Output, e *nbr.Entry, now time.Time) {
	if !e.SendNS.Expired(now) {
		return
	}
	if e.NSCount >= m.cfg.MaxUnicastSolicit {
		m.log.Infow("router did not answer registration", zap.Stringer("router", e.Addr))
		addr := e.Addr
		m.nbrs.Remove(addr)
		m.removeDefaultRouter(addr)
		return
	}

	src := m.iface.SelectSource(e.Addr)
	pkt, err := m.nsPacket(src, e.Addr, src, m.registrationMinutes())
	if err != nil {
		m.log.Debugw("failed to build registration", zap.Stringer("router", e.Addr), zap.Error(err))
		return
	}
	e.NSCount++
	e.SendNS.Set(now, m.iface.RetransTimer)
	pkt.LinkDst = e.LinkAddr
	m.send(out, pkt)
}

func (m *Engine) retryResolution(out Output, e *nbr.Entry, now time.Time) {
	if !e.SendNS.Expired(now) {
		return
	}
	if e.NSCount >= m.cfg.MaxUnicastSolicit {
		m.log.Debugw("address resolution failed", zap.Stringer("addr", e.Addr))
		m.nbrs.Remove(e.Addr)
		return
	}

	pkt, err := m.nsPacket(netip.Addr{}, netip.Addr{}, e.Addr, m.registrationMinutes())
	if err != nil {
		m.log.Debugw("failed to build solicitation", zap.Stringer("addr", e.Addr), zap.Error(err))
		return
	}
	e.NSCount++
	e.SendNS.Set(now, m.iface.RetransTimer)
	m.send(out, pkt)
}

func (m *Engine) send(out Output, pkt *Packet) {
	m.stats.count(pkt)
	out.Send(pkt)
}
