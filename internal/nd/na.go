package nd

import (
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/yanet-platform/nd6/internal/ds6"
	"github.com/yanet-platform/nd6/internal/lladdr"
	"github.com/yanet-platform/nd6/internal/nbr"
	"github.com/yanet-platform/nd6/internal/option"
)

// Flags(8) + reserved(24) + target(128).
const naHeaderLen = 20

type naMessage struct {
	pkt      *Packet
	flags    uint8
	target   netip.Addr
	opts     option.Set
	tllao    lladdr.Addr
	hasTLLAO bool
}

func (m *naMessage) solicited() bool {
	return m.flags&FlagSolicited != 0
}

func (m *naMessage) override() bool {
	return m.flags&FlagOverride != 0
}

func (m *naMessage) router() bool {
	return m.flags&FlagRouter != 0
}

func (m *Engine) naInput(pkt *Packet) Result {
	if pkt.HopLimit != HopLimit || pkt.Code != 0 {
		return m.drop(pkt, "bad hop limit or code")
	}
	if len(pkt.Body) < naHeaderLen {
		return m.drop(pkt, "truncated message")
	}

	msg := &naMessage{
		pkt:    pkt,
		flags:  pkt.Body[0],
		target: netip.AddrFrom16([16]byte(pkt.Body[4:20])),
	}
	if msg.target.IsMulticast() {
		return m.drop(pkt, "multicast target")
	}
	if msg.solicited() && pkt.Dst.IsMulticast() {
		return m.drop(pkt, "solicited advertisement sent to a multicast group")
	}

	opts, err := option.Parse(pkt.Body[naHeaderLen:])
	if err != nil {
		return m.drop(pkt, err.Error())
	}
	msg.opts = opts

	if o, ok := msg.opts.First(option.TypeTLLAO); ok {
		ll, err := option.DecodeLinkAddr(o, m.iface.LinkAddr.Len())
		if err != nil {
			return m.drop(pkt, err.Error())
		}
		msg.tllao, msg.hasTLLAO = ll, true
	}

	return m.variant.na(m, msg)
}

// classicNA applies an advertisement to the target's cache entry.
func (m *Engine) classicNA(msg *naMessage) Result {
	if addr := m.iface.LookupAddr(msg.target); addr != nil {
		if addr.State == ds6.AddrTentative {
			m.failDAD(msg.target)
		} else {
			m.log.Debugw("advertisement for our own address", zap.Stringer("addr", msg.target))
		}
		return discard()
	}

	e, ok := m.nbrs.Lookup(msg.target)
	if !ok {
		return discard()
	}
	now := m.iface.Now()

	if e.State == nbr.Incomplete {
		if !msg.hasTLLAO {
			return m.drop(msg.pkt, "no TLLAO for an incomplete entry")
		}
		e.LinkAddr = msg.tllao
		e.SendNS.Stop()
		if msg.solicited() {
			m.confirm(e, now)
		} else {
			e.State = nbr.Stale
		}
		e.IsRouter = msg.router()
		return discard()
	}

	llChanged := msg.hasTLLAO && msg.tllao != e.LinkAddr
	if !msg.override() && llChanged {
		if e.State == nbr.Reachable {
			e.State = nbr.Stale
		}
		return discard()
	}

	if msg.hasTLLAO {
		e.LinkAddr = msg.tllao
	}
	switch {
	case msg.solicited():
		m.confirm(e, now)
	case llChanged:
		e.State = nbr.Stale
	}

	if e.IsRouter && !msg.router() {
		m.removeDefaultRouter(msg.target)
	}
	e.IsRouter = msg.router()
	return discard()
}

func (m *Engine) confirm(e *nbr.Entry, now time.Time) {
	e.State = nbr.Reachable
	e.NSCount = 0
	e.Reachable.Set(now, m.iface.ReachableTime)
}

// registrationNA handles the ARO status a router returned for one of our
// registrations. It reports false when the advertisement carries no ARO
// meant for us.
func (m *Engine) registrationNA(msg *naMessage) (Result, bool) {
	o, ok := msg.opts.First(option.TypeARO)
	if !ok {
		return Result{}, false
	}
	aro, err := option.DecodeARO(o)
	if err != nil || aro.EUI64 != m.iface.LinkAddr.EUI64() {
		m.log.Debugw("ignored foreign ARO", zap.Stringer("src", msg.pkt.Src))
		return Result{}, false
	}

	src := msg.pkt.Src
	e, ok := m.nbrs.Lookup(src)
	if !ok || e.State == nbr.GarbageCollectible {
		return discard(), true
	}

	if aro.Lifetime == 0 && e.RegState == nbr.ToBeUnregistered {
		m.nbrs.Remove(src)
		m.log.Infow("unregistered from router", zap.Stringer("router", src))
		return discard(), true
	}

	now := m.iface.Now()
	switch aro.Status {
	case option.StatusSuccess:
		lifetime := time.Duration(aro.Lifetime) * time.Minute
		e.State = nbr.Reachable
		e.RegState = nbr.Registered
		e.NSCount = 0
		e.Reachable.Set(now, lifetime)
		e.SendNS.Set(now, min(m.cfg.RegistrationRefresh, lifetime))
		if r := m.iface.LookupDefaultRouter(src); r != nil {
			r.Lifetime.Reset(now)
		}
		m.log.Debugw("registered with router",
			zap.Stringer("router", src),
			zap.Stringer("addr", msg.target),
			zap.Duration("lifetime", lifetime),
		)
	case option.StatusDuplicate:
		m.failDAD(msg.target)
	case option.StatusNCFull:
		m.log.Infow("router neighbour cache is full", zap.Stringer("router", src))
		m.nbrs.Remove(src)
	default:
		m.log.Debugw("unknown ARO status",
			zap.Stringer("router", src),
			zap.Stringer("status", aro.Status),
		)
	}
	return discard(), true
}
