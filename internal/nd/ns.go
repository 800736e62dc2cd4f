package nd

import (
	"errors"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/yanet-platform/nd6/common/go/xnetip"
	"github.com/yanet-platform/nd6/internal/ds6"
	"github.com/yanet-platform/nd6/internal/lladdr"
	"github.com/yanet-platform/nd6/internal/nbr"
	"github.com/yanet-platform/nd6/internal/option"
)

// Reserved(32) + target(128).
const nsHeaderLen = 20

type nsMessage struct {
	pkt      *Packet
	target   netip.Addr
	opts     option.Set
	sllao    lladdr.Addr
	hasSLLAO bool
}

func (m *Engine) nsInput(pkt *Packet) Result {
	if pkt.HopLimit != HopLimit || pkt.Code != 0 {
		return m.drop(pkt, "bad hop limit or code")
	}
	if len(pkt.Body) < nsHeaderLen {
		return m.drop(pkt, "truncated message")
	}

	msg := &nsMessage{
		pkt:    pkt,
		target: netip.AddrFrom16([16]byte(pkt.Body[4:20])),
	}
	if msg.target.IsMulticast() {
		return m.drop(pkt, "multicast target")
	}

	opts, err := option.Parse(pkt.Body[nsHeaderLen:])
	if err != nil {
		return m.drop(pkt, err.Error())
	}
	msg.opts = opts

	dad := pkt.Src == xnetip.Unspecified
	if o, ok := msg.opts.First(option.TypeSLLAO); ok {
		if dad {
			return m.drop(pkt, "SLLAO in a DAD solicitation")
		}
		ll, err := option.DecodeLinkAddr(o, m.iface.LinkAddr.Len())
		if err != nil {
			return m.drop(pkt, err.Error())
		}
		msg.sllao, msg.hasSLLAO = ll, true
	}
	if dad && !xnetip.IsSolicitedNode(pkt.Dst) {
		return m.drop(pkt, "DAD solicitation not sent to a solicited-node group")
	}

	return m.variant.ns(m, msg)
}

// classicNS answers address resolution, NUD and DAD solicitations for our
// addresses.
func (m *Engine) classicNS(msg *nsMessage) Result {
	pkt := msg.pkt

	addr := m.iface.LookupAddr(msg.target)
	if addr == nil {
		return m.drop(pkt, "target is not ours")
	}

	if pkt.Src == xnetip.Unspecified {
		if addr.State == ds6.AddrTentative {
			m.failDAD(msg.target)
			return discard()
		}
		return reply(m.defendNA(msg.target))
	}

	if m.iface.IsMyAddr(pkt.Src) {
		return m.drop(pkt, "solicitation from our own address")
	}
	if addr.State == ds6.AddrTentative {
		return m.drop(pkt, "target is tentative")
	}
	if pkt.Dst != xnetip.SolicitedNode(msg.target) && pkt.Dst != msg.target {
		return m.drop(pkt, "unexpected destination")
	}

	if msg.hasSLLAO {
		m.learnSolicitor(pkt.Src, msg.sllao)
	}
	if !m.cfg.ClassicNAReply {
		return discard()
	}

	na := NewNA(msg.target, pkt.Src, msg.target,
		m.naFlags(FlagSolicited|FlagOverride),
		option.AppendLinkAddr(nil, option.TypeTLLAO, m.iface.LinkAddr),
	)
	na.LinkDst = msg.sllao
	if !msg.hasSLLAO {
		if e, ok := m.nbrs.Lookup(pkt.Src); ok {
			na.LinkDst = e.LinkAddr
		}
	}
	return reply(na)
}

// defendNA answers a DAD probe for one of our preferred addresses. The
// answer goes to all-nodes, so it must not be flagged solicited.
func (m *Engine) defendNA(target netip.Addr) *Packet {
	return NewNA(m.iface.SelectSource(xnetip.AllNodes), xnetip.AllNodes, target,
		m.naFlags(FlagOverride),
		option.AppendLinkAddr(nil, option.TypeTLLAO, m.iface.LinkAddr),
	)
}

// registrationNS classifies an address registration against the cache.
func (m *Engine) registrationNS(msg *nsMessage) Result {
	pkt := msg.pkt

	o, ok := msg.opts.First(option.TypeARO)
	if !ok || pkt.Src == xnetip.Unspecified || !msg.hasSLLAO {
		return forward()
	}
	aro, err := option.DecodeARO(o)
	if err != nil {
		return m.drop(pkt, err.Error())
	}
	if aro.Status != option.StatusSuccess {
		return m.drop(pkt, "registration with a non-zero status")
	}

	lifetime := time.Duration(aro.Lifetime) * time.Minute

	e, found := m.nbrs.Lookup(pkt.Src)
	switch {
	case !found:
		if lifetime == 0 {
			break
		}
		e, err := m.nbrs.Add(pkt.Src, msg.sllao, false, nbr.Reachable)
		if errors.Is(err, nbr.ErrCacheFull) {
			return reply(m.registrationReply(msg, aro, option.StatusNCFull))
		}
		if err != nil {
			return m.drop(pkt, err.Error())
		}
		m.register(e, lifetime)
	case e.LinkAddr.EUI64() != aro.EUI64:
		return reply(m.registrationReply(msg, aro, option.StatusDuplicate))
	case e.State == nbr.GarbageCollectible:
		return m.drop(pkt, "registration for a collectible entry")
	case lifetime == 0:
		m.nbrs.Remove(pkt.Src)
		m.log.Debugw("neighbour unregistered", zap.Stringer("addr", pkt.Src))
	default:
		m.register(e, lifetime)
	}

	return reply(m.registrationReply(msg, aro, option.StatusSuccess))
}

func (m *Engine) register(e *nbr.Entry, lifetime time.Duration) {
	e.State = nbr.Reachable
	e.RegState = nbr.Registered
	e.NSCount = 0
	now := m.iface.Now()
	e.Reachable.Set(now, lifetime)
	e.SendNS.Set(now, min(m.cfg.RegistrationRefresh, lifetime))

	m.log.Debugw("neighbour registered",
		zap.Stringer("addr", e.Addr),
		zap.Stringer("lladdr", e.LinkAddr),
		zap.Duration("lifetime", lifetime),
	)
}

// registrationReply builds the NA answering a registration. It is flagged
// as coming from a router and nothing else. Errors also carry the
// requester's link-layer address in a TLLAO.
func (m *Engine) registrationReply(msg *nsMessage, aro option.ARO, status option.Status) *Packet {
	pkt := msg.pkt

	src := pkt.Dst
	if src.IsMulticast() {
		src = m.iface.SelectSource(pkt.Src)
	}

	var opts []byte
	if status != option.StatusSuccess {
		m.stats.RegistrationErrors++
		m.log.Infow("rejected address registration",
			zap.Stringer("addr", pkt.Src),
			zap.Stringer("lladdr", msg.sllao),
			zap.Stringer("status", status),
		)
		opts = option.AppendLinkAddr(opts, option.TypeTLLAO, msg.sllao)
	}
	opts = option.AppendARO(opts, option.ARO{
		Status:   status,
		Lifetime: aro.Lifetime,
		EUI64:    aro.EUI64,
	})

	na := NewNA(src, pkt.Src, msg.target, FlagRouter, opts)
	na.LinkDst = msg.sllao
	return na
}

func (m *Engine) naFlags(flags uint8) uint8 {
	if m.cfg.Router {
		flags |= FlagRouter
	}
	return flags
}

func (m *Engine) drop(pkt *Packet, reason string) Result {
	m.log.Debugw("discarded ND message",
		zap.String("type", TypeName(pkt.Type)),
		zap.Stringer("src", pkt.Src),
		zap.Stringer("dst", pkt.Dst),
		zap.String("reason", reason),
	)
	return discard()
}
