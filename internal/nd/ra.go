package nd

import (
	"encoding/binary"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/yanet-platform/nd6/common/go/xnetip"
	"github.com/yanet-platform/nd6/internal/ds6"
	"github.com/yanet-platform/nd6/internal/lladdr"
	"github.com/yanet-platform/nd6/internal/nbr"
	"github.com/yanet-platform/nd6/internal/option"
)

const (
	// Reserved(32).
	rsHeaderLen = 4
	// Cur hop limit(8) + flags(8) + router lifetime(16) + reachable
	// time(32) + retrans timer(32).
	raHeaderLen = 12
)

// RA header flags.
const (
	raFlagManaged = 0x80
	raFlagOther   = 0x40
)

// minLinkMTU is the IPv6 minimum link MTU.
const minLinkMTU = 1280

// twoHours is the RFC 4862 5.5.3(e) valid lifetime floor.
const twoHours = 2 * time.Hour

func (m *Engine) rsInput(pkt *Packet) Result {
	if !m.cfg.Router {
		return discard()
	}
	if pkt.HopLimit != HopLimit || pkt.Code != 0 {
		return m.drop(pkt, "bad hop limit or code")
	}
	if len(pkt.Body) < rsHeaderLen {
		return m.drop(pkt, "truncated message")
	}
	opts, err := option.Parse(pkt.Body[rsHeaderLen:])
	if err != nil {
		return m.drop(pkt, err.Error())
	}

	if o, ok := option.Set(opts).First(option.TypeSLLAO); ok {
		if pkt.Src == xnetip.Unspecified {
			return m.drop(pkt, "SLLAO with an unspecified source")
		}
		ll, err := option.DecodeLinkAddr(o, m.iface.LinkAddr.Len())
		if err != nil {
			return m.drop(pkt, err.Error())
		}
		m.learnHost(pkt.Src, ll)
	}

	if !m.variant.answersRS() {
		return discard()
	}
	ra, err := m.raPacket(xnetip.AllNodes)
	if err != nil {
		m.log.Debugw("failed to build solicited RA", zap.Error(err))
		return discard()
	}
	return reply(ra)
}

// learnHost records a router solicitor as a STALE non-router neighbour.
func (m *Engine) learnHost(src netip.Addr, ll lladdr.Addr) {
	e, ok := m.nbrs.Lookup(src)
	if ok && e.LinkAddr == ll {
		e.IsRouter = false
		return
	}
	if ok {
		m.nbrs.Remove(src)
	}
	if _, err := m.nbrs.Add(src, ll, false, nbr.Stale); err != nil {
		m.log.Debugw("failed to learn neighbour", zap.Stringer("addr", src), zap.Error(err))
	}
}

type raMessage struct {
	curHopLimit    uint8
	flags          uint8
	routerLifetime uint16
	reachable      uint32
	retrans        uint32

	sllao    lladdr.Addr
	hasSLLAO bool
	mtu      uint32
	hasMTU   bool
	prefixes []option.PrefixInfo
	rdnss    []option.RDNSS
}

func (m *Engine) raInput(pkt *Packet) Result {
	if pkt.HopLimit != HopLimit || pkt.Code != 0 {
		return m.drop(pkt, "bad hop limit or code")
	}
	if !pkt.Src.IsLinkLocalUnicast() {
		return m.drop(pkt, "source is not link-local")
	}
	if len(pkt.Body) < raHeaderLen {
		return m.drop(pkt, "truncated message")
	}

	b := pkt.Body
	msg := &raMessage{
		curHopLimit:    b[0],
		flags:          b[1],
		routerLifetime: binary.BigEndian.Uint16(b[2:4]),
		reachable:      binary.BigEndian.Uint32(b[4:8]),
		retrans:        binary.BigEndian.Uint32(b[8:12]),
	}
	if err := m.decodeRAOptions(msg, b[raHeaderLen:]); err != nil {
		return m.drop(pkt, err.Error())
	}

	if msg.curHopLimit != 0 {
		m.iface.CurHopLimit = msg.curHopLimit
	}
	if msg.reachable != 0 {
		m.iface.SetBaseReachableTime(time.Duration(msg.reachable) * time.Millisecond)
	}
	if msg.retrans != 0 {
		m.iface.RetransTimer = time.Duration(msg.retrans) * time.Millisecond
	}

	if msg.hasSLLAO {
		m.variant.raSourceLinkAddr(m, pkt.Src, msg.sllao)
	}
	if msg.hasMTU {
		if msg.mtu >= minLinkMTU {
			m.iface.LinkMTU = msg.mtu
		} else {
			m.log.Debugw("ignored MTU below the IPv6 minimum", zap.Uint32("mtu", msg.mtu))
		}
	}
	for _, p := range msg.prefixes {
		m.prefixInfo(p)
	}
	if msg.flags&raFlagOther != 0 {
		for _, r := range msg.rdnss {
			for _, s := range r.Servers {
				m.iface.UpdateNameserver(s, r.Lifetime)
			}
		}
	}

	m.routerLifetime(pkt.Src, msg.routerLifetime)
	return discard()
}

// decodeRAOptions decodes every recognized option so that a malformed one
// rejects the whole advertisement before any state changes.
func (m *Engine) decodeRAOptions(msg *raMessage, buf []byte) error {
	opts, err := option.Parse(buf)
	if err != nil {
		return err
	}

	for _, o := range opts {
		switch o.Type {
		case option.TypeSLLAO:
			if msg.hasSLLAO {
				continue
			}
			ll, err := option.DecodeLinkAddr(o, m.iface.LinkAddr.Len())
			if err != nil {
				return err
			}
			msg.sllao, msg.hasSLLAO = ll, true
		case option.TypeMTU:
			mtu, err := option.DecodeMTU(o)
			if err != nil {
				return err
			}
			msg.mtu, msg.hasMTU = mtu, true
		case option.TypePrefixInfo:
			p, err := option.DecodePrefixInfo(o)
			if err != nil {
				return err
			}
			msg.prefixes = append(msg.prefixes, p)
		case option.TypeRDNSS:
			r, err := option.DecodeRDNSS(o)
			if err != nil {
				return err
			}
			msg.rdnss = append(msg.rdnss, r)
		}
	}
	return nil
}

func (m *Engine) routerLifetime(src netip.Addr, seconds uint16) {
	if seconds == 0 {
		m.removeDefaultRouter(src)
		return
	}

	lifetime := time.Duration(seconds) * time.Second
	if r := m.iface.LookupDefaultRouter(src); r != nil {
		r.IsInfinite = false
		r.Lifetime.Set(m.iface.Now(), lifetime)
	} else if _, err := m.iface.AddDefaultRouter(src, lifetime); err != nil {
		m.log.Debugw("failed to add default router", zap.Stringer("addr", src), zap.Error(err))
		return
	}
	if e, ok := m.nbrs.Lookup(src); ok {
		e.IsRouter = true
	}
	m.variant.defaultRouterUpdated(m, src, lifetime)
}

// prefixInfo applies one Prefix Information option: on-link determination
// (RFC 4861 6.3.4) and stateless autoconfiguration (RFC 4862 5.5.3).
func (m *Engine) prefixInfo(p option.PrefixInfo) {
	if p.PreferredLifetime > p.ValidLifetime || p.Prefix.IsLinkLocalUnicast() || p.PrefixLen > 128 {
		m.log.Debugw("ignored prefix information",
			zap.Stringer("prefix", p.Prefix),
			zap.Uint8("len", p.PrefixLen),
		)
		return
	}

	prefix := netip.PrefixFrom(p.Prefix, int(p.PrefixLen)).Masked()
	now := m.iface.Now()
	valid := time.Duration(p.ValidLifetime) * time.Second
	infinite := p.ValidLifetime == option.InfiniteLifetime

	if p.OnLink {
		entry := m.iface.LookupPrefix(prefix)
		switch {
		case entry == nil:
			if p.ValidLifetime == 0 {
				break
			}
			if infinite {
				valid = 0
			}
			if _, err := m.iface.AddPrefix(prefix, valid, infinite); err != nil {
				m.log.Debugw("failed to add prefix", zap.Stringer("prefix", prefix), zap.Error(err))
			}
		case entry.Advertise:
		case p.ValidLifetime == 0:
			m.iface.RemovePrefix(prefix)
		case infinite:
			entry.IsInfinite = true
		default:
			entry.Valid.Set(now, valid)
			entry.IsInfinite = false
		}
	}

	if !p.Autonomous || p.ValidLifetime == 0 || p.PrefixLen != 64 {
		return
	}

	addr := xnetip.WithInterfaceID(prefix.Addr(), m.iface.LinkAddr.InterfaceID())
	a := m.iface.LookupAddr(addr)
	switch {
	case a == nil:
		lifetime := valid
		if infinite {
			lifetime = 0
		}
		tentative := m.variant.Kind() == VariantClassic
		if _, err := m.iface.AddAddr(addr, lifetime, ds6.AddrAutoconf, tentative); err != nil {
			m.log.Debugw("failed to autoconfigure address", zap.Stringer("addr", addr), zap.Error(err))
		}
	case a.Type != ds6.AddrAutoconf:
	case infinite:
		a.IsInfinite = true
	default:
		remaining := a.Lifetime.Remaining(now)
		if a.IsInfinite {
			remaining = time.Duration(option.InfiniteLifetime) * time.Second
		}
		if valid > twoHours || valid > remaining {
			a.Lifetime.Set(now, valid)
		} else {
			a.Lifetime.Set(now, twoHours)
		}
		a.IsInfinite = false
	}
}
