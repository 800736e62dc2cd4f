package ds6

import (
	"net/netip"
	"slices"

	"go.uber.org/zap"
)

// MaxDADNS is the number of DAD solicitations sent before a tentative
// address becomes preferred (RFC 4862 DupAddrDetectTransmits).
const MaxDADNS = 1

// Tick is the outcome of one periodic pass over the interface lists.
type Tick struct {
	// ExpiredAddrs are autoconfigured addresses whose lifetime ran out.
	ExpiredAddrs []netip.Addr
	// ExpiredPrefixes are on-link prefixes whose lifetime ran out.
	ExpiredPrefixes []netip.Prefix
	// ExpiredRouters are default routers whose lifetime ran out.
	ExpiredRouters []netip.Addr
	// DAD lists tentative addresses that need a DAD solicitation now.
	DAD []netip.Addr
}

// Periodic expires timed entries and advances duplicate address detection.
func (m *Interface) Periodic() Tick {
	now := m.clock.Now()
	var tick Tick

	for _, a := range slices.Clone(m.addrs) {
		if !a.IsInfinite && a.Lifetime.Expired(now) {
			m.RemoveAddr(a.Addr)
			tick.ExpiredAddrs = append(tick.ExpiredAddrs, a.Addr)
			continue
		}
		if a.State != AddrTentative {
			continue
		}
		if a.dad.Armed() && !a.dad.Expired(now) {
			continue
		}
		if a.dadCount >= MaxDADNS {
			a.State = AddrPreferred
			a.dad.Stop()
			m.log.Infow("address passed DAD", zap.Stringer("addr", a.Addr))
			continue
		}
		a.dadCount++
		a.dad.Set(now, m.RetransTimer)
		tick.DAD = append(tick.DAD, a.Addr)
	}

	for _, p := range slices.Clone(m.prefixes) {
		if !p.IsInfinite && p.Valid.Expired(now) {
			m.RemovePrefix(p.Prefix)
			tick.ExpiredPrefixes = append(tick.ExpiredPrefixes, p.Prefix)
		}
	}

	for _, r := range slices.Clone(m.routers) {
		if !r.IsInfinite && r.Lifetime.Expired(now) {
			m.RemoveDefaultRouter(r.Addr)
			tick.ExpiredRouters = append(tick.ExpiredRouters, r.Addr)
		}
	}

	m.nameservers = slices.DeleteFunc(m.nameservers, func(n *Nameserver) bool {
		return !n.IsInfinite && n.Lifetime.Expired(now)
	})

	return tick
}
