package ds6

import (
	"net/netip"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/yanet-platform/nd6/internal/timer"
)

// DefaultRouter is a default router list entry.
type DefaultRouter struct {
	Addr       netip.Addr
	IsInfinite bool
	Lifetime   timer.Timer
}

// AddDefaultRouter adds a default router. A zero lifetime means infinite.
func (m *Interface) AddDefaultRouter(addr netip.Addr, lifetime time.Duration) (*DefaultRouter, error) {
	if m.LookupDefaultRouter(addr) != nil {
		return nil, ErrExists
	}
	if len(m.routers) >= m.limits.Routers {
		return nil, ErrListFull
	}

	r := &DefaultRouter{Addr: addr}
	if lifetime == 0 {
		r.IsInfinite = true
	} else {
		r.Lifetime.Set(m.clock.Now(), lifetime)
	}
	m.routers = append(m.routers, r)

	m.log.Infow("added default router",
		zap.Stringer("addr", addr),
		zap.Duration("lifetime", lifetime),
	)
	return r, nil
}

// LookupDefaultRouter returns the default router entry, nil when absent.
func (m *Interface) LookupDefaultRouter(addr netip.Addr) *DefaultRouter {
	for _, r := range m.routers {
		if r.Addr == addr {
			return r
		}
	}
	return nil
}

// RemoveDefaultRouter removes the default router entry.
func (m *Interface) RemoveDefaultRouter(addr netip.Addr) bool {
	idx := slices.IndexFunc(m.routers, func(r *DefaultRouter) bool {
		return r.Addr == addr
	})
	if idx < 0 {
		return false
	}
	m.routers = slices.Delete(m.routers, idx, idx+1)

	m.log.Infow("removed default router", zap.Stringer("addr", addr))
	return true
}

// DefaultRouters returns a snapshot of the default router list.
func (m *Interface) DefaultRouters() []DefaultRouter {
	out := make([]DefaultRouter, 0, len(m.routers))
	for _, r := range m.routers {
		out = append(out, *r)
	}
	return out
}

// Nameserver is a recursive DNS server learned from RDNSS or configured
// statically.
type Nameserver struct {
	Addr       netip.Addr
	IsInfinite bool
	Lifetime   timer.Timer
}

// UpdateNameserver adds or refreshes a nameserver.
//
// A zero lifetime removes it, the all-ones lifetime keeps it forever.
func (m *Interface) UpdateNameserver(addr netip.Addr, lifetime uint32) {
	idx := slices.IndexFunc(m.nameservers, func(n *Nameserver) bool {
		return n.Addr == addr
	})

	if lifetime == 0 {
		if idx >= 0 {
			m.nameservers = slices.Delete(m.nameservers, idx, idx+1)
			m.log.Infow("removed nameserver", zap.Stringer("addr", addr))
		}
		return
	}

	var ns *Nameserver
	if idx >= 0 {
		ns = m.nameservers[idx]
	} else {
		if len(m.nameservers) >= m.limits.Nameservers {
			m.log.Debugw("nameserver list is full", zap.Stringer("addr", addr))
			return
		}
		ns = &Nameserver{Addr: addr}
		m.nameservers = append(m.nameservers, ns)
		m.log.Infow("added nameserver", zap.Stringer("addr", addr))
	}

	if lifetime == infiniteLifetime {
		ns.IsInfinite = true
		ns.Lifetime.Stop()
	} else {
		ns.IsInfinite = false
		ns.Lifetime.Set(m.clock.Now(), time.Duration(lifetime)*time.Second)
	}
}

// Nameservers returns a snapshot of the nameserver list.
func (m *Interface) Nameservers() []Nameserver {
	out := make([]Nameserver, 0, len(m.nameservers))
	for _, n := range m.nameservers {
		out = append(out, *n)
	}
	return out
}

// NextNameserverExpiration returns the lifetime to announce for our
// nameservers: the shortest remaining one in seconds, or the all-ones
// value when every nameserver is infinite.
func (m *Interface) NextNameserverExpiration() uint32 {
	now := m.clock.Now()
	next := uint32(infiniteLifetime)
	for _, n := range m.nameservers {
		if n.IsInfinite {
			continue
		}
		if left := uint32(n.Lifetime.Remaining(now) / time.Second); left < next {
			next = left
		}
	}
	return next
}

const infiniteLifetime = 0xffffffff
