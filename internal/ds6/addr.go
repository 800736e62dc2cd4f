package ds6

import (
	"net/netip"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/yanet-platform/nd6/common/go/xnetip"
	"github.com/yanet-platform/nd6/internal/timer"
)

// AddrState is the state of a unicast interface address.
type AddrState uint8

const (
	AddrTentative AddrState = iota
	AddrPreferred
	AddrDeprecated
)

func (m AddrState) String() string {
	switch m {
	case AddrTentative:
		return "TENTATIVE"
	case AddrPreferred:
		return "PREFERRED"
	case AddrDeprecated:
		return "DEPRECATED"
	default:
		return "UNKNOWN"
	}
}

// AddrType tells how an address was configured.
type AddrType uint8

const (
	AddrManual AddrType = iota
	AddrAutoconf
)

func (m AddrType) String() string {
	switch m {
	case AddrManual:
		return "MANUAL"
	case AddrAutoconf:
		return "AUTOCONF"
	default:
		return "UNKNOWN"
	}
}

// Address is a unicast address configured on the interface.
type Address struct {
	Addr       netip.Addr
	State      AddrState
	Type       AddrType
	IsInfinite bool
	Lifetime   timer.Timer

	dad      timer.Timer
	dadCount uint8
}

// AddAddr configures an address. A zero lifetime means infinite.
//
// The address starts TENTATIVE when tentative is set and PREFERRED
// otherwise.
func (m *Interface) AddAddr(addr netip.Addr, lifetime time.Duration, typ AddrType, tentative bool) (*Address, error) {
	if m.LookupAddr(addr) != nil {
		return nil, ErrExists
	}
	if len(m.addrs) >= m.limits.Addresses {
		return nil, ErrListFull
	}

	a := &Address{
		Addr:  addr,
		State: AddrPreferred,
		Type:  typ,
	}
	if tentative {
		a.State = AddrTentative
	}
	if lifetime == 0 {
		a.IsInfinite = true
	} else {
		a.Lifetime.Set(m.clock.Now(), lifetime)
	}
	m.addrs = append(m.addrs, a)

	m.log.Infow("added address",
		zap.Stringer("addr", addr),
		zap.Stringer("type", typ),
		zap.Stringer("state", a.State),
		zap.Duration("lifetime", lifetime),
	)
	return a, nil
}

// LookupAddr returns the interface address, nil when not configured.
func (m *Interface) LookupAddr(addr netip.Addr) *Address {
	for _, a := range m.addrs {
		if a.Addr == addr {
			return a
		}
	}
	return nil
}

// RemoveAddr removes the interface address.
func (m *Interface) RemoveAddr(addr netip.Addr) bool {
	idx := slices.IndexFunc(m.addrs, func(a *Address) bool {
		return a.Addr == addr
	})
	if idx < 0 {
		return false
	}
	m.addrs = slices.Delete(m.addrs, idx, idx+1)

	m.log.Infow("removed address", zap.Stringer("addr", addr))
	return true
}

// IsMyAddr reports whether addr is configured on this interface in any
// state.
func (m *Interface) IsMyAddr(addr netip.Addr) bool {
	return m.LookupAddr(addr) != nil
}

// IsMySolicitedNode reports whether addr is the solicited-node group of
// one of our addresses.
func (m *Interface) IsMySolicitedNode(addr netip.Addr) bool {
	if !xnetip.IsSolicitedNode(addr) {
		return false
	}
	for _, a := range m.addrs {
		if xnetip.SolicitedNode(a.Addr) == addr {
			return true
		}
	}
	return false
}

// Addresses returns a snapshot of the configured addresses.
func (m *Interface) Addresses() []Address {
	out := make([]Address, 0, len(m.addrs))
	for _, a := range m.addrs {
		out = append(out, *a)
	}
	return out
}
