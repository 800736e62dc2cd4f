package ds6

import (
	"net/netip"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/yanet-platform/nd6/internal/timer"
)

// Prefix is a prefix list entry.
//
// Learned prefixes use Valid as their lifetime. Advertised prefixes carry
// the lifetimes we announce in Router Advertisements.
type Prefix struct {
	Prefix     netip.Prefix
	OnLink     bool
	Autonomous bool
	IsInfinite bool
	Valid      timer.Timer

	// Advertise is set for prefixes this router announces.
	Advertise bool
	// ValidLifetime is the announced valid lifetime in seconds.
	ValidLifetime uint32
	// PreferredLifetime is the announced preferred lifetime in seconds.
	PreferredLifetime uint32
}

// AddPrefix adds a learned on-link prefix. A zero lifetime with infinite
// set means the prefix never expires.
func (m *Interface) AddPrefix(prefix netip.Prefix, lifetime time.Duration, infinite bool) (*Prefix, error) {
	prefix = prefix.Masked()
	if m.LookupPrefix(prefix) != nil {
		return nil, ErrExists
	}
	if len(m.prefixes) >= m.limits.Prefixes {
		return nil, ErrListFull
	}

	p := &Prefix{
		Prefix:     prefix,
		OnLink:     true,
		IsInfinite: infinite,
	}
	if !infinite {
		p.Valid.Set(m.clock.Now(), lifetime)
	}
	m.prefixes = append(m.prefixes, p)

	m.log.Infow("added prefix",
		zap.Stringer("prefix", prefix),
		zap.Duration("lifetime", lifetime),
		zap.Bool("infinite", infinite),
	)
	return p, nil
}

// AddAdvertisedPrefix adds a prefix announced in our Router
// Advertisements.
func (m *Interface) AddAdvertisedPrefix(prefix netip.Prefix, onLink, autonomous bool, valid, preferred uint32) (*Prefix, error) {
	prefix = prefix.Masked()
	if m.LookupPrefix(prefix) != nil {
		return nil, ErrExists
	}
	if len(m.prefixes) >= m.limits.Prefixes {
		return nil, ErrListFull
	}

	p := &Prefix{
		Prefix:            prefix,
		OnLink:            onLink,
		Autonomous:        autonomous,
		IsInfinite:        true,
		Advertise:         true,
		ValidLifetime:     valid,
		PreferredLifetime: preferred,
	}
	m.prefixes = append(m.prefixes, p)
	return p, nil
}

// LookupPrefix returns the entry keyed by prefix and length.
func (m *Interface) LookupPrefix(prefix netip.Prefix) *Prefix {
	prefix = prefix.Masked()
	for _, p := range m.prefixes {
		if p.Prefix == prefix {
			return p
		}
	}
	return nil
}

// RemovePrefix removes the prefix entry.
func (m *Interface) RemovePrefix(prefix netip.Prefix) bool {
	prefix = prefix.Masked()
	idx := slices.IndexFunc(m.prefixes, func(p *Prefix) bool {
		return p.Prefix == prefix
	})
	if idx < 0 {
		return false
	}
	m.prefixes = slices.Delete(m.prefixes, idx, idx+1)

	m.log.Infow("removed prefix", zap.Stringer("prefix", prefix))
	return true
}

// Prefixes returns a snapshot of the prefix list.
func (m *Interface) Prefixes() []Prefix {
	out := make([]Prefix, 0, len(m.prefixes))
	for _, p := range m.prefixes {
		out = append(out, *p)
	}
	return out
}

// AdvertisedPrefixes returns the prefixes announced in our Router
// Advertisements.
func (m *Interface) AdvertisedPrefixes() []Prefix {
	var out []Prefix
	for _, p := range m.prefixes {
		if p.Advertise {
			out = append(out, *p)
		}
	}
	return out
}
