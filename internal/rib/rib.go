package rib

import (
	"errors"
	"net/netip"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/yanet-platform/nd6/internal/timer"
)

// ErrTableFull is returned when the table has no room for another route.
var ErrTableFull = errors.New("route table is full")

// Option is a function that configures the RIB.
type Option func(*options)

// WithLog configures the RIB with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithClock sets the clock used to stamp route updates.
func WithClock(clock timer.Clock) Option {
	return func(o *options) {
		o.Clock = clock
	}
}

type options struct {
	Log   *zap.SugaredLogger
	Clock timer.Clock
}

func newOptions() *options {
	return &options{
		Log:   zap.NewNop().Sugar(),
		Clock: timer.SystemClock{},
	}
}

// RIB is a bounded table of downward routes plus the default routes
// mirrored from the default router list.
//
// Routes keep their insertion order, which is the order purge passes visit
// them. Not safe for concurrent use.
type RIB struct {
	capacity int
	routes   []*Route
	trie     MapTrie[*Route]
	defaults []*DefaultRoute
	clock    timer.Clock
	log      *zap.SugaredLogger
}

// NewRIB creates a route table holding at most capacity routes.
func NewRIB(capacity int, options ...Option) *RIB {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	return &RIB{
		capacity: capacity,
		routes:   make([]*Route, 0, capacity),
		trie:     NewMapTrie[*Route](0),
		clock:    opts.Clock,
		log:      opts.Log,
	}
}

// Add installs a route to prefix via nexthop.
//
// An existing route to the same prefix is updated in place and keeps its
// position in the table.
func (m *RIB) Add(prefix netip.Prefix, nexthop netip.Addr, dag DAGKey, lifetime uint32, source Source) (Route, error) {
	prefix = prefix.Masked()
	now := m.clock.Now()

	if r, ok := m.trie.Get(prefix); ok {
		r.NextHop = nexthop
		r.DAG = dag
		r.Lifetime = lifetime
		r.LearnedFrom = source
		r.UpdatedAt = now

		m.log.Debugw("updated route",
			zap.Stringer("prefix", prefix),
			zap.Stringer("nexthop", nexthop),
		)
		return *r, nil
	}

	if len(m.routes) >= m.capacity {
		return Route{}, ErrTableFull
	}

	r := &Route{
		Prefix:      prefix,
		NextHop:     nexthop,
		DAG:         dag,
		Lifetime:    lifetime,
		LearnedFrom: source,
		UpdatedAt:   now,
	}
	m.routes = append(m.routes, r)
	m.trie.Insert(prefix, r)

	m.log.Debugw("added route",
		zap.Stringer("prefix", prefix),
		zap.Stringer("nexthop", nexthop),
		zap.Stringer("dag", dag),
		zap.Stringer("source", source),
	)
	return *r, nil
}

// Lookup returns the route installed exactly for prefix.
func (m *RIB) Lookup(prefix netip.Prefix) (Route, bool) {
	r, ok := m.trie.Get(prefix)
	if !ok {
		return Route{}, false
	}
	return *r, true
}

// LongestMatch returns the most specific route covering addr.
func (m *RIB) LongestMatch(addr netip.Addr) (Route, bool) {
	_, r, ok := m.trie.Lookup(addr)
	if !ok {
		return Route{}, false
	}
	return *r, true
}

// Remove deletes the route to prefix.
func (m *RIB) Remove(prefix netip.Prefix) bool {
	prefix = prefix.Masked()
	if _, ok := m.trie.Get(prefix); !ok {
		return false
	}

	removed := m.removeFunc(func(r *Route) bool {
		return r.Prefix == prefix
	})
	return len(removed) > 0
}

// RemoveByDAG deletes every route owned by dag and returns them.
func (m *RIB) RemoveByDAG(dag DAGKey) []Route {
	return m.removeFunc(func(r *Route) bool {
		return r.DAG == dag
	})
}

// RemoveByNextHop deletes every route of dag forwarded via nexthop.
func (m *RIB) RemoveByNextHop(nexthop netip.Addr, dag DAGKey) []Route {
	return m.removeFunc(func(r *Route) bool {
		return r.NextHop == nexthop && r.DAG == dag
	})
}

// RemoveVia deletes every route forwarded via nexthop regardless of the
// owning DAG.
func (m *RIB) RemoveVia(nexthop netip.Addr) []Route {
	return m.removeFunc(func(r *Route) bool {
		return r.NextHop == nexthop
	})
}

// Age decrements the lifetime of every route by one unit, then removes the
// routes whose lifetime reached zero and returns them in table order.
func (m *RIB) Age() []Route {
	for _, r := range m.routes {
		if r.Lifetime >= 1 {
			r.Lifetime--
		}
	}

	return m.removeFunc(func(r *Route) bool {
		return r.Lifetime < 1
	})
}

// removeFunc compacts the table, dropping routes matched by del.
func (m *RIB) removeFunc(del func(*Route) bool) []Route {
	var removed []Route
	m.routes = slices.DeleteFunc(m.routes, func(r *Route) bool {
		if !del(r) {
			return false
		}
		m.trie.Delete(r.Prefix)
		removed = append(removed, *r)
		return true
	})

	for _, r := range removed {
		m.log.Debugw("removed route",
			zap.Stringer("prefix", r.Prefix),
			zap.Stringer("nexthop", r.NextHop),
		)
	}
	return removed
}

// Routes returns a copy of the routes in table order.
func (m *RIB) Routes() []Route {
	out := make([]Route, 0, len(m.routes))
	for _, r := range m.routes {
		out = append(out, *r)
	}
	return out
}

// Len returns the number of routes.
func (m *RIB) Len() int {
	return len(m.routes)
}

// Cap returns the table capacity.
func (m *RIB) Cap() int {
	return m.capacity
}

// SetDefaultRoute adds or refreshes the default route via nexthop.
func (m *RIB) SetDefaultRoute(nexthop netip.Addr, lifetime time.Duration) error {
	now := m.clock.Now()
	for _, r := range m.defaults {
		if r.NextHop == nexthop {
			r.Lifetime = lifetime
			r.UpdatedAt = now
			return nil
		}
	}

	m.defaults = append(m.defaults, &DefaultRoute{
		NextHop:   nexthop,
		Lifetime:  lifetime,
		UpdatedAt: now,
	})
	m.log.Infow("added default route", zap.Stringer("nexthop", nexthop), zap.Duration("lifetime", lifetime))
	return nil
}

// RemoveDefaultRoute deletes the default route via nexthop.
func (m *RIB) RemoveDefaultRoute(nexthop netip.Addr) bool {
	n := len(m.defaults)
	m.defaults = slices.DeleteFunc(m.defaults, func(r *DefaultRoute) bool {
		return r.NextHop == nexthop
	})
	if len(m.defaults) == n {
		return false
	}

	m.log.Infow("removed default route", zap.Stringer("nexthop", nexthop))
	return true
}

// DefaultRoutes returns a copy of the default routes.
func (m *RIB) DefaultRoutes() []DefaultRoute {
	out := make([]DefaultRoute, 0, len(m.defaults))
	for _, r := range m.defaults {
		out = append(out, *r)
	}
	return out
}
