package nbr

import (
	"errors"
	"iter"
	"maps"
	"net/netip"
	"slices"

	"go.uber.org/zap"

	"github.com/yanet-platform/nd6/internal/lladdr"
	"github.com/yanet-platform/nd6/internal/timer"
)

var (
	// ErrCacheFull is returned by Add when every slot is taken.
	ErrCacheFull = errors.New("neighbour cache is full")
	// ErrExists is returned by Add when the address is already cached.
	ErrExists = errors.New("neighbour already exists")
)

// Entry is a neighbour cache entry.
//
// Entries are owned by the cache and mutated in place by the ND handlers.
type Entry struct {
	// Addr is the neighbour IPv6 address, unique across the cache.
	Addr netip.Addr
	// LinkAddr is the neighbour link-layer address.
	LinkAddr lladdr.Addr
	// State is the reachability state.
	State State
	// IsRouter is set when the neighbour advertises itself as a router.
	IsRouter bool
	// NSCount counts solicitations sent without an answer.
	NSCount uint8
	// Reachable counts down the reachability confirmation.
	Reachable timer.Timer
	// SendNS counts down the next registration refresh.
	SendNS timer.Timer
	// RegState is the registration sub-state.
	RegState RegState
}

// Option is a function that configures the neighbour cache.
type Option func(*options)

// WithLog configures the neighbour cache with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithRemoveHook registers a function called after an entry is removed.
//
// Hooks receive a copy of the removed entry.
func WithRemoveHook(fn func(Entry)) Option {
	return func(o *options) {
		o.RemoveHooks = append(o.RemoveHooks, fn)
	}
}

type options struct {
	Log         *zap.SugaredLogger
	RemoveHooks []func(Entry)
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// Cache is a bounded neighbour cache keyed by IPv6 address.
//
// It enforces uniqueness and capacity only; transitions belong to the
// callers. Not safe for concurrent use.
type Cache struct {
	entries  map[netip.Addr]*Entry
	capacity int
	hooks    []func(Entry)
	log      *zap.SugaredLogger
}

// NewCache creates a neighbour cache holding at most capacity entries.
func NewCache(capacity int, options ...Option) *Cache {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	return &Cache{
		entries:  make(map[netip.Addr]*Entry, capacity),
		capacity: capacity,
		hooks:    opts.RemoveHooks,
		log:      opts.Log,
	}
}

// OnRemove registers a removal hook after construction.
func (m *Cache) OnRemove(fn func(Entry)) {
	m.hooks = append(m.hooks, fn)
}

// Lookup returns the entry for the address.
func (m *Cache) Lookup(addr netip.Addr) (*Entry, bool) {
	e, ok := m.entries[addr]
	return e, ok
}

// LookupByLinkAddr returns the first entry with the given link-layer
// address.
func (m *Cache) LookupByLinkAddr(ll lladdr.Addr) (*Entry, bool) {
	for _, e := range m.entries {
		if e.LinkAddr == ll {
			return e, true
		}
	}
	return nil, false
}

// Contains reports whether the address is cached.
func (m *Cache) Contains(addr netip.Addr) bool {
	_, ok := m.entries[addr]
	return ok
}

// Add inserts a new entry.
//
// A full cache is never evicted: ErrCacheFull is returned instead.
func (m *Cache) Add(addr netip.Addr, ll lladdr.Addr, isRouter bool, state State) (*Entry, error) {
	if _, ok := m.entries[addr]; ok {
		return nil, ErrExists
	}
	if len(m.entries) >= m.capacity {
		m.log.Debugw("neighbour cache is full",
			zap.Stringer("addr", addr),
			zap.Int("capacity", m.capacity),
		)
		return nil, ErrCacheFull
	}

	e := &Entry{
		Addr:     addr,
		LinkAddr: ll,
		State:    state,
		IsRouter: isRouter,
	}
	m.entries[addr] = e

	m.log.Debugw("added neighbour",
		zap.Stringer("addr", addr),
		zap.Stringer("lladdr", ll),
		zap.Stringer("state", state),
		zap.Bool("router", isRouter),
	)
	return e, nil
}

// Remove deletes the entry for the address, cancelling its timers, and
// runs the removal hooks.
func (m *Cache) Remove(addr netip.Addr) bool {
	e, ok := m.entries[addr]
	if !ok {
		return false
	}
	delete(m.entries, addr)

	m.log.Debugw("removed neighbour",
		zap.Stringer("addr", addr),
		zap.Stringer("state", e.State),
		zap.Stringer("reg_state", e.RegState),
	)

	removed := *e
	for _, hook := range m.hooks {
		hook(removed)
	}
	return true
}

// Len returns the number of cached entries.
func (m *Cache) Len() int {
	return len(m.entries)
}

// Cap returns the cache capacity.
func (m *Cache) Cap() int {
	return m.capacity
}

// Entries returns the entries ordered by address.
//
// The sequence iterates over a snapshot, so entries may be removed while
// iterating.
func (m *Cache) Entries() iter.Seq[*Entry] {
	keys := slices.SortedFunc(maps.Keys(m.entries), func(a, b netip.Addr) int {
		return a.Compare(b)
	})
	return func(yield func(*Entry) bool) {
		for _, k := range keys {
			e, ok := m.entries[k]
			if !ok {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}
