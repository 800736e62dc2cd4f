package ds6

import (
	"errors"
	"math/rand/v2"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/yanet-platform/nd6/common/go/xnetip"
	"github.com/yanet-platform/nd6/internal/lladdr"
	"github.com/yanet-platform/nd6/internal/timer"
)

var (
	// ErrListFull is returned when a bounded list has no free slot.
	ErrListFull = errors.New("list is full")
	// ErrExists is returned when an entry with the same key exists.
	ErrExists = errors.New("entry already exists")
)

// Limits bounds the interface lists.
type Limits struct {
	Addresses   int `yaml:"addresses"`
	Prefixes    int `yaml:"prefixes"`
	Routers     int `yaml:"routers"`
	Nameservers int `yaml:"nameservers"`
}

// DefaultLimits returns the default list sizes.
func DefaultLimits() Limits {
	return Limits{
		Addresses:   8,
		Prefixes:    4,
		Routers:     4,
		Nameservers: 4,
	}
}

// Option is a function that configures the interface.
type Option func(*options)

// WithLog configures the interface with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithClock configures the interface with a time source.
func WithClock(clock timer.Clock) Option {
	return func(o *options) {
		o.Clock = clock
	}
}

// WithLimits configures the list sizes.
func WithLimits(limits Limits) Option {
	return func(o *options) {
		o.Limits = limits
	}
}

// WithRand configures the random source used for reachable time jitter.
func WithRand(r *rand.Rand) Option {
	return func(o *options) {
		o.Rand = r
	}
}

type options struct {
	Log    *zap.SugaredLogger
	Clock  timer.Clock
	Limits Limits
	Rand   *rand.Rand
}

func newOptions() *options {
	return &options{
		Log:    zap.NewNop().Sugar(),
		Clock:  timer.SystemClock{},
		Limits: DefaultLimits(),
	}
}

const (
	// DefaultCurHopLimit is the default hop limit for outgoing packets.
	DefaultCurHopLimit = 64
	// DefaultReachableTime is the RFC 4861 REACHABLE_TIME.
	DefaultReachableTime = 30 * time.Second
	// DefaultRetransTimer is the RFC 4861 RETRANS_TIMER.
	DefaultRetransTimer = time.Second
)

// Interface is the per-link IPv6 state: addresses, prefix list, default
// router list, nameservers and link parameters.
//
// Not safe for concurrent use.
type Interface struct {
	// Name is the interface name.
	Name string
	// LinkAddr is our link-layer address on this link.
	LinkAddr lladdr.Addr
	// LinkMTU is the link MTU.
	LinkMTU uint32
	// CurHopLimit is the hop limit for outgoing unicast packets.
	CurHopLimit uint8
	// BaseReachableTime is the base of the randomized reachable time.
	BaseReachableTime time.Duration
	// ReachableTime is the current randomized reachable time.
	ReachableTime time.Duration
	// RetransTimer is the interval between solicitations.
	RetransTimer time.Duration

	addrs       []*Address
	prefixes    []*Prefix
	routers     []*DefaultRouter
	nameservers []*Nameserver

	limits Limits
	clock  timer.Clock
	rand   *rand.Rand
	log    *zap.SugaredLogger
}

// NewInterface creates interface state for a link with the given
// link-layer address and MTU.
func NewInterface(name string, ll lladdr.Addr, mtu uint32, options ...Option) *Interface {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	m := &Interface{
		Name:              name,
		LinkAddr:          ll,
		LinkMTU:           mtu,
		CurHopLimit:       DefaultCurHopLimit,
		BaseReachableTime: DefaultReachableTime,
		RetransTimer:      DefaultRetransTimer,
		limits:            opts.Limits,
		clock:             opts.Clock,
		rand:              opts.Rand,
		log:               opts.Log.With(zap.String("iface", name)),
	}
	m.ReachableTime = m.ComputeReachableTime()
	return m
}

// Now returns the interface clock time.
func (m *Interface) Now() time.Time {
	return m.clock.Now()
}

// ComputeReachableTime returns BaseReachableTime scaled by a random factor
// in [0.5, 1.5) (RFC 4861 6.3.2).
func (m *Interface) ComputeReachableTime() time.Duration {
	var f float64
	if m.rand != nil {
		f = m.rand.Float64()
	} else {
		f = rand.Float64()
	}
	return time.Duration(float64(m.BaseReachableTime) * (0.5 + f))
}

// SetBaseReachableTime updates the base reachable time and recomputes the
// randomized value when it changes.
func (m *Interface) SetBaseReachableTime(d time.Duration) {
	if d == m.BaseReachableTime {
		return
	}
	m.BaseReachableTime = d
	m.ReachableTime = m.ComputeReachableTime()
}

// LinkLocal returns the link-local address derived from our link-layer
// address.
func (m *Interface) LinkLocal() netip.Addr {
	return xnetip.LinkLocal(m.LinkAddr.InterfaceID())
}

// SelectSource picks the source address for a packet to dst.
//
// Link-local and multicast destinations get our preferred link-local
// address, others the preferred global address sharing the longest prefix
// with dst. Returns the unspecified address when none qualifies.
func (m *Interface) SelectSource(dst netip.Addr) netip.Addr {
	best := netip.Addr{}
	bestLen := -1
	wantLinkLocal := dst.IsLinkLocalUnicast() || dst.IsMulticast()

	for _, a := range m.addrs {
		if a.State != AddrPreferred {
			continue
		}
		if a.Addr.IsLinkLocalUnicast() != wantLinkLocal {
			continue
		}
		if n := xnetip.CommonPrefixLen(a.Addr, dst); n > bestLen {
			best, bestLen = a.Addr, n
		}
	}
	if !best.IsValid() && !wantLinkLocal {
		return m.SelectSource(xnetip.AllNodes)
	}
	if !best.IsValid() {
		return xnetip.Unspecified
	}
	return best
}
