package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/yanet-platform/nd6/internal/lladdr"
)

var errSubscriptionClosed = errors.New("netlink subscription closed")

// NeighbourEventKind classifies kernel neighbour updates.
type NeighbourEventKind uint8

const (
	// NeighbourUpdated is a neighbour that was resolved or refreshed.
	NeighbourUpdated NeighbourEventKind = iota
	// NeighbourFailed is a neighbour the kernel gave up resolving.
	NeighbourFailed
	// NeighbourDeleted is a neighbour removed from the kernel table.
	NeighbourDeleted
)

func (m NeighbourEventKind) String() string {
	switch m {
	case NeighbourUpdated:
		return "updated"
	case NeighbourFailed:
		return "failed"
	case NeighbourDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// NeighbourEvent is a kernel neighbour table change.
type NeighbourEvent struct {
	Kind      NeighbourEventKind
	LinkIndex int
	Addr      netip.Addr
	LinkAddr  lladdr.Addr
	State     NeighbourState
}

// LinkEvent is an interface change.
type LinkEvent struct {
	Index    int
	Name     string
	Up       bool
	MTU      int
	LinkAddr lladdr.Addr
}

// Handler receives monitor events. Calls come from monitor goroutines.
type Handler interface {
	HandleLink(LinkEvent)
	HandleNeighbour(NeighbourEvent)
}

// MonitorOption is a function that configures the monitor.
type MonitorOption func(*monitorOptions)

// WithMonitorLog configures the monitor with a logger.
func WithMonitorLog(log *zap.SugaredLogger) MonitorOption {
	return func(o *monitorOptions) {
		o.Log = log
	}
}

// WithMaxRetryInterval caps the delay between resubscription attempts.
func WithMaxRetryInterval(d time.Duration) MonitorOption {
	return func(o *monitorOptions) {
		o.MaxRetryInterval = d
	}
}

type monitorOptions struct {
	Log              *zap.SugaredLogger
	MaxRetryInterval time.Duration
}

func newMonitorOptions() *monitorOptions {
	return &monitorOptions{
		Log:              zap.NewNop().Sugar(),
		MaxRetryInterval: 30 * time.Second,
	}
}

// Monitor follows kernel link and IPv6 neighbour changes over netlink.
//
// Subscriptions are re-established with exponential backoff when the
// netlink socket fails.
type Monitor struct {
	handler          Handler
	maxRetryInterval time.Duration
	log              *zap.SugaredLogger
}

// NewMonitor creates a monitor delivering events to handler.
func NewMonitor(handler Handler, options ...MonitorOption) *Monitor {
	opts := newMonitorOptions()
	for _, o := range options {
		o(opts)
	}

	return &Monitor{
		handler:          handler,
		maxRetryInterval: opts.MaxRetryInterval,
		log:              opts.Log,
	}
}

// Run runs the monitor until the specified context is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Debugf("starting netlink monitor")
	defer m.log.Debugf("stopped netlink monitor")

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return m.retry(ctx, "link", m.runLinkSubscription)
	})
	wg.Go(func() error {
		return m.retry(ctx, "neighbour", m.runNeighSubscription)
	})

	return wg.Wait()
}

func (m *Monitor) retry(ctx context.Context, name string, fn func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = m.maxRetryInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn(ctx)
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.log.Warnw("netlink subscription failed, retrying",
				zap.String("subscription", name),
				zap.Duration("after", next),
				zap.Error(err),
			)
		}),
	)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (m *Monitor) runLinkSubscription(ctx context.Context) error {
	txRx := make(chan netlink.LinkUpdate, 16)
	opts := netlink.LinkSubscribeOptions{
		ListExisting: true,
	}
	if err := netlink.LinkSubscribeWithOptions(txRx, ctx.Done(), opts); err != nil {
		return fmt.Errorf("failed to subscribe to links updates: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-txRx:
			if !ok {
				return errSubscriptionClosed
			}
			m.handler.HandleLink(linkEvent(update))
		}
	}
}

func (m *Monitor) runNeighSubscription(ctx context.Context) error {
	txRx := make(chan netlink.NeighUpdate, 16)
	opts := netlink.NeighSubscribeOptions{}
	if err := netlink.NeighSubscribeWithOptions(txRx, ctx.Done(), opts); err != nil {
		return fmt.Errorf("failed to subscribe to neighbor updates: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-txRx:
			if !ok {
				return errSubscriptionClosed
			}

			ev, ok := neighbourEvent(update)
			if !ok {
				continue
			}
			m.log.Debugw("processing neighbour update",
				zap.Int("link_index", ev.LinkIndex),
				zap.Stringer("kind", ev.Kind),
				zap.Stringer("state", ev.State),
				zap.Stringer("addr", ev.Addr),
				zap.Stringer("lladdr", ev.LinkAddr),
			)
			m.handler.HandleNeighbour(ev)
		}
	}
}

func linkEvent(update netlink.LinkUpdate) LinkEvent {
	attrs := update.Attrs()
	ll, _ := lladdr.FromBytes(attrs.HardwareAddr)

	return LinkEvent{
		Index:    attrs.Index,
		Name:     attrs.Name,
		Up:       update.Header.Type != unix.RTM_DELLINK && attrs.Flags&net.FlagUp != 0,
		MTU:      attrs.MTU,
		LinkAddr: ll,
	}
}

// neighbourEvent keeps IPv6 neighbours only.
func neighbourEvent(update netlink.NeighUpdate) (NeighbourEvent, bool) {
	if update.Family != unix.AF_INET6 {
		return NeighbourEvent{}, false
	}
	addr, ok := netip.AddrFromSlice(update.IP)
	if !ok {
		return NeighbourEvent{}, false
	}
	ll, _ := lladdr.FromBytes(update.HardwareAddr)

	ev := NeighbourEvent{
		Kind:      NeighbourUpdated,
		LinkIndex: update.LinkIndex,
		Addr:      addr.Unmap(),
		LinkAddr:  ll,
		State:     NeighbourState(update.State),
	}

	switch {
	case update.Type == unix.RTM_DELNEIGH:
		ev.Kind = NeighbourDeleted
	case update.State&netlink.NUD_FAILED != 0:
		ev.Kind = NeighbourFailed
	case update.State&(netlink.NUD_REACHABLE|netlink.NUD_PERMANENT) == 0:
		// Transitional states carry no news for the routing protocol.
		return NeighbourEvent{}, false
	}
	return ev, true
}
