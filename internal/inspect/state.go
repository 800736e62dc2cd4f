package inspect

import (
	"context"
	"net/netip"
	"time"

	"github.com/yanet-platform/nd6/internal/gateway"
	"github.com/yanet-platform/nd6/internal/lladdr"
	"github.com/yanet-platform/nd6/internal/nbr"
	"github.com/yanet-platform/nd6/internal/nd"
	"github.com/yanet-platform/nd6/internal/rib"
	"github.com/yanet-platform/nd6/internal/rpl"
)

// Neighbour is a neighbour cache entry as reported.
type Neighbour struct {
	Addr     netip.Addr
	LinkAddr lladdr.Addr
	State    nbr.State
	RegState nbr.RegState
	IsRouter bool
	// Remaining is the time left on the reachability or registration
	// timer, zero when unarmed.
	Remaining time.Duration
}

// Address is a configured address as reported.
type Address struct {
	Addr      netip.Addr
	State     string
	Type      string
	Infinite  bool
	Remaining time.Duration
}

// Prefix is a prefix list entry as reported.
type Prefix struct {
	Prefix     netip.Prefix
	OnLink     bool
	Autonomous bool
	Advertise  bool
	Infinite   bool
	Remaining  time.Duration
}

// Router is a default router list entry as reported.
type Router struct {
	Addr      netip.Addr
	Infinite  bool
	Remaining time.Duration
}

// Interface is the ND state of one interface.
type Interface struct {
	Name       string
	Variant    nd.VariantKind
	Neighbours []Neighbour
	Addresses  []Address
	Prefixes   []Prefix
	Routers    []Router
}

// RPL is the DODAG membership and route maintenance state.
type RPL struct {
	Instance uint8
	DODAG    netip.Addr
	Rank     uint16
	// Parent is invalid on a root or before a parent is selected.
	Parent        netip.Addr
	Mode          rpl.Mode
	Sources       []uint16
	DAOScheduled  bool
	PendingNoPath int
}

// State is what the inspect service reports.
type State struct {
	Interfaces    []Interface
	Routes        []rib.Route
	DefaultRoutes []rib.DefaultRoute
	Bridge        []gateway.Entry
	// RPL is nil outside the RPL variant.
	RPL *RPL
}

// Source captures the daemon state. The daemon implements it by asking its
// event loop, so State may block until ctx is done.
type Source interface {
	State(ctx context.Context) (State, error)
}

// CaptureInterface renders the state of engine. It must be called from the
// goroutine owning engine.
func CaptureInterface(name string, engine *nd.Engine, now time.Time) Interface {
	iface := engine.Interface()
	out := Interface{
		Name:    name,
		Variant: engine.Variant().Kind(),
	}

	for e := range engine.Neighbors().Entries() {
		remaining := e.Reachable.Remaining(now)
		if e.SendNS.Armed() {
			remaining = e.SendNS.Remaining(now)
		}
		out.Neighbours = append(out.Neighbours, Neighbour{
			Addr:      e.Addr,
			LinkAddr:  e.LinkAddr,
			State:     e.State,
			RegState:  e.RegState,
			IsRouter:  e.IsRouter,
			Remaining: remaining,
		})
	}

	for _, a := range iface.Addresses() {
		out.Addresses = append(out.Addresses, Address{
			Addr:      a.Addr,
			State:     a.State.String(),
			Type:      a.Type.String(),
			Infinite:  a.IsInfinite,
			Remaining: a.Lifetime.Remaining(now),
		})
	}

	for _, p := range iface.Prefixes() {
		out.Prefixes = append(out.Prefixes, Prefix{
			Prefix:     p.Prefix,
			OnLink:     p.OnLink,
			Autonomous: p.Autonomous,
			Advertise:  p.Advertise,
			Infinite:   p.IsInfinite,
			Remaining:  p.Valid.Remaining(now),
		})
	}

	for _, r := range iface.DefaultRouters() {
		out.Routers = append(out.Routers, Router{
			Addr:      r.Addr,
			Infinite:  r.IsInfinite,
			Remaining: r.Lifetime.Remaining(now),
		})
	}

	return out
}
