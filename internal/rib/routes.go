package rib

import (
	"fmt"
	"net/netip"
	"time"
)

// Source tells where a route was learned from.
type Source uint8

const (
	// SourceInternal marks routes added locally by the routing protocol.
	SourceInternal Source = iota
	// SourceUnicastDAO marks routes learned from a unicast DAO.
	SourceUnicastDAO
	// SourceMulticastDAO marks routes learned from a multicast DAO.
	SourceMulticastDAO
	// SourceRouterAdvertisement marks default routes mirrored from the
	// default router list.
	SourceRouterAdvertisement
)

func (m Source) String() string {
	switch m {
	case SourceInternal:
		return "internal"
	case SourceUnicastDAO:
		return "unicast-dao"
	case SourceMulticastDAO:
		return "multicast-dao"
	case SourceRouterAdvertisement:
		return "ra"
	default:
		return fmt.Sprintf("source(%d)", uint8(m))
	}
}

// DAGKey references the DODAG that owns a route.
//
// The table treats it as an opaque identity.
type DAGKey struct {
	// Instance is the RPL instance ID.
	Instance uint8
	// DODAG is the DODAG ID, an address of the DAG root.
	DODAG netip.Addr
}

func (m DAGKey) String() string {
	return fmt.Sprintf("%d/%s", m.Instance, m.DODAG)
}

// Route is a downward route maintained by the routing protocol.
type Route struct {
	// Prefix is the destination of the route.
	Prefix netip.Prefix
	// NextHop is the link-local address of the neighbour traffic is
	// forwarded to.
	NextHop netip.Addr
	// DAG is the DODAG the route was learned in.
	DAG DAGKey
	// Lifetime is the remaining lifetime in lifetime units. Each purge
	// pass decrements it by one.
	Lifetime uint32
	// LearnedFrom is the provenance of the route.
	LearnedFrom Source
	// UpdatedAt notes the last time the route was added or modified.
	UpdatedAt time.Time
}

// DefaultRoute is a default route through a router learned from Router
// Advertisements.
//
// Its expiry is driven by the default router list, so the table only keeps
// the last advertised lifetime.
type DefaultRoute struct {
	NextHop   netip.Addr
	Lifetime  time.Duration
	UpdatedAt time.Time
}
