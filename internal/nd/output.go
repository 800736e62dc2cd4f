package nd

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"time"

	"github.com/yanet-platform/nd6/common/go/xnetip"
	"github.com/yanet-platform/nd6/internal/ds6"
	"github.com/yanet-platform/nd6/internal/nbr"
	"github.com/yanet-platform/nd6/internal/option"
)

// NA flags.
const (
	FlagRouter    uint8 = 0x80
	FlagSolicited uint8 = 0x40
	FlagOverride  uint8 = 0x20
)

var (
	// ErrNoSource is returned when no usable source address is configured.
	ErrNoSource = errors.New("no usable source address")
	// ErrUnsupported is returned for messages the engine variant or role
	// does not send.
	ErrUnsupported = errors.New("not supported by the engine")
	// ErrUnknownRouter is returned when unregistering from a router that
	// is not in the neighbour cache.
	ErrUnknownRouter = errors.New("unknown router")
)

// Output transmits messages the engine originates outside of a
// request/reply exchange.
type Output interface {
	Send(pkt *Packet)
}

// OutputFunc adapts a function to the Output interface.
type OutputFunc func(pkt *Packet)

// Send implements Output.
func (m OutputFunc) Send(pkt *Packet) {
	m(pkt)
}

// NewNA builds a Neighbor Advertisement with the given options.
func NewNA(src, dst, target netip.Addr, flags uint8, opts []byte) *Packet {
	body := make([]byte, naHeaderLen, naHeaderLen+len(opts))
	body[0] = flags
	t := target.As16()
	copy(body[4:], t[:])

	return &Packet{
		Src:      src,
		Dst:      dst,
		HopLimit: HopLimit,
		Type:     TypeNeighborAdvertisement,
		Body:     append(body, opts...),
	}
}

// NewNS builds a Neighbor Solicitation with the given options.
func NewNS(src, dst, target netip.Addr, opts []byte) *Packet {
	body := make([]byte, nsHeaderLen, nsHeaderLen+len(opts))
	t := target.As16()
	copy(body[4:], t[:])

	return &Packet{
		Src:      src,
		Dst:      dst,
		HopLimit: HopLimit,
		Type:     TypeNeighborSolicitation,
		Body:     append(body, opts...),
	}
}

// NSOutput builds a Neighbor Solicitation for target.
//
// An invalid dst selects the target's solicited-node group and an invalid
// src selects the best source for dst. A tentative target produces a DAD
// probe: unspecified source and no SLLAO. In the 6Lo variant the
// solicitation also registers src with the registration lifetime.
func (m *Engine) NSOutput(src, dst, target netip.Addr) (*Packet, error) {
	pkt, err := m.nsPacket(src, dst, target, m.registrationMinutes())
	if err != nil {
		return nil, err
	}
	m.stats.count(pkt)
	return pkt, nil
}

func (m *Engine) nsPacket(src, dst, target netip.Addr, regLifetime uint16) (*Packet, error) {
	if !dst.IsValid() {
		dst = xnetip.SolicitedNode(target)
	}

	if a := m.iface.LookupAddr(target); a != nil && a.State == ds6.AddrTentative {
		return NewNS(xnetip.Unspecified, dst, target, nil), nil
	}

	if !src.IsValid() {
		src = m.iface.SelectSource(dst)
	}
	if src == xnetip.Unspecified {
		return nil, ErrNoSource
	}

	opts := option.AppendLinkAddr(nil, option.TypeSLLAO, m.iface.LinkAddr)
	if m.variant.Kind() == VariantSixLo {
		opts = option.AppendARO(opts, option.ARO{
			Status:   option.StatusSuccess,
			Lifetime: regLifetime,
			EUI64:    m.iface.LinkAddr.EUI64(),
		})
	}
	return NewNS(src, dst, target, opts), nil
}

func (m *Engine) registrationMinutes() uint16 {
	return uint16(min(m.cfg.RegistrationLifetime/time.Minute, 0xffff))
}

// RSOutput builds a Router Solicitation to all routers.
func (m *Engine) RSOutput() (*Packet, error) {
	if m.variant.Kind() == VariantRPL {
		return nil, ErrUnsupported
	}

	src := m.iface.SelectSource(xnetip.AllRouters)
	body := make([]byte, rsHeaderLen)
	if src != xnetip.Unspecified {
		body = option.AppendLinkAddr(body, option.TypeSLLAO, m.iface.LinkAddr)
	}

	pkt := &Packet{
		Src:      src,
		Dst:      xnetip.AllRouters,
		HopLimit: HopLimit,
		Type:     TypeRouterSolicitation,
		Body:     body,
	}
	m.stats.count(pkt)
	return pkt, nil
}

// RAOutput builds a Router Advertisement. An invalid dst selects all
// nodes.
func (m *Engine) RAOutput(dst netip.Addr) (*Packet, error) {
	if !m.cfg.Router || !m.variant.answersRS() {
		return nil, ErrUnsupported
	}
	if !dst.IsValid() {
		dst = xnetip.AllNodes
	}

	pkt, err := m.raPacket(dst)
	if err != nil {
		return nil, err
	}
	m.stats.count(pkt)
	return pkt, nil
}

func (m *Engine) raPacket(dst netip.Addr) (*Packet, error) {
	src := m.iface.SelectSource(dst)
	if !src.IsLinkLocalUnicast() {
		return nil, ErrNoSource
	}

	var flags uint8
	if m.cfg.Managed {
		flags |= raFlagManaged
	}
	if m.cfg.OtherConfig {
		flags |= raFlagOther
	}

	body := make([]byte, 0, 128)
	body = append(body, m.cfg.CurHopLimit, flags)
	body = binary.BigEndian.AppendUint16(body, uint16(min(m.cfg.RouterLifetime/time.Second, 0xffff)))
	// Reachable time and retrans timer are left unspecified.
	body = binary.BigEndian.AppendUint32(body, 0)
	body = binary.BigEndian.AppendUint32(body, 0)

	for _, p := range m.iface.AdvertisedPrefixes() {
		body = option.AppendPrefixInfo(body, option.PrefixInfo{
			PrefixLen:         uint8(p.Prefix.Bits()),
			OnLink:            p.OnLink,
			Autonomous:        p.Autonomous,
			ValidLifetime:     p.ValidLifetime,
			PreferredLifetime: p.PreferredLifetime,
			Prefix:            p.Prefix.Addr(),
		})
	}
	body = option.AppendLinkAddr(body, option.TypeSLLAO, m.iface.LinkAddr)
	body = option.AppendMTU(body, m.iface.LinkMTU)

	if ns := m.iface.Nameservers(); len(ns) > 0 {
		servers := make([]netip.Addr, 0, len(ns))
		for _, n := range ns {
			servers = append(servers, n.Addr)
		}
		body = option.AppendRDNSS(body, option.RDNSS{
			Lifetime: m.iface.NextNameserverExpiration(),
			Servers:  servers,
		})
	}

	return &Packet{
		Src:      src,
		Dst:      dst,
		HopLimit: HopLimit,
		Type:     TypeRouterAdvertisement,
		Body:     body,
	}, nil
}

// Unregister withdraws our registration with a router by sending it a
// zero-lifetime ARO. The entry is removed once the router confirms.
func (m *Engine) Unregister(router netip.Addr) (*Packet, error) {
	if m.variant.Kind() != VariantSixLo {
		return nil, ErrUnsupported
	}
	e, ok := m.nbrs.Lookup(router)
	if !ok || !e.IsRouter {
		return nil, ErrUnknownRouter
	}

	src := m.iface.SelectSource(router)
	pkt, err := m.nsPacket(src, router, src, 0)
	if err != nil {
		return nil, err
	}
	e.RegState = nbr.ToBeUnregistered
	e.SendNS.Stop()
	pkt.LinkDst = e.LinkAddr

	m.stats.count(pkt)
	return pkt, nil
}
