package rpl

import (
	"errors"
	"fmt"
	"net/netip"

	"go.uber.org/zap"

	"github.com/yanet-platform/nd6/internal/nd"
)

// RPL control message layout, RFC 6550 section 6.
const (
	TypeControl uint8 = 155
	CodeDAO     uint8 = 0x02

	daoFlagDODAG     = 0x40
	optTarget        = 0x05
	optTransitInfo   = 0x06
	transitInfoLen   = 4
	controlHopLimit  = 64
	zeroLifetime     = 0
	daoHeaderLen     = 4
	dodagIDLen       = 16
	targetHeaderSize = 4
)

// ErrNoParent is returned when a DAO has nobody to go to.
var ErrNoParent = errors.New("no preferred parent")

// NewDAO builds a storing-mode DAO advertising target through parent with
// the given path lifetime. A zero lifetime makes it a No-Path DAO.
func NewDAO(src netip.Addr, parent *Parent, seq uint8, target netip.Prefix, lifetime uint8) (*nd.Packet, error) {
	if parent == nil {
		return nil, ErrNoParent
	}
	if !target.IsValid() || !target.Addr().Is6() {
		return nil, fmt.Errorf("invalid DAO target %s", target)
	}

	dag := parent.DAG
	prefixBytes := (target.Bits() + 7) / 8

	body := make([]byte, 0, daoHeaderLen+dodagIDLen+targetHeaderSize+prefixBytes+2+transitInfoLen)
	body = append(body, dag.Instance.ID, daoFlagDODAG, 0, seq)
	id := dag.ID.As16()
	body = append(body, id[:]...)

	prefix := target.Masked().Addr().As16()
	body = append(body, optTarget, byte(2+prefixBytes), 0, byte(target.Bits()))
	body = append(body, prefix[:prefixBytes]...)

	body = append(body, optTransitInfo, transitInfoLen, 0, 0, 0, lifetime)

	return &nd.Packet{
		Src:      src,
		Dst:      parent.Addr,
		HopLimit: controlHopLimit,
		Type:     TypeControl,
		Code:     CodeDAO,
		Body:     body,
	}, nil
}

// Signaling emits DAO messages on behalf of the route maintenance.
type Signaling interface {
	// NoPathDAO withdraws target through parent.
	NoPathDAO(parent *Parent, target netip.Prefix)
	// ScheduleDAO asks for a DAO refresh of inst as soon as possible.
	ScheduleDAO(inst *Instance)
	// CancelDAO cancels a pending DAO refresh of inst.
	CancelDAO(inst *Instance)
}

// Sender is a Signaling that transmits DAO messages through an ND output.
type Sender struct {
	out       nd.Output
	source    func(dst netip.Addr) netip.Addr
	seq       uint8
	scheduled map[uint8]bool
	log       *zap.SugaredLogger
}

// NewSender creates a Sender. The source function selects the source
// address for a given destination.
func NewSender(out nd.Output, source func(dst netip.Addr) netip.Addr, log *zap.SugaredLogger) *Sender {
	return &Sender{
		out:       out,
		source:    source,
		scheduled: map[uint8]bool{},
		log:       log,
	}
}

// NoPathDAO implements Signaling.
func (m *Sender) NoPathDAO(parent *Parent, target netip.Prefix) {
	src := netip.Addr{}
	if parent != nil {
		src = m.source(parent.Addr)
	}

	m.seq++
	pkt, err := NewDAO(src, parent, m.seq, target, zeroLifetime)
	if err != nil {
		m.log.Warnw("failed to build No-Path DAO", zap.Stringer("target", target), zap.Error(err))
		return
	}

	m.log.Debugw("sending No-Path DAO",
		zap.Stringer("target", target),
		zap.Stringer("parent", parent.Addr),
		zap.Uint8("seq", m.seq),
	)
	m.out.Send(pkt)
}

// ScheduleDAO implements Signaling.
func (m *Sender) ScheduleDAO(inst *Instance) {
	m.scheduled[inst.ID] = true
	m.log.Debugw("scheduled DAO", zap.Uint8("instance", inst.ID))
}

// CancelDAO implements Signaling.
func (m *Sender) CancelDAO(inst *Instance) {
	delete(m.scheduled, inst.ID)
	m.log.Debugw("cancelled DAO", zap.Uint8("instance", inst.ID))
}

// FlushDAO sends the DAO refresh pending for the instance of dag,
// advertising target through the preferred parent with the instance
// default lifetime. It reports whether a refresh was sent. A refresh with
// no parent to go to stays pending.
func (m *Sender) FlushDAO(dag *DAG, target netip.Prefix) bool {
	inst := dag.Instance
	if !m.scheduled[inst.ID] || dag.PreferredParent == nil {
		return false
	}
	parent := dag.PreferredParent

	pkt, err := NewDAO(m.source(parent.Addr), parent, m.seq+1, target, inst.DefaultLifetime)
	if err != nil {
		m.log.Warnw("failed to build DAO", zap.Stringer("target", target), zap.Error(err))
		return false
	}
	m.seq++
	delete(m.scheduled, inst.ID)

	m.log.Debugw("sending DAO",
		zap.Stringer("target", target),
		zap.Stringer("parent", parent.Addr),
		zap.Uint8("seq", m.seq),
		zap.Uint8("lifetime", inst.DefaultLifetime),
	)
	m.out.Send(pkt)
	return true
}

// Scheduled reports whether a DAO refresh is pending for the instance.
func (m *Sender) Scheduled(id uint8) bool {
	return m.scheduled[id]
}
