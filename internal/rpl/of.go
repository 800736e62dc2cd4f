package rpl

import "fmt"

// LinkStatus is the outcome of a link-layer transmission to a neighbour.
type LinkStatus uint8

const (
	StatusOK LinkStatus = iota
	StatusCollision
	StatusNoAck
	StatusDeferred
	StatusErr
	StatusErrFatal
	// StatusLost reports that the link layer gave up on the neighbour.
	StatusLost
)

func (m LinkStatus) String() string {
	switch m {
	case StatusOK:
		return "ok"
	case StatusCollision:
		return "collision"
	case StatusNoAck:
		return "noack"
	case StatusDeferred:
		return "deferred"
	case StatusErr:
		return "err"
	case StatusErrFatal:
		return "err-fatal"
	case StatusLost:
		return "lost"
	default:
		return fmt.Sprintf("status(%d)", uint8(m))
	}
}

// ObjectiveFunction receives link-layer feedback about parents.
//
// Rank computation and parent selection stay with the routing protocol.
type ObjectiveFunction interface {
	NeighborLinkCallback(p *Parent, status LinkStatus, numTx int)
}

// ETX scaling of RFC 6551.
const (
	ETXDivisor = 128

	etxAlpha          = 90
	etxScale          = 100
	maxLinkMetric     = 10
	initialLinkMetric = 5 * ETXDivisor
)

// MRHOF smooths the parent link ETX with an exponentially weighted moving
// average of the transmission count.
type MRHOF struct{}

// NeighborLinkCallback implements ObjectiveFunction.
func (MRHOF) NeighborLinkCallback(p *Parent, status LinkStatus, numTx int) {
	var packetETX uint32
	switch status {
	case StatusOK:
		packetETX = uint32(numTx) * ETXDivisor
	case StatusNoAck, StatusLost:
		packetETX = maxLinkMetric * ETXDivisor
	default:
		// Collisions and deferrals say nothing about the link.
		return
	}

	recorded := uint32(p.LinkMetric)
	if p.Flags&ParentLinkMetricValid == 0 {
		recorded = packetETX
		p.Flags |= ParentLinkMetricValid
	}
	etx := (recorded*etxAlpha + packetETX*(etxScale-etxAlpha)) / etxScale
	p.LinkMetric = uint16(min(etx, 0xffff))
}
