package rpl

import (
	"encoding/binary"
	"net/netip"
	"slices"
)

// MaxSources is the capacity of the source info list.
const MaxSources = 5

// SourceInfo remembers the node IDs of the first nodes that installed
// routes through this router.
type SourceInfo struct {
	ids []uint16
}

// NodeID derives the node ID of an address from its last two octets.
func NodeID(addr netip.Addr) uint16 {
	a := addr.As16()
	return binary.BigEndian.Uint16(a[14:])
}

// Add records a node ID. It reports false when the ID is already known or
// the list is full.
func (m *SourceInfo) Add(id uint16) bool {
	if slices.Contains(m.ids, id) || len(m.ids) >= MaxSources {
		return false
	}
	m.ids = append(m.ids, id)
	return true
}

// IDs returns the recorded node IDs in insertion order.
func (m *SourceInfo) IDs() []uint16 {
	return slices.Clone(m.ids)
}

// Purge forgets every node ID.
func (m *SourceInfo) Purge() {
	m.ids = m.ids[:0]
}
