package gateway

import (
	"errors"
	"fmt"
	"net/netip"
	"time"
)

// MaxEntries is the capacity of the bridge table.
const MaxEntries = 30

// ErrTableFull is returned when every bridge slot holds a reachable peer.
var ErrTableFull = errors.New("bridge table is full")

// Kind is the link type of a gateway interface.
type Kind uint8

const (
	KindUndefined Kind = iota
	// KindEthernet is an IEEE 802.3 segment.
	KindEthernet
	// KindIEEE802154 is an IEEE 802.15.4 mesh.
	KindIEEE802154
	// KindLocal is the gateway itself.
	KindLocal
)

func (m Kind) String() string {
	switch m {
	case KindUndefined:
		return "undefined"
	case KindEthernet:
		return "ethernet"
	case KindIEEE802154:
		return "ieee802154"
	case KindLocal:
		return "local"
	default:
		return fmt.Sprintf("kind(%d)", uint8(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Kind) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "undefined":
		*m = KindUndefined
	case "ethernet", "802.3":
		*m = KindEthernet
	case "ieee802154", "802.15.4":
		*m = KindIEEE802154
	case "local":
		*m = KindLocal
	default:
		return fmt.Errorf("unknown interface kind %q", text)
	}
	return nil
}

// State is the reachability of a bridged peer.
type State uint8

const (
	StateGarbageCollectable State = iota
	StateReachable
)

func (m State) String() string {
	switch m {
	case StateGarbageCollectable:
		return "GARBAGE_COLLECTABLE"
	case StateReachable:
		return "REACHABLE"
	default:
		return "UNKNOWN"
	}
}

// Entry is a bridge table slot.
type Entry struct {
	Addr  netip.Addr
	State State
	// Side is the link type the peer was learned on.
	Side Kind
	// Seen notes the last time the peer showed up.
	Seen time.Time
}

// Table is the fixed-size bridge table.
//
// Empty slots have an invalid address. Garbage-collectable slots are
// reused once no empty slot is left.
type Table struct {
	slots [MaxEntries]Entry
}

// NewTable creates an empty bridge table.
func NewTable() *Table {
	return &Table{}
}

// Lookup returns the slot holding addr.
func (m *Table) Lookup(addr netip.Addr) (*Entry, bool) {
	for idx := range m.slots {
		if m.slots[idx].Addr.IsValid() && m.slots[idx].Addr == addr {
			return &m.slots[idx], true
		}
	}
	return nil, false
}

// Add records addr as reachable on side.
func (m *Table) Add(addr netip.Addr, side Kind, now time.Time) (*Entry, error) {
	e, ok := m.Lookup(addr)
	if !ok {
		e = m.free()
		if e == nil {
			return nil, ErrTableFull
		}
	}

	*e = Entry{
		Addr:  addr,
		State: StateReachable,
		Side:  side,
		Seen:  now,
	}
	return e, nil
}

func (m *Table) free() *Entry {
	var gc *Entry
	for idx := range m.slots {
		e := &m.slots[idx]
		if !e.Addr.IsValid() {
			return e
		}
		if gc == nil && e.State == StateGarbageCollectable {
			gc = e
		}
	}
	return gc
}

// Delete empties the slot holding addr.
func (m *Table) Delete(addr netip.Addr) bool {
	e, ok := m.Lookup(addr)
	if !ok {
		return false
	}
	*e = Entry{}
	return true
}

// Expire marks reachable peers not seen for maxAge as garbage-collectable
// and returns how many were marked.
func (m *Table) Expire(now time.Time, maxAge time.Duration) int {
	n := 0
	for idx := range m.slots {
		e := &m.slots[idx]
		if e.Addr.IsValid() && e.State == StateReachable && now.Sub(e.Seen) >= maxAge {
			e.State = StateGarbageCollectable
			n++
		}
	}
	return n
}

// Proxyable reports whether addr is a reachable peer.
func (m *Table) Proxyable(addr netip.Addr) bool {
	e, ok := m.Lookup(addr)
	return ok && e.State == StateReachable
}

// Len returns the number of occupied slots.
func (m *Table) Len() int {
	n := 0
	for idx := range m.slots {
		if m.slots[idx].Addr.IsValid() {
			n++
		}
	}
	return n
}

// Entries returns a copy of the occupied slots.
func (m *Table) Entries() []Entry {
	out := make([]Entry, 0, MaxEntries)
	for _, e := range m.slots {
		if e.Addr.IsValid() {
			out = append(out, e)
		}
	}
	return out
}
