package nd

// Counters are per message type counters.
type Counters struct {
	Recv    uint64
	Sent    uint64
	Drop    uint64
	Forward uint64
}

// Stats are the engine message counters.
type Stats struct {
	NS Counters
	NA Counters
	RS Counters
	RA Counters

	// DADFailed counts addresses found to be duplicates.
	DADFailed uint64
	// RegistrationErrors counts registration-error NAs sent.
	RegistrationErrors uint64
}

func (m *Stats) counters(t uint8) *Counters {
	switch t {
	case TypeNeighborSolicitation:
		return &m.NS
	case TypeNeighborAdvertisement:
		return &m.NA
	case TypeRouterSolicitation:
		return &m.RS
	case TypeRouterAdvertisement:
		return &m.RA
	default:
		return nil
	}
}

func (m *Stats) count(pkt *Packet) {
	if c := m.counters(pkt.Type); c != nil {
		c.Sent++
	}
}
