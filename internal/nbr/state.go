package nbr

// State is the RFC 4861 neighbour cache entry state.
type State uint8

const (
	Incomplete State = iota
	Reachable
	Stale
	Delay
	Probe
	// GarbageCollectible marks a registration entry that is kept only
	// until it is collected.
	GarbageCollectible
)

// String returns string representation of this state.
func (m State) String() string {
	switch m {
	case Incomplete:
		return "INCOMPLETE"
	case Reachable:
		return "REACHABLE"
	case Stale:
		return "STALE"
	case Delay:
		return "DELAY"
	case Probe:
		return "PROBE"
	case GarbageCollectible:
		return "GARBAGE_COLLECTIBLE"
	default:
		return "UNKNOWN"
	}
}

// RegState is the address registration sub-state of an entry.
type RegState uint8

const (
	Unregistered RegState = iota
	ToBeRegistered
	Registered
	ToBeUnregistered
)

// String returns string representation of this registration state.
func (m RegState) String() string {
	switch m {
	case Unregistered:
		return "UNREGISTERED"
	case ToBeRegistered:
		return "TO_BE_REGISTERED"
	case Registered:
		return "REGISTERED"
	case ToBeUnregistered:
		return "TO_BE_UNREGISTERED"
	default:
		return "UNKNOWN"
	}
}
