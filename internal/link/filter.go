package link

import (
	"fmt"
	"unsafe"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

const (
	ipv6NextHeaderOffset = 6
	ipv6HeaderLen        = 40
	protoICMPv6          = 58

	icmpRouterSolicitation    = 133
	icmpNeighborAdvertisement = 136

	// snapLen bounds what the filter passes up, the largest ND message we
	// care about fits an IPv6 minimum MTU.
	snapLen = 1280
)

// Filter returns the classic BPF program attached to ND sockets.
//
// The socket is a datagram packet socket, so offsets are relative to the
// IPv6 header. Frames we send ourselves are dropped, everything but
// ICMPv6 RS, RA, NS and NA is dropped.
func Filter() []bpf.Instruction {
	return []bpf.Instruction{
		// Drop our own transmissions looped back to the socket.
		bpf.LoadExtension{Num: bpf.ExtType},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: unix.PACKET_OUTGOING, SkipTrue: 6},
		// Load "Next Header" field from IPv6 header.
		bpf.LoadAbsolute{Off: ipv6NextHeaderOffset, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: protoICMPv6, SkipTrue: 4},
		// Load "Type" field from ICMPv6 header.
		bpf.LoadAbsolute{Off: ipv6HeaderLen, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpLessThan, Val: icmpRouterSolicitation, SkipTrue: 2},
		bpf.JumpIf{Cond: bpf.JumpGreaterThan, Val: icmpNeighborAdvertisement, SkipTrue: 1},
		bpf.RetConstant{Val: snapLen},
		bpf.RetConstant{Val: 0},
	}
}

func attachFilter(fd int, filter []bpf.Instruction) error {
	assembled, err := bpf.Assemble(filter)
	if err != nil {
		return fmt.Errorf("failed to assemble BPF filter: %w", err)
	}

	program := unix.SockFprog{
		Len:    uint16(len(assembled)),
		Filter: (*unix.SockFilter)(unsafe.Pointer(&assembled[0])),
	}
	if err := unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &program); err != nil {
		return fmt.Errorf("failed to attach BPF filter: %w", err)
	}
	return nil
}
