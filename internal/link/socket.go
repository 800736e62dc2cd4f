package link

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"syscall"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/yanet-platform/nd6/internal/lladdr"
	"github.com/yanet-platform/nd6/internal/nd"
)

var (
	// ErrNoLinkDst is returned by Send for unicast packets without a link
	// destination.
	ErrNoLinkDst = errors.New("no link-layer destination")
	// ErrMalformed is returned by Read for datagrams that do not decode as
	// ND messages.
	ErrMalformed = errors.New("malformed datagram")
)

// Option is a function that configures the socket.
type Option func(*options)

// WithLog configures the socket with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithReceiveBuffer sets the socket receive buffer size in bytes.
func WithReceiveBuffer(size int) Option {
	return func(o *options) {
		o.ReceiveBuffer = size
	}
}

type options struct {
	Log           *zap.SugaredLogger
	ReceiveBuffer int
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// Socket sends and receives ND messages on one interface.
//
// It is a datagram packet socket bound to IPv6, so the kernel strips and
// builds the link-layer header, and works the same over Ethernet and
// 6LoWPAN devices.
type Socket struct {
	name     string
	index    int
	mtu      int
	linkAddr lladdr.Addr
	file     *os.File
	conn     syscall.RawConn
	log      *zap.SugaredLogger
}

// Open opens an ND socket on the named interface.
func Open(name string, options ...Option) (*Socket, error) {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("failed to find link %q: %w", name, err)
	}
	attrs := link.Attrs()

	linkAddr, err := lladdr.FromBytes(attrs.HardwareAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to use link address of %q: %w", name, err)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, int(htons(unix.ETH_P_IPV6)))
	if err != nil {
		return nil, fmt.Errorf("failed to open packet socket: %w", err)
	}

	if err := setup(fd, attrs.Index, opts.ReceiveBuffer); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set up packet socket on %q: %w", name, err)
	}

	// A non-blocking descriptor is picked up by the runtime poller, so Close
	// unblocks a pending Read.
	file := os.NewFile(uintptr(fd), name)
	conn, err := file.SyscallConn()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to access packet socket: %w", err)
	}

	opts.Log.Infow("opened ND socket",
		zap.String("iface", name),
		zap.Int("index", attrs.Index),
		zap.Stringer("lladdr", linkAddr),
	)

	return &Socket{
		name:     name,
		index:    attrs.Index,
		mtu:      attrs.MTU,
		linkAddr: linkAddr,
		file:     file,
		conn:     conn,
		log:      opts.Log,
	}, nil
}

func setup(fd int, index int, rcvbuf int) error {
	addr := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_IPV6),
		Ifindex:  index,
	}
	if err := unix.Bind(fd, addr); err != nil {
		return fmt.Errorf("failed to bind: %w", err)
	}

	if err := attachFilter(fd, Filter()); err != nil {
		return err
	}

	if rcvbuf > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, rcvbuf); err != nil {
			return fmt.Errorf("failed to set receive buffer: %w", err)
		}
	}

	// Solicited-node groups come and go with addresses, so take every
	// multicast frame and let the engine sort them out.
	mreq := &unix.PacketMreq{
		Ifindex: int32(index),
		Type:    unix.PACKET_MR_ALLMULTI,
	}
	if err := unix.SetsockoptPacketMreq(fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, mreq); err != nil {
		return fmt.Errorf("failed to join all multicast: %w", err)
	}
	return nil
}

// Name returns the interface name.
func (m *Socket) Name() string {
	return m.name
}

// Index returns the interface index.
func (m *Socket) Index() int {
	return m.index
}

// MTU returns the interface MTU at open time.
func (m *Socket) MTU() int {
	return m.mtu
}

// LinkAddr returns the interface link-layer address.
func (m *Socket) LinkAddr() lladdr.Addr {
	return m.linkAddr
}

// Read blocks until an ND message arrives. Malformed datagrams are
// returned as errors, the socket stays usable.
func (m *Socket) Read() (*nd.Packet, error) {
	buf := make([]byte, snapLen)

	var (
		n    int
		from unix.Sockaddr
		rerr error
	)
	err := m.conn.Read(func(fd uintptr) bool {
		n, from, rerr = unix.Recvfrom(int(fd), buf, 0)
		return rerr != unix.EAGAIN
	})
	if err != nil {
		return nil, err
	}
	if rerr != nil {
		return nil, fmt.Errorf("failed to receive: %w", rerr)
	}

	pkt, err := nd.Decode(buf[:n])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if sll, ok := from.(*unix.SockaddrLinklayer); ok && int(sll.Halen) <= len(sll.Addr) {
		if ll, err := lladdr.FromBytes(sll.Addr[:sll.Halen]); err == nil {
			pkt.LinkSrc = ll
		}
	}
	return pkt, nil
}

// Send transmits pkt. Multicast destinations are mapped to link-layer
// multicast, unicast ones need pkt.LinkDst.
func (m *Socket) Send(pkt *nd.Packet) error {
	dst := pkt.LinkDst
	if dst.IsZero() {
		if !pkt.Dst.IsMulticast() {
			return fmt.Errorf("%w for %s", ErrNoLinkDst, pkt.Dst)
		}
		dst = MulticastLinkAddr(pkt.Dst, m.linkAddr.Len())
	}

	data, err := pkt.Encode()
	if err != nil {
		return err
	}

	addr := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_IPV6),
		Ifindex:  m.index,
		Halen:    uint8(dst.Len()),
	}
	copy(addr.Addr[:], dst.Bytes())

	var werr error
	err = m.conn.Write(func(fd uintptr) bool {
		werr = unix.Sendto(int(fd), data, 0, addr)
		return werr != unix.EAGAIN
	})
	if err != nil {
		return err
	}
	if werr != nil {
		return fmt.Errorf("failed to send %s to %s: %w", nd.TypeName(pkt.Type), pkt.Dst, werr)
	}
	return nil
}

// Close closes the socket, unblocking Read.
func (m *Socket) Close() error {
	return m.file.Close()
}

// MulticastLinkAddr maps an IPv6 multicast group to a link-layer
// destination of n octets: 33:33 plus the low 32 bits of the group on
// Ethernet (RFC 2464), the broadcast address otherwise.
func MulticastLinkAddr(group netip.Addr, n int) lladdr.Addr {
	if n == lladdr.EthernetLen {
		g := group.As16()
		a, _ := lladdr.FromBytes([]byte{0x33, 0x33, g[12], g[13], g[14], g[15]})
		return a
	}

	b := make([]byte, lladdr.IEEE802154Len)
	for idx := range b {
		b[idx] = 0xff
	}
	a, _ := lladdr.FromBytes(b)
	return a
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}
