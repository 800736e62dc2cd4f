package nd6

import (
	"fmt"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"

	"github.com/yanet-platform/nd6/internal/link"
	"github.com/yanet-platform/nd6/internal/lladdr"
	"github.com/yanet-platform/nd6/internal/nd"
)

// Port is a link the daemon exchanges ND messages on.
//
// *link.Socket is the production implementation.
type Port interface {
	Name() string
	Index() int
	MTU() int
	LinkAddr() lladdr.Addr
	// Read blocks until a message arrives or the port is closed.
	Read() (*nd.Packet, error)
	Send(pkt *nd.Packet) error
	Close() error
}

var _ Port = (*link.Socket)(nil)

// portBinding is a port together with the interface entry that selected
// it.
type portBinding struct {
	Port
	cfg InterfaceConfig
}

// selectInterfaces resolves the configured patterns against the kernel
// link names. A link is bound to the first entry matching it.
func selectInterfaces(entries []InterfaceConfig, names []string) (map[string]InterfaceConfig, []string, error) {
	selected := map[string]InterfaceConfig{}
	var order []string

	for _, entry := range entries {
		matcher, err := link.NewMatcher(entry.Match)
		if err != nil {
			return nil, nil, err
		}
		for _, name := range matcher.Select(names) {
			if _, ok := selected[name]; ok {
				continue
			}
			selected[name] = entry
			order = append(order, name)
		}
	}
	return selected, order, nil
}

// openPorts opens a socket on every configured kernel link.
func openPorts(cfg *Config, log *zap.SugaredLogger) ([]portBinding, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	names := make([]string, 0, len(links))
	for _, l := range links {
		names = append(names, l.Attrs().Name)
	}

	selected, order, err := selectInterfaces(cfg.Interfaces, names)
	if err != nil {
		return nil, err
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("no link matches the configured interfaces")
	}

	ports := make([]portBinding, 0, len(order))
	for _, name := range order {
		sock, err := link.Open(name,
			link.WithLog(log),
			link.WithReceiveBuffer(int(cfg.ReceiveBuffer.Bytes())),
		)
		if err != nil {
			for _, p := range ports {
				p.Close()
			}
			return nil, fmt.Errorf("failed to open %q: %w", name, err)
		}
		ports = append(ports, portBinding{Port: sock, cfg: selected[name]})
	}
	return ports, nil
}
