package nd6

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/yanet-platform/nd6/common/go/logging"
	"github.com/yanet-platform/nd6/internal/ds6"
	"github.com/yanet-platform/nd6/internal/gateway"
	"github.com/yanet-platform/nd6/internal/nd"
	"github.com/yanet-platform/nd6/internal/rpl"
)

type Config config
type config struct {
	// Logging configuration.
	Logging logging.Config `yaml:"logging"`
	// Variant is the ND flavour run on every interface: "classic", "6lo"
	// or "rpl".
	Variant nd.VariantKind `yaml:"variant"`
	// ND is the protocol configuration shared by the interfaces.
	ND nd.Config `yaml:"nd"`
	// Interfaces selects the links to run on.
	Interfaces []InterfaceConfig `yaml:"interfaces"`
	// Neighbours is the neighbour cache capacity per interface.
	Neighbours int `yaml:"neighbours"`
	// Limits bounds the address, prefix, router and nameserver lists.
	Limits ds6.Limits `yaml:"limits"`
	// BaseReachableTime is the base of the randomized reachable time.
	BaseReachableTime time.Duration `yaml:"base_reachable_time"`
	// RetransTimer is the interval between solicitations.
	RetransTimer time.Duration `yaml:"retrans_timer"`
	// Prefixes are announced in Router Advertisements in the router role.
	Prefixes []PrefixConfig `yaml:"prefixes"`
	// Nameservers are announced with RDNSS in the router role.
	Nameservers []NameserverConfig `yaml:"nameservers"`
	// RAInterval is the interval between unsolicited Router
	// Advertisements, zero disables them.
	RAInterval time.Duration `yaml:"ra_interval"`
	// RPL configures the routing protocol hooks of the "rpl" variant.
	RPL RPLConfig `yaml:"rpl"`
	// Gateway configures the proxy-ND bridge.
	Gateway GatewayConfig `yaml:"gateway"`
	// Routes is the route table capacity.
	Routes int `yaml:"routes"`
	// PeriodicInterval is the ND timer resolution.
	PeriodicInterval time.Duration `yaml:"periodic_interval"`
	// ReceiveBuffer is the socket receive buffer size, zero keeps the
	// kernel default.
	ReceiveBuffer datasize.ByteSize `yaml:"receive_buffer"`
	// Netlink enables following kernel link and neighbour changes.
	Netlink bool `yaml:"netlink"`
	// Metrics is the Prometheus endpoint, empty disables it.
	Metrics string `yaml:"metrics"`
	// Inspect is the gRPC inspection endpoint, empty disables it.
	Inspect string `yaml:"inspect"`
}

// InterfaceConfig selects interfaces by name.
type InterfaceConfig struct {
	// Match is a glob over interface names, like "wpan*".
	Match string `yaml:"match"`
	// Kind is the link type used by the gateway: "ethernet",
	// "ieee802154" or "local".
	Kind gateway.Kind `yaml:"kind"`
	// Addresses are static unicast addresses configured on the link, in
	// addition to the link-local one.
	Addresses []netip.Addr `yaml:"addresses"`
}

// PrefixConfig is an advertised prefix.
type PrefixConfig struct {
	Prefix            netip.Prefix  `yaml:"prefix"`
	OnLink            bool          `yaml:"on_link"`
	Autonomous        bool          `yaml:"autonomous"`
	ValidLifetime     time.Duration `yaml:"valid_lifetime"`
	PreferredLifetime time.Duration `yaml:"preferred_lifetime"`
}

// NameserverConfig is an advertised recursive DNS server.
type NameserverConfig struct {
	Addr netip.Addr `yaml:"addr"`
	// Lifetime of zero keeps the nameserver forever.
	Lifetime time.Duration `yaml:"lifetime"`
}

// RPLConfig describes the DODAG the node takes part in.
//
// DIO processing is out of scope, the DODAG and the preferred parent are
// configured statically.
type RPLConfig struct {
	// Interface is the mesh interface DAOs are sent on. Empty picks the
	// first selected interface.
	Interface string `yaml:"interface"`
	// Instance is the RPL instance ID.
	Instance uint8 `yaml:"instance"`
	// DODAG is the DODAG ID.
	DODAG netip.Addr `yaml:"dodag"`
	// Root makes this node the DODAG root.
	Root bool `yaml:"root"`
	// Rank is the own rank when not the root.
	Rank uint16 `yaml:"rank"`
	// Parent is the preferred parent, a link-local address.
	Parent netip.Addr `yaml:"parent"`
	// ParentRank is the rank advertised by the preferred parent.
	ParentRank uint16 `yaml:"parent_rank"`
	// MinHopRankIncrease is the DODAG MinHopRankIncrease.
	MinHopRankIncrease uint16 `yaml:"min_hop_rank_increase"`
	// DefaultLifetime is the route lifetime in lifetime units.
	DefaultLifetime uint8 `yaml:"default_lifetime"`
	// LifetimeUnit is the length of a lifetime unit in purge passes.
	LifetimeUnit uint16 `yaml:"lifetime_unit"`
	// Mode is "mesh", "feather" or "leaf".
	Mode rpl.Mode `yaml:"mode"`
	// PurgeInterval is the interval between route purges.
	PurgeInterval time.Duration `yaml:"purge_interval"`
	// Routes are installed in the DODAG at startup and age like learned
	// ones.
	Routes []RouteConfig `yaml:"routes"`
}

// RouteConfig is a statically installed DODAG route.
type RouteConfig struct {
	Prefix  netip.Prefix `yaml:"prefix"`
	NextHop netip.Addr   `yaml:"nexthop"`
}

// GatewayConfig configures the proxy-ND bridge.
type GatewayConfig struct {
	// Enabled turns the bridge on between ethernet and ieee802154
	// interfaces.
	Enabled bool `yaml:"enabled"`
	// MaxAge is the time after which a silent peer stops being proxied.
	MaxAge time.Duration `yaml:"max_age"`
}

func DefaultConfig() *Config {
	return &Config{
		Logging:           logging.DefaultConfig(),
		Variant:           nd.VariantClassic,
		ND:                nd.DefaultConfig(),
		Neighbours:        32,
		Limits:            ds6.DefaultLimits(),
		BaseReachableTime: ds6.DefaultReachableTime,
		RetransTimer:      ds6.DefaultRetransTimer,
		RAInterval:        10 * time.Minute,
		RPL: RPLConfig{
			Instance:           30,
			MinHopRankIncrease: rpl.DefaultMinHopRankIncrease,
			DefaultLifetime:    30,
			LifetimeUnit:       60,
			Mode:               rpl.ModeMesh,
			PurgeInterval:      time.Second,
		},
		Gateway: GatewayConfig{
			MaxAge: 10 * time.Minute,
		},
		Routes:           32,
		PeriodicInterval: 100 * time.Millisecond,
		ReceiveBuffer:    256 * datasize.KB,
		Netlink:          true,
		Metrics:          "[::1]:9641",
		Inspect:          "[::1]:9642",
	}
}

// LoadConfig loads the configuration from the given path.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to deserialize config: %w", err)
	}

	return cfg, nil
}

// UnmarshalYAML serves as a proxy for validation.
//
// To avoid infinite recursion, the validating wrapper casts itself to the
// private config struct. This allows the decoder to operate on it using the
// default behavior for handling Go structs without an unmarshal method.
func (m *Config) UnmarshalYAML(value *yaml.Node) error {
	if err := value.Decode((*config)(m)); err != nil {
		return err
	}
	return m.Validate()
}

// Validate validates the daemon configuration.
func (m *Config) Validate() error {
	if len(m.Interfaces) == 0 {
		return errors.New("no interfaces configured")
	}
	for _, iface := range m.Interfaces {
		if iface.Match == "" {
			return errors.New("interface match pattern is empty")
		}
	}
	if m.Neighbours <= 0 {
		return fmt.Errorf("neighbour cache capacity must be positive, got %d", m.Neighbours)
	}
	if m.Routes <= 0 {
		return fmt.Errorf("route table capacity must be positive, got %d", m.Routes)
	}
	if m.PeriodicInterval <= 0 {
		return fmt.Errorf("periodic interval must be positive, got %s", m.PeriodicInterval)
	}
	for _, p := range m.Prefixes {
		if !p.Prefix.IsValid() || !p.Prefix.Addr().Is6() {
			return fmt.Errorf("advertised prefix %s is not an IPv6 prefix", p.Prefix)
		}
		if p.PreferredLifetime > p.ValidLifetime {
			return fmt.Errorf("preferred lifetime of %s exceeds its valid lifetime", p.Prefix)
		}
	}
	if m.Variant == nd.VariantRPL {
		if err := m.RPL.Validate(); err != nil {
			return fmt.Errorf("invalid rpl config: %w", err)
		}
	}
	return nil
}

// Validate validates the RPL configuration.
func (m *RPLConfig) Validate() error {
	if !m.DODAG.IsValid() {
		return errors.New("dodag is not configured")
	}
	if m.Parent.IsValid() && !m.Parent.IsLinkLocalUnicast() {
		return fmt.Errorf("parent %s is not link-local", m.Parent)
	}
	if m.LifetimeUnit == 0 {
		return errors.New("lifetime unit must be positive")
	}
	if m.PurgeInterval <= 0 {
		return fmt.Errorf("purge interval must be positive, got %s", m.PurgeInterval)
	}
	for _, r := range m.Routes {
		if !r.Prefix.IsValid() || !r.Prefix.Addr().Is6() {
			return fmt.Errorf("route prefix %s is not an IPv6 prefix", r.Prefix)
		}
		if !r.NextHop.Is6() {
			return fmt.Errorf("route %s has no IPv6 next hop", r.Prefix)
		}
	}
	return nil
}
