package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yanet-platform/nd6/internal/gateway"
	"github.com/yanet-platform/nd6/internal/nd"
	"github.com/yanet-platform/nd6/internal/rpl"
)

// Interface is the per interface part of a Snapshot.
type Interface struct {
	Name       string
	ND         nd.Stats
	Neighbors  int
	Addresses  int
	Prefixes   int
	Routers    int
	CacheLimit int
}

// Snapshot is a consistent view of the daemon counters.
type Snapshot struct {
	Interfaces []Interface
	Routes     int
	RouteLimit int
	RPL        *rpl.Stats
	Bridge     *gateway.Stats
	BridgeLen  int
}

// Source produces snapshots. The daemon implements it by asking its event
// loop, so Snapshot may block until ctx is done.
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Collector implements prometheus.Collector, taking a snapshot on each
// scrape.
type Collector struct {
	src Source

	messagesTotal      *prometheus.Desc
	dadFailedTotal     *prometheus.Desc
	registrationErrors *prometheus.Desc
	neighbors          *prometheus.Desc
	neighborsLimit     *prometheus.Desc
	addresses          *prometheus.Desc
	prefixes           *prometheus.Desc
	routers            *prometheus.Desc

	routes          *prometheus.Desc
	routesLimit     *prometheus.Desc
	noPathDAOsTotal *prometheus.Desc
	routesExpired   *prometheus.Desc
	routesWithdrawn *prometheus.Desc

	bridgeEntries  *prometheus.Desc
	bridgeLearned  *prometheus.Desc
	bridgeProxied  *prometheus.Desc
	bridgeOverflow *prometheus.Desc
	scrapeErrors   *prometheus.Desc
}

// NewCollector creates a collector over src.
func NewCollector(src Source) *Collector {
	iface := []string{"iface"}
	return &Collector{
		src: src,

		messagesTotal: prometheus.NewDesc(
			"nd6_messages_total",
			"ND messages by type and outcome.",
			[]string{"iface", "type", "outcome"}, nil,
		),
		dadFailedTotal: prometheus.NewDesc(
			"nd6_dad_failed_total",
			"Addresses found to be duplicates.",
			iface, nil,
		),
		registrationErrors: prometheus.NewDesc(
			"nd6_registration_errors_total",
			"Registration-error advertisements sent.",
			iface, nil,
		),
		neighbors: prometheus.NewDesc(
			"nd6_neighbors",
			"Neighbour cache entries.",
			iface, nil,
		),
		neighborsLimit: prometheus.NewDesc(
			"nd6_neighbors_limit",
			"Neighbour cache capacity.",
			iface, nil,
		),
		addresses: prometheus.NewDesc(
			"nd6_addresses",
			"Configured unicast addresses.",
			iface, nil,
		),
		prefixes: prometheus.NewDesc(
			"nd6_prefixes",
			"Prefix list entries.",
			iface, nil,
		),
		routers: prometheus.NewDesc(
			"nd6_default_routers",
			"Default router list entries.",
			iface, nil,
		),
		routes: prometheus.NewDesc(
			"nd6_routes",
			"Route table entries.",
			nil, nil,
		),
		routesLimit: prometheus.NewDesc(
			"nd6_routes_limit",
			"Route table capacity.",
			nil, nil,
		),
		noPathDAOsTotal: prometheus.NewDesc(
			"nd6_rpl_no_path_dao_total",
			"No-Path DAOs sent.",
			nil, nil,
		),
		routesExpired: prometheus.NewDesc(
			"nd6_rpl_routes_expired_total",
			"Routes removed by lifetime expiry.",
			nil, nil,
		),
		routesWithdrawn: prometheus.NewDesc(
			"nd6_rpl_routes_withdrawn_total",
			"Routes removed because the next hop was lost.",
			nil, nil,
		),
		bridgeEntries: prometheus.NewDesc(
			"nd6_bridge_entries",
			"Occupied bridge table slots.",
			nil, nil,
		),
		bridgeLearned: prometheus.NewDesc(
			"nd6_bridge_learned_total",
			"Peers learned into the bridge table.",
			nil, nil,
		),
		bridgeProxied: prometheus.NewDesc(
			"nd6_bridge_proxied_total",
			"Proxy advertisements sent.",
			nil, nil,
		),
		bridgeOverflow: prometheus.NewDesc(
			"nd6_bridge_full_total",
			"Peers not learned because the bridge table was full.",
			nil, nil,
		),
		scrapeErrors: prometheus.NewDesc(
			"nd6_scrape_errors_total",
			"Scrapes that failed to take a snapshot.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.messagesTotal
	ch <- c.dadFailedTotal
	ch <- c.registrationErrors
	ch <- c.neighbors
	ch <- c.neighborsLimit
	ch <- c.addresses
	ch <- c.prefixes
	ch <- c.routers
	ch <- c.routes
	ch <- c.routesLimit
	ch <- c.noPathDAOsTotal
	ch <- c.routesExpired
	ch <- c.routesWithdrawn
	ch <- c.bridgeEntries
	ch <- c.bridgeLearned
	ch <- c.bridgeProxied
	ch <- c.bridgeOverflow
	ch <- c.scrapeErrors
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap, err := c.src.Snapshot(context.Background())
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.scrapeErrors, err)
		return
	}

	for _, iface := range snap.Interfaces {
		c.collectInterface(ch, iface)
	}

	ch <- prometheus.MustNewConstMetric(c.routes, prometheus.GaugeValue, float64(snap.Routes))
	ch <- prometheus.MustNewConstMetric(c.routesLimit, prometheus.GaugeValue, float64(snap.RouteLimit))

	if s := snap.RPL; s != nil {
		ch <- prometheus.MustNewConstMetric(c.noPathDAOsTotal, prometheus.CounterValue, float64(s.NoPathDAOs))
		ch <- prometheus.MustNewConstMetric(c.routesExpired, prometheus.CounterValue, float64(s.ExpiredRoutes))
		ch <- prometheus.MustNewConstMetric(c.routesWithdrawn, prometheus.CounterValue, float64(s.WithdrawnRoutes))
	}

	if s := snap.Bridge; s != nil {
		ch <- prometheus.MustNewConstMetric(c.bridgeEntries, prometheus.GaugeValue, float64(snap.BridgeLen))
		ch <- prometheus.MustNewConstMetric(c.bridgeLearned, prometheus.CounterValue, float64(s.Learned))
		ch <- prometheus.MustNewConstMetric(c.bridgeProxied, prometheus.CounterValue, float64(s.Proxied))
		ch <- prometheus.MustNewConstMetric(c.bridgeOverflow, prometheus.CounterValue, float64(s.Full))
	}
}

func (c *Collector) collectInterface(ch chan<- prometheus.Metric, iface Interface) {
	messages := []struct {
		typ      string
		counters nd.Counters
	}{
		{"ns", iface.ND.NS},
		{"na", iface.ND.NA},
		{"rs", iface.ND.RS},
		{"ra", iface.ND.RA},
	}
	for _, m := range messages {
		ch <- prometheus.MustNewConstMetric(c.messagesTotal, prometheus.CounterValue,
			float64(m.counters.Recv), iface.Name, m.typ, "received")
		ch <- prometheus.MustNewConstMetric(c.messagesTotal, prometheus.CounterValue,
			float64(m.counters.Sent), iface.Name, m.typ, "sent")
		ch <- prometheus.MustNewConstMetric(c.messagesTotal, prometheus.CounterValue,
			float64(m.counters.Drop), iface.Name, m.typ, "dropped")
		ch <- prometheus.MustNewConstMetric(c.messagesTotal, prometheus.CounterValue,
			float64(m.counters.Forward), iface.Name, m.typ, "forwarded")
	}

	ch <- prometheus.MustNewConstMetric(c.dadFailedTotal, prometheus.CounterValue,
		float64(iface.ND.DADFailed), iface.Name)
	ch <- prometheus.MustNewConstMetric(c.registrationErrors, prometheus.CounterValue,
		float64(iface.ND.RegistrationErrors), iface.Name)
	ch <- prometheus.MustNewConstMetric(c.neighbors, prometheus.GaugeValue, float64(iface.Neighbors), iface.Name)
	ch <- prometheus.MustNewConstMetric(c.neighborsLimit, prometheus.GaugeValue, float64(iface.CacheLimit), iface.Name)
	ch <- prometheus.MustNewConstMetric(c.addresses, prometheus.GaugeValue, float64(iface.Addresses), iface.Name)
	ch <- prometheus.MustNewConstMetric(c.prefixes, prometheus.GaugeValue, float64(iface.Prefixes), iface.Name)
	ch <- prometheus.MustNewConstMetric(c.routers, prometheus.GaugeValue, float64(iface.Routers), iface.Name)
}

// Handler returns an HTTP handler serving the collector from an isolated
// registry.
func Handler(c *Collector) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(c)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
