package rpl

import (
	"errors"
	"net/netip"
	"slices"
	"time"

	"github.com/yanet-platform/nd6/internal/rib"
)

// InfiniteRank is the rank of a parent that can no longer be used.
const InfiniteRank uint16 = 0xffff

// DefaultMinHopRankIncrease is the MinHopRankIncrease of RFC 6550.
const DefaultMinHopRankIncrease uint16 = 256

var (
	// ErrTooManyInstances is returned when the instance table is full.
	ErrTooManyInstances = errors.New("too many RPL instances")
	// ErrInstanceExists is returned when an instance ID is already used.
	ErrInstanceExists = errors.New("RPL instance already exists")
)

// ParentFlags are per-parent bookkeeping flags.
type ParentFlags uint8

const (
	// ParentUpdated asks the objective function to recalculate the rank.
	ParentUpdated ParentFlags = 1 << iota
	// ParentLinkMetricValid is set once the link metric has a sample.
	ParentLinkMetricValid
)

// Parent is a candidate parent in a DODAG.
type Parent struct {
	Addr netip.Addr
	DAG  *DAG
	// Rank is the rank the parent advertised.
	Rank uint16
	// LinkMetric is the smoothed link ETX scaled by ETXDivisor.
	LinkMetric uint16
	Flags      ParentFlags
	// LastTx notes the last transmission outcome reported for the parent.
	LastTx time.Time
}

// DAG is one DODAG an instance participates in.
type DAG struct {
	ID       netip.Addr
	Instance *Instance
	// Rank is the own rank in this DODAG.
	Rank            uint16
	PreferredParent *Parent
	parents         []*Parent
}

// Key returns the DODAG reference routes are tagged with.
func (m *DAG) Key() rib.DAGKey {
	return rib.DAGKey{Instance: m.Instance.ID, DODAG: m.ID}
}

// IsRoot reports whether this node is the DODAG root.
func (m *DAG) IsRoot() bool {
	return m.Rank == m.Instance.RootRank()
}

// Parent looks up a parent by address.
func (m *DAG) Parent(addr netip.Addr) (*Parent, bool) {
	idx := slices.IndexFunc(m.parents, func(p *Parent) bool {
		return p.Addr == addr
	})
	if idx < 0 {
		return nil, false
	}
	return m.parents[idx], true
}

// AddParent adds a candidate parent or updates the rank of a known one.
func (m *DAG) AddParent(addr netip.Addr, rank uint16) *Parent {
	if p, ok := m.Parent(addr); ok {
		p.Rank = rank
		return p
	}

	p := &Parent{
		Addr:       addr,
		DAG:        m,
		Rank:       rank,
		LinkMetric: initialLinkMetric,
	}
	m.parents = append(m.parents, p)
	return p
}

// Parents returns the candidate parents.
func (m *DAG) Parents() []*Parent {
	return slices.Clone(m.parents)
}

// InstanceConfig describes a RPL instance.
type InstanceConfig struct {
	ID                 uint8
	MinHopRankIncrease uint16
	// DefaultLifetime is the route lifetime in lifetime units.
	DefaultLifetime uint8
	// LifetimeUnit is the length of a lifetime unit in purge passes.
	LifetimeUnit uint16
	OF           ObjectiveFunction
}

// Instance is a RPL instance.
type Instance struct {
	ID                 uint8
	MinHopRankIncrease uint16
	DefaultLifetime    uint8
	LifetimeUnit       uint16
	OF                 ObjectiveFunction
	CurrentDAG         *DAG
	dags               []*DAG
}

// RootRank returns the rank of a root in this instance.
func (m *Instance) RootRank() uint16 {
	return m.MinHopRankIncrease
}

// RouteLifetime returns the lifetime given to routes added locally.
func (m *Instance) RouteLifetime() uint32 {
	return uint32(m.DefaultLifetime) * uint32(m.LifetimeUnit)
}

// JoinDAG adds a DODAG to the instance with the given own rank.
//
// The first joined DODAG becomes the current one.
func (m *Instance) JoinDAG(id netip.Addr, rank uint16) *DAG {
	if dag, ok := m.DAG(id); ok {
		dag.Rank = rank
		return dag
	}

	dag := &DAG{ID: id, Instance: m, Rank: rank}
	m.dags = append(m.dags, dag)
	if m.CurrentDAG == nil {
		m.CurrentDAG = dag
	}
	return dag
}

// DAG looks up a joined DODAG.
func (m *Instance) DAG(id netip.Addr) (*DAG, bool) {
	idx := slices.IndexFunc(m.dags, func(d *DAG) bool {
		return d.ID == id
	})
	if idx < 0 {
		return nil, false
	}
	return m.dags[idx], true
}

// DAGs returns the joined DODAGs.
func (m *Instance) DAGs() []*DAG {
	return slices.Clone(m.dags)
}

// FindParent returns the first parent with the given address in any of
// the instance's DODAGs.
func (m *Instance) FindParent(addr netip.Addr) (*Parent, bool) {
	for _, dag := range m.dags {
		if p, ok := dag.Parent(addr); ok {
			return p, true
		}
	}
	return nil, false
}

// Topology is the table of RPL instances.
type Topology struct {
	capacity  int
	instances []*Instance
	def       *Instance
}

// NewTopology creates a topology holding at most capacity instances.
func NewTopology(capacity int) *Topology {
	return &Topology{capacity: capacity}
}

// AddInstance creates an instance. The first instance becomes the
// default one.
func (m *Topology) AddInstance(cfg InstanceConfig) (*Instance, error) {
	if _, ok := m.Instance(cfg.ID); ok {
		return nil, ErrInstanceExists
	}
	if len(m.instances) >= m.capacity {
		return nil, ErrTooManyInstances
	}

	inst := &Instance{
		ID:                 cfg.ID,
		MinHopRankIncrease: cfg.MinHopRankIncrease,
		DefaultLifetime:    cfg.DefaultLifetime,
		LifetimeUnit:       cfg.LifetimeUnit,
		OF:                 cfg.OF,
	}
	if inst.MinHopRankIncrease == 0 {
		inst.MinHopRankIncrease = DefaultMinHopRankIncrease
	}
	if inst.OF == nil {
		inst.OF = MRHOF{}
	}

	m.instances = append(m.instances, inst)
	if m.def == nil {
		m.def = inst
	}
	return inst, nil
}

// Instance looks up an instance by ID.
func (m *Topology) Instance(id uint8) (*Instance, bool) {
	idx := slices.IndexFunc(m.instances, func(i *Instance) bool {
		return i.ID == id
	})
	if idx < 0 {
		return nil, false
	}
	return m.instances[idx], true
}

// Instances returns the instances in use.
func (m *Topology) Instances() []*Instance {
	return slices.Clone(m.instances)
}

// DefaultInstance returns the default instance, or nil.
func (m *Topology) DefaultInstance() *Instance {
	return m.def
}

// SetDefaultInstance makes inst the default instance.
func (m *Topology) SetDefaultInstance(inst *Instance) {
	m.def = inst
}
