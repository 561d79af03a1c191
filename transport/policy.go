package transport

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// QueryInfo carries whatever a HostSelectionPolicy needs to rank nodes for
// one request: a token and the keyspace it belongs to, when the statement is
// token-aware, or nothing otherwise.
type QueryInfo struct {
	token      Token
	tokenAware bool
	keyspace   string
}

// HostSelectionPolicy ranks nodes for a query: Node(qi, 0) is the first
// choice, Node(qi, 1) the first fallback, and so on; it returns nil once
// the policy has no more candidates to offer.
type HostSelectionPolicy interface {
	Node(qi QueryInfo, i int) *Node
	Name() string
}

// clusterAware is implemented by policies that need the live topology
// snapshot to rank nodes; Cluster calls setSnapshot after every refresh.
type clusterAware interface {
	setSnapshot(*ClusterState)
}

type snapshotHolder struct {
	cs atomic.Value
}

func (h *snapshotHolder) setSnapshot(cs *ClusterState) { h.cs.Store(cs) }

func (h *snapshotHolder) snapshot() *ClusterState {
	v := h.cs.Load()
	if v == nil {
		return nil
	}
	return v.(*ClusterState)
}

// RoundRobinPolicy cycles through every known node, ignoring topology and
// token hints entirely.
type RoundRobinPolicy struct {
	snapshotHolder
	next atomic.Uint64
}

func NewRoundRobinPolicy() HostSelectionPolicy { return &RoundRobinPolicy{} }

func (p *RoundRobinPolicy) Name() string { return "round_robin" }

func (p *RoundRobinPolicy) Node(qi QueryInfo, i int) *Node {
	cs := p.snapshot()
	if cs == nil {
		return nil
	}
	nodes := cs.AllNodes()
	if len(nodes) == 0 || i >= len(nodes) {
		return nil
	}
	start := int(p.next.Inc())
	return nodes[(start+i)%len(nodes)]
}

// DCAwareRoundRobinPolicy prefers nodes in localDC, tried rack-first when
// localRack is set, falling back to every other datacenter once localDC is
// exhausted.
type DCAwareRoundRobinPolicy struct {
	snapshotHolder
	localDC   string
	localRack string
	next      atomic.Uint64
}

func NewDCAwareRoundRobin(localDC string) HostSelectionPolicy {
	return &DCAwareRoundRobinPolicy{localDC: localDC}
}

// NewDCAwareRoundRobinWithRack is NewDCAwareRoundRobin's rack-aware
// counterpart: nodes sharing both localDC and localRack rank first, the rest
// of localDC second, every other datacenter last.
func NewDCAwareRoundRobinWithRack(localDC, localRack string) HostSelectionPolicy {
	return &DCAwareRoundRobinPolicy{localDC: localDC, localRack: localRack}
}

func (p *DCAwareRoundRobinPolicy) Name() string { return "dc_aware_round_robin" }

func (p *DCAwareRoundRobinPolicy) Node(qi QueryInfo, i int) *Node {
	cs := p.snapshot()
	if cs == nil {
		return nil
	}
	var sameRack, sameDC, remote []*Node
	for _, n := range cs.AllNodes() {
		switch {
		case n.datacenter == p.localDC && p.localRack != "" && n.rack == p.localRack:
			sameRack = append(sameRack, n)
		case n.datacenter == p.localDC:
			sameDC = append(sameDC, n)
		default:
			remote = append(remote, n)
		}
	}
	// Rotate within each tier so an earlier tier always ranks first.
	start := int(p.next.Inc())
	var ordered []*Node
	for _, tier := range [][]*Node{sameRack, sameDC, remote} {
		for j := range tier {
			ordered = append(ordered, tier[(start+j)%len(tier)])
		}
	}
	if i >= len(ordered) {
		return nil
	}
	return ordered[i]
}

// TokenAwarePolicy prefers the natural replicas of a token-aware query's
// partition key, in ring order starting from the primary replica, falling
// back to an underlying policy once replicas are exhausted. Replicas are
// looked up per qi.keyspace against the cluster's own keyspace metadata
// (ClusterState.NaturalReplicas), so a cluster with several keyspaces on
// different strategies/RFs is routed correctly for each of them.
type TokenAwarePolicy struct {
	snapshotHolder
	fallback HostSelectionPolicy

	// defaultStrategy is consulted only when the snapshot has no metadata
	// for qi.keyspace yet (e.g. a query against a keyspace created after
	// the last topology refresh); nil means fall through to fallback.
	defaultStrategy ReplicationStrategy
}

// NewTokenAwarePolicy routes token-aware queries by each keyspace's actual
// replication strategy, as reported by system_schema.keyspaces.
func NewTokenAwarePolicy(fallback HostSelectionPolicy) HostSelectionPolicy {
	return &TokenAwarePolicy{fallback: fallback}
}

// NewSimpleTokenAwarePolicy is NewTokenAwarePolicy plus a fixed replication
// factor used only as a stand-in for a keyspace the cluster snapshot
// doesn't know about yet.
func NewSimpleTokenAwarePolicy(fallback HostSelectionPolicy, rf int) HostSelectionPolicy {
	return &TokenAwarePolicy{fallback: fallback, defaultStrategy: SimpleStrategy{ReplicationFactor: rf}}
}

// NewNetworkTopologyTokenAwarePolicy is NewSimpleTokenAwarePolicy's
// NetworkTopologyStrategy counterpart, for multi-DC deployments.
func NewNetworkTopologyTokenAwarePolicy(fallback HostSelectionPolicy, dcRf map[string]int) HostSelectionPolicy {
	return &TokenAwarePolicy{fallback: fallback, defaultStrategy: NetworkTopologyStrategy{FactorByDC: dcRf}}
}

func (p *TokenAwarePolicy) Name() string { return "token_aware(" + p.fallback.Name() + ")" }

func (p *TokenAwarePolicy) setSnapshot(cs *ClusterState) {
	p.snapshotHolder.setSnapshot(cs)
	if ca, ok := p.fallback.(clusterAware); ok {
		ca.setSnapshot(cs)
	}
}

func (p *TokenAwarePolicy) Node(qi QueryInfo, i int) *Node {
	cs := p.snapshot()
	if cs == nil || !qi.tokenAware || len(cs.Ring) == 0 {
		return p.fallback.Node(qi, i)
	}

	replicas := cs.NaturalReplicas(qi.keyspace, qi.token)
	if replicas == nil && p.defaultStrategy != nil {
		primary := cs.Ring.tokenLowerBound(qi.token)
		replicas = p.defaultStrategy.NaturalReplicas(cs.Ring, primary)
	}
	if i < len(replicas) {
		return replicas[i]
	}
	return p.fallback.Node(qi, i-len(replicas))
}

// ShardAwarePolicy wraps another policy and deprioritizes a candidate node
// whose shard-exact connection for this query's token is currently down.
// Node.Conn already falls back silently to that node's least-busy
// connection when the target shard slot is nil, which without this wrapper
// means a down shard slot routes every token-aware query to the right node
// but the wrong shard until that slot reconnects; ShardAwarePolicy instead
// tries every other ranked candidate with a healthy shard-exact connection
// first, only falling through to a degraded one once those are exhausted.
type ShardAwarePolicy struct {
	fallback HostSelectionPolicy
}

func NewShardAwarePolicy(fallback HostSelectionPolicy) HostSelectionPolicy {
	return &ShardAwarePolicy{fallback: fallback}
}

func (p *ShardAwarePolicy) Name() string { return "shard_aware(" + p.fallback.Name() + ")" }

func (p *ShardAwarePolicy) setSnapshot(cs *ClusterState) {
	if ca, ok := p.fallback.(clusterAware); ok {
		ca.setSnapshot(cs)
	}
}

func (p *ShardAwarePolicy) Node(qi QueryInfo, i int) *Node {
	if !qi.tokenAware {
		return p.fallback.Node(qi, i)
	}

	var ready, degraded []*Node
	for j := 0; ; j++ {
		n := p.fallback.Node(qi, j)
		if n == nil {
			break
		}
		if n.HasShardConnFor(qi.token) {
			ready = append(ready, n)
		} else {
			degraded = append(degraded, n)
		}
	}
	ordered := append(ready, degraded...)
	if i >= len(ordered) {
		return nil
	}
	return ordered[i]
}

// latencyEWMAAlpha weights each new sample against a node's running average,
// the same smoothing TCP's smoothed-RTT estimator uses in place of a
// time-pruned sample window: simpler to keep lock-free, and converges to a
// "recent average" without retaining per-sample timestamps.
const latencyEWMAAlpha = 0.2

// latencyAvoidanceThreshold is how far above the candidate set's median
// latency a node's own average has to climb before LatencyAwarePolicy
// deprioritizes it.
const latencyAvoidanceThreshold = 2.0

// LatencyAwarePolicy wraps another policy, moving a candidate node to the
// back of the ranking once its recent average request latency climbs past
// latencyAvoidanceThreshold times the candidate set's median — a node that's
// merely slow is still better than one with no connection at all, so it is
// reordered rather than dropped.
type LatencyAwarePolicy struct {
	fallback HostSelectionPolicy
	ewma     sync.Map // *Node -> *atomic.Float64, nanoseconds
}

func NewLatencyAwarePolicy(fallback HostSelectionPolicy) HostSelectionPolicy {
	return &LatencyAwarePolicy{fallback: fallback}
}

func (p *LatencyAwarePolicy) Name() string { return "latency_aware(" + p.fallback.Name() + ")" }

func (p *LatencyAwarePolicy) setSnapshot(cs *ClusterState) {
	if ca, ok := p.fallback.(clusterAware); ok {
		ca.setSnapshot(cs)
	}
}

// ObserveLatency folds one request's duration against n into its running
// average. The executor calls this after every successful request; a failed
// request carries no useful latency signal and is not recorded.
func (p *LatencyAwarePolicy) ObserveLatency(n *Node, d time.Duration) {
	v, _ := p.ewma.LoadOrStore(n, new(atomic.Float64))
	avg := v.(*atomic.Float64)
	sample := float64(d)
	for {
		old := avg.Load()
		next := sample
		if old != 0 {
			next = latencyEWMAAlpha*sample + (1-latencyEWMAAlpha)*old
		}
		if avg.CAS(old, next) {
			return
		}
	}
}

func (p *LatencyAwarePolicy) latency(n *Node) (float64, bool) {
	v, ok := p.ewma.Load(n)
	if !ok {
		return 0, false
	}
	avg := v.(*atomic.Float64).Load()
	return avg, avg > 0
}

func (p *LatencyAwarePolicy) Node(qi QueryInfo, i int) *Node {
	var candidates []*Node
	for j := 0; ; j++ {
		n := p.fallback.Node(qi, j)
		if n == nil {
			break
		}
		candidates = append(candidates, n)
	}
	if i >= len(candidates) {
		return nil
	}

	var latencies []float64
	for _, n := range candidates {
		if l, ok := p.latency(n); ok {
			latencies = append(latencies, l)
		}
	}
	if len(latencies) == 0 {
		return candidates[i]
	}
	sort.Float64s(latencies)
	median := latencies[len(latencies)/2]

	var fast, slow []*Node
	for _, n := range candidates {
		if l, ok := p.latency(n); ok && l > median*latencyAvoidanceThreshold {
			slow = append(slow, n)
		} else {
			fast = append(fast, n)
		}
	}
	return append(fast, slow...)[i]
}

// LatencyObserver is implemented by a HostSelectionPolicy (or a wrapper
// delegating to one) that wants to hear about request latencies; the
// executor type-asserts the configured policy against it after every
// successful request.
type LatencyObserver interface {
	ObserveLatency(n *Node, d time.Duration)
}
