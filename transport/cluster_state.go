package transport

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/scylladb/scylla-go-driver/frame"
)

// TableMetadata is a table's column layout plus partition and clustering
// key positions.
type TableMetadata struct {
	Keyspace           string
	Name               string
	Columns            []string
	PartitionKeyIndices []int
	ClusteringKeyIndices []int
	Partitioner        string
}

// ReplicationStrategy computes a keyspace's natural replica set for a token,
// given the ring. Both strategies below are deterministic from ring +
// replication options.
type ReplicationStrategy interface {
	// NaturalReplicas returns, for a primary-replica ring position, the
	// ordered set of nodes replicating that token under this strategy.
	NaturalReplicas(ring Ring, primary int) []*Node
}

// SimpleStrategy replicates to the next ReplicationFactor distinct nodes
// walking the ring clockwise from the primary, ignoring topology.
type SimpleStrategy struct {
	ReplicationFactor int
}

func (s SimpleStrategy) NaturalReplicas(ring Ring, primary int) []*Node {
	if len(ring) == 0 {
		return nil
	}
	seen := make(map[*Node]bool, s.ReplicationFactor)
	var out []*Node
	for i := 0; i < len(ring) && len(out) < s.ReplicationFactor; i++ {
		n := ring[(primary+i)%len(ring)].node
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// NetworkTopologyStrategy replicates per-datacenter replication factors,
// walking the ring and honoring rack diversity within each DC before
// repeating a rack.
type NetworkTopologyStrategy struct {
	FactorByDC map[string]int
}

func (s NetworkTopologyStrategy) NaturalReplicas(ring Ring, primary int) []*Node {
	if len(ring) == 0 {
		return nil
	}
	type dcState struct {
		want        int
		got         []*Node
		racksSeen   map[string]bool
		rackSkipped []*Node // nodes from an already-seen rack, used once DCs run out of fresh racks
	}
	states := make(map[string]*dcState, len(s.FactorByDC))
	for dc, rf := range s.FactorByDC {
		if rf > 0 {
			states[dc] = &dcState{want: rf, racksSeen: map[string]bool{}}
		}
	}

	remaining := len(states)
	seen := make(map[*Node]bool)
	for i := 0; i < len(ring) && remaining > 0; i++ {
		n := ring[(primary+i)%len(ring)].node
		if seen[n] {
			continue
		}
		st, ok := states[n.datacenter]
		if !ok || len(st.got) >= st.want {
			continue
		}
		if !st.racksSeen[n.rack] {
			st.racksSeen[n.rack] = true
			seen[n] = true
			st.got = append(st.got, n)
			if len(st.got) == st.want {
				remaining--
			}
		} else {
			st.rackSkipped = append(st.rackSkipped, n)
		}
	}

	// Second pass: DCs short on distinct racks fill the rest from
	// already-seen racks, in ring order.
	for _, st := range states {
		for _, n := range st.rackSkipped {
			if len(st.got) >= st.want {
				break
			}
			if !seen[n] {
				seen[n] = true
				st.got = append(st.got, n)
			}
		}
	}

	// seen holds exactly the chosen replicas; emit them in ring order from
	// the primary.
	var out []*Node
	for i := 0; i < len(ring) && len(out) < len(seen); i++ {
		if n := ring[(primary+i)%len(ring)].node; seen[n] {
			seen[n] = false
			out = append(out, n)
		}
	}
	return out
}

// parseReplicationStrategy builds a ReplicationStrategy from a keyspace's
// system_schema.keyspaces.replication map, e.g.
// {'class': 'SimpleStrategy', 'replication_factor': '3'} or
// {'class': 'NetworkTopologyStrategy', 'dc1': '3', 'dc2': '2'}. An
// unrecognized or missing class falls back to a single-replica
// SimpleStrategy rather than failing the whole refresh.
func parseReplicationStrategy(repl map[string]string) ReplicationStrategy {
	class := repl["class"]
	// The class is reported either bare or fully qualified
	// (org.apache.cassandra.locator.SimpleStrategy); only the suffix matters.
	if i := strings.LastIndexByte(class, '.'); i >= 0 {
		class = class[i+1:]
	}

	switch class {
	case "NetworkTopologyStrategy":
		dcRf := make(map[string]int, len(repl)-1)
		for k, v := range repl {
			if k == "class" {
				continue
			}
			if rf, err := strconv.Atoi(v); err == nil {
				dcRf[k] = rf
			}
		}
		return NetworkTopologyStrategy{FactorByDC: dcRf}
	case "SimpleStrategy":
		rf, _ := strconv.Atoi(repl["replication_factor"])
		if rf <= 0 {
			rf = 1
		}
		return SimpleStrategy{ReplicationFactor: rf}
	default:
		return SimpleStrategy{ReplicationFactor: 1}
	}
}

// KeyspaceMetadata is a keyspace's replication strategy plus its tables.
type KeyspaceMetadata struct {
	Name         string
	Strategy     ReplicationStrategy
	Tables       map[string]*TableMetadata
}

// ClusterState is the immutable topology snapshot: node map, token ring,
// keyspace metadata. It is published publish-once/read-many; readers keep
// the snapshot they captured for the lifetime of their request.
type ClusterState struct {
	Nodes           map[string]*Node // keyed by host UUID string
	Ring            Ring
	Keyspaces       map[string]*KeyspaceMetadata
	PartitionerName string
}

// ComputeToken hashes pkValues the way ComputeTokenPreserialized does for an
// already-serialized buffer. Each value is serialized with a nil declared
// type: TableMetadata records partition-key column names, not their types.
func (cs *ClusterState) ComputeToken(keyspace, table string, pkValues ...frame.Serializer) (Token, error) {
	tm, err := cs.table(keyspace, table)
	if err != nil {
		return 0, err
	}
	if len(pkValues) != len(tm.PartitionKeyIndices) {
		return 0, &PartitionKeyCountMismatchError{
			Keyspace: keyspace, Table: table,
			Received: len(pkValues), Expected: len(tm.PartitionKeyIndices),
		}
	}

	partitioner, ok := PartitionerByName(tm.Partitioner)
	if !ok {
		return 0, &PartitionKeyError{Reason: "unknown partitioner: " + tm.Partitioner}
	}

	if len(pkValues) == 1 {
		_, b, err := pkValues[0].Serialize(nil)
		if err != nil {
			return 0, err
		}
		return partitioner.Hash(b), nil
	}

	var buf frame.Buffer
	for _, v := range pkValues {
		_, b, err := v.Serialize(nil)
		if err != nil {
			return 0, err
		}
		buf.WriteShort(frame.Short(len(b)))
		buf.Write(b)
		buf.WriteByte(0)
	}
	return partitioner.Hash(buf.Bytes()), nil
}

// ComputeTokenPreserialized computes the token for already-serialized values
// representing exactly the table's partition key, in column-declared order.
// It is the preserialized counterpart of ComputeToken and must agree with
// it bit-for-bit.
func (cs *ClusterState) ComputeTokenPreserialized(keyspace, table string, pk []frame.Value) (Token, error) {
	tm, err := cs.table(keyspace, table)
	if err != nil {
		return 0, err
	}
	if len(pk) != len(tm.PartitionKeyIndices) {
		return 0, &PartitionKeyCountMismatchError{
			Keyspace: keyspace, Table: table,
			Received: len(pk), Expected: len(tm.PartitionKeyIndices),
		}
	}

	partitioner, ok := PartitionerByName(tm.Partitioner)
	if !ok {
		return 0, &PartitionKeyError{Reason: "unknown partitioner: " + tm.Partitioner}
	}

	if len(pk) == 1 {
		return partitioner.Hash(pk[0].Bytes), nil
	}

	var buf frame.Buffer
	for _, v := range pk {
		buf.WriteShort(frame.Short(len(v.Bytes)))
		buf.Write(v.Bytes)
		buf.WriteByte(0)
	}
	return partitioner.Hash(buf.Bytes()), nil
}

func (cs *ClusterState) table(keyspace, table string) (*TableMetadata, error) {
	ks, ok := cs.Keyspaces[keyspace]
	if !ok {
		return nil, fmt.Errorf("transport: unknown keyspace %q", keyspace)
	}
	tm, ok := ks.Tables[table]
	if !ok {
		return nil, fmt.Errorf("transport: unknown table %q.%q", keyspace, table)
	}
	return tm, nil
}

// NaturalReplicas returns keyspace's ordered replica set for token, per its
// replication strategy.
func (cs *ClusterState) NaturalReplicas(keyspace string, token Token) []*Node {
	ks, ok := cs.Keyspaces[keyspace]
	if !ok || len(cs.Ring) == 0 {
		return nil
	}
	primary := cs.Ring.tokenLowerBound(token)
	return ks.Strategy.NaturalReplicas(cs.Ring, primary)
}

// AllNodes returns every known node, deduplicated and in a stable order
// (host UUID), for policies that need a flat candidate list rather than a
// per-token ring walk.
func (cs *ClusterState) AllNodes() []*Node {
	ids := make([]string, 0, len(cs.Nodes))
	for id := range cs.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	nodes := make([]*Node, len(ids))
	for i, id := range ids {
		nodes[i] = cs.Nodes[id]
	}
	return nodes
}

// sortRing sorts ring entries by token, required before using
// tokenLowerBound: ring tokens must be strictly increasing modulo wrap.
func sortRing(ring Ring) {
	sort.Sort(ring)
}
