package transport

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/scylladb/scylla-go-driver/frame"
)

// EventType names a server-push event a Cluster can REGISTER for.
type EventType = string

const (
	TopologyChange EventType = "TOPOLOGY_CHANGE"
	StatusChange   EventType = "STATUS_CHANGE"
	SchemaChange   EventType = "SCHEMA_CHANGE"
)

var localQuery = Statement{
	Content:     "SELECT host_id, data_center, rack, tokens, partitioner FROM system.local WHERE key='local'",
	Consistency: frame.ONE,
}

var peersQuery = Statement{
	Content:     "SELECT peer, host_id, data_center, rack, tokens FROM system.peers",
	Consistency: frame.ONE,
}

// keyspacesQuery fetches each keyspace's replication map alongside its name,
// so fetchKeyspaces can build the actual ReplicationStrategy TokenAwarePolicy
// routes by instead of assuming one fixed strategy for the whole cluster.
var keyspacesQuery = Statement{
	Content:     "SELECT keyspace_name, replication FROM system_schema.keyspaces",
	Consistency: frame.ONE,
}

var columnsQuery = Statement{
	Content:     "SELECT keyspace_name, table_name, column_name, kind, position FROM system_schema.columns",
	Consistency: frame.ONE,
}

// Cluster owns cluster topology discovery and its control connection: it
// queries system.local/system.peers/system_schema.* on startup and whenever
// a TOPOLOGY_CHANGE/STATUS_CHANGE/SCHEMA_CHANGE event arrives, rebuilds the
// token ring and keyspace metadata, and publishes the result to policy as an
// atomic snapshot.
type Cluster struct {
	cfg    ConnConfig
	policy HostSelectionPolicy
	events []EventType
	logger Logger

	mu          sync.RWMutex
	nodes       map[string]*Node // keyed by host_id
	controlAddr string
	control     *Conn

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewCluster dials hosts until one accepts a control connection, performs an
// initial topology refresh, registers for events and starts the background
// refresh loop.
func NewCluster(ctx context.Context, cfg ConnConfig, policy HostSelectionPolicy, events []EventType, logger Logger, hosts ...string) (*Cluster, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("transport: no contact points given")
	}
	if logger == nil {
		logger = DefaultLogger
	}

	c := &Cluster{
		cfg:     cfg,
		policy:  policy,
		events:  events,
		logger:  logger,
		nodes:   make(map[string]*Node),
		closeCh: make(chan struct{}),
	}

	var lastErr error
	for _, addr := range hosts {
		if err := c.openControl(ctx, addr); err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, fmt.Errorf("transport: no contact point reachable: %w", lastErr)
	}

	if err := c.refresh(ctx); err != nil {
		c.control.Close()
		return nil, fmt.Errorf("transport: initial topology refresh: %w", err)
	}

	if len(events) > 0 {
		evCh := c.control.registerEvents()
		if err := c.control.Register(events); err != nil {
			c.control.Close()
			return nil, fmt.Errorf("transport: register events: %w", err)
		}
		c.wg.Add(1)
		go c.eventLoop(evCh)
	}

	return c, nil
}

func (c *Cluster) openControl(ctx context.Context, addr string) error {
	conn, err := OpenConn(addr, nil, c.cfg)
	if err != nil {
		return err
	}
	if err := conn.Handshake(ctx, c.cfg); err != nil {
		conn.Close()
		return err
	}
	conn.OnFatal(func(err error) {
		c.logger.Printf("transport: control connection to %s lost: %v", addr, err)
		go c.reconnectControl(addr)
	})
	c.control = conn
	c.controlAddr = addr
	return nil
}

func (c *Cluster) reconnectControl(lastAddr string) {
	ctx := context.Background()
	hosts := []string{lastAddr}
	c.mu.RLock()
	for _, n := range c.nodes {
		hosts = append(hosts, n.addr)
	}
	c.mu.RUnlock()

	for _, addr := range hosts {
		select {
		case <-c.closeCh:
			return
		default:
		}
		if err := c.openControl(ctx, addr); err != nil {
			continue
		}
		if err := c.refresh(ctx); err != nil {
			c.logger.Printf("transport: topology refresh after control reconnect failed: %v", err)
		}
		if len(c.events) > 0 {
			evCh := c.control.registerEvents()
			if err := c.control.Register(c.events); err == nil {
				c.wg.Add(1)
				go c.eventLoop(evCh)
			}
		}
		return
	}
	c.logger.Printf("transport: no contact point reachable for control connection reconnect")
}

// eventLoop refreshes the whole topology on any push event; a single refresh
// naturally coalesces a burst of events arriving together.
func (c *Cluster) eventLoop(evCh chan Response) {
	defer c.wg.Done()
	for {
		select {
		case <-c.closeCh:
			return
		case _, ok := <-evCh:
			if !ok {
				return
			}
			if err := c.refresh(context.Background()); err != nil {
				c.logger.Printf("transport: topology refresh on event failed: %v", err)
			}
		}
	}
}

// Policy returns the host-selection policy, kept up to date with every
// refresh.
func (c *Cluster) Policy() HostSelectionPolicy { return c.policy }

// Refresh re-runs topology and schema discovery immediately, rather than
// waiting for the next push event. The executor calls this after a
// SCHEMA_CHANGE result so a schema-dependent statement issued right after
// does not race the control connection's own event delivery.
func (c *Cluster) Refresh(ctx context.Context) error {
	return c.refresh(ctx)
}

// Close tears down every node's connection pool, the control connection and
// stops the event loop.
func (c *Cluster) Close() {
	close(c.closeCh)
	c.control.Close()

	c.mu.Lock()
	nodes := c.nodes
	c.nodes = nil
	c.mu.Unlock()
	for _, n := range nodes {
		n.Close()
	}

	c.wg.Wait()
}

// NewQueryInfo builds a QueryInfo for a statement with no usable partition
// key.
func NewQueryInfo() QueryInfo { return QueryInfo{} }

// NewTokenAwareQueryInfo builds a QueryInfo that steers a HostSelectionPolicy
// toward token's natural replicas within keyspace.
func NewTokenAwareQueryInfo(token Token, keyspace string) QueryInfo {
	return QueryInfo{token: token, tokenAware: true, keyspace: keyspace}
}

// refresh re-queries system.local/system.peers and system_schema.*, rebuilds
// the ring and keyspace metadata, spins up pools for newly-seen nodes, tears
// down pools for nodes that vanished, and publishes the resulting snapshot.
func (c *Cluster) refresh(ctx context.Context) error {
	localRes, err := c.control.Query(ctx, localQuery, nil)
	if err != nil {
		return fmt.Errorf("query system.local: %w", err)
	}
	peersRes, err := c.control.Query(ctx, peersQuery, nil)
	if err != nil {
		return fmt.Errorf("query system.peers: %w", err)
	}

	type peerInfo struct {
		hostID      string
		addr        string
		datacenter  string
		rack        string
		tokens      []string
		partitioner string
	}
	var peers []peerInfo

	if len(localRes.Rows) > 0 {
		row := localRes.Rows[0]
		p := peerInfo{addr: c.controlAddr}
		if len(row) > 0 {
			if id, err := row[0].AsUUID(); err == nil {
				p.hostID = id.String()
			}
		}
		if len(row) > 1 {
			p.datacenter, _ = row[1].AsText()
		}
		if len(row) > 2 {
			p.rack, _ = row[2].AsText()
		}
		if len(row) > 3 {
			p.tokens, _ = row[3].AsTextList()
		}
		if len(row) > 4 {
			p.partitioner, _ = row[4].AsText()
		}
		peers = append(peers, p)
	}

	for _, row := range peersRes.Rows {
		if len(row) < 5 {
			continue
		}
		p := peerInfo{}
		if ip, err := row[0].AsInetAddr(); err == nil {
			port := "9042"
			if _, hp, err := net.SplitHostPort(c.controlAddr); err == nil {
				port = hp
			}
			p.addr = net.JoinHostPort(ip.String(), port)
		}
		if id, err := row[1].AsUUID(); err == nil {
			p.hostID = id.String()
		}
		p.datacenter, _ = row[2].AsText()
		p.rack, _ = row[3].AsText()
		p.tokens, _ = row[4].AsTextList()
		peers = append(peers, p)
	}

	partitionerName := "org.apache.cassandra.dht.Murmur3Partitioner"
	for _, p := range peers {
		if p.partitioner != "" {
			partitionerName = p.partitioner
		}
	}
	if _, ok := PartitionerByName(partitionerName); !ok {
		return fmt.Errorf("unknown partitioner %q", partitionerName)
	}

	c.mu.RLock()
	existing := c.nodes
	c.mu.RUnlock()

	nodes := make(map[string]*Node, len(peers))
	var newNodes []*Node
	var ring Ring
	for _, p := range peers {
		if p.hostID == "" {
			continue
		}
		n, ok := existing[p.hostID]
		if !ok {
			id, _ := uuid.Parse(p.hostID)
			n = &Node{hostID: id, addr: p.addr, datacenter: p.datacenter, rack: p.rack}
			newNodes = append(newNodes, n)
		} else {
			n.datacenter, n.rack = p.datacenter, p.rack
		}
		nodes[p.hostID] = n

		for _, t := range p.tokens {
			tok, err := strconv.ParseInt(t, 10, 64)
			if err != nil {
				continue
			}
			ring = append(ring, RingEntry{node: n, token: Token(tok)})
		}
	}
	sortRing(ring)

	// Dial new nodes and retire vanished ones outside the lock: both open
	// and close connections over the network.
	for _, n := range newNodes {
		n.Init(ctx, c.cfg)
	}
	var gone []*Node
	for id, n := range existing {
		if _, ok := nodes[id]; !ok {
			gone = append(gone, n)
		}
	}

	c.mu.Lock()
	c.nodes = nodes
	c.mu.Unlock()

	for _, n := range gone {
		n.Close()
	}

	var up, down float64
	for _, n := range nodes {
		if n.IsUp() {
			up++
		} else {
			down++
		}
	}
	Metrics.nodesUp.Set(up)
	Metrics.nodesDown.Set(down)

	keyspaces, err := c.fetchKeyspaces(ctx, partitionerName)
	if err != nil {
		return err
	}

	cs := &ClusterState{
		Nodes:           nodes,
		Ring:            ring,
		Keyspaces:       keyspaces,
		PartitionerName: partitionerName,
	}

	if ca, ok := c.policy.(clusterAware); ok {
		ca.setSnapshot(cs)
	}
	return nil
}

func (c *Cluster) fetchKeyspaces(ctx context.Context, partitionerName string) (map[string]*KeyspaceMetadata, error) {
	ksRes, err := c.control.Query(ctx, keyspacesQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("query system_schema.keyspaces: %w", err)
	}
	colRes, err := c.control.Query(ctx, columnsQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("query system_schema.columns: %w", err)
	}

	keyspaces := make(map[string]*KeyspaceMetadata, len(ksRes.Rows))
	for _, row := range ksRes.Rows {
		if len(row) < 1 {
			continue
		}
		name, err := row[0].AsText()
		if err != nil {
			continue
		}
		strategy := ReplicationStrategy(SimpleStrategy{ReplicationFactor: 1})
		if len(row) > 1 {
			if repl, err := row[1].AsTextMap(); err == nil && repl != nil {
				strategy = parseReplicationStrategy(repl)
			}
		}
		km := &KeyspaceMetadata{Name: name, Strategy: strategy, Tables: map[string]*TableMetadata{}}
		keyspaces[name] = km
	}

	for _, row := range colRes.Rows {
		if len(row) < 5 {
			continue
		}
		ks, err := row[0].AsText()
		if err != nil {
			continue
		}
		table, err := row[1].AsText()
		if err != nil {
			continue
		}
		column, err := row[2].AsText()
		if err != nil {
			continue
		}
		kind, err := row[3].AsText()
		if err != nil {
			continue
		}
		position, _ := row[4].AsInt()

		km, ok := keyspaces[ks]
		if !ok {
			// system_schema.columns named a keyspace system_schema.keyspaces
			// didn't return; the two queries raced against a concurrent
			// CREATE KEYSPACE. Its replication map is unknown until the next
			// refresh, so fall back to a single replica rather than drop the
			// table's column layout entirely.
			km = &KeyspaceMetadata{Name: ks, Strategy: SimpleStrategy{ReplicationFactor: 1}, Tables: map[string]*TableMetadata{}}
			keyspaces[ks] = km
		}
		tm, ok := km.Tables[table]
		if !ok {
			tm = &TableMetadata{Keyspace: ks, Name: table, Partitioner: partitionerName}
			km.Tables[table] = tm
		}
		tm.Columns = append(tm.Columns, column)
		switch kind {
		case "partition_key":
			tm.PartitionKeyIndices = append(tm.PartitionKeyIndices, int(position))
		case "clustering":
			tm.ClusteringKeyIndices = append(tm.ClusteringKeyIndices, int(position))
		}
	}

	for _, km := range keyspaces {
		for _, tm := range km.Tables {
			sort.Ints(tm.PartitionKeyIndices)
			sort.Ints(tm.ClusteringKeyIndices)
		}
	}

	return keyspaces, nil
}
