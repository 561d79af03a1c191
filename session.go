// Package scylla is a CQL binary-protocol driver for Scylla/Cassandra
// clusters: shard-aware connection pooling, token-aware routing, prepared
// statements and paging on top of the transport package's wire codec.
package scylla

import (
	"context"
	"fmt"

	"github.com/scylladb/scylla-go-driver/transport"
)

// EventType names a server-push event a Session can subscribe to.
type EventType = transport.EventType

const (
	TopologyChange = transport.TopologyChange
	StatusChange   = transport.StatusChange
	SchemaChange   = transport.SchemaChange
)

type Consistency = uint16

const (
	ANY         Consistency = 0x0000
	ONE         Consistency = 0x0001
	TWO         Consistency = 0x0002
	THREE       Consistency = 0x0003
	QUORUM      Consistency = 0x0004
	ALL         Consistency = 0x0005
	LOCALQUORUM Consistency = 0x0006
	EACHQUORUM  Consistency = 0x0007
	SERIAL      Consistency = 0x0008
	LOCALSERIAL Consistency = 0x0009
	LOCALONE    Consistency = 0x000A
)

var (
	ErrNoHosts   = fmt.Errorf("error in session config: no hosts given")
	ErrEventType = fmt.Errorf("error in session config: invalid event\npossible events:\n" +
		"TopologyChange EventType = \"TOPOLOGY_CHANGE\"\n" +
		"StatusChange   EventType = \"STATUS_CHANGE\"\n" +
		"SchemaChange   EventType = \"SCHEMA_CHANGE\"")
	ErrConsistency = fmt.Errorf("error in session config: invalid consistency\npossible consistencies are:\n" +
		"ANY         Consistency = 0x0000\n" +
		"ONE         Consistency = 0x0001\n" +
		"TWO         Consistency = 0x0002\n" +
		"THREE       Consistency = 0x0003\n" +
		"QUORUM      Consistency = 0x0004\n" +
		"ALL         Consistency = 0x0005\n" +
		"LOCALQUORUM Consistency = 0x0006\n" +
		"EACHQUORUM  Consistency = 0x0007\n" +
		"SERIAL      Consistency = 0x0008\n" +
		"LOCALSERIAL Consistency = 0x0009\n" +
		"LOCALONE    Consistency = 0x000A")
	errNoConnection = fmt.Errorf("no working connection")
)

// SessionConfig collects everything NewSession needs: contact points, the
// server-push events to subscribe to, and the policies the executor
// consults on every request.
type SessionConfig struct {
	Hosts                []string
	Events               []EventType
	Policy               transport.HostSelectionPolicy
	RetryPolicy          transport.RetryPolicy
	SpeculativeExecution transport.SpeculativeExecutionPolicy
	Logger               transport.Logger
	transport.ConnConfig
}

// DefaultSessionConfig returns a single-DC, round-robin, default-retry
// configuration with speculative execution disabled.
func DefaultSessionConfig(keyspace string, hosts ...string) SessionConfig {
	return SessionConfig{
		Hosts:                hosts,
		Policy:               transport.NewRoundRobinPolicy(),
		RetryPolicy:          transport.DefaultRetryPolicy{},
		SpeculativeExecution: transport.NoSpeculativeExecution,
		Logger:               transport.DefaultLogger,
		ConnConfig:           transport.DefaultConnConfig(keyspace),
	}
}

func (cfg SessionConfig) Clone() SessionConfig {
	v := cfg

	v.Hosts = make([]string, len(cfg.Hosts))
	copy(v.Hosts, cfg.Hosts)

	v.Events = make([]EventType, len(cfg.Events))
	copy(v.Events, cfg.Events)

	return v
}

func (cfg *SessionConfig) Validate() error {
	if len(cfg.Hosts) == 0 {
		return ErrNoHosts
	}
	for _, e := range cfg.Events {
		if e != TopologyChange && e != StatusChange && e != SchemaChange {
			return ErrEventType
		}
	}
	if uint16(cfg.DefaultConsistency) > LOCALONE {
		return ErrConsistency
	}
	return nil
}

// Session is a live handle to a cluster: its topology, its policies and the
// connection pools backing them. Safe for concurrent use by multiple
// goroutines, matching the one-session-per-application pattern.
type Session struct {
	cfg     SessionConfig
	cluster *transport.Cluster
}

// NewSession connects to the cluster, discovers its topology and returns a
// ready-to-use Session. ctx bounds the initial connection and topology
// discovery only; it is not retained.
func NewSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	cfg = cfg.Clone()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RetryPolicy == nil {
		cfg.RetryPolicy = transport.DefaultRetryPolicy{}
	}
	if cfg.SpeculativeExecution == nil {
		cfg.SpeculativeExecution = transport.NoSpeculativeExecution
	}
	if cfg.Logger == nil {
		cfg.Logger = transport.DefaultLogger
	}

	cluster, err := transport.NewCluster(ctx, cfg.ConnConfig, cfg.Policy, cfg.Events, cfg.Logger, cfg.Hosts...)
	if err != nil {
		return nil, err
	}

	return &Session{cfg: cfg, cluster: cluster}, nil
}

// Query builds an unprepared statement ready to Exec, Iter or AsyncExec.
func (s *Session) Query(content string) Query {
	return Query{
		session:   s,
		stmt:      transport.Statement{Content: content, Consistency: s.cfg.DefaultConsistency, PageSize: s.cfg.DefaultPageSize},
		exec:      (*transport.Conn).Query,
		asyncExec: (*transport.Conn).AsyncQuery,
	}
}

// Prepare sends PREPARE for content against the least busy connection to
// any node, and returns a Query bound to the resulting server-side handle.
func (s *Session) Prepare(ctx context.Context, content string) (Query, error) {
	stmt := transport.Statement{Content: content, Consistency: s.cfg.DefaultConsistency, PageSize: s.cfg.DefaultPageSize}
	prepared, err := s.prepareStatement(ctx, stmt)
	if err != nil {
		return Query{}, err
	}
	return Query{session: s, stmt: prepared.stmt, exec: prepared.exec, asyncExec: prepared.asyncExec}, nil
}

// preparedExec bundles a freshly-PREPAREd statement with the Conn methods
// that execute it; Query keeps these as plain function values so the same
// Exec/Iter/AsyncExec code path serves both QUERY and EXECUTE statements.
type preparedExec struct {
	stmt      transport.Statement
	exec      func(*transport.Conn, context.Context, transport.Statement, []byte) (transport.QueryResult, error)
	asyncExec func(*transport.Conn, context.Context, transport.Statement, []byte, transport.ResponseHandler)
}

func (s *Session) prepareStatement(ctx context.Context, stmt transport.Statement) (preparedExec, error) {
	n := s.cluster.Policy().Node(transport.NewQueryInfo(), 0)
	if n == nil {
		return preparedExec{}, errNoConnection
	}
	prepared, err := n.Prepare(ctx, stmt)
	if err != nil {
		return preparedExec{}, err
	}
	return preparedExec{
		stmt:      prepared,
		exec:      (*transport.Conn).Execute,
		asyncExec: (*transport.Conn).AsyncExecute,
	}, nil
}

// handleAutoAwaitSchemaAgreement refreshes cluster topology/schema metadata
// right away when res reports a schema change, instead of waiting for the
// control connection's own SCHEMA_CHANGE event to arrive.
func (s *Session) handleAutoAwaitSchemaAgreement(ctx context.Context, content string, res *transport.QueryResult) error {
	if !res.SchemaChange {
		return nil
	}
	if err := s.cluster.Refresh(ctx); err != nil {
		s.cfg.Logger.Printf("session: schema refresh after %q failed: %v", content, err)
	}
	return nil
}

func NewRoundRobinPolicy() transport.HostSelectionPolicy {
	return transport.NewRoundRobinPolicy()
}

func NewTokenAwarePolicy() transport.HostSelectionPolicy {
	return transport.NewTokenAwarePolicy(transport.NewRoundRobinPolicy())
}

func NewSimpleTokenAwarePolicy(rf int) transport.HostSelectionPolicy {
	return transport.NewSimpleTokenAwarePolicy(transport.NewRoundRobinPolicy(), rf)
}

func NewNetworkTopologyTokenAwarePolicy(dcRf map[string]int) transport.HostSelectionPolicy {
	return transport.NewNetworkTopologyTokenAwarePolicy(transport.NewRoundRobinPolicy(), dcRf)
}

func NewDCAwareRoundRobinPolicy(localDC string) transport.HostSelectionPolicy {
	return transport.NewDCAwareRoundRobin(localDC)
}

func NewDCAwareRoundRobinPolicyWithRack(localDC, localRack string) transport.HostSelectionPolicy {
	return transport.NewDCAwareRoundRobinWithRack(localDC, localRack)
}

// NewShardAwarePolicy wraps fallback so that a candidate node whose
// shard-exact connection for the query's token is currently down ranks after
// every candidate that can serve the token on the right shard.
func NewShardAwarePolicy(fallback transport.HostSelectionPolicy) transport.HostSelectionPolicy {
	return transport.NewShardAwarePolicy(fallback)
}

// NewLatencyAwarePolicy wraps fallback so that a candidate node whose recent
// average request latency has climbed well past its peers ranks last instead
// of first.
func NewLatencyAwarePolicy(fallback transport.HostSelectionPolicy) transport.HostSelectionPolicy {
	return transport.NewLatencyAwarePolicy(fallback)
}

func (s *Session) Close() {
	s.cfg.Logger.Println("session: close")
	s.cluster.Close()
}
