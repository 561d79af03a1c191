package response

import (
	"strconv"

	"github.com/scylladb/scylla-go-driver/frame"
)

var _ frame.Response = (*Supported)(nil)

// Shard-aware extension option names advertised in SUPPORTED.
const (
	OptionScyllaShard             = "SCYLLA_SHARD"
	OptionScyllaNrShards          = "SCYLLA_NR_SHARDS"
	OptionScyllaPartitioner       = "SCYLLA_PARTITIONER"
	OptionScyllaShardingAlgorithm = "SCYLLA_SHARDING_ALGORITHM"
	OptionScyllaShardingIgnoreMSB = "SCYLLA_SHARDING_IGNORE_MSB"
	OptionScyllaShardAwarePort    = "SCYLLA_SHARD_AWARE_PORT"
	OptionScyllaShardAwarePortSSL = "SCYLLA_SHARD_AWARE_PORT_SSL"
)

// Supported carries the server's supported options, including Scylla's
// shard-aware extensions, in reply to OPTIONS.
type Supported struct {
	Options frame.StringMultiMap
}

func (*Supported) OpCode() frame.OpCode { return frame.OpSupported }

func ParseSupported(b *frame.Buffer) *Supported {
	return &Supported{Options: b.ReadStringMultiMap()}
}

func (s *Supported) first(key string) (string, bool) {
	v, ok := s.Options[key]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// ShardCount returns the node's per-core shard count, defaulting to 1 for a
// non-shard-aware node (vanilla Cassandra, or Scylla with sharding disabled).
func (s *Supported) ShardCount() uint16 {
	v, ok := s.first(OptionScyllaNrShards)
	if !ok {
		return 1
	}
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		return 1
	}
	return uint16(n)
}

// Shard returns the shard this connection landed on, if the node advertised one.
func (s *Supported) Shard() (uint16, bool) {
	v, ok := s.first(OptionScyllaShard)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(n), true
}

// ShardAwarePort returns the dedicated shard-aware listening port, if any.
func (s *Supported) ShardAwarePort(tls bool) (uint16, bool) {
	key := OptionScyllaShardAwarePort
	if tls {
		key = OptionScyllaShardAwarePortSSL
	}
	v, ok := s.first(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(n), true
}

// Partitioner returns the node-advertised partitioner class name, if any.
func (s *Supported) Partitioner() (string, bool) {
	return s.first(OptionScyllaPartitioner)
}

// IgnoreMSB returns SCYLLA_SHARDING_IGNORE_MSB, the number of most
// significant token bits ignored by the sharding hash, defaulting to 12.
func (s *Supported) IgnoreMSB() uint8 {
	v, ok := s.first(OptionScyllaShardingIgnoreMSB)
	if !ok {
		return 12
	}
	n, err := strconv.ParseUint(v, 10, 8)
	if err != nil {
		return 12
	}
	return uint8(n)
}

// Compressions returns the algorithms the server can negotiate at STARTUP.
func (s *Supported) Compressions() []string {
	return s.Options["COMPRESSION"]
}
