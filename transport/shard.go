package transport

import "math/bits"

// ShardLayout describes a node's per-core sharding layout, as advertised by
// the SCYLLA_NR_SHARDS/SCYLLA_SHARDING_IGNORE_MSB/SCYLLA_SHARD_AWARE_PORT
// SUPPORTED extensions. NrShards == 1 means the node is not shard-aware
// (vanilla Cassandra, or sharding disabled).
type ShardLayout struct {
	NrShards          uint16
	IgnoreMSBBits     uint8
	ShardAwarePort    uint16
	ShardAwarePortSSL uint16
}

func (sl ShardLayout) IsShardAware() bool { return sl.NrShards > 1 }

// ShardFor returns the shard that owns t, using Scylla's bias + ignore-MSB +
// 128-bit-multiply-high-bits formula, matching the server bit-for-bit:
// biased := uint64(t) XOR signBit, shifted left by IgnoreMSBBits, then
// shard = (biased * NrShards) >> 64.
func (sl ShardLayout) ShardFor(t Token) uint16 {
	if !sl.IsShardAware() {
		return 0
	}
	biased := uint64(t) ^ signBit
	biased <<= sl.IgnoreMSBBits
	hi, _ := bits.Mul64(biased, uint64(sl.NrShards))
	return uint16(hi)
}

const signBit = uint64(1) << 63

// minPort/maxPort bound the ephemeral local-port range the driver tries when
// dialing a shard-aware port and steering the assigned shard via local port
// selection.
const (
	minPort = 0xc000
	maxPort = 0xffff
)

// ShardInfo names the shard a connection should land on, for
// OpenShardConn/ShardPortIterator: NrShards is the node's total shard count,
// Shard is the one this connection must be steered to.
type ShardInfo struct {
	NrShards uint16
	Shard    uint16
}

// ShardPortIterator returns a function that yields successive candidate
// local ports congruent to si.Shard modulo si.NrShards, so that the server's
// shard-aware listener (which assigns shards round-robin by local port)
// lands the connection on the desired shard.
func ShardPortIterator(si ShardInfo) func() uint16 {
	nrShards := int(si.NrShards)
	if nrShards == 0 {
		nrShards = 1
	}
	desired := int(si.Shard) % nrShards
	first := minPort + ((desired - minPort%nrShards + nrShards) % nrShards)
	next := first
	return func() uint16 {
		p := next
		next += nrShards
		if next > maxPort {
			next = first
		}
		return uint16(p)
	}
}
