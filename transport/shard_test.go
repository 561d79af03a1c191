package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardLayoutIsShardAware(t *testing.T) {
	assert.False(t, ShardLayout{NrShards: 0}.IsShardAware())
	assert.False(t, ShardLayout{NrShards: 1}.IsShardAware())
	assert.True(t, ShardLayout{NrShards: 2}.IsShardAware())
}

func TestShardForNotShardAwareAlwaysZero(t *testing.T) {
	sl := ShardLayout{NrShards: 1}
	assert.EqualValues(t, 0, sl.ShardFor(Token(12345)))
}

func TestShardForDistributesAcrossShards(t *testing.T) {
	sl := ShardLayout{NrShards: 4}

	// Wrapping multiples of 0x9E3779B97F4A7C15 spread over the whole ring.
	seen := map[uint16]bool{}
	for i := int64(0); i < 1000; i++ {
		shard := sl.ShardFor(Token(i * -7046029254386353131))
		assert.Less(t, shard, uint16(4))
		seen[shard] = true
	}
	assert.Len(t, seen, 4)
}

func TestShardForIgnoresMSBBits(t *testing.T) {
	base := ShardLayout{NrShards: 8}
	ignoring := ShardLayout{NrShards: 8, IgnoreMSBBits: 12}

	// Tokens differing only in bits that get shifted out past IgnoreMSBBits
	// land on the same shard, while the layout without it tells them apart.
	a, b := Token(1), Token(1)|Token(1)<<62
	assert.Equal(t, ignoring.ShardFor(a), ignoring.ShardFor(b))
	assert.NotEqual(t, base.ShardFor(a), base.ShardFor(b))
	assert.Less(t, base.ShardFor(Token(1)), uint16(8))
	assert.Less(t, ignoring.ShardFor(Token(1)), uint16(8))
}

func TestShardPortIteratorYieldsCongruentPorts(t *testing.T) {
	si := ShardInfo{NrShards: 3, Shard: 1}
	next := ShardPortIterator(si)

	for i := 0; i < 10; i++ {
		p := next()
		assert.GreaterOrEqual(t, int(p), minPort)
		assert.LessOrEqual(t, int(p), maxPort)
		assert.EqualValues(t, si.Shard%si.NrShards, p%si.NrShards)
	}
}

func TestShardPortIteratorWrapsAround(t *testing.T) {
	si := ShardInfo{NrShards: 1, Shard: 0}
	next := ShardPortIterator(si)

	first := next()
	for i := 0; i < maxPort-minPort; i++ {
		next()
	}
	// After wrapping, the sequence resumes from the same first port.
	assert.Equal(t, first, next())
}
