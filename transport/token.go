package transport

import (
	"encoding/binary"
	"math/bits"
)

// Token is a signed 64-bit value on Scylla/Cassandra's circular token ring;
// order is plain signed-integer comparison, wrapping at MinToken/MaxToken.
type Token int64

const (
	MinToken Token = -1 << 63
	MaxToken Token = (1 << 63) - 1
)

// Less orders tokens on the ring.
func (t Token) Less(o Token) bool { return t < o }

// Partitioner maps serialized partition-key bytes to a Token.
type Partitioner interface {
	Name() string
	Hash(pk []byte) Token
}

// Murmur3Partitioner is the default Scylla/Cassandra partitioner: MurmurHash3
// x64 128-bit with seed 0, the first 64-bit lane cast to a signed Token.
type Murmur3Partitioner struct{}

func (Murmur3Partitioner) Name() string { return "org.apache.cassandra.dht.Murmur3Partitioner" }

func (Murmur3Partitioner) Hash(pk []byte) Token {
	return Token(murmur3H1(pk))
}

// CDCPartitioner is a pass-through partitioner used for CDC log tables: the
// token is simply the first 8 bytes of the partition key, big-endian.
type CDCPartitioner struct{}

func (CDCPartitioner) Name() string { return "com.scylladb.dht.CDCPartitioner" }

func (CDCPartitioner) Hash(pk []byte) Token {
	if len(pk) < 8 {
		return 0
	}
	return Token(int64(binary.BigEndian.Uint64(pk[:8])))
}

// MurmurToken hashes pk with the default partitioner. Most tables use
// Murmur3Partitioner, so callers that don't carry per-table partitioner
// metadata can call this directly instead of going through PartitionerByName.
func MurmurToken(pk []byte) Token {
	return Token(murmur3H1(pk))
}

// PartitionerByName resolves a partitioner class name as reported by a
// table's metadata. An unknown name yields (nil, false); callers must then
// treat the statement as not token-aware.
func PartitionerByName(name string) (Partitioner, bool) {
	switch name {
	case "", "org.apache.cassandra.dht.Murmur3Partitioner":
		return Murmur3Partitioner{}, true
	case "com.scylladb.dht.CDCPartitioner":
		return CDCPartitioner{}, true
	default:
		return nil, false
	}
}

// murmur3H1 computes the 128-bit x64 MurmurHash3 (seed 0) of data and
// returns its first 64-bit lane, bit-for-bit identical to Cassandra/Scylla's
// own Murmur3Partitioner implementation (and to gocql's).
func murmur3H1(data []byte) uint64 {
	const (
		c1 = 0x87c37b91114253d5
		c2 = 0x4cf5ad432745937f
	)

	length := len(data)
	var h1, h2 uint64

	nblocks := length / 16
	for i := 0; i < nblocks; i++ {
		k1 := binary.LittleEndian.Uint64(data[i*16:])
		k2 := binary.LittleEndian.Uint64(data[i*16+8:])

		k1 *= c1
		k1 = bits.RotateLeft64(k1, 31)
		k1 *= c2
		h1 ^= k1

		h1 = bits.RotateLeft64(h1, 27)
		h1 += h2
		h1 = h1*5 + 0x52dce729

		k2 *= c2
		k2 = bits.RotateLeft64(k2, 33)
		k2 *= c1
		h2 ^= k2

		h2 = bits.RotateLeft64(h2, 31)
		h2 += h1
		h2 = h2*5 + 0x38495ab5
	}

	// Tail bytes are sign-extended, matching Cassandra's signed-byte reads.
	var tail [15]uint64
	for i, b := range data[nblocks*16:] {
		tail[i] = uint64(int8(b))
	}
	var k1, k2 uint64
	switch length & 15 {
	case 15:
		k2 ^= uint64(tail[14]) << 48
		fallthrough
	case 14:
		k2 ^= uint64(tail[13]) << 40
		fallthrough
	case 13:
		k2 ^= uint64(tail[12]) << 32
		fallthrough
	case 12:
		k2 ^= uint64(tail[11]) << 24
		fallthrough
	case 11:
		k2 ^= uint64(tail[10]) << 16
		fallthrough
	case 10:
		k2 ^= uint64(tail[9]) << 8
		fallthrough
	case 9:
		k2 ^= uint64(tail[8])
		k2 *= c2
		k2 = bits.RotateLeft64(k2, 33)
		k2 *= c1
		h2 ^= k2
		fallthrough
	case 8:
		k1 ^= uint64(tail[7]) << 56
		fallthrough
	case 7:
		k1 ^= uint64(tail[6]) << 48
		fallthrough
	case 6:
		k1 ^= uint64(tail[5]) << 40
		fallthrough
	case 5:
		k1 ^= uint64(tail[4]) << 32
		fallthrough
	case 4:
		k1 ^= uint64(tail[3]) << 24
		fallthrough
	case 3:
		k1 ^= uint64(tail[2]) << 16
		fallthrough
	case 2:
		k1 ^= uint64(tail[1]) << 8
		fallthrough
	case 1:
		k1 ^= uint64(tail[0])
		k1 *= c1
		k1 = bits.RotateLeft64(k1, 31)
		k1 *= c2
		h1 ^= k1
	}

	h1 ^= uint64(length)
	h2 ^= uint64(length)

	h1 += h2
	h2 += h1

	h1 = fmix64(h1)
	h2 = fmix64(h2)

	h1 += h2
	//nolint:staticcheck // h2 is folded into h1 above; kept for symmetry with
	// the canonical 128-bit algorithm this is derived from.
	h2 += h1

	return h1
}

func fmix64(k uint64) uint64 {
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	k *= 0xc4ceb9fe1a85ec53
	k ^= k >> 33
	return k
}
