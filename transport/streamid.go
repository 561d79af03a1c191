package transport

import (
	"fmt"
	"math/bits"

	"go.uber.org/atomic"

	"github.com/scylladb/scylla-go-driver/frame"
)

// maxStreams is the 15-bit stream-ID space capacity.
const maxStreams = 1 << 15

// streamIDAllocator hands out free.StreamID values from a fixed-capacity
// bitset, each bit flipped with an atomic instruction so a stream ID is
// allocated/freed exactly once even if callers race.
type streamIDAllocator struct {
	bits [maxStreams / 64]atomic.Uint64
	// next is a hint for where to resume the scan, not a correctness
	// requirement: it just keeps Alloc roughly round-robin instead of
	// always re-scanning from bit 0.
	next atomic.Uint32
}

var errNoFreeStreamID = fmt.Errorf("transport: no free stream ID: %d in-flight requests already", maxStreams)

// Alloc reserves and returns a free stream ID, or errNoFreeStreamID if all
// maxStreams IDs are currently in flight.
func (s *streamIDAllocator) Alloc() (frame.StreamID, error) {
	start := int(s.next.Load()) % maxStreams
	wordStart := start / 64

	for i := 0; i < len(s.bits); i++ {
		w := (wordStart + i) % len(s.bits)
		for {
			cur := s.bits[w].Load()
			if cur == ^uint64(0) {
				break // word is full, move on
			}
			bit := firstZeroBit(cur)
			if s.bits[w].CAS(cur, cur|(1<<uint(bit))) {
				id := w*64 + bit
				s.next.Store(uint32((id + 1) % maxStreams))
				return frame.StreamID(id), nil
			}
			// Lost the race against a concurrent Alloc on the same word; retry.
		}
	}
	return 0, errNoFreeStreamID
}

// Free releases a stream ID back to the pool. Freeing an ID twice, or one
// never allocated, is a caller bug but is harmless here (it just clears an
// already-clear bit).
func (s *streamIDAllocator) Free(id frame.StreamID) {
	w := int(id) / 64
	bit := uint(int(id) % 64)
	for {
		cur := s.bits[w].Load()
		if s.bits[w].CAS(cur, cur&^(1<<bit)) {
			return
		}
	}
}

func firstZeroBit(w uint64) int {
	// The lowest set bit of the complement is the first free (zero) bit.
	return bits.TrailingZeros64(^w)
}
