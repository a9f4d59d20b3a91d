package sgd

import (
	"encoding/binary"
	"math"
)

// A Hasher is a SampleList which can produce a hash for
// each of its samples.
type Hasher interface {
	SampleList
	Hash(i int) []byte
}

// HashSplit moves every sample whose hash falls below
// leftRatio, read as a fraction of the hash space, to the
// front of h and returns both sides.
// A sample lands on the same side however h is ordered.
func HashSplit(h Hasher, leftRatio float64) (left, right SampleList) {
	if leftRatio <= 0 {
		return h.Slice(0, 0), h
	} else if leftRatio >= 1 {
		return h, h.Slice(0, 0)
	}
	n := 0
	for i := 0; i < h.Len(); i++ {
		if hashFraction(h.Hash(i)) < leftRatio {
			h.Swap(n, i)
			n++
		}
	}
	return h.Slice(0, n), h.Slice(n, h.Len())
}

// hashFraction maps the first eight bytes of a hash, zero
// padded, into [0, 1].
func hashFraction(hash []byte) float64 {
	var buf [8]byte
	copy(buf[:], hash)
	return math.Ldexp(float64(binary.BigEndian.Uint64(buf[:])), -64)
}
