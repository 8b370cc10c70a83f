// Package entropy provides the single seedable random stream shared by every
// stochastic call site of a run. A zero seed is replaced with one drawn from
// crypto/rand so unseeded runs still record the seed they actually used.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	mrand "math/rand"
)

// Stream is one run's random source. It is not safe for concurrent use;
// a run is single-threaded and owns exactly one Stream.
type Stream struct {
	seed int64
	rng  *mrand.Rand
}

// NewStream creates a stream from seed. A seed of 0 picks a random one.
func NewStream(seed int64) *Stream {
	if seed == 0 {
		seed = cryptoSeed()
	}
	return &Stream{
		seed: seed,
		rng:  mrand.New(mrand.NewSource(seed)),
	}
}

// Seed returns the seed the stream was created with.
func (s *Stream) Seed() int64 {
	return s.seed
}

// Float64 returns a value in [0, 1).
func (s *Stream) Float64() float64 {
	return s.rng.Float64()
}

// Uniform returns a value in [lo, hi).
func (s *Stream) Uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

// Normal returns a normally distributed value.
func (s *Stream) Normal(mean, stddev float64) float64 {
	return mean + s.rng.NormFloat64()*stddev
}

// Intn returns a value in [0, n). n must be positive.
func (s *Stream) Intn(n int) int {
	return s.rng.Intn(n)
}

// Bernoulli returns true with probability p.
func (s *Stream) Bernoulli(p float64) bool {
	return s.rng.Float64() < p
}

// cryptoSeed draws a non-zero seed from crypto/rand.
func cryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// This should never happen; fall back to a fixed seed.
		return 1
	}
	seed := int64(binary.LittleEndian.Uint64(buf[:]) & math.MaxInt64)
	if seed == 0 {
		return 1
	}
	return seed
}
